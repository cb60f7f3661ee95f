// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func approx(a, b, tol float32) bool { return float32(math.Abs(float64(a-b))) <= tol }

func TestShape(t *testing.T) {
	s := NewShape(2, 3, 4)
	if s.NDim() != 3 || s.Numel() != 24 {
		t.Fatalf("unexpected ndim/numel %d/%d", s.NDim(), s.Numel())
	}
	if s.At(-1) != 4 || s.At(5) != 0 {
		t.Errorf("At misbehaves: %d %d", s.At(-1), s.At(5))
	}
	x := New(s)
	x.Set(5, 1, 2, 3)
	if x.DataPtr()[23] != 5 || x.Vec(1, 2)[3] != 5 {
		t.Fatalf("row-major offset broken: %v", x.DataPtr())
	}
	if _, rows, width := SplitLast(s.DimsRef()); rows != 6 || width != 4 {
		t.Errorf("SplitLast gave %d x %d", rows, width)
	}
	if !s.WithLast(7).Equal(NewShape(2, 3, 7)) {
		t.Errorf("WithLast gave %v", s.WithLast(7))
	}
	if s.String() != "[2, 3, 4]" {
		t.Errorf("String gave %q", s.String())
	}
}

func TestMatmul(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, NewShape(2, 3))
	b := FromSlice([]float32{7, 8, 9, 10, 11, 12}, NewShape(3, 2))
	got := Matmul(a, b).DataPtr()
	want := []float32{58, 64, 139, 154}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestMatmulTransposedVariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := RandnWithStd(NewShape(3, 4), 1, rng)
	b := RandnWithStd(NewShape(5, 4), 1, rng)

	// A @ B^T against explicit loops.
	got := MatmulTransposedB(a, b)
	for i := 0; i < 3; i++ {
		for j := 0; j < 5; j++ {
			want := Dot(a.Vec(i), b.Vec(j))
			if !approx(got.At(i, j), want, 1e-4) {
				t.Fatalf("A@B^T[%d,%d] = %f, want %f", i, j, got.At(i, j), want)
			}
		}
	}

	// A^T @ C where A: [3,4], C: [3,2] -> [4,2].
	c := RandnWithStd(NewShape(3, 2), 1, rng)
	gotT := MatmulTransposedA(a, c)
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			want := float32(0)
			for k := 0; k < 3; k++ {
				want += a.At(k, i) * c.At(k, j)
			}
			if !approx(gotT.At(i, j), want, 1e-4) {
				t.Fatalf("A^T@C[%d,%d] = %f, want %f", i, j, gotT.At(i, j), want)
			}
		}
	}
}

func TestDetachIsIndependent(t *testing.T) {
	src := FromSlice([]float32{1, 2, 3}, NewShape(3))
	src.AccumulateGrad([]float32{1, 1, 1})
	snap := src.Detach()
	src.DataPtr()[0] = 42
	if snap.At(0) != 1 {
		t.Fatalf("snapshot changed with source: %f", snap.At(0))
	}
	if snap.Grad != nil {
		t.Fatalf("snapshot carries a gradient slot")
	}
}

func TestLogSoftmaxSumsToOne(t *testing.T) {
	src := []float32{1, 2, 3, NegInf}
	dst := make([]float32, len(src))
	LogSoftmaxInto(dst, src)
	sum := float32(0)
	for _, v := range dst {
		sum += Exp(v)
	}
	if !approx(sum, 1, 1e-5) {
		t.Fatalf("probabilities sum to %f", sum)
	}
	if dst[3] != NegInf {
		t.Fatalf("masked entry should stay NegInf, got %f", dst[3])
	}
}

func TestZeroGradKeepsAllocation(t *testing.T) {
	x := Full(NewShape(2), 1)
	x.AccumulateGrad([]float32{3, 4})
	g := x.Grad
	x.ZeroGrad()
	if &x.Grad[0] != &g[0] || x.Grad[0] != 0 || x.Grad[1] != 0 {
		t.Fatalf("ZeroGrad should zero in place, got %v", x.Grad)
	}
}

func TestAllFinite(t *testing.T) {
	x := FromSlice([]float32{1, float32(math.Inf(1))}, NewShape(2))
	if x.AllFinite() {
		t.Fatal("expected non-finite tensor to be detected")
	}
}
