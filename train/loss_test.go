// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

func TestBoundaryPositions(t *testing.T) {
	m := Markers{Sep: 4, EOS: 2}
	row := []int{5, 4, 6, 4, 7, 2, 0}
	got := BoundaryPositions(row, m)
	want := []int{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	after := AlignedPositions(row, m, AfterBoundary, 0)
	if len(after) != 2 || after[0] != 2 || after[1] != 4 {
		t.Fatalf("after-boundary positions %v, want [2 4]", after)
	}
	if BoundaryPositions([]int{5, 6, 0}, m) != nil {
		t.Errorf("row without markers should have no boundaries")
	}
}

// Padding never contributes, whatever its log-probability.
func TestMaskedNLLIgnoresPad(t *testing.T) {
	logp := tensor.FromSlice([]float32{
		-1, -2, -3,
		-100, -0.5, -4,
	}, tensor.NewShape(1, 2, 3))
	loss, grad, err := MaskedNLL(logp, [][]int{{2, 0}}, 0)
	if err != nil {
		t.Fatalf("nll: %v", err)
	}
	if math.Abs(float64(loss-3)) > 1e-6 {
		t.Fatalf("loss %v, want 3", loss)
	}
	want := []float32{0, 0, -1, 0, 0, 0}
	for i, g := range grad.DataPtr() {
		if g != want[i] {
			t.Fatalf("grad %v, want %v", grad.DataPtr(), want)
		}
	}
}

func TestMaskedNLLRejectsOutOfRangeTarget(t *testing.T) {
	logp := tensor.New(tensor.NewShape(1, 1, 3))
	if _, _, err := MaskedNLL(logp, [][]int{{3}}, 0); errors.Cause(err) != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, _, err := MaskedNLL(logp, [][]int{{1, 1}}, 0); errors.Cause(err) != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch for step mismatch, got %v", err)
	}
}

func TestCombine(t *testing.T) {
	w := PrimaryWeight(0.25)
	if w != 0.75 {
		t.Fatalf("primary weight %v, want 0.75", w)
	}
	if got := Combine(2, 0.5, 0.25, w); got != 2.25 {
		t.Fatalf("combined %v, want 2.25", got)
	}
	if got := Combine(2, 0, 0, PrimaryWeight(0)); got != 2 {
		t.Fatalf("zero loss scale should keep the primary loss, got %v", got)
	}
}
