// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

// Occupancy is min(m, capacity) and the survivors are the last pushes in
// push order.
func TestReplayRingInvariant(t *testing.T) {
	const capacity = 3
	r := NewReplayBuffer(capacity, rand.New(rand.NewSource(1)))
	for m := 1; m <= 10; m++ {
		r.Push([]float32{float32(m)})
		want := m
		if want > capacity {
			want = capacity
		}
		if r.Len() != want {
			t.Fatalf("after %d pushes: len %d, want %d", m, r.Len(), want)
		}
		snap := r.Snapshot()
		for i, e := range snap {
			if int(e[0]) != m-len(snap)+1+i {
				t.Fatalf("after %d pushes: snapshot %v", m, snap)
			}
		}
	}
}

func TestReplayPushCopies(t *testing.T) {
	r := NewReplayBuffer(2, rand.New(rand.NewSource(1)))
	v := []float32{1, 2}
	r.Push(v)
	v[0] = 99
	got, err := r.Sample(1)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if got[0][0] != 1 {
		t.Fatalf("buffer aliases pushed slice: %v", got[0])
	}
	got[0][1] = 42
	if r.Snapshot()[0][1] != 2 {
		t.Fatalf("sample aliases stored entry")
	}
}

func TestReplaySamplingExhaustion(t *testing.T) {
	r := NewReplayBuffer(5, rand.New(rand.NewSource(3)))
	for n := 1; n <= 3; n++ {
		if _, err := r.Sample(n); errors.Cause(err) != ErrInsufficientSamples {
			t.Fatalf("empty buffer, n=%d: expected ErrInsufficientSamples, got %v", n, err)
		}
	}
	for i := 0; i < 4; i++ {
		r.Push([]float32{float32(i)})
	}
	if _, err := r.Sample(5); errors.Cause(err) != ErrInsufficientSamples {
		t.Fatalf("expected ErrInsufficientSamples, got %v", err)
	}
	for trial := 0; trial < 50; trial++ {
		got, err := r.Sample(4)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		seen := map[float32]bool{}
		for _, e := range got {
			if e[0] < 0 || e[0] > 3 || seen[e[0]] {
				t.Fatalf("sample %v is not distinct entries of the buffer", got)
			}
			seen[e[0]] = true
		}
	}
}
