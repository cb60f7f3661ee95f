// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"math/rand"

	"github.com/pkg/errors"
)

// ReplayBuffer is a fixed-capacity ring of detached source representations
// used as negatives by the contrastive loss. Once full, each push overwrites
// the oldest entry.
type ReplayBuffer struct {
	capacity int
	entries  [][]float32
	pos      int
	rng      *rand.Rand
}

// NewReplayBuffer creates an empty buffer. Panics if capacity < 1.
func NewReplayBuffer(capacity int, rng *rand.Rand) *ReplayBuffer {
	if capacity < 1 {
		panic("replay buffer capacity must be positive")
	}
	return &ReplayBuffer{
		capacity: capacity,
		entries:  make([][]float32, 0, capacity),
		rng:      rng,
	}
}

// Push stores a copy of vec.
func (r *ReplayBuffer) Push(vec []float32) {
	snapshot := append([]float32(nil), vec...)
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, snapshot)
		return
	}
	r.entries[r.pos] = snapshot
	r.pos = (r.pos + 1) % r.capacity
}

// Sample returns n distinct entries drawn uniformly without replacement.
// The returned slices are copies.
func (r *ReplayBuffer) Sample(n int) ([][]float32, error) {
	if n > len(r.entries) {
		return nil, errors.Wrapf(ErrInsufficientSamples, "want %d, have %d", n, len(r.entries))
	}
	out := make([][]float32, n)
	for i, idx := range r.rng.Perm(len(r.entries))[:n] {
		out[i] = append([]float32(nil), r.entries[idx]...)
	}
	return out, nil
}

// Len returns the current occupancy, at most Cap.
func (r *ReplayBuffer) Len() int { return len(r.entries) }

// Cap returns the capacity.
func (r *ReplayBuffer) Cap() int { return r.capacity }

// mixedWidth reports whether some stored entry does not have width values.
func (r *ReplayBuffer) mixedWidth(width int) bool {
	for _, e := range r.entries {
		if len(e) != width {
			return true
		}
	}
	return false
}

// Snapshot returns copies of the entries in oldest-first order.
func (r *ReplayBuffer) Snapshot() [][]float32 {
	out := make([][]float32, 0, len(r.entries))
	n := len(r.entries)
	start := 0
	if n == r.capacity {
		start = r.pos
	}
	for i := 0; i < n; i++ {
		out = append(out, append([]float32(nil), r.entries[(start+i)%n]...))
	}
	return out
}
