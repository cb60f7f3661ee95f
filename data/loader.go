// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package data

import (
	"math/rand"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

// Loader is an ordered, exhaustible batch source with a known length.
// Each call to Iterate starts a fresh pass (one epoch).
type Loader interface {
	Len() int
	Iterate() Iterator
}

// Iterator yields batches until exhausted.
type Iterator interface {
	Next() (*Batch, bool)
}

// SliceLoader batches an in-memory slice of encoded examples. With shuffle
// on, every pass draws a new permutation from its own rng.
type SliceLoader struct {
	examples  []Encoded
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	vocab     *vocab.Vocab
}

// NewSliceLoader creates a loader over examples.
func NewSliceLoader(examples []Encoded, v *vocab.Vocab, batchSize int, shuffle bool, seed int64) *SliceLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &SliceLoader{
		examples:  examples,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		vocab:     v,
	}
}

// Len returns the number of batches per pass.
func (l *SliceLoader) Len() int { return (len(l.examples) + l.batchSize - 1) / l.batchSize }

// NumExamples returns the number of examples per pass.
func (l *SliceLoader) NumExamples() int { return len(l.examples) }

// BatchSize returns the configured batch size.
func (l *SliceLoader) BatchSize() int { return l.batchSize }

// Iterate starts a new pass.
func (l *SliceLoader) Iterate() Iterator {
	order := make([]int, len(l.examples))
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return &sliceIterator{loader: l, order: order}
}

type sliceIterator struct {
	loader *SliceLoader
	order  []int
	pos    int
}

func (it *sliceIterator) Next() (*Batch, bool) {
	if it.pos >= len(it.order) {
		return nil, false
	}
	end := it.pos + it.loader.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	group := make([]Encoded, 0, end-it.pos)
	for _, idx := range it.order[it.pos:end] {
		group = append(group, it.loader.examples[idx])
	}
	it.pos = end
	return Collate(group, it.loader.vocab), true
}

// StaticLoader replays a fixed list of batches in order on every pass.
type StaticLoader struct {
	Batches []*Batch
}

// Len returns the number of batches.
func (l *StaticLoader) Len() int { return len(l.Batches) }

// Iterate starts a new pass over the fixed batches.
func (l *StaticLoader) Iterate() Iterator { return &staticIterator{batches: l.Batches} }

type staticIterator struct {
	batches []*Batch
	pos     int
}

func (it *staticIterator) Next() (*Batch, bool) {
	if it.pos >= len(it.batches) {
		return nil, false
	}
	b := it.batches[it.pos]
	it.pos++
	return b, true
}
