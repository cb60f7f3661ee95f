// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package data turns keyphrase examples into padded, aligned batches and
// serves them to the trainer as an ordered iterator of known length.
package data

import "github.com/pkg/errors"

// ErrShapeMismatch reports a batch whose arrays disagree on the example
// count or on the padded sequence length. It indicates a contract violation
// by the loader or the model and is never recovered.
var ErrShapeMismatch = errors.New("shape mismatch")

// VocabMode selects the output space of the primary loss for one batch:
// the plain vocabulary or the vocabulary extended with the batch's source
// OOV slots (copy mechanism).
type VocabMode struct {
	Extended bool
	OOVCount int
}

// PlainVocabulary is the fixed-vocabulary mode.
func PlainVocabulary() VocabMode { return VocabMode{} }

// ExtendedVocabulary enlarges the output space by oovCount copy slots.
func ExtendedVocabulary(oovCount int) VocabMode {
	return VocabMode{Extended: true, OOVCount: oovCount}
}

// Size returns the output dimension for a base vocabulary size.
func (m VocabMode) Size(base int) int {
	if m.Extended {
		return base + m.OOVCount
	}
	return base
}

// Batch is an ordered tuple of aligned arrays. Every array has one row per
// example; sequences are padded to a common length per batch.
type Batch struct {
	Src           [][]int    // [B][S] source ids, OOV mapped to <unk>
	SrcLen        []int      // [B] unpadded source lengths
	Trg           [][]int    // [B][T] decoder input: <s> + target
	TrgTarget     [][]int    // [B][T] target + </s>, OOV mapped to <unk>
	TrgCopyTarget [][]int    // [B][T] target + </s> in the extended vocabulary
	SrcExt        [][]int    // [B][S] source ids in the extended vocabulary
	OOVLists      [][]string // [B] per-example source OOV tokens
}

// Size returns the number of examples.
func (b *Batch) Size() int { return len(b.Src) }

// SrcSeqLen returns the padded source length S.
func (b *Batch) SrcSeqLen() int {
	if len(b.Src) == 0 {
		return 0
	}
	return len(b.Src[0])
}

// TrgSeqLen returns the padded target length T.
func (b *Batch) TrgSeqLen() int {
	if len(b.Trg) == 0 {
		return 0
	}
	return len(b.Trg[0])
}

// MaxOOV returns the largest per-example OOV list length.
func (b *Batch) MaxOOV() int {
	n := 0
	for _, oov := range b.OOVLists {
		if len(oov) > n {
			n = len(oov)
		}
	}
	return n
}

// Mode decides the vocabulary mode of the batch once: extended with MaxOOV
// slots when the copy mechanism is on, plain otherwise.
func (b *Batch) Mode(copyAttention bool) VocabMode {
	if copyAttention {
		return ExtendedVocabulary(b.MaxOOV())
	}
	return PlainVocabulary()
}

// Targets returns the target view scored by the primary loss under mode.
func (b *Batch) Targets(mode VocabMode) [][]int {
	if mode.Extended {
		return b.TrgCopyTarget
	}
	return b.TrgTarget
}

// Validate checks the batch invariants and returns ErrShapeMismatch with
// the offending array on violation.
func (b *Batch) Validate() error {
	n := len(b.Src)
	if n == 0 {
		return errors.Wrap(ErrShapeMismatch, "empty batch")
	}
	counts := map[string]int{
		"src_len":         len(b.SrcLen),
		"trg":             len(b.Trg),
		"trg_target":      len(b.TrgTarget),
		"trg_copy_target": len(b.TrgCopyTarget),
		"src_ext":         len(b.SrcExt),
		"oov_lists":       len(b.OOVLists),
	}
	for name, c := range counts {
		if c != n {
			return errors.Wrapf(ErrShapeMismatch, "%s has %d examples, src has %d", name, c, n)
		}
	}
	s, t := b.SrcSeqLen(), b.TrgSeqLen()
	for i := 0; i < n; i++ {
		if len(b.Src[i]) != s || len(b.SrcExt[i]) != s {
			return errors.Wrapf(ErrShapeMismatch, "example %d: source rows not padded to %d", i, s)
		}
		if len(b.Trg[i]) != t || len(b.TrgTarget[i]) != t || len(b.TrgCopyTarget[i]) != t {
			return errors.Wrapf(ErrShapeMismatch, "example %d: target rows not padded to %d", i, t)
		}
		if b.SrcLen[i] < 0 || b.SrcLen[i] > s {
			return errors.Wrapf(ErrShapeMismatch, "example %d: source length %d outside [0, %d]", i, b.SrcLen[i], s)
		}
	}
	return nil
}
