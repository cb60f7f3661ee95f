// SPDX-License-Identifier: CC-BY-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import (
	"sort"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// Sampler picks the next token from a log-probability row over V+K ids.
// Implementations: GreedySampling, TopKSampling.
type Sampler interface {
	PickToken(logProbs []float32) int
}

// GreedySampling always picks the most probable token.
type GreedySampling struct{}

// PickToken returns the argmax.
func (GreedySampling) PickToken(logProbs []float32) int {
	idx, _ := tensor.Argmax(logProbs)
	return idx
}

// TopKSampling samples among the K most probable tokens after scaling by
// 1/Temperature. K <= 0 samples from the full distribution; Temperature
// <= 0 degenerates to greedy.
type TopKSampling struct {
	K           int
	Temperature float32
	State       *uint64 // PRNG state (LCG)
}

// PickToken samples from the top-K tokens.
func (s TopKSampling) PickToken(logProbs []float32) int {
	if s.Temperature <= 0 {
		return GreedySampling{}.PickToken(logProbs)
	}
	indices := make([]int, len(logProbs))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return logProbs[indices[i]] > logProbs[indices[j]]
	})
	if s.K > 0 && s.K < len(indices) {
		indices = indices[:s.K]
	}
	probs := make([]float32, len(indices))
	for i, idx := range indices {
		probs[i] = logProbs[idx] / s.Temperature
	}
	tensor.SoftmaxInPlace(probs)

	r := nextRand01(s.State)
	cum := float32(0)
	for i, p := range probs {
		cum += p
		if r <= cum {
			return indices[i]
		}
	}
	return indices[len(indices)-1]
}

// nextRand01 returns a pseudo-random float32 in [0, 1) using a 64-bit LCG
// with Knuth's MMIX multiplier.
func nextRand01(state *uint64) float32 {
	*state = *state*6364136223846793005 + 1
	return float32(uint32(*state>>32)) / 4294967296.0
}

// Special carries the token ids Decode needs from the vocabulary.
type Special struct {
	BOS, EOS, Unk int
}

// Decode runs the decoder free (no teacher forcing) from BOS for every
// example of b, for at most maxLen steps, stopping at EOS. Returned ids
// live in the extended vocabulary when the copy mechanism is on; a copied
// OOV is fed back to the next step as <unk>.
func (m *Seq2Seq) Decode(b *data.Batch, sp Special, maxLen int, pick Sampler) [][]int {
	mode := b.Mode(m.cfg.CopyAttention)
	hid, v, k := m.cfg.HiddenSize, m.cfg.VocabSize, mode.OOVCount
	srcSteps := b.SrcSeqLen()

	enc, srcRepr := m.encode(b.Src, b.SrcLen)
	srcProj := m.decSrc.Forward(srcRepr)

	scores := make([]float32, srcSteps)
	attn := make([]float32, srcSteps)
	cat := make([]float32, 2*hid)
	row := make([]float32, v+k)
	logp := make([]float32, v+k)

	out := make([][]int, b.Size())
	for i := range out {
		out[i] = []int{}
		var prev []float32
		tok := sp.BOS
		for step := 0; step < maxLen; step++ {
			h := m.decIn.Forward(m.emb.Lookup([][]int{{tok}})).DataPtr()
			tensor.Axpy(1, srcProj.Vec(i), h)
			m.recur(h, prev)

			copy(cat[:hid], h)
			attend(h, enc, i, b.SrcLen[i], scores, attn, cat[hid:])
			o := m.out.Forward(tensor.FromSlice(cat, tensor.NewShape(1, 2*hid)))
			o.TanhInPlace()
			copy(row[:v], m.proj.Forward(o).DataPtr())
			if k > 0 {
				copyScores(scores, b.SrcExt[i], b.SrcLen[i], v, row[v:])
			}
			tensor.LogSoftmaxInto(logp, row)

			next := pick.PickToken(logp)
			if next == sp.EOS {
				break
			}
			out[i] = append(out[i], next)
			tok = next
			if next >= v {
				tok = sp.Unk
			}
			prev = h
		}
	}
	return out
}
