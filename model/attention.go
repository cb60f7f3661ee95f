// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package model

import "github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"

// attend computes dot-product attention of query h over the first n encoder
// states of example i. Padded positions get score -Inf and weight 0; an
// empty source yields all-zero weights and a zero context.
//
//	score_s = h . enc_s
//	a       = softmax(score[:n])
//	ctx     = sum_s a_s enc_s
func attend(h []float32, enc *tensor.Tensor, i, n int, scores, attn, ctx []float32) {
	for s := range scores {
		if s < n {
			scores[s] = tensor.Dot(h, enc.Vec(i, s))
		} else {
			scores[s] = tensor.NegInf
		}
		attn[s] = 0
	}
	for j := range ctx {
		ctx[j] = 0
	}
	if n == 0 {
		return
	}
	copy(attn[:n], scores[:n])
	tensor.SoftmaxInPlace(attn[:n])
	for s := 0; s < n; s++ {
		tensor.Axpy(attn[s], enc.Vec(i, s), ctx)
	}
}

// attendBackward propagates dctx into the encoder states and adds the
// softmax gradient to dscores. The score gradient itself is applied by the
// caller together with the copy-path contribution.
func attendBackward(dctx []float32, enc, dEnc *tensor.Tensor, i, n int, attn, dscores []float32) {
	if n == 0 {
		return
	}
	da := make([]float32, n)
	dot := float32(0)
	for s := 0; s < n; s++ {
		da[s] = tensor.Dot(dctx, enc.Vec(i, s))
		dot += attn[s] * da[s]
		tensor.Axpy(attn[s], dctx, dEnc.Vec(i, s))
	}
	for s := 0; s < n; s++ {
		dscores[s] += attn[s] * (da[s] - dot)
	}
}

// copyScores fills dst[j] with the log-sum-exp of the attention scores over
// the source positions whose extended id is base+j. Slots no position maps
// to stay at -Inf and so receive zero probability.
func copyScores(scores []float32, srcExt []int, n, base int, dst []float32) {
	var vals []float32
	for j := range dst {
		vals = vals[:0]
		for s := 0; s < n; s++ {
			if srcExt[s] == base+j {
				vals = append(vals, scores[s])
			}
		}
		dst[j] = tensor.LogSumExp(vals)
	}
}

// copyScoresBackward distributes the slot gradients over the contributing
// source positions: d score_s = d slot_j * exp(score_s - slot_j).
func copyScoresBackward(dslot, slots, scores []float32, srcExt []int, n, base int, dscores []float32) {
	for s := 0; s < n; s++ {
		j := srcExt[s] - base
		if j < 0 || j >= len(dslot) || dslot[j] == 0 || slots[j] == tensor.NegInf {
			continue
		}
		dscores[s] += dslot[j] * tensor.Exp(scores[s]-slots[j])
	}
}
