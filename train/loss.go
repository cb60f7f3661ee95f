// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// MaskedNLL computes the mean negative log-likelihood of targets under
// logProbs [B, T, V'], skipping every position whose target is padID.
//
//	L = -(1/N) * sum_{(b,t): target != pad} logProbs[b, t, target[b,t]]
//	dL/dlogProbs[b, t, target] = -1/N
//
// N is the number of non-pad positions; with N = 0 the loss is 0.
func MaskedNLL(logProbs *tensor.Tensor, targets [][]int, padID int) (float32, *tensor.Tensor, error) {
	dims := logProbs.Shape().DimsRef()
	if len(dims) != 3 || dims[0] != len(targets) {
		return 0, nil, errors.Wrapf(ErrShapeMismatch, "log probs %v for %d target rows", logProbs.Shape(), len(targets))
	}
	steps, vocabSize := dims[1], dims[2]
	count := 0
	for b, row := range targets {
		if len(row) != steps {
			return 0, nil, errors.Wrapf(ErrShapeMismatch, "example %d: %d targets, %d decoder steps", b, len(row), steps)
		}
		for _, id := range row {
			if id == padID {
				continue
			}
			if id < 0 || id >= vocabSize {
				return 0, nil, errors.Wrapf(ErrShapeMismatch, "example %d: target id %d outside output size %d", b, id, vocabSize)
			}
			count++
		}
	}
	grad := tensor.New(logProbs.Shape())
	if count == 0 {
		return 0, grad, nil
	}
	inv := 1 / float32(count)
	total := float32(0)
	for b, row := range targets {
		for t, id := range row {
			if id == padID {
				continue
			}
			total -= logProbs.Vec(b, t)[id]
			grad.Vec(b, t)[id] = -inv
		}
	}
	return total * inv, grad, nil
}

// PrimaryWeight converts the configured loss scale into the weight of the
// primary loss.
func PrimaryWeight(lossScale float32) float32 { return 1 - lossScale }

// Combine sums the objectives. The auxiliary terms are already scaled by
// their own coefficients.
func Combine(primary, contrastive, orth, primaryWeight float32) float32 {
	return primaryWeight*primary + contrastive + orth
}
