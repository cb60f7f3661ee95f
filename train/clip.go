// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/floats"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// GradNorm returns the global L2 norm over every parameter gradient.
func GradNorm(params []*tensor.Tensor) float32 {
	norms := make([]float64, 0, len(params))
	for _, p := range params {
		if len(p.Grad) == 0 {
			continue
		}
		norms = append(norms, float64(blas32.Nrm2(vec(p.Grad))))
	}
	if len(norms) == 0 {
		return 0
	}
	return float32(floats.Norm(norms, 2))
}

// ClipGradNorm rescales all gradients so that their global norm is at most
// maxNorm and reports the norm before and after. Gradients are untouched
// when maxNorm <= 0 or the norm is already within bounds.
//
//	if ||g|| > max:  g = g * max / (||g|| + 1e-6)
func ClipGradNorm(params []*tensor.Tensor, maxNorm float32) (pre, post float32) {
	pre = GradNorm(params)
	if maxNorm <= 0 || pre <= maxNorm {
		return pre, pre
	}
	scale := maxNorm / (pre + 1e-6)
	for _, p := range params {
		if len(p.Grad) > 0 {
			blas32.Scal(scale, vec(p.Grad))
		}
	}
	return pre, GradNorm(params)
}

func vec(xs []float32) blas32.Vector {
	return blas32.Vector{N: len(xs), Inc: 1, Data: xs}
}
