// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import "github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"

// Tanh is the element-wise hyperbolic tangent activation.
//
//	y = tanh(x),  dy/dx = 1 - y^2
type Tanh struct {
	lastOutput *tensor.Tensor
}

// Forward applies tanh and caches the output for backward.
func (a *Tanh) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := input.Clone()
	out.TanhInPlace()
	a.lastOutput = out
	return out
}

// Backward multiplies the incoming gradient by 1 - y^2.
func (a *Tanh) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if a.lastOutput == nil {
		panic("backward called before forward")
	}
	grad := tensor.New(gradOutput.Shape())
	g, y, dst := gradOutput.DataPtr(), a.lastOutput.DataPtr(), grad.DataPtr()
	for i := range dst {
		dst[i] = g[i] * (1 - y[i]*y[i])
	}
	return grad
}

// Parameters returns nil; the activation has no weights.
func (a *Tanh) Parameters() []*tensor.Tensor { return nil }

// TanhBackward is the stateless form of Tanh.Backward for callers that keep
// the activation output themselves.
func TanhBackward(gradOutput, output []float32) []float32 {
	dst := make([]float32, len(gradOutput))
	for i := range dst {
		dst[i] = gradOutput[i] * (1 - output[i]*output[i])
	}
	return dst
}
