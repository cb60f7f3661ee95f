// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	"math/rand"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// MLP is a stack of Linear layers with tanh between them. The final Linear
// is left linear so its output can feed a bilinear scorer directly.
//
//	MLP(x) = L_n(tanh(L_{n-1}(... tanh(L_1(x)))))
type MLP struct {
	layers []Layer
}

// NewMLP builds an MLP with the given layer widths, e.g. sizes = [in, h, out]
// creates Linear(in,h) -> Tanh -> Linear(h,out).
func NewMLP(sizes []int, rng *rand.Rand) *MLP {
	if len(sizes) < 2 {
		panic("mlp needs at least input and output sizes")
	}
	m := &MLP{}
	for i := 0; i+1 < len(sizes); i++ {
		m.layers = append(m.layers, NewLinear(sizes[i], sizes[i+1], true, rng))
		if i+2 < len(sizes) {
			m.layers = append(m.layers, &Tanh{})
		}
	}
	return m
}

// Forward runs the stack and returns the last layer's output.
func (m *MLP) Forward(input *tensor.Tensor) *tensor.Tensor {
	x := input
	for _, l := range m.layers {
		x = l.Forward(x)
	}
	return x
}

// Backward propagates gradients in reverse layer order.
func (m *MLP) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	g := gradOutput
	for i := len(m.layers) - 1; i >= 0; i-- {
		g = m.layers[i].Backward(g)
	}
	return g
}

// Parameters returns all trainable parameters of the stack.
func (m *MLP) Parameters() []*tensor.Tensor {
	var groups [][]*tensor.Tensor
	for _, l := range m.layers {
		groups = append(groups, l.Parameters())
	}
	return tensor.ConcatParams(groups...)
}
