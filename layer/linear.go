// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	"math/rand"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// Linear is the affine map y = x·Wᵀ + b used by every projection of the
// keyphrase model. W is stored [out, in]; the bias is optional.
type Linear struct {
	weight  *tensor.Tensor
	bias    *tensor.Tensor
	inFeat  int
	outFeat int
	useBias bool
	x       *tensor.Tensor // input of the last Forward
}

// NewLinear draws W from N(0, 1/in) and zeroes the bias.
func NewLinear(inFeatures, outFeatures int, useBias bool, rng *rand.Rand) *Linear {
	std := tensor.Sqrt(1.0 / float32(inFeatures))
	l := &Linear{
		weight:  tensor.RandnWithStd(tensor.NewShape(outFeatures, inFeatures), std, rng),
		inFeat:  inFeatures,
		outFeat: outFeatures,
		useBias: useBias,
	}
	if useBias {
		l.bias = tensor.New(tensor.NewShape(outFeatures))
	}
	return l
}

// Forward maps the last axis of input from in to out features; any leading
// axes ([B, T] or [B]) are flattened into rows.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	l.x = input
	_, rows, _ := tensor.SplitLast(input.Shape().DimsRef())
	y := tensor.MatmulTransposedB(input.Reshape(tensor.NewShape(rows, l.inFeat)), l.weight)
	if l.useBias {
		out := y.DataPtr()
		for r := 0; r < rows; r++ {
			tensor.Axpy(1, l.bias.DataPtr(), out[r*l.outFeat:(r+1)*l.outFeat])
		}
	}
	return y.Reshape(input.Shape().WithLast(l.outFeat))
}

// Backward accumulates dW = gᵀ·x and db = Σ g, and returns dx = g·W.
func (l *Linear) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if l.x == nil {
		panic("layer: Linear.Backward before Forward")
	}
	_, rows, _ := tensor.SplitLast(gradOutput.Shape().DimsRef())
	g := gradOutput.Reshape(tensor.NewShape(rows, l.outFeat))
	l.weight.AccumulateGrad(tensor.MatmulTransposedA(g, l.x.Reshape(tensor.NewShape(rows, l.inFeat))).DataPtr())
	if l.useBias {
		db := l.bias.GradPtr()
		gd := g.DataPtr()
		for r := 0; r < rows; r++ {
			tensor.Axpy(1, gd[r*l.outFeat:(r+1)*l.outFeat], db)
		}
	}
	return tensor.Matmul(g, l.weight).Reshape(l.x.Shape())
}

func (l *Linear) Parameters() []*tensor.Tensor {
	if l.useBias {
		return []*tensor.Tensor{l.weight, l.bias}
	}
	return []*tensor.Tensor{l.weight}
}

// Weight is the [out, in] matrix.
func (l *Linear) Weight() *tensor.Tensor { return l.weight }

func (l *Linear) InFeatures() int { return l.inFeat }
func (l *Linear) OutFeatures() int { return l.outFeat }
