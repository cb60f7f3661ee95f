// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package layer

import (
	"fmt"
	"math/rand"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// Bilinear scores every candidate of a set against one query vector:
//
//	score[n, c] = cand[n, c, :]^T W query[n, :] + b
//
// W has shape [candDim, queryDim]; b is a scalar. Computed as
// u_n = W @ query_n followed by a dot product per candidate, so the
// query projection is shared across the C candidates.
type Bilinear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	candDim  int
	queryDim int

	lastCand  *tensor.Tensor
	lastQuery *tensor.Tensor
	lastU     *tensor.Tensor // [N, candDim]
}

// NewBilinear creates a scorer initialized with N(0, 1/sqrt(candDim)).
func NewBilinear(candDim, queryDim int, rng *rand.Rand) *Bilinear {
	std := tensor.Sqrt(1.0 / float32(candDim))
	return &Bilinear{
		weight:   tensor.RandnWithStd(tensor.NewShape(candDim, queryDim), std, rng),
		bias:     tensor.New(tensor.NewShape(1)),
		candDim:  candDim,
		queryDim: queryDim,
	}
}

// Score computes [N, C] compatibilities for candidates [N, C, candDim] and
// queries [N, queryDim].
func (l *Bilinear) Score(cand, query *tensor.Tensor) *tensor.Tensor {
	cd, qd := cand.Shape().DimsRef(), query.Shape().DimsRef()
	if len(cd) != 3 || len(qd) != 2 || cd[0] != qd[0] || cd[2] != l.candDim || qd[1] != l.queryDim {
		panic(fmt.Sprintf("bilinear shape mismatch: cand %v query %v", cand.Shape(), query.Shape()))
	}
	n, c := cd[0], cd[1]
	u := tensor.MatmulTransposedB(query, l.weight) // [N, candDim]
	out := tensor.New(tensor.NewShape(n, c))
	b := l.bias.DataPtr()[0]
	for i := 0; i < n; i++ {
		ui := u.Vec(i)
		for j := 0; j < c; j++ {
			out.Set(tensor.Dot(cand.Vec(i, j), ui)+b, i, j)
		}
	}
	l.lastCand, l.lastQuery, l.lastU = cand, query, u
	return out
}

// Backward takes dL/dscore [N, C], accumulates dW and db, and returns
// gradients w.r.t. the candidates [N, C, candDim] and queries [N, queryDim].
func (l *Bilinear) Backward(gradScore *tensor.Tensor) (gradCand, gradQuery *tensor.Tensor) {
	if l.lastCand == nil {
		panic("backward called before forward")
	}
	n, c := gradScore.Shape().At(0), gradScore.Shape().At(1)
	gradCand = tensor.New(l.lastCand.Shape())
	gradU := tensor.New(tensor.NewShape(n, l.candDim))
	db := float32(0)
	for i := 0; i < n; i++ {
		ui, gu := l.lastU.Vec(i), gradU.Vec(i)
		for j := 0; j < c; j++ {
			g := gradScore.At(i, j)
			db += g
			tensor.Axpy(g, ui, gradCand.Vec(i, j))
			tensor.Axpy(g, l.lastCand.Vec(i, j), gu)
		}
	}
	// u = query @ W^T  =>  dW = dU^T @ query, dQuery = dU @ W
	l.weight.AccumulateGrad(tensor.MatmulTransposedA(gradU, l.lastQuery).DataPtr())
	l.bias.AccumulateGrad([]float32{db})
	gradQuery = tensor.Matmul(gradU, l.weight)
	return gradCand, gradQuery
}

// Parameters returns W and b.
func (l *Bilinear) Parameters() []*tensor.Tensor { return []*tensor.Tensor{l.weight, l.bias} }

// Weight exposes W [candDim, queryDim].
func (l *Bilinear) Weight() *tensor.Tensor { return l.weight }
