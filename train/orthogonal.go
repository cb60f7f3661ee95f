// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// OrthMode selects which per-step vectors the penalty is applied to.
type OrthMode int

const (
	// HiddenStatesOnly penalizes the raw decoder states.
	HiddenStatesOnly OrthMode = iota
	// HiddenStatesAndRepresentations adds an independent second pass over
	// the target representations.
	HiddenStatesAndRepresentations
)

// DefaultNormOrder is the Frobenius norm, used when Orthogonality.Order is 0.
const DefaultNormOrder = 2.0

// ValidNormOrder reports whether order is a supported matrix norm:
// 1 (max column sum), 2 (Frobenius) or +Inf (max row sum).
func ValidNormOrder(order float64) bool {
	return order == 1 || order == 2 || math.IsInf(order, 1)
}

// Orthogonality pushes the decoder states at keyphrase boundaries of one
// example towards an orthonormal set:
//
//	penalty(M) = || M^T M - I ||    M = [v_1 ... v_n] stacked as columns
//
// Per-example penalties are summed and divided by the number of examples
// with at least one non-pad target step, then scaled by Coef.
type Orthogonality struct {
	Coef    float32
	Align   Alignment
	Mode    OrthMode
	Order   float64 // 0 selects DefaultNormOrder
	Markers Markers
	PadID   int
}

// OrthResult is the penalty of one batch and its gradients. Gradients are
// nil when nothing contributed.
type OrthResult struct {
	Loss           float32
	Contributing   int // examples with >= 2 aligned vectors, summed over passes
	Denominator    int
	GradHidden     *tensor.Tensor // [B, T, H]
	GradTargetRepr *tensor.Tensor // [B, T, Hr], second pass only
}

// Compute evaluates the penalty for target tokens trg [B][T].
func (o *Orthogonality) Compute(trg [][]int, out *Output) (OrthResult, error) {
	var res OrthResult
	if o.Coef == 0 {
		return res, nil
	}
	order := o.Order
	if order == 0 {
		order = DefaultNormOrder
	}
	if !ValidNormOrder(order) {
		return res, errors.Errorf("unsupported matrix norm order %v", o.Order)
	}
	for _, row := range trg {
		for _, tok := range row {
			if tok != o.PadID {
				res.Denominator++
				break
			}
		}
	}
	if res.Denominator == 0 {
		return res, nil
	}
	scale := o.Coef / float32(res.Denominator)

	sum, n, grad, err := o.pass(trg, out.Hidden, order)
	if err != nil {
		return OrthResult{}, errors.Wrap(err, "hidden states")
	}
	res.Contributing += n
	if grad != nil {
		grad.ScaleInPlace(scale)
		res.GradHidden = grad
	}
	if o.Mode == HiddenStatesAndRepresentations {
		sum2, n2, grad2, err := o.pass(trg, out.TargetRepr, order)
		if err != nil {
			return OrthResult{}, errors.Wrap(err, "target representations")
		}
		sum += sum2
		res.Contributing += n2
		if grad2 != nil {
			grad2.ScaleInPlace(scale)
			res.GradTargetRepr = grad2
		}
	}
	res.Loss = float32(sum) * scale
	return res, nil
}

func (o *Orthogonality) pass(trg [][]int, states *tensor.Tensor, order float64) (float64, int, *tensor.Tensor, error) {
	dims := states.Shape().DimsRef()
	if len(dims) != 3 || dims[0] != len(trg) {
		return 0, 0, nil, errors.Wrapf(ErrShapeMismatch, "states %v for %d target rows", states.Shape(), len(trg))
	}
	var (
		sum  float64
		n    int
		grad *tensor.Tensor
	)
	for b, row := range trg {
		if len(row) != dims[1] {
			return 0, 0, nil, errors.Wrapf(ErrShapeMismatch, "example %d: %d tokens, %d steps", b, len(row), dims[1])
		}
		positions := AlignedPositions(row, o.Markers, o.Align, o.PadID)
		if len(positions) < 2 {
			continue
		}
		vectors := make([][]float32, len(positions))
		for i, p := range positions {
			vectors[i] = states.Vec(b, p)
		}
		penalty, grads := GramPenalty(vectors, order)
		sum += penalty
		n++
		if grads == nil {
			continue
		}
		if grad == nil {
			grad = tensor.New(states.Shape())
		}
		for i, p := range positions {
			tensor.Axpy(1, grads[i], grad.Vec(b, p))
		}
	}
	return sum, n, grad, nil
}

// GramPenalty returns ||V^T V - I|| for the given columns together with the
// gradient w.r.t. each column. Fewer than two vectors give a zero penalty
// and nil gradients. The gradient is nil wherever the norm is not
// differentiable at zero.
func GramPenalty(vectors [][]float32, order float64) (float64, [][]float32) {
	n := len(vectors)
	if n < 2 {
		return 0, nil
	}
	h := len(vectors[0])
	m := mat.NewDense(h, n, nil)
	for j, v := range vectors {
		for i, x := range v {
			m.Set(i, j, float64(x))
		}
	}
	var d mat.Dense
	d.Mul(m.T(), m)
	for i := 0; i < n; i++ {
		d.Set(i, i, d.At(i, i)-1)
	}
	norm := mat.Norm(&d, order)

	e := normGrad(&d, order, norm)
	if e == nil {
		return norm, nil
	}
	// d||D||/dM = M (E + E^T) with E = d||D||/dD.
	var sym, dm mat.Dense
	sym.Add(e, e.T())
	dm.Mul(m, &sym)
	grads := make([][]float32, n)
	for j := range grads {
		grads[j] = make([]float32, h)
		for i := 0; i < h; i++ {
			grads[j][i] = float32(dm.At(i, j))
		}
	}
	return norm, grads
}

func normGrad(d *mat.Dense, order, norm float64) *mat.Dense {
	if norm == 0 {
		return nil
	}
	n, _ := d.Dims()
	e := mat.NewDense(n, n, nil)
	switch {
	case order == 2:
		e.Scale(1/norm, d)
	case order == 1:
		col := argmaxAbsSum(n, func(i, j int) float64 { return d.At(j, i) })
		for i := 0; i < n; i++ {
			e.Set(i, col, sign(d.At(i, col)))
		}
	case math.IsInf(order, 1):
		row := argmaxAbsSum(n, d.At)
		for j := 0; j < n; j++ {
			e.Set(row, j, sign(d.At(row, j)))
		}
	default:
		panic("unsupported matrix norm order")
	}
	return e
}

// argmaxAbsSum returns the k maximizing sum_j |at(k, j)|.
func argmaxAbsSum(n int, at func(k, j int) float64) int {
	best, bestSum := 0, -1.0
	for k := 0; k < n; k++ {
		s := 0.0
		for j := 0; j < n; j++ {
			s += math.Abs(at(k, j))
		}
		if s > bestSum {
			best, bestSum = k, s
		}
	}
	return best
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
