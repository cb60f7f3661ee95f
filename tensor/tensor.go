// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package tensor implements the float32 storage the trainer computes on.
//
// Values are kept row-major in one flat []float32; matrix products go through
// gonum's blas32. A Tensor carries its gradient beside its values, and the
// layer and model packages fill it during their hand-written backward passes.
package tensor

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense row-major float32 array with an optional gradient slot.
// Operations return fresh tensors; methods ending in InPlace mutate the
// receiver.
type Tensor struct {
	data  []float32
	shape Shape
	Grad  []float32 // same length as the data once allocated
}

// New returns a zero tensor of shape s.
func New(s Shape) *Tensor {
	return &Tensor{data: make([]float32, s.Numel()), shape: s}
}

// Full returns a tensor of shape s with every element set to v.
func Full(s Shape, v float32) *Tensor {
	t := New(s)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// FromSlice copies vals into a tensor of shape s.
func FromSlice(vals []float32, s Shape) *Tensor {
	t := FromSliceNoCopy(vals, s)
	t.data = append([]float32(nil), vals...)
	return t
}

// FromSliceNoCopy wraps vals without copying; the tensor owns vals afterwards.
func FromSliceNoCopy(vals []float32, s Shape) *Tensor {
	if len(vals) != s.Numel() {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(vals), s))
	}
	return &Tensor{data: vals, shape: s}
}

// RandnWithStd samples every element from N(0, std²).
func RandnWithStd(s Shape, std float32, rng *rand.Rand) *Tensor {
	t := New(s)
	for i := range t.data {
		t.data[i] = std * float32(rng.NormFloat64())
	}
	return t
}

func (t *Tensor) Shape() Shape { return t.shape }

func (t *Tensor) Len() int { return len(t.data) }

// DataPtr exposes the backing slice. Writes through it change the tensor.
func (t *Tensor) DataPtr() []float32 { return t.data }

// Data returns a copy of the values.
func (t *Tensor) Data() []float32 { return append([]float32(nil), t.data...) }

// ZeroGrad clears an allocated gradient in place. A gradient of the wrong
// length is dropped so the next backward pass allocates a fresh one.
func (t *Tensor) ZeroGrad() {
	if len(t.Grad) != len(t.data) {
		t.Grad = nil
		return
	}
	clear(t.Grad)
}

// AccumulateGrad adds g into the gradient slot.
func (t *Tensor) AccumulateGrad(g []float32) {
	if len(g) != len(t.data) {
		panic(fmt.Sprintf("tensor: gradient of %d values for %d elements", len(g), len(t.data)))
	}
	Axpy(1, g, t.GradPtr())
}

// GradPtr returns the gradient slot, allocating zeros on first use.
func (t *Tensor) GradPtr() []float32 {
	if t.Grad == nil {
		t.Grad = make([]float32, len(t.data))
	}
	return t.Grad
}

// offset maps a full index onto the flat storage, panicking when out of range.
func (t *Tensor) offset(idx []int) int {
	dims := t.shape.dims
	if len(idx) != len(dims) {
		panic(fmt.Sprintf("tensor: %d indices for shape %v", len(idx), t.shape))
	}
	off := 0
	for d, i := range idx {
		if i < 0 || i >= dims[d] {
			panic(fmt.Sprintf("tensor: index %d out of range in dim %d of %v", i, d, t.shape))
		}
		off = off*dims[d] + i
	}
	return off
}

func (t *Tensor) At(idx ...int) float32 { return t.data[t.offset(idx)] }

func (t *Tensor) Set(v float32, idx ...int) { t.data[t.offset(idx)] = v }

// Vec returns the last-axis row selected by the leading indices, so
// Vec(b, i) of a [B, T, H] tensor is the H-vector at step i of example b.
// The row aliases the tensor.
func (t *Tensor) Vec(leading ...int) []float32 {
	n := t.shape.At(-1)
	off := t.offset(append(append([]int(nil), leading...), 0))
	return t.data[off : off+n]
}

// Clone copies the values; the gradient is not carried over.
func (t *Tensor) Clone() *Tensor { return FromSlice(t.data, t.shape) }

// Detach snapshots the values with no gradient slot. Later writes to either
// tensor are invisible to the other.
func (t *Tensor) Detach() *Tensor { return t.Clone() }

// Reshape views the same storage under shape s.
func (t *Tensor) Reshape(s Shape) *Tensor {
	if s.Numel() != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot view %v as %v", t.shape, s))
	}
	return &Tensor{data: t.data, shape: s}
}

func (t *Tensor) mustMatch(o *Tensor) {
	if !t.shape.Equal(o.shape) {
		panic(fmt.Sprintf("tensor: shapes %v and %v differ", t.shape, o.shape))
	}
}

// Add returns t + o.
func (t *Tensor) Add(o *Tensor) *Tensor {
	r := t.Clone()
	r.AddInPlace(o)
	return r
}

func (t *Tensor) AddInPlace(o *Tensor) {
	t.mustMatch(o)
	Axpy(1, o.data, t.data)
}

func (t *Tensor) ScaleInPlace(s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

func (t *Tensor) TanhInPlace() {
	for i, x := range t.data {
		t.data[i] = Tanh(x)
	}
}

// AllFinite reports whether no element is NaN or infinite.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.data {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// Argmax returns the position and value of the largest element of xs.
func Argmax(xs []float32) (int, float32) {
	best := 0
	for i := range xs {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best, xs[best]
}

// ConcatParams flattens parameter groups in order.
func ConcatParams(groups ...[]*Tensor) []*Tensor {
	var out []*Tensor
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
