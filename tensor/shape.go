// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package tensor

import (
	"strconv"
	"strings"
)

// Shape lists the extent of each axis. The slice is private so a tensor's
// shape cannot be changed from outside.
type Shape struct{ dims []int }

func NewShape(dims ...int) Shape { return Shape{dims: append([]int(nil), dims...)} }

// Dims returns a copy of the extents.
func (s Shape) Dims() []int { return append([]int(nil), s.dims...) }

// DimsRef returns the extents without copying. Read only.
func (s Shape) DimsRef() []int { return s.dims }

func (s Shape) NDim() int { return len(s.dims) }

// Numel is the element count; a shape with no axes holds nothing.
func (s Shape) Numel() int {
	if len(s.dims) == 0 {
		return 0
	}
	return prod(s.dims)
}

// At returns the extent of axis i, counting from the end when i < 0, and 0
// for an axis that does not exist.
func (s Shape) At(i int) int {
	if i < 0 {
		i += len(s.dims)
	}
	if i < 0 || i >= len(s.dims) {
		return 0
	}
	return s.dims[i]
}

func (s Shape) Equal(o Shape) bool {
	if len(s.dims) != len(o.dims) {
		return false
	}
	for i, d := range s.dims {
		if o.dims[i] != d {
			return false
		}
	}
	return true
}

// String renders the shape as [d0, d1, ...].
func (s Shape) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, d := range s.dims {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(d))
	}
	b.WriteByte(']')
	return b.String()
}

// WithLast keeps the leading axes of s and replaces the last one.
func (s Shape) WithLast(last int) Shape {
	if len(s.dims) == 0 {
		return NewShape(last)
	}
	d := s.Dims()
	d[len(d)-1] = last
	return Shape{dims: d}
}

// SplitLast views dims as a matrix: the leading axes collapse into rows and
// the last axis is the row width. [B, T, H] becomes (B*T, H).
func SplitLast(dims []int) (leading []int, rows int, width int) {
	if len(dims) == 0 {
		panic("tensor: SplitLast of a shape with no axes")
	}
	n := len(dims) - 1
	return dims[:n], prod(dims[:n]), dims[n]
}

func prod(xs []int) int {
	n := 1
	for _, x := range xs {
		n *= x
	}
	return n
}
