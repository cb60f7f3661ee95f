// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package tensor

import "math"

// NegInf is the most negative finite float32, used as -infinity for masking
// in attention and log-softmax without producing NaN on subtraction.
const NegInf = -float32(math.MaxFloat32)

// Exp computes exp(x) for a float32 argument.
func Exp(x float32) float32 { return float32(math.Exp(float64(x))) }

// Sqrt computes sqrt(x); non-positive inputs map to 0.
func Sqrt(x float32) float32 {
	if x <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(x)))
}

// Pow computes base^exp for a positive base.
func Pow(base, exp float32) float32 {
	return float32(math.Pow(float64(base), float64(exp)))
}

// Tanh computes the hyperbolic tangent.
func Tanh(x float32) float32 { return float32(math.Tanh(float64(x))) }

// Cos computes cos(x).
func Cos(x float32) float32 { return float32(math.Cos(float64(x))) }

// IsFinite reports whether x is neither NaN nor ±Inf.
func IsFinite(x float32) bool {
	f := float64(x)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// LogSumExp computes log(sum_i exp(x_i)) with max-subtraction for stability.
//
//	lse(x) = max(x) + log(sum_i exp(x_i - max(x)))
func LogSumExp(xs []float32) float32 {
	if len(xs) == 0 {
		return NegInf
	}
	_, maxVal := Argmax(xs)
	if maxVal == NegInf {
		return NegInf
	}
	sum := float64(0)
	for _, x := range xs {
		sum += math.Exp(float64(x - maxVal))
	}
	return maxVal + float32(math.Log(sum))
}

// SoftmaxInPlace replaces xs with softmax(xs).
//
//	p_i = exp(x_i - max(x)) / sum_j exp(x_j - max(x))
func SoftmaxInPlace(xs []float32) {
	if len(xs) == 0 {
		return
	}
	_, maxVal := Argmax(xs)
	sum := float32(0)
	for i, x := range xs {
		e := Exp(x - maxVal)
		xs[i] = e
		sum += e
	}
	if sum == 0 {
		return
	}
	inv := 1 / sum
	for i := range xs {
		xs[i] *= inv
	}
}

// LogSoftmaxInto writes log_softmax(src) into dst (same length).
//
//	log p_i = x_i - lse(x)
func LogSoftmaxInto(dst, src []float32) {
	lse := LogSumExp(src)
	for i, x := range src {
		if x == NegInf {
			dst[i] = NegInf
			continue
		}
		dst[i] = x - lse
	}
}

// Dot returns sum_i a_i * b_i.
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("dot: length mismatch")
	}
	s := float32(0)
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Axpy computes y += alpha * x.
func Axpy(alpha float32, x, y []float32) {
	for i := range x {
		y[i] += alpha * x[i]
	}
}
