// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// sgemm computes C = alpha*op(A)@op(B) + beta*C through gonum's blas32.
// A is stored row-major as aRows x aCols, B as bRows x bCols; the trans
// flags select op(X) = X or X^T. Zero-sized products return early because
// blas32 rejects empty General matrices.
func sgemm(transA, transB bool, aRows, aCols int, a []float32, bRows, bCols int, b []float32, alpha, beta float32, cRows, cCols int, c []float32) {
	if aRows == 0 || aCols == 0 || bRows == 0 || bCols == 0 || cRows == 0 || cCols == 0 {
		return
	}
	ta, tb := blas.NoTrans, blas.NoTrans
	if transA {
		ta = blas.Trans
	}
	if transB {
		tb = blas.Trans
	}
	blas32.Gemm(ta, tb, alpha,
		blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: a},
		blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: b},
		beta,
		blas32.General{Rows: cRows, Cols: cCols, Stride: cCols, Data: c},
	)
}

// Matmul computes matrix multiplication C = A @ B.
//
//	C[i,j] = sum_k A[i,k] * B[k,j]
//
// Supports 2D [M,K] x [K,N] -> [M,N] and batched 3D [B,M,K] x [B,K,N] -> [B,M,N].
func Matmul(a, b *Tensor) *Tensor {
	if a.shape.NDim() < 2 || b.shape.NDim() < 2 {
		panic("matmul requires at least 2D tensors")
	}
	aM, aK := a.shape.At(-2), a.shape.At(-1)
	bK, bN := b.shape.At(-2), b.shape.At(-1)
	if aK != bK {
		panic(fmt.Sprintf("matmul dimension mismatch: %d vs %d", aK, bK))
	}

	var batchSize int
	var resultShape Shape
	switch {
	case a.shape.NDim() == 2 && b.shape.NDim() == 2:
		batchSize = 1
		resultShape = NewShape(aM, bN)
	case a.shape.NDim() == 3 && b.shape.NDim() == 3:
		if a.shape.At(0) != b.shape.At(0) {
			panic(fmt.Sprintf("matmul batch mismatch: %d vs %d", a.shape.At(0), b.shape.At(0)))
		}
		batchSize = a.shape.At(0)
		resultShape = NewShape(batchSize, aM, bN)
	default:
		panic("unsupported batch dimensions")
	}

	result := New(resultShape)
	aStride, bStride, cStride := aM*aK, bK*bN, aM*bN
	for batch := 0; batch < batchSize; batch++ {
		aOff, bOff, cOff := batch*aStride, batch*bStride, batch*cStride
		sgemm(false, false,
			aM, aK, a.data[aOff:aOff+aStride],
			bK, bN, b.data[bOff:bOff+bStride],
			1, 0, aM, bN, result.data[cOff:cOff+cStride])
	}
	return result
}

// MatmulTransposedB computes C = A @ B^T without materializing the transpose.
// A: [M, K], B: [N, K] -> C: [M, N]. This is the hot path for Linear.Forward.
func MatmulTransposedB(a, b *Tensor) *Tensor {
	if a.shape.NDim() != 2 || b.shape.NDim() != 2 {
		panic("MatmulTransposedB requires 2D tensors")
	}
	aM, aK := a.shape.At(0), a.shape.At(1)
	bN, bK := b.shape.At(0), b.shape.At(1)
	if aK != bK {
		panic(fmt.Sprintf("matmulT dimension mismatch: %d vs %d", aK, bK))
	}
	result := New(NewShape(aM, bN))
	sgemm(false, true, aM, aK, a.data, bN, bK, b.data, 1, 0, aM, bN, result.data)
	return result
}

// MatmulTransposedA computes C = A^T @ B without materializing the transpose.
// A: [K, M], B: [K, N] -> C: [M, N]. Used for weight gradients dW = g^T @ x.
func MatmulTransposedA(a, b *Tensor) *Tensor {
	if a.shape.NDim() != 2 || b.shape.NDim() != 2 {
		panic("MatmulTransposedA requires 2D tensors")
	}
	aK, aM := a.shape.At(0), a.shape.At(1)
	bK, bN := b.shape.At(0), b.shape.At(1)
	if aK != bK {
		panic(fmt.Sprintf("matmulTA dimension mismatch: %d vs %d", aK, bK))
	}
	result := New(NewShape(aM, bN))
	sgemm(true, false, aK, aM, a.data, bK, bN, b.data, 1, 0, aM, bN, result.data)
	return result
}
