// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package layer provides the trainable building blocks of the keyphrase
// model and of its auxiliary heads. Every layer caches what its backward
// pass needs during Forward, so a Forward/Backward pair must not be
// interleaved with another Forward on the same layer.
package layer

import "github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"

// Layer is the common interface for layers with forward/backward passes and
// parameter access (for the optimizer).
type Layer interface {
	Forward(input *tensor.Tensor) *tensor.Tensor
	Backward(gradOutput *tensor.Tensor) *tensor.Tensor
	Parameters() []*tensor.Tensor
}
