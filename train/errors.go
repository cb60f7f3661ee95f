// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package train drives multi-objective keyphrase training: the primary
// sequence likelihood plus a contrastive target-encoder loss fed by a replay
// buffer and an orthogonality penalty on decoder states at keyphrase
// boundaries. The Controller owns the epoch/batch loop, gradient clipping,
// validation-triggered checkpointing and early stopping.
//
// The network, evaluator, loader and checkpoint store are collaborators
// reached only through the interfaces in this package.
package train

import (
	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
)

var (
	// ErrInsufficientSamples is returned by ReplayBuffer.Sample when the
	// buffer holds fewer entries than requested. The contrastive loss skips
	// the boundary and never surfaces it.
	ErrInsufficientSamples = errors.New("insufficient samples in replay buffer")

	// ErrNumericInstability marks a non-finite loss or penalty.
	ErrNumericInstability = errors.New("numeric instability")

	// ErrShapeMismatch marks batch or model output arrays that disagree on
	// their dimensions. Always fatal for the batch.
	ErrShapeMismatch = data.ErrShapeMismatch
)
