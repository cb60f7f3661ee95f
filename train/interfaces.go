// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"context"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// Output is one forward pass over a batch.
type Output struct {
	LogProbs   *tensor.Tensor // [B, T, V'] with V' = Vocab.Size(V)
	Hidden     *tensor.Tensor // [B, T, H] raw decoder states
	Attention  *tensor.Tensor // [B, T, S]
	SourceRepr *tensor.Tensor // [B, Hs]
	TargetRepr *tensor.Tensor // [B, T, Hr]
	Vocab      data.VocabMode
}

// OutputGrad carries dL/d(output) back into the model. Nil fields receive
// no gradient.
type OutputGrad struct {
	LogProbs   *tensor.Tensor
	Hidden     *tensor.Tensor
	TargetRepr *tensor.Tensor
}

// Projector is a learned vector transform with a manual backward pass.
// layer.MLP satisfies it.
type Projector interface {
	Forward(x *tensor.Tensor) *tensor.Tensor
	Backward(grad *tensor.Tensor) *tensor.Tensor
}

// Scorer scores C candidates against one query per row. layer.Bilinear
// satisfies it.
type Scorer interface {
	// Score maps candidates [N, C, Dc] and queries [N, Dq] to [N, C].
	Score(cand, query *tensor.Tensor) *tensor.Tensor
	Backward(gradScore *tensor.Tensor) (gradCand, gradQuery *tensor.Tensor)
}

// Model is the trainable network. Parameters must include the weights of
// TargetEncoder and Scorer so that they are optimized and checkpointed.
type Model interface {
	Forward(b *data.Batch) (*Output, error)
	// Backward accumulates parameter gradients for the last Forward.
	Backward(g *OutputGrad) error
	Parameters() []*tensor.Tensor
	TargetEncoder() Projector
	Scorer() Scorer
}

// Optimizer is a first-order update over a fixed parameter list.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// EvalOptions configures one evaluation pass.
type EvalOptions struct {
	Split      string // "valid" or "test"
	SavePath   string // prediction artifacts are written here when set
	Epoch      int
	TotalBatch int
}

// Evaluator computes a held-out loss. It must not update weights and never
// sees the replay buffer.
type Evaluator interface {
	Validate(ctx context.Context, m Model, l data.Loader, opts EvalOptions) (float64, error)
}

// Checkpoint is everything persisted at a save point.
type Checkpoint struct {
	Name      string
	ValidLoss float64
	State     RunState
	Params    []*tensor.Tensor
}

// Checkpointer persists checkpoints durably.
type Checkpointer interface {
	Save(ctx context.Context, ckpt Checkpoint) error
}

// Reporter produces a qualitative sample of the model's output.
type Reporter interface {
	Report(ctx context.Context, m Model, b *data.Batch) error
}

// Observer receives copies of per-batch and per-validation reports.
type Observer interface {
	ObserveBatch(r BatchReport)
	ObserveValidation(r ValidationReport)
}
