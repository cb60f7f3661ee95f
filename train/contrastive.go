// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
)

// Contrastive is the target-encoder loss. At every boundary of an example's
// decoder input, the target representation must pick the example's own
// source representation out of K negatives mined from the replay buffer.
type Contrastive struct {
	Coef    float32
	K       int
	Markers Markers
	rng     *rand.Rand
}

// NewContrastive validates k and returns the loss.
func NewContrastive(coef float32, k int, m Markers, rng *rand.Rand) (*Contrastive, error) {
	if k < 1 {
		return nil, errors.Errorf("negative sample count must be >= 1, got %d", k)
	}
	return &Contrastive{Coef: coef, K: k, Markers: m, rng: rng}, nil
}

// ContrastiveResult is the cost of one batch and its gradient.
//
// Sets are example-major: all candidate sets of example 0 come first, then
// those of example 1, and so on. Scores[p] holds the K+1 raw scores of set p
// and Labels[p] the slot of the positive.
type ContrastiveResult struct {
	Loss      float32
	Examples  []int
	Positions []int
	Labels    []int
	Scores    *tensor.Tensor // [P, K+1], nil without pairs
	// GradTargetRepr is dLoss/dTargetRepr [B, T, Hr], nil without pairs.
	GradTargetRepr *tensor.Tensor
}

// Pairs returns the number of candidate sets.
func (r ContrastiveResult) Pairs() int { return len(r.Labels) }

// Compute mines candidate sets for the batch, pushes every example's source
// representation into replay once, and scores the sets with the model's
// target encoder and bilinear scorer. trg is the decoder input token matrix
// [B][T]. Parameter gradients of the encoder and scorer are accumulated.
//
// A zero coefficient returns a zero result without touching replay. Shapes
// are checked before the first push, so a mismatch leaves replay unchanged.
func (c *Contrastive) Compute(m Model, out *Output, trg [][]int, replay *ReplayBuffer) (ContrastiveResult, error) {
	if c.Coef == 0 {
		return ContrastiveResult{}, nil
	}
	src, trgRepr := out.SourceRepr, out.TargetRepr
	sd, td := src.Shape().DimsRef(), trgRepr.Shape().DimsRef()
	if len(sd) != 2 || len(td) != 3 || sd[0] != td[0] || len(trg) != sd[0] {
		return ContrastiveResult{}, errors.Wrapf(ErrShapeMismatch,
			"source repr %v, target repr %v, %d target rows", src.Shape(), trgRepr.Shape(), len(trg))
	}
	batch, steps, srcDim, trgDim := sd[0], td[1], sd[1], td[2]
	for b, row := range trg {
		if len(row) != steps {
			return ContrastiveResult{}, errors.Wrapf(ErrShapeMismatch,
				"example %d: %d target tokens, %d target representations", b, len(row), steps)
		}
	}
	if replay.mixedWidth(srcDim) {
		return ContrastiveResult{}, errors.Wrapf(ErrShapeMismatch,
			"replay holds entries not of source representation size %d", srcDim)
	}

	var (
		res        ContrastiveResult
		candidates []float32
		queries    []float32
	)
	for b := 0; b < batch; b++ {
		positive := append([]float32(nil), src.Vec(b)...)
		for _, pos := range BoundaryPositions(trg[b], c.Markers) {
			negs, err := replay.Sample(c.K)
			if errors.Cause(err) == ErrInsufficientSamples {
				continue
			}
			if err != nil {
				return ContrastiveResult{}, err
			}
			label := c.rng.Intn(c.K + 1)
			set := make([][]float32, 0, c.K+1)
			set = append(set, negs[:label]...)
			set = append(set, positive)
			set = append(set, negs[label:]...)
			for _, v := range set {
				candidates = append(candidates, v...)
			}
			queries = append(queries, trgRepr.Vec(b, pos)...)
			res.Examples = append(res.Examples, b)
			res.Positions = append(res.Positions, pos)
			res.Labels = append(res.Labels, label)
		}
		replay.Push(positive)
	}

	pairs := len(res.Labels)
	if pairs == 0 {
		return res, nil
	}
	width := c.K + 1
	cand := tensor.FromSliceNoCopy(candidates, tensor.NewShape(pairs, width, srcDim))
	query := m.TargetEncoder().Forward(tensor.FromSliceNoCopy(queries, tensor.NewShape(pairs, trgDim)))
	res.Scores = m.Scorer().Score(cand, query)

	// loss = coef * mean_p(-log_softmax(score_p)[label_p])
	// dscore[p, c] = coef/P * (softmax(score_p)[c] - 1{c == label_p})
	gradScore := tensor.New(res.Scores.Shape())
	logp := make([]float32, width)
	total := float32(0)
	scale := c.Coef / float32(pairs)
	for p := 0; p < pairs; p++ {
		row := res.Scores.Vec(p)
		tensor.LogSoftmaxInto(logp, row)
		total -= logp[res.Labels[p]]
		g := gradScore.Vec(p)
		for j := range g {
			g[j] = tensor.Exp(logp[j]) * scale
		}
		g[res.Labels[p]] -= scale
	}
	res.Loss = total / float32(pairs) * c.Coef

	_, gradQuery := m.Scorer().Backward(gradScore)
	gradTarget := m.TargetEncoder().Backward(gradQuery)
	res.GradTargetRepr = tensor.New(trgRepr.Shape())
	for p := 0; p < pairs; p++ {
		tensor.Axpy(1, gradTarget.Vec(p), res.GradTargetRepr.Vec(res.Examples[p], res.Positions[p]))
	}
	return res, nil
}
