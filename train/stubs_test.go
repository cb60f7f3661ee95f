// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/layer"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

// Shared fixtures for the package tests.
//
// testVocab ids: <pad>=0 <s>=1 </s>=2 <unk>=3 <sep>=4 a=5 b=6 c=7.
var testVocab = vocab.New([]string{"a", "b", "c"})

const stubDim = 4

// batchFromTargets builds a valid batch whose decoder input rows are trg.
// Targets are trg shifted left by one with </s> after the last non-pad token.
func batchFromTargets(trg [][]int) *data.Batch {
	b := &data.Batch{}
	pad := testVocab.PadID()
	for _, row := range trg {
		target := make([]int, len(row))
		for i := range target {
			target[i] = pad
		}
		last := 0
		for i := 1; i < len(row); i++ {
			if row[i] == pad {
				break
			}
			target[i-1] = row[i]
			last = i
		}
		if last < len(row) {
			target[last] = testVocab.EOSID()
		}
		b.Src = append(b.Src, []int{5, 6})
		b.SrcExt = append(b.SrcExt, []int{5, 6})
		b.SrcLen = append(b.SrcLen, 2)
		b.Trg = append(b.Trg, append([]int(nil), row...))
		b.TrgTarget = append(b.TrgTarget, target)
		b.TrgCopyTarget = append(b.TrgCopyTarget, append([]int(nil), target...))
		b.OOVLists = append(b.OOVLists, nil)
	}
	return b
}

// stubModel emits log_softmax(bias) at every step and fixed, distinct
// representations per example. Only bias, the target encoder and the scorer
// are trainable.
type stubModel struct {
	bias   *tensor.Tensor
	enc    *layer.MLP
	scorer *layer.Bilinear

	nan        bool // emit NaN log probs
	wrongSteps bool // emit one target step too many
	backwards  int
	lastGrad   *OutputGrad
	lastOut    *Output
}

func newStubModel(seed int64) *stubModel {
	rng := rand.New(rand.NewSource(seed))
	return &stubModel{
		bias:   tensor.RandnWithStd(tensor.NewShape(testVocab.Size()), 0.1, rng),
		enc:    layer.NewMLP([]int{stubDim, 5, stubDim}, rng),
		scorer: layer.NewBilinear(stubDim, stubDim, rng),
	}
}

func (m *stubModel) Forward(b *data.Batch) (*Output, error) {
	n, t := b.Size(), b.TrgSeqLen()
	if m.wrongSteps {
		t++
	}
	v := testVocab.Size()
	logp := make([]float32, v)
	tensor.LogSoftmaxInto(logp, m.bias.DataPtr())
	out := &Output{
		LogProbs:   tensor.New(tensor.NewShape(n, t, v)),
		Hidden:     tensor.New(tensor.NewShape(n, t, stubDim)),
		Attention:  tensor.New(tensor.NewShape(n, t, b.SrcSeqLen())),
		SourceRepr: tensor.New(tensor.NewShape(n, stubDim)),
		TargetRepr: tensor.New(tensor.NewShape(n, t, stubDim)),
		Vocab:      data.PlainVocabulary(),
	}
	for i := 0; i < n; i++ {
		src := out.SourceRepr.Vec(i)
		src[i%stubDim] = 1
		src[(i+1)%stubDim] = 0.5
		for s := 0; s < t; s++ {
			row := out.LogProbs.Vec(i, s)
			copy(row, logp)
			if m.nan {
				for j := range row {
					row[j] = float32(math.NaN())
				}
			}
			h, r := out.Hidden.Vec(i, s), out.TargetRepr.Vec(i, s)
			for k := 0; k < stubDim; k++ {
				h[k] = float32(math.Sin(float64(1 + i + 2*s + 3*k)))
				r[k] = float32(math.Cos(float64(1 + 2*i + s + k)))
			}
		}
	}
	m.lastOut = out
	return out, nil
}

// Backward pushes dLogProbs through the log-softmax into the bias:
// dbias = g - softmax(bias) * sum(g) per step.
func (m *stubModel) Backward(g *OutputGrad) error {
	m.backwards++
	m.lastGrad = g
	p := append([]float32(nil), m.bias.DataPtr()...)
	tensor.SoftmaxInPlace(p)
	dims := g.LogProbs.Shape().DimsRef()
	db := make([]float32, len(p))
	for i := 0; i < dims[0]; i++ {
		for s := 0; s < dims[1]; s++ {
			row := g.LogProbs.Vec(i, s)
			sum := float32(0)
			for _, x := range row {
				sum += x
			}
			for j := range db {
				db[j] += row[j] - p[j]*sum
			}
		}
	}
	m.bias.AccumulateGrad(db)
	return nil
}

func (m *stubModel) Parameters() []*tensor.Tensor {
	return tensor.ConcatParams([]*tensor.Tensor{m.bias}, m.enc.Parameters(), m.scorer.Parameters())
}

func (m *stubModel) TargetEncoder() Projector { return m.enc }
func (m *stubModel) Scorer() Scorer           { return m.scorer }

// scriptedEvaluator returns the next validation loss of a fixed script and
// a constant test loss.
type scriptedEvaluator struct {
	losses []float64
	calls  []EvalOptions
	next   int
	err    error
}

func (e *scriptedEvaluator) Validate(_ context.Context, _ Model, _ data.Loader, opts EvalOptions) (float64, error) {
	e.calls = append(e.calls, opts)
	if e.err != nil {
		return 0, e.err
	}
	if opts.Split == "test" {
		return 9, nil
	}
	l := e.losses[e.next%len(e.losses)]
	e.next++
	return l, nil
}

type recordingCheckpointer struct {
	saved []Checkpoint
	err   error
}

func (c *recordingCheckpointer) Save(_ context.Context, ckpt Checkpoint) error {
	if c.err != nil {
		return c.err
	}
	c.saved = append(c.saved, ckpt)
	return nil
}

type recordingObserver struct {
	batches     []BatchReport
	validations []ValidationReport
}

func (o *recordingObserver) ObserveBatch(r BatchReport)           { o.batches = append(o.batches, r) }
func (o *recordingObserver) ObserveValidation(r ValidationReport) { o.validations = append(o.validations, r) }

var errDiskFull = errors.New("disk full")
