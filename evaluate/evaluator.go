// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package evaluate

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

// PredictionsFile is the artifact written under EvalOptions.SavePath.
const PredictionsFile = "predictions.jsonl"

// ErrEmptyLoader is returned when a held-out loader yields no batch.
var ErrEmptyLoader = errors.New("evaluation loader is empty")

// Prediction is one line of the predictions artifact.
type Prediction struct {
	Src  string   `json:"src"`
	Trg  []string `json:"trg"`
	Pred []string `json:"pred"`
}

// NLLEvaluator reports the mean per-batch masked NLL of the teacher-forced
// model. It only runs Forward, so weights and gradients are untouched.
type NLLEvaluator struct {
	Vocab  *vocab.Vocab
	Logger *slog.Logger
}

// NewNLLEvaluator returns an evaluator over v. A nil logger uses slog.Default.
func NewNLLEvaluator(v *vocab.Vocab, logger *slog.Logger) *NLLEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &NLLEvaluator{Vocab: v, Logger: logger}
}

// Validate implements train.Evaluator.
func (e *NLLEvaluator) Validate(ctx context.Context, m train.Model, l data.Loader, opts train.EvalOptions) (float64, error) {
	var (
		losses []float64
		preds  []Prediction
	)
	it := l.Iterate()
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b, ok := it.Next()
		if !ok {
			break
		}
		if err := b.Validate(); err != nil {
			return 0, err
		}
		out, err := m.Forward(b)
		if err != nil {
			return 0, errors.Wrapf(err, "%s batch %d", opts.Split, len(losses)+1)
		}
		loss, _, err := train.MaskedNLL(out.LogProbs, b.Targets(out.Vocab), e.Vocab.PadID())
		if err != nil {
			return 0, errors.Wrapf(err, "%s batch %d", opts.Split, len(losses)+1)
		}
		losses = append(losses, float64(loss))
		if opts.SavePath != "" {
			preds = append(preds, e.predictions(b, out)...)
		}
	}
	if len(losses) == 0 {
		return 0, errors.Wrap(ErrEmptyLoader, opts.Split)
	}
	mean := floats.Sum(losses) / float64(len(losses))
	if opts.SavePath != "" {
		if err := writePredictions(filepath.Join(opts.SavePath, PredictionsFile), preds); err != nil {
			return 0, err
		}
	}
	e.Logger.Debug("evaluated",
		"split", opts.Split, "epoch", opts.Epoch, "total_batch", opts.TotalBatch,
		"batches", len(losses), "loss", mean)
	return mean, nil
}

// predictions decodes the per-step argmax of the teacher-forced output.
func (e *NLLEvaluator) predictions(b *data.Batch, out *train.Output) []Prediction {
	preds := make([]Prediction, 0, b.Size())
	for i := 0; i < b.Size(); i++ {
		ids := make([]int, 0, b.TrgSeqLen())
		for t := 0; t < b.TrgSeqLen(); t++ {
			id, _ := tensor.Argmax(out.LogProbs.Vec(i, t))
			ids = append(ids, id)
		}
		oov := b.OOVLists[i]
		preds = append(preds, Prediction{
			Src:  sourceText(e.Vocab, b.SrcExt[i], b.SrcLen[i], oov),
			Trg:  Phrases(e.Vocab, b.TrgCopyTarget[i], oov),
			Pred: Phrases(e.Vocab, ids, oov),
		})
	}
	return preds
}

func writePredictions(path string, preds []Prediction) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	enc := json.NewEncoder(f)
	for _, p := range preds {
		if err := enc.Encode(p); err != nil {
			f.Close()
			return errors.Wrapf(err, "write %s", path)
		}
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
