// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package evaluate

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/model"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

// Decoder is a model that can generate free-running output.
type Decoder interface {
	Decode(b *data.Batch, sp model.Special, maxLen int, pick model.Sampler) [][]int
}

// SampleReporter logs generated keyphrases for a few examples of the
// current batch next to their references.
type SampleReporter struct {
	Vocab    *vocab.Vocab
	Examples int // examples per report
	MaxLen   int // decoding limit
	Sampler  model.Sampler
	Logger   *slog.Logger

	rng *rand.Rand
}

// NewSampleReporter returns a greedy reporter.
func NewSampleReporter(v *vocab.Vocab, examples, maxLen int, seed int64, logger *slog.Logger) *SampleReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SampleReporter{
		Vocab:    v,
		Examples: examples,
		MaxLen:   maxLen,
		Sampler:  model.GreedySampling{},
		Logger:   logger,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Report implements train.Reporter.
func (r *SampleReporter) Report(ctx context.Context, m train.Model, b *data.Batch) error {
	d, ok := m.(Decoder)
	if !ok {
		return errors.Errorf("%T cannot decode", m)
	}
	sub := r.pick(b)
	sp := model.Special{BOS: r.Vocab.BOSID(), EOS: r.Vocab.EOSID(), Unk: r.Vocab.UnkID()}
	out := d.Decode(sub, sp, r.MaxLen, r.Sampler)
	for i, ids := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		oov := sub.OOVLists[i]
		r.Logger.Info("sample",
			"src", sourceText(r.Vocab, sub.SrcExt[i], sub.SrcLen[i], oov),
			"trg", Phrases(r.Vocab, sub.TrgCopyTarget[i], oov),
			"pred", Phrases(r.Vocab, ids, oov))
	}
	return nil
}

// pick selects up to Examples rows of b without replacement.
func (r *SampleReporter) pick(b *data.Batch) *data.Batch {
	n := r.Examples
	if n <= 0 || n > b.Size() {
		n = b.Size()
	}
	sub := &data.Batch{}
	for _, i := range r.rng.Perm(b.Size())[:n] {
		sub.Src = append(sub.Src, b.Src[i])
		sub.SrcLen = append(sub.SrcLen, b.SrcLen[i])
		sub.SrcExt = append(sub.SrcExt, b.SrcExt[i])
		sub.Trg = append(sub.Trg, b.Trg[i])
		sub.TrgTarget = append(sub.TrgTarget, b.TrgTarget[i])
		sub.TrgCopyTarget = append(sub.TrgCopyTarget, b.TrgCopyTarget[i])
		sub.OOVLists = append(sub.OOVLists, b.OOVLists[i])
	}
	return sub
}
