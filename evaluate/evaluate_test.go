// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package evaluate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/model"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

// testVocab ids: <pad>=0 <s>=1 </s>=2 <unk>=3 <sep>=4 deep=5 learning=6 graph=7.
var testVocab = vocab.New([]string{"deep", "learning", "graph"})

func encoded() []data.Encoded {
	exs := []data.Example{
		{Src: []string{"deep", "learning", "on", "graph"}, Trg: [][]string{{"deep", "learning"}, {"graph"}}},
		{Src: []string{"graph", "kernels"}, Trg: [][]string{{"graph", "kernels"}}},
		{Src: []string{"learning"}, Trg: [][]string{{"learning"}}},
	}
	var out []data.Encoded
	for _, ex := range exs {
		out = append(out, data.Encode(ex, testVocab, 0))
	}
	return out
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestPhrases(t *testing.T) {
	oov := []string{"kernels"}
	tests := []struct {
		ids  []int
		want []string
	}{
		{[]int{5, 6, 4, 7, 2, 0}, []string{"deep learning", "graph"}},
		{[]int{4, 4, 7, 8, 2}, []string{"graph kernels"}},
		{[]int{2, 5}, nil},
		{[]int{5, 0, 6}, []string{"deep"}},
	}
	for _, tt := range tests {
		got := Phrases(testVocab, tt.ids, oov)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("Phrases(%v) = %q, want %q", tt.ids, got, tt.want)
		}
	}
}

func TestValidateAveragesBatchLosses(t *testing.T) {
	m := model.New(model.Tiny(testVocab.Size()))
	loader := data.NewSliceLoader(encoded(), testVocab, 2, false, 0)
	before := append([]float32(nil), m.Parameters()[0].DataPtr()...)

	e := NewNLLEvaluator(testVocab, quiet())
	dir := filepath.Join(t.TempDir(), "epoch1_batch1_total_batch1", "valid")
	got, err := e.Validate(context.Background(), m, loader, train.EvalOptions{Split: "valid", SavePath: dir})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	want, n := 0.0, 0
	it := loader.Iterate()
	for b, ok := it.Next(); ok; b, ok = it.Next() {
		out, err := m.Forward(b)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		loss, _, err := train.MaskedNLL(out.LogProbs, b.Targets(out.Vocab), testVocab.PadID())
		if err != nil {
			t.Fatalf("nll: %v", err)
		}
		want += float64(loss)
		n++
	}
	want /= float64(n)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("loss = %v, want %v", got, want)
	}
	for i, x := range m.Parameters()[0].DataPtr() {
		if x != before[i] {
			t.Fatal("evaluation changed the weights")
		}
	}
	for _, p := range m.Parameters() {
		if p.Grad != nil {
			t.Fatal("evaluation produced gradients")
		}
	}

	f, err := os.Open(filepath.Join(dir, PredictionsFile))
	if err != nil {
		t.Fatalf("open predictions: %v", err)
	}
	defer f.Close()
	var preds []Prediction
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var p Prediction
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil {
			t.Fatalf("decode prediction: %v", err)
		}
		preds = append(preds, p)
	}
	if len(preds) != 3 {
		t.Fatalf("%d predictions, want 3", len(preds))
	}
	if preds[1].Src != "graph kernels" || strings.Join(preds[1].Trg, "|") != "graph kernels" {
		t.Fatalf("second prediction = %+v", preds[1])
	}
}

func TestValidateEmptyLoader(t *testing.T) {
	m := model.New(model.Tiny(testVocab.Size()))
	_, err := NewNLLEvaluator(testVocab, quiet()).Validate(context.Background(), m, &data.StaticLoader{}, train.EvalOptions{Split: "test"})
	if errors.Cause(err) != ErrEmptyLoader {
		t.Fatalf("err = %v, want ErrEmptyLoader", err)
	}
}

func TestValidateHonoursCancellation(t *testing.T) {
	m := model.New(model.Tiny(testVocab.Size()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loader := data.NewSliceLoader(encoded(), testVocab, 2, false, 0)
	if _, err := NewNLLEvaluator(testVocab, quiet()).Validate(ctx, m, loader, train.EvalOptions{}); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSampleReporterLogsPicks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := NewSampleReporter(testVocab, 2, 5, 1, logger)
	m := model.New(model.Tiny(testVocab.Size()))
	b := data.Collate(encoded(), testVocab)
	if err := r.Report(context.Background(), m, b); err != nil {
		t.Fatalf("report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("%d log lines, want 2", len(lines))
	}
	for _, l := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(l), &rec); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if rec["msg"] != "sample" || rec["src"] == nil {
			t.Fatalf("unexpected record %v", rec)
		}
	}
}

type opaqueModel struct{ train.Model }

func TestSampleReporterNeedsDecoder(t *testing.T) {
	r := NewSampleReporter(testVocab, 1, 5, 1, quiet())
	b := data.Collate(encoded(), testVocab)
	if err := r.Report(context.Background(), opaqueModel{}, b); err == nil {
		t.Fatal("expected an error for a model without Decode")
	}
}
