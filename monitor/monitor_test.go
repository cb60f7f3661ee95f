// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/checkpoint"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
)

type fakeHistory struct {
	saved     []checkpoint.Saved
	vals      []checkpoint.Validation
	err       error
	lastLimit int
}

func (f *fakeHistory) Checkpoints(context.Context) ([]checkpoint.Saved, error) {
	return f.saved, f.err
}

func (f *fakeHistory) Validations(_ context.Context, limit int) ([]checkpoint.Validation, error) {
	f.lastLimit = limit
	return f.vals, f.err
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: decode body %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	code, body := get(t, New("kp20k", nil, quiet()).Handler(), "/healthz")
	if code != http.StatusOK || body["status"] != "ok" || body["exp"] != "kp20k" {
		t.Fatalf("healthz = %d %v", code, body)
	}
}

func TestStatusReflectsLatestReports(t *testing.T) {
	m := New("kp20k", nil, quiet())
	h := m.Handler()

	_, body := get(t, h, "/status")
	if _, ok := body["batch"]; ok {
		t.Fatal("status reports a batch before training")
	}

	m.ObserveBatch(train.BatchReport{StepResult: train.StepResult{Loss: 2.5, Pairs: 4}, Epoch: 1, Batch: 3, TotalBatch: 3})
	m.ObserveBatch(train.BatchReport{StepResult: train.StepResult{Loss: float32(math.NaN()), Skipped: true}, Epoch: 1, Batch: 4, TotalBatch: 4})
	m.ObserveValidation(train.ValidationReport{Epoch: 1, TotalBatch: 4, ValidLoss: 3.25, TestLoss: math.NaN(), BestLoss: 3.25, IsBest: true, Checkpoint: "x.model"})

	code, body := get(t, h, "/status")
	if code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	batch := body["batch"].(map[string]any)
	if batch["total_batch"].(float64) != 4 || batch["loss"] != nil {
		t.Fatalf("batch = %v", batch)
	}
	if body["skipped"].(float64) != 1 {
		t.Fatalf("skipped = %v", body["skipped"])
	}
	valid := body["validation"].(map[string]any)
	if valid["valid_loss"].(float64) != 3.25 || valid["test_loss"] != nil || valid["checkpoint"] != "x.model" {
		t.Fatalf("validation = %v", valid)
	}
	_, hasRes := body["resources"]
	_, hasErr := body["resources_error"]
	if !hasRes && !hasErr {
		t.Fatal("status carries neither resources nor a resource error")
	}
}

func TestCheckpointsAndHistory(t *testing.T) {
	now := time.Now()
	hist := &fakeHistory{
		saved: []checkpoint.Saved{{Name: "a.model", Epoch: 1, TotalBatch: 4, ValidLoss: 3, IsBest: true, Time: now}},
		vals: []checkpoint.Validation{
			{Epoch: 1, TotalBatch: 8, ValidLoss: 3.5, TestLoss: math.NaN(), BestLoss: 3, Phase: "training"},
			{Epoch: 1, TotalBatch: 4, ValidLoss: 3, TestLoss: 3.1, BestLoss: 3, IsBest: true, Checkpoint: "a.model", Phase: "training"},
		},
	}
	h := New("kp20k", hist, quiet()).Handler()

	code, body := get(t, h, "/checkpoints")
	if code != http.StatusOK {
		t.Fatalf("checkpoints code %d", code)
	}
	saved := body["checkpoints"].([]any)
	if len(saved) != 1 || saved[0].(map[string]any)["name"] != "a.model" {
		t.Fatalf("checkpoints = %v", saved)
	}

	code, body = get(t, h, "/history?limit=5")
	if code != http.StatusOK || hist.lastLimit != 5 {
		t.Fatalf("history code %d limit %d", code, hist.lastLimit)
	}
	vals := body["validations"].([]any)
	if len(vals) != 2 || vals[0].(map[string]any)["test_loss"] != nil {
		t.Fatalf("validations = %v", vals)
	}

	if code, _ := get(t, h, "/history?limit=abc"); code != http.StatusBadRequest {
		t.Fatalf("bad limit code %d", code)
	}
}

func TestHistoryErrors(t *testing.T) {
	if code, _ := get(t, New("kp20k", nil, quiet()).Handler(), "/checkpoints"); code != http.StatusServiceUnavailable {
		t.Fatalf("no registry code %d", code)
	}
	h := New("kp20k", &fakeHistory{err: errors.New("disk I/O error")}, quiet()).Handler()
	if code, body := get(t, h, "/history"); code != http.StatusInternalServerError || body["error"] == nil {
		t.Fatalf("failing registry = %d %v", code, body)
	}
}

func TestConcurrentObservers(t *testing.T) {
	m := New("kp20k", nil, quiet())
	h := m.Handler()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			m.ObserveBatch(train.BatchReport{TotalBatch: i})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		}
	}()
	wg.Wait()
	_, body := get(t, h, "/status")
	if body["batch"].(map[string]any)["total_batch"].(float64) != 200 {
		t.Fatalf("last batch = %v", body["batch"])
	}
}
