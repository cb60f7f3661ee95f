// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package checkpoint

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func params(seed int64) []*tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	return []*tensor.Tensor{
		tensor.RandnWithStd(tensor.NewShape(3, 4), 1, rng),
		tensor.RandnWithStd(tensor.NewShape(4), 1, rng),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "model")
	s := NewStore(dir, quiet())
	state := train.NewRunState()
	state.Epoch, state.TotalBatch, state.BestLoss = 2, 17, 1.25
	state.Checkpoints = []string{"exp.epoch=2.batch=3.total_batch=17.model"}
	src := params(1)
	ckpt := train.Checkpoint{Name: state.Checkpoints[0], ValidLoss: 1.25, State: state, Params: src}
	if err := s.Save(context.Background(), ckpt); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := params(2)
	meta, err := Load(s.Path(ckpt.Name), dst)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if meta.Name != ckpt.Name || meta.ValidLoss != 1.25 {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.State.TotalBatch != 17 || meta.State.BestLoss != 1.25 || len(meta.State.Checkpoints) != 1 {
		t.Fatalf("state = %+v", meta.State)
	}
	for i := range src {
		a, b := src[i].DataPtr(), dst[i].DataPtr()
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("tensor %d element %d: %v != %v", i, j, b[j], a[j])
			}
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("%d files in checkpoint dir, want 1", len(entries))
	}
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	s := NewStore(t.TempDir(), quiet())
	ckpt := train.Checkpoint{Name: "a.model", State: train.NewRunState(), Params: params(1)}
	if err := s.Save(context.Background(), ckpt); err != nil {
		t.Fatalf("save: %v", err)
	}
	other := []*tensor.Tensor{tensor.New(tensor.NewShape(4, 3)), tensor.New(tensor.NewShape(4))}
	if _, err := Load(s.Path("a.model"), other); errors.Cause(err) != ErrIncompatible {
		t.Fatalf("err = %v, want ErrIncompatible", err)
	}
	if other[0].DataPtr()[0] != 0 {
		t.Fatal("mismatched load modified the model")
	}
	if _, err := Load(s.Path("a.model"), params(1)[:1]); errors.Cause(err) != ErrIncompatible {
		t.Fatalf("err = %v, want ErrIncompatible", err)
	}
}

func TestSaveFailsOnUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(filepath.Join(file, "sub"), quiet())
	err := s.Save(context.Background(), train.Checkpoint{Name: "a.model", Params: params(1)})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRegistryRecordsRun(t *testing.T) {
	r, err := OpenRegistry(filepath.Join(t.TempDir(), "runs.sqlite3"), "kp20k", quiet())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	ctx := context.Background()
	now := time.Now()

	r.ObserveBatch(train.BatchReport{StepResult: train.StepResult{Loss: 2.5, Primary: 2, Pairs: 3}, TotalBatch: 1, LR: 1e-3})
	r.ObserveValidation(train.ValidationReport{
		Epoch: 1, Batch: 4, TotalBatch: 4, ValidLoss: 3, TestLoss: math.NaN(), BestLoss: 3,
		IsBest: true, Checkpoint: "kp20k.epoch=1.batch=4.total_batch=4.model", Phase: train.PhaseTraining, Time: now,
	})
	r.ObserveValidation(train.ValidationReport{
		Epoch: 1, Batch: 8, TotalBatch: 8, ValidLoss: 3.5, TestLoss: 3.7, BestLoss: 3,
		StopIncreasing: 1, Phase: train.PhaseTraining, Time: now,
	})
	r.ObserveValidation(train.ValidationReport{
		Epoch: 2, Batch: 4, TotalBatch: 12, ValidLoss: 2, TestLoss: 2.2, BestLoss: 2,
		IsBest: true, Checkpoint: "kp20k.epoch=2.batch=4.total_batch=12.model", Phase: train.PhaseTraining, Time: now,
	})
	if err := r.Err(); err != nil {
		t.Fatalf("registry error: %v", err)
	}

	hist, err := r.Validations(ctx, 2)
	if err != nil {
		t.Fatalf("validations: %v", err)
	}
	if len(hist) != 2 || hist[0].TotalBatch != 12 || hist[1].TotalBatch != 8 {
		t.Fatalf("history = %+v", hist)
	}
	all, err := r.Validations(ctx, 0)
	if err != nil {
		t.Fatalf("validations: %v", err)
	}
	if len(all) != 3 || !math.IsNaN(all[2].TestLoss) || all[2].Phase != "training" {
		t.Fatalf("oldest validation = %+v", all[len(all)-1])
	}

	saved, err := r.Checkpoints(ctx)
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	if len(saved) != 2 || saved[0].TotalBatch != 4 || saved[1].ValidLoss != 2 {
		t.Fatalf("checkpoints = %+v", saved)
	}
	best, ok, err := r.Best(ctx)
	if err != nil || !ok || best.TotalBatch != 12 {
		t.Fatalf("best = %+v %v %v", best, ok, err)
	}
}

func TestRegistrySeparatesExperiments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.sqlite3")
	a, err := OpenRegistry(path, "a", quiet())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a.ObserveValidation(train.ValidationReport{TotalBatch: 1, ValidLoss: 1, IsBest: true, Checkpoint: "a.model"})
	a.Close()

	b, err := OpenRegistry(path, "b", quiet())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	saved, err := b.Checkpoints(context.Background())
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	if len(saved) != 0 {
		t.Fatalf("experiment b sees %d checkpoints of a", len(saved))
	}
	if _, ok, _ := b.Best(context.Background()); ok {
		t.Fatal("experiment b has a best checkpoint")
	}
}
