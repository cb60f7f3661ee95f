// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const corpus = `{"src": "graph neural networks for node classification", "trg": ["graph neural networks", "node classification"]}
{"src": "deep learning on graphs with attention", "trg": ["deep learning", "attention"]}

{"src": "keyphrase generation with copy mechanism", "trg": ["keyphrase generation", "copy mechanism"]}
{"src": "attention based neural networks", "trg": ["attention", "neural networks"]}
{"src": "node embeddings from random walks", "trg": ["node embeddings", "random walks"]}
{"src": "contrastive learning of representations", "trg": ["contrastive learning"]}
`

const heldOut = `{"src": "neural keyphrase generation", "trg": ["keyphrase generation"]}
{"src": "graph attention networks", "trg": ["graph attention", "networks"]}
`

func writeCorpus(t *testing.T, dir string) string {
	t.Helper()
	prefix := filepath.Join(dir, "kp")
	files := map[string]string{"train": corpus, "valid": heldOut, "test": heldOut}
	for split, body := range files {
		if err := os.WriteFile(prefix+"."+split+".jsonl", []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return prefix
}

func baseArgs(dir, prefix string, epochs string) []string {
	return []string{
		"-data", prefix,
		"-exp", "kp",
		"-exp_path", filepath.Join(dir, "exp"),
		"-model_path", filepath.Join(dir, "model"),
		"-pred_path", filepath.Join(dir, "pred"),
		"-epochs", epochs,
		"-batch_size", "2",
		"-vocab_size", "40",
		"-emb_size", "4",
		"-hidden_size", "4",
		"-target_encoder_size", "3",
		"-n_negative_samples", "1",
		"-replay_buffer_capacity", "4",
		"-target_encoder_lambda", "0.1",
		"-orthogonal_regularization_lambda", "0.1",
		"-report_every", "2",
		"-log_level", "warn",
	}
}

func checkpoints(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "model", "*.model"))
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(files)
	return files
}

func TestTrainAndResume(t *testing.T) {
	dir := t.TempDir()
	prefix := writeCorpus(t, dir)

	var stdout bytes.Buffer
	if code := run(baseArgs(dir, prefix, "2"), &stdout, io.Discard); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "kp.ml.copy.uni-directional") {
		t.Fatalf("summary lacks the experiment name:\n%s", stdout.String())
	}
	saved := checkpoints(t, dir)
	if len(saved) == 0 {
		t.Fatal("no checkpoint written")
	}
	for _, f := range []string{
		filepath.Join(dir, "model", "kp.ml.copy.uni-directional.initial.json"),
		filepath.Join(dir, "model", vocabFile),
		filepath.Join(dir, "model", registryFile),
		filepath.Join(dir, "exp", "output.log"),
		filepath.Join(dir, "pred", "epoch1_batch3_total_batch3", "valid", "predictions.jsonl"),
		filepath.Join(dir, "pred", "epoch1_batch3_total_batch3", "test", "predictions.jsonl"),
	} {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("missing %s: %v", f, err)
		}
	}

	args := append(baseArgs(dir, prefix, "3"), "-train_from", saved[len(saved)-1])
	stdout.Reset()
	if code := run(args, &stdout, io.Discard); code != 0 {
		t.Fatalf("resume exit code %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "pred", "epoch3_batch3_total_batch9")); err != nil {
		t.Fatalf("resumed run did not continue the batch count: %v", err)
	}
}

func TestInvalidOptions(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"-batch_size", "0", "-data", "x"}, io.Discard, &stderr); code != 2 {
		t.Fatalf("exit code %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "batch_size") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if code := run([]string{"-no_such_flag"}, io.Discard, io.Discard); code != 2 {
		t.Fatalf("unknown flag exit code %d, want 2", code)
	}
}

func TestMissingDataFails(t *testing.T) {
	dir := t.TempDir()
	args := baseArgs(dir, filepath.Join(dir, "absent"), "1")
	if code := run(args, io.Discard, io.Discard); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
}
