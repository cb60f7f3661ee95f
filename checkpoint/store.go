// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package checkpoint persists model weights together with the run state and
// keeps a SQLite registry of validations and saved checkpoints.
package checkpoint

import (
	"context"
	"encoding/gob"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
)

// formatVersion is bumped whenever the on-disk layout changes.
const formatVersion = 1

// ErrIncompatible reports a checkpoint whose tensors do not match the model.
var ErrIncompatible = errors.New("checkpoint does not match model")

type tensorRecord struct {
	Dims []int
	Data []float32
}

type fileRecord struct {
	Version   int
	Name      string
	ValidLoss float64
	State     train.RunState
	Tensors   []tensorRecord
}

// Meta describes a loaded checkpoint.
type Meta struct {
	Name      string
	ValidLoss float64
	State     train.RunState
}

// Store writes gob checkpoint files into Dir.
type Store struct {
	Dir    string
	Logger *slog.Logger
}

// NewStore returns a store rooted at dir. A nil logger uses slog.Default.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Dir: dir, Logger: logger}
}

// Path returns the file a checkpoint name is written to.
func (s *Store) Path(name string) string { return filepath.Join(s.Dir, name) }

// Save implements train.Checkpointer. The file is written under a temporary
// name and renamed, so a failed save never leaves a truncated checkpoint.
func (s *Store) Save(ctx context.Context, ckpt train.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", s.Dir)
	}
	rec := fileRecord{
		Version:   formatVersion,
		Name:      ckpt.Name,
		ValidLoss: ckpt.ValidLoss,
		State:     ckpt.State,
		Tensors:   make([]tensorRecord, len(ckpt.Params)),
	}
	for i, p := range ckpt.Params {
		rec.Tensors[i] = tensorRecord{Dims: p.Shape().Dims(), Data: p.DataPtr()}
	}

	path := s.Path(ckpt.Name)
	tmp, err := os.CreateTemp(s.Dir, ".ckpt-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", s.Dir)
	}
	defer os.Remove(tmp.Name())
	if err := gob.NewEncoder(tmp).Encode(&rec); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	s.Logger.Info("checkpoint saved", "path", path, "valid_loss", ckpt.ValidLoss, "tensors", len(ckpt.Params))
	return nil
}

// Load reads the checkpoint at path into params, in order and with matching
// shapes, and returns its metadata.
func Load(path string, params []*tensor.Tensor) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	var rec fileRecord
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return Meta{}, errors.Wrapf(err, "decode %s", path)
	}
	if rec.Version != formatVersion {
		return Meta{}, errors.Wrapf(ErrIncompatible, "%s: format version %d, want %d", path, rec.Version, formatVersion)
	}
	if len(rec.Tensors) != len(params) {
		return Meta{}, errors.Wrapf(ErrIncompatible, "%s: %d tensors, model has %d", path, len(rec.Tensors), len(params))
	}
	for i, t := range rec.Tensors {
		if want := params[i].Shape(); !want.Equal(tensor.NewShape(t.Dims...)) {
			return Meta{}, errors.Wrapf(ErrIncompatible, "%s: tensor %d has shape %v, model has %v", path, i, t.Dims, want)
		}
	}
	for i, t := range rec.Tensors {
		copy(params[i].DataPtr(), t.Data)
	}
	return Meta{Name: rec.Name, ValidLoss: rec.ValidLoss, State: rec.State}, nil
}
