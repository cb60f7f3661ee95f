// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package config holds the trainer's command-line options: defaults, flag
// registration, a JSON overlay, validation and experiment naming.
package config

import (
	"bytes"
	"encoding/json"
	"flag"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
)

// ErrInvalid reports an option outside its allowed range.
var ErrInvalid = errors.New("invalid option")

// TimemarkLayout formats the run timestamp substituted into path templates.
const TimemarkLayout = "20060102-150405"

// Options is the full set of training options. Field names follow the
// JSON keys, which are also the flag names.
type Options struct {
	// data
	Data      string `json:"data"`  // path prefix of <data>.{train,valid,test}.jsonl
	Vocab     string `json:"vocab"` // vocabulary file, built from train when absent
	VocabSize int    `json:"vocab_size"`
	MaxSrcLen int    `json:"max_src_len"`
	BatchSize int    `json:"batch_size"`

	// model
	EmbSize           int  `json:"emb_size"`
	HiddenSize        int  `json:"hidden_size"`
	TargetEncoderSize int  `json:"target_encoder_size"`
	CopyAttention     bool `json:"copy_attention"`

	// optimisation
	LearningRate float64 `json:"learning_rate"`
	WeightDecay  float64 `json:"weight_decay"`
	WarmupSteps  int     `json:"warmup_steps"`
	TotalSteps   int     `json:"total_steps"`
	MaxGradNorm  float64 `json:"max_grad_norm"`
	LossScale    float64 `json:"loss_scale"`

	// auxiliary losses
	ReplayBufferCapacity             int     `json:"replay_buffer_capacity"`
	NNegativeSamples                 int     `json:"n_negative_samples"`
	TargetEncoderLambda              float64 `json:"target_encoder_lambda"`
	OrthogonalRegularizationLambda   float64 `json:"orthogonal_regularization_lambda"`
	OrthogonalRegularizationPosition string  `json:"orthogonal_regularization_position"` // sep | post
	OrthRegMode                      int     `json:"orth_reg_mode"`                      // 0 states, 1 states + representations
	OrthNormOrder                    string  `json:"orth_norm_order"`                    // 1 | 2 | inf

	// lifecycle
	Epochs             int    `json:"epochs"`
	StartEpoch         int    `json:"start_epoch"`
	RunValidEvery      int    `json:"run_valid_every"`
	SaveModelEvery     int    `json:"save_model_every"`
	EarlyStopTolerance int    `json:"early_stop_tolerance"`
	ReportEvery        int    `json:"report_every"`
	TrainFrom          string `json:"train_from"`

	// paths
	Exp       string `json:"exp"`
	ExpPath   string `json:"exp_path"`
	ModelPath string `json:"model_path"`
	PredPath  string `json:"pred_path"`
	Timemark  string `json:"timemark"`

	// runtime
	Seed           int64  `json:"seed"`
	StrictNumerics bool   `json:"strict_numerics"`
	StatusAddr     string `json:"status_addr"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"` // text | json
}

// Default returns the options of the reference keyphrase setup.
func Default() Options {
	return Options{
		VocabSize:                        50000,
		MaxSrcLen:                        300,
		BatchSize:                        64,
		EmbSize:                          150,
		HiddenSize:                       300,
		TargetEncoderSize:                64,
		CopyAttention:                    true,
		LearningRate:                     1e-3,
		MaxGradNorm:                      1,
		LossScale:                        0,
		ReplayBufferCapacity:             100,
		NNegativeSamples:                 32,
		TargetEncoderLambda:              0,
		OrthogonalRegularizationLambda:   0,
		OrthogonalRegularizationPosition: "post",
		OrthRegMode:                      0,
		OrthNormOrder:                    "2",
		Epochs:                           20,
		StartEpoch:                       0,
		RunValidEvery:                    -1,
		SaveModelEvery:                   -1,
		EarlyStopTolerance:               5,
		ReportEvery:                      10,
		Exp:                              "kp20k",
		ExpPath:                          "exp/%s.%s",
		ModelPath:                        "model/%s.%s",
		PredPath:                         "pred/%s.%s",
		Seed:                             9527,
		LogLevel:                         "info",
		LogFormat:                        "text",
	}
}

// RegisterFlags binds every option to fs with the current values of o as
// defaults.
func (o *Options) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.Data, "data", o.Data, "path prefix of <data>.{train,valid,test}.jsonl")
	fs.StringVar(&o.Vocab, "vocab", o.Vocab, "vocabulary file (built from the training split when missing)")
	fs.IntVar(&o.VocabSize, "vocab_size", o.VocabSize, "maximum vocabulary size, specials included")
	fs.IntVar(&o.MaxSrcLen, "max_src_len", o.MaxSrcLen, "source truncation length (<= 0 keeps all)")
	fs.IntVar(&o.BatchSize, "batch_size", o.BatchSize, "examples per batch")

	fs.IntVar(&o.EmbSize, "emb_size", o.EmbSize, "word embedding size")
	fs.IntVar(&o.HiddenSize, "hidden_size", o.HiddenSize, "encoder/decoder state size")
	fs.IntVar(&o.TargetEncoderSize, "target_encoder_size", o.TargetEncoderSize, "target encoder output size")
	fs.BoolVar(&o.CopyAttention, "copy_attention", o.CopyAttention, "extend the output space with source OOV slots")

	fs.Float64Var(&o.LearningRate, "learning_rate", o.LearningRate, "Adam learning rate")
	fs.Float64Var(&o.WeightDecay, "weight_decay", o.WeightDecay, "decoupled weight decay")
	fs.IntVar(&o.WarmupSteps, "warmup_steps", o.WarmupSteps, "linear warmup steps (0 disables the schedule)")
	fs.IntVar(&o.TotalSteps, "total_steps", o.TotalSteps, "steps of the cosine schedule")
	fs.Float64Var(&o.MaxGradNorm, "max_grad_norm", o.MaxGradNorm, "global gradient norm threshold (<= 0 disables clipping)")
	fs.Float64Var(&o.LossScale, "loss_scale", o.LossScale, "primary loss weight is 1 - loss_scale")

	fs.IntVar(&o.ReplayBufferCapacity, "replay_buffer_capacity", o.ReplayBufferCapacity, "replay buffer capacity")
	fs.IntVar(&o.NNegativeSamples, "n_negative_samples", o.NNegativeSamples, "negatives per boundary")
	fs.Float64Var(&o.TargetEncoderLambda, "target_encoder_lambda", o.TargetEncoderLambda, "contrastive loss coefficient")
	fs.Float64Var(&o.OrthogonalRegularizationLambda, "orthogonal_regularization_lambda", o.OrthogonalRegularizationLambda, "orthogonality penalty coefficient")
	fs.StringVar(&o.OrthogonalRegularizationPosition, "orthogonal_regularization_position", o.OrthogonalRegularizationPosition, "sep or post")
	fs.IntVar(&o.OrthRegMode, "orth_reg_mode", o.OrthRegMode, "0: decoder states, 1: states and target representations")
	fs.StringVar(&o.OrthNormOrder, "orth_norm_order", o.OrthNormOrder, "matrix norm order: 1, 2 or inf")

	fs.IntVar(&o.Epochs, "epochs", o.Epochs, "last epoch to train")
	fs.IntVar(&o.StartEpoch, "start_epoch", o.StartEpoch, "first epoch (0 derives it from a resumed checkpoint)")
	fs.IntVar(&o.RunValidEvery, "run_valid_every", o.RunValidEvery, "validate every N batches, -1 at the end of each epoch")
	fs.IntVar(&o.SaveModelEvery, "save_model_every", o.SaveModelEvery, "also save every N batches at validation (<= 0 saves only improvements)")
	fs.IntVar(&o.EarlyStopTolerance, "early_stop_tolerance", o.EarlyStopTolerance, "validations without improvement before stopping (0 disables)")
	fs.IntVar(&o.ReportEvery, "report_every", o.ReportEvery, "log sample predictions every N batches (0 disables)")
	fs.StringVar(&o.TrainFrom, "train_from", o.TrainFrom, "checkpoint to resume from")

	fs.StringVar(&o.Exp, "exp", o.Exp, "experiment name")
	fs.StringVar(&o.ExpPath, "exp_path", o.ExpPath, "log directory template, %s filled with exp and timemark")
	fs.StringVar(&o.ModelPath, "model_path", o.ModelPath, "checkpoint directory template")
	fs.StringVar(&o.PredPath, "pred_path", o.PredPath, "prediction directory template")

	fs.Int64Var(&o.Seed, "seed", o.Seed, "random seed")
	fs.BoolVar(&o.StrictNumerics, "strict_numerics", o.StrictNumerics, "abort on a non-finite loss")
	fs.StringVar(&o.StatusAddr, "status_addr", o.StatusAddr, "address of the HTTP status server (empty disables it)")
	fs.StringVar(&o.LogLevel, "log_level", o.LogLevel, "debug, info, warn or error")
	fs.StringVar(&o.LogFormat, "log_format", o.LogFormat, "text or json")
}

// LoadJSON overlays the keys present in the file at path onto o.
func (o *Options) LoadJSON(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(o); err != nil {
		return errors.Wrapf(err, "decode config %s", path)
	}
	return nil
}

// SaveJSON writes o as indented JSON to path.
func (o *Options) SaveJSON(path string) error {
	b, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode options")
	}
	return errors.Wrapf(os.WriteFile(path, b, 0o644), "write %s", path)
}

// Validate checks every option range.
func (o *Options) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"batch_size", o.BatchSize},
		{"vocab_size", o.VocabSize},
		{"emb_size", o.EmbSize},
		{"hidden_size", o.HiddenSize},
		{"target_encoder_size", o.TargetEncoderSize},
		{"replay_buffer_capacity", o.ReplayBufferCapacity},
		{"n_negative_samples", o.NNegativeSamples},
		{"epochs", o.Epochs},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return errors.Wrapf(ErrInvalid, "%s must be positive, got %d", p.name, p.v)
		}
	}
	switch {
	case o.Data == "":
		return errors.Wrap(ErrInvalid, "data is required")
	case o.Exp == "":
		return errors.Wrap(ErrInvalid, "exp is required")
	case o.LearningRate <= 0:
		return errors.Wrapf(ErrInvalid, "learning_rate must be positive, got %g", o.LearningRate)
	case o.WeightDecay < 0:
		return errors.Wrapf(ErrInvalid, "weight_decay must be non-negative, got %g", o.WeightDecay)
	case o.LossScale < 0 || o.LossScale >= 1:
		return errors.Wrapf(ErrInvalid, "loss_scale must be in [0, 1), got %g", o.LossScale)
	case o.TargetEncoderLambda < 0:
		return errors.Wrapf(ErrInvalid, "target_encoder_lambda must be non-negative, got %g", o.TargetEncoderLambda)
	case o.TargetEncoderLambda > 0 && o.NNegativeSamples > o.ReplayBufferCapacity:
		// Sampling could never succeed and the contrastive term would stay 0.
		return errors.Wrapf(ErrInvalid, "n_negative_samples (%d) exceeds replay_buffer_capacity (%d)",
			o.NNegativeSamples, o.ReplayBufferCapacity)
	case o.OrthogonalRegularizationLambda < 0:
		return errors.Wrapf(ErrInvalid, "orthogonal_regularization_lambda must be non-negative, got %g", o.OrthogonalRegularizationLambda)
	case o.RunValidEvery != -1 && o.RunValidEvery <= 0:
		return errors.Wrapf(ErrInvalid, "run_valid_every must be -1 or positive, got %d", o.RunValidEvery)
	case o.StartEpoch < 0 || o.StartEpoch > o.Epochs:
		return errors.Wrapf(ErrInvalid, "start_epoch must be in [0, %d], got %d", o.Epochs, o.StartEpoch)
	case o.EarlyStopTolerance < 0:
		return errors.Wrapf(ErrInvalid, "early_stop_tolerance must be non-negative, got %d", o.EarlyStopTolerance)
	case o.WarmupSteps < 0 || o.TotalSteps < 0:
		return errors.Wrap(ErrInvalid, "warmup_steps and total_steps must be non-negative")
	case o.LogFormat != "text" && o.LogFormat != "json":
		return errors.Wrapf(ErrInvalid, "log_format must be text or json, got %q", o.LogFormat)
	}
	if _, err := o.Alignment(); err != nil {
		return err
	}
	if _, err := o.OrthMode(); err != nil {
		return err
	}
	if _, err := o.NormOrder(); err != nil {
		return err
	}
	return nil
}

// Alignment parses orthogonal_regularization_position.
func (o *Options) Alignment() (train.Alignment, error) {
	a, ok := train.ParseAlignment(o.OrthogonalRegularizationPosition)
	if !ok {
		return a, errors.Wrapf(ErrInvalid, "orthogonal_regularization_position must be sep or post, got %q", o.OrthogonalRegularizationPosition)
	}
	return a, nil
}

// OrthMode parses orth_reg_mode.
func (o *Options) OrthMode() (train.OrthMode, error) {
	switch o.OrthRegMode {
	case 0:
		return train.HiddenStatesOnly, nil
	case 1:
		return train.HiddenStatesAndRepresentations, nil
	}
	return 0, errors.Wrapf(ErrInvalid, "orth_reg_mode must be 0 or 1, got %d", o.OrthRegMode)
}

// NormOrder parses orth_norm_order.
func (o *Options) NormOrder() (float64, error) {
	s := strings.ToLower(strings.TrimSpace(o.OrthNormOrder))
	if s == "inf" {
		return math.Inf(1), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !train.ValidNormOrder(f) {
		return 0, errors.Wrapf(ErrInvalid, "orth_norm_order must be 1, 2 or inf, got %q", o.OrthNormOrder)
	}
	return f, nil
}

// Finalize derives the experiment name and the run directories, creates the
// directories and returns the path of the JSON side-file. The name gets a
// ".ml" suffix, ".copy" with the copy mechanism, and ".uni-directional"
// since the encoder reads left to right. Path templates containing %s are
// filled with the experiment name and the timemark.
func (o *Options) Finalize(now time.Time) (string, error) {
	if o.Timemark == "" {
		o.Timemark = now.Format(TimemarkLayout)
	}
	o.Exp += ".ml"
	if o.CopyAttention {
		o.Exp += ".copy"
	}
	o.Exp += ".uni-directional"

	for _, p := range []*string{&o.ExpPath, &o.PredPath, &o.ModelPath} {
		*p = fillTemplate(*p, o.Exp, o.Timemark)
		if err := os.MkdirAll(*p, 0o755); err != nil {
			return "", errors.Wrapf(err, "create %s", *p)
		}
	}
	return filepath.Join(o.ModelPath, o.Exp+".initial.json"), nil
}

// fillTemplate replaces the first %s with exp and the second with timemark.
func fillTemplate(tmpl, exp, timemark string) string {
	if !strings.Contains(tmpl, "%s") {
		return tmpl
	}
	tmpl = strings.Replace(tmpl, "%s", exp, 1)
	return strings.Replace(tmpl, "%s", timemark, 1)
}

// SplitPath returns the JSONL file of a split: <data>.<split>.jsonl.
func (o *Options) SplitPath(split string) string {
	return o.Data + "." + split + ".jsonl"
}
