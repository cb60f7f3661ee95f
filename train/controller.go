// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/tensor"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

// Config holds the lifecycle settings of a run.
type Config struct {
	Epochs         int     // last epoch to run, 1-based and inclusive
	StartEpoch     int     // first epoch to run; values < 1 mean 1
	ValidEvery     int     // -1: last batch of each epoch; > 0: every N total batches
	SaveEvery      int     // save cadence in total batches; 0 saves on new best only
	ReportEvery    int     // brief report cadence in total batches; 0 disables
	MaxGradNorm    float32 // global clip threshold; 0 disables clipping
	LossScale      float32 // primary weight is 1 - LossScale
	CopyAttention  bool    // score the extended-vocabulary targets
	StrictNumerics bool    // abort on non-finite losses instead of skipping the batch
	Exp            string  // experiment name, prefix of checkpoint names
	PredPath       string  // root of evaluator artifacts; empty disables them
}

// Parts are the collaborators of a Controller. Contrastive, Orthogonality,
// StopPolicy, Reporter and Logger may be nil.
type Parts struct {
	Model         Model
	Optimizer     Optimizer
	Replay        *ReplayBuffer
	Contrastive   *Contrastive
	Orthogonality *Orthogonality
	Evaluator     Evaluator
	Checkpointer  Checkpointer
	StopPolicy    EarlyStopPolicy
	Reporter      Reporter
	Observers     []Observer
	Vocab         *vocab.Vocab
	Logger        *slog.Logger
}

// StepResult summarizes one optimization step.
type StepResult struct {
	Loss         float32
	Primary      float32
	Contrastive  float32
	Orthogonal   float32
	Pairs        int
	PreClipNorm  float32
	PostClipNorm float32
	Skipped      bool // non-finite loss, no update applied
}

// BatchReport is sent to observers after every batch.
type BatchReport struct {
	StepResult
	Epoch      int
	Batch      int
	TotalBatch int
	LR         float32
	ReplayLen  int
	Elapsed    time.Duration
}

// ValidationReport is sent to observers after every validation.
type ValidationReport struct {
	Epoch          int
	Batch          int
	TotalBatch     int
	ValidLoss      float64
	TestLoss       float64
	BestLoss       float64
	IsBest         bool
	Checkpoint     string // empty when nothing was saved
	StopIncreasing int
	Phase          Phase
	Time           time.Time
}

// Controller runs the epoch/batch loop. It is not safe for concurrent use.
type Controller struct {
	cfg   Config
	parts Parts
	state RunState
	log   *slog.Logger
}

// NewController checks the collaborators and returns a controller with a
// fresh RunState.
func NewController(cfg Config, p Parts) (*Controller, error) {
	switch {
	case p.Model == nil:
		return nil, errors.New("controller needs a model")
	case p.Optimizer == nil:
		return nil, errors.New("controller needs an optimizer")
	case p.Replay == nil:
		return nil, errors.New("controller needs a replay buffer")
	case p.Evaluator == nil:
		return nil, errors.New("controller needs an evaluator")
	case p.Checkpointer == nil:
		return nil, errors.New("controller needs a checkpointer")
	case p.Vocab == nil:
		return nil, errors.New("controller needs a vocabulary")
	}
	if cfg.ValidEvery != -1 && cfg.ValidEvery <= 0 {
		return nil, errors.Errorf("validation cadence must be -1 or positive, got %d", cfg.ValidEvery)
	}
	if cfg.LossScale < 0 || cfg.LossScale >= 1 {
		return nil, errors.Errorf("loss scale must be in [0, 1), got %g", cfg.LossScale)
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, parts: p, state: NewRunState(), log: log}, nil
}

// State returns a copy of the run state.
func (c *Controller) State() RunState { return c.state.Clone() }

// Restore replaces the run state, e.g. with the one stored in a checkpoint.
// A terminal phase is reset so that the loop can continue.
func (c *Controller) Restore(s RunState) {
	c.state = s.Clone()
	c.state.Phase = PhaseTraining
	c.state.EarlyStopped = false
}

// CheckpointName encodes the experiment and the position in the run.
func CheckpointName(exp string, epoch, batch, totalBatch int) string {
	return fmt.Sprintf("%s.epoch=%d.batch=%d.total_batch=%d.model", exp, epoch, batch, totalBatch)
}

// Run trains from StartEpoch through Epochs and returns when all epochs are
// done or the stop policy fires. Shape, evaluator and checkpoint errors
// abort the run, as does cancelling ctx between batches.
func (c *Controller) Run(ctx context.Context, trainLoader, validLoader, testLoader data.Loader) error {
	first := c.cfg.StartEpoch
	if first < 1 {
		first = 1
	}
	c.parts.Optimizer.ZeroGrad()
	c.log.Info("training started",
		"exp", c.cfg.Exp, "start_epoch", first, "epochs", c.cfg.Epochs,
		"batches_per_epoch", trainLoader.Len(), "total_batch", c.state.TotalBatch)

	for epoch := first; epoch <= c.cfg.Epochs; epoch++ {
		c.state.Epoch = epoch
		n := trainLoader.Len()
		it := trainLoader.Iterate()
		for i := 1; ; i++ {
			if err := ctx.Err(); err != nil {
				return errors.Wrapf(err, "epoch %d batch %d", epoch, i)
			}
			b, ok := it.Next()
			if !ok {
				break
			}
			c.state.BatchInEpoch = i
			c.state.TotalBatch++
			c.state.Phase = PhaseTraining

			start := time.Now()
			res, err := c.TrainStep(b)
			if err != nil {
				return errors.Wrapf(err, "epoch %d batch %d", epoch, i)
			}
			c.observeBatch(res, time.Since(start))

			if r := c.parts.Reporter; r != nil && c.cfg.ReportEvery > 0 && c.state.TotalBatch%c.cfg.ReportEvery == 0 {
				if err := r.Report(ctx, c.parts.Model, b); err != nil {
					c.log.Warn("brief report failed", "total_batch", c.state.TotalBatch, "err", err)
				}
			}

			if !c.validationDue(i, n) {
				continue
			}
			stop, err := c.validate(ctx, validLoader, testLoader)
			if err != nil {
				return errors.Wrapf(err, "epoch %d batch %d", epoch, i)
			}
			if stop {
				c.log.Info("early stopped",
					"epoch", epoch, "total_batch", c.state.TotalBatch,
					"stop_increasing", c.state.StopIncreasing, "best_loss", c.state.BestLoss)
				return nil
			}
		}
	}
	c.state.Phase = PhaseCompleted
	c.log.Info("training completed",
		"total_batch", c.state.TotalBatch, "best_loss", c.state.BestLoss,
		"checkpoints", len(c.state.Checkpoints), "anomalies", c.state.Anomalies)
	return nil
}

func (c *Controller) validationDue(batch, batches int) bool {
	if c.cfg.ValidEvery == -1 {
		return batch == batches
	}
	return c.state.TotalBatch%c.cfg.ValidEvery == 0
}

// TrainStep runs forward, all three objectives, backward, clipping and one
// optimizer update on b. A non-finite loss is counted in RunState.Anomalies
// and the update is skipped, or returned as ErrNumericInstability when
// StrictNumerics is set.
func (c *Controller) TrainStep(b *data.Batch) (StepResult, error) {
	p := c.parts
	if err := b.Validate(); err != nil {
		return StepResult{}, err
	}
	out, err := p.Model.Forward(b)
	if err != nil {
		return StepResult{}, errors.Wrap(err, "forward")
	}
	mode := b.Mode(c.cfg.CopyAttention)
	if err := checkOutput(b, out, mode, p.Vocab.Size()); err != nil {
		return StepResult{}, err
	}
	targets := b.Targets(mode)

	primary, gradLogProbs, err := MaskedNLL(out.LogProbs, targets, p.Vocab.PadID())
	if err != nil {
		return StepResult{}, errors.Wrap(err, "primary loss")
	}
	var te ContrastiveResult
	if p.Contrastive != nil {
		if te, err = p.Contrastive.Compute(p.Model, out, b.Trg, p.Replay); err != nil {
			return StepResult{}, errors.Wrap(err, "contrastive loss")
		}
	}
	var orth OrthResult
	if p.Orthogonality != nil {
		if orth, err = p.Orthogonality.Compute(targets, out); err != nil {
			return StepResult{}, errors.Wrap(err, "orthogonal penalty")
		}
	}

	w := PrimaryWeight(c.cfg.LossScale)
	res := StepResult{
		Primary:     primary,
		Contrastive: te.Loss,
		Orthogonal:  orth.Loss,
		Pairs:       te.Pairs(),
	}
	res.Loss = Combine(primary, te.Loss, orth.Loss, w)
	if !tensor.IsFinite(res.Loss) {
		c.state.Anomalies++
		p.Optimizer.ZeroGrad()
		res.Skipped = true
		if c.cfg.StrictNumerics {
			return res, errors.Wrapf(ErrNumericInstability,
				"loss %g (primary %g, contrastive %g, orthogonal %g)", res.Loss, primary, te.Loss, orth.Loss)
		}
		c.log.Warn("non-finite loss, skipping update",
			"total_batch", c.state.TotalBatch, "primary", primary,
			"contrastive", te.Loss, "orthogonal", orth.Loss, "anomalies", c.state.Anomalies)
		return res, nil
	}

	gradLogProbs.ScaleInPlace(w)
	grad := &OutputGrad{
		LogProbs:   gradLogProbs,
		Hidden:     orth.GradHidden,
		TargetRepr: sumGrads(te.GradTargetRepr, orth.GradTargetRepr),
	}
	if err := p.Model.Backward(grad); err != nil {
		return res, errors.Wrap(err, "backward")
	}
	res.PreClipNorm, res.PostClipNorm = ClipGradNorm(p.Model.Parameters(), c.cfg.MaxGradNorm)
	p.Optimizer.Step()
	p.Optimizer.ZeroGrad()
	return res, nil
}

func (c *Controller) validate(ctx context.Context, validLoader, testLoader data.Loader) (bool, error) {
	p, s := c.parts, &c.state
	s.Phase = PhaseValidating
	opts := EvalOptions{Split: "valid", Epoch: s.Epoch, TotalBatch: s.TotalBatch, SavePath: c.predPath("valid")}
	validLoss, err := p.Evaluator.Validate(ctx, p.Model, validLoader, opts)
	if err != nil {
		return false, errors.Wrap(err, "validation")
	}
	testLoss := math.NaN()
	if testLoader != nil {
		opts.Split, opts.SavePath = "test", c.predPath("test")
		if testLoss, err = p.Evaluator.Validate(ctx, p.Model, testLoader, opts); err != nil {
			return false, errors.Wrap(err, "test")
		}
	}

	s.Phase = PhaseCheckpointDecision
	isBest := validLoss < s.BestLoss
	if isBest {
		s.BestLoss = validLoss
	}
	stop := false
	if p.StopPolicy != nil {
		stop = p.StopPolicy.Observe(s, isBest)
	}
	if stop {
		s.EarlyStopped = true
		s.Phase = PhaseEarlyStopped
	}

	rep := ValidationReport{
		Epoch:      s.Epoch,
		Batch:      s.BatchInEpoch,
		TotalBatch: s.TotalBatch,
		ValidLoss:  validLoss,
		TestLoss:   testLoss,
		BestLoss:   s.BestLoss,
		IsBest:     isBest,
		Time:       time.Now(),
	}
	if (c.cfg.SaveEvery > 0 && s.TotalBatch%c.cfg.SaveEvery == 0) || isBest {
		name := CheckpointName(c.cfg.Exp, s.Epoch, s.BatchInEpoch, s.TotalBatch)
		s.Checkpoints = append(s.Checkpoints, name)
		ckpt := Checkpoint{Name: name, ValidLoss: validLoss, State: s.Clone(), Params: p.Model.Parameters()}
		if err := p.Checkpointer.Save(ctx, ckpt); err != nil {
			return false, errors.Wrapf(err, "save checkpoint %s", name)
		}
		rep.Checkpoint = name
	}
	if !stop {
		s.Phase = PhaseTraining
	}
	rep.StopIncreasing, rep.Phase = s.StopIncreasing, s.Phase

	c.log.Info("validation",
		"epoch", s.Epoch, "total_batch", s.TotalBatch,
		"valid_loss", validLoss, "test_loss", testLoss, "best_loss", s.BestLoss,
		"is_best", isBest, "checkpoint", rep.Checkpoint, "stop_increasing", s.StopIncreasing)
	for _, o := range p.Observers {
		o.ObserveValidation(rep)
	}
	return stop, nil
}

func (c *Controller) observeBatch(res StepResult, elapsed time.Duration) {
	rep := BatchReport{
		StepResult: res,
		Epoch:      c.state.Epoch,
		Batch:      c.state.BatchInEpoch,
		TotalBatch: c.state.TotalBatch,
		ReplayLen:  c.parts.Replay.Len(),
		Elapsed:    elapsed,
	}
	if s, ok := c.parts.Optimizer.(interface{ LR() float32 }); ok {
		rep.LR = s.LR()
	}
	c.log.Debug("batch",
		"epoch", rep.Epoch, "batch", rep.Batch, "total_batch", rep.TotalBatch,
		"loss", res.Loss, "primary", res.Primary, "contrastive", res.Contrastive,
		"orthogonal", res.Orthogonal, "pairs", res.Pairs,
		"grad_norm_pre", res.PreClipNorm, "grad_norm_post", res.PostClipNorm,
		"lr", rep.LR, "replay", rep.ReplayLen, "elapsed", elapsed)
	for _, o := range c.parts.Observers {
		o.ObserveBatch(rep)
	}
}

func (c *Controller) predPath(split string) string {
	if c.cfg.PredPath == "" {
		return ""
	}
	s := c.state
	return filepath.Join(c.cfg.PredPath,
		fmt.Sprintf("epoch%d_batch%d_total_batch%d", s.Epoch, s.BatchInEpoch, s.TotalBatch), split)
}

// checkOutput verifies that every forward array agrees with the batch.
func checkOutput(b *data.Batch, out *Output, mode data.VocabMode, vocabSize int) error {
	n, t := b.Size(), b.TrgSeqLen()
	if out.Vocab != mode {
		return errors.Wrapf(ErrShapeMismatch, "model used vocabulary mode %+v, batch needs %+v", out.Vocab, mode)
	}
	want := map[string]struct {
		t    *tensor.Tensor
		dims []int // -1 matches anything
	}{
		"log_probs":   {out.LogProbs, []int{n, t, mode.Size(vocabSize)}},
		"hidden":      {out.Hidden, []int{n, t, -1}},
		"source_repr": {out.SourceRepr, []int{n, -1}},
		"target_repr": {out.TargetRepr, []int{n, t, -1}},
	}
	for name, w := range want {
		if w.t == nil {
			return errors.Wrapf(ErrShapeMismatch, "%s missing", name)
		}
		got := w.t.Shape().DimsRef()
		if len(got) != len(w.dims) {
			return errors.Wrapf(ErrShapeMismatch, "%s has shape %v", name, w.t.Shape())
		}
		for i, d := range w.dims {
			if d >= 0 && got[i] != d {
				return errors.Wrapf(ErrShapeMismatch, "%s has shape %v, want %v", name, w.t.Shape(), w.dims)
			}
		}
	}
	return nil
}

func sumGrads(a, b *tensor.Tensor) *tensor.Tensor {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return a.Add(b)
}
