// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/checkpoint"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/config"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/data"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/evaluate"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/model"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/monitor"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/vocab"
)

const (
	reportExamples = 2
	reportMaxLen   = 40
	registryFile   = "runs.sqlite3"
	vocabFile      = "vocab.json"
)

// summary is what the run reports when it finishes.
type summary struct {
	Exp       string
	ModelPath string
	State     train.RunState
	Params    int
	Best      *checkpoint.Saved
	Elapsed   time.Duration
}

// execute builds every collaborator from opts and runs the controller.
func execute(ctx context.Context, opts config.Options, logger *slog.Logger) (summary, error) {
	start := time.Now()
	trainEx, err := data.ReadJSONLFile(opts.SplitPath("train"))
	if err != nil {
		return summary{}, err
	}
	if len(trainEx) == 0 {
		return summary{}, errors.Errorf("%s has no examples", opts.SplitPath("train"))
	}
	validEx, err := data.ReadJSONLFile(opts.SplitPath("valid"))
	if err != nil {
		return summary{}, err
	}
	var testEx []data.Example
	if _, err := os.Stat(opts.SplitPath("test")); err == nil {
		if testEx, err = data.ReadJSONLFile(opts.SplitPath("test")); err != nil {
			return summary{}, err
		}
	}

	v, err := loadOrBuildVocab(opts, trainEx, logger)
	if err != nil {
		return summary{}, err
	}
	trainLoader := data.NewSliceLoader(encodeAll(trainEx, v, opts.MaxSrcLen), v, opts.BatchSize, true, opts.Seed)
	validLoader := data.NewSliceLoader(encodeAll(validEx, v, opts.MaxSrcLen), v, opts.BatchSize, false, 0)
	var testLoader data.Loader
	if len(testEx) > 0 {
		testLoader = data.NewSliceLoader(encodeAll(testEx, v, opts.MaxSrcLen), v, opts.BatchSize, false, 0)
	}
	logger.Info("data loaded",
		"train", len(trainEx), "valid", len(validEx), "test", len(testEx),
		"vocab", v.Size(), "batches_per_epoch", trainLoader.Len())

	mcfg := model.Config{
		VocabSize:         v.Size(),
		EmbSize:           opts.EmbSize,
		HiddenSize:        opts.HiddenSize,
		TargetEncoderSize: opts.TargetEncoderSize,
		CopyAttention:     opts.CopyAttention,
		Seed:              opts.Seed,
	}
	m := model.New(mcfg)
	adam := train.NewAdam(m.Parameters(), train.AdamConfig{
		LR:          float32(opts.LearningRate),
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: float32(opts.WeightDecay),
		WarmupSteps: opts.WarmupSteps,
		TotalSteps:  opts.TotalSteps,
	})

	cfg := train.Config{
		Epochs:         opts.Epochs,
		StartEpoch:     opts.StartEpoch,
		ValidEvery:     opts.RunValidEvery,
		SaveEvery:      opts.SaveModelEvery,
		ReportEvery:    opts.ReportEvery,
		MaxGradNorm:    float32(opts.MaxGradNorm),
		LossScale:      float32(opts.LossScale),
		CopyAttention:  opts.CopyAttention,
		StrictNumerics: opts.StrictNumerics,
		Exp:            opts.Exp,
		PredPath:       opts.PredPath,
	}
	var resumed *checkpoint.Meta
	if opts.TrainFrom != "" {
		meta, err := checkpoint.Load(opts.TrainFrom, m.Parameters())
		if err != nil {
			return summary{}, err
		}
		resumed = &meta
		adam.SetStepCount(meta.State.TotalBatch)
		if cfg.StartEpoch == 0 {
			cfg.StartEpoch = meta.State.Epoch + 1
		}
		logger.Info("resumed", "checkpoint", opts.TrainFrom, "epoch", meta.State.Epoch,
			"total_batch", meta.State.TotalBatch, "best_loss", meta.State.BestLoss, "start_epoch", cfg.StartEpoch)
	}

	markers := train.Markers{Sep: v.SepID(), EOS: v.EOSID()}
	contrastive, err := train.NewContrastive(float32(opts.TargetEncoderLambda), opts.NNegativeSamples, markers,
		rand.New(rand.NewSource(opts.Seed+1)))
	if err != nil {
		return summary{}, err
	}
	align, _ := opts.Alignment()
	mode, _ := opts.OrthMode()
	order, _ := opts.NormOrder()

	registry, err := checkpoint.OpenRegistry(filepath.Join(opts.ModelPath, registryFile), opts.Exp, logger)
	if err != nil {
		return summary{}, err
	}
	defer registry.Close()
	observers := []train.Observer{registry}

	if opts.StatusAddr != "" {
		mon := monitor.New(opts.Exp, registry, logger)
		observers = append(observers, mon)
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := mon.Serve(sctx, opts.StatusAddr); err != nil {
				logger.Warn("status server stopped", "err", err)
			}
		}()
	}

	var stop train.EarlyStopPolicy
	if opts.EarlyStopTolerance > 0 {
		stop = train.PatiencePolicy{Patience: opts.EarlyStopTolerance}
	}
	ctrl, err := train.NewController(cfg, train.Parts{
		Model:       m,
		Optimizer:   adam,
		Replay:      train.NewReplayBuffer(opts.ReplayBufferCapacity, rand.New(rand.NewSource(opts.Seed+2))),
		Contrastive: contrastive,
		Orthogonality: &train.Orthogonality{
			Coef:    float32(opts.OrthogonalRegularizationLambda),
			Align:   align,
			Mode:    mode,
			Order:   order,
			Markers: markers,
			PadID:   v.PadID(),
		},
		Evaluator:    evaluate.NewNLLEvaluator(v, logger),
		Checkpointer: checkpoint.NewStore(opts.ModelPath, logger),
		StopPolicy:   stop,
		Reporter:     evaluate.NewSampleReporter(v, reportExamples, reportMaxLen, opts.Seed, logger),
		Observers:    observers,
		Vocab:        v,
		Logger:       logger,
	})
	if err != nil {
		return summary{}, err
	}
	if resumed != nil {
		ctrl.Restore(resumed.State)
	}

	if err := ctrl.Run(ctx, trainLoader, validLoader, testLoader); err != nil {
		return summary{}, err
	}
	if err := registry.Err(); err != nil {
		return summary{}, err
	}

	sum := summary{
		Exp:       opts.Exp,
		ModelPath: opts.ModelPath,
		State:     ctrl.State(),
		Params:    mcfg.TotalParams(),
		Elapsed:   time.Since(start),
	}
	if best, ok, err := registry.Best(ctx); err != nil {
		logger.Warn("read best checkpoint", "err", err)
	} else if ok {
		sum.Best = &best
	}
	return sum, nil
}

// loadOrBuildVocab reads the vocabulary file, or builds one from the
// training split and writes it there. The file defaults to
// <model_path>/vocab.json.
func loadOrBuildVocab(opts config.Options, trainEx []data.Example, logger *slog.Logger) (*vocab.Vocab, error) {
	path := opts.Vocab
	if path == "" {
		path = filepath.Join(opts.ModelPath, vocabFile)
	}
	if _, err := os.Stat(path); err == nil {
		logger.Info("vocabulary loaded", "path", path)
		return vocab.Load(path)
	}
	v := vocab.Build(data.CountTokens(trainEx), opts.VocabSize)
	if err := v.Save(path); err != nil {
		return nil, err
	}
	logger.Info("vocabulary built", "path", path, "size", v.Size())
	return v, nil
}

func encodeAll(examples []data.Example, v *vocab.Vocab, maxSrcLen int) []data.Encoded {
	out := make([]data.Encoded, len(examples))
	for i, ex := range examples {
		out[i] = data.Encode(ex, v, maxSrcLen)
	}
	return out
}
