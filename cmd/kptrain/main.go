// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Command kptrain trains the copy-enabled keyphrase generator with the
// contrastive target-encoder loss and the orthogonality penalty.
//
// Usage:
//
//	kptrain -data data/kp20k -exp kp20k -target_encoder_lambda 0.1 \
//	    -orthogonal_regularization_lambda 0.01 -run_valid_every 2000
//
// The data prefix names <data>.train.jsonl, <data>.valid.jsonl and an
// optional <data>.test.jsonl with one {"src": ..., "trg": [...]} per line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, trains and returns the process exit code: 0 on success,
// 1 on a training failure, 2 on invalid options.
func run(args []string, stdout, stderr io.Writer) (code int) {
	opts := config.Default()
	fs := flag.NewFlagSet("kptrain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "JSON options overlay; explicit flags take precedence")
	opts.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *cfgPath != "" {
		if err := opts.LoadJSON(*cfgPath); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		// Flags given on the command line win over the file.
		if err := fs.Parse(args); err != nil {
			return 2
		}
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	sidePath, err := opts.Finalize(time.Now())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger, closeLog, err := newLogger(opts, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer closeLog()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic", "exp", opts.Exp, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			code = 1
		}
	}()

	logger.Info("experiment", "exp", opts.Exp, "exp_path", opts.ExpPath, "model_path", opts.ModelPath)
	if err := opts.SaveJSON(sidePath); err != nil {
		logger.Error("save options", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sum, err := execute(ctx, opts, logger)
	if err != nil {
		logger.Error("training failed", "exp", opts.Exp, "err", err)
		return 1
	}
	fmt.Fprintln(stdout, renderSummary(sum))
	return 0
}

// newLogger builds the slog logger writing to stderr and to
// <exp_path>/output.log.
func newLogger(opts config.Options, stderr io.Writer) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		return nil, nil, errors.Wrapf(err, "log_level %q", opts.LogLevel)
	}
	path := filepath.Join(opts.ExpPath, "output.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", path)
	}
	w := io.MultiWriter(stderr, f)
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, hopts)
	if opts.LogFormat == "json" {
		h = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(h), func() { f.Close() }, nil
}
