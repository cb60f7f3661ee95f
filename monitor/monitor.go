// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package monitor serves the progress of a training run over HTTP.
package monitor

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/checkpoint"
	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
)

// History is the read side of the run registry.
type History interface {
	Checkpoints(ctx context.Context) ([]checkpoint.Saved, error)
	Validations(ctx context.Context, limit int) ([]checkpoint.Validation, error)
}

// Monitor keeps copies of the latest reports. It implements train.Observer
// and is safe for concurrent use by the training loop and HTTP handlers.
type Monitor struct {
	exp     string
	started time.Time
	history History
	log     *slog.Logger

	mu        sync.RWMutex
	lastBatch *train.BatchReport
	lastValid *train.ValidationReport
	skipped   int
}

// New creates a monitor. history may be nil, which disables /checkpoints
// and /history.
func New(exp string, history History, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{exp: exp, started: time.Now(), history: history, log: logger}
}

// ObserveBatch implements train.Observer.
func (m *Monitor) ObserveBatch(r train.BatchReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBatch = &r
	if r.Skipped {
		m.skipped++
	}
}

// ObserveValidation implements train.Observer.
func (m *Monitor) ObserveValidation(r train.ValidationReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastValid = &r
}

// Handler returns the gin engine with all routes installed.
func (m *Monitor) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", m.handleHealth)
	r.GET("/status", m.handleStatus)
	r.GET("/checkpoints", m.handleCheckpoints)
	r.GET("/history", m.handleHistory)
	return r
}

// Serve listens on addr until ctx is cancelled.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: m.Handler()}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			m.log.Warn("status server shutdown", "err", err)
		}
	}()
	m.log.Info("status server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "status server %s", addr)
	}
	return nil
}

func (m *Monitor) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "exp": m.exp})
}

func (m *Monitor) handleStatus(c *gin.Context) {
	m.mu.RLock()
	batch, valid, skipped := m.lastBatch, m.lastValid, m.skipped
	m.mu.RUnlock()

	resp := gin.H{
		"exp":            m.exp,
		"uptime_seconds": time.Since(m.started).Seconds(),
		"skipped":        skipped,
	}
	if batch != nil {
		resp["batch"] = gin.H{
			"epoch":          batch.Epoch,
			"batch":          batch.Batch,
			"total_batch":    batch.TotalBatch,
			"loss":           finite(float64(batch.Loss)),
			"primary":        finite(float64(batch.Primary)),
			"contrastive":    finite(float64(batch.Contrastive)),
			"orthogonal":     finite(float64(batch.Orthogonal)),
			"pairs":          batch.Pairs,
			"grad_norm_pre":  finite(float64(batch.PreClipNorm)),
			"grad_norm_post": finite(float64(batch.PostClipNorm)),
			"lr":             batch.LR,
			"replay":         batch.ReplayLen,
			"elapsed_ms":     batch.Elapsed.Milliseconds(),
		}
	}
	if valid != nil {
		resp["validation"] = gin.H{
			"epoch":           valid.Epoch,
			"total_batch":     valid.TotalBatch,
			"valid_loss":      finite(valid.ValidLoss),
			"test_loss":       finite(valid.TestLoss),
			"best_loss":       finite(valid.BestLoss),
			"is_best":         valid.IsBest,
			"checkpoint":      valid.Checkpoint,
			"stop_increasing": valid.StopIncreasing,
			"phase":           valid.Phase.String(),
		}
	}
	if res, err := resources(); err != nil {
		resp["resources_error"] = err.Error()
	} else {
		resp["resources"] = res
	}
	c.JSON(http.StatusOK, resp)
}

func (m *Monitor) handleCheckpoints(c *gin.Context) {
	if m.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no registry"})
		return
	}
	saved, err := m.history.Checkpoints(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(saved))
	for _, s := range saved {
		out = append(out, gin.H{
			"name":        s.Name,
			"epoch":       s.Epoch,
			"total_batch": s.TotalBatch,
			"valid_loss":  finite(s.ValidLoss),
			"is_best":     s.IsBest,
			"time":        s.Time.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": out})
}

func (m *Monitor) handleHistory(c *gin.Context) {
	if m.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no registry"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	vals, err := m.history.Validations(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(vals))
	for _, v := range vals {
		out = append(out, gin.H{
			"epoch":       v.Epoch,
			"batch":       v.Batch,
			"total_batch": v.TotalBatch,
			"valid_loss":  finite(v.ValidLoss),
			"test_loss":   finite(v.TestLoss),
			"best_loss":   finite(v.BestLoss),
			"is_best":     v.IsBest,
			"checkpoint":  v.Checkpoint,
			"phase":       v.Phase,
		})
	}
	c.JSON(http.StatusOK, gin.H{"validations": out})
}

// resources reports the memory and CPU use of this process.
func resources() (gin.H, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, "get process")
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return nil, errors.Wrap(err, "get memory info")
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return nil, errors.Wrap(err, "get cpu percent")
	}
	return gin.H{"rss_bytes": mem.RSS, "vms_bytes": mem.VMS, "cpu_percent": cpu}, nil
}

// finite maps non-finite values to JSON null.
func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}
