// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package checkpoint

import (
	"context"
	"database/sql"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/yashkhem1/seq2seq-keyphrase-pytorch/train"
)

// Validation is one row of the validation history.
type Validation struct {
	Time           time.Time
	Epoch          int
	Batch          int
	TotalBatch     int
	ValidLoss      float64 // NaN when the evaluator returned a non-finite loss
	TestLoss       float64 // NaN when no test split was evaluated
	BestLoss       float64
	IsBest         bool
	Checkpoint     string
	StopIncreasing int
	Phase          string
}

// Saved is one row of the saved-checkpoint table.
type Saved struct {
	Time       time.Time
	Name       string
	Epoch      int
	TotalBatch int
	ValidLoss  float64
	IsBest     bool
}

// Registry records a run's validations and checkpoints in SQLite. It
// implements train.Observer; write failures are logged and kept in Err
// because observers cannot fail the run.
type Registry struct {
	db  *sql.DB
	exp string
	log *slog.Logger

	mu  sync.Mutex
	err error
}

// OpenRegistry opens (or creates) the database at path. Rows are tagged
// with exp so several experiments may share one file.
func OpenRegistry(path, exp string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open registry %s", path)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS validations(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts REAL NOT NULL,
			exp TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			batch INTEGER NOT NULL,
			total_batch INTEGER NOT NULL,
			valid_loss REAL,
			test_loss REAL,
			best_loss REAL,
			is_best INTEGER NOT NULL,
			checkpoint TEXT,
			stop_increasing INTEGER NOT NULL,
			phase TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts REAL NOT NULL,
			exp TEXT NOT NULL,
			name TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			total_batch INTEGER NOT NULL,
			valid_loss REAL,
			is_best INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batches(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			exp TEXT NOT NULL,
			total_batch INTEGER NOT NULL,
			loss REAL,
			primary_loss REAL,
			contrastive REAL,
			orthogonal REAL,
			pairs INTEGER NOT NULL,
			grad_norm REAL,
			lr REAL,
			skipped INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "init registry %s", path)
		}
	}
	return &Registry{db: db, exp: exp, log: logger}, nil
}

// Close releases the database.
func (r *Registry) Close() error { return r.db.Close() }

// Err returns the first write error, if any.
func (r *Registry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Registry) fail(op string, err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = errors.Wrap(err, op)
	}
	r.mu.Unlock()
	r.log.Warn("registry write failed", "op", op, "err", err)
}

// ObserveBatch records the losses of one training step.
func (r *Registry) ObserveBatch(rep train.BatchReport) {
	_, err := r.db.Exec(`INSERT INTO batches(exp,total_batch,loss,primary_loss,contrastive,orthogonal,pairs,grad_norm,lr,skipped)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.exp, rep.TotalBatch,
		nullable(float64(rep.Loss)), nullable(float64(rep.Primary)),
		nullable(float64(rep.Contrastive)), nullable(float64(rep.Orthogonal)),
		rep.Pairs, nullable(float64(rep.PreClipNorm)), float64(rep.LR), rep.Skipped)
	if err != nil {
		r.fail("insert batch", err)
	}
}

// ObserveValidation records a validation and, when one was written, the
// checkpoint it produced.
func (r *Registry) ObserveValidation(rep train.ValidationReport) {
	ts := unixSeconds(rep.Time)
	_, err := r.db.Exec(`INSERT INTO validations(ts,exp,epoch,batch,total_batch,valid_loss,test_loss,best_loss,is_best,checkpoint,stop_increasing,phase)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		ts, r.exp, rep.Epoch, rep.Batch, rep.TotalBatch,
		nullable(rep.ValidLoss), nullable(rep.TestLoss), nullable(rep.BestLoss),
		rep.IsBest, rep.Checkpoint, rep.StopIncreasing, rep.Phase.String())
	if err != nil {
		r.fail("insert validation", err)
		return
	}
	if rep.Checkpoint == "" {
		return
	}
	_, err = r.db.Exec(`INSERT INTO checkpoints(ts,exp,name,epoch,total_batch,valid_loss,is_best) VALUES(?,?,?,?,?,?,?)`,
		ts, r.exp, rep.Checkpoint, rep.Epoch, rep.TotalBatch, nullable(rep.ValidLoss), rep.IsBest)
	if err != nil {
		r.fail("insert checkpoint", err)
	}
}

// Validations returns the most recent validations of the experiment, newest
// first. limit <= 0 returns all of them.
func (r *Registry) Validations(ctx context.Context, limit int) ([]Validation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT ts,epoch,batch,total_batch,valid_loss,test_loss,best_loss,is_best,checkpoint,stop_increasing,phase
		FROM validations WHERE exp=? ORDER BY id DESC LIMIT ?`, r.exp, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query validations")
	}
	defer rows.Close()
	var out []Validation
	for rows.Next() {
		var (
			v                 Validation
			ts                float64
			valid, test, best sql.NullFloat64
			ckpt              sql.NullString
		)
		if err := rows.Scan(&ts, &v.Epoch, &v.Batch, &v.TotalBatch, &valid, &test, &best,
			&v.IsBest, &ckpt, &v.StopIncreasing, &v.Phase); err != nil {
			return nil, errors.Wrap(err, "scan validation")
		}
		v.Time = fromUnixSeconds(ts)
		v.ValidLoss, v.TestLoss, v.BestLoss = orNaN(valid), orNaN(test), orNaN(best)
		v.Checkpoint = ckpt.String
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "iterate validations")
}

// Checkpoints returns the saved checkpoints of the experiment in save order.
func (r *Registry) Checkpoints(ctx context.Context) ([]Saved, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ts,name,epoch,total_batch,valid_loss,is_best
		FROM checkpoints WHERE exp=? ORDER BY id`, r.exp)
	if err != nil {
		return nil, errors.Wrap(err, "query checkpoints")
	}
	defer rows.Close()
	var out []Saved
	for rows.Next() {
		var (
			s     Saved
			ts    float64
			valid sql.NullFloat64
		)
		if err := rows.Scan(&ts, &s.Name, &s.Epoch, &s.TotalBatch, &valid, &s.IsBest); err != nil {
			return nil, errors.Wrap(err, "scan checkpoint")
		}
		s.Time, s.ValidLoss = fromUnixSeconds(ts), orNaN(valid)
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "iterate checkpoints")
}

// Best returns the best-scoring checkpoint, if any was saved as best.
func (r *Registry) Best(ctx context.Context) (Saved, bool, error) {
	saved, err := r.Checkpoints(ctx)
	if err != nil {
		return Saved{}, false, err
	}
	for i := len(saved) - 1; i >= 0; i-- {
		if saved[i].IsBest {
			return saved[i], true, nil
		}
	}
	return Saved{}, false, nil
}

// nullable maps non-finite values to SQL NULL.
func nullable(x float64) any {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return x
}

func orNaN(x sql.NullFloat64) float64 {
	if !x.Valid {
		return math.NaN()
	}
	return x.Float64
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		t = time.Now()
	}
	return float64(t.UnixMilli()) / 1000.0
}

func fromUnixSeconds(s float64) time.Time {
	return time.UnixMilli(int64(math.Round(s * 1000)))
}
