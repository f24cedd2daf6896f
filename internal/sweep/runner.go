// Package sweep runs one hyperparameter over a list of values for every
// requested task, caching each task's Result Matrix on disk so a sweep is
// trained at most once.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/observability"
	"github.com/rand/gatsweep/internal/trainer"
)

var (
	// ErrEmptySweep is returned for a request without sweep values.
	ErrEmptySweep = errors.New("sweep has no values")

	// ErrShapeMismatch is returned when a matrix or trainer vector does not
	// have the shape the sweep asks for.
	ErrShapeMismatch = errors.New("result shape mismatch")
)

// MismatchPolicy decides what happens to a cached matrix that was
// produced by a different sweep.
type MismatchPolicy string

const (
	// MismatchError fails the task with ErrShapeMismatch.
	MismatchError MismatchPolicy = "error"
	// MismatchRecompute discards the cached matrix and trains again.
	MismatchRecompute MismatchPolicy = "recompute"
)

// ParseMismatchPolicy accepts "error" (or empty) and "recompute".
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch p := MismatchPolicy(s); p {
	case "", MismatchError:
		return MismatchError, nil
	case MismatchRecompute:
		return p, nil
	default:
		return "", fmt.Errorf("unknown mismatch policy %q", s)
	}
}

// Options configures a Runner.
type Options struct {
	// FigsRoot is the directory cache directories are created under.
	FigsRoot string

	// Store persists matrices. Defaults to NPYStore.
	Store Store

	// Manifest, when set, records every saved matrix and is consulted on
	// cache hits.
	Manifest *Manifest

	OnMismatch MismatchPolicy

	// Parallel bounds how many sweep points train at once. Values below 2
	// train strictly in list order.
	Parallel int

	Metrics *observability.SweepMetrics
	Console *observability.Console
}

// Request is one sweep.
type Request struct {
	HParam     string
	Values     []float64
	Experiment config.Experiment
	Repeats    int
	Tasks      []Task
}

// Runner maps sweep requests to aggregates through the on-disk cache.
type Runner struct {
	trainer trainer.Trainer
	opts    Options
}

// NewRunner creates a runner around t.
func NewRunner(t trainer.Trainer, opts Options) *Runner {
	if opts.Store == nil {
		opts.Store = NPYStore{}
	}
	if opts.OnMismatch == "" {
		opts.OnMismatch = MismatchError
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Runner{trainer: t, opts: opts}
}

// SweepKey names the cache directory of a sweep.
func SweepKey(hparam string, exp config.Experiment) string {
	return fmt.Sprintf("perf_against_%s_%s", hparam, exp.Key())
}

// CacheDir is the directory holding every task matrix of a sweep.
func (r *Runner) CacheDir(hparam string, exp config.Experiment) string {
	return filepath.Join(r.opts.FigsRoot, SweepKey(hparam, exp))
}

// ResultPath is the file holding one task's matrix.
func (r *Runner) ResultPath(hparam string, exp config.Experiment, task Task) string {
	return filepath.Join(r.CacheDir(hparam, exp), string(task)+"."+r.opts.Store.Ext())
}

// Run loads or trains every task of req and returns the per-value mean
// and population standard deviation of each.
func (r *Runner) Run(ctx context.Context, req Request) (*Aggregate, error) {
	if _, err := req.Experiment.HParam(req.HParam); err != nil {
		return nil, err
	}
	if len(req.Values) == 0 {
		return nil, ErrEmptySweep
	}
	if req.Repeats < 1 {
		return nil, fmt.Errorf("repeats must be positive, got %d", req.Repeats)
	}
	tasks := req.Tasks
	if len(tasks) == 0 {
		tasks = DefaultTasks
	}

	dir := r.CacheDir(req.HParam, req.Experiment)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	sweepKey := SweepKey(req.HParam, req.Experiment)

	agg := newAggregate()
	for _, task := range tasks {
		exp := req.Experiment
		if task == TaskLink {
			exp = exp.ForLinkPrediction()
		}

		path := filepath.Join(dir, string(task)+"."+r.opts.Store.Ext())
		m, err := r.loadOrTrain(ctx, sweepKey, path, task, exp, req)
		if err != nil {
			return nil, fmt.Errorf("sweep %s task %s: %w", sweepKey, task, err)
		}

		slog.Info("Sweep task ready", "sweep", sweepKey, "task", task, "mean", overallMean(m))
		agg.Matrices[task] = m
	}

	for _, task := range tasks {
		m := agg.Matrices[task]
		if err := r.opts.Store.Save(filepath.Join(dir, string(task)+"."+r.opts.Store.Ext()), m); err != nil {
			return nil, fmt.Errorf("write back %s: %w", task, err)
		}
		means, stds := RowStats(m)
		key := NewTuple(task.Display())
		agg.Means[key] = means
		agg.Stds[key] = stds
	}

	return agg, nil
}

func (r *Runner) loadOrTrain(ctx context.Context, sweepKey, path string, task Task, exp config.Experiment, req Request) (*mat.Dense, error) {
	m, err := r.opts.Store.Load(path)
	switch {
	case err == nil:
		if mismatch := r.checkCached(ctx, sweepKey, task, m, req.Values); mismatch != nil {
			r.opts.Metrics.RecordMismatch()
			if r.opts.OnMismatch != MismatchRecompute {
				return nil, mismatch
			}
			slog.Warn("Recomputing mismatched cache", "path", path, "reason", mismatch)
			break
		}
		r.opts.Metrics.RecordCacheHit()
		r.opts.Console.Load(path)
		return m, nil
	case errors.Is(err, ErrNotCached):
	default:
		return nil, fmt.Errorf("load cached result: %w", err)
	}

	r.opts.Metrics.RecordCacheMiss()
	m, err = r.train(ctx, exp, req)
	if err != nil {
		return nil, err
	}

	if err := r.opts.Store.Save(path, m); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	r.opts.Console.Dump(path)

	if r.opts.Manifest != nil {
		entry := Entry{
			SweepKey: sweepKey,
			Task:     task,
			HParam:   req.HParam,
			Values:   req.Values,
			Repeats:  req.Repeats,
			RunID:    uuid.NewString(),
			StoreExt: r.opts.Store.Ext(),
		}
		if err := r.opts.Manifest.Record(ctx, entry); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// checkCached reports why a loaded matrix cannot serve the current sweep,
// or nil if it can.
func (r *Runner) checkCached(ctx context.Context, sweepKey string, task Task, m *mat.Dense, values []float64) error {
	rows, _ := m.Dims()
	if rows != len(values) {
		return fmt.Errorf("%w: cached matrix has %d rows, sweep has %d values", ErrShapeMismatch, rows, len(values))
	}
	if r.opts.Manifest == nil {
		return nil
	}
	entry, err := r.opts.Manifest.Lookup(ctx, sweepKey, task)
	if err != nil {
		slog.Warn("Manifest lookup failed", "sweep", sweepKey, "task", task, "error", err)
		return nil
	}
	if entry != nil && entry.Fingerprint != Fingerprint(values) {
		return fmt.Errorf("%w: cached matrix was computed for values %v", ErrShapeMismatch, entry.Values)
	}
	return nil
}

// train runs every sweep point and assembles the rows in list order.
func (r *Runner) train(ctx context.Context, exp config.Experiment, req Request) (*mat.Dense, error) {
	rows := make([][]float64, len(req.Values))

	point := func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		pointExp, err := exp.With(req.HParam, req.Values[i])
		if err != nil {
			return err
		}

		done := r.opts.Metrics.StartPoint()
		res, err := r.trainer.Train(ctx, pointExp, req.Repeats)
		done(err)
		if err != nil {
			return fmt.Errorf("train %s=%g: %w", req.HParam, req.Values[i], err)
		}
		if len(res.TestPerfAtBestVal) != req.Repeats {
			return fmt.Errorf("%w: trainer returned %d results for %d repeats",
				ErrShapeMismatch, len(res.TestPerfAtBestVal), req.Repeats)
		}
		rows[i] = res.TestPerfAtBestVal

		if rel, ok := r.trainer.(trainer.CacheReleaser); ok {
			if err := rel.ReleaseCache(ctx); err != nil {
				slog.Warn("Release trainer cache failed", "error", err)
			}
		}
		return nil
	}

	if r.opts.Parallel < 2 {
		for i := range req.Values {
			if err := point(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Parallel)
		for i := range req.Values {
			g.Go(func() error { return point(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	m := mat.NewDense(len(rows), req.Repeats, nil)
	for i, row := range rows {
		m.SetRow(i, row)
	}
	return m, nil
}
