// Package trainer defines the multi-seed training collaborator a sweep
// calls for every hyperparameter value.
package trainer

import (
	"context"
	"errors"

	"github.com/rand/gatsweep/internal/config"
)

var (
	// ErrMissingResult means the trainer output had no per-seed test performance.
	ErrMissingResult = errors.New("trainer result missing test_perf_at_best_val")

	// ErrMalformedResult means the trainer output was not a JSON object.
	ErrMalformedResult = errors.New("malformed trainer result")
)

// Result is what one multi-seed training call returns.
type Result struct {
	// TestPerfAtBestVal holds the test metric at the best validation
	// epoch, one entry per seed.
	TestPerfAtBestVal []float64 `json:"test_perf_at_best_val"`

	// BestValPerf holds the best validation metric per seed, when reported.
	BestValPerf []float64 `json:"best_val_perf,omitempty"`

	// Extra carries any other scalar the trainer reported.
	Extra map[string]float64 `json:"extra,omitempty"`
}

// Trainer trains one configuration across runs seeds.
// Implementations called from a parallel sweep must be safe for
// concurrent use.
type Trainer interface {
	Train(ctx context.Context, exp config.Experiment, runs int) (*Result, error)
}

// CacheReleaser is implemented by trainers that can free accelerator
// memory between calls. Release is advisory.
type CacheReleaser interface {
	ReleaseCache(ctx context.Context) error
}

// Func adapts an ordinary function to Trainer.
type Func func(ctx context.Context, exp config.Experiment, runs int) (*Result, error)

// Train calls f.
func (f Func) Train(ctx context.Context, exp config.Experiment, runs int) (*Result, error) {
	return f(ctx, exp, runs)
}
