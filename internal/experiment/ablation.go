// Package experiment runs hyperparameter ablations: one sweep per
// experiment, followed by the line plots that compare them.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/observability"
	"github.com/rand/gatsweep/internal/render"
	"github.com/rand/gatsweep/internal/sweep"
)

// Default axis labels.
const (
	DefaultXLabel         = "Mixing Coefficient (Log)"
	DefaultCombinedYLabel = "Test Performance"
)

// ErrNonPositiveLogX reports a sweep value that a log x axis cannot show.
var ErrNonPositiveLogX = errors.New("log x axis needs positive sweep values")

// checkLogX rejects values a log10 axis cannot place.
func checkLogX(values []float64) error {
	for _, v := range values {
		if !(v > 0) {
			return fmt.Errorf("%w: got %g (set use_log_x to false)", ErrNonPositiveLogX, v)
		}
	}
	return nil
}

// Sweeper runs one sweep. *sweep.Runner implements it.
type Sweeper interface {
	Run(ctx context.Context, req sweep.Request) (*sweep.Aggregate, error)
}

// Request is one ablation over a list of experiments.
type Request struct {
	HParam      string
	Values      []float64
	Experiments []config.Experiment
	Runs        int
	Tasks       []sweep.Task

	// PlotIndividual draws one figure per experiment; otherwise a single
	// faceted figure compares every experiment.
	PlotIndividual bool
	XLabel         string
	YLabel         string
	UseLogX        bool
}

// Result holds the merged statistics of an ablation, keyed by
// (attention form, dataset, task), and the figures written.
type Result struct {
	Means   map[sweep.Tuple][]float64
	Stds    map[sweep.Tuple][]float64
	Figures []string
}

// PerfAgainstHParam sweeps every experiment and plots test performance
// against the hyperparameter.
func PerfAgainstHParam(ctx context.Context, sw Sweeper, theme render.Theme, req Request) (*Result, error) {
	if len(req.Experiments) == 0 {
		return nil, errors.New("ablation has no experiments")
	}
	tasks := req.Tasks
	if len(tasks) == 0 {
		tasks = sweep.DefaultTasks
	}
	x := req.Values
	if req.UseLogX {
		if err := checkLogX(req.Values); err != nil {
			return nil, err
		}
		x = log10All(req.Values)
	}
	xLabel := req.XLabel
	if xLabel == "" {
		xLabel = DefaultXLabel
	}

	res := &Result{
		Means: make(map[sweep.Tuple][]float64),
		Stds:  make(map[sweep.Tuple][]float64),
	}

	for _, exp := range req.Experiments {
		agg, err := sw.Run(ctx, sweep.Request{
			HParam:     req.HParam,
			Values:     req.Values,
			Experiment: exp,
			Repeats:    req.Runs,
			Tasks:      tasks,
		})
		if err != nil {
			return nil, fmt.Errorf("ablate %s: %w", exp.Key(), err)
		}

		for _, task := range tasks {
			means, stds, ok := agg.ForTask(task)
			if !ok {
				continue
			}
			key := sweep.NewTuple(exp.M, exp.DatasetName, task.Display())
			res.Means[key] = means
			res.Stds[key] = stds
		}

		if !req.PlotIndividual {
			continue
		}
		order := make([]string, len(tasks))
		for i, t := range tasks {
			order[i] = t.Display()
		}
		path, err := render.LineWithStd(theme, render.LineRequest{
			Means:      agg.Means,
			Stds:       agg.Stds,
			LabelNames: []string{"Task"},
			X:          x,
			XLabel:     xLabel,
			YLabel:     individualYLabel(req.YLabel, exp),
			Hue:        "Task",
			Order:      order,
			ErrStyle:   render.ErrBand,
			CustomKey:  sweep.SweepKey(req.HParam, exp),
			Extension:  "png",
		})
		if err != nil {
			return nil, fmt.Errorf("plot %s: %w", exp.Key(), err)
		}
		slog.Info("Wrote figure", "path", path)
		res.Figures = append(res.Figures, path)
	}

	if !req.PlotIndividual {
		yLabel := req.YLabel
		if yLabel == "" {
			yLabel = DefaultCombinedYLabel
		}
		path, err := render.LineWithStd(theme, render.LineRequest{
			Means:      res.Means,
			Stds:       res.Stds,
			LabelNames: []string{"GAT", "Dataset", "Task"},
			X:          x,
			XLabel:     xLabel,
			YLabel:     yLabel,
			Hue:        "GAT",
			Row:        "Task",
			Col:        "Dataset",
			Aspect:     1.5,
			Order:      []string{"GO", "DP"},
			ErrStyle:   render.ErrBand,
			CustomKey:  fmt.Sprintf("perf_against_%s_real_world_datasets", req.HParam),
			Extension:  "pdf",
		})
		if err != nil {
			return nil, fmt.Errorf("plot combined: %w", err)
		}
		slog.Info("Wrote figure", "path", path)
		res.Figures = append(res.Figures, path)
	}

	return res, nil
}

func individualYLabel(label string, exp config.Experiment) string {
	if label != "" {
		return label
	}
	metric := "Acc"
	if exp.DatasetName == "PPI" {
		metric = "F1"
	}
	return fmt.Sprintf("Test Perf. (%s., AUC)", metric)
}

func log10All(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Log10(v)
	}
	return out
}

// Run executes every request of a plan between MODE and END MODE lines.
func Run(ctx context.Context, sw Sweeper, theme render.Theme, console *observability.Console, plan Plan) ([]*Result, error) {
	console.Mode(plan.Mode)
	results := make([]*Result, 0, len(plan.Requests))
	for i, req := range plan.Requests {
		res, err := PerfAgainstHParam(ctx, sw, theme, req)
		if err != nil {
			return results, fmt.Errorf("%s request %d: %w", plan.Mode, i, err)
		}
		results = append(results, res)
		if len(req.Experiments) == 1 {
			console.Notef("Done: %s", req.Experiments[0].DatasetName)
		}
	}
	console.EndMode(plan.Mode)
	return results, nil
}
