package sweep

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"pgregory.net/rapid"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/observability"
	"github.com/rand/gatsweep/internal/trainer"
)

// recordingTrainer returns hparam*(seed+1) for every seed and remembers
// every experiment it was asked to train.
type recordingTrainer struct {
	hparam string

	mu       sync.Mutex
	calls    []config.Experiment
	released int
}

func (r *recordingTrainer) Train(_ context.Context, exp config.Experiment, runs int) (*trainer.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, exp)
	r.mu.Unlock()

	v, err := exp.HParam(r.hparam)
	if err != nil {
		return nil, err
	}
	out := make([]float64, runs)
	for j := range out {
		out[j] = v * float64(j+1)
	}
	return &trainer.Result{TestPerfAtBestVal: out}, nil
}

func (r *recordingTrainer) ReleaseCache(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
	return nil
}

func (r *recordingTrainer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func coraExperiment(t *testing.T) config.Experiment {
	t.Helper()
	exp, err := config.New(config.Options{
		ModelName:    "GAT",
		DatasetClass: "Planetoid",
		DatasetName:  "Cora",
		CustomKey:    "EV1O8-ES",
	})
	require.NoError(t, err)
	return exp
}

func TestRunner_ColdCacheScenario(t *testing.T) {
	root := t.TempDir()
	tr := &recordingTrainer{hparam: config.HParamAttLambda}
	var out bytes.Buffer
	r := NewRunner(tr, Options{FigsRoot: root, Console: observability.NewConsole(&out)})

	exp := coraExperiment(t)
	agg, err := r.Run(context.Background(), Request{
		HParam:     config.HParamAttLambda,
		Values:     []float64{0.1, 1.0, 10.0},
		Experiment: exp,
		Repeats:    3,
		Tasks:      []Task{TaskNode},
	})
	require.NoError(t, err)

	require.Len(t, tr.calls, 3)
	for i, want := range []float64{0.1, 1.0, 10.0} {
		assert.Equal(t, want, tr.calls[i].AttLambda)
	}
	assert.Equal(t, 3, tr.released)

	m := agg.Matrices[TaskNode]
	rows, cols := m.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, cols)

	path := filepath.Join(root, "perf_against_att_lambda_GAT-Cora-EV1O8-ES", "node.npy")
	assert.FileExists(t, path)
	assert.Equal(t, path, r.ResultPath(config.HParamAttLambda, exp, TaskNode))
	assert.Contains(t, out.String(), "Dump: "+path)

	means, stds, ok := agg.ForTask(TaskNode)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{0.2, 2, 20}, means, 1e-12)
	assert.Len(t, stds, 3)
}

func TestRunner_CacheIdempotence(t *testing.T) {
	root := t.TempDir()
	req := Request{
		HParam:     config.HParamL2Lambda,
		Values:     []float64{1e-4, 5e-4},
		Experiment: coraExperiment(t),
		Repeats:    4,
	}

	first := &recordingTrainer{hparam: config.HParamL2Lambda}
	agg1, err := NewRunner(first, Options{FigsRoot: root}).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 4, first.callCount()) // two values, two default tasks

	second := &recordingTrainer{hparam: config.HParamL2Lambda}
	var out bytes.Buffer
	metrics := observability.NewSweepMetrics()
	agg2, err := NewRunner(second, Options{
		FigsRoot: root,
		Metrics:  metrics,
		Console:  observability.NewConsole(&out),
	}).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Zero(t, second.callCount())
	assert.Equal(t, agg1.Means, agg2.Means)
	assert.Equal(t, agg1.Stds, agg2.Stds)
	assert.Equal(t, 1.0, metrics.CacheHitRate())
	assert.Contains(t, out.String(), "Load: ")
}

func TestRunner_ZeroValueOptions(t *testing.T) {
	root := t.TempDir()
	req := Request{
		HParam:     config.HParamAttLambda,
		Values:     []float64{0.1, 1, 10},
		Experiment: coraExperiment(t),
		Repeats:    3,
	}

	cold := &recordingTrainer{hparam: config.HParamAttLambda}
	agg1, err := NewRunner(cold, Options{FigsRoot: root}).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 6, cold.callCount())

	warm := &recordingTrainer{hparam: config.HParamAttLambda}
	agg2, err := NewRunner(warm, Options{FigsRoot: root}).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, warm.callCount())
	assert.Equal(t, agg1.Means, agg2.Means)
	assert.Equal(t, agg1.Stds, agg2.Stds)
}

func TestRunner_LinkTaskSubstitution(t *testing.T) {
	tr := &recordingTrainer{hparam: config.HParamAttLambda}
	_, err := NewRunner(tr, Options{FigsRoot: t.TempDir()}).Run(context.Background(), Request{
		HParam:     config.HParamAttLambda,
		Values:     []float64{1},
		Experiment: coraExperiment(t),
		Repeats:    2,
		Tasks:      []Task{TaskNode, TaskLink},
	})
	require.NoError(t, err)
	require.Len(t, tr.calls, 2)

	node, link := tr.calls[0], tr.calls[1]
	assert.Equal(t, config.TaskTypeNodeTransductive, node.TaskType)
	assert.Equal(t, "Planetoid", node.DatasetClass)
	assert.Equal(t, config.TaskTypeLinkPrediction, link.TaskType)
	assert.Equal(t, config.PerfTaskLink, link.PerfTaskForVal)
	assert.Equal(t, "LinkPlanetoid", link.DatasetClass)
}

func TestRunner_ConstantRowsStats(t *testing.T) {
	tr := trainer.Func(func(_ context.Context, _ config.Experiment, runs int) (*trainer.Result, error) {
		return &trainer.Result{TestPerfAtBestVal: []float64{1, 2, 3}}, nil
	})
	agg, err := NewRunner(tr, Options{FigsRoot: t.TempDir()}).Run(context.Background(), Request{
		HParam:     config.HParamDropout,
		Values:     []float64{0, 0.3, 0.6},
		Experiment: coraExperiment(t),
		Repeats:    3,
		Tasks:      []Task{TaskNode},
	})
	require.NoError(t, err)

	means, stds, _ := agg.ForTask(TaskNode)
	// Population std of {1,2,3} is sqrt(2/3).
	for i := range means {
		assert.InDelta(t, 2.0, means[i], 1e-12)
		assert.InDelta(t, 0.816496580927726, stds[i], 1e-12)
	}
}

func TestRunner_ShapeMismatch(t *testing.T) {
	root := t.TempDir()
	exp := coraExperiment(t)
	req := Request{
		HParam:     config.HParamAttLambda,
		Values:     []float64{0.1, 1, 10},
		Experiment: exp,
		Repeats:    2,
		Tasks:      []Task{TaskNode},
	}

	tr := &recordingTrainer{hparam: config.HParamAttLambda}
	r := NewRunner(tr, Options{FigsRoot: root})
	stale := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	require.NoError(t, r.opts.Store.Save(r.ResultPath(req.HParam, exp, TaskNode), stale))

	_, err := r.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Zero(t, tr.callCount())

	r = NewRunner(tr, Options{FigsRoot: root, OnMismatch: MismatchRecompute})
	agg, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.callCount())
	rows, _ := agg.Matrices[TaskNode].Dims()
	assert.Equal(t, 3, rows)
}

func TestRunner_ManifestDetectsChangedValues(t *testing.T) {
	root := t.TempDir()
	manifest, err := OpenManifest("")
	require.NoError(t, err)
	defer manifest.Close()

	exp := coraExperiment(t)
	tr := &recordingTrainer{hparam: config.HParamLR}
	r := NewRunner(tr, Options{FigsRoot: root, Manifest: manifest})

	req := Request{HParam: config.HParamLR, Values: []float64{0.01, 0.05}, Experiment: exp, Repeats: 1, Tasks: []Task{TaskNode}}
	_, err = r.Run(context.Background(), req)
	require.NoError(t, err)

	entry, err := manifest.Lookup(context.Background(), SweepKey(config.HParamLR, exp), TaskNode)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.RunID)
	assert.Equal(t, "npy", entry.StoreExt)

	// Same row count, different values.
	req.Values = []float64{0.1, 0.5}
	_, err = r.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRunner_TrainerVectorLength(t *testing.T) {
	tr := trainer.Func(func(context.Context, config.Experiment, int) (*trainer.Result, error) {
		return &trainer.Result{TestPerfAtBestVal: []float64{0.5}}, nil
	})
	_, err := NewRunner(tr, Options{FigsRoot: t.TempDir()}).Run(context.Background(), Request{
		HParam: config.HParamLR, Values: []float64{1}, Experiment: coraExperiment(t), Repeats: 3, Tasks: []Task{TaskNode},
	})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRunner_TrainerFailurePersistsNothing(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	tr := trainer.Func(func(_ context.Context, _ config.Experiment, runs int) (*trainer.Result, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return &trainer.Result{TestPerfAtBestVal: make([]float64, runs)}, nil
	})

	root := t.TempDir()
	exp := coraExperiment(t)
	r := NewRunner(tr, Options{FigsRoot: root})
	_, err := r.Run(context.Background(), Request{
		HParam: config.HParamLR, Values: []float64{1, 2, 3}, Experiment: exp, Repeats: 1, Tasks: []Task{TaskNode},
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)

	_, statErr := os.Stat(r.ResultPath(config.HParamLR, exp, TaskNode))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_InvalidRequests(t *testing.T) {
	exp := coraExperiment(t)
	tr := &recordingTrainer{hparam: config.HParamLR}
	r := NewRunner(tr, Options{FigsRoot: t.TempDir()})

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"unknown hparam", Request{HParam: "momentum", Values: []float64{1}, Experiment: exp, Repeats: 1}, config.ErrUnknownHParam},
		{"no values", Request{HParam: config.HParamLR, Experiment: exp, Repeats: 1}, ErrEmptySweep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Run(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := r.Run(context.Background(), Request{HParam: config.HParamLR, Values: []float64{1}, Experiment: exp})
	assert.Error(t, err)
	assert.Zero(t, tr.callCount())
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := &recordingTrainer{hparam: config.HParamLR}
	_, err := NewRunner(tr, Options{FigsRoot: t.TempDir()}).Run(ctx, Request{
		HParam: config.HParamLR, Values: []float64{1, 2}, Experiment: coraExperiment(t), Repeats: 1, Tasks: []Task{TaskNode},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tr.callCount())
}

func TestRunner_ParallelMatchesSequential(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	exp := coraExperiment(t)
	run := func(parallel int, store Store) *mat.Dense {
		tr := &recordingTrainer{hparam: config.HParamEdgeSamplingRatio}
		agg, err := NewRunner(tr, Options{FigsRoot: t.TempDir(), Parallel: parallel, Store: store}).Run(context.Background(), Request{
			HParam: config.HParamEdgeSamplingRatio, Values: values, Experiment: exp, Repeats: 2, Tasks: []Task{TaskNode},
		})
		require.NoError(t, err)
		assert.Equal(t, len(values), tr.callCount())
		return agg.Matrices[TaskNode]
	}

	assert.True(t, mat.Equal(run(1, nil), run(4, ArrowStore{})))
}

func TestRowStats(t *testing.T) {
	m := mat.NewDense(2, 4, []float64{
		2, 4, 4, 6,
		5, 5, 5, 5,
	})
	means, stds := RowStats(m)
	assert.InDeltaSlice(t, []float64{4, 5}, means, 1e-12)
	assert.InDeltaSlice(t, []float64{1.4142135623730951, 0}, stds, 1e-12)
}

func TestTask(t *testing.T) {
	task, err := ParseTask(" Link ")
	require.NoError(t, err)
	assert.Equal(t, TaskLink, task)
	assert.Equal(t, "Link", task.Display())

	_, err = ParseTask("graph")
	assert.Error(t, err)

	tup := NewTuple("GO", "Cora", "Node")
	assert.Equal(t, []string{"GO", "Cora", "Node"}, tup.Labels())
	assert.Equal(t, "(GO, Cora, Node)", tup.String())
}

func TestProperty_RunnerShapeAndStats(t *testing.T) {
	exp := coraExperiment(t)
	root := t.TempDir()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "values")
		repeats := rapid.IntRange(1, 5).Draw(t, "repeats")
		cells := rapid.SliceOfN(rapid.Float64Range(0, 1), n*repeats, n*repeats).Draw(t, "cells")

		values := make([]float64, n)
		for i := range values {
			values[i] = float64(i)
		}
		tr := trainer.Func(func(_ context.Context, e config.Experiment, runs int) (*trainer.Result, error) {
			i := int(e.LR)
			return &trainer.Result{TestPerfAtBestVal: append([]float64(nil), cells[i*runs:(i+1)*runs]...)}, nil
		})

		dir, err := os.MkdirTemp(root, "prop")
		if err != nil {
			t.Fatal(err)
		}
		agg, err := NewRunner(tr, Options{FigsRoot: dir}).Run(context.Background(), Request{
			HParam: config.HParamLR, Values: values, Experiment: exp, Repeats: repeats, Tasks: []Task{TaskNode},
		})
		if err != nil {
			t.Fatal(err)
		}

		rows, cols := agg.Matrices[TaskNode].Dims()
		if rows != n || cols != repeats {
			t.Fatalf("matrix is %dx%d, want %dx%d", rows, cols, n, repeats)
		}
		means, stds, _ := agg.ForTask(TaskNode)
		for i := 0; i < n; i++ {
			row := cells[i*repeats : (i+1)*repeats]
			var sum float64
			for _, v := range row {
				sum += v
			}
			mean := sum / float64(repeats)
			if d := means[i] - mean; d > 1e-9 || d < -1e-9 {
				t.Fatalf("row %d mean %v, want %v", i, means[i], mean)
			}
			if stds[i] < 0 {
				t.Fatalf("row %d negative std %v", i, stds[i])
			}
		}
	})
}
