package render

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/sweep"
)

// firstTwo "reduces" by keeping the first two feature columns.
type firstTwo struct{ calls int }

func (r *firstTwo) Reduce(xs *mat.Dense) (*mat.Dense, error) {
	r.calls++
	n, _ := xs.Dims()
	return mat.DenseCopyOf(xs.Slice(0, n, 0, 2)), nil
}

func testTheme(t *testing.T) Theme {
	t.Helper()
	theme := DefaultTheme(t.TempDir())
	theme.Context = "paper"
	return theme
}

func TestTheme(t *testing.T) {
	theme := DefaultTheme("/figs")
	assert.NoError(t, theme.Validate())
	assert.Equal(t, 2.0, theme.Scale())

	theme.Style = "darkgrid"
	assert.Error(t, theme.Validate())

	theme = DefaultTheme("/figs")
	theme.Context = "billboard"
	assert.Error(t, theme.Validate())
	assert.Equal(t, 1.0, theme.Scale())

	assert.Equal(t, "pdf", theme.ext("pdf"))
	assert.Equal(t, "png", theme.ext(""))
}

func TestKey(t *testing.T) {
	assert.Equal(t, RawKey, Key(nil))
	exp := config.Experiment{ModelName: "GAT", DatasetName: "Cora", CustomKey: "EV1O8-ES"}
	assert.Equal(t, "GAT-Cora-EV1O8-ES", Key(&exp))
}

func TestLineWithStd_Single(t *testing.T) {
	theme := testTheme(t)
	node := sweep.NewTuple("Node")
	link := sweep.NewTuple("Link")

	for _, style := range []ErrStyle{ErrBand, ErrBars} {
		t.Run(string(style), func(t *testing.T) {
			path, err := LineWithStd(theme, LineRequest{
				Means:      map[sweep.Tuple][]float64{node: {0.7, 0.8, 0.75}, link: {0.9, 0.92, 0.91}},
				Stds:       map[sweep.Tuple][]float64{node: {0.01, 0.02, 0.01}, link: {0, 0.01, 0.02}},
				LabelNames: []string{"Task"},
				X:          []float64{-1, 0, 1},
				XLabel:     "Mixing Coefficient (Log)",
				YLabel:     "Test Perf. (Acc., AUC)",
				Hue:        "Task",
				Order:      []string{"Node", "Link"},
				ErrStyle:   style,
				CustomKey:  "perf_against_att_lambda_GAT-Cora-EV1O8-ES",
			})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(theme.FigsRoot, "perf_against_att_lambda_GAT-Cora-EV1O8-ES",
				"fig_line_perf_against_att_lambda_GAT-Cora-EV1O8-ES.png"), path)
			assert.FileExists(t, path)
		})
	}
}

func TestLineWithStd_Faceted(t *testing.T) {
	theme := testTheme(t)
	means := map[sweep.Tuple][]float64{}
	stds := map[sweep.Tuple][]float64{}
	for _, m := range []string{"GO", "DP"} {
		for _, ds := range []string{"Cora", "CiteSeer"} {
			for _, task := range []string{"Node", "Link"} {
				k := sweep.NewTuple(m, ds, task)
				means[k] = []float64{0.5, 0.6}
				stds[k] = []float64{0.05, 0.05}
			}
		}
	}

	path, err := LineWithStd(theme, LineRequest{
		Means:      means,
		Stds:       stds,
		LabelNames: []string{"GAT", "Dataset", "Task"},
		X:          []float64{-3, 3},
		Hue:        "GAT",
		Row:        "Task",
		Col:        "Dataset",
		Order:      []string{"GO", "DP"},
		Aspect:     1.5,
		CustomKey:  "perf_against_att_lambda_real_world_datasets",
		Extension:  "pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, ".pdf", filepath.Ext(path))
	assert.FileExists(t, path)
}

func TestLineWithStd_Invalid(t *testing.T) {
	theme := testTheme(t)
	k := sweep.NewTuple("Node")
	base := LineRequest{
		Means:      map[sweep.Tuple][]float64{k: {1, 2}},
		Stds:       map[sweep.Tuple][]float64{k: {0, 0}},
		LabelNames: []string{"Task"},
		X:          []float64{1, 2},
		CustomKey:  "c",
	}

	tests := []struct {
		name   string
		mutate func(r *LineRequest)
	}{
		{"no custom key", func(r *LineRequest) { r.CustomKey = "" }},
		{"x length", func(r *LineRequest) { r.X = []float64{1} }},
		{"missing std", func(r *LineRequest) { r.Stds = nil }},
		{"unknown hue", func(r *LineRequest) { r.Hue = "Dataset" }},
		{"label arity", func(r *LineRequest) { r.LabelNames = []string{"GAT", "Task"} }},
		{"unknown row", func(r *LineRequest) { r.Row = "Model" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := LineWithStd(theme, req)
			assert.Error(t, err)
		})
	}
}

func TestOrderedValues(t *testing.T) {
	series := []lineSeries{
		{labels: []string{"Link"}},
		{labels: []string{"Node"}},
		{labels: []string{"Edge"}},
		{labels: []string{"Node"}},
	}
	assert.Equal(t, []string{"Node", "Link", "Edge"}, orderedValues(series, 0, []string{"Node", "Link", "Absent"}))
	assert.Equal(t, []string{""}, orderedValues(series, -1, nil))
}

func TestMultipleDist(t *testing.T) {
	theme := testTheme(t)
	lo, hi := 0.0, 1.0
	exp := config.Experiment{ModelName: "GAT", DatasetName: "Cora", CustomKey: "EV1O8-ES"}

	path, err := MultipleDist(theme, DistRequest{
		Samples:    [][]float64{{0.1, 0.2, 0.3, 0.25}, {0.5, 0.6, 0.55}},
		Names:      []string{"layer 1", "layer 2"},
		XLabel:     "Layer",
		YLabel:     "Attention",
		YMin:       &lo,
		YMax:       &hi,
		Experiment: &exp,
		CustomKey:  "att",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(theme.FigsRoot, "GAT-Cora-EV1O8-ES", "fig_dist_GAT-Cora-EV1O8-ES_att.png"), path)
	assert.FileExists(t, path)

	_, err = MultipleDist(theme, DistRequest{Samples: [][]float64{{1}}, Names: []string{"a", "b"}})
	assert.Error(t, err)
	_, err = MultipleDist(theme, DistRequest{Samples: [][]float64{{}}, Names: []string{"a"}})
	assert.Error(t, err)
}

func pointCloud() (*mat.Dense, []int) {
	xs := mat.NewDense(6, 3, []float64{
		0, 0, 1,
		0.1, 0.2, 1,
		0.2, 0.1, 1,
		5, 5, 0,
		5.1, 4.9, 0,
		4.8, 5.2, 0,
	})
	return xs, []int{0, 0, 0, 1, 1, 1}
}

func TestNodesByTSNE(t *testing.T) {
	theme := testTheme(t)
	xs, ys := pointCloud()
	reducer := &firstTwo{}

	path, err := NodesByTSNE(theme, reducer, TSNERequest{Features: xs, Classes: ys})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(theme.FigsRoot, RawKey, "fig_tsne_raw.png"), path)
	assert.FileExists(t, path)
	assert.Equal(t, 1, reducer.calls)

	// Re-rendering overwrites the same file.
	again, err := NodesByTSNE(theme, reducer, TSNERequest{Features: xs, Classes: ys})
	require.NoError(t, err)
	assert.Equal(t, path, again)

	_, err = NodesByTSNE(theme, reducer, TSNERequest{Features: xs, Classes: []int{0}})
	assert.Error(t, err)
	_, err = NodesByTSNE(theme, reducer, TSNERequest{Features: xs, Classes: []int{0, 0, 0, 1, 1, -1}})
	assert.Error(t, err)
}

func TestTSNEReducer(t *testing.T) {
	xs, _ := pointCloud()
	r := TSNEReducer{Perplexity: 30, LearningRate: 100, Iterations: 50}
	embed, err := r.Reduce(xs)
	require.NoError(t, err)
	rows, cols := embed.Dims()
	assert.Equal(t, 6, rows)
	assert.Equal(t, 2, cols)

	_, err = r.Reduce(mat.NewDense(1, 3, nil))
	assert.Error(t, err)
}

func TestGraphLayout(t *testing.T) {
	xs, ys := pointCloud()
	edges := []Edge{{0, 1}, {1, 2}, {3, 4}, {4, 5}, {2, 3}, {1, 0}, {5, 5}}
	attention := map[Edge][]float64{
		{0, 1}: {0.5, 0.7},
		{1, 2}: {0.2},
		{3, 4}: {0.9},
		{4, 5}: {0.4},
		{2, 3}: {0.05, 0.1},
	}

	tests := []struct {
		name string
		req  GraphRequest
	}{
		{"tsne with attention", GraphRequest{Features: xs, Classes: ys, Edges: edges, Attention: attention}},
		{"spring plain", GraphRequest{Classes: ys, Edges: edges, Layout: LayoutSpring}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			theme := testTheme(t)
			path, err := GraphLayout(theme, &firstTwo{}, tt.req)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(theme.FigsRoot, RawKey, "fig_glayout_raw.png"), path)
			assert.FileExists(t, path)
		})
	}
}

func TestGraphLayout_Invalid(t *testing.T) {
	theme := testTheme(t)
	xs, ys := pointCloud()

	_, err := GraphLayout(theme, &firstTwo{}, GraphRequest{Features: xs, Classes: ys, Edges: []Edge{{0, 9}}})
	assert.Error(t, err)

	_, err = GraphLayout(theme, &firstTwo{}, GraphRequest{Features: xs, Classes: ys, Edges: []Edge{{0, 1}},
		Attention: map[Edge][]float64{{2, 3}: {1}}})
	assert.Error(t, err)

	_, err = GraphLayout(theme, &firstTwo{}, GraphRequest{Classes: ys, Layout: "circular"})
	assert.Error(t, err)

	_, err = GraphLayout(theme, &firstTwo{}, GraphRequest{Classes: ys})
	assert.Error(t, err)
}

func TestGreyShade(t *testing.T) {
	assert.Equal(t, uint8(255), greyShade(0, 0, 1, 1).R)
	assert.Equal(t, uint8(0), greyShade(1, 0, 1, 1).R)
	assert.Equal(t, uint8(255), greyShade(-5, 0, 1, 1).R)
	assert.Equal(t, uint8(127), greyShade(3, 3, 3, 1).R)
}

func TestClassColor(t *testing.T) {
	assert.Equal(t, set1[0], classColor(0, 2))
	assert.Equal(t, set1[4], classColor(1, 2))
	assert.Equal(t, set1[0], classColor(0, 0))
}

func TestEdgeSorted(t *testing.T) {
	assert.Equal(t, Edge{1, 4}, Edge{4, 1}.Sorted())
	assert.Equal(t, Edge{1, 4}, Edge{1, 4}.Sorted())
}
