package render

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/danaugrs/go-tsne/tsne"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/rand/gatsweep/internal/config"
)

// Reducer embeds the rows of xs into two dimensions.
type Reducer interface {
	Reduce(xs *mat.Dense) (*mat.Dense, error)
}

// TSNEReducer runs exact t-SNE.
type TSNEReducer struct {
	Perplexity   float64
	LearningRate float64
	Iterations   int
}

// DefaultTSNE uses the usual perplexity of 30.
func DefaultTSNE() TSNEReducer {
	return TSNEReducer{Perplexity: 30, LearningRate: 200, Iterations: 1000}
}

// Reduce implements Reducer. Perplexity is capped for small inputs, where
// it must stay well below the number of points.
func (r TSNEReducer) Reduce(xs *mat.Dense) (*mat.Dense, error) {
	n, _ := xs.Dims()
	if n < 2 {
		return nil, fmt.Errorf("t-SNE needs at least 2 points, got %d", n)
	}
	perplexity := r.Perplexity
	if limit := float64(n-1) / 3; perplexity > limit {
		perplexity = limit
	}
	if perplexity < 1 {
		perplexity = 1
	}

	t := tsne.NewTSNE(2, perplexity, r.LearningRate, r.Iterations, false)
	return mat.DenseCopyOf(t.EmbedData(xs, nil)), nil
}

// TSNERequest is a labeled point cloud.
type TSNERequest struct {
	Features *mat.Dense
	Classes  []int

	Experiment *config.Experiment
	Extension  string
}

// NodesByTSNE scatters the reduced features colored by class, with axes
// hidden, and writes <figs>/<key>/fig_tsne_<key>.<ext>.
func NodesByTSNE(theme Theme, reducer Reducer, req TSNERequest) (string, error) {
	if req.Features == nil {
		return "", errors.New("t-SNE plot has no features")
	}
	n, _ := req.Features.Dims()
	if n != len(req.Classes) {
		return "", fmt.Errorf("t-SNE plot has %d points and %d classes", n, len(req.Classes))
	}
	if err := checkClasses(req.Classes); err != nil {
		return "", err
	}

	embed, err := reducer.Reduce(req.Features)
	if err != nil {
		return "", fmt.Errorf("reduce features: %w", err)
	}

	p := theme.newPlot()
	p.HideAxes()

	nClasses := slices.Max(req.Classes) + 1
	for c := 0; c < nClasses; c++ {
		var pts plotter.XYs
		for i, y := range req.Classes {
			if y == c {
				pts = append(pts, plotter.XY{X: embed.At(i, 0), Y: embed.At(i, 1)})
			}
		}
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return "", fmt.Errorf("build scatter: %w", err)
		}
		s.GlyphStyle.Color = classColor(c, nClasses)
		s.GlyphStyle.Radius = vg.Points(2 * theme.Scale())
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
	}

	key := Key(req.Experiment)
	dir, err := theme.outputDir(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("fig_tsne_%s.%s", key, theme.ext(req.Extension)))
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

func checkClasses(classes []int) error {
	for i, c := range classes {
		if c < 0 {
			return fmt.Errorf("point %d has negative class %d", i, c)
		}
	}
	return nil
}
