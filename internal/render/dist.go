package render

import (
	"errors"
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/rand/gatsweep/internal/config"
)

// DistRequest compares named groups of samples.
type DistRequest struct {
	Samples [][]float64
	Names   []string

	XLabel string
	YLabel string

	// YMin and YMax, when both set and YMin < YMax, fix the y range.
	YMin, YMax *float64

	Experiment *config.Experiment
	CustomKey  string
	Extension  string
}

// MultipleDist draws one box per group and writes
// <figs>/<key>/fig_dist_<key>_<custom key>.<ext>.
func MultipleDist(theme Theme, req DistRequest) (string, error) {
	if len(req.Samples) == 0 {
		return "", errors.New("distribution plot has no groups")
	}
	if len(req.Samples) != len(req.Names) {
		return "", fmt.Errorf("distribution plot has %d groups and %d names", len(req.Samples), len(req.Names))
	}

	p := theme.newPlot()
	p.X.Label.Text = req.XLabel
	p.Y.Label.Text = req.YLabel

	boxWidth := vg.Points(40 * theme.Scale())
	for i, samples := range req.Samples {
		if len(samples) == 0 {
			return "", fmt.Errorf("group %q has no samples", req.Names[i])
		}
		box, err := plotter.NewBoxPlot(boxWidth, float64(i), plotter.Values(samples))
		if err != nil {
			return "", fmt.Errorf("build box for %q: %w", req.Names[i], err)
		}
		box.FillColor = withAlpha(paletteColor(i), 0.8)
		box.BoxStyle.Width = theme.lineWidth() / 2
		box.MedianStyle.Width = theme.lineWidth()
		p.Add(box)
	}
	p.NominalX(req.Names...)

	if req.YMin != nil && req.YMax != nil && *req.YMin < *req.YMax {
		p.Y.Min, p.Y.Max = *req.YMin, *req.YMax
	}

	key := Key(req.Experiment)
	dir, err := theme.outputDir(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("fig_dist_%s_%s.%s", key, req.CustomKey, theme.ext(req.Extension)))

	width := vg.Length(3*len(req.Names)) * vg.Inch
	if err := p.Save(width, 7*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}
