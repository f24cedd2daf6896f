package render

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/rand/gatsweep/internal/sweep"
)

// ErrStyle selects how the standard deviation is drawn.
type ErrStyle string

const (
	ErrBand ErrStyle = "band"
	ErrBars ErrStyle = "bars"
)

const panelHeight = 5 * vg.Inch

// LineRequest describes a line-with-std figure. Every series is keyed by
// a tuple whose labels are named, in order, by LabelNames.
type LineRequest struct {
	Means map[sweep.Tuple][]float64
	Stds  map[sweep.Tuple][]float64

	LabelNames []string
	X          []float64
	XLabel     string
	YLabel     string

	// Hue names the label that picks the line color. Defaults to the
	// first label name.
	Hue string
	// Order fixes the order of hue values; unlisted values follow sorted.
	Order []string

	// Row and Col facet the figure into a grid of panels.
	Row string
	Col string

	ErrStyle ErrStyle
	// Aspect is panel width over height. Defaults to 1.
	Aspect float64

	CustomKey string
	Extension string
}

// lineSeries is one resolved tuple.
type lineSeries struct {
	labels    []string
	mean, std []float64
}

// LineWithStd draws every series as a mean line with a std band or error
// bars and writes <figs>/<custom key>/fig_line_<custom key>.<ext>.
func LineWithStd(theme Theme, req LineRequest) (string, error) {
	if req.CustomKey == "" {
		return "", errors.New("line plot needs a custom key")
	}
	series, err := resolveSeries(req)
	if err != nil {
		return "", err
	}

	hue := req.Hue
	if hue == "" {
		hue = req.LabelNames[0]
	}
	hueIdx, err := labelIndex(req.LabelNames, hue)
	if err != nil {
		return "", err
	}
	rowIdx, colIdx := -1, -1
	if req.Row != "" {
		if rowIdx, err = labelIndex(req.LabelNames, req.Row); err != nil {
			return "", err
		}
	}
	if req.Col != "" {
		if colIdx, err = labelIndex(req.LabelNames, req.Col); err != nil {
			return "", err
		}
	}

	hues := orderedValues(series, hueIdx, req.Order)
	rows := orderedValues(series, rowIdx, nil)
	cols := orderedValues(series, colIdx, nil)

	plots := make([][]*plot.Plot, len(rows))
	for i, rv := range rows {
		plots[i] = make([]*plot.Plot, len(cols))
		for j, cv := range cols {
			p := theme.newPlot()
			p.X.Label.Text = req.XLabel
			p.Y.Label.Text = req.YLabel
			p.Title.Text = facetTitle(req.Row, rv, req.Col, cv)
			p.Legend.Top = true

			for h, hv := range hues {
				for _, s := range series {
					if !matches(s, hueIdx, hv) || !matches(s, rowIdx, rv) || !matches(s, colIdx, cv) {
						continue
					}
					if err := addSeries(theme, p, req, s, hv, paletteColor(h)); err != nil {
						return "", err
					}
				}
			}
			plots[i][j] = p
		}
	}

	dir, err := theme.outputDir(req.CustomKey)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("fig_line_%s.%s", req.CustomKey, theme.ext(req.Extension)))

	aspect := req.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	if err := saveGrid(plots, vg.Length(aspect)*panelHeight, panelHeight, path); err != nil {
		return "", err
	}
	return path, nil
}

func resolveSeries(req LineRequest) ([]lineSeries, error) {
	if len(req.LabelNames) == 0 {
		return nil, errors.New("line plot needs label names")
	}
	if len(req.Means) == 0 {
		return nil, errors.New("line plot has no series")
	}

	keys := make([]sweep.Tuple, 0, len(req.Means))
	for k := range req.Means {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	series := make([]lineSeries, 0, len(keys))
	for _, k := range keys {
		labels := k.Labels()
		if len(labels) != len(req.LabelNames) {
			return nil, fmt.Errorf("series %s has %d labels, want %d", k, len(labels), len(req.LabelNames))
		}
		mean := req.Means[k]
		std, ok := req.Stds[k]
		if !ok {
			return nil, fmt.Errorf("series %s has no std", k)
		}
		if len(mean) != len(req.X) || len(std) != len(req.X) {
			return nil, fmt.Errorf("series %s has %d means and %d stds for %d x values", k, len(mean), len(std), len(req.X))
		}
		series = append(series, lineSeries{labels: labels, mean: mean, std: std})
	}
	return series, nil
}

func labelIndex(names []string, name string) (int, error) {
	i := slices.Index(names, name)
	if i < 0 {
		return -1, fmt.Errorf("unknown label %q (have %s)", name, strings.Join(names, ", "))
	}
	return i, nil
}

// orderedValues lists the distinct values of one label: those in order
// first, then the rest sorted. A negative index yields one empty value.
func orderedValues(series []lineSeries, idx int, order []string) []string {
	if idx < 0 {
		return []string{""}
	}
	seen := make(map[string]bool)
	var rest []string
	for _, s := range series {
		v := s.labels[idx]
		if !seen[v] {
			seen[v] = true
			if !slices.Contains(order, v) {
				rest = append(rest, v)
			}
		}
	}
	slices.Sort(rest)

	var out []string
	for _, v := range order {
		if seen[v] {
			out = append(out, v)
		}
	}
	return append(out, rest...)
}

func matches(s lineSeries, idx int, v string) bool {
	return idx < 0 || s.labels[idx] == v
}

func facetTitle(row, rv, col, cv string) string {
	var parts []string
	if row != "" {
		parts = append(parts, row+" = "+rv)
	}
	if col != "" {
		parts = append(parts, col+" = "+cv)
	}
	return strings.Join(parts, " | ")
}

func addSeries(theme Theme, p *plot.Plot, req LineRequest, s lineSeries, name string, c color.RGBA) error {
	pts := make(plotter.XYs, len(req.X))
	for i := range req.X {
		pts[i].X = req.X[i]
		pts[i].Y = s.mean[i]
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("build line: %w", err)
	}
	line.Color = c
	line.Width = theme.lineWidth()

	switch req.ErrStyle {
	case ErrBars:
		bars, err := plotter.NewYErrorBars(errPoints{x: req.X, y: s.mean, e: s.std})
		if err != nil {
			return fmt.Errorf("build error bars: %w", err)
		}
		bars.Color = c
		bars.Width = theme.lineWidth() / 2
		p.Add(bars)
	default:
		band := make(plotter.XYs, 0, 2*len(req.X))
		for i := range req.X {
			band = append(band, plotter.XY{X: req.X[i], Y: s.mean[i] + s.std[i]})
		}
		for i := len(req.X) - 1; i >= 0; i-- {
			band = append(band, plotter.XY{X: req.X[i], Y: s.mean[i] - s.std[i]})
		}
		poly, err := plotter.NewPolygon(band)
		if err != nil {
			return fmt.Errorf("build band: %w", err)
		}
		poly.Color = withAlpha(c, 0.2)
		poly.LineStyle.Width = 0
		p.Add(poly)
	}

	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

type errPoints struct {
	x, y, e []float64
}

func (p errPoints) Len() int { return len(p.x) }

func (p errPoints) XY(i int) (float64, float64) { return p.x[i], p.y[i] }

func (p errPoints) YError(i int) (float64, float64) { return p.e[i], p.e[i] }

// saveGrid writes one plot as is, or tiles a grid of plots onto a single
// canvas of w x h per panel.
func saveGrid(plots [][]*plot.Plot, w, h vg.Length, path string) error {
	if len(plots) == 1 && len(plots[0]) == 1 {
		if err := plots[0][0].Save(w, h, path); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
		return nil
	}

	rows, cols := len(plots), len(plots[0])
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	c, err := draw.NewFormattedCanvas(vg.Length(cols)*w, vg.Length(rows)*h, format)
	if err != nil {
		return fmt.Errorf("create canvas: %w", err)
	}

	tiles := draw.Tiles{
		Rows: rows,
		Cols: cols,
		PadX: vg.Millimeter * 4,
		PadY: vg.Millimeter * 4,
	}
	canvases := plot.Align(plots, tiles, draw.New(c))
	for i := range plots {
		for j := range plots[i] {
			plots[i][j].Draw(canvases[i][j])
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
