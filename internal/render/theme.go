// Package render draws the sweep and embedding figures. Renderers take
// precomputed numbers, keep no state between calls, and overwrite their
// output files.
package render

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/rand/gatsweep/internal/config"
)

// RawKey names the output directory of figures with no experiment.
const RawKey = "raw"

// Plot styles.
const (
	StyleWhiteGrid = "whitegrid"
	StyleWhite     = "white"
)

var contextScales = map[string]float64{
	"paper":    0.8,
	"notebook": 1,
	"talk":     1.5,
	"poster":   2,
}

// Theme scopes the look and destination of every figure a renderer
// writes. Pass it explicitly; there is no package default to mutate.
type Theme struct {
	Style     string
	Context   string
	FigsRoot  string
	Extension string
}

// DefaultTheme writes png files with a grid at poster scale.
func DefaultTheme(figsRoot string) Theme {
	return Theme{
		Style:     StyleWhiteGrid,
		Context:   "poster",
		FigsRoot:  figsRoot,
		Extension: "png",
	}
}

// ThemeFromSettings builds a Theme from tool settings.
func ThemeFromSettings(s config.Settings) Theme {
	return Theme{
		Style:     s.Theme.Style,
		Context:   s.Theme.Context,
		FigsRoot:  s.FigsRoot,
		Extension: s.Theme.Extension,
	}
}

// Validate checks the style and context names.
func (t Theme) Validate() error {
	if t.Style != StyleWhiteGrid && t.Style != StyleWhite {
		return fmt.Errorf("unknown plot style %q", t.Style)
	}
	if _, ok := contextScales[t.Context]; !ok {
		return fmt.Errorf("unknown plot context %q", t.Context)
	}
	if t.FigsRoot == "" {
		return fmt.Errorf("theme has no figs root")
	}
	return nil
}

// Scale is the font and line multiplier of the theme's context.
func (t Theme) Scale() float64 {
	if s, ok := contextScales[t.Context]; ok {
		return s
	}
	return 1
}

func (t Theme) ext(override string) string {
	switch {
	case override != "":
		return override
	case t.Extension != "":
		return t.Extension
	default:
		return "png"
	}
}

// Key is the output key of an experiment, RawKey when exp is nil.
func Key(exp *config.Experiment) string {
	if exp == nil {
		return RawKey
	}
	return exp.Key()
}

// outputDir creates and returns <figs root>/<key>.
func (t Theme) outputDir(key string) (string, error) {
	dir := filepath.Join(t.FigsRoot, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create figure directory: %w", err)
	}
	return dir, nil
}

// newPlot returns a plot with the theme's fonts and grid applied.
func (t Theme) newPlot() *plot.Plot {
	p := plot.New()
	s := t.Scale()

	p.Title.TextStyle.Font.Size = vg.Points(12 * s)
	p.X.Label.TextStyle.Font.Size = vg.Points(11 * s)
	p.Y.Label.TextStyle.Font.Size = vg.Points(11 * s)
	p.X.Tick.Label.Font.Size = vg.Points(10 * s)
	p.Y.Tick.Label.Font.Size = vg.Points(10 * s)
	p.Legend.TextStyle.Font.Size = vg.Points(10 * s)
	p.X.LineStyle.Width = vg.Points(0.5 * s)
	p.Y.LineStyle.Width = vg.Points(0.5 * s)

	if t.Style == StyleWhiteGrid {
		grid := plotter.NewGrid()
		grid.Vertical.Color = gridColor
		grid.Horizontal.Color = gridColor
		grid.Vertical.Width = vg.Points(0.5 * s)
		grid.Horizontal.Width = vg.Points(0.5 * s)
		p.Add(grid)
	}
	return p
}

func (t Theme) lineWidth() vg.Length {
	return vg.Points(1.5 * t.Scale())
}

var gridColor = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}

// set1 is the ColorBrewer Set1 qualitative palette.
var set1 = []color.RGBA{
	{R: 0xe4, G: 0x1a, B: 0x1c, A: 0xff},
	{R: 0x37, G: 0x7e, B: 0xb8, A: 0xff},
	{R: 0x4d, G: 0xaf, B: 0x4a, A: 0xff},
	{R: 0x98, G: 0x4e, B: 0xa3, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x00, A: 0xff},
	{R: 0xff, G: 0xff, B: 0x33, A: 0xff},
	{R: 0xa6, G: 0x56, B: 0x28, A: 0xff},
	{R: 0xf7, G: 0x81, B: 0xbf, A: 0xff},
	{R: 0x99, G: 0x99, B: 0x99, A: 0xff},
}

// classColor spreads n classes across the Set1 palette the way a
// continuous colormap lookup of c/n would.
func classColor(c, n int) color.RGBA {
	if n <= 0 {
		return set1[0]
	}
	i := c * len(set1) / n
	if i >= len(set1) {
		i = len(set1) - 1
	}
	return set1[i]
}

// paletteColor cycles through Set1.
func paletteColor(i int) color.RGBA {
	return set1[i%len(set1)]
}

func withAlpha(c color.RGBA, a float64) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(a * 255)}
}
