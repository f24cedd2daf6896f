package render

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"slices"

	"gonum.org/v1/gonum/graph/layout"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/rand/gatsweep/internal/config"
)

// Graph layouts.
const (
	LayoutTSNE   = "tsne"
	LayoutSpring = "spring"
)

// Edge is an undirected node pair.
type Edge [2]int

// Sorted returns the pair with the smaller node first.
func (e Edge) Sorted() Edge {
	if e[0] > e[1] {
		return Edge{e[1], e[0]}
	}
	return e
}

// GraphRequest is a graph with node features, classes, and optional
// per-edge attention values.
type GraphRequest struct {
	Features *mat.Dense
	Classes  []int
	Edges    []Edge

	// Attention holds the attention values of each edge, keyed by the
	// sorted pair. Nil draws every edge plain grey.
	Attention map[Edge][]float64

	// Layout is LayoutTSNE (default) or LayoutSpring.
	Layout string

	Experiment *config.Experiment
	Extension  string
}

// GraphLayout places the nodes, draws class-colored nodes and
// attention-shaded edges, and writes <figs>/<key>/fig_glayout_<key>.<ext>.
func GraphLayout(theme Theme, reducer Reducer, req GraphRequest) (string, error) {
	n := len(req.Classes)
	if n == 0 {
		return "", errors.New("graph has no nodes")
	}
	if err := checkClasses(req.Classes); err != nil {
		return "", err
	}

	g := simple.NewUndirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, e := range req.Edges {
		if e[0] < 0 || e[0] >= n || e[1] < 0 || e[1] >= n {
			return "", fmt.Errorf("edge %v references a node outside [0, %d)", e, n)
		}
		if e[0] == e[1] {
			continue
		}
		g.SetEdge(g.NewEdge(g.Node(int64(e[0])), g.Node(int64(e[1]))))
	}

	pos, err := placeNodes(g, reducer, req)
	if err != nil {
		return "", err
	}

	p := theme.newPlot()
	p.HideAxes()

	if err := addEdges(theme, p.Add, g, pos, req.Attention); err != nil {
		return "", err
	}

	nClasses := slices.Max(req.Classes) + 1
	for c := 0; c < nClasses; c++ {
		var pts plotter.XYs
		for i, y := range req.Classes {
			if y == c {
				pts = append(pts, pos[i])
			}
		}
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return "", fmt.Errorf("build nodes: %w", err)
		}
		s.GlyphStyle.Color = withAlpha(classColor(c, nClasses), 0.5)
		s.GlyphStyle.Radius = vg.Points(1.5 * theme.Scale())
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
	}

	key := Key(req.Experiment)
	dir, err := theme.outputDir(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("fig_glayout_%s.%s", key, theme.ext(req.Extension)))
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

func placeNodes(g *simple.UndirectedGraph, reducer Reducer, req GraphRequest) ([]plotter.XY, error) {
	n := len(req.Classes)
	pos := make([]plotter.XY, n)

	switch req.Layout {
	case "", LayoutTSNE:
		if req.Features == nil {
			return nil, errors.New("t-SNE layout needs node features")
		}
		if rows, _ := req.Features.Dims(); rows != n {
			return nil, fmt.Errorf("graph has %d feature rows and %d classes", rows, n)
		}
		embed, err := reducer.Reduce(req.Features)
		if err != nil {
			return nil, fmt.Errorf("reduce features: %w", err)
		}
		for i := range pos {
			pos[i] = plotter.XY{X: embed.At(i, 0), Y: embed.At(i, 1)}
		}
	case LayoutSpring:
		eades := &layout.EadesR2{Repulsion: 1, Rate: 0.05, Updates: 30, Theta: 0.2}
		o := layout.NewOptimizerR2(g, eades.Update)
		for o.Update() {
		}
		for i := range pos {
			v := o.Coord2(int64(i))
			pos[i] = plotter.XY{X: v.X, Y: v.Y}
		}
	default:
		return nil, fmt.Errorf("unknown graph layout %q", req.Layout)
	}
	return pos, nil
}

// addEdges draws one segment per edge. With attention, the shade follows
// the edge's mean attention on a grey ramp from min/2 to max*2.
func addEdges(theme Theme, add func(...plot.Plotter), g *simple.UndirectedGraph, pos []plotter.XY, attention map[Edge][]float64) error {
	edges := g.Edges()
	var pairs []Edge
	for edges.Next() {
		e := edges.Edge()
		pairs = append(pairs, Edge{int(e.From().ID()), int(e.To().ID())}.Sorted())
	}
	slices.SortFunc(pairs, func(a, b Edge) int {
		if a[0] != b[0] {
			return a[0] - b[0]
		}
		return a[1] - b[1]
	})

	var shades []float64
	if attention != nil {
		shades = make([]float64, len(pairs))
		for i, e := range pairs {
			att, ok := attention[e]
			if !ok || len(att) == 0 {
				return fmt.Errorf("edge %v has no attention values", e)
			}
			shades[i] = stat.Mean(att, nil)
		}
	}

	vmin, vmax := 0.0, 1.0
	if len(shades) > 0 {
		vmin, vmax = slices.Min(shades)/2, slices.Max(shades)*2
	}

	for i, e := range pairs {
		seg, err := plotter.NewLine(plotter.XYs{pos[e[0]], pos[e[1]]})
		if err != nil {
			return fmt.Errorf("build edge: %w", err)
		}
		if shades == nil {
			seg.Color = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0x4c}
			seg.Width = vg.Points(0.5 * theme.Scale())
		} else {
			seg.Color = greyShade(shades[i], vmin, vmax, 0.5)
			seg.Width = vg.Points(1.25 * theme.Scale())
		}
		add(seg)
	}
	return nil
}

// greyShade maps v in [vmin, vmax] from white to black.
func greyShade(v, vmin, vmax, alpha float64) color.NRGBA {
	t := 0.5
	if vmax > vmin {
		t = (v - vmin) / (vmax - vmin)
	}
	t = min(max(t, 0), 1)
	level := uint8(255 * (1 - t))
	return color.NRGBA{R: level, G: level, B: level, A: uint8(alpha * 255)}
}
