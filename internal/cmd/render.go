package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/render"
)

func init() {
	for _, c := range []*cobra.Command{renderDistCmd, renderTSNECmd, renderGraphCmd} {
		c.Flags().StringP("input", "i", "", "JSON input file")
		c.Flags().StringP("ext", "e", "", "Figure format (default from settings)")
		_ = c.MarkFlagRequired("input")
	}
	renderTSNECmd.Flags().Float64("perplexity", render.DefaultTSNE().Perplexity, "t-SNE perplexity")
	renderTSNECmd.Flags().Int("iterations", render.DefaultTSNE().Iterations, "t-SNE iterations")
	renderGraphCmd.Flags().String("layout", render.LayoutTSNE, "Node placement: tsne or spring")

	renderCmd.AddCommand(
		renderDistCmd,
		renderTSNECmd,
		renderGraphCmd,
	)
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render figures from exported data",
	Long:  "Commands for rendering distribution, t-SNE, and graph layout figures from JSON exports",
}

// experimentInput names the experiment a figure belongs to. A missing
// experiment writes under the raw key.
type experimentInput struct {
	config.Options
	M string `json:"m,omitempty"`
}

func (in *experimentInput) build() (*config.Experiment, error) {
	if in == nil {
		return nil, nil
	}
	exp, err := config.New(in.Options)
	if err != nil {
		return nil, err
	}
	exp.M = in.M
	return &exp, nil
}

type distInput struct {
	Groups []struct {
		Name    string    `json:"name"`
		Samples []float64 `json:"samples"`
	} `json:"groups"`
	XLabel     string           `json:"x_label"`
	YLabel     string           `json:"y_label"`
	YMin       *float64         `json:"y_min,omitempty"`
	YMax       *float64         `json:"y_max,omitempty"`
	CustomKey  string           `json:"custom_key"`
	Experiment *experimentInput `json:"experiment,omitempty"`
}

type nodeInput struct {
	Features   [][]float64      `json:"features"`
	Classes    []int            `json:"classes"`
	Experiment *experimentInput `json:"experiment,omitempty"`
}

type graphInput struct {
	nodeInput

	// EdgeIndex is [sources, targets], as the trainer exports it.
	EdgeIndex [2][]int `json:"edge_index"`

	// EdgeAttention holds one row of per-head weights per edge of
	// EdgeIndex.
	EdgeAttention [][]float64 `json:"edge_attention,omitempty"`
}

func readInput(cmd *cobra.Command, v any) error {
	path, _ := cmd.Flags().GetString("input")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse input %s: %w", path, err)
	}
	return nil
}

func renderTheme(cmd *cobra.Command) (render.Theme, string, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return render.Theme{}, "", err
	}
	ext, _ := cmd.Flags().GetString("ext")
	return render.ThemeFromSettings(settings), ext, nil
}

func (in distInput) request() (render.DistRequest, error) {
	exp, err := in.Experiment.build()
	if err != nil {
		return render.DistRequest{}, err
	}
	req := render.DistRequest{
		XLabel:     in.XLabel,
		YLabel:     in.YLabel,
		YMin:       in.YMin,
		YMax:       in.YMax,
		Experiment: exp,
		CustomKey:  in.CustomKey,
	}
	for _, g := range in.Groups {
		req.Names = append(req.Names, g.Name)
		req.Samples = append(req.Samples, g.Samples)
	}
	return req, nil
}

// features converts rows of node features to a dense matrix.
func features(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.New("no node features")
	}
	dim := len(rows[0])
	if dim == 0 {
		return nil, errors.New("node features have no columns")
	}
	m := mat.NewDense(len(rows), dim, nil)
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("node %d has %d features, want %d", i, len(r), dim)
		}
		m.SetRow(i, r)
	}
	return m, nil
}

func (in graphInput) request(layout string) (render.GraphRequest, error) {
	var req render.GraphRequest
	x, err := features(in.Features)
	if err != nil {
		return req, err
	}
	exp, err := in.Experiment.build()
	if err != nil {
		return req, err
	}

	src, dst := in.EdgeIndex[0], in.EdgeIndex[1]
	if len(src) != len(dst) {
		return req, fmt.Errorf("edge_index rows differ in length: %d and %d", len(src), len(dst))
	}
	if in.EdgeAttention != nil && len(in.EdgeAttention) != len(src) {
		return req, fmt.Errorf("edge_attention has %d rows for %d edges", len(in.EdgeAttention), len(src))
	}

	req = render.GraphRequest{
		Features:   x,
		Classes:    in.Classes,
		Layout:     layout,
		Experiment: exp,
	}
	if in.EdgeAttention != nil {
		req.Attention = make(map[render.Edge][]float64, len(src))
	}
	for i := range src {
		e := render.Edge{src[i], dst[i]}
		req.Edges = append(req.Edges, e)
		if req.Attention != nil {
			req.Attention[e] = in.EdgeAttention[i]
		}
	}
	return req, nil
}

var renderDistCmd = &cobra.Command{
	Use:   "dist",
	Short: "Box plots of sample groups",
	Example: `
# Attention weight distributions per layer
gatsweep render dist --input att_dist.json
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in distInput
		if err := readInput(cmd, &in); err != nil {
			return err
		}
		theme, ext, err := renderTheme(cmd)
		if err != nil {
			return err
		}
		req, err := in.request()
		if err != nil {
			return err
		}
		req.Extension = ext

		path, err := render.MultipleDist(theme, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var renderTSNECmd = &cobra.Command{
	Use:   "tsne",
	Short: "t-SNE scatter of node features",
	Example: `
# Node embeddings colored by class
gatsweep render tsne --input embeddings.json --perplexity 20
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in nodeInput
		if err := readInput(cmd, &in); err != nil {
			return err
		}
		theme, ext, err := renderTheme(cmd)
		if err != nil {
			return err
		}
		x, err := features(in.Features)
		if err != nil {
			return err
		}
		exp, err := in.Experiment.build()
		if err != nil {
			return err
		}

		reducer := render.DefaultTSNE()
		reducer.Perplexity, _ = cmd.Flags().GetFloat64("perplexity")
		reducer.Iterations, _ = cmd.Flags().GetInt("iterations")

		path, err := render.NodesByTSNE(theme, reducer, render.TSNERequest{
			Features:   x,
			Classes:    in.Classes,
			Experiment: exp,
			Extension:  ext,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var renderGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Graph drawing with attention-shaded edges",
	Example: `
# Place nodes by t-SNE and shade edges by mean attention
gatsweep render graph --input graph.json

# Force-directed placement
gatsweep render graph --input graph.json --layout spring
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in graphInput
		if err := readInput(cmd, &in); err != nil {
			return err
		}
		theme, ext, err := renderTheme(cmd)
		if err != nil {
			return err
		}
		layout, _ := cmd.Flags().GetString("layout")
		req, err := in.request(layout)
		if err != nil {
			return err
		}
		req.Extension = ext

		path, err := render.GraphLayout(theme, render.DefaultTSNE(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}
