package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/experiment"
	"github.com/rand/gatsweep/internal/observability"
	"github.com/rand/gatsweep/internal/render"
	"github.com/rand/gatsweep/internal/sweep"
	"github.com/rand/gatsweep/internal/trainer"
)

func init() {
	// sweep run flags
	sweepRunCmd.Flags().StringP("mode", "m", "", "Preset mode ("+strings.Join(experiment.Modes(), ", ")+")")
	sweepRunCmd.Flags().StringP("file", "f", "", "Experiment file (YAML)")
	sweepRunCmd.Flags().String("ratio", "", "Ratio swept by nsr-or-esr (NSR or ESR)")
	sweepRunCmd.Flags().String("model", "", "Model name override for the preset mode")
	sweepRunCmd.Flags().String("dataset-class", "", "Dataset class override for the preset mode")
	sweepRunCmd.Flags().String("dataset-name", "", "Dataset name override for the preset mode")
	sweepRunCmd.Flags().String("custom-key", "", "Custom key override for the preset mode")
	sweepRunCmd.Flags().IntP("parallel", "p", 0, "Sweep points trained at once (default from settings)")
	sweepRunCmd.Flags().String("store", "", "Result matrix format: npy or arrow (default from settings)")
	sweepRunCmd.Flags().String("on-mismatch", "", "Cached matrix mismatch policy: error or recompute (default from settings)")
	sweepRunCmd.MarkFlagsMutuallyExclusive("mode", "file")
	sweepRunCmd.MarkFlagsOneRequired("mode", "file")

	// sweep ls flags
	sweepLsCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	// sweep show flags
	sweepShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	sweepCmd.AddCommand(
		sweepRunCmd,
		sweepLsCmd,
		sweepShowCmd,
	)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run and inspect hyperparameter sweeps",
	Long:  "Commands for running hyperparameter sweeps and inspecting cached result matrices",
}

var sweepRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a preset mode or an experiment file",
	Long: `Run every sweep of a preset mode or experiment file. Result matrices already
cached under the figs root are loaded instead of trained again.`,
	Example: `
# Sweep the mixing coefficient on CiteSeer
gatsweep sweep run --mode mixing-coefficient

# Compare attention forms across the real-world datasets
gatsweep sweep run --mode real-world-datasets

# Sweep the negative sampling ratio with four points in flight
gatsweep sweep run --mode nsr-or-esr --ratio NSR --parallel 4

# Run an experiment file, recomputing stale caches
gatsweep sweep run --file sweeps/l2.yaml --on-mismatch recompute
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd, &settings); err != nil {
			return err
		}

		plan, err := planFromFlags(cmd)
		if err != nil {
			return err
		}

		tr, err := trainer.NewCommand(settings.Trainer)
		if err != nil {
			return fmt.Errorf("%w (set trainer.command or %s)", err, config.EnvTrainerCmd)
		}

		metrics := observability.NewSweepMetrics()
		runner, cleanup, err := newRunner(cmd, settings, tr, metrics)
		if err != nil {
			return err
		}
		defer cleanup()

		theme := render.ThemeFromSettings(settings)
		console := observability.NewConsole(cmd.OutOrStdout())
		results, err := experiment.Run(cmd.Context(), runner, theme, console, plan)
		if err != nil {
			return err
		}

		var figures int
		for _, r := range results {
			figures += len(r.Figures)
		}
		slog.Info("Sweeps finished",
			"mode", plan.Mode,
			"sweeps", len(plan.Requests),
			"figures", figures,
			"metrics", metrics.Summary(),
		)
		return nil
	},
}

func applyRunFlags(cmd *cobra.Command, s *config.Settings) error {
	if cmd.Flags().Changed("parallel") {
		s.Parallel, _ = cmd.Flags().GetInt("parallel")
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		s.Store = v
	}
	if v, _ := cmd.Flags().GetString("on-mismatch"); v != "" {
		s.OnMismatch = v
	}
	return s.Validate()
}

func planFromFlags(cmd *cobra.Command) (experiment.Plan, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return experiment.Plan{}, err
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(cwd, file)
		}
		return experiment.LoadFile(file)
	}

	mode, _ := cmd.Flags().GetString("mode")
	var opts experiment.ModeOptions
	opts.Ratio, _ = cmd.Flags().GetString("ratio")
	opts.ModelName, _ = cmd.Flags().GetString("model")
	opts.DatasetClass, _ = cmd.Flags().GetString("dataset-class")
	opts.DatasetName, _ = cmd.Flags().GetString("dataset-name")
	opts.CustomKey, _ = cmd.Flags().GetString("custom-key")
	return experiment.PlanMode(mode, opts)
}

// newRunner wires the store, manifest, and metrics of a sweep runner.
func newRunner(cmd *cobra.Command, s config.Settings, tr trainer.Trainer, metrics *observability.SweepMetrics) (*sweep.Runner, func(), error) {
	store, err := sweep.NewStore(s.Store)
	if err != nil {
		return nil, nil, err
	}
	policy, err := sweep.ParseMismatchPolicy(s.OnMismatch)
	if err != nil {
		return nil, nil, err
	}

	var manifest *sweep.Manifest
	if s.Manifest {
		manifest, err = sweep.OpenManifest(filepath.Join(s.FigsRoot, sweep.ManifestFile))
		if err != nil {
			return nil, nil, err
		}
	}
	cleanup := func() {
		if manifest != nil {
			manifest.Close()
		}
	}

	runner := sweep.NewRunner(tr, sweep.Options{
		FigsRoot:   s.FigsRoot,
		Store:      store,
		Manifest:   manifest,
		OnMismatch: policy,
		Parallel:   s.Parallel,
		Metrics:    metrics,
		Console:    observability.NewConsole(cmd.OutOrStdout()),
	})
	return runner, cleanup, nil
}

// cachedMatrix is one result file found under the figs root.
type cachedMatrix struct {
	SweepKey string       `json:"sweep_key"`
	Task     string       `json:"task"`
	Path     string       `json:"path"`
	Entry    *sweep.Entry `json:"manifest,omitempty"`
}

var sweepLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached result matrices",
	Long:  "List every cached result matrix under the figs root, with its manifest entry when one exists",
	Example: `
# List cached sweeps
gatsweep sweep ls

# As JSON
gatsweep sweep ls --json
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		found, err := findCached(cmd, settings.FigsRoot)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(found)
		}

		if len(found) == 0 {
			fmt.Fprintf(out, "No cached sweeps under %s\n", settings.FigsRoot)
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SWEEP\tTASK\tVALUES\tREPEATS\tSAVED")
		for _, c := range found {
			values, repeats, saved := "-", "-", "-"
			if c.Entry != nil {
				values = fmt.Sprint(c.Entry.Values)
				repeats = fmt.Sprint(c.Entry.Repeats)
				saved = c.Entry.SavedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.SweepKey, c.Task, values, repeats, saved)
		}
		return tw.Flush()
	},
}

// findCached globs the figs root for result files and joins them with
// the manifest, when there is one.
func findCached(cmd *cobra.Command, figsRoot string) ([]cachedMatrix, error) {
	matches, err := doublestar.Glob(os.DirFS(figsRoot), "perf_against_*/*.{npy,arrow}")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("glob cached results: %w", err)
	}

	var entries map[string]*sweep.Entry
	manifestPath := filepath.Join(figsRoot, sweep.ManifestFile)
	if _, err := os.Stat(manifestPath); err == nil {
		manifest, err := sweep.OpenManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		defer manifest.Close()

		list, err := manifest.List(cmd.Context())
		if err != nil {
			return nil, err
		}
		entries = make(map[string]*sweep.Entry, len(list))
		for i := range list {
			e := &list[i]
			entries[e.SweepKey+"/"+string(e.Task)+"."+e.StoreExt] = e
		}
	}

	found := make([]cachedMatrix, 0, len(matches))
	for _, m := range matches {
		base := path.Base(m)
		found = append(found, cachedMatrix{
			SweepKey: path.Dir(m),
			Task:     strings.TrimSuffix(base, path.Ext(base)),
			Path:     filepath.Join(figsRoot, filepath.FromSlash(m)),
			Entry:    entries[m],
		})
	}
	return found, nil
}

var sweepShowCmd = &cobra.Command{
	Use:   "show <sweep-key> <task>",
	Short: "Show a cached result matrix",
	Long:  "Print a cached result matrix with the mean and population std of every row",
	Example: `
# Show the node matrix of a mixing-coefficient sweep
gatsweep sweep show perf_against_att_lambda_GAT-CiteSeer-EV1O8-ES node
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		task, err := sweep.ParseTask(args[1])
		if err != nil {
			return err
		}

		m, file, err := loadAnyStore(filepath.Join(settings.FigsRoot, args[0]), task, settings.Store)
		if err != nil {
			return err
		}
		means, stds := sweep.RowStats(m)

		out := cmd.OutOrStdout()
		if asJSON {
			rows, _ := m.Dims()
			matrix := make([][]float64, rows)
			for i := range matrix {
				matrix[i] = mat.Row(nil, i, m)
			}
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{
				"path":   file,
				"matrix": matrix,
				"mean":   means,
				"std":    stds,
			})
		}

		fmt.Fprintf(out, "%s\n\n", file)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROW\tMEAN\tSTD\tSEEDS")
		for i := range means {
			fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%v\n", i, means[i], stds[i], mat.Row(nil, i, m))
		}
		return tw.Flush()
	},
}

// loadAnyStore tries the preferred store first, then the other format.
func loadAnyStore(dir string, task sweep.Task, preferred string) (*mat.Dense, string, error) {
	kinds := []string{preferred, "npy", "arrow"}
	tried := map[string]bool{}
	for _, kind := range kinds {
		if tried[kind] {
			continue
		}
		tried[kind] = true

		store, err := sweep.NewStore(kind)
		if err != nil {
			return nil, "", err
		}
		file := filepath.Join(dir, string(task)+"."+store.Ext())
		m, err := store.Load(file)
		if errors.Is(err, sweep.ErrNotCached) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return m, file, nil
	}
	return nil, "", fmt.Errorf("%s in %s: %w", task, dir, sweep.ErrNotCached)
}
