// Package cmd implements the gatsweep command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/observability"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Working directory")
	rootCmd.PersistentFlags().String("figs-root", "", "Root directory for cached results and figures")
	rootCmd.PersistentFlags().String("config", "", "Settings file to load after the user and project files")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug logging")

	rootCmd.AddCommand(
		sweepCmd,
		renderCmd,
		configCmd,
	)
}

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "gatsweep",
	Short: "Hyperparameter sweeps and figures for graph attention experiments",
	Long: `gatsweep trains one hyperparameter over a list of values through an external
trainer, caches every result matrix under the figs root, and renders the
comparison figures.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}

		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		closer, err := observability.SetupLogging(settings.Log)
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

// closeLog flushes and releases the log file opened by the pre-run hook.
func closeLog() error {
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logCloser = nil
	return err
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runRoot(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// runRoot executes the root command. Cobra skips the post-run hook when a
// command fails, so the log is closed here on that path.
func runRoot(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		slog.Error("Command failed", "error", err)
		if cerr := closeLog(); cerr != nil {
			fmt.Fprintf(os.Stderr, "close log: %v\n", cerr)
		}
	}
	return err
}

// ResolveCwd returns the --cwd flag as an absolute path, or the process
// working directory.
func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}
	return abs, nil
}

// loadSettings merges settings files, env, and the persistent flags.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	s, _, err := loadSettingsWithSources(cmd)
	return s, err
}

func loadSettingsWithSources(cmd *cobra.Command) (config.Settings, []string, error) {
	cwd, err := ResolveCwd(cmd)
	if err != nil {
		return config.Settings{}, nil, err
	}
	explicit, _ := cmd.Flags().GetString("config")

	s, loaded, err := config.LoadSettings(cwd, explicit)
	if err != nil {
		return config.Settings{}, nil, fmt.Errorf("load settings: %w", err)
	}

	if figsRoot, _ := cmd.Flags().GetString("figs-root"); figsRoot != "" {
		if !filepath.IsAbs(figsRoot) {
			figsRoot = filepath.Join(cwd, figsRoot)
		}
		s.FigsRoot = figsRoot
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		s.Log.Level = "debug"
	}
	return s, loaded, nil
}
