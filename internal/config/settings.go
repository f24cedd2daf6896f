package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override settings files.
const (
	EnvFigsRoot   = "GATSWEEP_FIGS_ROOT"
	EnvTrainerCmd = "GATSWEEP_TRAINER_CMD"
	EnvLogLevel   = "GATSWEEP_LOG_LEVEL"
	EnvParallel   = "GATSWEEP_PARALLEL"
)

// Project-local settings files, checked in order.
var projectFiles = []string{".gatsweep.yaml", ".gatsweep.yml"}

// Settings configures the tool itself, as opposed to an Experiment.
type Settings struct {
	// FigsRoot is where cached result matrices and figures are written.
	FigsRoot string `json:"figs_root" yaml:"figs_root" jsonschema:"description=Root directory for cached results and figures,default=../figs"`

	// Store selects the result matrix format.
	Store string `json:"store" yaml:"store" jsonschema:"description=Result matrix file format,enum=npy,enum=arrow,default=npy"`

	// OnMismatch decides what happens when a cached matrix does not fit the sweep.
	OnMismatch string `json:"on_mismatch" yaml:"on_mismatch" jsonschema:"description=Policy for cached matrices that do not match the sweep values,enum=error,enum=recompute,default=error"`

	// Parallel is the number of sweep points trained at once.
	Parallel int `json:"parallel" yaml:"parallel" jsonschema:"description=Sweep points trained concurrently,minimum=1,default=1"`

	// Manifest enables the SQLite ledger of cached matrices.
	Manifest bool `json:"manifest" yaml:"manifest" jsonschema:"description=Record cached matrices in figs_root/manifest.db,default=true"`

	Trainer TrainerSettings `json:"trainer" yaml:"trainer" jsonschema:"description=External trainer invocation"`
	Log     LogSettings     `json:"log" yaml:"log" jsonschema:"description=Logging"`
	Theme   ThemeSettings   `json:"theme" yaml:"theme" jsonschema:"description=Figure styling"`
}

// TrainerSettings configures the external multi-seed trainer.
type TrainerSettings struct {
	// Command is the program and arguments that train one configuration.
	Command []string `json:"command,omitempty" yaml:"command,omitempty" jsonschema:"description=Trainer program and arguments,example=python"`

	// ReleaseCommand runs after every training call to free accelerator memory.
	ReleaseCommand []string `json:"release_command,omitempty" yaml:"release_command,omitempty" jsonschema:"description=Optional command run after each training call"`

	// Dir is the working directory of the trainer process.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" jsonschema:"description=Trainer working directory"`

	// EnvFile is a dotenv file merged into the trainer environment.
	EnvFile string `json:"env_file,omitempty" yaml:"env_file,omitempty" jsonschema:"description=Dotenv file for the trainer environment,example=.env"`
}

// LogSettings configures the default slog logger.
type LogSettings struct {
	Level  string `json:"level" yaml:"level" jsonschema:"description=Minimum level,enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string `json:"format" yaml:"format" jsonschema:"description=Record format,enum=text,enum=json,default=text"`

	// File sends logs to a rotated file instead of stderr.
	File       string `json:"file,omitempty" yaml:"file,omitempty" jsonschema:"description=Rotated log file path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" jsonschema:"description=Rotate after this many megabytes,default=20"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" jsonschema:"description=Rotated files to keep,default=3"`
}

// ThemeSettings mirrors the rendering theme.
type ThemeSettings struct {
	Style     string `json:"style" yaml:"style" jsonschema:"description=Background style,enum=whitegrid,enum=white,default=whitegrid"`
	Context   string `json:"context" yaml:"context" jsonschema:"description=Scaling context,enum=paper,enum=notebook,enum=talk,enum=poster,default=poster"`
	Extension string `json:"extension" yaml:"extension" jsonschema:"description=Default figure format,enum=png,enum=pdf,enum=svg,default=png"`
}

// DefaultSettings returns the settings used when no file overrides them.
func DefaultSettings() Settings {
	return Settings{
		FigsRoot:   filepath.Join("..", "figs"),
		Store:      "npy",
		OnMismatch: "error",
		Parallel:   1,
		Manifest:   true,
		Log: LogSettings{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		Theme: ThemeSettings{
			Style:     "whitegrid",
			Context:   "poster",
			Extension: "png",
		},
	}
}

// UserSettingsPath is the per-user settings file.
func UserSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gatsweep", "config.yaml")
}

// SettingsPaths lists candidate settings files, lowest precedence first.
func SettingsPaths(cwd string) []string {
	var paths []string
	if p := UserSettingsPath(); p != "" {
		paths = append(paths, p)
	}
	for _, name := range projectFiles {
		paths = append(paths, filepath.Join(cwd, name))
	}
	return paths
}

// LoadSettings merges defaults, the user file, the first project file
// found in cwd, an explicit file if given, then environment overrides.
// It returns the files that were read.
func LoadSettings(cwd, explicit string) (Settings, []string, error) {
	s := DefaultSettings()
	var loaded []string

	candidates := []string{}
	if p := UserSettingsPath(); p != "" {
		candidates = append(candidates, p)
	}
	for _, name := range projectFiles {
		p := filepath.Join(cwd, name)
		if _, err := os.Stat(p); err == nil {
			candidates = append(candidates, p)
			break
		}
	}

	for _, p := range candidates {
		ok, err := mergeFile(&s, p)
		if err != nil {
			return Settings{}, nil, err
		}
		if ok {
			loaded = append(loaded, p)
		}
	}

	if explicit != "" {
		ok, err := mergeFile(&s, explicit)
		if err != nil {
			return Settings{}, nil, err
		}
		if !ok {
			return Settings{}, nil, fmt.Errorf("settings file %s: %w", explicit, os.ErrNotExist)
		}
		loaded = append(loaded, explicit)
	}

	if err := applyEnv(&s); err != nil {
		return Settings{}, nil, err
	}

	if !filepath.IsAbs(s.FigsRoot) {
		s.FigsRoot = filepath.Join(cwd, s.FigsRoot)
	}

	return s, loaded, s.Validate()
}

func mergeFile(s *Settings, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return false, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return true, nil
}

func applyEnv(s *Settings) error {
	if v := os.Getenv(EnvFigsRoot); v != "" {
		s.FigsRoot = v
	}
	if v := os.Getenv(EnvTrainerCmd); v != "" {
		s.Trainer.Command = strings.Fields(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.Log.Level = v
	}
	if v := os.Getenv(EnvParallel); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvParallel, err)
		}
		s.Parallel = n
	}
	return nil
}

// Validate checks enumerated fields and bounds.
func (s Settings) Validate() error {
	var problems []string

	if s.FigsRoot == "" {
		problems = append(problems, "figs_root is empty")
	}
	if !slices.Contains([]string{"npy", "arrow"}, s.Store) {
		problems = append(problems, fmt.Sprintf("store %q is not npy or arrow", s.Store))
	}
	if !slices.Contains([]string{"error", "recompute"}, s.OnMismatch) {
		problems = append(problems, fmt.Sprintf("on_mismatch %q is not error or recompute", s.OnMismatch))
	}
	if s.Parallel < 1 {
		problems = append(problems, fmt.Sprintf("parallel must be at least 1, got %d", s.Parallel))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(s.Log.Level)) {
		problems = append(problems, fmt.Sprintf("log level %q", s.Log.Level))
	}
	if !slices.Contains([]string{"text", "json"}, s.Log.Format) {
		problems = append(problems, fmt.Sprintf("log format %q", s.Log.Format))
	}
	if !slices.Contains([]string{"paper", "notebook", "talk", "poster"}, s.Theme.Context) {
		problems = append(problems, fmt.Sprintf("theme context %q", s.Theme.Context))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}
