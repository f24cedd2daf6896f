package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateUserConfig(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv(EnvFigsRoot, "")
	t.Setenv(EnvTrainerCmd, "")
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvParallel, "")
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "npy", s.Store)
	assert.Equal(t, "error", s.OnMismatch)
	assert.Equal(t, 1, s.Parallel)
	assert.True(t, s.Manifest)
	assert.NoError(t, s.Validate())
}

func TestLoadSettings_DefaultsOnly(t *testing.T) {
	isolateUserConfig(t)
	cwd := t.TempDir()

	s, loaded, err := LoadSettings(cwd, "")
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.Equal(t, filepath.Join(cwd, "..", "figs"), s.FigsRoot)
}

func TestLoadSettings_ProjectFileAndEnv(t *testing.T) {
	isolateUserConfig(t)
	cwd := t.TempDir()

	project := `
figs_root: out
store: arrow
parallel: 2
trainer:
  command: [python, main.py, --json]
theme:
  context: paper
`
	require.NoError(t, os.WriteFile(filepath.Join(cwd, ".gatsweep.yaml"), []byte(project), 0o644))
	t.Setenv(EnvLogLevel, "debug")

	s, loaded, err := LoadSettings(cwd, "")
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(cwd, ".gatsweep.yaml")}, loaded)
	assert.Equal(t, filepath.Join(cwd, "out"), s.FigsRoot)
	assert.Equal(t, "arrow", s.Store)
	assert.Equal(t, 2, s.Parallel)
	assert.Equal(t, []string{"python", "main.py", "--json"}, s.Trainer.Command)
	assert.Equal(t, "paper", s.Theme.Context)
	assert.Equal(t, "debug", s.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "error", s.OnMismatch)
}

func TestLoadSettings_ExplicitMissing(t *testing.T) {
	isolateUserConfig(t)
	_, _, err := LoadSettings(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadSettings_Invalid(t *testing.T) {
	isolateUserConfig(t)
	cwd := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cwd, ".gatsweep.yml"), []byte("store: parquet\nparallel: 0\n"), 0o644))

	_, _, err := LoadSettings(cwd, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
	assert.Contains(t, err.Error(), "parallel")
}

func TestSettingsPaths(t *testing.T) {
	isolateUserConfig(t)
	paths := SettingsPaths("/work")
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join("/work", ".gatsweep.yaml"), paths[1])
}
