package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rand/gatsweep/internal/config"
)

func init() {
	// config show flags
	configShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	configShowCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")

	configCmd.AddCommand(
		configShowCmd,
		configEditCmd,
		configValidateCmd,
		configPathCmd,
		configSchemaCmd,
	)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Settings management",
	Long:  "Commands for inspecting and editing gatsweep settings",
	// Settings may be invalid here, so logging keeps its defaults.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective settings",
	Long:  "Display the settings after merging defaults, files, environment, and flags",
	Example: `
# Show settings in human-readable format
gatsweep config show

# Show settings as JSON
gatsweep config show --json

# Show settings as YAML
gatsweep config show --yaml
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		s, loaded, err := loadSettingsWithSources(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(s)
		}

		if asYAML {
			encoder := yaml.NewEncoder(out)
			encoder.SetIndent(2)
			return encoder.Encode(s)
		}

		fmt.Fprintln(out, "Effective Settings")
		fmt.Fprintln(out, "==================")
		fmt.Fprintln(out)

		fmt.Fprintf(out, "  Figs Root:         %s\n", s.FigsRoot)
		fmt.Fprintf(out, "  Store:             %s\n", s.Store)
		fmt.Fprintf(out, "  On Mismatch:       %s\n", s.OnMismatch)
		fmt.Fprintf(out, "  Parallel:          %d\n", s.Parallel)
		fmt.Fprintf(out, "  Manifest:          %v\n", s.Manifest)
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Trainer:")
		if len(s.Trainer.Command) > 0 {
			fmt.Fprintf(out, "  Command:           %v\n", s.Trainer.Command)
		} else {
			fmt.Fprintf(out, "  Command:           (unset, see %s)\n", config.EnvTrainerCmd)
		}
		if len(s.Trainer.ReleaseCommand) > 0 {
			fmt.Fprintf(out, "  Release Command:   %v\n", s.Trainer.ReleaseCommand)
		}
		if s.Trainer.Dir != "" {
			fmt.Fprintf(out, "  Dir:               %s\n", s.Trainer.Dir)
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Log:")
		fmt.Fprintf(out, "  Level:             %s\n", s.Log.Level)
		fmt.Fprintf(out, "  Format:            %s\n", s.Log.Format)
		if s.Log.File != "" {
			fmt.Fprintf(out, "  File:              %s\n", s.Log.File)
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Theme:")
		fmt.Fprintf(out, "  Style:             %s\n", s.Theme.Style)
		fmt.Fprintf(out, "  Context:           %s\n", s.Theme.Context)
		fmt.Fprintf(out, "  Extension:         %s\n", s.Theme.Extension)

		if len(loaded) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Loaded from:")
			for _, p := range loaded {
				fmt.Fprintf(out, "  %s\n", p)
			}
		}
		return nil
	},
}

const defaultSettingsFile = `# gatsweep settings
# Run "gatsweep config schema" for every field.

# figs_root: ../figs
# store: npy
# on_mismatch: error
# parallel: 1

# trainer:
#   command: [python, train.py]
#   release_command: [python, -c, "import torch; torch.cuda.empty_cache()"]

# theme:
#   context: poster
`

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open settings in editor",
	Long:  "Open the project settings file, or the user file when there is none, in your editor",
	Example: `
# Edit settings with $EDITOR
gatsweep config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}

		// Project files take precedence over the user file.
		paths := config.SettingsPaths(cwd)
		var settingsPath string
		for i := len(paths) - 1; i >= 0; i-- {
			if _, err := os.Stat(paths[i]); err == nil {
				settingsPath = paths[i]
				break
			}
		}

		if settingsPath == "" {
			settingsPath = config.UserSettingsPath()
			if settingsPath == "" {
				return fmt.Errorf("no user config directory")
			}
			if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
				return fmt.Errorf("create settings directory: %w", err)
			}
			if err := os.WriteFile(settingsPath, []byte(defaultSettingsFile), 0o644); err != nil {
				return fmt.Errorf("create default settings: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created new settings file: %s\n", settingsPath)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			editor = "vi"
		}

		execCmd := exec.CommandContext(cmd.Context(), editor, settingsPath)
		execCmd.Stdin = os.Stdin
		execCmd.Stdout = os.Stdout
		execCmd.Stderr = os.Stderr

		return execCmd.Run()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate settings",
	Long:  "Check the settings for errors and warnings",
	Example: `
# Validate settings
gatsweep config validate
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		s, _, err := loadSettingsWithSources(cmd)
		if err != nil {
			fmt.Fprintf(out, "✗ %v\n", err)
			return err
		}

		var warnings []string
		if len(s.Trainer.Command) == 0 {
			warnings = append(warnings, fmt.Sprintf("No trainer command (set trainer.command or %s); only cached sweeps can run", config.EnvTrainerCmd))
		} else if _, err := exec.LookPath(s.Trainer.Command[0]); err != nil {
			warnings = append(warnings, fmt.Sprintf("Trainer program %q not found in PATH", s.Trainer.Command[0]))
		}
		if _, err := os.Stat(s.FigsRoot); os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("Figs root does not exist: %s (will be created)", s.FigsRoot))
		}

		if len(warnings) > 0 {
			fmt.Fprintln(out, "Warnings:")
			for _, w := range warnings {
				fmt.Fprintf(out, "  ⚠ %s\n", w)
			}
			fmt.Fprintln(out, "\n✓ Settings are valid with warnings")
			return nil
		}
		fmt.Fprintln(out, "✓ Settings are valid")
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show settings file paths",
	Long:  "Display the paths settings are loaded from, lowest precedence first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Settings Paths (lowest precedence first):")
		fmt.Fprintln(out)
		for _, p := range config.SettingsPaths(cwd) {
			status := "✗"
			if _, err := os.Stat(p); err == nil {
				status = "✓"
			}
			fmt.Fprintf(out, "  %s %s\n", status, p)
		}
		if explicit, _ := cmd.Flags().GetString("config"); explicit != "" {
			fmt.Fprintf(out, "  → %s (--config)\n", explicit)
		}
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the settings JSON schema",
	Long:  "Print the JSON schema of the settings file, for editor completion",
	Example: `
# Save the schema next to the project settings
gatsweep config schema > .gatsweep.schema.json
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{DoNotReference: true}
		schema := reflector.Reflect(&config.Settings{})
		schema.Title = "gatsweep settings"

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(schema)
	},
}
