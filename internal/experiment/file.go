package experiment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/sweep"
)

// File is an experiment file. It either names a preset mode or spells a
// single ablation out.
type File struct {
	Name string `yaml:"name,omitempty"`

	Mode        string      `yaml:"mode,omitempty"`
	ModeOptions ModeOptions `yaml:"mode_options,omitempty"`

	HParam         string           `yaml:"hparam,omitempty"`
	Values         []float64        `yaml:"values,omitempty"`
	Runs           int              `yaml:"runs,omitempty"`
	Tasks          []string         `yaml:"tasks,omitempty"`
	PlotIndividual *bool            `yaml:"plot_individual,omitempty"`
	UseLogX        *bool            `yaml:"use_log_x,omitempty"`
	XLabel         string           `yaml:"x_label,omitempty"`
	YLabel         string           `yaml:"y_label,omitempty"`
	Experiments    []ExperimentSpec `yaml:"experiments,omitempty"`
}

// ExperimentSpec is one experiment of a File.
type ExperimentSpec struct {
	config.Options `yaml:",inline"`

	M         string             `yaml:"m,omitempty"`
	Verbose   *int               `yaml:"verbose,omitempty"`
	Seed      int                `yaml:"seed,omitempty"`
	Overrides map[string]float64 `yaml:"overrides,omitempty"`
}

// LoadFile reads and plans an experiment file.
func LoadFile(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read experiment file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Plan{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f.Plan()
}

// Plan turns the file into ablation requests.
func (f File) Plan() (Plan, error) {
	if f.Mode != "" {
		if len(f.Experiments) > 0 || f.HParam != "" {
			return Plan{}, errors.New("experiment file sets both mode and an explicit sweep")
		}
		return PlanMode(f.Mode, f.ModeOptions)
	}

	if f.HParam == "" {
		return Plan{}, errors.New("experiment file has no hparam")
	}
	if len(f.Values) == 0 {
		return Plan{}, fmt.Errorf("experiment file: %w", sweep.ErrEmptySweep)
	}
	if f.Runs < 1 {
		return Plan{}, fmt.Errorf("experiment file: runs must be positive, got %d", f.Runs)
	}
	if len(f.Experiments) == 0 {
		return Plan{}, errors.New("experiment file has no experiments")
	}

	req := Request{
		HParam:         f.HParam,
		Values:         f.Values,
		Runs:           f.Runs,
		XLabel:         f.XLabel,
		YLabel:         f.YLabel,
		PlotIndividual: f.PlotIndividual == nil || *f.PlotIndividual,
		UseLogX:        f.UseLogX == nil || *f.UseLogX,
	}
	if req.UseLogX {
		if err := checkLogX(req.Values); err != nil {
			return Plan{}, fmt.Errorf("experiment file: %w", err)
		}
	}
	for _, name := range f.Tasks {
		t, err := sweep.ParseTask(name)
		if err != nil {
			return Plan{}, err
		}
		req.Tasks = append(req.Tasks, t)
	}
	for i, spec := range f.Experiments {
		exp, err := spec.Build()
		if err != nil {
			return Plan{}, fmt.Errorf("experiment %d: %w", i, err)
		}
		if _, err := exp.HParam(f.HParam); err != nil {
			return Plan{}, err
		}
		req.Experiments = append(req.Experiments, exp)
	}

	return Plan{Mode: f.Name, Requests: []Request{req}}, nil
}

// Build constructs and overrides the experiment.
func (s ExperimentSpec) Build() (config.Experiment, error) {
	exp, err := config.New(s.Options)
	if err != nil {
		return config.Experiment{}, err
	}
	exp.M = s.M
	exp.Seed = s.Seed
	if s.Verbose != nil {
		exp.Verbose = *s.Verbose
	}
	return exp.WithAll(s.Overrides)
}
