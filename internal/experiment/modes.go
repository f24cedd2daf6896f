package experiment

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/rand/gatsweep/internal/config"
	"github.com/rand/gatsweep/internal/sweep"
)

// Preset modes.
const (
	ModeMixingCoefficient = "mixing-coefficient"
	ModeRealWorldDatasets = "real-world-datasets"
	ModeNSROrESR          = "nsr-or-esr"
)

// Ratio choices of ModeNSROrESR.
const (
	RatioNSR = "NSR"
	RatioESR = "ESR"
)

// Modes lists the preset modes.
func Modes() []string {
	return []string{ModeMixingCoefficient, ModeNSROrESR, ModeRealWorldDatasets}
}

// MixingCoefficients are the att_lambda values every mixing sweep uses.
var MixingCoefficients = []float64{1e-3, 1e-2, 1e-1, 1e0, 1e1, 1e2, 1e3}

// Plan is a named list of ablations.
type Plan struct {
	Mode     string
	Requests []Request
}

// ModeOptions overrides the experiment a preset mode starts from. Empty
// fields keep the mode's defaults.
type ModeOptions struct {
	ModelName    string `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	DatasetClass string `json:"dataset_class,omitempty" yaml:"dataset_class,omitempty"`
	DatasetName  string `json:"dataset_name,omitempty" yaml:"dataset_name,omitempty"`
	CustomKey    string `json:"custom_key,omitempty" yaml:"custom_key,omitempty"`

	// Ratio picks the swept ratio in ModeNSROrESR.
	Ratio string `json:"ratio,omitempty" yaml:"ratio,omitempty"`
}

func (o ModeOptions) merge(defaults config.Options) config.Options {
	if o.ModelName != "" {
		defaults.ModelName = o.ModelName
	}
	if o.DatasetClass != "" {
		defaults.DatasetClass = o.DatasetClass
	}
	if o.DatasetName != "" {
		defaults.DatasetName = o.DatasetName
	}
	if o.CustomKey != "" {
		defaults.CustomKey = o.CustomKey
	}
	return defaults
}

// PlanMode builds the ablations of a preset mode.
func PlanMode(mode string, opts ModeOptions) (Plan, error) {
	var (
		reqs []Request
		err  error
	)
	switch mode {
	case ModeMixingCoefficient:
		reqs, err = planMixingCoefficient(opts)
	case ModeRealWorldDatasets:
		reqs, err = planRealWorldDatasets()
	case ModeNSROrESR:
		reqs, err = planNSROrESR(opts)
	default:
		return Plan{}, fmt.Errorf("unknown mode %q (want one of %v)", mode, Modes())
	}
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", mode, err)
	}
	return Plan{Mode: mode, Requests: reqs}, nil
}

func planMixingCoefficient(opts ModeOptions) ([]Request, error) {
	base := opts.merge(config.Options{
		ModelName:    "GAT",
		DatasetClass: "Planetoid",
		DatasetName:  "CiteSeer",
		CustomKey:    "EV1O8-ES",
	})

	if base.DatasetClass == "RandomPartitionGraph" {
		const degree = 2.5
		avgDegRatio := degree / 500
		var reqs []Request
		for _, h := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
			o := base
			o.DatasetName = fmt.Sprintf("rpg-10-500-%g-%g", h, avgDegRatio)
			exp, err := config.New(o)
			if err != nil {
				return nil, err
			}
			exp.L2Lambda = 1e-7
			exp.Verbose = 0
			reqs = append(reqs, mixingRequest(exp, 5))
		}
		return reqs, nil
	}

	exp, err := config.New(base)
	if err != nil {
		return nil, err
	}
	runs := 10
	if exp.DatasetName == "PPI" {
		runs = 5
	}
	return []Request{mixingRequest(exp, runs)}, nil
}

func mixingRequest(exp config.Experiment, runs int) Request {
	return Request{
		HParam:         config.HParamAttLambda,
		Values:         slices.Clone(MixingCoefficients),
		Experiments:    []config.Experiment{exp},
		Runs:           runs,
		PlotIndividual: true,
		UseLogX:        true,
	}
}

func planRealWorldDatasets() ([]Request, error) {
	datasets := []struct{ class, name string }{
		{"Planetoid", "Cora"},
		{"Planetoid", "CiteSeer"},
		{"Planetoid", "PubMed"},
		{"PPI", "PPI"},
	}
	variants := []struct{ customKey, m string }{
		{"EV1O8-ES", "GO"},
		{"EV2O8-ES", "DP"},
		{"EV1-500-ES", "GO"},
		{"EV2-500-ES", "DP"},
	}

	var exps []config.Experiment
	for _, ds := range datasets {
		for _, v := range variants {
			exp, err := config.New(config.Options{
				ModelName:    "GAT",
				DatasetClass: ds.class,
				DatasetName:  ds.name,
				CustomKey:    v.customKey,
			})
			if err != nil {
				slog.Warn("Skipping experiment", "dataset", ds.name, "custom_key", v.customKey, "error", err)
				continue
			}
			exp.M = v.m
			exps = append(exps, exp)
		}
	}
	if len(exps) == 0 {
		return nil, fmt.Errorf("%w: no valid experiments", config.ErrInvalidCombination)
	}

	return []Request{{
		HParam:         config.HParamAttLambda,
		Values:         slices.Clone(MixingCoefficients),
		Experiments:    exps,
		Runs:           5,
		PlotIndividual: false,
		UseLogX:        true,
	}}, nil
}

func planNSROrESR(opts ModeOptions) ([]Request, error) {
	base := opts.merge(config.Options{
		ModelName:    "GAT",
		DatasetClass: "Planetoid",
		DatasetName:  "CiteSeer",
		CustomKey:    "EV20NSO8-ES",
	})
	exp, err := config.New(base)
	if err != nil {
		return nil, err
	}
	exp.Verbose = 0

	req := Request{
		Experiments: []config.Experiment{exp},
		Tasks:       []sweep.Task{sweep.TaskNode},
		Runs:        5,
		UseLogX:     false,

		PlotIndividual: true,
	}

	switch opts.Ratio {
	case RatioNSR:
		values := []float64{0.1, 0.5, 1.0, 2.5, 5.0}
		if exp.DatasetName == "PPI" {
			values = values[:4]
		}
		slices.Reverse(values)
		req.HParam = config.HParamNegSampleRatio
		req.Values = values
		req.XLabel = "Negative Sampling Ratio"
	case RatioESR, "":
		req.HParam = config.HParamEdgeSamplingRatio
		req.Values = []float64{0.1, 0.3, 0.5, 0.7, 0.9}
		req.XLabel = "Edge Sampling Ratio"
	default:
		return nil, fmt.Errorf("unknown ratio %q (want %s or %s)", opts.Ratio, RatioNSR, RatioESR)
	}
	return []Request{req}, nil
}
