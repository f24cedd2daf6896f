package config

import (
	"fmt"
	"slices"
)

// Hyperparameter names, as the trainer spells them.
const (
	HParamAttLambda         = "att_lambda"
	HParamL2Lambda          = "l2_lambda"
	HParamNegSampleRatio    = "neg_sample_ratio"
	HParamEdgeSamplingRatio = "edge_sampling_ratio"
	HParamLR                = "lr"
	HParamDropout           = "dropout"
)

var hparamFields = map[string]func(*Experiment) *float64{
	HParamAttLambda:         func(e *Experiment) *float64 { return &e.AttLambda },
	HParamL2Lambda:          func(e *Experiment) *float64 { return &e.L2Lambda },
	HParamNegSampleRatio:    func(e *Experiment) *float64 { return &e.NegSampleRatio },
	HParamEdgeSamplingRatio: func(e *Experiment) *float64 { return &e.EdgeSamplingRatio },
	HParamLR:                func(e *Experiment) *float64 { return &e.LR },
	HParamDropout:           func(e *Experiment) *float64 { return &e.Dropout },
}

// HParamNames lists the sweepable hyperparameters in sorted order.
func HParamNames() []string {
	names := make([]string, 0, len(hparamFields))
	for name := range hparamFields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HParam returns the current value of the named hyperparameter.
func (e Experiment) HParam(name string) (float64, error) {
	field, ok := hparamFields[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownHParam, name)
	}
	return *field(&e), nil
}

// With returns a copy of e with the named hyperparameter set to value.
// The receiver is never modified.
func (e Experiment) With(name string, value float64) (Experiment, error) {
	field, ok := hparamFields[name]
	if !ok {
		return Experiment{}, fmt.Errorf("%w: %q", ErrUnknownHParam, name)
	}
	*field(&e) = value
	return e, nil
}

// WithAll applies every override in turn.
func (e Experiment) WithAll(overrides map[string]float64) (Experiment, error) {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	slices.Sort(names)

	var err error
	for _, name := range names {
		if e, err = e.With(name, overrides[name]); err != nil {
			return Experiment{}, err
		}
	}
	return e, nil
}

// Field is one named value of an Experiment in wire order.
type Field struct {
	Name  string
	Value any
}

// Fields lists every field under its trainer-facing name.
func (e Experiment) Fields() []Field {
	return []Field{
		{"model_name", e.ModelName},
		{"dataset_class", e.DatasetClass},
		{"dataset_name", e.DatasetName},
		{"custom_key", e.CustomKey},
		{"task_type", e.TaskType},
		{"perf_task_for_val", e.PerfTaskForVal},
		{"m", e.M},
		{HParamAttLambda, e.AttLambda},
		{HParamL2Lambda, e.L2Lambda},
		{HParamNegSampleRatio, e.NegSampleRatio},
		{HParamEdgeSamplingRatio, e.EdgeSamplingRatio},
		{HParamLR, e.LR},
		{HParamDropout, e.Dropout},
		{"verbose", e.Verbose},
		{"seed", e.Seed},
	}
}
