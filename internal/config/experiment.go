package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Task types understood by the trainer.
const (
	TaskTypeNodeTransductive = "Node_Transductive"
	TaskTypeNodeInductive    = "Node_Inductive"
	TaskTypeLinkPrediction   = "Link_Prediction"
)

// Validation tasks used to pick the best epoch.
const (
	PerfTaskNode = "Node"
	PerfTaskLink = "Link"
)

// linkPrefix marks the link-prediction variant of a dataset class.
const linkPrefix = "Link"

var (
	// ErrInvalidCombination is returned by New when the requested fields
	// cannot be trained together.
	ErrInvalidCombination = errors.New("invalid experiment combination")

	// ErrUnknownHParam is returned when a hyperparameter name has no field.
	ErrUnknownHParam = errors.New("unknown hyperparameter")
)

var (
	modelNames     = []string{"GAT", "BaselineGAT", "LargeGAT"}
	planetoidNames = []string{"Cora", "CiteSeer", "PubMed"}
	datasetClasses = []string{
		"Planetoid", "LinkPlanetoid", "ADPlanetoid",
		"PPI", "LinkPPI",
		"RandomPartitionGraph", "LinkRandomPartitionGraph",
	}

	// rpg-<classes>-<nodes per class>-<homophily>-<avg degree ratio>
	rpgNamePattern = regexp.MustCompile(`^rpg-\d+-\d+-[0-9.eE+-]+-[0-9.eE+-]+$`)
)

// Experiment is one training configuration. It is a plain value: copies
// never share state, so every sweep point can hold its own.
type Experiment struct {
	ModelName    string `json:"model_name" yaml:"model_name"`
	DatasetClass string `json:"dataset_class" yaml:"dataset_class"`
	DatasetName  string `json:"dataset_name" yaml:"dataset_name"`
	CustomKey    string `json:"custom_key" yaml:"custom_key"`

	TaskType       string `json:"task_type" yaml:"task_type"`
	PerfTaskForVal string `json:"perf_task_for_val" yaml:"perf_task_for_val"`

	// M tags the attention form (GO, DP) for grouping in combined plots.
	M string `json:"m,omitempty" yaml:"m,omitempty"`

	AttLambda         float64 `json:"att_lambda" yaml:"att_lambda"`
	L2Lambda          float64 `json:"l2_lambda" yaml:"l2_lambda"`
	NegSampleRatio    float64 `json:"neg_sample_ratio" yaml:"neg_sample_ratio"`
	EdgeSamplingRatio float64 `json:"edge_sampling_ratio" yaml:"edge_sampling_ratio"`
	LR                float64 `json:"lr" yaml:"lr"`
	Dropout           float64 `json:"dropout" yaml:"dropout"`

	Verbose int `json:"verbose" yaml:"verbose"`
	Seed    int `json:"seed" yaml:"seed"`
}

// Options names the identity fields an Experiment is built from.
type Options struct {
	ModelName    string `json:"model_name" yaml:"model_name"`
	DatasetClass string `json:"dataset_class" yaml:"dataset_class"`
	DatasetName  string `json:"dataset_name" yaml:"dataset_name"`
	CustomKey    string `json:"custom_key" yaml:"custom_key"`
}

// New builds an Experiment with default hyperparameters and validates the
// combination of identity fields.
func New(opts Options) (Experiment, error) {
	exp := Experiment{
		ModelName:         opts.ModelName,
		DatasetClass:      opts.DatasetClass,
		DatasetName:       opts.DatasetName,
		CustomKey:         opts.CustomKey,
		AttLambda:         2.0,
		L2Lambda:          5e-4,
		NegSampleRatio:    0.5,
		EdgeSamplingRatio: 0.8,
		LR:                0.005,
		Dropout:           0.6,
		Verbose:           2,
	}

	if err := exp.Validate(); err != nil {
		return Experiment{}, err
	}

	exp.TaskType, exp.PerfTaskForVal = defaultTask(exp.DatasetClass)
	if exp.DatasetClass == "PPI" {
		exp.L2Lambda = 0
		exp.Dropout = 0
	}
	return exp, nil
}

// Validate reports whether the identity fields can be trained together.
func (e Experiment) Validate() error {
	if !slices.Contains(modelNames, e.ModelName) {
		return fmt.Errorf("%w: model %q", ErrInvalidCombination, e.ModelName)
	}
	if e.CustomKey == "" {
		return fmt.Errorf("%w: empty custom key", ErrInvalidCombination)
	}
	if !slices.Contains(datasetClasses, e.DatasetClass) {
		return fmt.Errorf("%w: dataset class %q", ErrInvalidCombination, e.DatasetClass)
	}

	switch strings.TrimPrefix(e.DatasetClass, linkPrefix) {
	case "Planetoid", "ADPlanetoid":
		if !slices.Contains(planetoidNames, e.DatasetName) {
			return fmt.Errorf("%w: %s has no dataset %q", ErrInvalidCombination, e.DatasetClass, e.DatasetName)
		}
	case "PPI":
		if e.DatasetName != "PPI" {
			return fmt.Errorf("%w: %s has no dataset %q", ErrInvalidCombination, e.DatasetClass, e.DatasetName)
		}
	case "RandomPartitionGraph":
		if !rpgNamePattern.MatchString(e.DatasetName) {
			return fmt.Errorf("%w: malformed random partition graph name %q", ErrInvalidCombination, e.DatasetName)
		}
	}
	return nil
}

func defaultTask(datasetClass string) (taskType, perfTask string) {
	switch {
	case strings.HasPrefix(datasetClass, linkPrefix):
		return TaskTypeLinkPrediction, PerfTaskLink
	case datasetClass == "PPI":
		return TaskTypeNodeInductive, PerfTaskNode
	default:
		return TaskTypeNodeTransductive, PerfTaskNode
	}
}

// Key identifies the experiment on disk. Only the model, dataset, and
// custom key take part, so hyperparameter overrides share a key.
func (e Experiment) Key() string {
	return fmt.Sprintf("%s-%s-%s", e.ModelName, e.DatasetName, e.CustomKey)
}

// ForLinkPrediction returns a copy switched to the link-prediction variant.
func (e Experiment) ForLinkPrediction() Experiment {
	e.TaskType = TaskTypeLinkPrediction
	e.PerfTaskForVal = PerfTaskLink
	if !strings.HasPrefix(e.DatasetClass, linkPrefix) {
		e.DatasetClass = linkPrefix + e.DatasetClass
	}
	return e
}

// String renders the identity and task fields for log lines.
func (e Experiment) String() string {
	return fmt.Sprintf("%s [%s/%s, %s]", e.Key(), e.DatasetClass, e.TaskType, e.PerfTaskForVal)
}
