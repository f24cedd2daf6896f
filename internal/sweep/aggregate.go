package sweep

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Task is a prediction task a sweep is run for.
type Task string

const (
	TaskNode Task = "node"
	TaskLink Task = "link"
)

// DefaultTasks is the task list used when a request names none.
var DefaultTasks = []Task{TaskNode, TaskLink}

// ParseTask accepts "node" or "link" in any case.
func ParseTask(s string) (Task, error) {
	switch t := Task(strings.ToLower(strings.TrimSpace(s))); t {
	case TaskNode, TaskLink:
		return t, nil
	default:
		return "", fmt.Errorf("unknown task %q", s)
	}
}

// Display returns the capitalized task name used in plot labels.
func (t Task) Display() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// tupleSep never appears in labels.
const tupleSep = "\x1f"

// Tuple is an ordered group of labels that keys one plotted series. The
// runner keys by the single-element tuple of the task display name;
// callers that merge sweeps prepend their own labels.
type Tuple string

// NewTuple joins labels into a Tuple.
func NewTuple(labels ...string) Tuple {
	return Tuple(strings.Join(labels, tupleSep))
}

// Labels splits the tuple back into its labels.
func (t Tuple) Labels() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), tupleSep)
}

// String renders the tuple for humans.
func (t Tuple) String() string {
	return "(" + strings.Join(t.Labels(), ", ") + ")"
}

// Aggregate holds per-sweep-value statistics for each task.
type Aggregate struct {
	Means map[Tuple][]float64
	Stds  map[Tuple][]float64

	// Matrices are the Result Matrices the statistics came from.
	Matrices map[Task]*mat.Dense
}

func newAggregate() *Aggregate {
	return &Aggregate{
		Means:    make(map[Tuple][]float64),
		Stds:     make(map[Tuple][]float64),
		Matrices: make(map[Task]*mat.Dense),
	}
}

// ForTask returns the mean and std vectors of one task.
func (a *Aggregate) ForTask(t Task) (means, stds []float64, ok bool) {
	key := NewTuple(t.Display())
	means, ok = a.Means[key]
	return means, a.Stds[key], ok
}

// RowStats returns the mean and population standard deviation of every
// row of m.
func RowStats(m *mat.Dense) (means, stds []float64) {
	rows, _ := m.Dims()
	means = make([]float64, rows)
	stds = make([]float64, rows)
	for i := 0; i < rows; i++ {
		means[i], stds[i] = stat.PopMeanStdDev(m.RawRowView(i), nil)
	}
	return means, stds
}

// overallMean is the mean of every cell.
func overallMean(m *mat.Dense) float64 {
	rows, cols := m.Dims()
	return mat.Sum(m) / float64(rows*cols)
}
