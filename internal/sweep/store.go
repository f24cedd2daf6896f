package sweep

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// ErrNotCached is returned by a Store when no matrix exists at a path.
var ErrNotCached = fmt.Errorf("result matrix not cached: %w", fs.ErrNotExist)

// Store persists Result Matrices, one file per (sweep key, task).
type Store interface {
	// Ext is the file extension, without the dot.
	Ext() string

	// Load reads the matrix at path, or returns ErrNotCached.
	Load(path string) (*mat.Dense, error)

	// Save writes m to path, replacing any previous file.
	Save(path string, m *mat.Dense) error
}

// NewStore returns the store for a settings name: "npy" or "arrow".
func NewStore(kind string) (Store, error) {
	switch kind {
	case "", "npy":
		return NPYStore{}, nil
	case "arrow":
		return ArrowStore{}, nil
	default:
		return nil, fmt.Errorf("unknown result store %q", kind)
	}
}

func openCached(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("open result: %w", err)
	}
	return f, nil
}

// writeAtomic writes via a temp file in the same directory and renames it
// into place, so readers never see a partial matrix.
func writeAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create result directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp result: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp result: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename result: %w", err)
	}
	return nil
}
