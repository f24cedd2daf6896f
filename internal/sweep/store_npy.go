package sweep

import (
	"fmt"
	"io"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// NPYStore keeps matrices in NumPy .npy files, so cached results stay
// readable with np.load.
type NPYStore struct{}

// Ext implements Store.
func (NPYStore) Ext() string { return "npy" }

// Load implements Store.
func (NPYStore) Load(path string) (*mat.Dense, error) {
	f, err := openCached(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &m, nil
}

// Save implements Store.
func (NPYStore) Save(path string, m *mat.Dense) error {
	return writeAtomic(path, func(w io.Writer) error {
		if err := npyio.Write(w, m); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		return nil
	})
}
