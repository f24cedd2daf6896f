package sweep

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"gonum.org/v1/gonum/mat"
)

// ArrowStore keeps matrices as Arrow IPC streams: one float64 column per
// seed, one row per sweep value.
type ArrowStore struct{}

// Ext implements Store.
func (ArrowStore) Ext() string { return "arrow" }

func seedSchema(seeds int) *arrow.Schema {
	fields := make([]arrow.Field, seeds)
	for j := range fields {
		fields[j] = arrow.Field{Name: fmt.Sprintf("seed_%d", j), Type: arrow.PrimitiveTypes.Float64}
	}
	return arrow.NewSchema(fields, nil)
}

// Save implements Store.
func (ArrowStore) Save(path string, m *mat.Dense) error {
	rows, cols := m.Dims()
	schema := seedSchema(cols)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for j := 0; j < cols; j++ {
		col := builder.Field(j).(*array.Float64Builder)
		for i := 0; i < rows; i++ {
			col.Append(m.At(i, j))
		}
	}
	record := builder.NewRecord()
	defer record.Release()

	return writeAtomic(path, func(w io.Writer) error {
		writer := ipc.NewWriter(w, ipc.WithSchema(schema))
		if err := writer.Write(record); err != nil {
			writer.Close()
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("close writer: %w", err)
		}
		return nil
	})
}

// Load implements Store.
func (ArrowStore) Load(path string) (*mat.Dense, error) {
	f, err := openCached(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := ipc.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer reader.Release()

	cols := len(reader.Schema().Fields())
	var data []float64
	rows := 0
	for reader.Next() {
		record := reader.Record()
		n := int(record.NumRows())
		block := make([]float64, n*cols)
		for j := 0; j < cols; j++ {
			col, ok := record.Column(j).(*array.Float64)
			if !ok {
				return nil, fmt.Errorf("decode %s: column %d is %s, not float64", path, j, record.Column(j).DataType())
			}
			for i := 0; i < n; i++ {
				block[i*cols+j] = col.Value(i)
			}
		}
		data = append(data, block...)
		rows += n
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if rows == 0 || cols == 0 {
		return nil, errors.New("decode " + path + ": empty result matrix")
	}
	return mat.NewDense(rows, cols, data), nil
}
