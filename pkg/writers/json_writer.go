package writers

import (
	"bufio"
	"context"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// JSONWriter writes a JSON array with one object per row, keys in column
// order. NaN and infinite floats become null.
type JSONWriter struct {
	dest   *destination
	buf    *bufio.Writer
	rows   int
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	dest, err := openDestination(config, "JSON")
	if err != nil {
		return nil, err
	}

	buf := bufio.NewWriter(dest)
	if err := buf.WriteByte('['); err != nil {
		dest.Close()
		return nil, fmt.Errorf("failed to write opening bracket: %w", err)
	}
	return &JSONWriter{dest: dest, buf: buf}, nil
}

// Write writes a record to the file.
func (w *JSONWriter) Write(ctx context.Context, record arrow.Record) error {
	if w.closed {
		return errClosed
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	keys := make([][]byte, record.NumCols())
	for j, field := range record.Schema().Fields() {
		key, err := json.Marshal(field.Name)
		if err != nil {
			return fmt.Errorf("failed to encode column name %q: %w", field.Name, err)
		}
		keys[j] = key
	}

	for i := 0; i < int(record.NumRows()); i++ {
		if w.rows > 0 {
			w.buf.WriteByte(',')
		}
		w.buf.WriteString("\n  {")
		for j, col := range record.Columns() {
			if j > 0 {
				w.buf.WriteString(", ")
			}
			w.buf.Write(keys[j])
			w.buf.WriteString(": ")

			value, err := json.Marshal(jsonValue(col, i))
			if err != nil {
				return fmt.Errorf("failed to encode row %d column %s: %w", w.rows, record.ColumnName(j), err)
			}
			w.buf.Write(value)
		}
		if _, err := w.buf.WriteString("}"); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		w.rows++
	}
	return nil
}

func jsonValue(col arrow.Array, i int) any {
	if col.IsNull(i) {
		return nil
	}
	switch v := col.GetOneForMarshal(i).(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil
		}
		return v
	default:
		return v
	}
}

// Close closes the writer and flushes any pending data.
func (w *JSONWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	closing := "]\n"
	if w.rows > 0 {
		closing = "\n]\n"
	}
	_, err := w.buf.WriteString(closing)
	if flushErr := w.buf.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	if closeErr := w.dest.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
