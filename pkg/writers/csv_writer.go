package writers

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// CSVWriter writes comma separated text with a header row. Nulls are
// written as empty fields.
type CSVWriter struct {
	writer *csv.Writer
	dest   *destination
	closed bool
}

// NewCSVWriter creates a new CSV writer.
func NewCSVWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	dest, err := openDestination(config, "CSV")
	if err != nil {
		return nil, err
	}
	return &CSVWriter{dest: dest}, nil
}

// Write writes a record to the file.
func (w *CSVWriter) Write(ctx context.Context, record arrow.Record) error {
	if w.closed {
		return errClosed
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	if w.writer == nil {
		w.writer = csv.NewWriter(w.dest, record.Schema(),
			csv.WithComma(','),
			csv.WithHeader(true),
			csv.WithNullWriter(""),
		)
	}

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Close closes the writer and flushes any pending data.
func (w *CSVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.writer != nil {
		if err = w.writer.Flush(); err == nil {
			err = w.writer.Error()
		}
	}
	if closeErr := w.dest.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
