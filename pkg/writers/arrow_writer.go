package writers

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// ArrowWriter writes Arrow IPC files, readable by the feather loader.
type ArrowWriter struct {
	writer *ipc.FileWriter
	dest   *destination
	closed bool
}

// NewArrowWriter creates a new Arrow IPC writer.
func NewArrowWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	dest, err := openDestination(config, "Arrow")
	if err != nil {
		return nil, err
	}

	// the IPC writer needs the schema of the first record
	return &ArrowWriter{dest: dest}, nil
}

// Write writes a record to the file.
func (w *ArrowWriter) Write(ctx context.Context, record arrow.Record) error {
	if w.closed {
		return errClosed
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	if w.writer == nil {
		writer, err := ipc.NewFileWriter(w.dest.sink(), ipc.WithSchema(record.Schema()), ipc.WithLZ4())
		if err != nil {
			return fmt.Errorf("failed to create Arrow writer: %w", err)
		}
		w.writer = writer
	}

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Close closes the writer and flushes any pending data.
func (w *ArrowWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.writer != nil {
		err = w.writer.Close()
	}
	if closeErr := w.dest.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
