package writers

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// ParquetWriter implements a writer for Parquet files.
type ParquetWriter struct {
	writer     *pqarrow.FileWriter
	dest       *destination
	properties pqarrow.ArrowWriterProperties
	closed     bool
}

// NewParquetWriter creates a new Parquet writer.
func NewParquetWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	dest, err := openDestination(config, "Parquet")
	if err != nil {
		return nil, err
	}

	return &ParquetWriter{
		dest:       dest,
		properties: pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()),
	}, nil
}

// Write writes a record to the file.
func (w *ParquetWriter) Write(ctx context.Context, record arrow.Record) error {
	if w.closed {
		return errClosed
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	if w.writer == nil {
		writeProps := parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy),
			parquet.WithDictionaryDefault(false),
		)

		writer, err := pqarrow.NewFileWriter(record.Schema(), w.dest.sink(), writeProps, w.properties)
		if err != nil {
			return fmt.Errorf("failed to create Parquet writer: %w", err)
		}
		w.writer = writer
	}

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Close closes the writer and flushes any pending data.
func (w *ParquetWriter) Close() error {
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
