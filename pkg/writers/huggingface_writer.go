package writers

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/hfdataset"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

// HuggingFaceWriter saves records as a save_to_disk dataset directory.
// Records are buffered and written on Close.
type HuggingFaceWriter struct {
	dir     string
	records []arrow.Record
	closed  bool
}

// NewHuggingFaceWriter creates a writer for the dataset directory config.Path.
func NewHuggingFaceWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for HuggingFace writer")
	}
	return &HuggingFaceWriter{dir: config.Path}, nil
}

// Write buffers a record.
func (w *HuggingFaceWriter) Write(ctx context.Context, record arrow.Record) error {
	if w.closed {
		return errClosed
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	if len(w.records) > 0 && !w.records[0].Schema().Equal(record.Schema()) {
		return fmt.Errorf("record schema %s does not match %s", record.Schema(), w.records[0].Schema())
	}
	record.Retain()
	w.records = append(w.records, record)
	return nil
}

// Close writes the buffered records to the dataset directory.
func (w *HuggingFaceWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer func() {
		for _, rec := range w.records {
			rec.Release()
		}
		w.records = nil
	}()

	if len(w.records) == 0 {
		return errors.New("no records written to HuggingFace writer")
	}

	rec, err := tabular.Concat(w.records[0].Schema(), w.records, memory.DefaultAllocator)
	if err != nil {
		return err
	}
	defer rec.Release()

	if err := hfdataset.Save(w.dir, rec, nil); err != nil {
		return fmt.Errorf("failed to save dataset to %s: %w", w.dir, err)
	}
	return nil
}
