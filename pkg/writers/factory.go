// Package writers provides implementations of dataset writers for various data formats.
package writers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// Factory creates a writer based on the given configuration.
type Factory struct {
	// registered writers by lowercased type
	writers map[string]Creator
}

// Creator is a function that creates a writer from a configuration.
type Creator func(config core.WriterConfig) (core.DatasetWriter, error)

// NewFactory creates a new writer factory.
func NewFactory() *Factory {
	return &Factory{
		writers: make(map[string]Creator),
	}
}

// Register registers a creator for a writer type.
func (f *Factory) Register(typ string, creator Creator) {
	f.writers[strings.ToLower(typ)] = creator
}

// Create creates a writer based on the given configuration.
func (f *Factory) Create(config core.WriterConfig) (core.DatasetWriter, error) {
	creator, ok := f.writers[strings.ToLower(config.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported writer type: %s", config.Type)
	}
	return creator(config)
}

// Types lists the registered writer types in sorted order.
func (f *Factory) Types() []string {
	types := make([]string, 0, len(f.writers))
	for typ := range f.writers {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// WriteRecord creates a writer for config, writes rec and closes the writer.
func (f *Factory) WriteRecord(ctx context.Context, config core.WriterConfig, rec arrow.Record) error {
	w, err := f.Create(config)
	if err != nil {
		return err
	}
	if err := w.Write(ctx, rec); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// DefaultFactory is the default writer factory with built-in writer types.
var DefaultFactory = NewFactory()

// init registers built-in writer types.
func init() {
	DefaultFactory.Register("csv", NewCSVWriter)
	DefaultFactory.Register("parquet", NewParquetWriter)
	DefaultFactory.Register("arrow", NewArrowWriter)
	DefaultFactory.Register("json", NewJSONWriter)
	DefaultFactory.Register("huggingface", NewHuggingFaceWriter)
}

// destination is the sink a streaming writer encodes into.
type destination struct {
	io.Writer
	file *os.File
}

// openDestination prefers config.Output and otherwise creates config.Path.
// Only files it created are closed by Close.
func openDestination(config core.WriterConfig, kind string) (*destination, error) {
	if config.Output != nil {
		return &destination{Writer: config.Output}, nil
	}
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for %s writer", kind)
	}
	file, err := os.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s file: %w", kind, err)
	}
	return &destination{Writer: file, file: file}, nil
}

// sink hides Close from encoders that close the writer they are given.
func (d *destination) sink() io.Writer {
	return struct{ io.Writer }{d.Writer}
}

func (d *destination) Close() error {
	if d.file == nil {
		return nil
	}
	f := d.file
	d.file = nil
	return f.Close()
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var errClosed = errors.New("writer is closed")
