package loaders

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

const defaultParquetBatchSize = 10000

type parquetOptions struct {
	Columns    []string `option:"columns"`
	UseThreads bool     `option:"use_threads"`
	BatchSize  int64    `option:"batch_size"`
}

// ParquetLoader loads Parquet files.
type ParquetLoader struct {
	base
	opts parquetOptions
}

// NewParquetLoader creates a new Parquet loader.
func NewParquetLoader(config core.LoaderConfig) (core.Loader, error) {
	b, err := newBase(config)
	if err != nil {
		return nil, err
	}

	opts := parquetOptions{BatchSize: defaultParquetBatchSize}
	if err := decodeOptions(config.Type, config.Options, &opts); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultParquetBatchSize
	}
	return &ParquetLoader{base: b, opts: opts}, nil
}

// Load reads every row group into a single record.
func (l *ParquetLoader) Load(ctx context.Context) (arrow.Record, error) {
	blob, err := l.open(ctx, "none")
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	// Create parquet file reader - the blob is a ReaderAtSeeker
	parquetReader, err := file.NewParquetReader(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet file reader: %w", err)
	}
	defer parquetReader.Close()

	arrowProps := pqarrow.ArrowReadProperties{
		Parallel:  l.opts.UseThreads,
		BatchSize: l.opts.BatchSize,
	}
	arrowReader, err := pqarrow.NewFileReader(parquetReader, arrowProps, l.alloc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read Parquet table: %w", err)
	}
	defer table.Release()

	rec, err := tabular.TableToRecord(table, l.alloc)
	if err != nil {
		return nil, err
	}
	return project(rec, l.opts.Columns)
}
