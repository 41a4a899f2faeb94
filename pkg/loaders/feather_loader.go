package loaders

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

type featherOptions struct {
	Columns []string `option:"columns"`
}

// FeatherLoader loads Feather v2 files, which are Arrow IPC files.
type FeatherLoader struct {
	base
	opts featherOptions
}

// NewFeatherLoader creates a new Feather loader.
func NewFeatherLoader(config core.LoaderConfig) (core.Loader, error) {
	b, err := newBase(config)
	if err != nil {
		return nil, err
	}

	var opts featherOptions
	if err := decodeOptions(config.Type, config.Options, &opts); err != nil {
		return nil, err
	}
	return &FeatherLoader{base: b, opts: opts}, nil
}

// Load reads every record batch of the file into a single record.
func (l *FeatherLoader) Load(ctx context.Context) (arrow.Record, error) {
	blob, err := l.open(ctx, "none")
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	reader, err := ipc.NewFileReader(blob, ipc.WithAllocator(l.alloc))
	if err != nil {
		return nil, fmt.Errorf("failed to create Feather reader: %w", err)
	}
	defer reader.Close()

	records := make([]arrow.Record, 0, reader.NumRecords())
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	for i := 0; i < reader.NumRecords(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := reader.Record(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record batch %d: %w", i, err)
		}
		rec.Retain()
		records = append(records, rec)
	}

	rec, err := tabular.Concat(reader.Schema(), records, l.alloc)
	if err != nil {
		return nil, err
	}
	return project(rec, l.opts.Columns)
}

// project keeps the requested columns, releasing rec when it builds a new record.
func project(rec arrow.Record, columns []string) (arrow.Record, error) {
	if len(columns) == 0 {
		return rec, nil
	}
	defer rec.Release()
	return tabular.Project(rec, columns)
}
