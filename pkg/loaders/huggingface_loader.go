package loaders

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/ajshedivy/kubeflow-ppc64le-components/logger"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/hfdataset"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/storage"
)

// hashBatchSize is the number of rows hashed per batch.
const hashBatchSize = 100

type huggingFaceOptions struct {
	Split string `option:"split"`
	// KeepInMemory is accepted for compatibility and ignored: the dataset is
	// always read fully into memory.
	KeepInMemory bool `option:"keep_in_memory"`
}

// HuggingFaceLoader loads a dataset directory written by save_to_disk and
// replaces every 2D array and image column with the MD5 hex digest of each
// cell, so the result is a flat table.
type HuggingFaceLoader struct {
	base
	opts huggingFaceOptions
}

// NewHuggingFaceLoader creates a new structured-dataset loader.
func NewHuggingFaceLoader(config core.LoaderConfig) (core.Loader, error) {
	b, err := newBase(config)
	if err != nil {
		return nil, err
	}
	if strings.Contains(storage.LocalPath(config.Path), "://") {
		return nil, fmt.Errorf("structured datasets must be local directories: %s", config.Path)
	}

	var opts huggingFaceOptions
	if err := decodeOptions(config.Type, config.Options, &opts); err != nil {
		return nil, err
	}
	return &HuggingFaceLoader{base: b, opts: opts}, nil
}

// Load reads the dataset and hashes its non-scalar columns.
func (l *HuggingFaceLoader) Load(ctx context.Context) (arrow.Record, error) {
	ds, err := hfdataset.Load(ctx, storage.LocalPath(l.path), l.opts.Split, l.alloc)
	if err != nil {
		return nil, err
	}
	defer ds.Release()

	arrays, images := partitionColumns(ds)
	logger.GetLogger().Debug("hashing non-scalar columns",
		zap.Strings("arrays", arrays),
		zap.Strings("images", images))

	features := ds.Features().Copy()
	for _, name := range arrays {
		features[name] = hfdataset.StringValue()
	}
	for _, name := range images {
		features[name] = hfdataset.StringValue()
	}

	h := &hasher{arrays: arrays, images: images, baseDir: ds.Dir(), alloc: l.alloc}
	mapped, err := ds.Map(ctx, h.hashBatch, hfdataset.MapOptions{
		BatchSize: hashBatchSize,
		Features:  features,
	})
	if err != nil {
		return nil, err
	}
	defer mapped.Release()

	return mapped.Record(), nil
}

// partitionColumns returns the 2D array and image columns in schema order.
func partitionColumns(ds *hfdataset.Dataset) (arrays, images []string) {
	features := ds.Features()
	for _, field := range ds.Schema().Fields() {
		switch f := features[field.Name]; {
		case f.IsArray2D():
			arrays = append(arrays, field.Name)
		case f.IsImage():
			images = append(images, field.Name)
		}
	}
	return arrays, images
}

type hasher struct {
	arrays  []string
	images  []string
	baseDir string
	alloc   memory.Allocator
}

func (h *hasher) hashBatch(batch *hfdataset.Batch) error {
	for _, name := range h.arrays {
		hashed, err := h.hashColumn(batch.Column(name), hashArrayCell)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		batch.Set(name, hashed)
	}
	for _, name := range h.images {
		hashed, err := h.hashColumn(batch.Column(name), h.hashImageCell)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		batch.Set(name, hashed)
	}
	return nil
}

func (h *hasher) hashColumn(col arrow.Array, cell func(arrow.Array, int) ([]byte, error)) (arrow.Array, error) {
	b := array.NewStringBuilder(h.alloc)
	defer b.Release()
	b.Reserve(col.Len())

	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			b.AppendNull()
			continue
		}
		data, err := cell(col, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		b.Append(md5Hex(data))
	}
	return b.NewArray(), nil
}

// hashArrayCell concatenates the Python str() of each row of the 2D array.
func hashArrayCell(col arrow.Array, i int) ([]byte, error) {
	list, ok := col.(array.ListLike)
	if !ok {
		return nil, fmt.Errorf("expected a list column, got %s", col.DataType())
	}
	start, end := list.ValueOffsets(i)
	rows := list.ListValues()

	var sb strings.Builder
	for j := start; j < end; j++ {
		sb.WriteString(hfdataset.PyStr(rows, int(j)))
	}
	return []byte(sb.String()), nil
}

func (h *hasher) hashImageCell(col arrow.Array, i int) ([]byte, error) {
	return hfdataset.ImagePixels(col, i, h.baseDir)
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
