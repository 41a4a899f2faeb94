// Package hfdataset reads datasets written by the HuggingFace datasets
// library's save_to_disk: a directory holding state.json, dataset_info.json
// and one or more Arrow IPC stream files. A DatasetDict directory holds a
// dataset_dict.json and one such directory per split.
package hfdataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

// ErrNotDataset is returned when a directory does not hold a saved dataset.
var ErrNotDataset = errors.New("not a saved dataset directory")

const (
	stateFile       = "state.json"
	infoFile        = "dataset_info.json"
	datasetDictFile = "dataset_dict.json"

	// schemaMetadataKey holds {"info": {"features": ...}} in the data files.
	schemaMetadataKey = "huggingface"
)

type state struct {
	DataFiles []struct {
		Filename string `json:"filename"`
	} `json:"_data_files"`
	Split *string `json:"_split"`
}

type info struct {
	Features json.RawMessage `json:"features"`
}

type datasetDict struct {
	Splits []string `json:"splits"`
}

// Dataset is a fully materialized dataset with its declared features.
type Dataset struct {
	dir      string
	features Features
	record   arrow.Record
	mem      memory.Allocator
}

// Load reads the dataset saved in dir. For DatasetDict directories split picks
// the split to load; it may be empty when the dict holds a single split.
func Load(ctx context.Context, dir, split string, mem memory.Allocator) (*Dataset, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	dir, err := resolveSplit(dir, split)
	if err != nil {
		return nil, err
	}

	var st state
	if err := readJSON(filepath.Join(dir, stateFile), &st); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotDataset, dir, err)
		}
		return nil, err
	}
	if len(st.DataFiles) == 0 {
		return nil, fmt.Errorf("%w: %s lists no data files", ErrNotDataset, dir)
	}

	var (
		schema  *arrow.Schema
		records []arrow.Record
	)
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	for _, df := range st.DataFiles {
		fileSchema, recs, err := readStream(ctx, filepath.Join(dir, df.Filename), mem)
		records = append(records, recs...)
		if err != nil {
			return nil, err
		}
		if schema == nil {
			schema = fileSchema
		} else if !schema.Equal(fileSchema) {
			return nil, fmt.Errorf("data file %s: schema does not match the first data file", df.Filename)
		}
	}

	features, err := readFeatures(dir, schema)
	if err != nil {
		return nil, err
	}

	record, err := tabular.Concat(schema, records, mem)
	if err != nil {
		return nil, err
	}

	return &Dataset{dir: dir, features: features, record: record, mem: mem}, nil
}

func resolveSplit(dir, split string) (string, error) {
	var dict datasetDict
	err := readJSON(filepath.Join(dir, datasetDictFile), &dict)
	if errors.Is(err, os.ErrNotExist) {
		return dir, nil
	}
	if err != nil {
		return "", err
	}

	switch {
	case split != "":
		if !slices.Contains(dict.Splits, split) {
			return "", fmt.Errorf("split %q not found, available splits: %v", split, dict.Splits)
		}
	case len(dict.Splits) == 1:
		split = dict.Splits[0]
	default:
		return "", fmt.Errorf("%s is a dataset dict with splits %v; set the split option", dir, dict.Splits)
	}
	return filepath.Join(dir, split), nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readStream(ctx context.Context, path string, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	reader, err := ipc.NewReader(f, ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Arrow stream reader for %s: %w", filepath.Base(path), err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, records, err
		}
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, records, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return reader.Schema(), records, nil
}

// readFeatures prefers dataset_info.json, then the schema metadata, then
// infers a declaration for each remaining column from its Arrow type.
func readFeatures(dir string, schema *arrow.Schema) (Features, error) {
	var declared Features

	var inf info
	err := readJSON(filepath.Join(dir, infoFile), &inf)
	switch {
	case err == nil && len(inf.Features) > 0 && string(inf.Features) != "null":
		declared, err = ParseFeatures(inf.Features)
		if err != nil {
			return nil, err
		}
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, err
	default:
		declared, err = featuresFromMetadata(schema.Metadata())
		if err != nil {
			return nil, err
		}
	}

	features := make(Features, schema.NumFields())
	for _, field := range schema.Fields() {
		if f, ok := declared[field.Name]; ok {
			features[field.Name] = f
			continue
		}
		features[field.Name] = inferFeature(field)
	}
	return features, nil
}

func featuresFromMetadata(md arrow.Metadata) (Features, error) {
	idx := md.FindKey(schemaMetadataKey)
	if idx < 0 {
		return nil, nil
	}
	var payload struct {
		Info info `json:"info"`
	}
	if err := json.Unmarshal([]byte(md.Values()[idx]), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode schema metadata: %w", err)
	}
	if len(payload.Info.Features) == 0 {
		return nil, nil
	}
	return ParseFeatures(payload.Info.Features)
}

// Dir is the directory the data files were read from.
func (d *Dataset) Dir() string { return d.dir }

// Features returns the declared feature of every column.
func (d *Dataset) Features() Features { return d.features }

// Schema returns the Arrow schema of the data.
func (d *Dataset) Schema() *arrow.Schema { return d.record.Schema() }

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int64 { return d.record.NumRows() }

// Record returns the data as one record. The caller must release it.
func (d *Dataset) Record() arrow.Record {
	d.record.Retain()
	return d.record
}

// Release frees the data held by the dataset.
func (d *Dataset) Release() {
	if d.record != nil {
		d.record.Release()
		d.record = nil
	}
}

// Batch is a window of rows handed to a BatchFunc. Columns replaced with Set
// take the place of the originals in the mapped dataset.
type Batch struct {
	record   arrow.Record
	replaced map[string]arrow.Array
}

// NumRows returns the number of rows in the batch.
func (b *Batch) NumRows() int { return int(b.record.NumRows()) }

// Column returns the named column of the batch, or nil.
func (b *Batch) Column(name string) arrow.Array {
	indices := b.record.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil
	}
	return b.record.Column(indices[0])
}

// Set replaces the named column. The batch takes ownership of arr.
func (b *Batch) Set(name string, arr arrow.Array) {
	if old, ok := b.replaced[name]; ok {
		old.Release()
	}
	b.replaced[name] = arr
}

func (b *Batch) release() {
	for _, arr := range b.replaced {
		arr.Release()
	}
	b.record.Release()
}

// BatchFunc transforms one batch in place.
type BatchFunc func(batch *Batch) error

// MapOptions configures Map.
type MapOptions struct {
	// BatchSize is the number of rows per batch; values <= 0 use one batch.
	BatchSize int

	// Features declares the output features. Columns whose declaration
	// changes to a Value type get that type in the output schema.
	Features Features
}

// Map applies fn to consecutive batches, in order, in the calling goroutine,
// and returns a new in-memory dataset. The receiver is left untouched.
func (d *Dataset) Map(ctx context.Context, fn BatchFunc, opts MapOptions) (*Dataset, error) {
	features := opts.Features
	if features == nil {
		features = d.features
	}

	schema, err := d.mappedSchema(features)
	if err != nil {
		return nil, err
	}

	rows := d.record.NumRows()
	batchSize := int64(opts.BatchSize)
	if batchSize <= 0 {
		batchSize = max(rows, 1)
	}

	var out []arrow.Record
	defer func() {
		for _, rec := range out {
			rec.Release()
		}
	}()

	for start := int64(0); start < rows; start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, rows)
		batch := &Batch{record: d.record.NewSlice(start, end), replaced: make(map[string]arrow.Array)}

		if err := fn(batch); err != nil {
			batch.release()
			return nil, fmt.Errorf("batch [%d:%d]: %w", start, end, err)
		}
		rec, err := assemble(schema, batch)
		batch.release()
		if err != nil {
			return nil, fmt.Errorf("batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, rec)
	}

	record, err := tabular.Concat(schema, out, d.mem)
	if err != nil {
		return nil, err
	}
	return &Dataset{dir: d.dir, features: features, record: record, mem: d.mem}, nil
}

// mappedSchema keeps the column order and swaps in the Value type of every
// column whose declaration changed.
func (d *Dataset) mappedSchema(features Features) (*arrow.Schema, error) {
	in := d.record.Schema()
	fields := make([]arrow.Field, in.NumFields())
	for i, field := range in.Fields() {
		fields[i] = field
		next, ok := features[field.Name]
		if !ok || next.Equal(d.features[field.Name]) {
			continue
		}
		typ, ok := next.ArrowType()
		if !ok {
			return nil, fmt.Errorf("column %q: cannot map to feature %s", field.Name, next)
		}
		fields[i] = arrow.Field{Name: field.Name, Type: typ, Nullable: true}
	}
	md, err := withFeatures(in.Metadata(), features)
	if err != nil {
		return nil, err
	}
	return arrow.NewSchema(fields, &md), nil
}

// withFeatures rewrites info.features of the huggingface metadata key so
// the schema never declares a type its columns no longer hold. Other keys of
// the payload are kept.
func withFeatures(md arrow.Metadata, features Features) (arrow.Metadata, error) {
	idx := md.FindKey(schemaMetadataKey)
	if idx < 0 {
		return md, nil
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(md.Values()[idx]), &payload); err != nil {
		return md, fmt.Errorf("failed to decode schema metadata: %w", err)
	}
	if payload == nil {
		payload = map[string]json.RawMessage{}
	}
	infoPayload := map[string]json.RawMessage{}
	if raw, ok := payload["info"]; ok {
		if err := json.Unmarshal(raw, &infoPayload); err != nil {
			return md, fmt.Errorf("failed to decode schema metadata: %w", err)
		}
	}

	encoded, err := json.Marshal(features)
	if err != nil {
		return md, fmt.Errorf("failed to encode features: %w", err)
	}
	infoPayload["features"] = encoded
	if payload["info"], err = json.Marshal(infoPayload); err != nil {
		return md, err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return md, err
	}

	values := slices.Clone(md.Values())
	values[idx] = string(value)
	return arrow.NewMetadata(md.Keys(), values), nil
}

func assemble(schema *arrow.Schema, batch *Batch) (arrow.Record, error) {
	cols := make([]arrow.Array, schema.NumFields())
	for i, field := range schema.Fields() {
		col, ok := batch.replaced[field.Name]
		if !ok {
			col = batch.record.Column(i)
		}
		if !arrow.TypeEqual(col.DataType(), field.Type) {
			return nil, fmt.Errorf("column %q: got %s, features declare %s", field.Name, col.DataType(), field.Type)
		}
		if col.Len() != batch.NumRows() {
			return nil, fmt.Errorf("column %q: got %d rows, batch has %d", field.Name, col.Len(), batch.NumRows())
		}
		cols[i] = col
	}
	return array.NewRecord(schema, cols, int64(batch.NumRows())), nil
}
