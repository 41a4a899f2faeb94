package writers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/loaders"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

func sampleRecord(t *testing.T) arrow.Record {
	t.Helper()
	rec, err := tabular.Build([]tabular.Column{
		{Name: "id", Values: []any{1, 2, 3}},
		{Name: "score", Values: []any{0.5, nil, 2.25}},
		{Name: "name", Values: []any{"a", "b, c", nil}},
	}, memory.DefaultAllocator)
	require.NoError(t, err)
	t.Cleanup(rec.Release)
	return rec
}

func TestFactory(t *testing.T) {
	assert.Equal(t, []string{"arrow", "csv", "huggingface", "json", "parquet"}, DefaultFactory.Types())

	_, err := DefaultFactory.Create(core.WriterConfig{Type: "xml", Path: "out.xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")

	_, err = DefaultFactory.Create(core.WriterConfig{Type: "CSV"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		writer string
		loader string
		file   string
	}{
		{"csv", "csv", "out.csv"},
		{"json", "json", "out.json"},
		{"parquet", "parquet", "out.parquet"},
		{"arrow", "feather", "out.arrow"},
		{"huggingface", "huggingface", "dataset"},
	}

	for _, tt := range tests {
		t.Run(tt.writer, func(t *testing.T) {
			rec := sampleRecord(t)
			path := filepath.Join(t.TempDir(), tt.file)

			require.NoError(t, DefaultFactory.WriteRecord(context.Background(), core.WriterConfig{Type: tt.writer, Path: path}, rec))

			got, err := loaders.Process(context.Background(), path, tt.loader, nil, 0)
			require.NoError(t, err)
			defer got.Release()

			assert.Equal(t, tabular.Rows(rec), tabular.Rows(got))
		})
	}
}

func TestWriteMultipleRecords(t *testing.T) {
	for _, typ := range []string{"csv", "json", "parquet", "arrow", "huggingface"} {
		t.Run(typ, func(t *testing.T) {
			rec := sampleRecord(t)
			path := filepath.Join(t.TempDir(), "out")

			w, err := DefaultFactory.Create(core.WriterConfig{Type: typ, Path: path})
			require.NoError(t, err)
			require.NoError(t, w.Write(context.Background(), rec))
			require.NoError(t, w.Write(context.Background(), rec))
			require.NoError(t, w.Close())
			require.NoError(t, w.Close(), "second close is a no-op")
			assert.Error(t, w.Write(context.Background(), rec))

			format := typ
			if typ == "arrow" {
				format = "feather"
			}
			got, err := loaders.Process(context.Background(), path, format, nil, 0)
			require.NoError(t, err)
			defer got.Release()
			assert.Equal(t, int64(6), got.NumRows())
		})
	}
}

func TestWriteToOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, DefaultFactory.WriteRecord(context.Background(), core.WriterConfig{Type: "csv", Output: &buf}, sampleRecord(t)))
	assert.Equal(t, "id,score,name\n1,0.5,a\n2,,\"b, c\"\n3,2.25,\n", buf.String())

	buf.Reset()
	require.NoError(t, DefaultFactory.WriteRecord(context.Background(), core.WriterConfig{Type: "json", Output: &buf}, sampleRecord(t)))
	assert.JSONEq(t, `[
		{"id": 1, "score": 0.5, "name": "a"},
		{"id": 2, "score": null, "name": "b, c"},
		{"id": 3, "score": 2.25, "name": null}
	]`, buf.String())
	assert.True(t, strings.Index(buf.String(), `"id"`) < strings.Index(buf.String(), `"score"`), "keys keep column order")
}

func TestJSONWriterEmptyAndNaN(t *testing.T) {
	mem := memory.NewGoAllocator()
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues([]float64{1, nanValue()}, nil)
	col := b.NewArray()
	defer col.Release()
	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Float64, Nullable: true}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, 2)
	defer rec.Release()

	var buf bytes.Buffer
	require.NoError(t, DefaultFactory.WriteRecord(context.Background(), core.WriterConfig{Type: "json", Output: &buf}, rec))
	assert.JSONEq(t, `[{"x": 1}, {"x": null}]`, buf.String())

	buf.Reset()
	w, err := NewJSONWriter(core.WriterConfig{Output: &buf})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, typ := range DefaultFactory.Types() {
		w, err := DefaultFactory.Create(core.WriterConfig{Type: typ, Path: filepath.Join(t.TempDir(), "out")})
		require.NoError(t, err)
		assert.ErrorIs(t, w.Write(ctx, sampleRecord(t)), context.Canceled, typ)
		w.Close()
	}
}

func TestHuggingFaceWriterRejectsMixedSchemas(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dataset")
	w, err := NewHuggingFaceWriter(core.WriterConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), sampleRecord(t)))

	other, err := tabular.Build([]tabular.Column{{Name: "other", Values: []any{"x"}}}, nil)
	require.NoError(t, err)
	defer other.Release()
	assert.Error(t, w.Write(context.Background(), other))
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(dir, "state.json"))
	assert.NoError(t, err)
}

func TestHuggingFaceWriterEmpty(t *testing.T) {
	w, err := NewHuggingFaceWriter(core.WriterConfig{Path: filepath.Join(t.TempDir(), "dataset")})
	require.NoError(t, err)
	assert.Error(t, w.Close())
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
