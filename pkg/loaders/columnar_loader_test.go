package loaders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// writeFeather writes recs as separate record batches of one Feather v2 file.
func writeFeather(t *testing.T, recs ...arrow.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.feather")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(recs[0].Schema()), ipc.WithLZ4())
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return path
}

func writeParquet(t *testing.T, rec arrow.Record, rowGroupSize int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	require.NoError(t, pqarrow.WriteTable(tbl, f, rowGroupSize, props, pqarrow.DefaultWriterProps()))
	return path
}

func TestFeatherLoader(t *testing.T) {
	rec := sampleRecord(t, 6)
	first, second := rec.NewSlice(0, 4), rec.NewSlice(4, 6)
	defer first.Release()
	defer second.Release()

	path := writeFeather(t, first, second)

	t.Run("all batches", func(t *testing.T) {
		got := load(t, path, "feather", nil, 0)
		assert.Equal(t, []string{"id", "score", "name"}, columnNames(got))
		assert.Equal(t, int64(6), got.NumRows())
		assert.Equal(t, []any{int64(0), int64(1), int64(2), int64(3), int64(4), int64(5)}, columnValues(got, "id"))
	})

	t.Run("max rows across batches", func(t *testing.T) {
		got := load(t, path, "feather", nil, 5)
		assert.Equal(t, int64(5), got.NumRows())
		assert.Equal(t, []any{"a", "b", "c", "d", "e"}, columnValues(got, "name"))
	})

	t.Run("columns", func(t *testing.T) {
		got := load(t, path, "feather", core.Options{"columns": []string{"name", "id"}}, 0)
		assert.Equal(t, []string{"name", "id"}, columnNames(got))
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := Process(t.Context(), path, "feather", core.Options{"columns": "nope"}, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})
}

func TestFeatherLoaderRejectsOtherFiles(t *testing.T) {
	path := writeFile(t, "data.feather", []byte("a,b\n1,2\n"))
	_, err := Process(t.Context(), path, "feather", nil, 0)
	assert.Error(t, err)
}

func TestParquetLoader(t *testing.T) {
	rec := sampleRecord(t, 10)
	path := writeParquet(t, rec, 3)

	t.Run("all row groups", func(t *testing.T) {
		got := load(t, path, "parquet", nil, 0)
		assert.Equal(t, []string{"id", "score", "name"}, columnNames(got))
		require.Equal(t, int64(10), got.NumRows())
		assert.Equal(t, 4.5, columnValues(got, "score")[9])
	})

	t.Run("max rows", func(t *testing.T) {
		got := load(t, path, "PARQUET", core.Options{"use_threads": true, "batch_size": 2}, 4)
		assert.Equal(t, []any{int64(0), int64(1), int64(2), int64(3)}, columnValues(got, "id"))
	})

	t.Run("columns", func(t *testing.T) {
		got := load(t, path, "parquet", core.Options{"columns": "score"}, 0)
		assert.Equal(t, []string{"score"}, columnNames(got))
	})
}

func TestParquetLoaderEmpty(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	rec := b.NewRecord()
	defer rec.Release()

	path := writeParquet(t, rec, 1024)
	got := load(t, path, "parquet", nil, 3)
	assert.Equal(t, int64(0), got.NumRows())
	assert.Equal(t, []string{"id"}, columnNames(got))
}

func TestParquetLoaderRejectsOtherFiles(t *testing.T) {
	path := writeFile(t, "data.parquet", []byte("not parquet at all"))
	_, err := Process(t.Context(), path, "parquet", nil, 0)
	assert.Error(t, err)
}
