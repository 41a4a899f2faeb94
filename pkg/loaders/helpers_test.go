package loaders

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// memStorage serves fixed payloads by exact path.
type memStorage struct {
	files  map[string][]byte
	opened []string
}

func newMemStorage(files map[string][]byte) *memStorage {
	return &memStorage{files: files}
}

type memBlob struct {
	*bytes.Reader
}

func (memBlob) Close() error { return nil }

func (s *memStorage) Open(_ context.Context, path, _ string) (core.Blob, error) {
	s.opened = append(s.opened, path)
	data, ok := s.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return memBlob{bytes.NewReader(data)}, nil
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// load runs a single loader through the default factory.
func load(t *testing.T, path, format string, options core.Options, maxRows int) arrow.Record {
	t.Helper()
	rec, err := Process(context.Background(), path, format, options, maxRows)
	require.NoError(t, err)
	t.Cleanup(rec.Release)
	return rec
}

func columnNames(rec arrow.Record) []string {
	names := make([]string, rec.NumCols())
	for i := range names {
		names[i] = rec.ColumnName(i)
	}
	return names
}

func columnValues(rec arrow.Record, name string) []any {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil
	}
	col := rec.Column(indices[0])
	values := make([]any, col.Len())
	for i := range values {
		if !col.IsNull(i) {
			values[i] = col.GetOneForMarshal(i)
		}
	}
	return values
}

// sampleRecord has an int64 id, a float64 score and a string name column.
func sampleRecord(t *testing.T, n int) arrow.Record {
	t.Helper()
	mem := memory.NewGoAllocator()

	ids := array.NewInt64Builder(mem)
	defer ids.Release()
	scores := array.NewFloat64Builder(mem)
	defer scores.Release()
	names := array.NewStringBuilder(mem)
	defer names.Release()

	for i := 0; i < n; i++ {
		ids.Append(int64(i))
		scores.Append(float64(i) / 2)
		names.Append(string(rune('a' + i%26)))
	}

	cols := []arrow.Array{ids.NewArray(), scores.NewArray(), names.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	rec := array.NewRecord(schema, cols, int64(n))
	t.Cleanup(rec.Release)
	return rec
}

func writeJSONFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
