package loaders

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
)

// sequenceLoader returns a table with an int64 column 0..rows-1 and a string column.
type sequenceLoader struct {
	rows int
	err  error
}

func (l *sequenceLoader) Load(context.Context) (arrow.Record, error) {
	if l.err != nil {
		return nil, l.err
	}
	mem := memory.NewGoAllocator()
	ib := array.NewInt64Builder(mem)
	defer ib.Release()
	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	for i := 0; i < l.rows; i++ {
		ib.Append(int64(i))
		sb.Append(string(rune('a' + i%26)))
	}
	ids, names := ib.NewArray(), sb.NewArray()
	defer ids.Release()
	defer names.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	return array.NewRecord(schema, []arrow.Array{ids, names}, int64(l.rows)), nil
}

func sequenceFactory(rows int, err error) *Factory {
	f := NewFactory()
	f.Register("seq", func(core.LoaderConfig) (core.Loader, error) {
		return &sequenceLoader{rows: rows, err: err}, nil
	})
	return f
}

func TestResolveBuiltins(t *testing.T) {
	tests := []struct {
		tag  string
		want any
	}{
		{"csv", &CSVLoader{}},
		{"CSV", &CSVLoader{}},
		{"json", &JSONLoader{}},
		{"Json", &JSONLoader{}},
		{"feather", &FeatherLoader{}},
		{"FEATHER", &FeatherLoader{}},
		{"parquet", &ParquetLoader{}},
		{"Parquet", &ParquetLoader{}},
		{"df", &PickleLoader{}},
		{"DF", &PickleLoader{}},
		{"huggingface", &HuggingFaceLoader{}},
		{"HuggingFace", &HuggingFaceLoader{}},
	}

	f := NewDefaultFactory()
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			creator, err := f.Resolve(tt.tag)
			require.NoError(t, err)
			require.NotNil(t, creator)

			loader, err := f.Create(core.LoaderConfig{Type: core.Format(tt.tag), Path: "data"})
			require.NoError(t, err)
			assert.IsType(t, tt.want, loader)
		})
	}
}

func TestResolveUnknownFormat(t *testing.T) {
	f := NewDefaultFactory()

	for _, tag := range []string{"xml", "XLSX", "", "pickle"} {
		_, err := f.Resolve(tag)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrUnsupportedFormat))
	}

	_, err := Process(context.Background(), "data.xml", "xml", nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "xml")

	_, err = Process(context.Background(), "data.xml", "XML", nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid dataset type: xml")
}

func TestFormats(t *testing.T) {
	f := NewDefaultFactory()
	assert.Equal(t, core.Formats(), f.Formats())
	assert.Equal(t, core.Formats(), DefaultFactory.Formats())
	assert.Empty(t, NewFactory().Formats())
}

func TestCreateRequiresPath(t *testing.T) {
	f := NewDefaultFactory()
	for _, format := range core.Formats() {
		_, err := f.Create(core.LoaderConfig{Type: format})
		assert.Error(t, err, format)
	}
}

func TestCreateRejectsUnknownOptions(t *testing.T) {
	f := NewDefaultFactory()
	for _, format := range core.Formats() {
		_, err := f.Create(core.LoaderConfig{Type: format, Path: "data", Options: core.Options{"bogus": 1}})
		require.Error(t, err, format)
		assert.Contains(t, err.Error(), "bogus")
	}
}

func TestProcessTruncates(t *testing.T) {
	f := sequenceFactory(5, nil)

	tests := []struct {
		name    string
		maxRows int
		want    []int64
	}{
		{"no limit", 0, []int64{0, 1, 2, 3, 4}},
		{"fewer rows", 2, []int64{0, 1}},
		{"exact", 5, []int64{0, 1, 2, 3, 4}},
		{"more than available", 50, []int64{0, 1, 2, 3, 4}},
		{"negative drops from end", -2, []int64{0, 1, 2}},
		{"negative beyond length", -9, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := f.Process(context.Background(), "unused", "SEQ", nil, tt.maxRows)
			require.NoError(t, err)
			defer rec.Release()

			require.Equal(t, int64(2), rec.NumCols())
			got := append([]int64{}, rec.Column(0).(*array.Int64).Int64Values()...)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessHeadProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(0, 300).Draw(t, "rows")
		maxRows := rapid.IntRange(0, 400).Draw(t, "maxRows")

		rec, err := sequenceFactory(total, nil).Process(context.Background(), "unused", "seq", nil, maxRows)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		defer rec.Release()

		want := total
		if maxRows > 0 {
			want = min(maxRows, total)
		}
		if int(rec.NumRows()) != want {
			t.Fatalf("got %d rows, want %d", rec.NumRows(), want)
		}
		if rec.NumCols() != 2 {
			t.Fatalf("got %d columns, want 2", rec.NumCols())
		}
		ids := rec.Column(0).(*array.Int64)
		for i := 0; i < ids.Len(); i++ {
			if ids.Value(i) != int64(i) {
				t.Fatalf("row %d holds %d", i, ids.Value(i))
			}
		}
	})
}

func TestProcessWrapsLoadErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := sequenceFactory(1, boom).Process(context.Background(), "somewhere", "seq", nil, 0)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "somewhere")
}

func TestCreatePassesStorage(t *testing.T) {
	store := newMemStorage(map[string][]byte{"mem://bucket/data.csv": []byte("a\n1\n")})

	f := NewDefaultFactory(WithStorage(store))
	rec, err := f.Process(context.Background(), "mem://bucket/data.csv", "csv", nil, 0)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(1), rec.NumRows())
	assert.Equal(t, []string{"mem://bucket/data.csv"}, store.opened)
}
