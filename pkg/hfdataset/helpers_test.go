package hfdataset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

var (
	matrixType = arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Float64))
	imageType  = arrow.StructOf(
		arrow.Field{Name: "bytes", Type: arrow.BinaryTypes.Binary, Nullable: true},
		arrow.Field{Name: "path", Type: arrow.BinaryTypes.String, Nullable: true},
	)
)

// buildMatrices builds a list<list<float64>> column; a nil matrix is a null cell.
func buildMatrices(t *testing.T, mem memory.Allocator, cells [][][]float64) arrow.Array {
	t.Helper()

	b := array.NewListBuilder(mem, arrow.ListOf(arrow.PrimitiveTypes.Float64))
	defer b.Release()
	rows := b.ValueBuilder().(*array.ListBuilder)
	values := rows.ValueBuilder().(*array.Float64Builder)

	for _, cell := range cells {
		if cell == nil {
			b.AppendNull()
			continue
		}
		b.Append(true)
		for _, row := range cell {
			rows.Append(true)
			values.AppendValues(row, nil)
		}
	}
	return b.NewArray()
}

// buildImages builds an Image struct column from encoded image bytes; nil is a null cell.
func buildImages(t *testing.T, mem memory.Allocator, cells [][]byte) arrow.Array {
	t.Helper()

	b := array.NewStructBuilder(mem, imageType)
	defer b.Release()
	bytesB := b.FieldBuilder(0).(*array.BinaryBuilder)
	pathB := b.FieldBuilder(1).(*array.StringBuilder)

	for _, cell := range cells {
		if cell == nil {
			b.AppendNull()
			continue
		}
		b.Append(true)
		bytesB.Append(cell)
		pathB.AppendNull()
	}
	return b.NewArray()
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidRGB(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// writeFixture saves a dataset with an id, a 2D array, an image and a label column.
func writeFixture(t *testing.T, dir string, matrices [][][]float64, images [][]byte) {
	t.Helper()
	require.Equal(t, len(matrices), len(images))

	mem := memory.NewGoAllocator()

	ids := array.NewInt64Builder(mem)
	defer ids.Release()
	labels := array.NewStringBuilder(mem)
	defer labels.Release()
	for i := range matrices {
		ids.Append(int64(i))
		labels.Append(string(rune('a' + i%26)))
	}

	cols := []arrow.Array{ids.NewArray(), buildMatrices(t, mem, matrices), buildImages(t, mem, images), labels.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "matrix", Type: matrixType, Nullable: true},
		{Name: "image", Type: imageType, Nullable: true},
		{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	rec := array.NewRecord(schema, cols, int64(len(matrices)))
	defer rec.Release()

	require.NoError(t, Save(dir, rec, Features{
		"id":     {Type: TypeValue, Dtype: "int64"},
		"matrix": {Type: TypeArray2D, Dtype: "float64", Shape: []int{2, 2}},
		"image":  {Type: TypeImage},
		"label":  {Type: TypeValue, Dtype: "string"},
	}))
}
