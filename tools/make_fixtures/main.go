package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/hfdataset"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/writers"
)

const (
	// Default values
	defaultRows   = 1000
	defaultOutDir = "test_data"
	defaultSeed   = 42

	// image side in pixels
	imageSize = 8
)

var (
	firstNames   = []string{"John", "Jane", "Bob", "Mary", "Alice", "David", "Emma", "Michael", "Olivia", "James"}
	statusValues = []string{"active", "inactive", "pending", "suspended"}
)

// Config for the fixture generator
type Config struct {
	rowCount   int
	outputDir  string
	randomSeed int64
	nullRate   float64
}

func main() {
	config := parseFlags()

	if err := os.MkdirAll(config.outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	rnd := rand.New(rand.NewSource(config.randomSeed))
	mem := memory.NewGoAllocator()

	table, err := generateTable(config, rnd, mem)
	if err != nil {
		log.Fatalf("Failed to generate table: %v", err)
	}
	defer table.Release()

	ctx := context.Background()
	for _, typ := range []string{"csv", "json", "parquet", "arrow"} {
		path := filepath.Join(config.outputDir, "sample."+typ)
		log.Printf("Writing %s (%d rows)", path, table.NumRows())
		if err := writers.DefaultFactory.WriteRecord(ctx, core.WriterConfig{Type: typ, Path: path}, table); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	dataset, err := generateDataset(config, rnd, mem)
	if err != nil {
		log.Fatalf("Failed to generate dataset: %v", err)
	}
	defer dataset.Release()

	features := hfdataset.Features{
		"matrix": {Type: hfdataset.TypeArray2D, Dtype: "float64", Shape: []int{2, 2}},
		"image":  {Type: hfdataset.TypeImage},
	}

	dir := filepath.Join(config.outputDir, "sample_dataset")
	log.Printf("Writing %s (%d rows)", dir, dataset.NumRows())
	if err := hfdataset.Save(dir, dataset, features); err != nil {
		log.Fatalf("Failed to write %s: %v", dir, err)
	}

	// train gets the first 80% of the rows, test the rest
	cut := dataset.NumRows() * 4 / 5
	train := dataset.NewSlice(0, cut)
	defer train.Release()
	test := dataset.NewSlice(cut, dataset.NumRows())
	defer test.Release()

	dir = filepath.Join(config.outputDir, "sample_dataset_dict")
	log.Printf("Writing %s (train %d rows, test %d rows)", dir, train.NumRows(), test.NumRows())
	if err := hfdataset.SaveDict(dir, map[string]arrow.Record{"train": train, "test": test}, features); err != nil {
		log.Fatalf("Failed to write %s: %v", dir, err)
	}
}

func parseFlags() Config {
	var config Config
	flag.IntVar(&config.rowCount, "rows", defaultRows, "Number of rows to generate")
	flag.StringVar(&config.outputDir, "out", defaultOutDir, "Output directory")
	flag.Int64Var(&config.randomSeed, "seed", defaultSeed, "Random seed")
	flag.Float64Var(&config.nullRate, "null-rate", 0.05, "Fraction of null cells in nullable columns")
	flag.Parse()

	if config.rowCount <= 0 {
		log.Fatalf("rows must be positive, got %d", config.rowCount)
	}
	return config
}

// generateTable builds a flat table with an id, a name, a score and a status.
func generateTable(config Config, rnd *rand.Rand, mem memory.Allocator) (arrow.Record, error) {
	ids := array.NewStringBuilder(mem)
	defer ids.Release()
	names := array.NewStringBuilder(mem)
	defer names.Release()
	scores := array.NewFloat64Builder(mem)
	defer scores.Release()
	counts := array.NewInt64Builder(mem)
	defer counts.Release()
	statuses := array.NewStringBuilder(mem)
	defer statuses.Release()

	for i := 0; i < config.rowCount; i++ {
		ids.Append(uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprint(config.randomSeed, i))).String())
		names.Append(firstNames[rnd.Intn(len(firstNames))])
		if rnd.Float64() < config.nullRate {
			scores.AppendNull()
		} else {
			scores.Append(rnd.NormFloat64() * 10)
		}
		counts.Append(rnd.Int63n(1000))
		statuses.Append(statusValues[rnd.Intn(len(statusValues))])
	}

	cols := []arrow.Array{ids.NewArray(), names.NewArray(), scores.NewArray(), counts.NewArray(), statuses.NewArray()}
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "status", Type: arrow.BinaryTypes.String},
	}, nil)
	return array.NewRecord(schema, cols, int64(config.rowCount)), nil
}

// generateDataset builds a dataset with a 2x2 matrix and a small gray image per row.
func generateDataset(config Config, rnd *rand.Rand, mem memory.Allocator) (arrow.Record, error) {
	imageType := arrow.StructOf(
		arrow.Field{Name: "bytes", Type: arrow.BinaryTypes.Binary, Nullable: true},
		arrow.Field{Name: "path", Type: arrow.BinaryTypes.String, Nullable: true},
	)

	labels := array.NewInt64Builder(mem)
	defer labels.Release()
	matrices := array.NewListBuilder(mem, arrow.ListOf(arrow.PrimitiveTypes.Float64))
	defer matrices.Release()
	rows := matrices.ValueBuilder().(*array.ListBuilder)
	values := rows.ValueBuilder().(*array.Float64Builder)
	images := array.NewStructBuilder(mem, imageType)
	defer images.Release()
	imageBytes := images.FieldBuilder(0).(*array.BinaryBuilder)
	imagePaths := images.FieldBuilder(1).(*array.StringBuilder)

	for i := 0; i < config.rowCount; i++ {
		labels.Append(int64(rnd.Intn(10)))

		matrices.Append(true)
		for r := 0; r < 2; r++ {
			rows.Append(true)
			values.AppendValues([]float64{rnd.Float64(), rnd.Float64()}, nil)
		}

		if rnd.Float64() < config.nullRate {
			images.AppendNull()
			continue
		}
		img := image.NewGray(image.Rect(0, 0, imageSize, imageSize))
		rnd.Read(img.Pix)
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		images.Append(true)
		imageBytes.Append(buf.Bytes())
		imagePaths.AppendNull()
	}

	cols := []arrow.Array{labels.NewArray(), matrices.NewArray(), images.NewArray()}
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "label", Type: arrow.PrimitiveTypes.Int64},
		{Name: "matrix", Type: cols[1].DataType(), Nullable: true},
		{Name: "image", Type: imageType, Nullable: true},
	}, nil)
	return array.NewRecord(schema, cols, int64(config.rowCount)), nil
}
