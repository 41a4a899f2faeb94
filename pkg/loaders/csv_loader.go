package loaders

import (
	"context"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"

	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
)

const defaultChunkSize = 10000

// defaultNAValues are the cell values read as null unless na_values is set.
var defaultNAValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None", "n/a", "nan", "null",
}

var csvDtypes = map[string]arrow.DataType{
	"bool":    arrow.FixedWidthTypes.Boolean,
	"boolean": arrow.FixedWidthTypes.Boolean,
	"int":     arrow.PrimitiveTypes.Int64,
	"int8":    arrow.PrimitiveTypes.Int8,
	"int16":   arrow.PrimitiveTypes.Int16,
	"int32":   arrow.PrimitiveTypes.Int32,
	"int64":   arrow.PrimitiveTypes.Int64,
	"uint8":   arrow.PrimitiveTypes.Uint8,
	"uint16":  arrow.PrimitiveTypes.Uint16,
	"uint32":  arrow.PrimitiveTypes.Uint32,
	"uint64":  arrow.PrimitiveTypes.Uint64,
	"float":   arrow.PrimitiveTypes.Float64,
	"float32": arrow.PrimitiveTypes.Float32,
	"float64": arrow.PrimitiveTypes.Float64,
	"str":     arrow.BinaryTypes.String,
	"string":  arrow.BinaryTypes.String,
	"object":  arrow.BinaryTypes.String,
}

type csvOptions struct {
	Sep         string            `option:"sep"`
	Header      any               `option:"header"`
	Comment     string            `option:"comment"`
	NAValues    []string          `option:"na_values"`
	UseCols     []string          `option:"usecols"`
	Dtype       map[string]string `option:"dtype"`
	ChunkSize   int               `option:"chunksize"`
	LazyQuotes  bool              `option:"lazy_quotes"`
	Compression string            `option:"compression"`
	// InferRows limits type inference to the first N data rows. Zero scans
	// the whole file.
	InferRows int `option:"infer_rows"`
}

// CSVLoader loads delimited text files.
type CSVLoader struct {
	base
	opts   csvOptions
	header bool
}

// NewCSVLoader creates a new CSV loader.
func NewCSVLoader(config core.LoaderConfig) (core.Loader, error) {
	b, err := newBase(config)
	if err != nil {
		return nil, err
	}

	opts := csvOptions{Sep: ",", ChunkSize: defaultChunkSize}
	if err := decodeOptions(config.Type, config.Options, &opts); err != nil {
		return nil, err
	}

	_, present := config.Options["header"]
	header, err := parseHeader(opts.Header, present)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(opts.Sep) != 1 {
		return nil, fmt.Errorf("sep must be a single character, got %q", opts.Sep)
	}
	if opts.Comment != "" && utf8.RuneCountInString(opts.Comment) != 1 {
		return nil, fmt.Errorf("comment must be a single character, got %q", opts.Comment)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.InferRows < 0 {
		return nil, fmt.Errorf("infer_rows must not be negative, got %d", opts.InferRows)
	}

	return &CSVLoader{base: b, opts: opts, header: header}, nil
}

// parseHeader accepts header=0 (the default, first line holds the names) and
// header=None (no header line).
func parseHeader(v any, present bool) (bool, error) {
	if !present {
		return true, nil
	}
	switch v := v.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int:
		if v == 0 {
			return true, nil
		}
	case int64:
		if v == 0 {
			return true, nil
		}
	case float64:
		if v == 0 {
			return true, nil
		}
	case string:
		switch strings.ToLower(v) {
		case "infer", "0", "true":
			return true, nil
		case "none", "null", "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("unsupported header option %v: only the first line or no line can hold column names", v)
}

func (l *CSVLoader) naValues() []string {
	if l.opts.NAValues == nil {
		return defaultNAValues
	}
	return l.opts.NAValues
}

func (l *CSVLoader) dtypes() (map[string]arrow.DataType, error) {
	types := make(map[string]arrow.DataType, len(l.opts.Dtype))
	for col, name := range l.opts.Dtype {
		typ, ok := csvDtypes[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unsupported dtype %q for column %q", name, col)
		}
		types[col] = typ
	}
	return types, nil
}

func (l *CSVLoader) readerOptions(types map[string]arrow.DataType) ([]csv.Option, error) {
	sep, _ := utf8.DecodeRuneInString(l.opts.Sep)

	opts := []csv.Option{
		csv.WithComma(sep),
		csv.WithHeader(l.header),
		csv.WithChunk(l.opts.ChunkSize),
		csv.WithNullReader(true, l.naValues()...),
		csv.WithLazyQuotes(l.opts.LazyQuotes),
		csv.WithAllocator(l.alloc),
	}
	if l.opts.Comment != "" {
		comment, _ := utf8.DecodeRuneInString(l.opts.Comment)
		opts = append(opts, csv.WithComment(comment))
	}
	if len(l.opts.UseCols) > 0 {
		if !l.header {
			return nil, errors.New("usecols requires a header line")
		}
		opts = append(opts, csv.WithIncludeColumns(l.opts.UseCols))
	}
	if len(types) > 0 {
		opts = append(opts, csv.WithColumnTypes(types))
	}
	return opts, nil
}

// Load reads the whole file into a single record. Column types are inferred
// in a first pass over the file, then the file is parsed with those types.
func (l *CSVLoader) Load(ctx context.Context) (arrow.Record, error) {
	dtypes, err := l.dtypes()
	if err != nil {
		return nil, err
	}

	blob, err := l.open(ctx, l.opts.Compression)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	names, types, err := l.inferTypes(ctx, blob)
	if err != nil {
		return nil, err
	}
	if names == nil {
		return nil, fmt.Errorf("no columns to parse from %s", l.path)
	}
	for col, typ := range dtypes {
		types[col] = typ
	}
	if _, err := blob.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", l.path, err)
	}

	readerOpts, err := l.readerOptions(types)
	if err != nil {
		return nil, err
	}

	// Without a header line the inferring reader would consume the first
	// row, so the positional schema is passed explicitly.
	var reader *csv.Reader
	if l.header {
		reader = csv.NewInferringReader(blob, readerOpts...)
	} else {
		reader = csv.NewReader(blob, positionalSchema(names, types), readerOpts...)
	}
	defer reader.Release()

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	for reader.Next() {
		// Check for context cancellation
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	schema := reader.Schema()
	if schema == nil {
		return nil, fmt.Errorf("no columns to parse from %s", l.path)
	}
	return tabular.Concat(schema, records, l.alloc)
}

// inferTypes scans the data rows and picks the narrowest type that every
// non-null cell of a column parses as. Names are the header names, or
// 0..n-1 without a header line. Nil names mean the file has no lines at all.
func (l *CSVLoader) inferTypes(ctx context.Context, r io.Reader) ([]string, map[string]arrow.DataType, error) {
	sep, _ := utf8.DecodeRuneInString(l.opts.Sep)
	cr := stdcsv.NewReader(r)
	cr.Comma = sep
	cr.LazyQuotes = l.opts.LazyQuotes
	cr.ReuseRecord = true
	if l.opts.Comment != "" {
		cr.Comment, _ = utf8.DecodeRuneInString(l.opts.Comment)
	}

	nulls := make(map[string]struct{}, len(l.naValues()))
	for _, v := range l.naValues() {
		nulls[v] = struct{}{}
	}

	var names []string
	var kinds []columnKind
	rows := 0
	for l.opts.InferRows == 0 || rows < l.opts.InferRows {
		if rows%defaultChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		if names == nil {
			names = make([]string, len(rec))
			kinds = make([]columnKind, len(rec))
			for i, v := range rec {
				names[i] = strconv.Itoa(i)
				if l.header {
					names[i] = v
				}
			}
			if l.header {
				continue
			}
		}

		rows++
		for i, v := range rec {
			if _, null := nulls[v]; null || i >= len(kinds) {
				continue
			}
			kinds[i].observe(v)
		}
	}
	if names == nil {
		return nil, nil, nil
	}

	types := make(map[string]arrow.DataType, len(names))
	for i, name := range names {
		types[name] = kinds[i].dataType(rows)
	}
	return names, types, nil
}

// columnKind tracks which types every non-null cell seen so far parses as.
type columnKind struct {
	seen     bool
	notInt   bool
	notFloat bool
	notBool  bool
}

func (k *columnKind) observe(v string) {
	k.seen = true
	if !k.notInt {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			k.notInt = true
		}
	}
	if !k.notFloat {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			k.notFloat = true
		}
	}
	if !k.notBool {
		switch v {
		case "true", "True", "TRUE", "false", "False", "FALSE":
		default:
			k.notBool = true
		}
	}
}

// dataType walks int64, float64, bool and string in that order. A column
// with rows but no values is float64, as an all-NaN column would be.
func (k columnKind) dataType(rows int) arrow.DataType {
	switch {
	case !k.seen && rows > 0:
		return arrow.PrimitiveTypes.Float64
	case !k.seen:
		return arrow.BinaryTypes.String
	case !k.notInt:
		return arrow.PrimitiveTypes.Int64
	case !k.notFloat:
		return arrow.PrimitiveTypes.Float64
	case !k.notBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// positionalSchema builds the schema of a file without a header line.
func positionalSchema(names []string, types map[string]arrow.DataType) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: types[name], Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}
