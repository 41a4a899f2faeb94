// Package tabular builds and reshapes in-memory Arrow records.
package tabular

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
)

// Column is a named column of loosely typed Go values, as produced by
// decoders such as JSON and pickle.
type Column struct {
	Name   string
	Values []any
}

type valueKind uint8

const (
	kindNull valueKind = 1 << iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindBytes
	kindOther
)

func kindOf(v any) valueKind {
	switch v := v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return kindInt
	case uint, uint64:
		if toUint64(v) > math.MaxInt64 {
			return kindOther
		}
		return kindInt
	case float32, float64:
		return kindFloat
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return kindInt
		}
		return kindFloat
	case string:
		return kindString
	case []byte:
		return kindBytes
	default:
		return kindOther
	}
}

// InferType picks the narrowest Arrow type that holds every value:
// bool, int64, float64 (ints and floats mixed), binary or string.
// Anything else, including mixed kinds and nested values, becomes string.
func InferType(values []any) arrow.DataType {
	var kinds valueKind
	for _, v := range values {
		kinds |= kindOf(v)
	}
	kinds &^= kindNull

	switch kinds {
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindFloat, kindInt | kindFloat:
		return arrow.PrimitiveTypes.Float64
	case kindBytes:
		return arrow.BinaryTypes.Binary
	default:
		return arrow.BinaryTypes.String
	}
}

// Build converts columns into a record. All columns must have the same length.
// The caller owns the returned record.
func Build(columns []Column, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	fields := make([]arrow.Field, len(columns))
	arrs := make([]arrow.Array, 0, len(columns))
	defer func() {
		for _, arr := range arrs {
			arr.Release()
		}
	}()

	nrows := -1
	for i, col := range columns {
		if nrows == -1 {
			nrows = len(col.Values)
		} else if len(col.Values) != nrows {
			return nil, fmt.Errorf("column %q has %d values, expected %d", col.Name, len(col.Values), nrows)
		}

		typ := InferType(col.Values)
		arr, err := buildArray(mem, typ, col.Values)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		fields[i] = arrow.Field{Name: col.Name, Type: typ, Nullable: true}
		arrs = append(arrs, arr)
	}
	if nrows < 0 {
		nrows = 0
	}

	schema := arrow.NewSchema(fields, nil)
	return array.NewRecord(schema, arrs, int64(nrows)), nil
}

func buildArray(mem memory.Allocator, typ arrow.DataType, values []any) (arrow.Array, error) {
	switch typ.ID() {
	case arrow.BOOL:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(v.(bool))
		}
		return b.NewArray(), nil

	case arrow.INT64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			n, err := toInt64(v)
			if err != nil {
				return nil, err
			}
			b.Append(n)
		}
		return b.NewArray(), nil

	case arrow.FLOAT64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			f, err := toFloat64(v)
			if err != nil {
				return nil, err
			}
			b.Append(f)
		}
		return b.NewArray(), nil

	case arrow.BINARY:
		b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(v.([]byte))
		}
		return b.NewArray(), nil

	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(FormatValue(v))
		}
		return b.NewArray(), nil
	}
}

func toUint64(v any) uint64 {
	switch v := v.(type) {
	case uint:
		return uint64(v)
	case uint64:
		return v
	}
	return 0
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	}
	return 0, fmt.Errorf("cannot convert %T to int64", v)
}

func toFloat64(v any) (float64, error) {
	switch v := v.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
	return float64(n), nil
}

// FormatValue renders a value for a string column. Scalars use their plain
// text form, nested values are encoded as JSON.
func FormatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []byte:
		return string(v)
	case *big.Int:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
