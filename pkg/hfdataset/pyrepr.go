package hfdataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// PyStr renders element i of arr the way Python's str() renders the value
// the datasets library hands to a map function: lists as "[1.0, 2.0]",
// floats in repr form, booleans as True/False and nulls as None.
func PyStr(arr arrow.Array, i int) string {
	var sb strings.Builder
	writePy(&sb, arr, i, false)
	return sb.String()
}

// writePy appends the rendering of arr[i]. Nested strings are quoted, as in
// the repr of a container; a top-level string is written as is.
func writePy(sb *strings.Builder, arr arrow.Array, i int, nested bool) {
	if arr.IsNull(i) {
		sb.WriteString("None")
		return
	}

	switch a := arr.(type) {
	case *array.Boolean:
		if a.Value(i) {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case *array.Int8:
		sb.WriteString(strconv.FormatInt(int64(a.Value(i)), 10))
	case *array.Int16:
		sb.WriteString(strconv.FormatInt(int64(a.Value(i)), 10))
	case *array.Int32:
		sb.WriteString(strconv.FormatInt(int64(a.Value(i)), 10))
	case *array.Int64:
		sb.WriteString(strconv.FormatInt(a.Value(i), 10))
	case *array.Uint8:
		sb.WriteString(strconv.FormatUint(uint64(a.Value(i)), 10))
	case *array.Uint16:
		sb.WriteString(strconv.FormatUint(uint64(a.Value(i)), 10))
	case *array.Uint32:
		sb.WriteString(strconv.FormatUint(uint64(a.Value(i)), 10))
	case *array.Uint64:
		sb.WriteString(strconv.FormatUint(a.Value(i), 10))
	case *array.Float16:
		sb.WriteString(PyFloat(float64(a.Value(i).Float32())))
	case *array.Float32:
		sb.WriteString(PyFloat(float64(a.Value(i))))
	case *array.Float64:
		sb.WriteString(PyFloat(a.Value(i)))
	case *array.String:
		writePyString(sb, a.Value(i), nested)
	case *array.LargeString:
		writePyString(sb, a.Value(i), nested)
	case *array.Binary:
		writePyBytes(sb, a.Value(i))
	case *array.LargeBinary:
		writePyBytes(sb, a.Value(i))
	case array.ListLike:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		sb.WriteByte('[')
		for j := start; j < end; j++ {
			if j > start {
				sb.WriteString(", ")
			}
			writePy(sb, values, int(j), true)
		}
		sb.WriteByte(']')
	case *array.Struct:
		st := a.DataType().(*arrow.StructType)
		sb.WriteByte('{')
		for f := 0; f < a.NumField(); f++ {
			if f > 0 {
				sb.WriteString(", ")
			}
			writePyString(sb, st.Field(f).Name, true)
			sb.WriteString(": ")
			writePy(sb, a.Field(f), i, true)
		}
		sb.WriteByte('}')
	default:
		if nested {
			writePyString(sb, a.ValueStr(i), true)
		} else {
			sb.WriteString(a.ValueStr(i))
		}
	}
}

// PyFloat formats f like Python's float repr: the shortest round-tripping
// digits, positional for exponents in [-4, 16) with a trailing ".0" when
// integral, scientific otherwise.
func PyFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil {
		return sci
	}
	if exp < -4 || exp >= 16 {
		return sci
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func writePyString(sb *strings.Builder, s string, quoted bool) {
	if !quoted {
		sb.WriteString(s)
		return
	}

	quote := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		quote = '"'
	}

	sb.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote) || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(sb, `\x%02x`, r)
		case r < 0x80 || unicode.IsPrint(r):
			sb.WriteRune(r)
		case r <= 0xff:
			fmt.Fprintf(sb, `\x%02x`, r)
		case r <= 0xffff:
			fmt.Fprintf(sb, `\u%04x`, r)
		default:
			fmt.Fprintf(sb, `\U%08x`, r)
		}
	}
	sb.WriteByte(quote)
}

func writePyBytes(sb *strings.Builder, b []byte) {
	quote := byte('\'')
	if strings.IndexByte(string(b), '\'') >= 0 && strings.IndexByte(string(b), '"') < 0 {
		quote = '"'
	}

	sb.WriteString("b")
	sb.WriteByte(quote)
	for _, c := range b {
		switch {
		case c == quote || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(sb, `\x%02x`, c)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte(quote)
}
