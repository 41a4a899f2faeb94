package hfdataset

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"
)

// Feature type markers, as written in the "_type" key of a feature declaration.
const (
	TypeValue      = "Value"
	TypeArray2D    = "Array2D"
	TypeImage      = "Image"
	TypeClassLabel = "ClassLabel"
	TypeSequence   = "Sequence"
)

const extensionNameKey = "ARROW:extension:name"

// Feature is the declared type of one column.
type Feature struct {
	// Type is the "_type" marker. It is empty for nested dict and list features.
	Type string `json:"_type"`

	// Dtype is the element type of Value and ArrayXD features.
	Dtype string `json:"dtype,omitempty"`

	// Shape is the shape of ArrayXD features.
	Shape []int `json:"shape,omitempty"`

	// Raw holds the declaration as read from disk.
	Raw json.RawMessage `json:"-"`
}

// StringValue is the declaration of a string column.
func StringValue() Feature {
	return Feature{Type: TypeValue, Dtype: "string"}
}

// IsArray2D reports whether the feature is a 2D array.
func (f Feature) IsArray2D() bool { return f.Type == TypeArray2D }

// IsImage reports whether the feature is an image.
func (f Feature) IsImage() bool { return f.Type == TypeImage }

// Equal compares type marker, dtype and shape.
func (f Feature) Equal(other Feature) bool {
	if f.Type != other.Type || f.Dtype != other.Dtype || len(f.Shape) != len(other.Shape) {
		return false
	}
	for i := range f.Shape {
		if f.Shape[i] != other.Shape[i] {
			return false
		}
	}
	if f.Type == "" {
		return bytes.Equal(f.Raw, other.Raw)
	}
	return true
}

func (f Feature) String() string {
	switch {
	case f.Type == "":
		return string(f.Raw)
	case f.Dtype != "" && len(f.Shape) > 0:
		return fmt.Sprintf("%s(shape=%v, dtype=%s)", f.Type, f.Shape, f.Dtype)
	case f.Dtype != "":
		return fmt.Sprintf("%s(dtype=%s)", f.Type, f.Dtype)
	}
	return f.Type + "()"
}

var valueTypes = map[string]arrow.DataType{
	"bool":         arrow.FixedWidthTypes.Boolean,
	"int8":         arrow.PrimitiveTypes.Int8,
	"int16":        arrow.PrimitiveTypes.Int16,
	"int32":        arrow.PrimitiveTypes.Int32,
	"int64":        arrow.PrimitiveTypes.Int64,
	"uint8":        arrow.PrimitiveTypes.Uint8,
	"uint16":       arrow.PrimitiveTypes.Uint16,
	"uint32":       arrow.PrimitiveTypes.Uint32,
	"uint64":       arrow.PrimitiveTypes.Uint64,
	"float16":      arrow.FixedWidthTypes.Float16,
	"float32":      arrow.PrimitiveTypes.Float32,
	"float64":      arrow.PrimitiveTypes.Float64,
	"string":       arrow.BinaryTypes.String,
	"large_string": arrow.BinaryTypes.LargeString,
	"binary":       arrow.BinaryTypes.Binary,
	"large_binary": arrow.BinaryTypes.LargeBinary,
}

// ArrowType returns the storage type of a Value feature.
func (f Feature) ArrowType() (arrow.DataType, bool) {
	if f.Type != TypeValue {
		return nil, false
	}
	typ, ok := valueTypes[f.Dtype]
	return typ, ok
}

// Features maps column names to their declared feature.
type Features map[string]Feature

// Copy returns a shallow copy that can be modified independently.
func (fs Features) Copy() Features {
	out := make(Features, len(fs))
	for name, f := range fs {
		out[name] = f
	}
	return out
}

// ParseFeatures decodes the "features" object of dataset_info.json.
func ParseFeatures(data []byte) (Features, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}

	features := make(Features, len(raw))
	for name, decl := range raw {
		f, err := parseFeature(decl)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}
		features[name] = f
	}
	return features, nil
}

func parseFeature(decl json.RawMessage) (Feature, error) {
	trimmed := bytes.TrimSpace(decl)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		// list shorthand, e.g. [{"dtype": "int64", "_type": "Value"}]
		return Feature{Raw: decl}, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return Feature{}, err
	}
	if _, ok := keys["_type"]; !ok {
		// nested dict of features
		return Feature{Raw: decl}, nil
	}

	var f Feature
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Feature{}, err
	}
	f.Raw = decl
	return f, nil
}

// inferFeature derives a declaration from the Arrow field when the dataset
// carries no feature metadata for it.
func inferFeature(field arrow.Field) Feature {
	if idx := field.Metadata.FindKey(extensionNameKey); idx >= 0 && strings.Contains(field.Metadata.Values()[idx], "Array2D") {
		return Feature{Type: TypeArray2D}
	}
	for dtype, typ := range valueTypes {
		if arrow.TypeEqual(typ, field.Type) {
			return Feature{Type: TypeValue, Dtype: dtype}
		}
	}
	return Feature{Raw: json.RawMessage(fmt.Sprintf("%q", field.Type.String()))}
}
