package features

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrUnknownOption is returned when a categorical value is not one of the field's options.
	ErrUnknownOption = errors.New("unknown option")

	// ErrInvalidNumber is returned when a numeric field cannot be parsed.
	ErrInvalidNumber = errors.New("invalid number")
)

// RawInputs maps field names to raw form values: decimal text for numeric
// fields, the selected label for categorical fields.
type RawInputs map[string]string

// Clone returns an independent copy.
func (r RawInputs) Clone() RawInputs {
	out := make(RawInputs, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Vector is the model input in schema input order.
type Vector []float64

// Normalizer converts raw inputs into model vectors using a Schema.
type Normalizer struct {
	schema Schema
	fields []Field // resolved InputOrder
}

// NewNormalizer validates the schema and prepares a normalizer for it.
func NewNormalizer(schema Schema) (*Normalizer, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	fields := make([]Field, len(schema.InputOrder))
	for i, name := range schema.InputOrder {
		f, _ := schema.Field(name)
		fields[i] = f
	}

	return &Normalizer{schema: schema, fields: fields}, nil
}

// Schema returns the schema the normalizer was built from.
func (n *Normalizer) Schema() Schema {
	return n.schema
}

// Dim returns the length of the vectors produced by Normalize.
func (n *Normalizer) Dim() int {
	return len(n.fields)
}

// Normalize produces the model vector for raw. Fields absent from raw take
// their widget default; numeric values are clamped to the field range before
// standardization. The second return value holds the inputs actually used,
// suitable for display next to the prediction.
func (n *Normalizer) Normalize(raw RawInputs) (Vector, RawInputs, error) {
	vec := make(Vector, len(n.fields))
	resolved := make(RawInputs, len(n.fields))

	for i, f := range n.fields {
		value, ok := raw[f.Name]
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			value = f.DefaultValue()
		}

		switch f.Kind {
		case Numeric:
			x, err := strconv.ParseFloat(value, 64)
			if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, nil, fmt.Errorf("%s: %w: %q", f.Name, ErrInvalidNumber, value)
			}
			x = clamp(x, f.Min, f.Max)
			vec[i] = (x - f.Mean) / f.Scale
			resolved[f.Name] = formatNumber(x)

		case Categorical:
			idx, err := optionIndex(f, value)
			if err != nil {
				return nil, nil, err
			}
			vec[i] = float64(idx)
			resolved[f.Name] = f.Options[idx]
		}
	}

	return vec, resolved, nil
}

func optionIndex(f Field, label string) (int, error) {
	for i, opt := range f.Options {
		if opt == label {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s: %w %q", f.Name, ErrUnknownOption, label)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func formatNumber(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

// FromAny converts decoded JSON or protobuf Struct values into RawInputs.
// Numbers become decimal text and strings are kept as-is; any other type is rejected.
func FromAny(values map[string]any) (RawInputs, error) {
	raw := make(RawInputs, len(values))
	for k, v := range values {
		switch x := v.(type) {
		case string:
			raw[k] = x
		case float64:
			raw[k] = formatNumber(x)
		case float32:
			raw[k] = formatNumber(float64(x))
		case int:
			raw[k] = strconv.Itoa(x)
		case int64:
			raw[k] = strconv.FormatInt(x, 10)
		case nil:
			// treated as absent, the default applies
		default:
			return nil, fmt.Errorf("field %q: unsupported value type %T", k, v)
		}
	}
	return raw, nil
}
