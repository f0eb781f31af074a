// Package features turns raw patient form values into the numeric input vector
// expected by the survival model.
//
// The form itself is described declaratively by a [Schema]: an ordered list of
// fields, each either a numeric range input or a single-select categorical
// input, plus the order in which fields are fed to the model. The same schema
// drives HTML rendering, the JSON API and the gRPC schema endpoint, so there is
// exactly one place that defines what a valid patient looks like.
package features

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Kind distinguishes range inputs from single-select inputs.
type Kind string

const (
	Numeric     Kind = "numeric"
	Categorical Kind = "categorical"
)

// Field describes one form input.
type Field struct {
	Name string `yaml:"name" json:"name"`
	Kind Kind   `yaml:"kind" json:"kind"`

	// Unit is appended to the label, e.g. "Age, year".
	Unit string `yaml:"unit,omitempty" json:"unit,omitempty"`

	// Numeric fields.
	Min     float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max     float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Default float64 `yaml:"default,omitempty" json:"default,omitempty"`
	Mean    float64 `yaml:"mean,omitempty" json:"-"`
	Scale   float64 `yaml:"scale,omitempty" json:"-"`

	// Categorical fields. DefaultOption indexes into Options.
	Options       []string `yaml:"options,omitempty" json:"options,omitempty"`
	DefaultOption int      `yaml:"default_option,omitempty" json:"defaultOption,omitempty"`
}

// Label returns the display label including the unit suffix.
func (f Field) Label() string {
	if f.Unit == "" {
		return f.Name
	}
	return f.Name + ", " + f.Unit
}

// DefaultValue returns the widget default as a raw form value.
func (f Field) DefaultValue() string {
	if f.Kind == Categorical {
		if f.DefaultOption >= 0 && f.DefaultOption < len(f.Options) {
			return f.Options[f.DefaultOption]
		}
		return ""
	}
	return formatNumber(f.Default)
}

// Schema is the full form definition.
type Schema struct {
	// Fields in display order.
	Fields []Field `yaml:"fields" json:"fields"`

	// InputOrder lists field names in the order the model consumes them.
	InputOrder []string `yaml:"input_order" json:"inputOrder"`
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Defaults returns the raw inputs a freshly rendered form would submit.
func (s Schema) Defaults() RawInputs {
	raw := make(RawInputs, len(s.Fields))
	for _, f := range s.Fields {
		raw[f.Name] = f.DefaultValue()
	}
	return raw
}

// Validate checks the schema for internal consistency.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return errors.New("schema has no fields")
	}
	if len(s.InputOrder) == 0 {
		return errors.New("schema has no input order")
	}

	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field[%d]: name cannot be empty", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("field %q: duplicate name", f.Name)
		}
		seen[f.Name] = true

		switch f.Kind {
		case Numeric:
			if f.Max < f.Min {
				return fmt.Errorf("field %q: max (%v) < min (%v)", f.Name, f.Max, f.Min)
			}
			if f.Default < f.Min || f.Default > f.Max {
				return fmt.Errorf("field %q: default %v outside [%v, %v]", f.Name, f.Default, f.Min, f.Max)
			}
			if f.Scale == 0 {
				return fmt.Errorf("field %q: scale cannot be zero", f.Name)
			}
		case Categorical:
			if len(f.Options) == 0 {
				return fmt.Errorf("field %q: no options", f.Name)
			}
			if f.DefaultOption < 0 || f.DefaultOption >= len(f.Options) {
				return fmt.Errorf("field %q: default option %d out of range", f.Name, f.DefaultOption)
			}
		default:
			return fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
		}
	}

	used := make(map[string]bool, len(s.InputOrder))
	for _, name := range s.InputOrder {
		if !seen[name] {
			return fmt.Errorf("input order references unknown field %q", name)
		}
		if used[name] {
			return fmt.Errorf("input order lists %q twice", name)
		}
		used[name] = true
	}

	return nil
}

// LoadSchema reads a YAML schema file and validates it.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema: %w", err)
	}

	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Schema{}, fmt.Errorf("invalid schema %s: %w", path, err)
	}

	return s, nil
}

// DefaultSchema returns the chondrosarcoma form the shipped model was trained on.
// Mean and scale are the training-set statistics of the two continuous inputs.
func DefaultSchema() Schema {
	return Schema{
		Fields: []Field{
			{Name: "Age", Kind: Numeric, Unit: "year", Min: 0, Max: 100, Default: 50,
				Mean: 52.18131868, Scale: 17.87908795},
			{Name: "Gender", Kind: Categorical,
				Options: []string{"Male", "Female"}, DefaultOption: 0},
			{Name: "Primary site", Kind: Categorical,
				Options: []string{"Extremity", "Axial skeleton", "Other"}, DefaultOption: 1},
			{Name: "Histological type", Kind: Categorical,
				Options: []string{"Conventional", "Dedifferentiated"}, DefaultOption: 0},
			{Name: "Grade", Kind: Categorical,
				Options: []string{"Well differentiated", "Moderately differentiated", "Poorly differentiated", "Undifferentiated"},
				DefaultOption: 0},
			{Name: "Surgery", Kind: Categorical,
				Options: []string{"None", "Local treatment", "Radical excision with limb salvage", "Amputation"},
				DefaultOption: 1},
			{Name: "Tumor size", Kind: Numeric, Unit: "mm", Min: 0, Max: 1000, Default: 135,
				Mean: 79.69853876, Scale: 45.40890953},
			{Name: "Tumor extension", Kind: Categorical,
				Options: []string{"No break in periosteum", "Extension beyond periosteum", "Further extension"},
				DefaultOption: 1},
			{Name: "Distant metastasis", Kind: Categorical,
				Options: []string{"None", "Yes"}, DefaultOption: 0},
		},
		InputOrder: []string{
			"Age",
			"Tumor size",
			"Gender",
			"Histological type",
			"Primary site",
			"Grade",
			"Surgery",
			"Tumor extension",
			"Distant metastasis",
		},
	}
}
