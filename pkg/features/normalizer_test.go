package features

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(DefaultSchema())
	require.NoError(t, err)
	return n
}

func TestDefaultSchema_Valid(t *testing.T) {
	s := DefaultSchema()
	require.NoError(t, s.Validate())
	assert.Len(t, s.Fields, 9)
	assert.Equal(t, []string{
		"Age", "Tumor size", "Gender", "Histological type", "Primary site",
		"Grade", "Surgery", "Tumor extension", "Distant metastasis",
	}, s.InputOrder)
}

func TestNormalize_VectorShape(t *testing.T) {
	n := newDefaultNormalizer(t)

	vec, resolved, err := n.Normalize(RawInputs{})
	require.NoError(t, err)
	assert.Len(t, vec, 9)
	assert.Equal(t, 9, n.Dim())

	// defaults fill every field
	assert.Equal(t, "50", resolved["Age"])
	assert.Equal(t, "135", resolved["Tumor size"])
	assert.Equal(t, "Axial skeleton", resolved["Primary site"])
	assert.Equal(t, "Local treatment", resolved["Surgery"])
	assert.Equal(t, "Extension beyond periosteum", resolved["Tumor extension"])
}

func TestNormalize_ContinuousAtMeanIsZero(t *testing.T) {
	n := newDefaultNormalizer(t)

	vec, _, err := n.Normalize(RawInputs{"Age": "52.181", "Tumor size": "79.699"})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, vec[0], 1e-4)
	assert.InDelta(t, 0.0, vec[1], 1e-4)
}

func TestNormalize_ZScore(t *testing.T) {
	n := newDefaultNormalizer(t)

	vec, _, err := n.Normalize(RawInputs{"Age": "70", "Tumor size": "200"})
	require.NoError(t, err)
	assert.InDelta(t, (70-52.18131868)/17.87908795, vec[0], 1e-12)
	assert.InDelta(t, (200-79.69853876)/45.40890953, vec[1], 1e-12)
}

func TestNormalize_BinaryCategorical(t *testing.T) {
	n := newDefaultNormalizer(t)

	vec, _, err := n.Normalize(RawInputs{"Distant metastasis": "Yes"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, vec[8])

	vec, _, err = n.Normalize(RawInputs{"Distant metastasis": "None"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, vec[8])
}

func TestNormalize_ReferencePatient(t *testing.T) {
	n := newDefaultNormalizer(t)

	raw := RawInputs{
		"Age":                "52",
		"Gender":             "Male",
		"Primary site":       "Axial skeleton",
		"Histological type":  "Conventional",
		"Grade":              "Moderately differentiated",
		"Surgery":            "Local treatment",
		"Tumor size":         "80",
		"Tumor extension":    "Extension beyond periosteum",
		"Distant metastasis": "None",
	}

	vec, resolved, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, vec[0], 0.02)
	assert.InDelta(t, 0.0, vec[1], 0.01)
	// gender, histological type, primary site, grade, surgery, extension, metastasis
	assert.Equal(t, []float64{0, 0, 1, 1, 1, 1, 0}, []float64(vec[2:]))
	assert.Equal(t, raw, resolved)
}

func TestNormalize_ClampsToRange(t *testing.T) {
	n := newDefaultNormalizer(t)

	vec, resolved, err := n.Normalize(RawInputs{"Age": "140", "Tumor size": "-5"})
	require.NoError(t, err)
	assert.Equal(t, "100", resolved["Age"])
	assert.Equal(t, "0", resolved["Tumor size"])
	assert.InDelta(t, (100-52.18131868)/17.87908795, vec[0], 1e-12)
}

func TestNormalize_Errors(t *testing.T) {
	n := newDefaultNormalizer(t)

	tests := []struct {
		name    string
		raw     RawInputs
		wantErr error
	}{
		{"unknown option", RawInputs{"Grade": "Grade IV"}, ErrUnknownOption},
		{"not a number", RawInputs{"Age": "fifty"}, ErrInvalidNumber},
		{"nan", RawInputs{"Tumor size": "NaN"}, ErrInvalidNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, resolved, err := n.Normalize(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Nil(t, vec)
			assert.Nil(t, resolved)
		})
	}
}

func TestNormalize_IgnoresUnknownFields(t *testing.T) {
	n := newDefaultNormalizer(t)

	_, resolved, err := n.Normalize(RawInputs{"Favourite colour": "blue"})
	require.NoError(t, err)
	assert.NotContains(t, resolved, "Favourite colour")
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Schema)
	}{
		{"duplicate field", func(s *Schema) { s.Fields = append(s.Fields, s.Fields[0]) }},
		{"unknown input", func(s *Schema) { s.InputOrder[0] = "Height" }},
		{"repeated input", func(s *Schema) { s.InputOrder[1] = s.InputOrder[0] }},
		{"zero scale", func(s *Schema) { s.Fields[0].Scale = 0 }},
		{"default out of range", func(s *Schema) { s.Fields[0].Default = 500 }},
		{"bad default option", func(s *Schema) { s.Fields[1].DefaultOption = 7 }},
		{"unknown kind", func(s *Schema) { s.Fields[1].Kind = "slider" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSchema()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	doc := `
fields:
  - name: Age
    kind: numeric
    unit: year
    min: 0
    max: 100
    default: 50
    mean: 50
    scale: 10
  - name: Distant metastasis
    kind: categorical
    options: ["None", "Yes"]
input_order: [Age, Distant metastasis]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Len(t, s.Fields, 2)
	assert.Equal(t, "Age, year", s.Fields[0].Label())

	n, err := NewNormalizer(s)
	require.NoError(t, err)
	vec, _, err := n.Normalize(RawInputs{"Age": "60", "Distant metastasis": "Yes"})
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 1}, vec)
}

func TestLoadSchema_Missing(t *testing.T) {
	_, err := LoadSchema(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFromAny(t *testing.T) {
	raw, err := FromAny(map[string]any{
		"Age":    float64(61),
		"Gender": "Female",
		"Grade":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, RawInputs{"Age": "61", "Gender": "Female"}, raw)

	_, err = FromAny(map[string]any{"Age": []int{1}})
	assert.Error(t, err)
}
