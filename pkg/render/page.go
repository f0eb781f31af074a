package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(
	template.New("page.html").Funcs(template.FuncMap{
		"percent": session.FormatPercent,
		"number":  func(f float64) string { return fmt.Sprintf("%g", f) },
		"isNumeric": func(f features.Field) bool {
			return f.Kind == features.Numeric
		},
	}).ParseFS(templateFS, "templates/page.html"),
)

// Title is the page heading.
const Title = "DeepSurv-based model for predicting survival of chondrosarcoma"

// FormField is one rendered input with its current value.
type FormField struct {
	features.Field
	ID    string
	Value string
}

// PageData is everything the form page shows.
type PageData struct {
	Title    string
	Fields   []FormField
	Display  session.DisplayMode
	Latest   *session.PredictionRecord
	Table    session.Table
	Error    string
	ChartURL string
	Model    string
}

// NewPageData prepares the page for a session. values prefill the form; fields
// missing from values show their default.
func NewPageData(schema features.Schema, s *session.Session, values features.RawInputs) PageData {
	defaults := schema.Defaults()

	data := PageData{
		Title:    Title,
		Display:  session.DisplayMultiple,
		ChartURL: "/chart",
	}

	for i, f := range schema.Fields {
		v, ok := values[f.Name]
		if !ok || v == "" {
			v = defaults[f.Name]
		}
		data.Fields = append(data.Fields, FormField{
			Field: f,
			ID:    fmt.Sprintf("field-%d", i),
			Value: v,
		})
	}

	if s != nil {
		data.Display = s.Display
		if latest, ok := s.Latest(); ok {
			data.Latest = &latest
			data.Table = s.Table(schema)
		}
	}

	return data
}

// RenderPage writes the form page to w. Output is buffered so a template
// error never leaves a half-written page.
func RenderPage(w io.Writer, data PageData) error {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
