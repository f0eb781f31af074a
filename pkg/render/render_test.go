package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/models"
	"github.com/HatiCode/chondrosurv/pkg/session"
)

func testSession(t *testing.T, n int) *session.Session {
	t.Helper()
	s := session.New("render")
	for i := 0; i < n; i++ {
		surv := make([]float64, 61)
		for j := range surv {
			surv[j] = 1 - float64(j*(i+1))/200
		}
		_, err := s.Record(models.NewCurve(surv), features.DefaultSchema().Defaults())
		require.NoError(t, err)
	}
	return s
}

func TestNewSurvivalChart_OneSeriesPerRecord(t *testing.T) {
	s := testSession(t, 3)

	line := NewSurvivalChart(s.AllRecords(), ChartOptions{})
	require.Len(t, line.MultiSeries, 3)
	assert.Equal(t, "1", line.MultiSeries[0].Name)
	assert.Equal(t, "3", line.MultiSeries[2].Name)

	s.SetDisplay(session.DisplaySingle)
	single := NewSurvivalChart(s.Visible(), ChartOptions{})
	require.Len(t, single.MultiSeries, 1)
	assert.Equal(t, "3", single.MultiSeries[0].Name)
}

func TestRenderChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderChart(&buf, testSession(t, 2).AllRecords(), ChartOptions{Height: "400px"}))

	out := buf.String()
	assert.Contains(t, out, ChartTitle)
	assert.Contains(t, out, XAxisName)
	assert.Contains(t, out, YAxisName)
	assert.Contains(t, out, "400px")
}

func TestRenderChart_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderChart(&buf, nil, ChartOptions{}))
	assert.Contains(t, buf.String(), ChartTitle)
}

func TestRenderPage_EmptySession(t *testing.T) {
	schema := features.DefaultSchema()
	data := NewPageData(schema, session.New("x"), nil)

	var buf bytes.Buffer
	require.NoError(t, RenderPage(&buf, data))
	out := buf.String()

	assert.Contains(t, out, Title)
	assert.Contains(t, out, "Instructions:")
	assert.Contains(t, out, "accuracy of the results cannot be guaranteed")
	assert.Contains(t, out, `name="Age"`)
	assert.Contains(t, out, `type="range"`)
	assert.Contains(t, out, "Age, year")
	assert.Contains(t, out, "Tumor size, mm")
	assert.Contains(t, out, "<option selected>Axial skeleton</option>")
	assert.NotContains(t, out, "<iframe", "chart is hidden until the first prediction")
	assert.NotContains(t, out, "5-Year survival probability")
}

func TestRenderPage_WithRecords(t *testing.T) {
	schema := features.DefaultSchema()
	s := testSession(t, 2)
	s.SetDisplay(session.DisplaySingle)

	values := schema.Defaults()
	values["Gender"] = "Female"
	values["Age"] = "63"
	data := NewPageData(schema, s, values)
	data.Error = "Gender: unknown option \"<x>\""

	var buf bytes.Buffer
	require.NoError(t, RenderPage(&buf, data))
	out := buf.String()

	assert.Contains(t, out, `<iframe src="/chart"`)
	assert.Contains(t, out, "1-Year survival probability")
	assert.Contains(t, out, session.FormatPercent(s.Records[1].FiveYear))
	assert.Contains(t, out, "<option selected>Female</option>")
	assert.Contains(t, out, `value="63"`)
	assert.Contains(t, out, `value="single" checked`)
	assert.Contains(t, out, "&lt;x&gt;", "error message must be escaped")
	assert.Equal(t, 2, strings.Count(out, "<tr><td>"), "table lists every patient")
}

func TestNewPageData_Defaults(t *testing.T) {
	schema := features.DefaultSchema()
	data := NewPageData(schema, nil, features.RawInputs{"Age": ""})

	require.Len(t, data.Fields, len(schema.Fields))
	assert.Equal(t, "50", data.Fields[0].Value)
	assert.Equal(t, session.DisplayMultiple, data.Display)
	assert.Nil(t, data.Latest)
}
