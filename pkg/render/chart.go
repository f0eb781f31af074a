// Package render turns session state into HTML: the survival chart and the
// form page that embeds it.
package render

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/HatiCode/chondrosurv/pkg/session"
)

const (
	ChartTitle = "Estimated Survival Probability"
	XAxisName  = "Time, month"
	YAxisName  = "Survival probability"
)

// ChartOptions controls chart size and where the echarts assets are loaded from.
type ChartOptions struct {
	Width      string
	Height     string
	AssetsHost string // empty uses the go-echarts CDN
}

// NewSurvivalChart builds a line chart with one series per record, named by
// patient number. The y axis is fixed to [0, 1].
func NewSurvivalChart(records []session.PredictionRecord, o ChartOptions) *charts.Line {
	if o.Width == "" {
		o.Width = "100%"
	}
	if o.Height == "" {
		o.Height = "480px"
	}

	maxTime := 0.0
	for _, r := range records {
		if n := len(r.Curve.Times); n > 0 && r.Curve.Times[n-1] > maxTime {
			maxTime = r.Curve.Times[n-1]
		}
	}

	xAxis := opts.XAxis{Type: "value", Name: XAxisName, NameLocation: "middle", NameGap: 30, Min: 0}
	if maxTime > 0 {
		xAxis.Max = maxTime
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: ChartTitle, Width: o.Width, Height: o.Height, AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: ChartTitle, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(len(records) > 1), Top: "bottom"}),
		charts.WithXAxisOpts(xAxis),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: YAxisName, NameLocation: "middle", NameGap: 40, Min: 0, Max: 1}),
	)

	for _, r := range records {
		line.AddSeries(fmt.Sprintf("%d", r.No), seriesData(r),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		)
	}

	return line
}

func seriesData(r session.PredictionRecord) []opts.LineData {
	data := make([]opts.LineData, 0, r.Curve.Len())
	for i, s := range r.Curve.Survival {
		data = append(data, opts.LineData{Value: []interface{}{r.Curve.Times[i], s}})
	}
	return data
}

// RenderChart writes the standalone chart page for records to w.
func RenderChart(w io.Writer, records []session.PredictionRecord, o ChartOptions) error {
	var buf bytes.Buffer
	if err := NewSurvivalChart(records, o).Render(&buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
