package session

import (
	"fmt"

	"github.com/HatiCode/chondrosurv/pkg/features"
)

// FormatPercent renders a probability as a percentage with two decimals.
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}

// Table is the per-patient summary shown under the chart.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// BuildTable lays out one row per record: patient number, the three horizon
// percentages, then the raw inputs in model input order.
func BuildTable(records []PredictionRecord, schema features.Schema) Table {
	cols := append([]string{"Patients", "1-Year", "3-Year", "5-Year"}, schema.InputOrder...)

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := make([]string, 0, len(cols))
		row = append(row,
			fmt.Sprintf("%d", r.No),
			FormatPercent(r.OneYear),
			FormatPercent(r.ThreeYear),
			FormatPercent(r.FiveYear),
		)
		for _, name := range schema.InputOrder {
			row = append(row, r.Inputs[name])
		}
		rows = append(rows, row)
	}

	return Table{Columns: cols, Rows: rows}
}

// Table summarizes every record of the session, regardless of display mode.
func (s *Session) Table(schema features.Schema) Table {
	return BuildTable(s.AllRecords(), schema)
}
