// Package session accumulates survival predictions for one interactive session.
//
// A Session is an explicit, session-scoped value: it starts empty, gains one
// PredictionRecord per successful form submission and is discarded when the
// session ends. Records are numbered 1, 2, 3, ... in submission order and are
// never edited or removed. The display mode only selects which records are
// drawn on the chart.
package session

import (
	"fmt"
	"time"

	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/models"
)

// Fixed horizons, in monthly curve steps.
const (
	OneYearStep   = 12
	ThreeYearStep = 36
	FiveYearStep  = 60
)

// DisplayMode selects which curves are drawn.
type DisplayMode string

const (
	// DisplaySingle draws only the most recent patient.
	DisplaySingle DisplayMode = "single"
	// DisplayMultiple overlays every patient of the session.
	DisplayMultiple DisplayMode = "multiple"
)

// ParseDisplayMode accepts "single"/"multiple" in any case, as well as the
// radio labels "Single"/"Multiple".
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch s {
	case "single", "Single", "SINGLE":
		return DisplaySingle, nil
	case "multiple", "Multiple", "MULTIPLE":
		return DisplayMultiple, nil
	default:
		return "", fmt.Errorf("invalid display mode %q (must be single or multiple)", s)
	}
}

// PredictionRecord is one submitted patient.
type PredictionRecord struct {
	No        int                `json:"no"`
	Inputs    features.RawInputs `json:"inputs"`
	Curve     models.Curve       `json:"curve"`
	OneYear   float64            `json:"oneYear"`
	ThreeYear float64            `json:"threeYear"`
	FiveYear  float64            `json:"fiveYear"`
	CreatedAt time.Time          `json:"createdAt"`
}

func (r PredictionRecord) clone() PredictionRecord {
	r.Inputs = r.Inputs.Clone()
	r.Curve = r.Curve.Clone()
	return r
}

// Session holds the ordered prediction records of one user session.
// A Session is not safe for concurrent use; stores hand out copies.
type Session struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Display   DisplayMode        `json:"display"`
	Records   []PredictionRecord `json:"records"`
	NextNo    int                `json:"nextNo"`
}

// New returns an empty session. Multiple-curve overlay is the default view.
func New(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Display:   DisplayMultiple,
		NextNo:    1,
	}
}

// Record appends a prediction for the given curve and inputs. The curve must
// reach the five-year step; otherwise an error wrapping
// models.ErrHorizonTooShort is returned and the session is left unchanged.
func (s *Session) Record(curve models.Curve, inputs features.RawInputs) (PredictionRecord, error) {
	if err := models.RequireHorizon(curve, FiveYearStep); err != nil {
		return PredictionRecord{}, err
	}

	if s.NextNo < 1 {
		s.NextNo = len(s.Records) + 1
	}

	rec := PredictionRecord{
		No:        s.NextNo,
		Inputs:    inputs.Clone(),
		Curve:     curve.Clone(),
		OneYear:   curve.Survival[OneYearStep],
		ThreeYear: curve.Survival[ThreeYearStep],
		FiveYear:  curve.Survival[FiveYearStep],
		CreatedAt: time.Now(),
	}

	s.Records = append(s.Records, rec)
	s.NextNo++
	s.UpdatedAt = rec.CreatedAt

	return rec.clone(), nil
}

// AllRecords returns a copy of every record in submission order.
func (s *Session) AllRecords() []PredictionRecord {
	out := make([]PredictionRecord, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.clone()
	}
	return out
}

// Len returns the number of records.
func (s *Session) Len() int {
	return len(s.Records)
}

// Latest returns the most recent record.
func (s *Session) Latest() (PredictionRecord, bool) {
	if len(s.Records) == 0 {
		return PredictionRecord{}, false
	}
	return s.Records[len(s.Records)-1].clone(), true
}

// SetDisplay changes the display mode. Records are not touched.
func (s *Session) SetDisplay(mode DisplayMode) {
	s.Display = mode
	s.UpdatedAt = time.Now()
}

// Visible returns the records the chart should draw under the current mode.
func (s *Session) Visible() []PredictionRecord {
	if s.Display == DisplaySingle {
		if latest, ok := s.Latest(); ok {
			return []PredictionRecord{latest}
		}
		return nil
	}
	return s.AllRecords()
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.Records = s.AllRecords()
	return &out
}
