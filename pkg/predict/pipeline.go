// Package predict runs one patient through the prediction pipeline:
//
//	raw inputs → normalize → model → (record into session)
//
// A Pipeline is stateless and shared by all requests; session state is passed
// in explicitly by the caller. Each stage is timed and failures are reported
// to an optional Recorder, tagged by the component that failed.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/models"
	"github.com/HatiCode/chondrosurv/pkg/session"
)

// Recorder receives pipeline measurements. *metrics.Metrics implements it.
type Recorder interface {
	RecordPredict(seconds float64)
	RecordPrediction(fiveYear float64)
	RecordError(component, reason string)
}

// Result is a stateless prediction for one patient.
type Result struct {
	Inputs    features.RawInputs `json:"inputs"`
	Vector    features.Vector    `json:"vector"`
	Curve     models.Curve       `json:"curve"`
	OneYear   float64            `json:"oneYear"`
	ThreeYear float64            `json:"threeYear"`
	FiveYear  float64            `json:"fiveYear"`
}

// Pipeline wires a normalizer to a model.
type Pipeline struct {
	normalizer *features.Normalizer
	model      models.Model
	recorder   Recorder
	logger     *slog.Logger
}

// New creates a Pipeline. recorder may be nil.
func New(normalizer *features.Normalizer, model models.Model, recorder Recorder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		normalizer: normalizer,
		model:      model,
		recorder:   recorder,
		logger:     logger,
	}
}

// Schema returns the form schema the pipeline normalizes against.
func (p *Pipeline) Schema() features.Schema {
	return p.normalizer.Schema()
}

// ModelName returns the name of the underlying model.
func (p *Pipeline) ModelName() string {
	return p.model.Name()
}

// CheckCompatible fails when the normalizer and model disagree on vector length.
// Models reporting an input dimension of zero are not checked.
func (p *Pipeline) CheckCompatible() error {
	if dim := p.model.InputDim(); dim != 0 && dim != p.normalizer.Dim() {
		return fmt.Errorf("model %s expects %d features, schema produces %d",
			p.model.Name(), dim, p.normalizer.Dim())
	}
	return nil
}

// Predict normalizes raw and runs the model. Nothing is recorded in any session.
func (p *Pipeline) Predict(ctx context.Context, raw features.RawInputs) (Result, error) {
	start := time.Now()

	vec, resolved, err := p.normalizer.Normalize(raw)
	if err != nil {
		p.recordError("features", reason(err))
		return Result{}, fmt.Errorf("normalize: %w", err)
	}

	curve, err := p.model.Predict(ctx, vec)
	if err != nil {
		p.recordError("model", reason(err))
		return Result{}, fmt.Errorf("predict: %w", err)
	}

	if err := models.RequireHorizon(curve, session.FiveYearStep); err != nil {
		p.recordError("model", reason(err))
		return Result{}, fmt.Errorf("predict: %w", err)
	}

	duration := time.Since(start)

	res := Result{
		Inputs:    resolved,
		Vector:    vec,
		Curve:     curve,
		OneYear:   curve.Survival[session.OneYearStep],
		ThreeYear: curve.Survival[session.ThreeYearStep],
		FiveYear:  curve.Survival[session.FiveYearStep],
	}

	if p.recorder != nil {
		p.recorder.RecordPredict(duration.Seconds())
		p.recorder.RecordPrediction(res.FiveYear)
	}

	p.logger.Debug("predicted survival curve",
		"model", p.model.Name(),
		"steps", curve.Len(),
		"five_year", res.FiveYear,
		"duration_ms", duration.Milliseconds(),
	)

	return res, nil
}

// Submit predicts and appends the result to s. On any error s is unchanged.
func (p *Pipeline) Submit(ctx context.Context, s *session.Session, raw features.RawInputs) (session.PredictionRecord, error) {
	res, err := p.Predict(ctx, raw)
	if err != nil {
		return session.PredictionRecord{}, err
	}

	rec, err := s.Record(res.Curve, res.Inputs)
	if err != nil {
		p.recordError("session", reason(err))
		return session.PredictionRecord{}, fmt.Errorf("record: %w", err)
	}

	p.logger.Info("recorded prediction",
		"session", s.ID,
		"patient", rec.No,
		"five_year", session.FormatPercent(rec.FiveYear),
	)

	return rec, nil
}

func (p *Pipeline) recordError(component, reason string) {
	if p.recorder != nil {
		p.recorder.RecordError(component, reason)
	}
}

// reason maps an error to a low-cardinality metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, features.ErrUnknownOption):
		return "unknown_option"
	case errors.Is(err, features.ErrInvalidNumber):
		return "invalid_number"
	case errors.Is(err, models.ErrHorizonTooShort):
		return "horizon_too_short"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}

// IsInputError reports whether err was caused by invalid form input rather
// than by the model or the store.
func IsInputError(err error) bool {
	return errors.Is(err, features.ErrUnknownOption) || errors.Is(err, features.ErrInvalidNumber)
}
