// Package models provides the survival models behind the prediction form.
//
// Two implementations satisfy [Model]:
//   - DeepSurv - the pretrained network evaluated in-process from a weights file
//   - Remote   - delegates inference to an external model service over HTTP
//
// Both return a [Curve] with one survival probability per monthly time step
// and refuse to return curves too short for the fixed 1/3/5-year horizons.
package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/HatiCode/chondrosurv/pkg/features"
)

// MinHorizonStep is the last curve index read by the session aggregator (5 years, monthly).
const MinHorizonStep = 60

// ErrHorizonTooShort is returned when a predicted curve ends before a required time step.
var ErrHorizonTooShort = errors.New("model horizon too short")

// Curve is a survival curve sampled at discrete time steps.
// Times and Survival always have equal length.
type Curve struct {
	Times    []float64 `json:"times"`
	Survival []float64 `json:"survival"`
}

// Len returns the number of time steps.
func (c Curve) Len() int {
	return len(c.Survival)
}

// At returns the survival probability at index i.
func (c Curve) At(i int) (float64, error) {
	if i < 0 || i >= len(c.Survival) {
		return 0, fmt.Errorf("%w: need index %d, curve has %d steps", ErrHorizonTooShort, i, len(c.Survival))
	}
	return c.Survival[i], nil
}

// Clone returns a deep copy.
func (c Curve) Clone() Curve {
	out := Curve{
		Times:    make([]float64, len(c.Times)),
		Survival: make([]float64, len(c.Survival)),
	}
	copy(out.Times, c.Times)
	copy(out.Survival, c.Survival)
	return out
}

// NewCurve builds a curve with unit-spaced times starting at zero.
func NewCurve(survival []float64) Curve {
	times := make([]float64, len(survival))
	for i := range times {
		times[i] = float64(i)
	}
	return Curve{Times: times, Survival: survival}
}

// RequireHorizon fails unless the curve has a value at index step.
func RequireHorizon(c Curve, step int) error {
	if len(c.Times) != len(c.Survival) {
		return fmt.Errorf("malformed curve: %d times, %d survival values", len(c.Times), len(c.Survival))
	}
	if c.Len() <= step {
		return fmt.Errorf("%w: curve has %d steps, need at least %d", ErrHorizonTooShort, c.Len(), step+1)
	}
	return nil
}

// Model predicts survival curves from normalized feature vectors.
type Model interface {
	// Name returns a short identifier such as "deepsurv" or "remote".
	Name() string

	// InputDim is the vector length the model expects. Zero means unknown.
	InputDim() int

	// Predict returns the survival curve for one patient.
	Predict(ctx context.Context, x features.Vector) (Curve, error)

	// PredictBatch returns one curve per input vector, in order.
	PredictBatch(ctx context.Context, xs []features.Vector) ([]Curve, error)
}
