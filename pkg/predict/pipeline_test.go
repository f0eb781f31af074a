package predict

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/models"
	"github.com/HatiCode/chondrosurv/pkg/session"
)

// stubModel returns a fixed curve and remembers the last vector it saw.
type stubModel struct {
	curve models.Curve
	dim   int
	err   error
	last  features.Vector
}

func (m *stubModel) Name() string  { return "stub" }
func (m *stubModel) InputDim() int { return m.dim }

func (m *stubModel) Predict(_ context.Context, x features.Vector) (models.Curve, error) {
	m.last = append(features.Vector(nil), x...)
	if m.err != nil {
		return models.Curve{}, m.err
	}
	return m.curve.Clone(), nil
}

func (m *stubModel) PredictBatch(ctx context.Context, xs []features.Vector) ([]models.Curve, error) {
	out := make([]models.Curve, len(xs))
	for i, x := range xs {
		c, err := m.Predict(ctx, x)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	predictions []float64
	durations   int
	errors      []string
}

func (r *fakeRecorder) RecordPredict(float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations++
}

func (r *fakeRecorder) RecordPrediction(fiveYear float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictions = append(r.predictions, fiveYear)
}

func (r *fakeRecorder) RecordError(component, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, component+"/"+reason)
}

// decayCurve returns S(i) = 0.99^i over n steps.
func decayCurve(n int) models.Curve {
	surv := make([]float64, n)
	s := 1.0
	for i := range surv {
		surv[i] = s
		s *= 0.99
	}
	return models.NewCurve(surv)
}

func newPipeline(t *testing.T, m models.Model, rec Recorder) *Pipeline {
	t.Helper()
	n, err := features.NewNormalizer(features.DefaultSchema())
	require.NoError(t, err)
	return New(n, m, rec, nil)
}

func TestSubmit_EndToEnd(t *testing.T) {
	curve := decayCurve(100)
	model := &stubModel{curve: curve, dim: 9}
	rec := &fakeRecorder{}
	p := newPipeline(t, model, rec)
	require.NoError(t, p.CheckCompatible())

	s := session.New("e2e")
	raw := features.RawInputs{
		"Age":                "52.18131868",
		"Gender":             "Male",
		"Primary site":       "Axial skeleton",
		"Histological type":  "Dedifferentiated",
		"Grade":              "Moderately differentiated",
		"Surgery":            "Local treatment",
		"Tumor size":         "79.69853876",
		"Tumor extension":    "Extension beyond periosteum",
		"Distant metastasis": "None",
	}

	got, err := p.Submit(context.Background(), s, raw)
	require.NoError(t, err)

	assert.Equal(t, 1, got.No)
	assert.Equal(t, curve.Survival[12], got.OneYear)
	assert.Equal(t, curve.Survival[36], got.ThreeYear)
	assert.Equal(t, curve.Survival[60], got.FiveYear)
	assert.Equal(t, "79.69853876", got.Inputs["Tumor size"])

	require.Len(t, model.last, 9)
	assert.InDelta(t, 0, model.last[0], 1e-9)
	assert.InDelta(t, 0, model.last[1], 1e-9)
	if diff := cmp.Diff([]float64{0, 1, 1, 1, 1, 1, 0}, []float64(model.last[2:])); diff != "" {
		t.Errorf("categorical encoding mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, rec.durations)
	assert.Equal(t, []float64{curve.Survival[60]}, rec.predictions)
	assert.Empty(t, rec.errors)
}

func TestSubmit_NumbersAcrossCalls(t *testing.T) {
	p := newPipeline(t, &stubModel{curve: decayCurve(61), dim: 9}, nil)
	s := session.New("abc")

	for i := 1; i <= 4; i++ {
		rec, err := p.Submit(context.Background(), s, nil)
		require.NoError(t, err)
		assert.Equal(t, i, rec.No)
	}
	assert.Equal(t, 4, s.Len())
}

func TestSubmit_FailuresAppendNothing(t *testing.T) {
	tests := []struct {
		name       string
		model      *stubModel
		raw        features.RawInputs
		wantErr    error
		wantReason string
	}{
		{
			name:       "unknown option",
			model:      &stubModel{curve: decayCurve(61), dim: 9},
			raw:        features.RawInputs{"Gender": "Other"},
			wantErr:    features.ErrUnknownOption,
			wantReason: "features/unknown_option",
		},
		{
			name:       "invalid number",
			model:      &stubModel{curve: decayCurve(61), dim: 9},
			raw:        features.RawInputs{"Age": "forty"},
			wantErr:    features.ErrInvalidNumber,
			wantReason: "features/invalid_number",
		},
		{
			name:       "short horizon",
			model:      &stubModel{curve: decayCurve(60), dim: 9},
			wantErr:    models.ErrHorizonTooShort,
			wantReason: "model/horizon_too_short",
		},
		{
			name:       "model failure",
			model:      &stubModel{dim: 9, err: errors.New("boom")},
			wantReason: "model/failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			p := newPipeline(t, tt.model, rec)
			s := session.New("abc")

			_, err := p.Submit(context.Background(), s, tt.raw)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, 0, s.Len())
			assert.Equal(t, []string{tt.wantReason}, rec.errors)
		})
	}
}

func TestPredict_DoesNotNeedSession(t *testing.T) {
	curve := decayCurve(61)
	p := newPipeline(t, &stubModel{curve: curve, dim: 9}, nil)

	res, err := p.Predict(context.Background(), features.RawInputs{"Age": "200"})
	require.NoError(t, err)
	assert.Equal(t, "100", res.Inputs["Age"])
	assert.Len(t, res.Vector, 9)
	assert.Equal(t, curve.Survival[36], res.ThreeYear)
}

func TestCheckCompatible(t *testing.T) {
	assert.NoError(t, newPipeline(t, &stubModel{dim: 9}, nil).CheckCompatible())
	assert.NoError(t, newPipeline(t, &stubModel{dim: 0}, nil).CheckCompatible())
	assert.Error(t, newPipeline(t, &stubModel{dim: 8}, nil).CheckCompatible())
}

func TestIsInputError(t *testing.T) {
	assert.True(t, IsInputError(features.ErrUnknownOption))
	assert.True(t, IsInputError(errors.Join(errors.New("x"), features.ErrInvalidNumber)))
	assert.False(t, IsInputError(models.ErrHorizonTooShort))
}
