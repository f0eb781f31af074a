package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/HatiCode/chondrosurv/pkg/features"
)

const defaultBatchNormEps = 1e-5

// Weights is the on-disk form of a trained DeepSurv model.
//
// Layers holds the three linear layers of the network in order. The first two
// carry the BatchNorm1d that follows their ReLU; the last maps to the single
// log-risk output. Weight matrices are stored row-major as [out][in], the same
// layout as the training framework's state dict.
type Weights struct {
	InFeatures int          `json:"inFeatures"`
	Dropout    float64      `json:"dropout"`
	Layers     []LayerState `json:"layers"`

	// BaselineCumulativeHazards holds H0(t) for t = 0, 1, 2, ... months.
	BaselineCumulativeHazards []float64 `json:"baselineCumulativeHazards"`

	// Times optionally overrides the time axis; defaults to 0..n-1.
	Times []float64 `json:"times,omitempty"`
}

// LayerState holds one linear layer and its optional batch normalization.
type LayerState struct {
	Weight    [][]float64     `json:"weight"`
	Bias      []float64       `json:"bias"`
	BatchNorm *BatchNormState `json:"batchNorm,omitempty"`
}

// BatchNormState holds BatchNorm1d affine parameters and running statistics.
type BatchNormState struct {
	Weight      []float64 `json:"weight"`
	Bias        []float64 `json:"bias"`
	RunningMean []float64 `json:"runningMean"`
	RunningVar  []float64 `json:"runningVar"`
	Eps         float64   `json:"eps,omitempty"`
}

type linear struct {
	w  *mat.Dense // out x in
	b  []float64
	bn *batchNorm
}

type batchNorm struct {
	gamma, beta, mean, std []float64
}

// DeepSurv is a Cox proportional-hazards model whose log-risk function is a
// small feed-forward network:
//
//	Linear -> ReLU -> BatchNorm1d -> Dropout -> Linear -> ReLU -> BatchNorm1d -> Dropout -> Linear
//
// Survival follows S(t|x) = exp(-H0(t) * exp(g(x))). Inference runs in eval
// mode, so batch normalization uses running statistics and dropout is the identity.
// A DeepSurv is read-only after construction and safe for concurrent use.
type DeepSurv struct {
	inDim    int
	layers   []linear
	baseline []float64
	times    []float64
}

// LoadDeepSurv reads a JSON weights file and builds the model.
func LoadDeepSurv(path string) (*DeepSurv, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deepsurv: read weights: %w", err)
	}

	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("deepsurv: parse weights %s: %w", path, err)
	}

	return NewDeepSurv(w)
}

// NewDeepSurv validates the weight shapes and builds the model.
func NewDeepSurv(w Weights) (*DeepSurv, error) {
	if w.InFeatures <= 0 {
		return nil, errors.New("deepsurv: inFeatures must be > 0")
	}
	if len(w.Layers) != 3 {
		return nil, fmt.Errorf("deepsurv: expected 3 linear layers, got %d", len(w.Layers))
	}

	m := &DeepSurv{inDim: w.InFeatures}

	in := w.InFeatures
	for i, ls := range w.Layers {
		hidden := i < len(w.Layers)-1
		l, out, err := buildLinear(ls, in, hidden)
		if err != nil {
			return nil, fmt.Errorf("deepsurv: layer %d: %w", i, err)
		}
		m.layers = append(m.layers, l)
		in = out
	}
	if in != 1 {
		return nil, fmt.Errorf("deepsurv: output layer must have 1 unit, got %d", in)
	}

	if len(w.BaselineCumulativeHazards) == 0 {
		return nil, errors.New("deepsurv: baseline cumulative hazards missing")
	}
	m.baseline = append([]float64(nil), w.BaselineCumulativeHazards...)

	switch {
	case len(w.Times) == 0:
		m.times = NewCurve(make([]float64, len(m.baseline))).Times
	case len(w.Times) == len(m.baseline):
		m.times = append([]float64(nil), w.Times...)
	default:
		return nil, fmt.Errorf("deepsurv: %d times for %d baseline hazards", len(w.Times), len(m.baseline))
	}

	if len(m.baseline) <= MinHorizonStep {
		return nil, fmt.Errorf("deepsurv: %w: baseline covers %d steps, need %d",
			ErrHorizonTooShort, len(m.baseline), MinHorizonStep+1)
	}

	return m, nil
}

func buildLinear(ls LayerState, in int, hidden bool) (linear, int, error) {
	out := len(ls.Weight)
	if out == 0 {
		return linear{}, 0, errors.New("empty weight matrix")
	}
	if len(ls.Bias) != out {
		return linear{}, 0, fmt.Errorf("bias has %d values, want %d", len(ls.Bias), out)
	}

	flat := make([]float64, 0, out*in)
	for r, row := range ls.Weight {
		if len(row) != in {
			return linear{}, 0, fmt.Errorf("weight row %d has %d columns, want %d", r, len(row), in)
		}
		flat = append(flat, row...)
	}

	l := linear{
		w: mat.NewDense(out, in, flat),
		b: append([]float64(nil), ls.Bias...),
	}

	switch {
	case hidden && ls.BatchNorm == nil:
		return linear{}, 0, errors.New("hidden layer requires batch normalization")
	case !hidden && ls.BatchNorm != nil:
		return linear{}, 0, errors.New("output layer must not have batch normalization")
	case hidden:
		bn, err := buildBatchNorm(*ls.BatchNorm, out)
		if err != nil {
			return linear{}, 0, err
		}
		l.bn = bn
	}

	return l, out, nil
}

func buildBatchNorm(s BatchNormState, n int) (*batchNorm, error) {
	for name, v := range map[string][]float64{
		"weight":      s.Weight,
		"bias":        s.Bias,
		"runningMean": s.RunningMean,
		"runningVar":  s.RunningVar,
	} {
		if len(v) != n {
			return nil, fmt.Errorf("batchNorm.%s has %d values, want %d", name, len(v), n)
		}
	}

	eps := s.Eps
	if eps <= 0 {
		eps = defaultBatchNormEps
	}

	std := make([]float64, n)
	for i, v := range s.RunningVar {
		if v < 0 {
			return nil, fmt.Errorf("batchNorm.runningVar[%d] is negative", i)
		}
		std[i] = math.Sqrt(v + eps)
	}

	return &batchNorm{
		gamma: append([]float64(nil), s.Weight...),
		beta:  append([]float64(nil), s.Bias...),
		mean:  append([]float64(nil), s.RunningMean...),
		std:   std,
	}, nil
}

// Name returns the model identifier.
func (m *DeepSurv) Name() string {
	return "deepsurv"
}

// InputDim returns the number of input features.
func (m *DeepSurv) InputDim() int {
	return m.inDim
}

// Steps returns the number of time steps in every predicted curve.
func (m *DeepSurv) Steps() int {
	return len(m.baseline)
}

// Predict wraps x into a batch of one.
func (m *DeepSurv) Predict(ctx context.Context, x features.Vector) (Curve, error) {
	curves, err := m.PredictBatch(ctx, []features.Vector{x})
	if err != nil {
		return Curve{}, err
	}
	return curves[0], nil
}

// PredictBatch evaluates the network on all vectors at once.
func (m *DeepSurv) PredictBatch(ctx context.Context, xs []features.Vector) ([]Curve, error) {
	if len(xs) == 0 {
		return nil, errors.New("deepsurv: empty batch")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	risk, err := m.logRisk(xs)
	if err != nil {
		return nil, err
	}

	curves := make([]Curve, len(xs))
	for i, g := range risk {
		hr := math.Exp(g)
		surv := make([]float64, len(m.baseline))
		for t, h0 := range m.baseline {
			surv[t] = math.Exp(-h0 * hr)
		}
		curves[i] = Curve{
			Times:    append([]float64(nil), m.times...),
			Survival: surv,
		}
	}

	return curves, nil
}

// logRisk runs the network and returns g(x) for every row of the batch.
func (m *DeepSurv) logRisk(xs []features.Vector) ([]float64, error) {
	flat := make([]float64, 0, len(xs)*m.inDim)
	for i, x := range xs {
		if len(x) != m.inDim {
			return nil, fmt.Errorf("deepsurv: input %d has %d features, want %d", i, len(x), m.inDim)
		}
		flat = append(flat, x...)
	}

	h := mat.NewDense(len(xs), m.inDim, flat)
	for _, l := range m.layers {
		h = l.forward(h)
	}

	out := make([]float64, len(xs))
	mat.Col(out, 0, h)
	return out, nil
}

func (l linear) forward(x *mat.Dense) *mat.Dense {
	var z mat.Dense
	z.Mul(x, l.w.T())

	z.Apply(func(_, j int, v float64) float64 {
		v += l.b[j]
		if l.bn == nil {
			return v
		}
		v = math.Max(v, 0)
		return (v-l.bn.mean[j])/l.bn.std[j]*l.bn.gamma[j] + l.bn.beta[j]
	}, &z)

	return &z
}
