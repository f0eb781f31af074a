package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/chondrosurv/pkg/features"
)

// Remote delegates inference to an external model service over HTTP.
// This lets the form front any survival model (pycox, scikit-survival, a
// TorchServe deployment) as long as the service accepts a batch of feature
// vectors and returns one survival curve per instance.
//
// Request body:
//
//	{"instances": [[x1, ..., x9], ...]}
//
// The survival values for instance i are read with the gjson path
// SurvivalPath with "#" replaced by i (default "predictions.#.survival"), and
// the time axis with TimesPath (default: none, times are 0..n-1).
type Remote struct {
	endpoint     string
	inDim        int
	survivalPath string
	timesPath    string
	client       *http.Client
}

// RemoteOption configures a Remote model.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the default HTTP client, e.g. one built with mTLS.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.client = c
		}
	}
}

// WithSurvivalPath sets the gjson path template for survival values.
func WithSurvivalPath(path string) RemoteOption {
	return func(r *Remote) {
		if path != "" {
			r.survivalPath = path
		}
	}
}

// WithTimesPath sets the gjson path template for the time axis.
func WithTimesPath(path string) RemoteOption {
	return func(r *Remote) {
		r.timesPath = path
	}
}

type remoteRequest struct {
	Instances [][]float64 `json:"instances"`
}

// NewRemote creates a model backed by the service at endpoint.
// inDim is the vector length the service expects (0 disables the check).
func NewRemote(endpoint string, inDim int, opts ...RemoteOption) *Remote {
	r := &Remote{
		endpoint:     endpoint,
		inDim:        inDim,
		survivalPath: "predictions.#.survival",
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the model identifier.
func (r *Remote) Name() string {
	return "remote"
}

// InputDim returns the configured input dimension.
func (r *Remote) InputDim() int {
	return r.inDim
}

// Predict wraps x into a batch of one.
func (r *Remote) Predict(ctx context.Context, x features.Vector) (Curve, error) {
	curves, err := r.PredictBatch(ctx, []features.Vector{x})
	if err != nil {
		return Curve{}, err
	}
	return curves[0], nil
}

// PredictBatch sends all vectors in one request.
func (r *Remote) PredictBatch(ctx context.Context, xs []features.Vector) ([]Curve, error) {
	if len(xs) == 0 {
		return nil, errors.New("remote: empty batch")
	}

	req := remoteRequest{Instances: make([][]float64, len(xs))}
	for i, x := range xs {
		if r.inDim > 0 && len(x) != r.inDim {
			return nil, fmt.Errorf("remote: input %d has %d features, want %d", i, len(x), r.inDim)
		}
		req.Instances[i] = x
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("remote: http %d: %s", resp.StatusCode, string(bodyBytes))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return nil, errors.New("remote: response is not valid JSON")
	}

	curves := make([]Curve, len(xs))
	for i := range xs {
		c, err := r.extract(respBody, i)
		if err != nil {
			return nil, fmt.Errorf("remote: instance %d: %w", i, err)
		}
		if err := RequireHorizon(c, MinHorizonStep); err != nil {
			return nil, fmt.Errorf("remote: instance %d: %w", i, err)
		}
		curves[i] = c
	}

	return curves, nil
}

func (r *Remote) extract(body []byte, i int) (Curve, error) {
	surv := gjson.GetBytes(body, instancePath(r.survivalPath, i))
	if !surv.Exists() || !surv.IsArray() {
		return Curve{}, fmt.Errorf("survival path %q not found in response", r.survivalPath)
	}

	values := surv.Array()
	c := Curve{Survival: make([]float64, len(values))}
	for j, v := range values {
		if v.Type != gjson.Number {
			return Curve{}, fmt.Errorf("survival[%d] is not a number", j)
		}
		c.Survival[j] = v.Float()
	}

	if r.timesPath == "" {
		c.Times = NewCurve(c.Survival).Times
		return c, nil
	}

	times := gjson.GetBytes(body, instancePath(r.timesPath, i))
	if !times.Exists() || !times.IsArray() {
		return Curve{}, fmt.Errorf("times path %q not found in response", r.timesPath)
	}
	for _, v := range times.Array() {
		c.Times = append(c.Times, v.Float())
	}
	if len(c.Times) != len(c.Survival) {
		return Curve{}, fmt.Errorf("times count (%d) != survival count (%d)", len(c.Times), len(c.Survival))
	}

	return c, nil
}

// instancePath substitutes the first "#" in a gjson path with the instance index.
func instancePath(path string, i int) string {
	for k := 0; k < len(path); k++ {
		if path[k] == '#' {
			return fmt.Sprintf("%s%d%s", path[:k], i, path[k+1:])
		}
	}
	return path
}
