// Package router configures HTTP routes for the webapp.
//
// Routes configured:
//   - GET    /               - Form page with chart, metrics and patients table
//   - POST   /predict        - Form submission, redirects back to /
//   - POST   /display        - Display mode toggle, redirects back to /
//   - GET    /chart          - Survival chart HTML (embedded in the page as an iframe)
//   - GET    /api/schema     - Form schema as JSON
//   - POST   /api/predict    - Submit a patient as JSON, returns the new record
//   - GET    /api/patients   - All records of the session
//   - PUT    /api/display    - Change display mode
//   - DELETE /api/session    - End the session
//   - GET    /healthz        - Health check endpoint
//   - GET    /metrics        - Prometheus metrics endpoint
//
// The session is identified by the chondrosurv_session cookie. A session is
// created lazily on the first request that changes it.
package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/httpx"
	"github.com/HatiCode/chondrosurv/pkg/metrics"
	"github.com/HatiCode/chondrosurv/pkg/predict"
	"github.com/HatiCode/chondrosurv/pkg/render"
	"github.com/HatiCode/chondrosurv/pkg/session"
	"github.com/HatiCode/chondrosurv/pkg/storage"
)

// CookieName is the name of the session cookie.
const CookieName = "chondrosurv_session"

const (
	storeTimeout = 2 * time.Second
	maxBodyBytes = 64 << 10
)

// Options holds the router dependencies.
type Options struct {
	Pipeline *predict.Pipeline
	Store    storage.Store
	Metrics  *metrics.Metrics    // optional
	Gatherer prometheus.Gatherer // nil uses the default registry
	Chart    render.ChartOptions
	Logger   *slog.Logger

	// SessionTTL sets the cookie lifetime; zero makes it a browser-session cookie.
	SessionTTL   time.Duration
	CookieSecure bool

	// Ready is called by /healthz; nil means always healthy.
	Ready func() error
}

type handler struct {
	Options
}

// SetupRoutes configures HTTP endpoints for the webapp.
func SetupRoutes(opts Options) *http.ServeMux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Ready == nil {
		opts.Ready = func() error { return nil }
	}

	h := &handler{Options: opts}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.handlePage)
	mux.HandleFunc("POST /predict", h.handlePredictForm)
	mux.HandleFunc("POST /display", h.handleDisplayForm)
	mux.HandleFunc("GET /chart", h.handleChart)

	mux.HandleFunc("GET /api/schema", h.handleSchema)
	mux.HandleFunc("POST /api/predict", h.handlePredictAPI)
	mux.HandleFunc("GET /api/patients", h.handlePatients)
	mux.HandleFunc("PUT /api/display", h.handleDisplayAPI)
	mux.HandleFunc("DELETE /api/session", h.handleEndSession)

	mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(opts.Ready))
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	return mux
}

// loadSession returns the caller's session, or a new unsaved one when the
// cookie is missing, malformed or points to an ended session.
func (h *handler) loadSession(r *http.Request) (*session.Session, bool, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || storage.ValidateID(cookie.Value) != nil {
		return session.New(uuid.NewString()), true, nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	s, found, err := h.Store.Get(ctx, cookie.Value)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return session.New(uuid.NewString()), true, nil
	}
	return s, false, nil
}

// saveSession persists s and (re)issues the cookie.
func (h *handler) saveSession(w http.ResponseWriter, r *http.Request, s *session.Session, isNew bool) error {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	if err := h.Store.Put(ctx, s); err != nil {
		return err
	}

	if isNew {
		if h.Metrics != nil {
			h.Metrics.RecordSessionCreated()
		}
		h.Logger.Debug("session started", "session", s.ID)
	}

	http.SetCookie(w, h.cookie(s.ID, int(h.SessionTTL.Seconds())))
	return nil
}

func (h *handler) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *handler) storeFailed(w http.ResponseWriter, op string, err error) {
	h.Logger.Error("session store failed", "op", op, "error", err)
	if h.Metrics != nil {
		h.Metrics.RecordError("store", op+"_failed")
	}
	httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case predict.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// formInputs collects the schema fields present in the submitted form.
func formInputs(r *http.Request, schema features.Schema) features.RawInputs {
	raw := make(features.RawInputs, len(schema.Fields))
	for _, f := range schema.Fields {
		if values, ok := r.PostForm[f.Name]; ok && len(values) > 0 {
			raw[f.Name] = values[0]
		}
	}
	return raw
}

func (h *handler) pageData(s *session.Session, values features.RawInputs) render.PageData {
	if values == nil && s != nil {
		if latest, ok := s.Latest(); ok {
			values = latest.Inputs
		}
	}
	data := render.NewPageData(h.Pipeline.Schema(), s, values)
	data.Model = h.Pipeline.ModelName()
	return data
}

func (h *handler) writePage(w http.ResponseWriter, status int, data render.PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := render.RenderPage(w, data); err != nil {
		h.Logger.Error("failed to render page", "error", err)
	}
}

func (h *handler) handlePage(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.loadSession(r)
	if err != nil {
		h.storeFailed(w, "get", err)
		return
	}
	h.writePage(w, http.StatusOK, h.pageData(s, nil))
}

func (h *handler) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid form")
		return
	}

	s, isNew, err := h.loadSession(r)
	if err != nil {
		h.storeFailed(w, "get", err)
		return
	}

	raw := formInputs(r, h.Pipeline.Schema())
	if _, err := h.Pipeline.Submit(r.Context(), s, raw); err != nil {
		h.Logger.Warn("prediction failed", "session", s.ID, "error", err)
		data := h.pageData(s, raw)
		data.Error = err.Error()
		h.writePage(w, statusFor(err), data)
		return
	}

	if err := h.saveSession(w, r, s, isNew); err != nil {
		h.storeFailed(w, "put", err)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *handler) handleDisplayForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid form")
		return
	}

	mode, err := session.ParseDisplayMode(r.PostForm.Get("display"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.setDisplay(w, r, mode); err != nil {
		h.storeFailed(w, "put", err)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *handler) setDisplay(w http.ResponseWriter, r *http.Request, mode session.DisplayMode) error {
	s, isNew, err := h.loadSession(r)
	if err != nil {
		return err
	}
	s.SetDisplay(mode)
	return h.saveSession(w, r, s, isNew)
}

func (h *handler) handleChart(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.loadSession(r)
	if err != nil {
		h.storeFailed(w, "get", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := render.RenderChart(w, s.Visible(), h.Chart); err != nil {
		h.Logger.Error("failed to render chart", "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	if err := httpx.WriteJSON(w, http.StatusOK, h.Pipeline.Schema()); err != nil {
		h.Logger.Error("failed to write JSON response", "error", err)
	}
}

// PredictRequest is the body of POST /api/predict.
type PredictRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// PredictResponse is returned by POST /api/predict.
type PredictResponse struct {
	Session string                   `json:"session"`
	Record  session.PredictionRecord `json:"record"`
	OneYear   string                   `json:"oneYearPercent"`
	ThreeYear string                   `json:"threeYearPercent"`
	FiveYear  string                   `json:"fiveYearPercent"`
}

func (h *handler) handlePredictAPI(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := httpx.DecodeJSON(r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	raw, err := features.FromAny(req.Inputs)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	s, isNew, err := h.loadSession(r)
	if err != nil {
		h.storeFailed(w, "get", err)
		return
	}

	rec, err := h.Pipeline.Submit(r.Context(), s, raw)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.Logger.Error("prediction failed", "session", s.ID, "error", err)
		}
		httpx.WriteError(w, status, err)
		return
	}

	if err := h.saveSession(w, r, s, isNew); err != nil {
		h.storeFailed(w, "put", err)
		return
	}

	resp := PredictResponse{
		Session:   s.ID,
		Record:    rec,
		OneYear:   session.FormatPercent(rec.OneYear),
		ThreeYear: session.FormatPercent(rec.ThreeYear),
		FiveYear:  session.FormatPercent(rec.FiveYear),
	}
	if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.Logger.Error("failed to write JSON response", "error", err)
	}
}

// PatientsResponse is returned by GET /api/patients.
type PatientsResponse struct {
	Session string                     `json:"session,omitempty"`
	Display session.DisplayMode        `json:"display"`
	Records []session.PredictionRecord `json:"records"`
	Visible []int                      `json:"visible"`
	Table   session.Table              `json:"table"`
}

func (h *handler) handlePatients(w http.ResponseWriter, r *http.Request) {
	s, isNew, err := h.loadSession(r)
	if err != nil {
		h.storeFailed(w, "get", err)
		return
	}

	resp := PatientsResponse{
		Display: s.Display,
		Records: s.AllRecords(),
		Visible: []int{},
		Table:   s.Table(h.Pipeline.Schema()),
	}
	if !isNew {
		resp.Session = s.ID
	}
	for _, rec := range s.Visible() {
		resp.Visible = append(resp.Visible, rec.No)
	}

	if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.Logger.Error("failed to write JSON response", "error", err)
	}
}

// DisplayRequest is the body of PUT /api/display.
type DisplayRequest struct {
	Display string `json:"display"`
}

func (h *handler) handleDisplayAPI(w http.ResponseWriter, r *http.Request) {
	var req DisplayRequest
	if err := httpx.DecodeJSON(r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	mode, err := session.ParseDisplayMode(req.Display)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.setDisplay(w, r, mode); err != nil {
		h.storeFailed(w, "put", err)
		return
	}

	if err := httpx.WriteJSON(w, http.StatusOK, DisplayRequest{Display: string(mode)}); err != nil {
		h.Logger.Error("failed to write JSON response", "error", err)
	}
}

func (h *handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(CookieName); err == nil && storage.ValidateID(cookie.Value) == nil {
		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()

		if err := h.Store.Delete(ctx, cookie.Value); err != nil {
			h.storeFailed(w, "delete", err)
			return
		}
		h.Logger.Debug("session ended", "session", cookie.Value)
	}

	http.SetCookie(w, h.cookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}
