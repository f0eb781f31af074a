// Package metrics provides Prometheus instrumentation for the prediction service.
//
// Metrics exposed:
//   - chondrosurv_predict_seconds: Histogram of normalize+inference duration
//   - chondrosurv_predictions_total: Counter of successful predictions
//   - chondrosurv_five_year_survival: Histogram of predicted 5-year survival
//   - chondrosurv_sessions_created_total: Counter of new sessions
//   - chondrosurv_errors_total: Counter of errors by component and reason
//
// All metrics carry the model label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for one binary.
type Metrics struct {
	PredictSeconds       prometheus.Histogram
	PredictionsTotal     prometheus.Counter
	FiveYearSurvival     prometheus.Histogram
	SessionsCreatedTotal prometheus.Counter
	ErrorsTotal          *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func New(reg prometheus.Registerer, model string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"model": model}

	return &Metrics{
		PredictSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "chondrosurv_predict_seconds",
			Help:        "Time spent normalizing inputs and running the survival model",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "chondrosurv_predictions_total",
			Help:        "Total number of successful predictions",
			ConstLabels: labels,
		}),

		FiveYearSurvival: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "chondrosurv_five_year_survival",
			Help:        "Distribution of predicted 5-year survival probability",
			ConstLabels: labels,
			Buckets:     prometheus.LinearBuckets(0.1, 0.1, 10),
		}),

		SessionsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "chondrosurv_sessions_created_total",
			Help:        "Total number of sessions started",
			ConstLabels: labels,
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "chondrosurv_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// RecordPredict records the time spent predicting.
func (m *Metrics) RecordPredict(seconds float64) {
	m.PredictSeconds.Observe(seconds)
}

// RecordPrediction counts a successful prediction and its 5-year survival.
func (m *Metrics) RecordPrediction(fiveYear float64) {
	m.PredictionsTotal.Inc()
	m.FiveYearSurvival.Observe(fiveYear)
}

// RecordSessionCreated counts a new session.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreatedTotal.Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
