package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "llm_task_router"

// Metrics holds the router's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	executions     *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	credentials    *prometheus.CounterVec
	execLatency    *prometheus.HistogramVec
	ledgerFailures prometheus.Counter
}

// New registers the router collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Routing decisions by rule layer and source.",
		}, []string{"layer", "source"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Model executions by model and outcome.",
		}, []string{"model", "outcome"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Requests answered by the fallback path, by failing stage.",
		}, []string{"stage"}),
		credentials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_resolutions_total",
			Help:      "Credential resolutions by outcome.",
		}, []string{"outcome"}),
		execLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Latency of model executions.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		ledgerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_write_failures_total",
			Help:      "Usage ledger writes that failed.",
		}),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordDecision(layer, source string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(layer, source).Inc()
}

func (m *Metrics) RecordExecution(model string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.executions.WithLabelValues(model, outcome).Inc()
	m.execLatency.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) RecordFallback(stage string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordCredentials(err error) {
	if m == nil {
		return
	}
	outcome := "found"
	if err != nil {
		outcome = "not_found"
	}
	m.credentials.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLedgerFailure() {
	if m == nil {
		return
	}
	m.ledgerFailures.Inc()
}
