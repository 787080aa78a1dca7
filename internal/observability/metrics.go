package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "registry_console"

// Metrics holds the console's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	refreshesTotal  *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	refreshInflight prometheus.Gauge
	retriesTotal    prometheus.Counter
	guardDecisions  *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		refreshesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh cycles by outcome",
		}, []string{"outcome"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_refresh_duration_seconds",
			Help:      "Duration of token refresh cycles",
			Buckets:   prometheus.DefBuckets,
		}),
		refreshInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_refresh_inflight",
			Help:      "Whether a token refresh cycle is in progress",
		}),
		retriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Requests retried after a 401 response",
		}),
		guardDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_guard_decisions_total",
			Help:      "Route guard decisions by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RefreshStarted() {
	m.refreshInflight.Set(1)
}

func (m *Metrics) RefreshFinished(success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.refreshInflight.Set(0)
	m.refreshesTotal.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RequestRetried() {
	m.retriesTotal.Inc()
}

// GuardDecision counts a route guard outcome (allow, login, unauthorized, error)
func (m *Metrics) GuardDecision(outcome string) {
	m.guardDecisions.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
