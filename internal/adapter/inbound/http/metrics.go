package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway data path.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RateLimitedTotal   prometheus.Counter
	UpstreamErrors     *prometheus.CounterVec
	ActiveWebSockets   prometheus.Gauge
	RegisteredServices prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aussiegate",
				Name:      "requests_total",
				Help:      "Total gateway requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aussiegate",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RateLimitedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "aussiegate",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by rate limiting",
			},
		),
		UpstreamErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aussiegate",
				Name:      "upstream_errors_total",
				Help:      "Upstream failures by kind",
			},
			[]string{"kind"}, // kind=error/timeout
		),
		ActiveWebSockets: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aussiegate",
				Name:      "active_websocket_sessions",
				Help:      "Currently relaying WebSocket sessions",
			},
		),
		RegisteredServices: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aussiegate",
				Name:      "registered_services",
				Help:      "Services known to the local registry snapshot",
			},
		),
	}
}
