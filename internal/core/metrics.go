package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRequestMetrics implements MetricsCollector.
type PrometheusRequestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusRequestMetrics creates a PrometheusRequestMetrics.
func NewPrometheusRequestMetrics(reg prometheus.Registerer) *PrometheusRequestMetrics {
	factory := promauto.With(reg)
	return &PrometheusRequestMetrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertflow_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "endpoint", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alertflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

func (m *PrometheusRequestMetrics) RecordRequest(method, endpoint, status string, d time.Duration) {
	m.requests.WithLabelValues(method, endpoint, status).Inc()
	m.duration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}
