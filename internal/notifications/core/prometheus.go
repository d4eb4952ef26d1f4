package core

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertflow/internal/types"
)

var _ NotificationMetrics = (*PrometheusNotificationMetrics)(nil)

// PrometheusNotificationMetrics exposes the same series as the CloudWatch
// emitter for scraping.
type PrometheusNotificationMetrics struct {
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	dispatches *prometheus.CounterVec
	exhausted  prometheus.Counter
	anomalies  *prometheus.CounterVec
	registry   prometheus.Gatherer
}

// NewPrometheusNotificationMetrics registers its collectors on reg.
func NewPrometheusNotificationMetrics(reg *prometheus.Registry) *PrometheusNotificationMetrics {
	factory := promauto.With(reg)
	return &PrometheusNotificationMetrics{
		deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertflow_deliveries_total",
				Help: "Delivery outcomes by channel type",
			},
			[]string{"channel", "result"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alertflow_delivery_latency_seconds",
				Help:    "Adapter call latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"channel"},
		),
		dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertflow_dispatches_total",
				Help: "Finished dispatches by final status",
			},
			[]string{"status"},
		),
		exhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "alertflow_escalations_exhausted_total",
				Help: "Escalations that ran out of steps unacknowledged",
			},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertflow_engine_anomalies_total",
				Help: "Engine anomalies by kind",
			},
			[]string{"kind"},
		),
		registry: reg,
	}
}

func (m *PrometheusNotificationMetrics) RecordDelivery(_ context.Context, channel types.ChannelType, result MetricResult) {
	m.deliveries.WithLabelValues(string(channel), string(result)).Inc()
}

func (m *PrometheusNotificationMetrics) RecordLatency(_ context.Context, channel types.ChannelType, d time.Duration) {
	m.latency.WithLabelValues(string(channel)).Observe(d.Seconds())
}

func (m *PrometheusNotificationMetrics) RecordDispatch(_ context.Context, status types.DispatchStatus) {
	m.dispatches.WithLabelValues(string(status)).Inc()
}

func (m *PrometheusNotificationMetrics) RecordEscalationExhausted(context.Context) {
	m.exhausted.Inc()
}

func (m *PrometheusNotificationMetrics) RecordAnomaly(_ context.Context, kind string) {
	m.anomalies.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusNotificationMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MultiMetrics fans every call out to each emitter.
type MultiMetrics []NotificationMetrics

func (mm MultiMetrics) RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult) {
	for _, m := range mm {
		m.RecordDelivery(ctx, channel, result)
	}
}

func (mm MultiMetrics) RecordLatency(ctx context.Context, channel types.ChannelType, d time.Duration) {
	for _, m := range mm {
		m.RecordLatency(ctx, channel, d)
	}
}

func (mm MultiMetrics) RecordDispatch(ctx context.Context, status types.DispatchStatus) {
	for _, m := range mm {
		m.RecordDispatch(ctx, status)
	}
}

func (mm MultiMetrics) RecordEscalationExhausted(ctx context.Context) {
	for _, m := range mm {
		m.RecordEscalationExhausted(ctx)
	}
}

func (mm MultiMetrics) RecordAnomaly(ctx context.Context, kind string) {
	for _, m := range mm {
		m.RecordAnomaly(ctx, kind)
	}
}
