// Package telemetry holds the Prometheus collectors and tracer shared by the
// campaignflow services.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicetyped/campaignflow/pkg/events"
)

const namespace = "campaignflow"

// TracerName is the instrumentation scope of every span we start.
const TracerName = "github.com/voicetyped/campaignflow"

// Transition outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Metrics is the set of collectors exported on /metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	handlerFailures    *prometheus.CounterVec
	webhookDeliveries  *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	rpcs               *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of requested state transitions",
			},
			[]string{"kind", "outcome"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Duration of load, guard, save and publish for one transition",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),
		handlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_handler_failures_total",
				Help:      "Total number of event bus handler errors and panics",
			},
			[]string{"subscriber"},
		),
		webhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook delivery attempts",
			},
			[]string{"status"}, // status: success, failure, dead_letter, circuit_open
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "script_sessions_active",
				Help:      "Number of script sessions held in memory",
			},
		),
		rpcs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of lifecycle RPCs by status code",
			},
			[]string{"procedure", "code"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "Lifecycle RPC latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"procedure"},
		),
	}
	reg.MustRegister(
		m.transitions,
		m.transitionDuration,
		m.handlerFailures,
		m.webhookDeliveries,
		m.sessionsActive,
		m.rpcs,
		m.rpcDuration,
	)
	return m
}

// RecordTransition records one requested transition.
func (m *Metrics) RecordTransition(kind, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, outcome).Inc()
	m.transitionDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordHandlerFailure is a bus failure hook.
func (m *Metrics) RecordHandlerFailure(_ context.Context, f *events.HandlerFailure) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(f.Subscriber).Inc()
}

// RecordWebhookDelivery records one delivery attempt.
func (m *Metrics) RecordWebhookDelivery(status string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(status).Inc()
}

// SetSessionsActive updates the active script session gauge.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// RecordRPC records one finished RPC.
func (m *Metrics) RecordRPC(procedure, code string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.rpcs.WithLabelValues(procedure, code).Inc()
	m.rpcDuration.WithLabelValues(procedure).Observe(durationSeconds)
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Tracer returns the tracer from the globally configured provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
