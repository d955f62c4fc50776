// Package metrics owns the Prometheus collectors of the ops service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "freightdesk"

// Outcome labels shared by the counters.
const (
	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Recorder records service observations. A nil *Recorder is a no-op.
type Recorder struct {
	registry     *prometheus.Registry
	transitions  *prometheus.CounterVec
	events       *prometheus.CounterVec
	reconcile    *prometheus.CounterVec
	tracking     *prometheus.CounterVec
	operations   *prometheus.HistogramVec
	sseConsumers prometheus.Gauge
}

// New builds a recorder on its own registry, including Go and process
// collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Status transitions by family and outcome.",
		}, []string{"family", "outcome", "code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events appended by type.",
		}, []string{"type"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_quote_reconcile_total",
			Help:      "Guest quote reconciliation outcomes.",
		}, []string{"status", "code"}),
		tracking: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_lookups_total",
			Help:      "Public tracking lookups by result.",
		}, []string{"result"}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "code"}),
		sseConsumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Open invalidation stream subscriptions.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.transitions,
		r.events,
		r.reconcile,
		r.tracking,
		r.operations,
		r.sseConsumers,
	)
	return r
}

// Registry exposes the underlying registry for gathering in tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Transition counts a transition attempt. code is empty for allowed ones.
func (r *Recorder) Transition(family, outcome, code string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(family, outcome, code).Inc()
}

// Event counts an appended audit event.
func (r *Recorder) Event(eventType string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(eventType).Inc()
}

// Reconcile counts one per-quote reconciliation outcome.
func (r *Recorder) Reconcile(status, code string) {
	if r == nil {
		return
	}
	r.reconcile.WithLabelValues(status, code).Inc()
}

// Tracking counts a public lookup; result is "found", "not_found" or "invalid".
func (r *Recorder) Tracking(result string) {
	if r == nil {
		return
	}
	r.tracking.WithLabelValues(result).Inc()
}

// Observe records the latency of a finished operation.
func (r *Recorder) Observe(operation, code string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(operation, code).Observe(elapsed.Seconds())
}

// Subscribers adjusts the open stream gauge by delta.
func (r *Recorder) Subscribers(delta int) {
	if r == nil {
		return
	}
	r.sseConsumers.Add(float64(delta))
}
