// Package metrics provides the Prometheus collectors for donorhub.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks audit writes, record transitions, collaborator calls,
// notification delivery and authentication failures.
type Metrics struct {
	AuditWrites          *prometheus.CounterVec
	Transitions          *prometheus.CounterVec
	ExternalCallDuration *prometheus.HistogramVec
	Notifications        *prometheus.CounterVec
	LoginFailures        prometheus.Counter
	WebhookEvents        *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered on reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donorhub_audit_writes_total",
			Help: "Audit log writes by result",
		}, []string{"result"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donorhub_record_transitions_total",
			Help: "Lifecycle transitions by model and action",
		}, []string{"model", "action"}),
		ExternalCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "donorhub_external_call_duration_seconds",
			Help:    "Duration of calls to external collaborators",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"collaborator", "outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donorhub_notifications_total",
			Help: "Notification deliveries by result",
		}, []string{"result"}),
		LoginFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "donorhub_login_failures_total",
			Help: "Failed login attempts",
		}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donorhub_webhook_events_total",
			Help: "Payment gateway webhook events by type and result",
		}, []string{"type", "result"}),
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveAudit records one audit write.
func (m *Metrics) ObserveAudit(ok bool) {
	if m == nil {
		return
	}
	m.AuditWrites.WithLabelValues(result(ok)).Inc()
}

// ObserveTransition records a lifecycle action on model.
func (m *Metrics) ObserveTransition(model, action string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(model, action).Inc()
}

// ObserveExternal records a collaborator call that began at start.
func (m *Metrics) ObserveExternal(collaborator string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ExternalCallDuration.WithLabelValues(collaborator, result(err == nil)).Observe(time.Since(start).Seconds())
}

// ObserveNotification records one notification attempt.
func (m *Metrics) ObserveNotification(ok bool) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result(ok)).Inc()
}

// IncrementLoginFailure records a failed login.
func (m *Metrics) IncrementLoginFailure() {
	if m == nil {
		return
	}
	m.LoginFailures.Inc()
}

// ObserveWebhook records a processed webhook event.
func (m *Metrics) ObserveWebhook(eventType string, ok bool) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, result(ok)).Inc()
}
