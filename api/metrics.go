package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike     AlertType = "login_failure_spike"
	AlertWebhookRejectionSpike AlertType = "webhook_rejection_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

type window struct {
	times     []time.Time
	span      time.Duration
	threshold int
}

// add records an occurrence at now and reports whether the threshold was
// reached, in which case the window restarts.
func (w *window) add(now time.Time) (int, bool) {
	w.times = trimWindow(append(w.times, now), now, w.span)
	n := len(w.times)
	if n < w.threshold {
		return n, false
	}
	w.times = w.times[:0]
	return n, true
}

// alertCollector tracks sliding window counters for anomaly detection.
type alertCollector struct {
	mu       sync.Mutex
	logins   window
	webhooks window
	now      func() time.Time
	alertFn  AlertFunc
}

const (
	defaultLoginFailureWindow     = 1 * time.Minute
	defaultLoginFailureThreshold  = 50
	defaultWebhookRejectWindow    = 5 * time.Minute
	defaultWebhookRejectThreshold = 20
)

func newAlertCollector(alertFn AlertFunc) *alertCollector {
	return &alertCollector{
		logins:   window{span: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		webhooks: window{span: defaultWebhookRejectWindow, threshold: defaultWebhookRejectThreshold},
		now:      time.Now,
		alertFn:  alertFn,
	}
}

// recordEvent inspects a security event and updates the relevant counters.
func (m *alertCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.record(&m.logins, AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditWebhookRejected:
		m.record(&m.webhooks, AlertWebhookRejectionSpike, "rejected webhook deliveries exceed threshold")
	}
}

func (m *alertCollector) record(w *window, typ AlertType, msg string) {
	m.mu.Lock()
	now := m.now()
	n, fire := w.add(now)
	m.mu.Unlock()
	if fire {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     n,
			Threshold: w.threshold,
			Timestamp: now,
		})
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
