package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []AlertEvent
}

func (r *alertRecorder) record(e AlertEvent) {
	r.mu.Lock()
	r.alerts = append(r.alerts, e)
	r.mu.Unlock()
}

func (r *alertRecorder) snapshot() []AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertEvent(nil), r.alerts...)
}

// fakeClock returns a fixed instant that tests move explicitly.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCollector(rec *alertRecorder) (*alertCollector, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newAlertCollector(rec.record)
	c.now = clock.now
	return c, clock
}

func TestLoginFailureSpikeAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector, _ := newTestCollector(rec)
	collector.logins.threshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	assert.Empty(t, rec.snapshot(), "no alert below threshold")

	collector.recordEvent(AuditLoginFailure)
	alerts := rec.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
	assert.Equal(t, 5, alerts[0].Threshold)
}

func TestWebhookRejectionSpikeAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector, _ := newTestCollector(rec)
	collector.webhooks.threshold = 3

	collector.recordEvent(AuditWebhookRejected)
	collector.recordEvent(AuditWebhookRejected)
	assert.Empty(t, rec.snapshot())

	collector.recordEvent(AuditWebhookRejected)
	alerts := rec.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertWebhookRejectionSpike, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Count)
}

func TestUnrelatedEventsDoNotCount(t *testing.T) {
	rec := &alertRecorder{}
	collector, _ := newTestCollector(rec)
	collector.logins.threshold = 1

	collector.recordEvent(AuditLoginSuccess)
	collector.recordEvent(AuditRegister)
	assert.Empty(t, rec.snapshot())
}

func TestMetricsNoAlertWithoutCallback(t *testing.T) {
	collector := newAlertCollector(nil)
	collector.recordEvent(AuditLoginFailure)
}

func TestMetricsNilCollector(t *testing.T) {
	var collector *alertCollector
	collector.recordEvent(AuditLoginFailure)
}

func TestMetricsSlidingWindowExpiry(t *testing.T) {
	rec := &alertRecorder{}
	collector, clock := newTestCollector(rec)
	collector.logins.threshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	clock.t = clock.t.Add(defaultLoginFailureWindow + time.Second)

	collector.recordEvent(AuditLoginFailure)
	assert.Empty(t, rec.snapshot(), "old failures should not count after window expiry")
}

func TestMetricsResetAfterAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector, _ := newTestCollector(rec)
	collector.logins.threshold = 3

	for i := 0; i < 3; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	require.Len(t, rec.snapshot(), 1, "first alert triggered")

	collector.recordEvent(AuditLoginFailure)
	collector.recordEvent(AuditLoginFailure)
	assert.Len(t, rec.snapshot(), 1, "no second alert yet")

	collector.recordEvent(AuditLoginFailure)
	assert.Len(t, rec.snapshot(), 2, "second alert triggered")
}

func TestTrimWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(30 * time.Second), base.Add(90 * time.Second)}

	got := trimWindow(times, base.Add(2*time.Minute), time.Minute)
	require.Len(t, got, 1)
	assert.Equal(t, base.Add(90*time.Second), got[0])
}
