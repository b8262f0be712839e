package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkr-ui/BOQMate/shared"
)

type alertRecorder struct {
	fired []string
}

func (r *alertRecorder) hook(kind string, count int, window time.Duration) {
	r.fired = append(r.fired, kind)
}

func TestReportCountsByKindAndSeverity(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(clock)

	svc.RecordKind(shared.EventAuthFailure, "10.0.0.1", "alice", shared.SeverityMedium, "")
	svc.RecordKind(shared.EventAuthFailure, "10.0.0.2", "bob", shared.SeverityMedium, "")
	svc.RecordKind(shared.EventLoginSuccess, "10.0.0.1", "alice", shared.SeverityLow, "")

	report := svc.Report(time.Hour)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.ByKind[shared.EventAuthFailure])
	assert.Equal(t, 1, report.ByKind[shared.EventLoginSuccess])
	assert.Equal(t, 2, report.BySeverity[shared.SeverityMedium])
	assert.Equal(t, 1, report.BySeverity[shared.SeverityLow])
	assert.Equal(t, 2, report.KindDetail[shared.EventAuthFailure][shared.SeverityMedium])
}

func TestReportWindowExcludesOlderEvents(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(clock)

	svc.RecordKind(shared.EventAuthFailure, "10.0.0.1", "", shared.SeverityMedium, "")
	clock.Advance(30 * time.Minute)
	svc.RecordKind(shared.EventAuthFailure, "10.0.0.1", "", shared.SeverityMedium, "")

	report := svc.Report(10 * time.Minute)
	assert.Equal(t, 1, report.Total)

	report = svc.Report(time.Hour)
	assert.Equal(t, 2, report.Total)
}

func TestAlertFiresOncePerWindowCrossing(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(clock)
	svc.AlertThreshold = 3
	rec := &alertRecorder{}
	svc.AlertFunc = rec.hook

	for i := 0; i < 10; i++ {
		svc.RecordKind(shared.EventAuthFailure, "10.0.0.1", "", shared.SeverityMedium, "")
	}
	require.Len(t, rec.fired, 1)
	assert.Equal(t, shared.EventAuthFailure, rec.fired[0])

	// A fresh window crosses the threshold again and fires again, once.
	clock.Advance(svc.AlertWindow + time.Minute)
	for i := 0; i < 10; i++ {
		svc.RecordKind(shared.EventAuthFailure, "10.0.0.1", "", shared.SeverityMedium, "")
	}
	assert.Len(t, rec.fired, 2)
}

func TestHighSeverityMaliciousInputAlertsImmediately(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(clock)
	rec := &alertRecorder{}
	svc.AlertFunc = rec.hook

	svc.RecordKind(shared.EventMaliciousInput, "10.0.0.1", "", shared.SeverityHigh, "")
	require.Len(t, rec.fired, 1)

	// Repeats inside the window stay silent.
	svc.RecordKind(shared.EventMaliciousInput, "10.0.0.1", "", shared.SeverityHigh, "")
	assert.Len(t, rec.fired, 1)
}

func TestMediumMaliciousInputDoesNotAlertImmediately(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(clock)
	rec := &alertRecorder{}
	svc.AlertFunc = rec.hook

	svc.RecordKind(shared.EventMaliciousInput, "10.0.0.1", "", shared.SeverityMedium, "")
	assert.Empty(t, rec.fired)
}

func TestEventRetentionPrunesOldEntries(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(clock)

	svc.RecordKind(shared.EventLoginSuccess, "10.0.0.1", "alice", shared.SeverityLow, "")
	clock.Advance(eventRetention + time.Hour)
	svc.RecordKind(shared.EventLoginSuccess, "10.0.0.1", "alice", shared.SeverityLow, "")

	svc.mu.Lock()
	n := len(svc.events)
	svc.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestRecordKindPopulatesEvent(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(clock)

	svc.RecordKind(shared.EventIPBlocked, "10.0.0.1", "alice", shared.SeverityHigh, "repeated violations")

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.events, 1)
	event := svc.events[0]
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, shared.EventIPBlocked, event.Kind)
	assert.Equal(t, "10.0.0.1", event.Identity)
	assert.Equal(t, "alice", event.UserID)
	assert.Equal(t, shared.SeverityHigh, event.Severity)
	assert.Equal(t, clock.Now(), event.Timestamp)
	assert.Equal(t, "repeated violations", event.Detail)
}
