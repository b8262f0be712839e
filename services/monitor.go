package services

import (
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/google/uuid"
	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/model"
	"github.com/rkr-ui/BOQMate/shared"
	log "github.com/sirupsen/logrus"
)

// SecurityEventMonitorService aggregates the events every pipeline component
// emits, keeps rolling per-kind alert counters, and answers report queries
// over an arbitrary trailing window.
//
// The alert hook fires exactly once per window-crossing, not once per
// subsequent event, so a sustained attack does not become an alert storm.
type SecurityEventMonitorService struct {
	context.DefaultService

	AlertThreshold int
	AlertWindow    time.Duration

	// AlertFunc is the notification hook; delivery is the caller's concern.
	AlertFunc func(kind string, count int, window time.Duration)

	sqlSvc *PostgresService

	mu       sync.Mutex
	events   []model.SecurityEvent
	counters map[string]*alertCounter

	persistCh chan model.SecurityEvent
	closed    chan struct{}

	now func() time.Time
}

type alertCounter struct {
	count       int
	windowStart time.Time
	fired       bool
}

const (
	SECURITY_MONITOR_SVC = "security_monitor_svc"

	defaultAlertThreshold = 10
	defaultAlertWindow    = 3600 * time.Second

	// Events older than this are dropped from the in-memory log, which
	// bounds what Report can cover; the persistent store keeps the full
	// history for offline review.
	eventRetention = 24 * time.Hour

	persistQueueSize = 256

	// Key suffix for the immediate-alert counter of high severity matches.
	highSeverityKey = ":high"
)

func (svc SecurityEventMonitorService) Id() string {
	return SECURITY_MONITOR_SVC
}

func (svc *SecurityEventMonitorService) Configure(ctx *context.Context) error {
	svc.AlertThreshold = envInt("ALERT_THRESHOLD", defaultAlertThreshold)
	svc.AlertWindow = envSeconds("ALERT_WINDOW", defaultAlertWindow)
	svc.initState()
	return svc.DefaultService.Configure(ctx)
}

func (svc *SecurityEventMonitorService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)

	svc.persistCh = make(chan model.SecurityEvent, persistQueueSize)
	svc.closed = make(chan struct{})
	go svc.persistLoop()
	return nil
}

func (svc *SecurityEventMonitorService) Shutdown() {
	if svc.closed != nil {
		close(svc.closed)
	}
}

func (svc *SecurityEventMonitorService) initState() {
	svc.counters = make(map[string]*alertCounter)
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.AlertFunc == nil {
		svc.AlertFunc = func(kind string, count int, window time.Duration) {
			log.WithFields(log.Fields{
				"kind":   kind,
				"count":  count,
				"window": window,
			}).Error("SECURITY ALERT")
		}
	}
}

// RecordKind builds and records an event from its parts.
func (svc *SecurityEventMonitorService) RecordKind(kind, identity, userID, severity, detail string) {
	id, _ := uuid.NewV7()
	svc.Record(model.SecurityEvent{
		ID:        id.String(),
		Kind:      kind,
		Identity:  identity,
		UserID:    userID,
		Severity:  severity,
		Timestamp: svc.now(),
		Detail:    detail,
	})
}

// Record appends the event, updates the alert counters and forwards the
// event to the persistence queue. Events are append-only and never mutated.
func (svc *SecurityEventMonitorService) Record(event model.SecurityEvent) {
	now := svc.now()

	svc.mu.Lock()
	svc.pruneLocked(now)
	svc.events = append(svc.events, event)
	alerts := svc.updateCountersLocked(event, now)
	svc.mu.Unlock()

	observeSecurityEvent(event.Kind, event.Severity)

	log.WithFields(log.Fields{
		"kind":     event.Kind,
		"identity": event.Identity,
		"severity": event.Severity,
	}).Info("Security event recorded")

	for _, a := range alerts {
		svc.AlertFunc(a.kind, a.count, svc.AlertWindow)
		observeSecurityAlert(a.kind)
	}

	if svc.persistCh != nil {
		select {
		case svc.persistCh <- event:
		default:
			log.Warn("Security event persistence queue full, dropping write")
		}
	}
}

type firedAlert struct {
	kind  string
	count int
}

// updateCountersLocked applies the same rolling-window mechanics the rate
// limiter uses. Two counter families: per-kind volume counters against the
// configured threshold, and an immediate counter for high severity
// malicious-input matches.
func (svc *SecurityEventMonitorService) updateCountersLocked(event model.SecurityEvent, now time.Time) []firedAlert {
	var fired []firedAlert

	if svc.bumpLocked(event.Kind, now, svc.AlertThreshold) {
		fired = append(fired, firedAlert{kind: event.Kind, count: svc.counters[event.Kind].count})
	}

	if event.Kind == shared.EventMaliciousInput && event.Severity == shared.SeverityHigh {
		key := event.Kind + highSeverityKey
		if svc.bumpLocked(key, now, 0) {
			fired = append(fired, firedAlert{kind: key, count: svc.counters[key].count})
		}
	}

	return fired
}

// bumpLocked increments the counter for key, resetting it when its window
// has rolled over, and reports whether this increment crossed the threshold.
func (svc *SecurityEventMonitorService) bumpLocked(key string, now time.Time, threshold int) bool {
	counter, exists := svc.counters[key]
	if !exists || now.Sub(counter.windowStart) >= svc.AlertWindow {
		counter = &alertCounter{windowStart: now}
		svc.counters[key] = counter
	}
	counter.count++
	if counter.count > threshold && !counter.fired {
		counter.fired = true
		return true
	}
	return false
}

func (svc *SecurityEventMonitorService) pruneLocked(now time.Time) {
	cutoff := now.Add(-eventRetention)
	drop := 0
	for drop < len(svc.events) && svc.events[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		svc.events = append(svc.events[:0:0], svc.events[drop:]...)
	}
}

// Report aggregates event counts by kind and severity over the trailing
// window. This is the only externally exposed read API of the monitor.
func (svc *SecurityEventMonitorService) Report(window time.Duration) dto.SecurityReport {
	now := svc.now()
	cutoff := now.Add(-window)

	report := dto.SecurityReport{
		Window:     window.String(),
		ByKind:     make(map[string]int),
		BySeverity: make(map[string]int),
		KindDetail: make(map[string]map[string]int),
		Generated:  now,
	}

	svc.mu.Lock()
	for i := range svc.events {
		event := &svc.events[i]
		if event.Timestamp.Before(cutoff) {
			continue
		}
		report.Total++
		report.ByKind[event.Kind]++
		report.BySeverity[event.Severity]++
		detail := report.KindDetail[event.Kind]
		if detail == nil {
			detail = make(map[string]int)
			report.KindDetail[event.Kind] = detail
		}
		detail[event.Severity]++
	}
	svc.mu.Unlock()

	return report
}

func (svc *SecurityEventMonitorService) persistLoop() {
	for {
		select {
		case event := <-svc.persistCh:
			if svc.sqlSvc == nil {
				continue
			}
			if err := svc.sqlSvc.SaveSecurityEvent(&event); err != nil {
				log.WithError(err).Warn("Failed to persist security event")
			}
		case <-svc.closed:
			return
		}
	}
}
