package services

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/shared"
	log "github.com/sirupsen/logrus"
)

// RateLimitService tracks request counts per source identity in fixed
// windows. State is in-memory only and resets on restart; counters live in a
// sharded map so the check-and-update stays O(1) under one shard lock.
//
// Fixed windows permit short bursts at window boundaries. That is a
// documented property of the algorithm, not a defect.
type RateLimitService struct {
	context.DefaultService

	MaxRequests int
	Window      time.Duration

	monitorSvc *SecurityEventMonitorService
	blockSvc   *BlocklistService

	shards [shardCount]rateShard
	closed chan struct{}

	now func() time.Time
}

type rateShard struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	count       int
	windowStart time.Time
}

const (
	RATE_LIMIT_SVC = "rate_limit_svc"

	defaultRateLimitRequests = 100
	defaultRateLimitWindow   = 3600 * time.Second
)

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *context.Context) error {
	svc.MaxRequests = envInt("RATE_LIMIT_REQUESTS", defaultRateLimitRequests)
	svc.Window = envSeconds("RATE_LIMIT_WINDOW", defaultRateLimitWindow)
	svc.initState()
	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) Start() error {
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityEventMonitorService)
	svc.blockSvc = svc.Service(BLOCKLIST_SVC).(*BlocklistService)

	svc.closed = make(chan struct{}, 1)
	go svc.startCleanupJob()
	return nil
}

func (svc *RateLimitService) Shutdown() {
	if svc.closed != nil {
		svc.closed <- struct{}{}
	}
}

func (svc *RateLimitService) initState() {
	for i := range svc.shards {
		svc.shards[i].windows = make(map[string]*rateWindow)
	}
	if svc.now == nil {
		svc.now = time.Now
	}
}

// Check counts the request against the identity's current window and returns
// the verdict. A denied outcome emits a rate_limit_exceeded event and feeds
// the blocklist escalation policy; neither happens under the shard lock.
func (svc *RateLimitService) Check(identity string) dto.RateLimitInfo {
	now := svc.now()
	shard := &svc.shards[shardIndex(identity)]

	shard.mu.Lock()
	window, exists := shard.windows[identity]
	if !exists || now.Sub(window.windowStart) >= svc.Window {
		window = &rateWindow{windowStart: now}
		shard.windows[identity] = window
	}
	window.count++
	count := window.count
	resetTime := window.windowStart.Add(svc.Window)
	shard.mu.Unlock()

	if count > svc.MaxRequests {
		retryAfter := resetTime.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}

		log.WithFields(log.Fields{
			"identity": identity,
			"count":    count,
			"limit":    svc.MaxRequests,
		}).Warn("Rate limit exceeded")

		if svc.monitorSvc != nil {
			svc.monitorSvc.RecordKind(shared.EventRateLimitExceeded, identity, "", shared.SeverityMedium, "request count over window limit")
		}
		if svc.blockSvc != nil {
			svc.blockSvc.NoteRateLimitExceeded(identity)
		}

		return dto.RateLimitInfo{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: int64(retryAfter.Seconds()),
			ResetTime:  &resetTime,
		}
	}

	return dto.RateLimitInfo{
		Allowed:   true,
		Remaining: svc.MaxRequests - count,
		ResetTime: &resetTime,
	}
}

// Reset clears the identity's window, e.g. after an operator removes a block.
func (svc *RateLimitService) Reset(identity string) {
	shard := &svc.shards[shardIndex(identity)]
	shard.mu.Lock()
	delete(shard.windows, identity)
	shard.mu.Unlock()
}

// startCleanupJob deletes windows that are already past expiry. The lazy
// check in Check is authoritative; the sweep only bounds memory and is
// idempotent with it.
func (svc *RateLimitService) startCleanupJob() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := svc.cleanupExpired()
			if removed > 0 {
				log.WithField("removed", removed).Debug("Rate window cleanup completed")
			}
		case <-svc.closed:
			return
		}
	}
}

func (svc *RateLimitService) cleanupExpired() int {
	now := svc.now()
	removed := 0
	for i := range svc.shards {
		shard := &svc.shards[i]
		shard.mu.Lock()
		for identity, window := range shard.windows {
			if now.Sub(window.windowStart) >= svc.Window {
				delete(shard.windows, identity)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// ==================== ENV HELPERS ====================

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
		log.WithField("key", key).Warn("Ignoring invalid integer env value")
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return time.Duration(v) * time.Second
		}
		log.WithField("key", key).Warn("Ignoring invalid duration env value")
	}
	return fallback
}
