package services

import (
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/rkr-ui/BOQMate/shared"
	log "github.com/sirupsen/logrus"
)

// BlocklistService holds the set of source identities currently denied, with
// expiry, plus the escalation counters that decide when an identity earns a
// block. An identity has at most one active BlockEntry; a new qualifying
// event while blocked extends ExpiresAt.
type BlocklistService struct {
	context.DefaultService

	BlockDuration     time.Duration
	EscalationLimit   int
	ObservationWindow time.Duration

	monitorSvc *SecurityEventMonitorService

	shards [shardCount]blockShard

	now func() time.Time
}

type blockShard struct {
	mu      sync.Mutex
	entries map[string]*BlockEntry
	strikes map[string]*strikeWindow
}

type BlockEntry struct {
	Identity  string
	Reason    string
	BlockedAt time.Time
	ExpiresAt time.Time
}

// strikeWindow counts rate_limit_exceeded occurrences inside the short
// observation window of the escalation policy.
type strikeWindow struct {
	count       int
	windowStart time.Time
}

const (
	BLOCKLIST_SVC = "blocklist_svc"

	defaultBlockDuration     = 900 * time.Second
	defaultEscalationLimit   = 3
	defaultObservationWindow = 300 * time.Second

	blockReasonRateLimit = "repeated rate limit violations"
	blockReasonThreat    = "high severity malicious input"
)

func (svc BlocklistService) Id() string {
	return BLOCKLIST_SVC
}

func (svc *BlocklistService) Configure(ctx *context.Context) error {
	svc.BlockDuration = envSeconds("BLOCK_DURATION", defaultBlockDuration)
	svc.EscalationLimit = envInt("ESCALATION_LIMIT", defaultEscalationLimit)
	svc.ObservationWindow = envSeconds("ESCALATION_WINDOW", defaultObservationWindow)
	svc.initState()
	return svc.DefaultService.Configure(ctx)
}

func (svc *BlocklistService) Start() error {
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityEventMonitorService)
	return nil
}

func (svc *BlocklistService) initState() {
	for i := range svc.shards {
		svc.shards[i].entries = make(map[string]*BlockEntry)
		svc.shards[i].strikes = make(map[string]*strikeWindow)
	}
	if svc.now == nil {
		svc.now = time.Now
	}
}

// IsBlocked performs the O(1) lookup with lazy expiry: an entry past its
// ExpiresAt is removed on access rather than by a background sweep. For a
// blocked identity the second return is the time left until expiry.
func (svc *BlocklistService) IsBlocked(identity string) (bool, time.Duration) {
	now := svc.now()
	shard := &svc.shards[shardIndex(identity)]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.entries[identity]
	if !exists {
		return false, 0
	}
	if !now.Before(entry.ExpiresAt) {
		delete(shard.entries, identity)
		return false, 0
	}
	return true, entry.ExpiresAt.Sub(now)
}

// Block records (or extends) the identity's block entry.
func (svc *BlocklistService) Block(identity, reason string, duration time.Duration) {
	now := svc.now()
	expires := now.Add(duration)
	shard := &svc.shards[shardIndex(identity)]

	shard.mu.Lock()
	entry, exists := shard.entries[identity]
	if exists && now.Before(entry.ExpiresAt) {
		// Renewal: keep the original BlockedAt, push the expiry out.
		entry.ExpiresAt = expires
		entry.Reason = reason
	} else {
		shard.entries[identity] = &BlockEntry{
			Identity:  identity,
			Reason:    reason,
			BlockedAt: now,
			ExpiresAt: expires,
		}
	}
	shard.mu.Unlock()

	log.WithFields(log.Fields{
		"identity": identity,
		"reason":   reason,
		"until":    expires,
	}).Warn("Identity blocked")

	if svc.monitorSvc != nil {
		svc.monitorSvc.RecordKind(shared.EventIPBlocked, identity, "", shared.SeverityHigh, reason)
	}
}

// NoteRateLimitExceeded feeds the escalation policy: more than
// EscalationLimit rate-limit denials inside the observation window blocks the
// identity for BlockDuration (renewing an existing block).
func (svc *BlocklistService) NoteRateLimitExceeded(identity string) {
	now := svc.now()
	shard := &svc.shards[shardIndex(identity)]

	shard.mu.Lock()
	strikes, exists := shard.strikes[identity]
	if !exists || now.Sub(strikes.windowStart) >= svc.ObservationWindow {
		strikes = &strikeWindow{windowStart: now}
		shard.strikes[identity] = strikes
	}
	strikes.count++
	escalate := strikes.count > svc.EscalationLimit
	if escalate {
		// Reset so a renewed block needs fresh strikes.
		delete(shard.strikes, identity)
	}
	shard.mu.Unlock()

	if escalate {
		svc.Block(identity, blockReasonRateLimit, svc.BlockDuration)
	}
}

// NoteHighSeverityThreat blocks immediately on a high severity detector match.
func (svc *BlocklistService) NoteHighSeverityThreat(identity string) {
	svc.Block(identity, blockReasonThreat, svc.BlockDuration)
}

// Unblock removes an identity's entry, for operator intervention.
func (svc *BlocklistService) Unblock(identity string) {
	shard := &svc.shards[shardIndex(identity)]
	shard.mu.Lock()
	delete(shard.entries, identity)
	shard.mu.Unlock()
}

// UnblockExpired removes every entry already past expiry. Idempotent: running
// it twice in a row leaves the same state as running it once, and it never
// races with the lazy check in IsBlocked because both only delete entries
// whose ExpiresAt has passed.
func (svc *BlocklistService) UnblockExpired() int {
	now := svc.now()
	removed := 0
	for i := range svc.shards {
		shard := &svc.shards[i]
		shard.mu.Lock()
		for identity, entry := range shard.entries {
			if !now.Before(entry.ExpiresAt) {
				delete(shard.entries, identity)
				removed++
			}
		}
		for identity, strikes := range shard.strikes {
			if now.Sub(strikes.windowStart) >= svc.ObservationWindow {
				delete(shard.strikes, identity)
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// ActiveBlocks returns a snapshot of current entries for operational tooling.
func (svc *BlocklistService) ActiveBlocks() []BlockEntry {
	now := svc.now()
	var active []BlockEntry
	for i := range svc.shards {
		shard := &svc.shards[i]
		shard.mu.Lock()
		for _, entry := range shard.entries {
			if now.Before(entry.ExpiresAt) {
				active = append(active, *entry)
			}
		}
		shard.mu.Unlock()
	}
	return active
}
