package services

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/model"
	"github.com/rkr-ui/BOQMate/shared"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
	"gorm.io/gorm"
)

// AuthService owns credentials and the per-user lockout state machine. The
// raw password is never stored or logged; the hash is a salted PBKDF2-SHA256
// derivation and comparison is constant time.
//
// Lockout records are in-memory and sharded by user id. The KDF is
// intentionally slow and never runs while a shard lock is held.
type AuthService struct {
	context.DefaultService

	MaxFailedAttempts int
	LockoutDuration   time.Duration
	Iterations        int

	store      credentialStore
	jwtSvc     *JWTService
	monitorSvc *SecurityEventMonitorService

	shards [shardCount]lockoutShard

	now func() time.Time
}

// credentialStore is the slice of the secure store the auth service needs.
type credentialStore interface {
	GetCredential(userID string) (*model.Credential, error)
	CreateCredential(cred *model.Credential, identity string) error
	TouchLastLogin(userID string, at time.Time, identity string) error
}

type lockoutShard struct {
	mu      sync.Mutex
	records map[string]*FailedAttemptRecord
}

type FailedAttemptRecord struct {
	Count          int
	FirstFailureAt time.Time
	LockedUntil    time.Time
}

const (
	AUTH_SVC = "auth_svc"

	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 900 * time.Second
	defaultKDFIterations     = 100000

	saltLength = 32
	keyLength  = 32
)

func (svc AuthService) Id() string {
	return AUTH_SVC
}

func (svc *AuthService) Configure(ctx *context.Context) error {
	svc.MaxFailedAttempts = envInt("MAX_FAILED_ATTEMPTS", defaultMaxFailedAttempts)
	svc.LockoutDuration = envSeconds("LOCKOUT_DURATION", defaultLockoutDuration)
	svc.Iterations = defaultKDFIterations
	svc.initState()
	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthService) Start() error {
	svc.store = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityEventMonitorService)
	return nil
}

func (svc *AuthService) initState() {
	for i := range svc.shards {
		svc.shards[i].records = make(map[string]*FailedAttemptRecord)
	}
	if svc.now == nil {
		svc.now = time.Now
	}
}

// ==================== REGISTRATION ====================

func (svc *AuthService) Register(req dto.RegisterRequest, identity string) (*dto.RegisterResponse, error) {
	existing, err := svc.store.GetCredential(req.UserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.NewStoreError(err)
	}
	if existing != nil {
		return nil, shared.NewDuplicateUserError()
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, shared.NewInternalError(err, "Failed to generate salt")
	}

	now := svc.now()
	cred := &model.Credential{
		UserID:       req.UserID,
		PasswordHash: svc.deriveKey(req.Password, salt, svc.Iterations),
		Salt:         salt,
		Iterations:   svc.Iterations,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := svc.store.CreateCredential(cred, identity); err != nil {
		return nil, err
	}

	if svc.monitorSvc != nil {
		svc.monitorSvc.RecordKind(shared.EventUserRegistered, identity, req.UserID, shared.SeverityLow, "account created")
	}

	return &dto.RegisterResponse{UserID: cred.UserID, CreatedAt: cred.CreatedAt}, nil
}

// ==================== AUTHENTICATION ====================

// Authenticate verifies the password, drives the lockout state machine and
// issues a bearer token on success. Order matters: an active lockout rejects
// even a correct password until it expires.
func (svc *AuthService) Authenticate(req dto.LoginRequest, identity string) (*dto.LoginResponse, error) {
	now := svc.now()

	if lockedFor, locked := svc.checkLockout(req.UserID, now); locked {
		if svc.monitorSvc != nil {
			svc.monitorSvc.RecordKind(shared.EventAccountLocked, identity, req.UserID, shared.SeverityHigh, "attempt while locked")
		}
		return nil, shared.NewAccountLockedError(lockedFor)
	}

	cred, err := svc.store.GetCredential(req.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, svc.registerFailure(req.UserID, identity, now)
		}
		return nil, shared.NewStoreError(err)
	}

	derived := svc.deriveKey(req.Password, cred.Salt, cred.Iterations)
	if !hmac.Equal(derived, cred.PasswordHash) {
		return nil, svc.registerFailure(req.UserID, identity, now)
	}

	svc.resetFailures(req.UserID)

	token, err := svc.jwtSvc.Issue(req.UserID)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to issue token")
	}

	if err := svc.store.TouchLastLogin(req.UserID, now, identity); err != nil {
		log.WithError(err).WithField(shared.UserID, req.UserID).Error("Failed to record last login")
	}

	if svc.monitorSvc != nil {
		svc.monitorSvc.RecordKind(shared.EventLoginSuccess, identity, req.UserID, shared.SeverityLow, "login")
	}

	return &dto.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(svc.jwtSvc.TokenTTL.Seconds()),
	}, nil
}

// VerifyToken resolves the subject of a bearer token presented on a request.
func (svc *AuthService) VerifyToken(token string) (string, error) {
	return svc.jwtSvc.Verify(token)
}

// ==================== LOCKOUT STATE MACHINE ====================

// checkLockout reports whether the user is locked and for how much longer.
// An expired lockout resets the record back to the Active state lazily.
func (svc *AuthService) checkLockout(userID string, now time.Time) (time.Duration, bool) {
	shard := &svc.shards[shardIndex(userID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	record, exists := shard.records[userID]
	if !exists {
		return 0, false
	}
	if record.LockedUntil.IsZero() {
		return 0, false
	}
	if now.Before(record.LockedUntil) {
		return record.LockedUntil.Sub(now), true
	}
	delete(shard.records, userID)
	return 0, false
}

// registerFailure counts the failed attempt, transitioning Active -> Locked
// when the count reaches the limit. Returns the denial to hand the caller.
func (svc *AuthService) registerFailure(userID, identity string, now time.Time) error {
	shard := &svc.shards[shardIndex(userID)]

	shard.mu.Lock()
	record, exists := shard.records[userID]
	if !exists {
		record = &FailedAttemptRecord{FirstFailureAt: now}
		shard.records[userID] = record
	}
	record.Count++
	locked := record.Count >= svc.MaxFailedAttempts
	if locked {
		record.LockedUntil = now.Add(svc.LockoutDuration)
	}
	count := record.Count
	shard.mu.Unlock()

	if locked {
		log.WithFields(log.Fields{
			shared.UserID: userID,
			"failures":    count,
		}).Warn("Account locked after repeated auth failures")

		if svc.monitorSvc != nil {
			svc.monitorSvc.RecordKind(shared.EventAccountLocked, identity, userID, shared.SeverityHigh, "failure limit reached")
		}
		return shared.NewAccountLockedError(svc.LockoutDuration)
	}

	if svc.monitorSvc != nil {
		svc.monitorSvc.RecordKind(shared.EventAuthFailure, identity, userID, shared.SeverityMedium, "invalid credentials")
	}
	return shared.NewInvalidCredentialsError()
}

func (svc *AuthService) resetFailures(userID string) {
	shard := &svc.shards[shardIndex(userID)]
	shard.mu.Lock()
	delete(shard.records, userID)
	shard.mu.Unlock()
}

// FailureCount exposes the current count for operational tooling.
func (svc *AuthService) FailureCount(userID string) int {
	shard := &svc.shards[shardIndex(userID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if record, exists := shard.records[userID]; exists {
		return record.Count
	}
	return 0
}

func (svc *AuthService) deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
}
