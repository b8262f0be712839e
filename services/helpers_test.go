package services

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rkr-ui/BOQMate/model"
)

// testClock is a deterministic time source the services accept in place of
// time.Now.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(clock *testClock) *SecurityEventMonitorService {
	svc := &SecurityEventMonitorService{
		AlertThreshold: 10,
		AlertWindow:    time.Hour,
		AlertFunc:      func(kind string, count int, window time.Duration) {},
	}
	svc.now = clock.Now
	svc.initState()
	return svc
}

func newTestPatternLibrary(t *testing.T) *PatternLibraryService {
	t.Helper()
	svc := &PatternLibraryService{}
	require.NoError(t, svc.loadRules(defaultRuleTable))
	return svc
}

func newTestThreatDetector(t *testing.T) *ThreatDetectorService {
	t.Helper()
	return &ThreatDetectorService{
		patternSvc:     newTestPatternLibrary(t),
		maxFieldLength: defaultMaxFieldLength,
	}
}

func newTestJWT(clock *testClock) *JWTService {
	svc := &JWTService{
		TokenTTL:     time.Hour,
		jwtSecretKey: strings.Repeat("s", 48),
	}
	svc.now = clock.Now
	return svc
}

// fakeCredentialStore is an in-memory stand-in for the persistent store.
type fakeCredentialStore struct {
	mu    sync.Mutex
	creds map[string]*model.Credential
	err   error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]*model.Credential)}
}

func (s *fakeCredentialStore) GetCredential(userID string) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	cred, exists := s.creds[userID]
	if !exists {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *cred
	return &copied, nil
}

func (s *fakeCredentialStore) CreateCredential(cred *model.Credential, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copied := *cred
	s.creds[cred.UserID] = &copied
	return nil
}

func (s *fakeCredentialStore) TouchLastLogin(userID string, at time.Time, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred, exists := s.creds[userID]; exists {
		cred.LastLoginAt = &at
	}
	return nil
}
