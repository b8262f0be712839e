package services

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/shared"
)

const (
	testIdentity = "10.0.0.1"
	testPassword = "Str0ng!Passw0rd"
)

func newTestAuth(clock *testClock) *AuthService {
	svc := &AuthService{
		MaxFailedAttempts: 3,
		LockoutDuration:   15 * time.Minute,
		// Lowered from the production work factor to keep the suite fast;
		// the derivation path is identical.
		Iterations: 1000,
	}
	svc.now = clock.Now
	svc.initState()
	svc.store = newFakeCredentialStore()
	svc.jwtSvc = newTestJWT(clock)
	svc.monitorSvc = newTestMonitor(clock)
	return svc
}

func register(t *testing.T, svc *AuthService, userID string) {
	t.Helper()
	_, err := svc.Register(dto.RegisterRequest{UserID: userID, Password: testPassword}, testIdentity)
	require.NoError(t, err)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	clock := newTestClock()
	svc := newTestAuth(clock)
	register(t, svc, "alice")

	resp, err := svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: testPassword}, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	subject, err := svc.VerifyToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestRegisterDuplicateUser(t *testing.T) {
	clock := newTestClock()
	svc := newTestAuth(clock)
	register(t, svc, "alice")

	_, err := svc.Register(dto.RegisterRequest{UserID: "alice", Password: testPassword}, testIdentity)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.StatusCode)
}

func TestRegisterStoresDerivedHashOnly(t *testing.T) {
	clock := newTestClock()
	svc := newTestAuth(clock)
	register(t, svc, "alice")

	cred, err := svc.store.GetCredential("alice")
	require.NoError(t, err)
	assert.NotContains(t, string(cred.PasswordHash), testPassword)
	assert.Len(t, cred.Salt, saltLength)
	assert.Equal(t, 1000, cred.Iterations)
	assert.Equal(t, svc.deriveKey(testPassword, cred.Salt, cred.Iterations), cred.PasswordHash)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	clock := newTestClock()
	svc := newTestAuth(clock)
	register(t, svc, "alice")

	_, err := svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: "wrong-pass-1"}, testIdentity)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
	assert.Equal(t, 1, svc.FailureCount("alice"))
}

func TestAuthenticateUnknownUserCountsFailure(t *testing.T) {
	clock := newTestClock()
	svc := newTestAuth(clock)

	_, err := svc.Authenticate(dto.LoginRequest{UserID: "ghost", Password: "whatever1!"}, testIdentity)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
	assert.Equal(t, 1, svc.FailureCount("ghost"))
}

func TestLockoutStateMachine(t *testing.T) {
	clock := newTestClock()
	svc := newTestAuth(clock)
	register(t, svc, "alice")

	// Two plain failures stay in the active state.
	for i := 0; i < 2; i++ {
		_, err := svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: "wrong-pass-1"}, testIdentity)
		appErr, ok := shared.GetAppError(err)
		require.True(t, ok)
		require.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
	}

	// The third failure trips the lockout.
	_, err := svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: "wrong-pass-1"}, testIdentity)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, appErr.StatusCode)

	// The correct password is rejected while locked.
	_, err = svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: testPassword}, testIdentity)
	appErr, ok = shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)

	// Lockout expires; the correct password works and the count resets.
	clock.Advance(16 * time.Minute)
	_, err = svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: testPassword}, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.FailureCount("alice"))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clock := newTestClock()
	svc := newTestAuth(clock)
	register(t, svc, "alice")

	_, _ = svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: "wrong-pass-1"}, testIdentity)
	require.Equal(t, 1, svc.FailureCount("alice"))

	_, err := svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: testPassword}, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.FailureCount("alice"))

	// The machine is back at the start: the next lockout needs a full run
	// of fresh failures.
	_, _ = svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: "wrong-pass-1"}, testIdentity)
	assert.Equal(t, 1, svc.FailureCount("alice"))
}

func TestAuthEventsRecorded(t *testing.T) {
	clock := newTestClock()
	svc := newTestAuth(clock)
	monitor := svc.monitorSvc
	register(t, svc, "alice")

	_, _ = svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: "wrong-pass-1"}, testIdentity)
	_, err := svc.Authenticate(dto.LoginRequest{UserID: "alice", Password: testPassword}, testIdentity)
	require.NoError(t, err)

	report := monitor.Report(time.Hour)
	assert.Equal(t, 1, report.ByKind[shared.EventUserRegistered])
	assert.Equal(t, 1, report.ByKind[shared.EventAuthFailure])
	assert.Equal(t, 1, report.ByKind[shared.EventLoginSuccess])
}
