package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkr-ui/BOQMate/shared"
)

func newTestGate(t *testing.T, clock *testClock) (*RequestGateService, *SecurityEventMonitorService) {
	t.Helper()

	monitor := newTestMonitor(clock)
	blocklist := newTestBlocklist(clock)
	blocklist.monitorSvc = monitor
	rate := newTestRateLimiter(clock, 5, time.Minute)
	rate.monitorSvc = monitor
	rate.blockSvc = blocklist

	gate := &RequestGateService{
		blockSvc:   blocklist,
		rateSvc:    rate,
		threatSvc:  newTestThreatDetector(t),
		jwtSvc:     newTestJWT(clock),
		monitorSvc: monitor,
	}
	gate.initChecks()
	return gate, monitor
}

func cleanRequest(ip string) *GateRequest {
	return &GateRequest{
		ClientIP: ip,
		Path:     "/api/v1/login",
		Fields:   map[string]string{"query.project": "riverside-tower"},
	}
}

func TestGateAllowsCleanRequest(t *testing.T) {
	clock := newTestClock()
	gate, monitor := newTestGate(t, clock)

	res, err := gate.Evaluate(cleanRequest("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Rate.Remaining)
	assert.Empty(t, res.UserID)

	assert.Equal(t, 0, monitor.Report(time.Hour).Total)
}

func TestGateDeniesBlockedIdentityBeforeAnythingElse(t *testing.T) {
	clock := newTestClock()
	gate, monitor := newTestGate(t, clock)
	gate.blockSvc.Block("10.0.0.1", "manual", time.Hour)

	// Malicious field included: the blocklist check must win and the
	// scanner must never see the request.
	req := cleanRequest("10.0.0.1")
	req.Fields["query.q"] = "<script>alert(1)</script>"

	_, err := gate.Evaluate(req)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)

	retry, ok := appErr.Data.(shared.RetryInfo)
	require.True(t, ok)
	assert.Equal(t, int64(3600), retry.RetryAfter)

	report := monitor.Report(time.Hour)
	assert.Equal(t, 1, report.ByKind[shared.EventBlockedAccess])
	assert.Equal(t, 0, report.ByKind[shared.EventMaliciousInput])

	// The denied request consumed no rate budget.
	gate.blockSvc.Unblock("10.0.0.1")
	res, err := gate.Evaluate(cleanRequest("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Rate.Remaining)
}

func TestGateRateLimitDenial(t *testing.T) {
	clock := newTestClock()
	gate, monitor := newTestGate(t, clock)

	for i := 0; i < 5; i++ {
		_, err := gate.Evaluate(cleanRequest("10.0.0.1"))
		require.NoError(t, err)
	}

	_, err := gate.Evaluate(cleanRequest("10.0.0.1"))
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)

	retry, ok := appErr.Data.(shared.RetryInfo)
	require.True(t, ok)
	assert.Greater(t, retry.RetryAfter, int64(0))

	// Exactly one event for the one denial.
	assert.Equal(t, 1, monitor.Report(time.Hour).ByKind[shared.EventRateLimitExceeded])
}

func TestGateMaliciousInputDenial(t *testing.T) {
	clock := newTestClock()
	gate, monitor := newTestGate(t, clock)

	req := cleanRequest("10.0.0.1")
	req.Fields["query.user"] = `' OR '1'='1`

	_, err := gate.Evaluate(req)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)

	info, ok := appErr.Data.(shared.MaliciousInputInfo)
	require.True(t, ok)
	assert.Contains(t, info.RuleIDs, "sqli.quote_or_quote")

	assert.Equal(t, 1, monitor.Report(time.Hour).ByKind[shared.EventMaliciousInput])

	// Medium severity does not auto-block.
	_, err = gate.Evaluate(cleanRequest("10.0.0.1"))
	assert.NoError(t, err)
}

func TestGateHighSeverityThreatAutoBlocks(t *testing.T) {
	clock := newTestClock()
	gate, _ := newTestGate(t, clock)

	req := cleanRequest("10.0.0.1")
	req.Fields["query.q"] = "<script>steal()</script>"

	_, err := gate.Evaluate(req)
	require.Error(t, err)

	_, err = gate.Evaluate(cleanRequest("10.0.0.1"))
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)
}

func TestGateAuthCheck(t *testing.T) {
	clock := newTestClock()
	gate, monitor := newTestGate(t, clock)

	token, err := gate.jwtSvc.Issue("alice")
	require.NoError(t, err)

	req := cleanRequest("10.0.0.1")
	req.RequiresAuth = true
	req.AuthHeader = "Bearer " + token

	res, err := gate.Evaluate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.UserID)

	// Expired token: distinct denial, one event.
	clock.Advance(2 * time.Hour)
	req = cleanRequest("10.0.0.1")
	req.RequiresAuth = true
	req.AuthHeader = "Bearer " + token

	_, err = gate.Evaluate(req)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, "Token has expired", appErr.Message)
	assert.Equal(t, 1, monitor.Report(time.Hour).ByKind[shared.EventInvalidToken])

	// Garbage token.
	req.AuthHeader = "Bearer garbage"
	_, err = gate.Evaluate(req)
	appErr, ok = shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid token", appErr.Message)

	// Missing header: same denial, still inside the ordered pipeline.
	req.AuthHeader = ""
	_, err = gate.Evaluate(req)
	appErr, ok = shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid token", appErr.Message)
}

func TestGateSkipsAuthForPublicRequests(t *testing.T) {
	clock := newTestClock()
	gate, _ := newTestGate(t, clock)

	req := cleanRequest("10.0.0.1")
	req.RequiresAuth = false
	req.AuthHeader = ""

	_, err := gate.Evaluate(req)
	assert.NoError(t, err)
}

func TestGateBlockedIdentityWinsOverMissingToken(t *testing.T) {
	clock := newTestClock()
	gate, monitor := newTestGate(t, clock)
	gate.blockSvc.Block("10.0.0.1", "manual", time.Hour)

	req := cleanRequest("10.0.0.1")
	req.RequiresAuth = true
	req.AuthHeader = ""

	_, err := gate.Evaluate(req)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)
	assert.Equal(t, "Access denied", appErr.Message)

	report := monitor.Report(time.Hour)
	assert.Equal(t, 1, report.ByKind[shared.EventBlockedAccess])
	assert.Equal(t, 0, report.ByKind[shared.EventInvalidToken])
}

func TestGateRateLimitsTokenlessRequests(t *testing.T) {
	clock := newTestClock()
	gate, monitor := newTestGate(t, clock)

	// Each tokenless request consumes rate budget before the auth check
	// denies it; the sixth denial is the limiter's.
	for i := 0; i < 5; i++ {
		req := cleanRequest("10.0.0.1")
		req.RequiresAuth = true
		_, err := gate.Evaluate(req)
		appErr, ok := shared.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
	}

	req := cleanRequest("10.0.0.1")
	req.RequiresAuth = true
	_, err := gate.Evaluate(req)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)

	report := monitor.Report(time.Hour)
	assert.Equal(t, 5, report.ByKind[shared.EventInvalidToken])
	assert.Equal(t, 1, report.ByKind[shared.EventRateLimitExceeded])
}

func newTestGateApp(t *testing.T, clock *testClock) (*fiber.App, *RequestGateService, *SecurityEventMonitorService) {
	t.Helper()
	gate, monitor := newTestGate(t, clock)

	app := fiber.New(fiber.Config{ErrorHandler: (&HttpService{}).handleError})
	app.Use(gate.Middleware())
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Post("/api/v1/login", ok)
	app.Get("/api/v1/projects", ok)
	return app, gate, monitor
}

func TestGateMiddlewareDeniesBlockedIdentityWithoutToken(t *testing.T) {
	clock := newTestClock()
	app, gate, monitor := newTestGateApp(t, clock)
	gate.blockSvc.Block("9.9.9.9", "manual", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	report := monitor.Report(time.Hour)
	assert.Equal(t, 1, report.ByKind[shared.EventBlockedAccess])
	assert.Equal(t, 0, report.ByKind[shared.EventInvalidToken])
}

func TestGateMiddlewareRateLimitsTokenlessRequests(t *testing.T) {
	clock := newTestClock()
	app, _, monitor := newTestGateApp(t, clock)

	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
		req.Header.Set("X-Forwarded-For", "9.9.9.8")
		resp, err := app.Test(req)
		require.NoError(t, err)
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
	assert.Equal(t, 1, monitor.Report(time.Hour).ByKind[shared.EventRateLimitExceeded])
}

func TestGateMiddlewareScansRequestBody(t *testing.T) {
	clock := newTestClock()
	app, _, monitor := newTestGateApp(t, clock)

	body := `{"user_id":"admin' OR '1'='1' --","password":"<script>alert(1)</script>"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", strings.NewReader(body))
	req.Header.Set("X-Forwarded-For", "9.9.9.7")
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, monitor.Report(time.Hour).ByKind[shared.EventMaliciousInput])

	// Benign JSON passes through to the handler.
	body = `{"user_id":"alice","password":"Sturdy!Passw0rd"}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/login", strings.NewReader(body))
	req.Header.Set("X-Forwarded-For", "9.9.9.6")
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
