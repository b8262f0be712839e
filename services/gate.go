package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/shared"
)

// RequestGateService runs every request through the ordered security checks
// before any handler sees it. Checks short-circuit: the first denial wins
// and later checks never run.
type RequestGateService struct {
	context.DefaultService

	blockSvc   *BlocklistService
	rateSvc    *RateLimitService
	threatSvc  *ThreatDetectorService
	jwtSvc     *JWTService
	monitorSvc *SecurityEventMonitorService

	checks []gateCheck
}

// GateRequest is the transport-independent view of a request the gate
// evaluates. The Fiber middleware builds it; tests build it directly.
type GateRequest struct {
	ClientIP     string
	Path         string
	Fields       map[string]string
	AuthHeader   string
	RequiresAuth bool
}

// GateResult is what a request that passed every check carries forward.
type GateResult struct {
	UserID string
	Rate   dto.RateLimitInfo
}

type gateCheck struct {
	name string
	run  func(req *GateRequest, res *GateResult) error
}

const REQUEST_GATE_SVC = "request_gate_svc"

const (
	denialBlocked     = "blocked"
	denialRateLimited = "rate_limited"
	denialMalicious   = "malicious_input"
	denialBadToken    = "invalid_token"
)

func (svc RequestGateService) Id() string {
	return REQUEST_GATE_SVC
}

func (svc *RequestGateService) Start() error {
	svc.blockSvc = svc.Service(BLOCKLIST_SVC).(*BlocklistService)
	svc.rateSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.threatSvc = svc.Service(THREAT_DETECTOR_SVC).(*ThreatDetectorService)
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityEventMonitorService)

	svc.initChecks()
	return nil
}

// initChecks fixes the evaluation order. Blocklist runs first so blocked
// clients cannot burn rate-limit quota or exercise the scanner.
func (svc *RequestGateService) initChecks() {
	svc.checks = []gateCheck{
		{name: denialBlocked, run: svc.checkBlocklist},
		{name: denialRateLimited, run: svc.checkRateLimit},
		{name: denialMalicious, run: svc.checkThreats},
		{name: denialBadToken, run: svc.checkAuth},
	}
}

// Evaluate runs the check list. Exactly one security event is recorded per
// denial, by whichever component owns the denial.
func (svc *RequestGateService) Evaluate(req *GateRequest) (*GateResult, error) {
	res := &GateResult{}
	for _, check := range svc.checks {
		if err := check.run(req, res); err != nil {
			observeBlockedRequest(check.name)
			return nil, err
		}
	}
	return res, nil
}

func (svc *RequestGateService) checkBlocklist(req *GateRequest, res *GateResult) error {
	blocked, retryAfter := svc.blockSvc.IsBlocked(req.ClientIP)
	if !blocked {
		return nil
	}
	svc.monitorSvc.RecordKind(shared.EventBlockedAccess, req.ClientIP, "", shared.SeverityMedium,
		fmt.Sprintf("path=%q", req.Path))
	return shared.NewBlockedError(retryAfter)
}

func (svc *RequestGateService) checkRateLimit(req *GateRequest, res *GateResult) error {
	info := svc.rateSvc.Check(req.ClientIP)
	res.Rate = info
	if info.Allowed {
		return nil
	}
	return shared.NewRateLimitedError(time.Duration(info.RetryAfter) * time.Second)
}

func (svc *RequestGateService) checkThreats(req *GateRequest, res *GateResult) error {
	fields := make(map[string]string, len(req.Fields)+1)
	fields["path"] = req.Path
	for name, value := range req.Fields {
		fields[name] = value
	}

	verdict := svc.threatSvc.Scan(fields)
	if !svc.threatSvc.Blocking(verdict) {
		return nil
	}

	svc.monitorSvc.RecordKind(shared.EventMaliciousInput, req.ClientIP, res.UserID, verdict.Severity,
		fmt.Sprintf("rules=%v path=%q", verdict.RuleIDs, req.Path))
	if verdict.Severity == shared.SeverityHigh {
		svc.blockSvc.NoteHighSeverityThreat(req.ClientIP)
	}
	return shared.NewMaliciousInputError(verdict.RuleIDs, verdict.Severity)
}

// checkAuth runs last so a blocked, rate limited or malicious request is
// denied as such even when it carries no usable Authorization header.
func (svc *RequestGateService) checkAuth(req *GateRequest, res *GateResult) error {
	if !req.RequiresAuth {
		return nil
	}

	token, err := svc.jwtSvc.ExtractTokenFromHeader(req.AuthHeader)
	if err != nil {
		svc.monitorSvc.RecordKind(shared.EventInvalidToken, req.ClientIP, "", shared.SeverityMedium,
			fmt.Sprintf("path=%q", req.Path))
		return shared.NewTokenInvalidError(err)
	}

	userID, err := svc.jwtSvc.Verify(token)
	if err != nil {
		svc.monitorSvc.RecordKind(shared.EventInvalidToken, req.ClientIP, "", shared.SeverityMedium,
			fmt.Sprintf("path=%q", req.Path))
		return err
	}

	res.UserID = userID
	return nil
}

// publicPaths need no bearer token; everything else under /api does.
var publicPaths = map[string]bool{
	"/api/v1/register": true,
	"/api/v1/login":    true,
	"/ping":            true,
}

// Middleware adapts the gate to Fiber. It resolves the client IP, collects
// the scannable fields and stashes the authenticated user for handlers.
func (svc *RequestGateService) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := &GateRequest{
			ClientIP:     getClientIP(c),
			Path:         c.Path(),
			Fields:       requestFields(c),
			AuthHeader:   c.Get(fiber.HeaderAuthorization),
			RequiresAuth: !publicPaths[c.Path()],
		}

		res, err := svc.Evaluate(req)
		if err != nil {
			return err
		}

		c.Locals(shared.ClientIP, req.ClientIP)
		if res.UserID != "" {
			c.Locals(shared.UserID, res.UserID)
		}

		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Rate.Remaining))
		return c.Next()
	}
}

// requestFields gathers the text inputs worth scanning: query parameters,
// route params and the raw body of mutating requests. Multipart bodies are
// excluded here; their file content is screened by the upload validator.
func requestFields(c *fiber.Ctx) map[string]string {
	fields := make(map[string]string)

	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		fields["query."+string(key)] = string(value)
	})

	for _, name := range c.Route().Params {
		fields["param."+name] = c.Params(name)
	}

	switch c.Method() {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			break
		}
		if body := c.Body(); len(body) > 0 {
			fields["body"] = string(body)
		}
	}

	return fields
}

// getClientIP resolves the real client address behind proxies. The first
// entry of X-Forwarded-For is the originating client.
func getClientIP(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if cfIP := c.Get("CF-Connecting-IP"); cfIP != "" {
		return cfIP
	}
	return c.IP()
}
