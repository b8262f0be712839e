package shared

const (
	UserID   = "user_id"
	ClientIP = "client_ip"

	// Security event kinds recorded by the event monitor.
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventIPBlocked         = "ip_blocked"
	EventBlockedAccess     = "blocked_ip_access"
	EventMaliciousInput    = "malicious_input_detected"
	EventAuthFailure       = "auth_failure"
	EventAccountLocked     = "account_locked"
	EventInvalidToken      = "invalid_token"
	EventPoolExhausted     = "pool_exhausted"
	EventUploadRejected    = "upload_rejected"
	EventUploadAccepted    = "upload_accepted"
	EventUserRegistered    = "user_registered"
	EventLoginSuccess      = "login_success"

	// Severity levels, ordered low < medium < high.
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// SeverityRank maps a severity label to its ordinal so verdicts can keep the
// maximum severity seen across rule matches.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
