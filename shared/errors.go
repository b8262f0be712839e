package shared

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is the structured error carried through the pipeline. Every denial
// the gate produces is an AppError so the HTTP layer can render an accurate
// client-facing message without the pipeline dictating transport formatting.
type AppError struct {
	StatusCode int
	Message    string
	Data       interface{}
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func NewBadRequestError(err error, message string) *AppError {
	return &AppError{StatusCode: http.StatusBadRequest, Message: message, Err: err}
}

func NewUnauthorizedError(err error, message string) *AppError {
	return &AppError{StatusCode: http.StatusUnauthorized, Message: message, Err: err}
}

func NewNotFoundError(err error, message string) *AppError {
	return &AppError{StatusCode: http.StatusNotFound, Message: message, Err: err}
}

func NewInternalError(err error, message string) *AppError {
	return &AppError{StatusCode: http.StatusInternalServerError, Message: message, Err: err}
}

// ==================== SECURITY DENIAL TAXONOMY ====================

type RetryInfo struct {
	RetryAfter int64 `json:"retry_after"`
}

func NewRateLimitedError(retryAfter time.Duration) *AppError {
	return &AppError{
		StatusCode: http.StatusTooManyRequests,
		Message:    "Rate limit exceeded",
		Data:       RetryInfo{RetryAfter: int64(retryAfter.Seconds())},
	}
}

func NewBlockedError(retryAfter time.Duration) *AppError {
	return &AppError{
		StatusCode: http.StatusForbidden,
		Message:    "Access denied",
		Data:       RetryInfo{RetryAfter: int64(retryAfter.Seconds())},
	}
}

type MaliciousInputInfo struct {
	RuleIDs  []string `json:"rule_ids"`
	Severity string   `json:"severity"`
}

func NewMaliciousInputError(ruleIDs []string, severity string) *AppError {
	return &AppError{
		StatusCode: http.StatusBadRequest,
		Message:    "Invalid input detected",
		Data:       MaliciousInputInfo{RuleIDs: ruleIDs, Severity: severity},
	}
}

func NewInvalidCredentialsError() *AppError {
	return &AppError{StatusCode: http.StatusUnauthorized, Message: "Invalid credentials"}
}

func NewDuplicateUserError() *AppError {
	return &AppError{StatusCode: http.StatusConflict, Message: "User already exists"}
}

func NewAccountLockedError(retryAfter time.Duration) *AppError {
	return &AppError{
		StatusCode: http.StatusForbidden,
		Message:    "Account temporarily locked",
		Data:       RetryInfo{RetryAfter: int64(retryAfter.Seconds())},
	}
}

func NewTokenExpiredError() *AppError {
	return &AppError{StatusCode: http.StatusUnauthorized, Message: "Token has expired"}
}

func NewTokenInvalidError(err error) *AppError {
	return &AppError{StatusCode: http.StatusUnauthorized, Message: "Invalid token", Err: err}
}

func NewUploadRejectedError(reason string) *AppError {
	return &AppError{StatusCode: http.StatusBadRequest, Message: reason}
}

func NewPoolExhaustedError(err error) *AppError {
	return &AppError{StatusCode: http.StatusServiceUnavailable, Message: "Storage busy, retry later", Err: err}
}

func NewStoreError(err error) *AppError {
	return &AppError{StatusCode: http.StatusInternalServerError, Message: "Storage error", Err: err}
}
