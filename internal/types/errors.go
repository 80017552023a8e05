package types

import (
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these constants instead of
// hardcoded strings so the dispatcher can classify failures.
const (
	// Configuration errors: fail immediately, never retried internally.
	ErrCodeConfigMissingDestination ErrorCode = "config_missing_destination"
	ErrCodeConfigInvalidDestination ErrorCode = "config_invalid_destination"
	ErrCodeConfigMissingSecret      ErrorCode = "config_missing_secret"

	// Transient delivery errors: retried per channel policy.
	ErrCodeDeliveryNetwork  ErrorCode = "delivery_network_error"
	ErrCodeDeliveryUpstream ErrorCode = "delivery_upstream_error"
	ErrCodeDeliveryFetch    ErrorCode = "delivery_media_fetch_failed"

	// Terminal errors: propagated to the dispatcher for job-level handling.
	ErrCodeDeliveryTimeout   ErrorCode = "delivery_timeout"
	ErrCodeDeliveryExhausted ErrorCode = "delivery_retries_exhausted"
	ErrCodeSSRFBlocked       ErrorCode = "delivery_ssrf_blocked"

	// Internal/upstream infrastructure.
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamInternalAPI ErrorCode = "upstream_internal_api_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// AppError is the standard application error type used throughout the
// notification layer. Expressing failures as AppError lets the dispatcher
// distinguish configuration errors (never re-queued) from transient and
// terminal delivery errors without string matching.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// IsConfig reports whether this error is a configuration error. The caller's
// generic retry loop must not re-queue these.
func (e *AppError) IsConfig() bool {
	switch e.Code {
	case ErrCodeConfigMissingDestination, ErrCodeConfigInvalidDestination, ErrCodeConfigMissingSecret:
		return true
	}
	return false
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
