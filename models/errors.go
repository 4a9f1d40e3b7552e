package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeSessionRequired   = "AUTH_SESSION_REQUIRED"
	ErrCodeNeedsReauth       = "AUTH_NEEDS_REAUTH"
	ErrCodeMemoryCritical    = "MEMORY_CRITICAL"
	ErrCodeMemoryHigh        = "MEMORY_HIGH"
	ErrCodeAcquireTimeout    = "ACQUIRE_TIMEOUT"
	ErrCodeChallenge         = "CHALLENGE_DETECTED"
	ErrCodeSiteBlocked       = "SITE_BLOCKED"
	ErrCodeSiteCoolingDown   = "SITE_COOLING_DOWN"
	ErrCodeContainerNotFound = "CONTAINER_NOT_FOUND"
	ErrCodeNavigation        = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash      = "BROWSER_CRASH"
	ErrCodeTimeout           = "SCRAPE_TIMEOUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EngineError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type EngineError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(code, message string, err error) *EngineError {
	return &EngineError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *EngineError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf extracts the engine error code from any error in the chain.
// Returns ErrCodeInternal for unclassified errors.
func CodeOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether any error in the chain carries the given code.
func IsCode(err error, code string) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}
