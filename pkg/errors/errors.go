package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes shared across all packages. The verification-specific codes
// form the subsystem taxonomy: validation problems are client malfunctions
// and never count toward lockout, authentication failures do, replay
// detections are security events, and policy blocks are rejected before any
// verification is attempted.
const (
	// Generic errors
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"

	// Verification taxonomy
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeAuthFailed     ErrorCode = "AUTH_FAILED"
	ErrCodeReplayDetected ErrorCode = "REPLAY_DETECTED"
	ErrCodePolicyBlock    ErrorCode = "POLICY_BLOCK"
	ErrCodeLocked         ErrorCode = "ACCOUNT_LOCKED"

	// Credential lifecycle errors
	ErrCodeMethodNotEnrolled  ErrorCode = "METHOD_NOT_ENROLLED"
	ErrCodeMethodNotConfirmed ErrorCode = "METHOD_NOT_CONFIRMED"
	ErrCodeCredentialDisabled ErrorCode = "CREDENTIAL_DISABLED"
	ErrCodeCeremonyExpired    ErrorCode = "CEREMONY_EXPIRED"
	ErrCodeCeremonyUnknown    ErrorCode = "CEREMONY_UNKNOWN"

	// Delivery errors
	ErrCodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"
)

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // Human-readable error message
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
// Returns ErrCodeInternal if the error is not a structured Error.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// CountsTowardLockout reports whether a failed verification carrying this
// error should advance the failed-attempt counter. Validation errors
// indicate client-side malfunction rather than an attack and are excluded.
func CountsTowardLockout(err error) bool {
	switch GetCode(err) {
	case ErrCodeAuthFailed, ErrCodeReplayDetected:
		return true
	default:
		return false
	}
}

// UserMessage returns the message safe to surface to a client: the
// structured message without the wrapped cause. Unstructured errors come
// back as a generic message so internals never leak.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	// 400 Bad Request
	case ErrCodeInvalidInput, ErrCodeValidation, ErrCodeCeremonyExpired,
		ErrCodeCeremonyUnknown:
		return http.StatusBadRequest

	// 401 Unauthorized
	case ErrCodeUnauthorized, ErrCodeAuthFailed, ErrCodeReplayDetected:
		return http.StatusUnauthorized

	// 403 Forbidden
	case ErrCodeForbidden, ErrCodePolicyBlock, ErrCodeCredentialDisabled,
		ErrCodeMethodNotConfirmed:
		return http.StatusForbidden

	// 404 Not Found
	case ErrCodeNotFound, ErrCodeMethodNotEnrolled:
		return http.StatusNotFound

	// 409 Conflict
	case ErrCodeConflict, ErrCodeAlreadyExists:
		return http.StatusConflict

	// 423 Locked
	case ErrCodeLocked:
		return http.StatusLocked

	// 503 Service Unavailable
	case ErrCodeDeliveryFailed, ErrCodeTimeout:
		return http.StatusServiceUnavailable

	// 500 Internal Server Error (default)
	case ErrCodeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// NotFound creates a "not found" error
func NotFound(resourceType, identifier string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resourceType, identifier)
}

// InvalidInput creates an "invalid input" error
func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason))
}

// Internal creates an "internal error"
func Internal(message string) *Error {
	return New(ErrCodeInternal, message)
}
