// Package domain provides the core types and canonical errors for the
// Tripfolio conversation service.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeValidation indicates a malformed or invalid request.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeAuthorization indicates the caller lacks permission.
	ErrorTypeAuthorization ErrorType = "authorization"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates rate limiting was triggered.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeSecurity indicates a trust-boundary violation such as a
	// failed CSRF check.
	ErrorTypeSecurity ErrorType = "security"

	// ErrorTypeInternal indicates an internal server error.
	ErrorTypeInternal ErrorType = "internal"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	// Common error codes
	ErrorCodeRateLimitExceeded  ErrorCode = "rate_limit_exceeded"
	ErrorCodeCSRFTokenInvalid   ErrorCode = "csrf_token_invalid"
	ErrorCodeSessionNotFound    ErrorCode = "session_not_found"
	ErrorCodeSessionClosed      ErrorCode = "session_closed"
	ErrorCodeOwnershipMismatch  ErrorCode = "ownership_mismatch"
	ErrorCodeIdentityMismatch   ErrorCode = "identity_mismatch"
	ErrorCodeContentBlocked     ErrorCode = "content_blocked"
	ErrorCodeAssistantUnhealthy ErrorCode = "assistant_unavailable"
)

// APIError is the canonical error returned across the service boundary.
// Handlers translate it to an HTTP status and a JSON envelope; internal
// detail never crosses the boundary, only Type, Code and Message do.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the request field that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// RetryAfter is the number of seconds until the caller may retry.
	// Only set for rate limit errors.
	RetryAfter int `json:"retry_after,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization, ErrorTypeSecurity:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithRetryAfter sets the retry-after hint in seconds.
func (e *APIError) WithRetryAfter(seconds int) *APIError {
	e.RetryAfter = seconds
	return e
}

// AsAPIError unwraps err into an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Convenience constructors for common errors

// ErrValidation creates a validation error.
func ErrValidation(message string) *APIError {
	return NewAPIError(ErrorTypeValidation, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrAuthorization creates an authorization error.
func ErrAuthorization(message string) *APIError {
	return NewAPIError(ErrorTypeAuthorization, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrRateLimit creates a rate limit error with a retry hint.
func ErrRateLimit(message string, retryAfter int) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message).
		WithCode(ErrorCodeRateLimitExceeded).
		WithRetryAfter(retryAfter)
}

// ErrSecurity creates a trust-boundary violation error.
func ErrSecurity(message string) *APIError {
	return NewAPIError(ErrorTypeSecurity, message)
}

// ErrInternal creates a server error. The message is what the caller sees,
// so keep it generic and log the cause separately.
func ErrInternal(message string) *APIError {
	return NewAPIError(ErrorTypeInternal, message)
}
