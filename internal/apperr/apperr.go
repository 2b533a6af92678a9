// Package apperr defines the service-wide error taxonomy. Surface codes
// are stable across versions and map one-to-one onto HTTP statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class in the public taxonomy.
type Code string

const (
	// Input
	CodeInvalidURL      Code = "invalid_url"
	CodeValidationError Code = "validation_error"

	// Policy
	CodeRobotsBlocked Code = "robots_blocked"
	CodeRateLimited   Code = "rate_limited"
	CodeQuotaExceeded Code = "quota_exceeded"
	CodeUnauthorized  Code = "unauthorized"
	CodeForbidden     Code = "forbidden"

	// Transport
	CodeTimeout        Code = "timeout"
	CodeNetworkError   Code = "network_error"
	CodeUpstreamStatus Code = "upstream_status"
	CodeRedirectLoop   Code = "redirect_loop"

	// Rendering
	CodeRendererUnavailable Code = "renderer_unavailable"
	CodeRendererCrashed     Code = "renderer_crashed"
	CodeNavigationFailed    Code = "navigation_failed"

	// Extraction
	CodeNoCandidates     Code = "no_candidates"
	CodeExtractionFailed Code = "extraction_failed"
	CodeLowConfidence    Code = "low_confidence"

	// Infra
	CodeCacheUnavailable Code = "cache_unavailable"
	CodeCircuitOpen      Code = "circuit_open"
	CodeInternal         Code = "internal_error"
)

// Error is a taxonomy-tagged error. Details are optional structured
// context surfaced to the caller.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

// New creates a taxonomy error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy code to an underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetail adds one structured detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error code to the HTTP status returned by the
// request surface.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidURL, CodeValidationError:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeRobotsBlocked:
		return http.StatusForbidden
	case CodeRateLimited, CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeNetworkError, CodeUpstreamStatus, CodeRedirectLoop:
		return http.StatusBadGateway
	case CodeRendererUnavailable, CodeCircuitOpen, CodeCacheUnavailable:
		return http.StatusServiceUnavailable
	case CodeRendererCrashed, CodeNavigationFailed:
		return http.StatusBadGateway
	case CodeNoCandidates, CodeExtractionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the taxonomy code from err, or internal_error when err
// carries no taxonomy tag.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// From converts any error into a taxonomy error, passing through errors
// that already carry a code.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Code: CodeInternal, Message: err.Error(), cause: err}
}
