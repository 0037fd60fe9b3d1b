// Package errcode defines the stable E8xxx error envelope shared by every
// supervision API. Codes are API surface: callers dispatch on them, HTTP
// adapters map them to statuses, and they never change meaning between
// versions.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is the typed envelope carried by every failing supervision call.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// New builds an envelope with a stable code.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an envelope with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an envelope around a cause. The cause stays reachable through
// errors.Unwrap so callers can still match on sentinel errors beneath the
// envelope.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetail attaches structured context and returns the same envelope.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the E8xxx code from err, unwrapping as needed. Returns ""
// when err carries no envelope.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given stable code anywhere in its chain.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a stable code to the HTTP status an adapter should return.
// Unknown codes map to 500.
func HTTPStatus(code string) int {
	switch code {
	case CodePolicyNotFound:
		return http.StatusNotFound
	case CodePolicyVersionConflict:
		return http.StatusConflict
	case CodeRateLimitExceeded, CodeQuotaExceeded, CodeResourceCapExceeded:
		return http.StatusTooManyRequests
	case CodeEscalationNotFound:
		return http.StatusNotFound
	case CodeInsufficientBaselineData:
		return http.StatusUnprocessableEntity
	case CodeAnomalyNotFound:
		return http.StatusNotFound
	case CodeAuditEntryNotFound:
		return http.StatusNotFound
	case CodeAuditIntegrityViolated:
		return http.StatusConflict
	case CodeAccessDenied, CodeInsufficientPrivileges:
		return http.StatusForbidden
	case CodeAccessMFARequired, CodeSessionExpired, CodeTokenInvalid:
		return http.StatusUnauthorized
	case CodeEvaluationTimeout:
		return http.StatusGatewayTimeout
	}

	switch {
	case strings.HasPrefix(code, "E80"), strings.HasPrefix(code, "E81"),
		strings.HasPrefix(code, "E82"), strings.HasPrefix(code, "E83"),
		strings.HasPrefix(code, "E84"), strings.HasPrefix(code, "E85"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "E86"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
