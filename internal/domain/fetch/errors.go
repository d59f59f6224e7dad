// Package fetch provides the domain types for safe outbound page fetching:
// URL validation, the SSRF address blocklist, and the shared error taxonomy.
package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class. Codes are stable strings: they appear in
// tool results and logs, and clients branch on them.
type Code string

const (
	// CodeInvalidURL is returned when the candidate URL fails validation.
	CodeInvalidURL Code = "invalid_url"

	// CodeBlockedHost is returned when the host or one of its resolved
	// addresses falls in the SSRF blocklist, or a policy denies it.
	CodeBlockedHost Code = "blocked_host"

	// CodeBlockedRedirect is returned when a redirect hop fails validation.
	CodeBlockedRedirect Code = "blocked_redirect"

	// CodeResponseTooLarge is returned when the body exceeds the size cap.
	CodeResponseTooLarge Code = "response_too_large"

	// CodeUnsupportedMediaType is returned for content types outside the
	// accepted set.
	CodeUnsupportedMediaType Code = "unsupported_media_type"

	// CodeFetchTimeout is returned when the outbound fetch exceeds its
	// wall-clock budget.
	CodeFetchTimeout Code = "fetch_timeout"

	// CodeFetchNetwork is returned for DNS and socket level failures.
	CodeFetchNetwork Code = "fetch_network"

	// CodeInvalidToken is returned when credentials are missing or rejected.
	CodeInvalidToken Code = "invalid_token"

	// CodeUnauthorized is returned when the host/origin policy denies the
	// request.
	CodeUnauthorized Code = "unauthorized"

	// CodeRateLimited is returned when the per-key window is exhausted.
	CodeRateLimited Code = "rate_limited"

	// CodeServerBusy is returned when session capacity cannot be reclaimed.
	CodeServerBusy Code = "server_busy"

	// CodeQueueFull is returned when the transform queue is at capacity.
	CodeQueueFull Code = "queue_full"

	// CodeWorkerTimeout is returned when a transform exceeds its task budget.
	CodeWorkerTimeout Code = "worker_timeout"

	// CodeWorkerBroken is returned when a worker faults mid-task.
	CodeWorkerBroken Code = "worker_broken"

	// CodeCanceled is returned when the caller abandons a queued or
	// dispatched transform.
	CodeCanceled Code = "canceled"

	// CodeParseError is returned for unreadable or malformed JSON bodies.
	CodeParseError Code = "parse_error"

	// CodeProtocolVersion is returned for unsupported MCP protocol versions.
	CodeProtocolVersion Code = "protocol_version_unsupported"

	// CodeSessionNotFound is returned when a session id is unknown or bound
	// to a different credential.
	CodeSessionNotFound Code = "session_not_found"

	// CodeInternal is the fallback for unexpected failures.
	CodeInternal Code = "internal"
)

// Error is the taxonomy error carried across the fetch and transform
// pipeline. Message is safe to show to clients; Err retains the cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a taxonomy error with a client-safe message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds a taxonomy error around a cause.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the taxonomy code from err, or CodeInternal when err does
// not carry one.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// MessageOf extracts the client-safe message from err. Untyped errors map to
// a generic message so internals never leak to clients.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "Internal Server Error"
}

// HTTPStatus maps a taxonomy code to the HTTP status used at the edge.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidURL, CodeParseError, CodeProtocolVersion, CodeCanceled:
		return http.StatusBadRequest
	case CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeBlockedHost, CodeBlockedRedirect, CodeUnauthorized:
		return http.StatusForbidden
	case CodeSessionNotFound:
		return http.StatusNotFound
	case CodeResponseTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServerBusy, CodeQueueFull:
		return http.StatusServiceUnavailable
	case CodeFetchTimeout, CodeWorkerTimeout:
		return http.StatusGatewayTimeout
	case CodeFetchNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
