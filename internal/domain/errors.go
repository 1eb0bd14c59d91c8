package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorKind classifies an error for the resilience layer and the API surface.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindConfig            ErrorKind = "config"
	KindUpstreamTransient ErrorKind = "upstream_transient"
	KindUpstreamTerminal  ErrorKind = "upstream_terminal"
	KindCircuitOpen       ErrorKind = "circuit_open"
	KindTimeout           ErrorKind = "timeout"
	KindNotFound          ErrorKind = "not_found"
	KindPartialFailure    ErrorKind = "partial_failure"
	KindInternal          ErrorKind = "internal"
)

// Error carries a kind alongside the message and optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error wrapping an optional cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// HTTPError is a non-2xx response from a remote dependency. RetryAfter is
// populated from the Retry-After header when the upstream supplied one.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// Kind classifies the status: 429 and 5xx are transient, everything else in
// the 4xx range is terminal.
func (e *HTTPError) Kind() ErrorKind {
	if e.Status == http.StatusTooManyRequests || e.Status >= 500 {
		return KindUpstreamTransient
	}
	if e.Status == http.StatusNotFound {
		return KindNotFound
	}
	return KindUpstreamTerminal
}

// KindOf extracts the classification from an error chain. Unclassified errors
// map onto a best-effort kind: context deadlines become Timeout, network
// errors become UpstreamTransient, everything else Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindUpstreamTransient
	}
	return KindInternal
}

// IsRetryable reports whether the resilience layer should retry the error.
// Transient upstream failures and timeouts retry; terminal upstream errors,
// validation problems, and open circuits do not.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindUpstreamTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the error should fail an entire batch rather
// than a single item, e.g. an open circuit with no fallback configured.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindCircuitOpen, KindUpstreamTerminal, KindConfig:
		return true
	default:
		return false
	}
}
