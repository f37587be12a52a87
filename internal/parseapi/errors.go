package parseapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class tags a failure with its retry semantics. Everything above the
// executor only ever sees a final, already-classified error.
type Class string

const (
	// ClassTransient covers network failures, request timeouts, conflicts,
	// rate limits and server-side errors. Consumed by retries inside the
	// executor; visible above it only when retries exhaust.
	ClassTransient Class = "TRANSIENT"
	// ClassFatalRequest covers malformed, unauthenticated, forbidden,
	// not-found and unprocessable requests. Never retried.
	ClassFatalRequest Class = "FATAL_REQUEST"
	// ClassTimeout marks poll-ceiling exhaustion. Distinct from other fatal
	// classes so callers can decide to resubmit a fresh job later.
	ClassTimeout Class = "TIMEOUT"
	// ClassCanceled marks caller-initiated cancellation.
	ClassCanceled Class = "CANCELED"
)

// APIError is the classified failure for one external operation. Status is
// the HTTP status code when one was received, zero otherwise.
type APIError struct {
	Op     string
	Status int
	Class  Class
	Body   string
	Cause  error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d (%s): %s", e.Op, e.Status, e.Class, e.Body)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Class, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Op, e.Class, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the executor may attempt the operation again.
func (e *APIError) Retryable() bool {
	return e.Class == ClassTransient
}

// classifyStatus maps an HTTP status code to its class. Request timeout
// (408), conflict (409), rate limit (429) and all 5xx are transient; every
// other non-2xx code fails on first occurrence.
func classifyStatus(status int) Class {
	switch {
	case status == 408, status == 409, status == 429:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	default:
		return ClassFatalRequest
	}
}

// newHTTPError builds the classified error for a non-2xx response. The body
// is truncated so log lines and DB columns stay bounded.
func newHTTPError(op string, status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 700 {
		msg = msg[:700]
	}
	return &APIError{Op: op, Status: status, Class: classifyStatus(status), Body: msg}
}

// newTransportError classifies a failure that produced no HTTP response.
// Cancellation of the caller's context is fatal; everything else at the
// transport layer counts as a connection failure and is retryable.
func newTransportError(ctx context.Context, op string, err error) *APIError {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &APIError{Op: op, Class: ClassCanceled, Cause: err}
	}
	return &APIError{Op: op, Class: ClassTransient, Cause: err}
}

// newDecodeError marks an undecodable success response. Retrying a call the
// server already answered 2xx will not produce a different payload.
func newDecodeError(op string, err error) *APIError {
	return &APIError{Op: op, Status: 200, Class: ClassFatalRequest, Body: "undecodable response", Cause: err}
}

// ClassOf extracts the class from any error. Unclassified errors map to
// transient only when they look like network failures.
func ClassOf(err error) Class {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return ClassTransient
	}
	return ClassFatalRequest
}

// IsCanceled reports whether err carries the cancellation class.
func IsCanceled(err error) bool {
	return ClassOf(err) == ClassCanceled
}

// IsTimeout reports whether err carries the poll-ceiling timeout class.
func IsTimeout(err error) bool {
	return ClassOf(err) == ClassTimeout
}
