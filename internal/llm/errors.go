package llm

import (
	"fmt"
)

// ErrorKind classifies invoker failures.
type ErrorKind string

const (
	// KindTransport means every attempt failed with a retryable error.
	KindTransport ErrorKind = "transport"
	// KindStatus means the provider answered with a non-retryable status.
	KindStatus ErrorKind = "status"
	// KindUnavailable means the circuit breaker refused the call.
	KindUnavailable ErrorKind = "unavailable"
	// KindCanceled means the caller's context ended first.
	KindCanceled ErrorKind = "canceled"
)

// InvokerError reports a failed analysis call. It never carries the request
// or response body.
type InvokerError struct {
	Kind       ErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *InvokerError) Error() string {
	msg := fmt.Sprintf("analysis provider %s error after %d attempt(s)", e.Kind, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvokerError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the status code warrants another attempt.
func Retryable(status int) bool {
	return status == 429 || status >= 500
}
