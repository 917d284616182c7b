package mexc

import (
	"errors"
	"fmt"
)

// ErrorKind classifies API failures for retry and run-health decisions.
type ErrorKind string

const (
	// KindRateLimited is HTTP 429: the API rate limit was exceeded.
	// Retried with backoff; the run is marked degraded.
	KindRateLimited ErrorKind = "rate_limited"

	// KindWAFLimited is HTTP 403: the request was throttled by the
	// web application firewall. Retried with backoff, tracked
	// separately because it signals the request rate is too high.
	KindWAFLimited ErrorKind = "waf_limited"

	// KindTransient covers 5xx responses, timeouts, connection errors
	// and malformed JSON bodies. Retried with backoff.
	KindTransient ErrorKind = "transient"

	// KindFatal is any other 4xx or a malformed request. Never retried.
	KindFatal ErrorKind = "fatal"
)

// HTTPError is the structured error returned by the client after
// classification. StatusCode is zero for non-HTTP failures (timeouts,
// connection errors).
type HTTPError struct {
	Kind       ErrorKind
	StatusCode int
	Endpoint   string
	Message    string
	Cause      error
}

func (e *HTTPError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s %s: status=%d", e.Kind, e.Endpoint, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s %s", e.Kind, e.Endpoint, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *HTTPError) Retryable() bool {
	return e.Kind != KindFatal
}

// KindOf extracts the classification from err, or KindTransient when
// err is not an *HTTPError (unknown failures are treated as retryable).
func KindOf(err error) ErrorKind {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Kind
	}
	return KindTransient
}

// IsFatal reports whether err is a non-retryable client error. Callers
// use this to distinguish "symbol confirmed unavailable" from
// "data unavailable due to API instability".
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 403:
		return KindWAFLimited
	case status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}
