package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrAuthentication means credentials were rejected or a token refresh failed.
	ErrAuthentication = errors.New("authentication failed")
	// ErrUnauthorized marks a 401 from the carrier; the next attempt runs with refreshed credentials.
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrClient       = errors.New("client error")
	ErrTransient    = errors.New("transient error")

	ErrUnmappedDataType           = errors.New("unmapped data type")
	ErrUnknownCarrier             = errors.New("unknown carrier")
	ErrInvalidSignature           = errors.New("invalid webhook signature")
	ErrUnsupportedTransactionType = errors.New("unsupported transaction type")
	ErrNotFound                   = errors.New("not found")
	ErrNotConnected               = errors.New("carrier not connected")
	ErrConnectionFailed           = errors.New("carrier connection failed")
	ErrUnsupportedOperation       = errors.New("operation not supported by carrier")
	ErrNotImplemented             = errors.New("not implemented")
	ErrInvalidConfig              = errors.New("invalid connector config")
)

// fatal errors are surfaced immediately and never retried.
var fatal = []error{
	ErrAuthentication,
	ErrUnmappedDataType,
	ErrUnknownCarrier,
	ErrInvalidSignature,
	ErrUnsupportedTransactionType,
	ErrUnsupportedOperation,
	ErrNotImplemented,
	ErrNotConnected,
	ErrInvalidConfig,
	context.Canceled,
}

// HTTPError is a non-2xx response from a carrier.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("carrier responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("carrier responded %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Unwrap classifies the response so callers can use errors.Is with the sentinels above.
func (e *HTTPError) Unwrap() []error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return []error{ErrClient, ErrUnauthorized}
	case e.StatusCode == http.StatusNotFound:
		return []error{ErrClient, ErrNotFound}
	case e.StatusCode == http.StatusTooManyRequests:
		return []error{ErrRateLimited}
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return []error{ErrClient}
	default:
		return []error{ErrTransient}
	}
}

// OpError annotates an error with the carrier and operation that produced it.
type OpError struct {
	Carrier string
	Op      string
	Err     error
}

func (e *OpError) Error() string { return e.Carrier + " " + e.Op + ": " + e.Err.Error() }
func (e *OpError) Unwrap() error { return e.Err }

// StatusCode returns the carrier HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// Retryable reports whether err may succeed on another attempt.
// 4xx responses are final except 401 (credentials were refreshed) and 429 (the
// transport already waited out Retry-After).
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, f := range fatal {
		if errors.Is(err, f) {
			return false
		}
	}
	code := StatusCode(err)
	switch {
	case code == http.StatusUnauthorized, code == http.StatusTooManyRequests:
		return true
	case code >= 400 && code < 500:
		return false
	}
	return true
}
