// Package resilience provides the retry machinery and the error taxonomy
// shared by the source adapters.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps a failure that is safe to retry: network timeouts,
// rate limiting, 5xx responses from a capability service.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// BlockedError marks a source that actively refuses the fetch (bot wall,
// 403). Never retried; the source is recorded failed and the job continues.
type BlockedError struct {
	Origin string
	Err    error
}

func (e *BlockedError) Error() string {
	return "source blocked: " + e.Origin + ": " + e.Err.Error()
}

func (e *BlockedError) Unwrap() error { return e.Err }

// AuthError marks a source that requires credentials the job does not have.
// Never retried.
type AuthError struct {
	Origin string
	Err    error
}

func (e *AuthError) Error() string {
	return "source auth required: " + e.Origin + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsTransient reports whether the error (or any error in its chain) is safe
// to retry. Blocked and auth failures are explicitly non-transient even when
// a TransientError appears deeper in the chain.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var be *BlockedError
	var ae *AuthError
	if errors.As(err, &be) || errors.As(err, &ae) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for errors wrapped by HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether the status code indicates a
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
