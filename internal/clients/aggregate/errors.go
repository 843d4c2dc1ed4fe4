package aggregate

import (
	"errors"
	"fmt"
)

// TransportError covers network failures: unreachable host, timeout, or a
// non-2xx HTTP status. Transport errors are transient and safe to retry.
type TransportError struct {
	StatusCode int // 0 when the request never completed (timeout, refused)
	Endpoint   string
	Err        error
	Message    string
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("aggregate transport error: %v (endpoint: %s)", e.Err, e.Endpoint)
	}
	return fmt.Sprintf("aggregate transport error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError covers structural contract failures: unparseable JSON,
// missing required top-level fields, success=false, or a malformed holdings
// list. These indicate a contract mismatch, not transient unavailability,
// and must not be retried automatically.
type ValidationError struct {
	Endpoint string
	Missing  []string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("aggregate validation error: %s (endpoint: %s)", e.Reason, e.Endpoint)
}

// AuthenticationError means no usable bearer token was available. The
// request is never attempted in this case.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("aggregate authentication error: %s", e.Reason)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuthentication reports whether err is (or wraps) an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
