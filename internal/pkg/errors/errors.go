package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrContract is a sentinel for upstreams breaking their own contract,
	// e.g. malformed JSON from a model told to emit strict JSON.
	ErrContract = errors.New("contract violation")
	// ErrTransient is a sentinel for dependency failures that may heal on retry.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent is a sentinel for dependency failures that will not.
	ErrPermanent = errors.New("permanent failure")
)

// Kind buckets an error for retry and HTTP-mapping decisions.
type Kind string

const (
	KindInvalid      Kind = "invalid_argument"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindTransient    Kind = "transient"
	KindPermanent    Kind = "permanent"
	KindContract     Kind = "contract"
	KindCancelled    Kind = "cancelled"
	KindFatal        Kind = "fatal"
)

// Classify maps err onto a Kind. Unknown errors are fatal so they surface
// loudly instead of being retried forever.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalid
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrContract):
		return KindContract
	default:
		return KindFatal
	}
}

// Retryable reports whether a job hitting err should be re-enqueued.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}

// Invalid wraps a formatted message as an invalid-argument error.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidArgument}, args...)...)
}

// NotFoundf wraps a formatted message as a not-found error.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// Unauthorizedf wraps a formatted message as an unauthorized error.
func Unauthorizedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUnauthorized}, args...)...)
}

// Transientf wraps a formatted message as a transient error.
func Transientf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrTransient}, args...)...)
}

// Permanentf wraps a formatted message as a permanent error.
func Permanentf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrPermanent}, args...)...)
}

// Contractf wraps a formatted message as a contract-violation error.
func Contractf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrContract}, args...)...)
}
