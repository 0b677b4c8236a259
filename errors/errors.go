// Package errors provides error handling for mailpulse.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrBreakerOpen) {
//	    // short-circuit, upstream is degraded
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Common sentinel errors for use across mailpulse.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrRateLimited indicates the upstream service rejected the call for
	// exceeding its rate limits
	ErrRateLimited = New("rate limited")

	// ErrUnauthorized indicates the upstream rejected our credentials;
	// retrying cannot help until the tenant re-authorizes
	ErrUnauthorized = New("unauthorized")

	// ErrUpstreamUnavailable indicates a transient network or availability
	// failure (timeout, 502/503/504, connection error)
	ErrUpstreamUnavailable = New("upstream unavailable")

	// ErrMailboxGone indicates the mailbox or thread the call targeted no
	// longer exists; the call can never succeed
	ErrMailboxGone = New("mailbox or thread gone")

	// ErrBreakerOpen indicates the circuit breaker is open and the call was
	// rejected before reaching the upstream. Never conflate this with the
	// underlying error that tripped the breaker.
	ErrBreakerOpen = New("temporarily unavailable: circuit breaker open")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsBreakerOpenError checks if an error is or wraps ErrBreakerOpen.
func IsBreakerOpenError(err error) bool {
	return err != nil && Is(err, ErrBreakerOpen)
}
