package errors

import (
	"errors"
	"fmt"
)

// Failure taxonomy for the client core. Every server response and local
// store problem is classified into exactly one of these before it crosses
// a package boundary.
var (
	// ErrUnauthorized is a 401 on verification. Expected for expired
	// sessions; callers treat it as "logged out", not as a failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is a 403 (banned account). It must be routed to the
	// termination cascade, never handled locally.
	ErrForbidden = errors.New("forbidden")

	// ErrTransient covers network failures and 5xx responses. Retryable,
	// no local state change.
	ErrTransient = errors.New("transient server error")

	// ErrValidation covers other 4xx responses (bad credentials, bad
	// action parameters). Surfaced inline, no local state change.
	ErrValidation = errors.New("validation error")

	// ErrMalformedStore marks corrupt or half-present local store
	// contents. Self-healed silently; never shown to the user.
	ErrMalformedStore = errors.New("malformed store contents")

	// Sequencer errors
	ErrActionInFlight = errors.New("another action is in flight")
	ErrNoTargets      = errors.New("no target notifications")

	// Session errors
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrStaleResponse    = errors.New("response from a stale session")
	ErrAlreadyConnected = errors.New("channel already connected")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Retryable reports whether err should be offered to the user as
// retryable rather than terminal.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
