// Package errors provides error handling for stitchd.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
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
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
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
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors forming the stitchd error taxonomy.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates an unknown provider or missing resource
	ErrNotFound = New("not found")

	// ErrUnauthorized indicates a missing, invalid, or expired token
	ErrUnauthorized = New("unauthorized")

	// ErrValidation indicates malformed filters or request fields
	ErrValidation = New("validation error")

	// ErrStorage indicates pool exhaustion or a connection failure.
	// Surfaced to the caller, never silently retried.
	ErrStorage = New("storage error")

	// ErrAlreadyInitialized indicates bootstrap was attempted while a user exists
	ErrAlreadyInitialized = New("already initialized")

	// ErrNotSupported indicates stitch was invoked on a provider that
	// does not implement it
	ErrNotSupported = New("not supported")
)

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsUnauthorized checks if an error is or wraps ErrUnauthorized
func IsUnauthorized(err error) bool {
	return err != nil && Is(err, ErrUnauthorized)
}

// IsValidation checks if an error is or wraps ErrValidation
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsStorage checks if an error is or wraps ErrStorage
func IsStorage(err error) bool {
	return err != nil && Is(err, ErrStorage)
}

// NewNotFound creates a not-found error with a formatted message
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidation creates a validation error with a formatted message
func NewValidation(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// WrapStorage wraps a database error as a storage error with context
func WrapStorage(err error, context string) error {
	if err == nil {
		return nil
	}
	return Wrap(Wrap(ErrStorage, err.Error()), context)
}
