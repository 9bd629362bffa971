// Package errors provides error handling for vidget.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, wrapping, hints and details. On top of that it defines the sentinel
// kinds the HTTP layer maps to status codes:
//
//	ErrInvalidRequest    -> 400
//	ErrNotFound          -> 404
//	ErrConflict          -> 409
//	ErrAdmissionRejected -> 429
//
// Wrap a sentinel to add context while preserving its kind:
//
//	return errors.Wrapf(errors.ErrConflict, "job %s is already %s", id, status)
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
	FlattenHints  = crdb.FlattenHints
)

// Sentinel kinds. Check with errors.Is; wrap to add context.
var (
	// ErrNotFound indicates an unknown job or file
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates missing or malformed request fields
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates an operation that the job's current state does not allow
	ErrConflict = New("conflict")

	// ErrAdmissionRejected indicates the concurrency cap or a rate limit was reached
	ErrAdmissionRejected = New("too many requests")

	// ErrServiceUnavailable indicates a required collaborator is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error is or wraps ErrConflict
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsAdmissionRejected checks if an error is or wraps ErrAdmissionRejected
func IsAdmissionRejected(err error) bool {
	return err != nil && Is(err, ErrAdmissionRejected)
}

// IsServiceUnavailableError checks if an error is or wraps ErrServiceUnavailable
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// WrapInvalidRequest marks err as an invalid-request error with context
func WrapInvalidRequest(err error, context string) error {
	return Wrap(Wrap(ErrInvalidRequest, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}

// NewAdmissionRejectedError creates an admission error with a formatted message
func NewAdmissionRejectedError(format string, args ...interface{}) error {
	return Wrap(ErrAdmissionRejected, Newf(format, args...).Error())
}

// Message returns the outermost human-readable message of err without the
// sentinel suffix, suitable for API responses.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range []error{ErrNotFound, ErrInvalidRequest, ErrConflict, ErrAdmissionRejected, ErrServiceUnavailable, ErrTimeout} {
		suffix := ": " + sentinel.Error()
		if Is(err, sentinel) && len(msg) > len(suffix) && msg[len(msg)-len(suffix):] == suffix {
			return msg[:len(msg)-len(suffix)]
		}
	}
	return msg
}
