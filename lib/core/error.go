package core

import "errors"

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

// Sentinel error kinds of the coordination core. GenericError wraps one of
// these (or any other error) together with free-form detail text.
var (
	// ErrCancelled is reported when an execution context was cancelled.
	ErrCancelled = errors.New("operation cancelled")

	// ErrShuttingDown is reported when admission control rejected new work.
	ErrShuttingDown = errors.New("server is shutting down")

	// ErrContention is reported when a transaction could not acquire its
	// full lock set within the retry budget. It is retryable.
	ErrContention = errors.New("lock contention budget exhausted")

	// ErrBadKeyIndex is reported for a malformed key-span declaration.
	ErrBadKeyIndex = errors.New("malformed key index descriptor")

	// ErrStartupOnly is reported when a load is attempted outside startup.
	ErrStartupOnly = errors.New("loading is only allowed during startup")
)

// IsContention reports whether err is the retryable contention error.
func IsContention(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsCancelled reports whether err carries the cancellation kind.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// --------------------------------------------------------------------------
// GenericError
// --------------------------------------------------------------------------

// GenericError is an error kind plus optional detail text. The zero value
// means "no error"; it is comparable so it can be carried by AggregateValue.
type GenericError struct {
	err     error
	details string
}

// NewGenericError wraps an error kind without detail.
func NewGenericError(err error) GenericError {
	return GenericError{err: err}
}

// NewGenericErrorf wraps an error kind with detail text.
func NewGenericErrorf(err error, details string) GenericError {
	return GenericError{err: err, details: details}
}

// Cause returns the wrapped error kind, nil when no error is set.
func (e GenericError) Cause() error {
	return e.err
}

// Details returns the free-form detail text.
func (e GenericError) Details() string {
	return e.details
}

// HasError reports whether an error is set.
func (e GenericError) HasError() bool {
	return e.err != nil
}

// Error formats the error as "<kind>: <details>". It satisfies the error
// interface; use HasError before calling it on possibly-zero values.
func (e GenericError) Error() string {
	if e.err == nil {
		return ""
	}
	if e.details == "" {
		return e.err.Error()
	}
	return e.err.Error() + ": " + e.details
}

// Unwrap exposes the error kind to errors.Is and errors.As.
func (e GenericError) Unwrap() error {
	return e.err
}
