package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration indicates caller misuse of the engine, such as an
	// invalid sub-batch size or a missing store. It is the only error that
	// aborts a batch operation.
	ErrConfiguration = errors.New("configuration error")

	// ErrStoreUnavailable indicates the remote store could not be reached
	// or failed at the transport level for a whole call.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCancelled indicates work was abandoned because the caller's
	// context was cancelled or timed out.
	ErrCancelled = errors.New("cancelled")

	// ErrUnsupportedType indicates an unknown storage backend.
	ErrUnsupportedType = errors.New("unsupported type")
)

// ValidationError describes a local invariant violation on one field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
