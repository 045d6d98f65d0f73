package constants

import "errors"

// Errors returned by repositories and drivers. Callers match them with
// errors.Is; implementations wrap them with context using %w.
var (
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnexpected      = errors.New("unexpected internal state")
	ErrAlreadyExists   = errors.New("entity already exists")
)

var (
	// ErrEmptyUpdate is returned before any write is issued when an update
	// payload carries no field to change.
	ErrEmptyUpdate = errors.New("update has no fields")

	// ErrTransient marks backend errors that may succeed when retried,
	// such as throttling or optimistic transaction conflicts.
	ErrTransient = errors.New("transient backend error")
)

// IsTransient reports whether err is marked as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }
