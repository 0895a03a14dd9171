package tm

import (
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout is returned when the identity lock for a segment could
	// not be acquired within the configured wait. The enclosing transaction
	// should be rolled back; the operation is safe to retry.
	ErrLockTimeout = errors.New("timed out waiting for identity lock")

	// ErrNotSupported is returned by operations that are declared on a
	// handle but not implemented for its filter combination.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNoEvent is returned when a save or modify is attempted without an
	// event to stamp onto the affected segment values.
	ErrNoEvent = errors.New("event is required")
)

// ValidationError reports input that was rejected before any storage write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LocaleError reports a query or save locale that is not valid for the
// memory's topology. It is an error, not an empty result.
type LocaleError struct {
	Code   string
	Reason string
}

func (e *LocaleError) Error() string {
	return fmt.Sprintf("locale %q: %s", e.Code, e.Reason)
}

// StorageError wraps any failure from the storage collaborator so callers
// can distinguish it from validation problems and roll back.
//
// The underlying error can be accessed via errors.Unwrap.
type StorageError struct {
	Op    string
	Kind  string
	ID    int64
	cause error
}

func (e *StorageError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("storage %s (%s %d): %v", e.Op, e.Kind, e.ID, e.cause)
	}
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Kind, e.cause)
}

func (e *StorageError) Unwrap() error { return e.cause }

func wrapStorage(op, kind string, id int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrLockTimeout) {
		return err
	}
	return &StorageError{Op: op, Kind: kind, ID: id, cause: err}
}
