package database

import (
	"errors"
	"fmt"
)

// ErrEntityNotFound is returned when an operation requires an entity that
// does not exist, such as attaching an observation or relation to a
// missing endpoint. Plain lookups of a missing id return an empty result
// instead.
var ErrEntityNotFound = errors.New("entity not found")

// ValidationError reports input that was rejected before any storage
// access: empty required fields, an out-of-range confidence, or an
// unknown relation direction.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StorageError wraps a driver or transaction failure, including retries
// exhausted on a busy database. Op names the graph operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErrorf(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
