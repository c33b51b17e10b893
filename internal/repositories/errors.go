package repositories

import (
	"errors"
	"fmt"
)

// ErrInvalidEntry is returned by Enqueue for an empty endpoint, an unknown
// method or a payload that cannot be encoded as JSON.
var ErrInvalidEntry = errors.New("invalid queue entry")

// ErrLockLost is returned by Lease.Extend when the lease expired and was
// claimed by another holder.
var ErrLockLost = errors.New("sync lock lost")

// PersistenceError means the store could not durably accept a write.
// Callers must treat the mutation as not saved.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
