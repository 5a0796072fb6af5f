package storage

import (
	"errors"
	"fmt"
)

// ErrNilUnit is returned when a nil unit is passed to Create.
var ErrNilUnit = errors.New("cannot store nil memory unit")

// NotFoundError is returned when a memory unit doesn't exist in the store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "memory not found"
	}

	return "memory not found: " + e.ID
}

// TransientError wraps a failure of the underlying storage that may succeed
// on retry, such as a lost connection or an open circuit breaker.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
