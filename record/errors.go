package record

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for an identifier.
	ErrNotFound = errors.New("lattice: record not found")

	// ErrUnknownColumn is returned when a filter or ordering clause
	// references a column the spec never declared.
	ErrUnknownColumn = errors.New("lattice: unknown column")

	// ErrUnsupportedType is returned when a value cannot be converted
	// to the store's native representation.
	ErrUnsupportedType = errors.New("lattice: unsupported value type")

	// ErrConflict is returned when a transactional write loses to a
	// concurrent writer. Callers decide whether and when to retry.
	ErrConflict = errors.New("lattice: transaction conflict")

	// ErrBadPayload is returned when a stored payload fails to decode
	// into its declared record type.
	ErrBadPayload = errors.New("lattice: stored payload failed to decode")

	// ErrInvalidSpec is returned when an entity spec is constructed
	// with missing or malformed parts.
	ErrInvalidSpec = errors.New("lattice: invalid entity spec")
)

// Error wraps a store-level failure with the operation that produced it.
// The original cause is available through errors.Unwrap.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("lattice: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
