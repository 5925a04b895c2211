package domain

import (
	"errors"
	"fmt"
)

// ErrConflict indicates that the store rejected a write because another
// writer changed the owner's items first.
var ErrConflict = errors.New("concurrent modification")

// ValidationError reports a bad or missing field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NotFoundError is returned when an item is absent or owned by someone else.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ID)
}

// TransientStorageError wraps failures of the underlying store. Callers may
// retry with backoff.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// Transient wraps err unless it already carries a domain classification.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	var nf *NotFoundError
	var te *TransientStorageError
	if errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &te) {
		return err
	}
	return &TransientStorageError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsTransient(err error) bool {
	var te *TransientStorageError
	return errors.As(err, &te)
}
