/*
errors.go - Centralized error types for the invoice engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and the billing service return these; the API maps them to
  HTTP status codes.

ERROR CATEGORIES:
  1. Validation - malformed input, rejected before any write
  2. Conflict   - the operation would corrupt financial history
  3. Not found  - unknown id, or a soft-deleted row where a live one was needed
  4. Storage    - transaction/connection failure, never retried here

USAGE:
  if errors.Is(err, ledger.ErrConflict) {
      // e.g. deleting a sale behind a paid invoice
  }

SEE ALSO:
  - store.go: Stores return NotFoundError and StorageError
  - billing/service.go: Returns ValidationError and ConflictError
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input. Nothing was written.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when an operation would violate a financial
	// integrity rule. Nothing was written.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a referenced row is missing or soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrStorage is returned when the store fails. The transaction was rolled back.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError explains which entity blocks the operation.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StorageError wraps a driver failure with the store operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func Conflict(entity, id, reason string) error {
	return &ConflictError{Entity: entity, ID: id, Reason: reason}
}

func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the request and resubmit.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
