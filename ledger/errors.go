/*
errors.go - Centralized error types for the ledger

ERROR CATEGORIES:
  1. Store errors - backend unreachable (absorbed by the Selector)
  2. Business errors - insufficient balance, malformed input
  3. Lookup errors - delete target missing

USAGE:
  Callers inspect errors with errors.Is against the sentinels; the
  structured types carry details for messages and logs.

    if errors.Is(res.Err, ledger.ErrInsufficientBalance) { ... }
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
	// ErrStoreUnavailable is returned by a store that cannot be reached or
	// cannot execute. The Selector treats it as the signal to fall back.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInsufficientBalance is returned when a redemption costs more than
	// the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound is returned when a record id exists in neither collection.
	ErrNotFound = errors.New("record not found")

	// ErrMalformedInput is returned for point values that are not integers
	// and for missing required fields.
	ErrMalformedInput = errors.New("malformed input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Available int64
	Requested int64
	Shortfall int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// RecordNotFoundError names the id that could not be found. Collection is
// empty when both collections were searched.
type RecordNotFoundError struct {
	Collection Collection
	ID         RecordID
}

func (e *RecordNotFoundError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("record %s not found", e.ID)
	}
	return fmt.Sprintf("record %s not found in %s", e.ID, e.Collection)
}

func (e *RecordNotFoundError) Unwrap() error {
	return ErrNotFound
}

// MalformedInputError names the offending field.
type MalformedInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *MalformedInputError) Unwrap() error {
	return ErrMalformedInput
}

// UnavailableError wraps a driver failure from a named backend.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

// Is reports ErrStoreUnavailable so errors.Is works without losing the
// driver error from Unwrap.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an UnavailableError. Nil stays nil.
func Unavailable(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Backend: backend, Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrMalformedInput)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
