/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As; the API layer maps these
  to HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - malformed input, illegal status transitions
  2. Balance errors    - redemption not backed by available hours
  3. Dependency errors - deleting an earning that funds a redemption
  4. Store errors      - persistence failures, concurrent writes

SEE ALSO:
  - service.go: Produces these errors
  - api/handlers.go: Maps them to HTTP responses
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
	// ErrValidation is returned for malformed input or an illegal status
	// transition. No write happens.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a redemption exceeds the
	// user's available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDependentConsumption is returned when deleting an earning record
	// that approved redemptions have drawn from.
	ErrDependentConsumption = errors.New("record has dependent consumption")

	// ErrRecordNotFound is returned when a referenced record doesn't exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrConcurrentModification is returned when a version check detects
	// that a record changed underneath the writer. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPersistence wraps backing-store failures. The transaction is rolled
	// back; no partial allocation is ever visible.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes why an input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Hours
	Requested Hours
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall returns how much the request exceeds the available balance.
func (e *InsufficientBalanceError) Shortfall() Hours {
	return e.Requested.Sub(e.Available)
}

// DependentConsumptionError is returned when an earning record cannot be
// deleted because approved redemptions still draw from it.
type DependentConsumptionError struct {
	RecordID      RecordID
	Consumed      Hours
	RedemptionIDs []RecordID
}

func (e *DependentConsumptionError) Error() string {
	return fmt.Sprintf("record %s has %s consumed hours funding %d redemption(s)",
		e.RecordID, e.Consumed, len(e.RedemptionIDs))
}

func (e *DependentConsumptionError) Unwrap() error { return ErrDependentConsumption }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDependentConsumption)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
