package errors

import (
	"errors"
	"fmt"
)

// Base error types
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotConfigured = errors.New("not configured")
	ErrUnauthorized  = errors.New("unauthorized")
)

// BillingError is a structured error for billing and reconciliation
// operations.
type BillingError struct {
	Op    string // Operation that failed (e.g., "get_subscription", "update_quantity")
	OrgID string // Organization the operation ran for
	Err   error  // Underlying error
}

func (e *BillingError) Error() string {
	if e.OrgID != "" {
		return fmt.Sprintf("%s failed for org %s: %v", e.Op, e.OrgID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *BillingError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *BillingError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Err, target)
}

// NewBillingError creates a new BillingError
func NewBillingError(op, orgID string, err error) *BillingError {
	return &BillingError{Op: op, OrgID: orgID, Err: err}
}

// Helper functions

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidInput reports whether err wraps ErrInvalidInput.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// Invalidf returns an ErrInvalidInput wrapped with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
