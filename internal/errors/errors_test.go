package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestBillingErrorUnwrapAndIs(t *testing.T) {
	base := fmt.Errorf("lookup subscription: %w", ErrNotFound)
	err := NewBillingError("update_quantity", "org-1", base)

	if got, want := err.Error(), "update_quantity failed for org org-1: lookup subscription: not found"; got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected BillingError to match ErrNotFound")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatal("did not expect BillingError to match ErrConflict")
	}

	var be *BillingError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &be) || be.OrgID != "org-1" {
		t.Fatalf("expected errors.As to find BillingError, got %#v", be)
	}
}

func TestBillingErrorWithoutOrg(t *testing.T) {
	err := NewBillingError("sweep", "", ErrNotConfigured)
	if got, want := err.Error(), "sweep failed: not configured"; got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}
	if err.Is(nil) {
		t.Fatal("Is(nil) should be false")
	}
}

func TestHelpers(t *testing.T) {
	if !IsNotFound(fmt.Errorf("x: %w", ErrNotFound)) {
		t.Fatal("IsNotFound")
	}
	if !IsConflict(fmt.Errorf("x: %w", ErrConflict)) {
		t.Fatal("IsConflict")
	}
	err := Invalidf("users must be >= %d", 0)
	if !IsInvalidInput(err) {
		t.Fatal("Invalidf should wrap ErrInvalidInput")
	}
	if got, want := err.Error(), "invalid input: users must be >= 0"; got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}
}
