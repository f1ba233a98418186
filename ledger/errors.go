/*
errors.go - Error types for the ledger and escrow layer

PURPOSE:
  Sentinel errors for callers to match with errors.Is(), plus structured
  errors carrying enough context to build an actionable user message
  ("you need 15 more points").

ERROR PHILOSOPHY:
  Business-rule violations are typed errors recovered by the API layer.
  Benign idempotent outcomes (resolving an already-resolved hold) are NOT
  errors — they are results (see HoldResult.AlreadyResolved).
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
	// ErrAccountNotFound is returned when the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account with a taken ID.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientBalance is returned when a debit would drive a balance
	// below zero. The balance is left untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrHoldNotFound is returned when the referenced escrow hold does not exist.
	ErrHoldNotFound = errors.New("escrow hold not found")

	// ErrHoldExists is returned when opening a second hold for a reservation
	// that already has one.
	ErrHoldExists = errors.New("reservation already has an escrow hold")

	// ErrZeroDelta is returned for transactions that would not change a balance.
	ErrZeroDelta = errors.New("transaction delta must be non-zero")

	// ErrInvalidInput is the sentinel under every ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports exactly how short the account is, so the
// caller can render "you need N more points".
type InsufficientBalanceError struct {
	AccountID AccountID
	Balance   Points
	Requested Points
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: have %d, need %d", e.AccountID, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is the number of points missing to cover the request.
func (e *InsufficientBalanceError) Shortfall() Points { return e.Requested - e.Balance }

// ValidationError reports a request rejected before any business rule
// runs (negative quantity, non-positive hold amount). The API layer maps
// it to a bad-request response rather than a server error.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }
