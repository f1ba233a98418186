/*
escrow.go - Escrow hold manager

PURPOSE:
  Parks points removed from a customer's balance against an active
  reservation until the reservation resolves. A hold's lifecycle is
  strictly OPEN -> {RELEASED | CAPTURED}, terminal, never reversible.

HOLD FLOW:
  openHold     debit customer (reason: reservation-payment), insert hold
  releaseHold  credit customer back (reason: refund)
  captureHold  credit partner (reason: pickup-transfer)

IDEMPOTENCY:
  Release and capture are no-ops on an already-resolved hold: the result
  reports AlreadyResolved instead of failing. Lifecycle transitions are
  retried by clients and schedulers; a duplicate resolution trigger must
  converge, not crash.

NOTE ON ATOMICITY:
  The reservation state machine resolves holds inside the same store
  transaction as the status flip (see reservation.Store). This manager is
  the standalone contract for those routines and the direct invocation
  path used by recovery tooling and tests.
*/
package ledger

import (
	"context"
	"fmt"
)

// Manager opens and resolves escrow holds on top of the ledger store.
type Manager struct {
	Store Store
	Clock Clock
}

func NewManager(store Store, clock Clock) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	return &Manager{Store: store, Clock: clock}
}

// OpenHold debits the customer and opens a hold for the reservation, both
// in one atomic store routine. Returns the hold ID.
// Errors: ErrHoldExists, ErrAccountNotFound, InsufficientBalanceError.
func (m *Manager) OpenHold(ctx context.Context, reservationID string, customerID AccountID, points Points) (string, error) {
	if points <= 0 {
		return "", &ValidationError{Reason: fmt.Sprintf("hold must be for a positive number of points, got %d", points)}
	}
	hold := EscrowHold{
		ID:            NewID("hold"),
		ReservationID: reservationID,
		CustomerID:    customerID,
		Points:        points,
		Status:        HoldOpen,
		CreatedAt:     m.Clock.Now(),
	}
	if err := m.Store.OpenHold(ctx, hold); err != nil {
		return "", err
	}
	return hold.ID, nil
}

// ReleaseHold refunds the held points to the customer. Safe to call on an
// already-resolved hold.
func (m *Manager) ReleaseHold(ctx context.Context, holdID string) (*HoldResult, error) {
	return m.Store.ResolveHold(ctx, holdID, OutcomeRelease, "")
}

// CaptureHold transfers the held points to the partner. Safe to call on an
// already-resolved hold.
func (m *Manager) CaptureHold(ctx context.Context, holdID string, partnerID AccountID) (*HoldResult, error) {
	if partnerID == "" {
		return nil, &ValidationError{Reason: "capture requires a partner account"}
	}
	return m.Store.ResolveHold(ctx, holdID, OutcomeCapture, partnerID)
}

// HoldForReservation looks up the hold backing a reservation.
func (m *Manager) HoldForReservation(ctx context.Context, reservationID string) (*EscrowHold, error) {
	return m.Store.GetHoldByReservation(ctx, reservationID)
}
