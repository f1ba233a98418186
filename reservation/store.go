/*
store.go - Persistence contract for offers and reservations

Each transition routine flips the reservation status AND resolves the
escrow hold inside one store transaction, locking the reservation row
first. The ledger store's hold semantics (ledger.Store.ResolveHold) apply
unchanged; these routines simply run them in the same transaction as the
status flip so a crash cannot separate the two.
*/
package reservation

import (
	"context"
	"time"

	"github.com/mealrescue/points-engine/ledger"
)

// Store persists offer shadows and reservations and runs the atomic
// lifecycle transitions.
type Store interface {
	// UpsertOffer inserts or refreshes an offer shadow. The claimed
	// counter is preserved on refresh.
	UpsertOffer(ctx context.Context, offer Offer) error

	// GetOffer returns an offer shadow, or ErrOfferNotFound.
	GetOffer(ctx context.Context, offerID string) (*Offer, error)

	// CreateReservationWithHold atomically: locks the offer row, verifies
	// that claimed plus actively reserved quantity leaves room for
	// res.Quantity, debits res.PointsSpent from the customer, inserts the
	// escrow hold and inserts the reservation. All or nothing.
	// Errors: ErrOfferNotFound, ErrOfferSoldOut, ledger.ErrAccountNotFound,
	// ledger.InsufficientBalanceError.
	CreateReservationWithHold(ctx context.Context, res Reservation, hold ledger.EscrowHold) error

	// GetReservation returns a reservation by ID, or ErrReservationNotFound.
	GetReservation(ctx context.Context, id string) (*Reservation, error)

	// GetReservationByCode returns the reservation matching a pickup code,
	// or ErrReservationNotFound.
	GetReservationByCode(ctx context.Context, code string) (*Reservation, error)

	// ListReservations returns a customer's reservations, newest first.
	ListReservations(ctx context.Context, customerID ledger.AccountID) ([]Reservation, error)

	// CompletePickup moves ACTIVE -> PICKED_UP: captures the hold to the
	// partner and increments the offer's claimed counter, all in one
	// transaction. Errors: ErrReservationNotFound, InvalidTransitionError.
	CompletePickup(ctx context.Context, id string, now time.Time) (*Reservation, error)

	// CancelReservation moves ACTIVE -> CANCELLED and releases the hold.
	// Errors: ErrReservationNotFound, InvalidTransitionError.
	CancelReservation(ctx context.Context, id string, now time.Time) (*Reservation, error)

	// FailPickup moves ACTIVE -> FAILED_PICKUP and releases the hold.
	// Errors: ErrReservationNotFound, InvalidTransitionError.
	FailPickup(ctx context.Context, id string, now time.Time) (*Reservation, error)

	// ExpireDue moves every ACTIVE reservation with expires_at <= now to
	// EXPIRED, releasing each hold in the same transaction as its flip.
	// Returns the expired reservations.
	ExpireDue(ctx context.Context, now time.Time) ([]Reservation, error)
}
