/*
Package reservation drives the reservation lifecycle state machine.

PURPOSE:
  A reservation is one customer's claim on a quantity of a partner's
  offer. It starts ACTIVE, entered only after the escrow hold on the
  customer's points succeeds, and ends in exactly one of four terminal
  states:

    ACTIVE -> PICKED_UP      partner confirms the pickup code
    ACTIVE -> CANCELLED      customer backs out before the deadline
    ACTIVE -> EXPIRED        deadline passes with no confirmation
    ACTIVE -> FAILED_PICKUP  partner reports a no-show

  Terminal states are immutable. A transition on a non-ACTIVE reservation
  fails with InvalidTransitionError so duplicate client retries cannot
  double-process side effects.

SIDE EFFECTS PER TRANSITION:
  PICKED_UP      capture hold to partner, bump offer claimed counter,
                 fold pickup into user stats, evaluate achievements
  CANCELLED      release hold, record a cancellation for the cooldown guard
  EXPIRED        release hold (no-show counting is a policy flag)
  FAILED_PICKUP  release hold, record a no-show penalty

  The hold resolution and the status flip happen inside one store
  transaction; stat, cooldown and penalty updates follow after commit and
  are idempotent or commutative on their own rows.

SEE ALSO:
  - service.go: orchestration and guard checks
  - ledger:     balances and escrow holds
*/
package reservation

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mealrescue/points-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrReservationNotFound is returned for an unknown reservation or
	// pickup code.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrOfferNotFound is returned when the offer is unknown to both the
	// shadow table and the catalog.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrOfferSoldOut is returned when the requested quantity exceeds what
	// remains unclaimed and unreserved.
	ErrOfferSoldOut = errors.New("offer sold out")

	// ErrOfferExpired is returned when the offer's pickup window has
	// already closed.
	ErrOfferExpired = errors.New("offer pickup window closed")

	// ErrNotOwner is returned when a caller operates on a reservation that
	// is not theirs (customer) or not at their venue (partner).
	ErrNotOwner = errors.New("reservation belongs to another account")

	// ErrInvalidTransition is the sentinel wrapped by
	// InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid reservation state transition")
)

// InvalidTransitionError reports a transition attempted on a reservation
// that is no longer ACTIVE.
type InvalidTransitionError struct {
	ReservationID string
	Status        Status
	Attempted     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("reservation %s is %s, cannot move to %s", e.ReservationID, e.Status, e.Attempted)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// SuspendedError blocks reservation creation while a penalty suspension
// is active.
type SuspendedError struct {
	Until time.Time
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("account suspended until %s", e.Until.Format(time.RFC3339))
}

// CooldownError blocks reservation creation while a cancellation
// cooldown is active.
type CooldownError struct {
	Until time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cancellation cooldown active until %s", e.Until.Format(time.RFC3339))
}

// =============================================================================
// OFFER SHADOW
// =============================================================================

// Offer is the engine's shadow of a catalog offer: the pricing facts it
// needs plus its own claimed counter. The counter lives here, not in the
// catalog, because claiming must be atomic with the pickup transition.
type Offer struct {
	ID             string           `json:"id"`
	PartnerID      ledger.AccountID `json:"partner_id"`
	Title          string           `json:"title"`
	Category       string           `json:"category"`
	PointsPrice    ledger.Points    `json:"points_price"`
	OriginalValue  decimal.Decimal  `json:"original_value"`
	Quantity       int              `json:"quantity"`
	Claimed        int              `json:"claimed"`
	PickupDeadline time.Time        `json:"pickup_deadline"`
}

// =============================================================================
// RESERVATION
// =============================================================================

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusActive       Status = "active"
	StatusPickedUp     Status = "picked_up"
	StatusCancelled    Status = "cancelled"
	StatusExpired      Status = "expired"
	StatusFailedPickup Status = "failed_pickup"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s != StatusActive }

// Reservation is one customer's claim on an offer quantity.
type Reservation struct {
	ID          string           `json:"id"`
	OfferID     string           `json:"offer_id"`
	CustomerID  ledger.AccountID `json:"customer_id"`
	PartnerID   ledger.AccountID `json:"partner_id"`
	Status      Status           `json:"status"`
	Quantity    int              `json:"quantity"`
	PointsSpent ledger.Points    `json:"points_spent"`
	// PickupCode is the secret the customer presents at the counter.
	PickupCode string     `json:"pickup_code,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	PickedUpAt *time.Time `json:"picked_up_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
