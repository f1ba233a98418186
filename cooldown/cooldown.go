/*
Package cooldown rate-limits reservation cancellations.

PURPOSE:
  A user who cancels too many reservations in a short window is blocked
  from creating new ones until the window drains. The block derives purely
  from the recorded cancellation timestamps, so there is no block row to
  keep in sync; the guard recomputes state on every check.

LIFT:
  A blocked user may pay points to clear the cooldown early, at most once
  per local calendar day. The lift is recorded against the day it was
  bought so "once per day" survives restarts and concurrent attempts: the
  (user, day) row is unique, and the store converts the second inserter's
  conflict into an already-lifted result before any points move.

SEE ALSO:
  - ledger.Calendar: local-day arithmetic for the daily lift limit
*/
package cooldown

import (
	"context"
	"errors"
	"time"

	"github.com/mealrescue/points-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotBlocked is returned when lifting a cooldown that is not active.
	ErrNotBlocked = errors.New("no active cooldown")

	// ErrLiftUsedToday is returned when the user already bought a lift
	// during the current local calendar day.
	ErrLiftUsedToday = errors.New("cooldown lift already used today")
)

// =============================================================================
// TYPES
// =============================================================================

// Status describes the user's current cooldown state.
type Status struct {
	Blocked       bool          `json:"blocked"`
	BlockedUntil  *time.Time    `json:"blocked_until,omitempty"`
	RecentCancels int           `json:"recent_cancels"`
	Window        time.Duration `json:"-"`
	LiftAvailable bool          `json:"lift_available"`
	LiftCost      ledger.Points `json:"lift_cost"`
}

// Lift records one paid early-clear of a cooldown.
type Lift struct {
	UserID   ledger.AccountID `json:"user_id"`
	Day      string           `json:"day"`
	LiftedAt time.Time        `json:"lifted_at"`
	Cost     ledger.Points    `json:"cost"`
}

// =============================================================================
// STORE
// =============================================================================

// Store persists cancellation events and daily lift records.
type Store interface {
	// InsertCancellation appends one cancellation event for the user.
	InsertCancellation(ctx context.Context, userID ledger.AccountID, at time.Time) error

	// CancellationsSince returns the timestamps of the user's
	// cancellations at or after since, oldest first.
	CancellationsSince(ctx context.Context, userID ledger.AccountID, since time.Time) ([]time.Time, error)

	// GetLift returns the user's lift for the given local day, or nil.
	GetLift(ctx context.Context, userID ledger.AccountID, day string) (*Lift, error)

	// LiftCooldown atomically debits cost from the user's balance and
	// inserts the (user, day) lift row. If the row already exists the
	// call is a no-op and already is true; no points move.
	// Errors: ledger.ErrAccountNotFound, ledger.InsufficientBalanceError.
	LiftCooldown(ctx context.Context, userID ledger.AccountID, day string, at time.Time, cost ledger.Points) (lift *Lift, already bool, err error)
}

// =============================================================================
// GUARD
// =============================================================================

// Guard computes cooldown state and handles paid lifts.
type Guard struct {
	Store    Store
	Calendar *ledger.Calendar

	// Threshold cancellations within Window trigger a block lasting
	// BlockFor measured from the oldest cancellation in the window.
	Window    time.Duration
	Threshold int
	BlockFor  time.Duration
	LiftCost  ledger.Points
}

func NewGuard(store Store, cal *ledger.Calendar) *Guard {
	return &Guard{
		Store:     store,
		Calendar:  cal,
		Window:    30 * time.Minute,
		Threshold: 3,
		BlockFor:  45 * time.Minute,
		LiftCost:  50,
	}
}

// RecordCancellation appends a cancellation event. The block, if any,
// materializes on the next Status call.
func (g *Guard) RecordCancellation(ctx context.Context, userID ledger.AccountID) error {
	return g.Store.InsertCancellation(ctx, userID, g.Calendar.Now())
}

// Status recomputes the user's cooldown state from recorded events.
func (g *Guard) Status(ctx context.Context, userID ledger.AccountID) (*Status, error) {
	now := g.Calendar.Now()
	cancels, err := g.Store.CancellationsSince(ctx, userID, now.Add(-g.Window))
	if err != nil {
		return nil, err
	}
	st := &Status{
		RecentCancels: len(cancels),
		Window:        g.Window,
		LiftCost:      g.LiftCost,
	}
	if len(cancels) >= g.Threshold {
		// The block runs from the oldest triggering cancellation, so it
		// drains as old events age out rather than resetting on each check.
		oldest := cancels[len(cancels)-g.Threshold]
		until := oldest.Add(g.BlockFor)
		if until.After(now) {
			// A lift bought after the triggering cancellations clears them.
			// The block window is shorter than a day, so a lift covering it
			// was bought either today or yesterday; check both day keys, or
			// a lift paid just before local midnight would be forgotten
			// once the day rolls over.
			todayLift, err := g.Store.GetLift(ctx, userID, g.Calendar.LocalDay(now))
			if err != nil {
				return nil, err
			}
			lift := todayLift
			if lift == nil {
				lift, err = g.Store.GetLift(ctx, userID, g.Calendar.LocalDay(now.AddDate(0, 0, -1)))
				if err != nil {
					return nil, err
				}
			}
			if lift != nil && !lift.LiftedAt.Before(oldest) {
				return st, nil
			}
			st.Blocked = true
			st.BlockedUntil = &until
			st.LiftAvailable = todayLift == nil
		}
	}
	return st, nil
}

// LiftWithPoints clears an active cooldown by spending points. Allowed at
// most once per local calendar day; the debit and the daily-uniqueness
// claim happen in one store transaction.
// Errors: ErrNotBlocked, ErrLiftUsedToday, ledger.InsufficientBalanceError.
func (g *Guard) LiftWithPoints(ctx context.Context, userID ledger.AccountID) (*Lift, error) {
	st, err := g.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !st.Blocked {
		return nil, ErrNotBlocked
	}
	now := g.Calendar.Now()
	lift, already, err := g.Store.LiftCooldown(ctx, userID, g.Calendar.LocalDay(now), now, g.LiftCost)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, ErrLiftUsedToday
	}
	return lift, nil
}
