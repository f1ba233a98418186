/*
Package penalty tracks missed pickups and the escalating suspensions
they trigger.

PURPOSE:
  A no-show (a reservation the partner reports as unfulfilled) increments
  the user's cumulative count and maps the new count onto an escalation
  table: first offence is a warning, repeats suspend the user from making
  new reservations for progressively longer windows.

CONCURRENCY:
  Two no-shows for the same user can land at the same moment (two expired
  reservations swept together). The store routine increments the count and
  writes suspended_until under an exclusive lock on the penalty row, so
  the count never loses an increment and the suspension always reflects
  the final count.

SEE ALSO:
  - policy.go: the escalation table (configuration, not code)
  - forgiveness.go: partner-initiated reversal
*/
package penalty

import (
	"context"
	"errors"
	"time"

	"github.com/mealrescue/points-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNoPenalty is returned when an operation references a user with no
	// penalty record (or a zero no-show count).
	ErrNoPenalty = errors.New("no penalty on record")

	// ErrRequestPending is returned when a forgiveness request already
	// awaits resolution for the penalty.
	ErrRequestPending = errors.New("forgiveness request already pending")

	// ErrRequestNotFound is returned for an unknown forgiveness request.
	ErrRequestNotFound = errors.New("forgiveness request not found")

	// ErrRequestResolved is returned when resolving a request that is no
	// longer pending.
	ErrRequestResolved = errors.New("forgiveness request already resolved")
)

// =============================================================================
// PENALTY RECORD
// =============================================================================

// Penalty is the per-user record of accumulated no-shows.
type Penalty struct {
	UserID         ledger.AccountID `json:"user_id"`
	NoShowCount    int              `json:"no_show_count"`
	SuspendedUntil *time.Time       `json:"suspended_until,omitempty"`
	LastNoShowAt   *time.Time       `json:"last_no_show_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// =============================================================================
// STORE
// =============================================================================

// Store persists penalty records and forgiveness requests.
type Store interface {
	// GetPenalty returns the user's penalty record, or ErrNoPenalty if the
	// user has never had a no-show.
	GetPenalty(ctx context.Context, userID ledger.AccountID) (*Penalty, error)

	// RecordNoShow increments the no-show count and writes the suspension
	// window derived from esc, atomically under a lock on the penalty row.
	RecordNoShow(ctx context.Context, userID ledger.AccountID, now time.Time, esc Escalation) (*Penalty, error)

	// CreateForgivenessRequest inserts a request; at most one pending
	// request may exist per user. A uniqueness race resolves to
	// ErrRequestPending, never a raw conflict.
	CreateForgivenessRequest(ctx context.Context, fr ForgivenessRequest) error

	// GetForgivenessRequest returns a request by ID, or ErrRequestNotFound.
	GetForgivenessRequest(ctx context.Context, id string) (*ForgivenessRequest, error)

	// ResolveForgiveness settles a pending request. When granted it also
	// decrements the no-show count and clears any active suspension, in
	// the same transaction. ErrRequestResolved if no longer pending.
	ResolveForgiveness(ctx context.Context, id string, granted bool, resolvedBy ledger.AccountID, now time.Time) (*ForgivenessRequest, error)

	// AutoDenyExpiredForgiveness denies every pending request whose
	// response deadline has passed. Returns how many were denied.
	AutoDenyExpiredForgiveness(ctx context.Context, now time.Time) (int, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine records no-shows and answers suspension checks.
type Engine struct {
	Store    Store
	Calendar *ledger.Calendar
	Policy   Escalation
}

func NewEngine(store Store, cal *ledger.Calendar, policy Escalation) *Engine {
	if len(policy) == 0 {
		policy = DefaultEscalation()
	}
	return &Engine{Store: store, Calendar: cal, Policy: policy}
}

// RecordNoShow increments the user's count and applies the escalation
// table. Returns the updated record, including the new suspension window
// (nil for a first-offence warning).
func (e *Engine) RecordNoShow(ctx context.Context, userID ledger.AccountID) (*Penalty, error) {
	return e.Store.RecordNoShow(ctx, userID, e.Calendar.Now(), e.Policy)
}

// IsSuspended reports whether the user is currently blocked from making
// reservations, and until when. Pure read; no locks.
func (e *Engine) IsSuspended(ctx context.Context, userID ledger.AccountID) (bool, *time.Time, error) {
	p, err := e.Store.GetPenalty(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoPenalty) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if p.SuspendedUntil == nil || !p.SuspendedUntil.After(e.Calendar.Now()) {
		return false, nil, nil
	}
	return true, p.SuspendedUntil, nil
}

// Get returns the user's penalty record, or ErrNoPenalty.
func (e *Engine) Get(ctx context.Context, userID ledger.AccountID) (*Penalty, error) {
	return e.Store.GetPenalty(ctx, userID)
}
