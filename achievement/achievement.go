/*
Package achievement unlocks and pays out milestone badges.

PURPOSE:
  Pickups, referrals and streaks accumulate per-user statistics. After
  every stat change the engine evaluates the full catalog against the
  stats and inserts an unlock row for each newly met definition. Unlocks
  carry a point reward that the user claims explicitly; claiming is
  idempotent and the reward is credited at most once.

EVALUATION MODEL:
  Stats are the single source of truth; unlocks are derived from them.
  Evaluation is therefore safe to rerun at any time: the (user, badge)
  unlock row is unique, and a concurrent double-evaluation simply loses
  the insert race and moves on.

SEE ALSO:
  - catalog.go: the built-in badge definitions
  - engine.go:  evaluation, stat recording and claims
*/
package achievement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mealrescue/points-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDefinitionNotFound is returned for an unknown badge ID.
	ErrDefinitionNotFound = errors.New("achievement definition not found")

	// ErrNotUnlocked is returned when claiming a badge the user has not
	// unlocked.
	ErrNotUnlocked = errors.New("achievement not unlocked")
)

// =============================================================================
// DEFINITIONS
// =============================================================================

// RequirementKind selects which user statistic a definition measures.
type RequirementKind string

const (
	// ReqReservationCount counts completed pickups.
	ReqReservationCount RequirementKind = "reservation_count"
	// ReqMoneySaved sums the original value of picked-up offers.
	ReqMoneySaved RequirementKind = "money_saved"
	// ReqCategoryCount counts distinct offer categories picked up.
	ReqCategoryCount RequirementKind = "category_count"
	// ReqUniquePartners counts distinct partners picked up from.
	ReqUniquePartners RequirementKind = "unique_partners"
	// ReqPartnerLoyalty is the max pickups from any single partner.
	ReqPartnerLoyalty RequirementKind = "partner_loyalty"
	// ReqStreak is the longest run of consecutive local days with a pickup.
	ReqStreak RequirementKind = "streak"
	// ReqReferrals counts referred users who completed a first pickup.
	ReqReferrals RequirementKind = "referrals"
)

// Definition is one badge: a requirement and the points it pays.
type Definition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Kind        RequirementKind `json:"kind"`
	// Threshold is the stat value that unlocks the badge. For money_saved
	// it is whole currency units; everything else is a plain count.
	Threshold int64         `json:"threshold"`
	Reward    ledger.Points `json:"reward"`
}

// =============================================================================
// USER STATE
// =============================================================================

// Stats is the per-user counter set that definitions evaluate against.
type Stats struct {
	UserID          ledger.AccountID `json:"user_id"`
	PickupCount     int64            `json:"pickup_count"`
	MoneySaved      decimal.Decimal  `json:"money_saved"`
	CategoryCount   int64            `json:"category_count"`
	UniquePartners  int64            `json:"unique_partners"`
	MaxPerPartner   int64            `json:"max_per_partner"`
	CurrentStreak   int64            `json:"current_streak"`
	BestStreak      int64            `json:"best_streak"`
	LastPickupDay   string           `json:"last_pickup_day,omitempty"`
	ReferralCount   int64            `json:"referral_count"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Value returns the stat the given requirement kind measures. Money saved
// is truncated to whole units for threshold comparison.
func (s *Stats) Value(kind RequirementKind) int64 {
	switch kind {
	case ReqReservationCount:
		return s.PickupCount
	case ReqMoneySaved:
		return s.MoneySaved.IntPart()
	case ReqCategoryCount:
		return s.CategoryCount
	case ReqUniquePartners:
		return s.UniquePartners
	case ReqPartnerLoyalty:
		return s.MaxPerPartner
	case ReqStreak:
		return s.BestStreak
	case ReqReferrals:
		return s.ReferralCount
	default:
		return 0
	}
}

// Unlock is one earned badge, claimed or not.
type Unlock struct {
	UserID     ledger.AccountID `json:"user_id"`
	BadgeID    string           `json:"badge_id"`
	UnlockedAt time.Time        `json:"unlocked_at"`
	ClaimedAt  *time.Time       `json:"claimed_at,omitempty"`
}

// Claimed reports whether the reward has been credited.
func (u *Unlock) Claimed() bool { return u.ClaimedAt != nil }

// ClaimResult reports the outcome of a reward claim.
type ClaimResult struct {
	AlreadyClaimed bool          `json:"already_claimed"`
	Reward         ledger.Points `json:"reward"`
	NewBalance     ledger.Points `json:"new_balance"`
}

// PickupEvent carries the facts of one completed pickup into the stats.
type PickupEvent struct {
	PartnerID ledger.AccountID
	Category  string
	// Value is the original price of the picked-up offer, used for the
	// money-saved statistic.
	Value decimal.Decimal
}

// =============================================================================
// STORE
// =============================================================================

// Store persists definitions, per-user stats and unlocks.
type Store interface {
	// SeedDefinitions upserts the catalog. Called once at startup.
	SeedDefinitions(ctx context.Context, defs []Definition) error

	// ListDefinitions returns the full catalog.
	ListDefinitions(ctx context.Context) ([]Definition, error)

	// GetDefinition returns one definition, or ErrDefinitionNotFound.
	GetDefinition(ctx context.Context, id string) (*Definition, error)

	// GetStats returns the user's stats, zero-valued if never written.
	GetStats(ctx context.Context, userID ledger.AccountID) (*Stats, error)

	// UpdateStatsOnPickup folds one pickup into the user's stats under a
	// lock on the stats row. today/yesterday are local calendar days used
	// for streak arithmetic. Returns the updated stats.
	UpdateStatsOnPickup(ctx context.Context, userID ledger.AccountID, ev PickupEvent, today, yesterday string, now time.Time) (*Stats, error)

	// IncrementReferrals bumps the user's referral count. Returns the
	// updated stats.
	IncrementReferrals(ctx context.Context, userID ledger.AccountID, now time.Time) (*Stats, error)

	// ListUnlocks returns the user's unlocks, oldest first.
	ListUnlocks(ctx context.Context, userID ledger.AccountID) ([]Unlock, error)

	// InsertUnlock records a newly earned badge. A (user, badge) row that
	// already exists makes this a no-op with inserted=false.
	InsertUnlock(ctx context.Context, userID ledger.AccountID, badgeID string, at time.Time) (inserted bool, err error)

	// ClaimReward marks the unlock claimed and credits the reward to the
	// user's balance in one transaction. A second claim is a no-op with
	// AlreadyClaimed set. Errors: ErrNotUnlocked.
	ClaimReward(ctx context.Context, userID ledger.AccountID, badgeID string, reward ledger.Points, now time.Time) (*ClaimResult, error)
}
