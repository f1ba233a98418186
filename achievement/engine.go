/*
engine.go - Stat recording, unlock evaluation and reward claims

RecordPickup and RecordReferral fold an event into the user's stats, then
re-evaluate the catalog and insert unlocks for every newly met badge.
Claim pays the reward through the store's atomic claim routine, so a
doubled claim request credits exactly once.
*/
package achievement

import (
	"context"

	"github.com/mealrescue/points-engine/ledger"
)

// Progress pairs a definition with the user's standing against it.
type Progress struct {
	Definition Definition    `json:"definition"`
	Current    int64         `json:"current"`
	Unlocked   bool          `json:"unlocked"`
	Claimed    bool          `json:"claimed"`
	Reward     ledger.Points `json:"reward"`
}

// Engine evaluates badges against user stats and handles claims.
type Engine struct {
	Store    Store
	Calendar *ledger.Calendar
}

func NewEngine(store Store, cal *ledger.Calendar) *Engine {
	return &Engine{Store: store, Calendar: cal}
}

// Seed loads the catalog into the store. Call once at startup.
func (e *Engine) Seed(ctx context.Context) error {
	return e.Store.SeedDefinitions(ctx, DefaultCatalog())
}

// RecordPickup folds one completed pickup into the user's stats and
// evaluates unlocks. Returns the badge IDs newly unlocked by this event.
func (e *Engine) RecordPickup(ctx context.Context, userID ledger.AccountID, ev PickupEvent) ([]string, error) {
	now := e.Calendar.Now()
	stats, err := e.Store.UpdateStatsOnPickup(ctx, userID, ev, e.Calendar.Today(), e.Calendar.Yesterday(), now)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, stats)
}

// RecordReferral credits the referrer once the referred user completes a
// first pickup, then evaluates unlocks.
func (e *Engine) RecordReferral(ctx context.Context, referrerID ledger.AccountID) ([]string, error) {
	stats, err := e.Store.IncrementReferrals(ctx, referrerID, e.Calendar.Now())
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, stats)
}

// evaluate inserts an unlock for every definition the stats now satisfy.
// Losing the insert race to a concurrent evaluation is not an error.
func (e *Engine) evaluate(ctx context.Context, stats *Stats) ([]string, error) {
	defs, err := e.Store.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	now := e.Calendar.Now()
	var unlocked []string
	for _, def := range defs {
		if stats.Value(def.Kind) < def.Threshold {
			continue
		}
		inserted, err := e.Store.InsertUnlock(ctx, stats.UserID, def.ID, now)
		if err != nil {
			return unlocked, err
		}
		if inserted {
			unlocked = append(unlocked, def.ID)
		}
	}
	return unlocked, nil
}

// Claim credits the badge's reward to the user. Idempotent: a repeat
// claim reports AlreadyClaimed with no second credit.
// Errors: ErrDefinitionNotFound, ErrNotUnlocked.
func (e *Engine) Claim(ctx context.Context, userID ledger.AccountID, badgeID string) (*ClaimResult, error) {
	def, err := e.Store.GetDefinition(ctx, badgeID)
	if err != nil {
		return nil, err
	}
	return e.Store.ClaimReward(ctx, userID, badgeID, def.Reward, e.Calendar.Now())
}

// ProgressFor returns the user's standing against every catalog entry.
func (e *Engine) ProgressFor(ctx context.Context, userID ledger.AccountID) ([]Progress, error) {
	defs, err := e.Store.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := e.Store.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlocks, err := e.Store.ListUnlocks(ctx, userID)
	if err != nil {
		return nil, err
	}
	byBadge := make(map[string]Unlock, len(unlocks))
	for _, u := range unlocks {
		byBadge[u.BadgeID] = u
	}
	out := make([]Progress, 0, len(defs))
	for _, def := range defs {
		p := Progress{
			Definition: def,
			Current:    stats.Value(def.Kind),
			Reward:     def.Reward,
		}
		if u, ok := byBadge[def.ID]; ok {
			p.Unlocked = true
			p.Claimed = u.Claimed()
		}
		out = append(out, p)
	}
	return out, nil
}

// Stats returns the raw per-user counters.
func (e *Engine) Stats(ctx context.Context, userID ledger.AccountID) (*Stats, error) {
	return e.Store.GetStats(ctx, userID)
}
