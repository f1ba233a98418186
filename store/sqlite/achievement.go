/*
achievement.go - achievement.Store implementation

UpdateStatsOnPickup folds a pickup into the aggregate row and the
per-category/per-partner counters in one transaction, then refreshes the
derived counts from those counters. ClaimReward marks the unlock claimed
and credits the reward together, so a retried claim can never pay twice.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mealrescue/points-engine/achievement"
	"github.com/mealrescue/points-engine/ledger"
)

var _ achievement.Store = (*Store)(nil)

// =============================================================================
// DEFINITIONS
// =============================================================================

// SeedDefinitions upserts the catalog.
func (s *Store) SeedDefinitions(ctx context.Context, defs []achievement.Definition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range defs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO achievement_definitions (id, name, description, kind, threshold, reward)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					description = excluded.description,
					kind = excluded.kind,
					threshold = excluded.threshold,
					reward = excluded.reward`,
				d.ID, d.Name, d.Description, d.Kind, d.Threshold, d.Reward,
			); err != nil {
				return fmt.Errorf("failed to seed definition %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

// ListDefinitions returns the full catalog.
func (s *Store) ListDefinitions(ctx context.Context) ([]achievement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, kind, threshold, reward FROM achievement_definitions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []achievement.Definition
	for rows.Next() {
		var d achievement.Definition
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Kind, &d.Threshold, &d.Reward); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// GetDefinition returns one definition.
func (s *Store) GetDefinition(ctx context.Context, id string) (*achievement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d achievement.Definition
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, kind, threshold, reward FROM achievement_definitions WHERE id = ?", id,
	).Scan(&d.ID, &d.Name, &d.Description, &d.Kind, &d.Threshold, &d.Reward)
	if err == sql.ErrNoRows {
		return nil, achievement.ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// =============================================================================
// USER STATS
// =============================================================================

// GetStats returns the user's stats, zero-valued if never written.
func (s *Store) GetStats(ctx context.Context, userID ledger.AccountID) (*achievement.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getStats(ctx, s.db, userID)
}

func getStats(ctx context.Context, q dbtx, userID ledger.AccountID) (*achievement.Stats, error) {
	var st achievement.Stats
	var moneySaved, updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT user_id, pickup_count, money_saved, category_count, unique_partners,
		        max_per_partner, current_streak, best_streak, last_pickup_day,
		        referral_count, updated_at
		 FROM user_stats WHERE user_id = ?`, userID,
	).Scan(&st.UserID, &st.PickupCount, &moneySaved, &st.CategoryCount, &st.UniquePartners,
		&st.MaxPerPartner, &st.CurrentStreak, &st.BestStreak, &st.LastPickupDay,
		&st.ReferralCount, &updatedAt)
	if err == sql.ErrNoRows {
		return &achievement.Stats{UserID: userID, MoneySaved: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	st.MoneySaved, _ = decimal.NewFromString(moneySaved)
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

// UpdateStatsOnPickup folds one pickup into the user's stats.
func (s *Store) UpdateStatsOnPickup(ctx context.Context, userID ledger.AccountID, ev achievement.PickupEvent, today, yesterday string, now time.Time) (*achievement.Stats, error) {
	var out *achievement.Stats
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		st, err := getStats(ctx, tx, userID)
		if err != nil {
			return err
		}

		st.PickupCount++
		st.MoneySaved = st.MoneySaved.Add(ev.Value)

		// Streak arithmetic over local calendar days: a second pickup on
		// the same day does not extend the streak, a day gap resets it.
		switch st.LastPickupDay {
		case today:
			// unchanged
		case yesterday:
			st.CurrentStreak++
		default:
			st.CurrentStreak = 1
		}
		if st.CurrentStreak > st.BestStreak {
			st.BestStreak = st.CurrentStreak
		}
		st.LastPickupDay = today

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stat_categories (user_id, category, count) VALUES (?, ?, 1)
			 ON CONFLICT(user_id, category) DO UPDATE SET count = count + 1`,
			userID, ev.Category,
		); err != nil {
			return fmt.Errorf("failed to update category stats: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stat_partners (user_id, partner_id, count) VALUES (?, ?, 1)
			 ON CONFLICT(user_id, partner_id) DO UPDATE SET count = count + 1`,
			userID, ev.PartnerID,
		); err != nil {
			return fmt.Errorf("failed to update partner stats: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM stat_categories WHERE user_id = ?", userID,
		).Scan(&st.CategoryCount); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*), MAX(count) FROM stat_partners WHERE user_id = ?", userID,
		).Scan(&st.UniquePartners, &st.MaxPerPartner); err != nil {
			return err
		}

		st.UpdatedAt = now
		if err := upsertStats(ctx, tx, st); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementReferrals bumps the user's referral count.
func (s *Store) IncrementReferrals(ctx context.Context, userID ledger.AccountID, now time.Time) (*achievement.Stats, error) {
	var out *achievement.Stats
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		st, err := getStats(ctx, tx, userID)
		if err != nil {
			return err
		}
		st.ReferralCount++
		st.UpdatedAt = now
		if err := upsertStats(ctx, tx, st); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func upsertStats(ctx context.Context, tx dbtx, st *achievement.Stats) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, pickup_count, money_saved, category_count, unique_partners,
			max_per_partner, current_streak, best_streak, last_pickup_day, referral_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			pickup_count = excluded.pickup_count,
			money_saved = excluded.money_saved,
			category_count = excluded.category_count,
			unique_partners = excluded.unique_partners,
			max_per_partner = excluded.max_per_partner,
			current_streak = excluded.current_streak,
			best_streak = excluded.best_streak,
			last_pickup_day = excluded.last_pickup_day,
			referral_count = excluded.referral_count,
			updated_at = excluded.updated_at`,
		st.UserID, st.PickupCount, st.MoneySaved.String(), st.CategoryCount, st.UniquePartners,
		st.MaxPerPartner, st.CurrentStreak, st.BestStreak, st.LastPickupDay, st.ReferralCount,
		fmtTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user stats: %w", err)
	}
	return nil
}

// =============================================================================
// UNLOCKS & CLAIMS
// =============================================================================

// ListUnlocks returns the user's unlocks, oldest first.
func (s *Store) ListUnlocks(ctx context.Context, userID ledger.AccountID) ([]achievement.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, badge_id, unlocked_at, claimed_at
		 FROM achievement_unlocks WHERE user_id = ? ORDER BY unlocked_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unlocks []achievement.Unlock
	for rows.Next() {
		var u achievement.Unlock
		var unlockedAt string
		var claimedAt sql.NullString
		if err := rows.Scan(&u.UserID, &u.BadgeID, &unlockedAt, &claimedAt); err != nil {
			return nil, err
		}
		u.UnlockedAt = parseTime(unlockedAt)
		u.ClaimedAt = parseTimePtr(claimedAt)
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

// InsertUnlock records a newly earned badge; a duplicate is a no-op.
func (s *Store) InsertUnlock(ctx context.Context, userID ledger.AccountID, badgeID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO achievement_unlocks (user_id, badge_id, unlocked_at) VALUES (?, ?, ?)",
		userID, badgeID, fmtTime(at),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}
	return true, nil
}

// ClaimReward marks the unlock claimed and credits the reward in one
// transaction.
func (s *Store) ClaimReward(ctx context.Context, userID ledger.AccountID, badgeID string, reward ledger.Points, now time.Time) (*achievement.ClaimResult, error) {
	var out *achievement.ClaimResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var claimedAt sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT claimed_at FROM achievement_unlocks WHERE user_id = ? AND badge_id = ?",
			userID, badgeID,
		).Scan(&claimedAt)
		if err == sql.ErrNoRows {
			return achievement.ErrNotUnlocked
		}
		if err != nil {
			return err
		}
		if claimedAt.Valid {
			acc, err := getAccount(ctx, tx, userID)
			if err != nil {
				return err
			}
			out = &achievement.ClaimResult{AlreadyClaimed: true, Reward: reward, NewBalance: acc.Balance}
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE achievement_unlocks SET claimed_at = ? WHERE user_id = ? AND badge_id = ?",
			fmtTime(now), userID, badgeID,
		); err != nil {
			return fmt.Errorf("failed to mark claim: %w", err)
		}
		balance, err := applyTx(ctx, tx, userID, reward, ledger.ReasonAchievementReward, "", map[string]string{"badge": badgeID}, fmtTime(now))
		if err != nil {
			return err
		}
		out = &achievement.ClaimResult{Reward: reward, NewBalance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
