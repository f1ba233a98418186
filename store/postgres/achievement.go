/*
achievement.go - achievement.Store implementation

UpdateStatsOnPickup serializes on the user_stats row lock; ClaimReward
locks the unlock row and credits the reward in the same transaction.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mealrescue/points-engine/achievement"
	"github.com/mealrescue/points-engine/ledger"
)

var _ achievement.Store = (*Store)(nil)

// SeedDefinitions upserts the catalog.
func (s *Store) SeedDefinitions(ctx context.Context, defs []achievement.Definition) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, d := range defs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO achievement_definitions (id, name, description, kind, threshold, reward)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					kind = EXCLUDED.kind,
					threshold = EXCLUDED.threshold,
					reward = EXCLUDED.reward`,
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
	rows, err := s.pool.Query(ctx,
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
	var d achievement.Definition
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, description, kind, threshold, reward FROM achievement_definitions WHERE id = $1", id,
	).Scan(&d.ID, &d.Name, &d.Description, &d.Kind, &d.Threshold, &d.Reward)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, achievement.ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// money_saved is NUMERIC; it crosses the wire as text and round-trips
// through shopspring decimal losslessly.
const statsColumns = `SELECT user_id, pickup_count, money_saved::text, category_count, unique_partners, max_per_partner, current_streak, best_streak, last_pickup_day, referral_count, updated_at FROM user_stats`

// GetStats returns the user's stats, zero-valued if never written.
func (s *Store) GetStats(ctx context.Context, userID ledger.AccountID) (*achievement.Stats, error) {
	st, err := scanStats(s.pool.QueryRow(ctx, statsColumns+" WHERE user_id = $1", userID))
	if err == nil || !errors.Is(err, pgx.ErrNoRows) {
		return st, err
	}
	return &achievement.Stats{UserID: userID}, nil
}

func scanStats(row pgx.Row) (*achievement.Stats, error) {
	var st achievement.Stats
	var moneySaved string
	err := row.Scan(&st.UserID, &st.PickupCount, &moneySaved, &st.CategoryCount,
		&st.UniquePartners, &st.MaxPerPartner, &st.CurrentStreak, &st.BestStreak,
		&st.LastPickupDay, &st.ReferralCount, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.MoneySaved, err = decimal.NewFromString(moneySaved)
	if err != nil {
		return nil, fmt.Errorf("invalid money_saved value %q: %w", moneySaved, err)
	}
	return &st, nil
}

// ensureStatsRow inserts a zero row so FOR UPDATE has something to lock.
func ensureStatsRow(ctx context.Context, tx pgx.Tx, userID ledger.AccountID, now time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO user_stats (user_id, updated_at) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, now,
	)
	return err
}

// UpdateStatsOnPickup folds one pickup into the user's stats under a row
// lock.
func (s *Store) UpdateStatsOnPickup(ctx context.Context, userID ledger.AccountID, ev achievement.PickupEvent, today, yesterday string, now time.Time) (*achievement.Stats, error) {
	var out *achievement.Stats
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureStatsRow(ctx, tx, userID, now); err != nil {
			return err
		}
		st, err := scanStats(tx.QueryRow(ctx, statsColumns+" WHERE user_id = $1 FOR UPDATE", userID))
		if err != nil {
			return err
		}

		st.PickupCount++
		st.MoneySaved = st.MoneySaved.Add(ev.Value)

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

		if _, err := tx.Exec(ctx,
			`INSERT INTO stat_categories (user_id, category, count) VALUES ($1, $2, 1)
			 ON CONFLICT (user_id, category) DO UPDATE SET count = stat_categories.count + 1`,
			userID, ev.Category,
		); err != nil {
			return fmt.Errorf("failed to update category stats: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO stat_partners (user_id, partner_id, count) VALUES ($1, $2, 1)
			 ON CONFLICT (user_id, partner_id) DO UPDATE SET count = stat_partners.count + 1`,
			userID, ev.PartnerID,
		); err != nil {
			return fmt.Errorf("failed to update partner stats: %w", err)
		}

		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM stat_categories WHERE user_id = $1", userID,
		).Scan(&st.CategoryCount); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*), COALESCE(MAX(count), 0) FROM stat_partners WHERE user_id = $1", userID,
		).Scan(&st.UniquePartners, &st.MaxPerPartner); err != nil {
			return err
		}

		st.UpdatedAt = now
		if err := updateStats(ctx, tx, st); err != nil {
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
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureStatsRow(ctx, tx, userID, now); err != nil {
			return err
		}
		st, err := scanStats(tx.QueryRow(ctx, statsColumns+" WHERE user_id = $1 FOR UPDATE", userID))
		if err != nil {
			return err
		}
		st.ReferralCount++
		st.UpdatedAt = now
		if err := updateStats(ctx, tx, st); err != nil {
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

func updateStats(ctx context.Context, tx pgx.Tx, st *achievement.Stats) error {
	_, err := tx.Exec(ctx,
		`UPDATE user_stats SET
			pickup_count = $1, money_saved = $2::numeric, category_count = $3,
			unique_partners = $4, max_per_partner = $5, current_streak = $6,
			best_streak = $7, last_pickup_day = $8, referral_count = $9,
			updated_at = $10
		 WHERE user_id = $11`,
		st.PickupCount, st.MoneySaved.String(), st.CategoryCount, st.UniquePartners,
		st.MaxPerPartner, st.CurrentStreak, st.BestStreak, st.LastPickupDay,
		st.ReferralCount, st.UpdatedAt, st.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user stats: %w", err)
	}
	return nil
}

// ListUnlocks returns the user's unlocks, oldest first.
func (s *Store) ListUnlocks(ctx context.Context, userID ledger.AccountID) ([]achievement.Unlock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, badge_id, unlocked_at, claimed_at
		 FROM achievement_unlocks WHERE user_id = $1 ORDER BY unlocked_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unlocks []achievement.Unlock
	for rows.Next() {
		var u achievement.Unlock
		if err := rows.Scan(&u.UserID, &u.BadgeID, &u.UnlockedAt, &u.ClaimedAt); err != nil {
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

// InsertUnlock records a newly earned badge; a duplicate is a no-op.
func (s *Store) InsertUnlock(ctx context.Context, userID ledger.AccountID, badgeID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO achievement_unlocks (user_id, badge_id, unlocked_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, badge_id) DO NOTHING`,
		userID, badgeID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimReward marks the unlock claimed and credits the reward in one
// transaction, locking the unlock row first.
func (s *Store) ClaimReward(ctx context.Context, userID ledger.AccountID, badgeID string, reward ledger.Points, now time.Time) (*achievement.ClaimResult, error) {
	var out *achievement.ClaimResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var claimedAt *time.Time
		err := tx.QueryRow(ctx,
			"SELECT claimed_at FROM achievement_unlocks WHERE user_id = $1 AND badge_id = $2 FOR UPDATE",
			userID, badgeID,
		).Scan(&claimedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return achievement.ErrNotUnlocked
		}
		if err != nil {
			return err
		}
		if claimedAt != nil {
			var balance ledger.Points
			if err := tx.QueryRow(ctx,
				"SELECT balance FROM accounts WHERE id = $1", userID,
			).Scan(&balance); err != nil {
				return err
			}
			out = &achievement.ClaimResult{AlreadyClaimed: true, Reward: reward, NewBalance: balance}
			return nil
		}

		if _, err := tx.Exec(ctx,
			"UPDATE achievement_unlocks SET claimed_at = $1 WHERE user_id = $2 AND badge_id = $3",
			now, userID, badgeID,
		); err != nil {
			return fmt.Errorf("failed to mark claim: %w", err)
		}
		balance, err := applyTx(ctx, tx, userID, reward, ledger.ReasonAchievementReward, "", map[string]string{"badge": badgeID}, now)
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
