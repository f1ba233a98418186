/*
cooldown.go - cooldown.Store implementation

LiftCooldown inserts the (user, day) row before moving any points; the
losing concurrent lift hits the primary key and reports already=true.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mealrescue/points-engine/cooldown"
	"github.com/mealrescue/points-engine/ledger"
)

var _ cooldown.Store = (*Store)(nil)

// InsertCancellation appends one cancellation event.
func (s *Store) InsertCancellation(ctx context.Context, userID ledger.AccountID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO cancellations (user_id, at) VALUES ($1, $2)", userID, at)
	if err != nil {
		return fmt.Errorf("failed to insert cancellation: %w", err)
	}
	return nil
}

// CancellationsSince returns the user's cancellation timestamps at or
// after since, oldest first.
func (s *Store) CancellationsSince(ctx context.Context, userID ledger.AccountID, since time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT at FROM cancellations WHERE user_id = $1 AND at >= $2 ORDER BY at ASC",
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

// GetLift returns the user's lift for the given local day, or nil.
func (s *Store) GetLift(ctx context.Context, userID ledger.AccountID, day string) (*cooldown.Lift, error) {
	var l cooldown.Lift
	err := s.pool.QueryRow(ctx,
		"SELECT user_id, day, lifted_at, cost FROM cooldown_lifts WHERE user_id = $1 AND day = $2",
		userID, day,
	).Scan(&l.UserID, &l.Day, &l.LiftedAt, &l.Cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LiftCooldown atomically claims the daily lift row and debits the cost.
func (s *Store) LiftCooldown(ctx context.Context, userID ledger.AccountID, day string, at time.Time, cost ledger.Points) (*cooldown.Lift, bool, error) {
	var lift *cooldown.Lift
	already := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO cooldown_lifts (user_id, day, lifted_at, cost)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, day) DO NOTHING`,
			userID, day, at, cost,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cooldown lift: %w", err)
		}
		if tag.RowsAffected() == 0 {
			already = true
			return nil
		}
		if _, err := applyTx(ctx, tx, userID, -cost, ledger.ReasonPenaltyLift, "", nil, at); err != nil {
			return err
		}
		lift = &cooldown.Lift{UserID: userID, Day: day, LiftedAt: at, Cost: cost}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return lift, already, nil
}
