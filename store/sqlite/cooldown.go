/*
cooldown.go - cooldown.Store implementation

LiftCooldown claims the (user, day) uniqueness row BEFORE debiting the
points, inside one transaction: the second concurrent lift hits the
primary key, reports already=true, and no points move.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mealrescue/points-engine/cooldown"
	"github.com/mealrescue/points-engine/ledger"
)

var _ cooldown.Store = (*Store)(nil)

// InsertCancellation appends one cancellation event.
func (s *Store) InsertCancellation(ctx context.Context, userID ledger.AccountID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cancellations (user_id, at) VALUES (?, ?)",
		userID, fmtTime(at),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cancellation: %w", err)
	}
	return nil
}

// CancellationsSince returns the user's cancellation timestamps at or
// after since, oldest first.
func (s *Store) CancellationsSince(ctx context.Context, userID ledger.AccountID, since time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT at FROM cancellations WHERE user_id = ? AND at >= ? ORDER BY at ASC",
		userID, fmtTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var at string
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		out = append(out, parseTime(at))
	}
	return out, rows.Err()
}

// GetLift returns the user's lift for the given local day, or nil.
func (s *Store) GetLift(ctx context.Context, userID ledger.AccountID, day string) (*cooldown.Lift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l cooldown.Lift
	var liftedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, day, lifted_at, cost FROM cooldown_lifts WHERE user_id = ? AND day = ?",
		userID, day,
	).Scan(&l.UserID, &l.Day, &liftedAt, &l.Cost)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.LiftedAt = parseTime(liftedAt)
	return &l, nil
}

// LiftCooldown atomically claims the daily lift row and debits the cost.
func (s *Store) LiftCooldown(ctx context.Context, userID ledger.AccountID, day string, at time.Time, cost ledger.Points) (*cooldown.Lift, bool, error) {
	var lift *cooldown.Lift
	already := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO cooldown_lifts (user_id, day, lifted_at, cost) VALUES (?, ?, ?, ?)",
			userID, day, fmtTime(at), cost,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				already = true
				return nil
			}
			return fmt.Errorf("failed to insert cooldown lift: %w", err)
		}
		if _, err := applyTx(ctx, tx, userID, -cost, ledger.ReasonPenaltyLift, "", nil, fmtTime(at)); err != nil {
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
