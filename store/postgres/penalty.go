/*
penalty.go - penalty.Store implementation

RecordNoShow locks the penalty row FOR UPDATE (inserting it first if the
user has none) so concurrent no-shows serialize and the suspension always
reflects the final count.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/penalty"
)

var _ penalty.Store = (*Store)(nil)

const penaltyColumns = `SELECT user_id, no_show_count, suspended_until, last_no_show_at, updated_at FROM penalties`

// GetPenalty returns the user's penalty record.
func (s *Store) GetPenalty(ctx context.Context, userID ledger.AccountID) (*penalty.Penalty, error) {
	return scanPenalty(s.pool.QueryRow(ctx, penaltyColumns+" WHERE user_id = $1", userID))
}

func scanPenalty(row pgx.Row) (*penalty.Penalty, error) {
	var p penalty.Penalty
	err := row.Scan(&p.UserID, &p.NoShowCount, &p.SuspendedUntil, &p.LastNoShowAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, penalty.ErrNoPenalty
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordNoShow increments the no-show count and writes the suspension
// window derived from the escalation table.
func (s *Store) RecordNoShow(ctx context.Context, userID ledger.AccountID, now time.Time, esc penalty.Escalation) (*penalty.Penalty, error) {
	var out *penalty.Penalty
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		// Ensure the row exists so FOR UPDATE has something to lock.
		if _, err := tx.Exec(ctx,
			`INSERT INTO penalties (user_id, no_show_count, updated_at)
			 VALUES ($1, 0, $2)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID, now,
		); err != nil {
			return fmt.Errorf("failed to ensure penalty row: %w", err)
		}

		var count int
		if err := tx.QueryRow(ctx,
			"SELECT no_show_count FROM penalties WHERE user_id = $1 FOR UPDATE", userID,
		).Scan(&count); err != nil {
			return err
		}
		count++

		var suspendedUntil *time.Time
		if d := esc.Suspension(count); d > 0 {
			t := now.Add(d)
			suspendedUntil = &t
		}

		if _, err := tx.Exec(ctx,
			`UPDATE penalties
			 SET no_show_count = $1, suspended_until = $2, last_no_show_at = $3, updated_at = $3
			 WHERE user_id = $4`,
			count, suspendedUntil, now, userID,
		); err != nil {
			return fmt.Errorf("failed to record no-show: %w", err)
		}

		lastNoShow := now
		out = &penalty.Penalty{
			UserID:         userID,
			NoShowCount:    count,
			SuspendedUntil: suspendedUntil,
			LastNoShowAt:   &lastNoShow,
			UpdatedAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateForgivenessRequest inserts a request; at most one pending request
// per user, enforced by a partial unique index.
func (s *Store) CreateForgivenessRequest(ctx context.Context, fr penalty.ForgivenessRequest) error {
	var resID, message *string
	if fr.ReservationID != "" {
		resID = &fr.ReservationID
	}
	if fr.Message != "" {
		message = &fr.Message
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO forgiveness_requests (id, user_id, partner_id, reservation_id, message, status, deadline, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		fr.ID, fr.UserID, fr.PartnerID, resID, message, fr.Status, fr.Deadline, fr.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return penalty.ErrRequestPending
		}
		return fmt.Errorf("failed to create forgiveness request: %w", err)
	}
	return nil
}

const forgivenessColumns = `SELECT id, user_id, partner_id, COALESCE(reservation_id, ''), COALESCE(message, ''), status, deadline, created_at, resolved_at, COALESCE(resolved_by, '') FROM forgiveness_requests`

// GetForgivenessRequest returns a request by ID.
func (s *Store) GetForgivenessRequest(ctx context.Context, id string) (*penalty.ForgivenessRequest, error) {
	return scanForgiveness(s.pool.QueryRow(ctx, forgivenessColumns+" WHERE id = $1", id))
}

func scanForgiveness(row pgx.Row) (*penalty.ForgivenessRequest, error) {
	var fr penalty.ForgivenessRequest
	err := row.Scan(&fr.ID, &fr.UserID, &fr.PartnerID, &fr.ReservationID, &fr.Message,
		&fr.Status, &fr.Deadline, &fr.CreatedAt, &fr.ResolvedAt, &fr.ResolvedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, penalty.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fr, nil
}

// ResolveForgiveness settles a pending request; a grant also decrements
// the no-show count and clears any active suspension.
func (s *Store) ResolveForgiveness(ctx context.Context, id string, granted bool, resolvedBy ledger.AccountID, now time.Time) (*penalty.ForgivenessRequest, error) {
	var out *penalty.ForgivenessRequest
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		fr, err := scanForgiveness(tx.QueryRow(ctx, forgivenessColumns+" WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return err
		}
		if !fr.Pending() {
			return penalty.ErrRequestResolved
		}

		status := penalty.RequestDenied
		if granted {
			status = penalty.RequestGranted
		}
		if _, err := tx.Exec(ctx,
			"UPDATE forgiveness_requests SET status = $1, resolved_at = $2, resolved_by = $3 WHERE id = $4",
			status, now, resolvedBy, id,
		); err != nil {
			return fmt.Errorf("failed to resolve forgiveness request: %w", err)
		}

		if granted {
			if _, err := tx.Exec(ctx,
				`UPDATE penalties
				 SET no_show_count = GREATEST(no_show_count - 1, 0),
				     suspended_until = NULL,
				     updated_at = $1
				 WHERE user_id = $2`,
				now, fr.UserID,
			); err != nil {
				return fmt.Errorf("failed to reverse penalty: %w", err)
			}
		}

		fr.Status = status
		resolved := now
		fr.ResolvedAt = &resolved
		fr.ResolvedBy = resolvedBy
		out = fr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AutoDenyExpiredForgiveness denies every pending request past its
// deadline.
func (s *Store) AutoDenyExpiredForgiveness(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE forgiveness_requests
		 SET status = $1, resolved_at = $2
		 WHERE status = $3 AND deadline <= $2`,
		penalty.RequestDenied, now, penalty.RequestPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to auto-deny forgiveness requests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
