/*
penalty.go - penalty.Store implementation

RecordNoShow and ResolveForgiveness both read-modify-write the penalty
row inside a transaction under the write lock, so concurrent no-shows
never lose an increment and a grant always sees the final count. The
one-pending-request-per-user rule rides on a partial unique index; the
losing inserter gets ErrRequestPending, not a raw conflict.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/penalty"
)

var _ penalty.Store = (*Store)(nil)

// =============================================================================
// PENALTY RECORD
// =============================================================================

// GetPenalty returns the user's penalty record.
func (s *Store) GetPenalty(ctx context.Context, userID ledger.AccountID) (*penalty.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getPenalty(ctx, s.db, userID)
}

func getPenalty(ctx context.Context, q dbtx, userID ledger.AccountID) (*penalty.Penalty, error) {
	var p penalty.Penalty
	var suspendedUntil, lastNoShowAt sql.NullString
	var updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT user_id, no_show_count, suspended_until, last_no_show_at, updated_at
		 FROM penalties WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.NoShowCount, &suspendedUntil, &lastNoShowAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, penalty.ErrNoPenalty
	}
	if err != nil {
		return nil, err
	}
	p.SuspendedUntil = parseTimePtr(suspendedUntil)
	p.LastNoShowAt = parseTimePtr(lastNoShowAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// RecordNoShow increments the no-show count and writes the suspension
// window derived from the escalation table.
func (s *Store) RecordNoShow(ctx context.Context, userID ledger.AccountID, now time.Time, esc penalty.Escalation) (*penalty.Penalty, error) {
	var out *penalty.Penalty
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		count := 0
		p, err := getPenalty(ctx, tx, userID)
		if err == nil {
			count = p.NoShowCount
		} else if err != penalty.ErrNoPenalty {
			return err
		}
		count++

		var suspendedUntil *time.Time
		if d := esc.Suspension(count); d > 0 {
			t := now.Add(d)
			suspendedUntil = &t
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO penalties (user_id, no_show_count, suspended_until, last_no_show_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET
				no_show_count = excluded.no_show_count,
				suspended_until = excluded.suspended_until,
				last_no_show_at = excluded.last_no_show_at,
				updated_at = excluded.updated_at`,
			userID, count, fmtTimePtr(suspendedUntil), fmtTime(now), fmtTime(now),
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

// =============================================================================
// FORGIVENESS REQUESTS
// =============================================================================

// CreateForgivenessRequest inserts a request; at most one pending request
// per user.
func (s *Store) CreateForgivenessRequest(ctx context.Context, fr penalty.ForgivenessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forgiveness_requests (id, user_id, partner_id, reservation_id, message, status, deadline, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fr.ID, fr.UserID, fr.PartnerID, nullString(fr.ReservationID),
		nullString(fr.Message), fr.Status, fmtTime(fr.Deadline), fmtTime(fr.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return penalty.ErrRequestPending
		}
		return fmt.Errorf("failed to create forgiveness request: %w", err)
	}
	return nil
}

const forgivenessColumns = `SELECT id, user_id, partner_id, reservation_id, message, status, deadline, created_at, resolved_at, resolved_by FROM forgiveness_requests`

// GetForgivenessRequest returns a request by ID.
func (s *Store) GetForgivenessRequest(ctx context.Context, id string) (*penalty.ForgivenessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanForgiveness(s.db.QueryRowContext(ctx, forgivenessColumns+" WHERE id = ?", id))
}

func scanForgiveness(row *sql.Row) (*penalty.ForgivenessRequest, error) {
	var fr penalty.ForgivenessRequest
	var reservationID, message, resolvedAt, resolvedBy sql.NullString
	var deadline, createdAt string
	err := row.Scan(&fr.ID, &fr.UserID, &fr.PartnerID, &reservationID, &message,
		&fr.Status, &deadline, &createdAt, &resolvedAt, &resolvedBy)
	if err == sql.ErrNoRows {
		return nil, penalty.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	fr.ReservationID = reservationID.String
	fr.Message = message.String
	fr.Deadline = parseTime(deadline)
	fr.CreatedAt = parseTime(createdAt)
	fr.ResolvedAt = parseTimePtr(resolvedAt)
	fr.ResolvedBy = ledger.AccountID(resolvedBy.String)
	return &fr, nil
}

// ResolveForgiveness settles a pending request; a grant also decrements
// the no-show count and clears any active suspension in the same
// transaction.
func (s *Store) ResolveForgiveness(ctx context.Context, id string, granted bool, resolvedBy ledger.AccountID, now time.Time) (*penalty.ForgivenessRequest, error) {
	var out *penalty.ForgivenessRequest
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		fr, err := scanForgiveness(tx.QueryRowContext(ctx, forgivenessColumns+" WHERE id = ?", id))
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
		if _, err := tx.ExecContext(ctx,
			"UPDATE forgiveness_requests SET status = ?, resolved_at = ?, resolved_by = ? WHERE id = ?",
			status, fmtTime(now), resolvedBy, id,
		); err != nil {
			return fmt.Errorf("failed to resolve forgiveness request: %w", err)
		}

		if granted {
			if _, err := tx.ExecContext(ctx,
				`UPDATE penalties
				 SET no_show_count = MAX(no_show_count - 1, 0),
				     suspended_until = NULL,
				     updated_at = ?
				 WHERE user_id = ?`,
				fmtTime(now), fr.UserID,
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
// deadline. Denial leaves the penalty record unchanged.
func (s *Store) AutoDenyExpiredForgiveness(ctx context.Context, now time.Time) (int, error) {
	var denied int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE forgiveness_requests
			 SET status = ?, resolved_at = ?
			 WHERE status = ? AND deadline <= ?`,
			penalty.RequestDenied, fmtTime(now), penalty.RequestPending, fmtTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to auto-deny forgiveness requests: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		denied = int(n)
		return nil
	})
	return denied, err
}
