/*
reservation.go - reservation.Store implementation

Every lifecycle transition flips the reservation status and resolves the
escrow hold inside one transaction; CompletePickup also bumps the offer's
claimed counter there. The reservation row is re-read inside the
transaction before flipping, so a duplicate trigger sees the terminal
status and fails with InvalidTransitionError instead of double-crediting.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/reservation"
)

var _ reservation.Store = (*Store)(nil)

// =============================================================================
// OFFER SHADOWS
// =============================================================================

// UpsertOffer inserts or refreshes an offer shadow, preserving the
// claimed counter.
func (s *Store) UpsertOffer(ctx context.Context, offer reservation.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offers (id, partner_id, title, category, points_price, original_value, quantity, claimed, pickup_deadline)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			partner_id = excluded.partner_id,
			title = excluded.title,
			category = excluded.category,
			points_price = excluded.points_price,
			original_value = excluded.original_value,
			quantity = excluded.quantity,
			pickup_deadline = excluded.pickup_deadline`,
		offer.ID, offer.PartnerID, offer.Title, offer.Category,
		offer.PointsPrice, offer.OriginalValue.String(), offer.Quantity,
		offer.Claimed, fmtTime(offer.PickupDeadline),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert offer: %w", err)
	}
	return nil
}

// GetOffer returns an offer shadow.
func (s *Store) GetOffer(ctx context.Context, offerID string) (*reservation.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getOffer(ctx, s.db, offerID)
}

func getOffer(ctx context.Context, q dbtx, offerID string) (*reservation.Offer, error) {
	var o reservation.Offer
	var originalValue, deadline string
	err := q.QueryRowContext(ctx,
		`SELECT id, partner_id, title, category, points_price, original_value, quantity, claimed, pickup_deadline
		 FROM offers WHERE id = ?`, offerID,
	).Scan(&o.ID, &o.PartnerID, &o.Title, &o.Category, &o.PointsPrice, &originalValue, &o.Quantity, &o.Claimed, &deadline)
	if err == sql.ErrNoRows {
		return nil, reservation.ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	o.OriginalValue, _ = decimal.NewFromString(originalValue)
	o.PickupDeadline = parseTime(deadline)
	return &o, nil
}

// =============================================================================
// RESERVATION CREATION
// =============================================================================

// CreateReservationWithHold verifies remaining stock, debits the
// customer, inserts the hold and inserts the reservation, all or nothing.
func (s *Store) CreateReservationWithHold(ctx context.Context, res reservation.Reservation, hold ledger.EscrowHold) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		offer, err := getOffer(ctx, tx, res.OfferID)
		if err != nil {
			return err
		}

		var reserved sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			"SELECT SUM(quantity) FROM reservations WHERE offer_id = ? AND status = ?",
			res.OfferID, reservation.StatusActive,
		).Scan(&reserved); err != nil {
			return err
		}
		if offer.Claimed+int(reserved.Int64)+res.Quantity > offer.Quantity {
			return reservation.ErrOfferSoldOut
		}

		if err := openHoldTx(ctx, tx, hold); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO reservations (id, offer_id, customer_id, partner_id, status, quantity, points_spent, pickup_code, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ID, res.OfferID, res.CustomerID, res.PartnerID, res.Status,
			res.Quantity, res.PointsSpent, res.PickupCode,
			fmtTime(res.ExpiresAt), fmtTime(res.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
}

// =============================================================================
// READS
// =============================================================================

const reservationColumns = `SELECT id, offer_id, customer_id, partner_id, status, quantity, points_spent, pickup_code, expires_at, created_at, picked_up_at, resolved_at FROM reservations`

// GetReservation returns a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, id string) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanReservation(s.db.QueryRowContext(ctx, reservationColumns+" WHERE id = ?", id))
}

// GetReservationByCode returns the reservation matching a pickup code.
func (s *Store) GetReservationByCode(ctx context.Context, code string) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanReservation(s.db.QueryRowContext(ctx, reservationColumns+" WHERE pickup_code = ?", code))
}

// ListReservations returns a customer's reservations, newest first.
func (s *Store) ListReservations(ctx context.Context, customerID ledger.AccountID) ([]reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		reservationColumns+" WHERE customer_id = ? ORDER BY created_at DESC", customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.Reservation
	for rows.Next() {
		res, err := scanReservationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func scanReservation(row *sql.Row) (*reservation.Reservation, error) {
	var r reservation.Reservation
	var expiresAt, createdAt string
	var pickedUpAt, resolvedAt sql.NullString
	err := row.Scan(&r.ID, &r.OfferID, &r.CustomerID, &r.PartnerID, &r.Status,
		&r.Quantity, &r.PointsSpent, &r.PickupCode, &expiresAt, &createdAt, &pickedUpAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, reservation.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ExpiresAt = parseTime(expiresAt)
	r.CreatedAt = parseTime(createdAt)
	r.PickedUpAt = parseTimePtr(pickedUpAt)
	r.ResolvedAt = parseTimePtr(resolvedAt)
	return &r, nil
}

func scanReservationRows(rows *sql.Rows) (*reservation.Reservation, error) {
	var r reservation.Reservation
	var expiresAt, createdAt string
	var pickedUpAt, resolvedAt sql.NullString
	err := rows.Scan(&r.ID, &r.OfferID, &r.CustomerID, &r.PartnerID, &r.Status,
		&r.Quantity, &r.PointsSpent, &r.PickupCode, &expiresAt, &createdAt, &pickedUpAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	r.ExpiresAt = parseTime(expiresAt)
	r.CreatedAt = parseTime(createdAt)
	r.PickedUpAt = parseTimePtr(pickedUpAt)
	r.ResolvedAt = parseTimePtr(resolvedAt)
	return &r, nil
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

// CompletePickup moves ACTIVE -> PICKED_UP, captures the hold to the
// partner and increments the offer's claimed counter.
func (s *Store) CompletePickup(ctx context.Context, id string, now time.Time) (*reservation.Reservation, error) {
	var out *reservation.Reservation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := transitionTx(ctx, tx, id, reservation.StatusPickedUp, now)
		if err != nil {
			return err
		}
		hold, err := getHoldByReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := resolveHoldTx(ctx, tx, hold.ID, ledger.OutcomeCapture, res.PartnerID, fmtTime(now)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE offers SET claimed = claimed + ? WHERE id = ?",
			res.Quantity, res.OfferID,
		); err != nil {
			return fmt.Errorf("failed to update offer claimed count: %w", err)
		}
		pickedUp := now
		res.PickedUpAt = &pickedUp
		if _, err := tx.ExecContext(ctx,
			"UPDATE reservations SET picked_up_at = ? WHERE id = ?",
			fmtTime(now), id,
		); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelReservation moves ACTIVE -> CANCELLED and releases the hold.
func (s *Store) CancelReservation(ctx context.Context, id string, now time.Time) (*reservation.Reservation, error) {
	return s.releaseTransition(ctx, id, reservation.StatusCancelled, now)
}

// FailPickup moves ACTIVE -> FAILED_PICKUP and releases the hold.
func (s *Store) FailPickup(ctx context.Context, id string, now time.Time) (*reservation.Reservation, error) {
	return s.releaseTransition(ctx, id, reservation.StatusFailedPickup, now)
}

func (s *Store) releaseTransition(ctx context.Context, id string, to reservation.Status, now time.Time) (*reservation.Reservation, error) {
	var out *reservation.Reservation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := transitionTx(ctx, tx, id, to, now)
		if err != nil {
			return err
		}
		hold, err := getHoldByReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := resolveHoldTx(ctx, tx, hold.ID, ledger.OutcomeRelease, "", fmtTime(now)); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transitionTx re-reads the row and flips an ACTIVE reservation to the
// target status.
func transitionTx(ctx context.Context, tx dbtx, id string, to reservation.Status, now time.Time) (*reservation.Reservation, error) {
	res, err := scanReservation(tx.QueryRowContext(ctx, reservationColumns+" WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if res.Status != reservation.StatusActive {
		return nil, &reservation.InvalidTransitionError{
			ReservationID: id,
			Status:        res.Status,
			Attempted:     to,
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE reservations SET status = ?, resolved_at = ? WHERE id = ?",
		to, fmtTime(now), id,
	); err != nil {
		return nil, fmt.Errorf("failed to update reservation status: %w", err)
	}
	res.Status = to
	resolved := now
	res.ResolvedAt = &resolved
	return res, nil
}

// ExpireDue moves every overdue ACTIVE reservation to EXPIRED, releasing
// each hold in the same transaction as its flip.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]reservation.Reservation, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM reservations WHERE status = ? AND expires_at <= ?",
		reservation.StatusActive, fmtTime(now))
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	s.mu.RUnlock()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []reservation.Reservation
	for _, id := range ids {
		res, err := s.releaseTransition(ctx, id, reservation.StatusExpired, now)
		if err != nil {
			// A concurrent pickup or cancellation won the race for this
			// row; the sweep moves on.
			var ite *reservation.InvalidTransitionError
			if errors.As(err, &ite) {
				continue
			}
			return expired, err
		}
		expired = append(expired, *res)
	}
	return expired, nil
}
