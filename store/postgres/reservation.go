/*
reservation.go - reservation.Store implementation

Transitions lock the reservation row FOR UPDATE before flipping it, so a
duplicate trigger waits, sees the terminal status and gets
InvalidTransitionError. Creation locks the offer row while checking
remaining stock.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/reservation"
)

var _ reservation.Store = (*Store)(nil)

// UpsertOffer inserts or refreshes an offer shadow, preserving the
// claimed counter.
func (s *Store) UpsertOffer(ctx context.Context, offer reservation.Offer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO offers (id, partner_id, title, category, points_price, original_value, quantity, claimed, pickup_deadline)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			partner_id = EXCLUDED.partner_id,
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			points_price = EXCLUDED.points_price,
			original_value = EXCLUDED.original_value,
			quantity = EXCLUDED.quantity,
			pickup_deadline = EXCLUDED.pickup_deadline`,
		offer.ID, offer.PartnerID, offer.Title, offer.Category,
		offer.PointsPrice, offer.OriginalValue.String(), offer.Quantity,
		offer.Claimed, offer.PickupDeadline,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert offer: %w", err)
	}
	return nil
}

const offerColumns = `SELECT id, partner_id, title, category, points_price, original_value::text, quantity, claimed, pickup_deadline FROM offers`

// GetOffer returns an offer shadow.
func (s *Store) GetOffer(ctx context.Context, offerID string) (*reservation.Offer, error) {
	return scanOffer(s.pool.QueryRow(ctx, offerColumns+" WHERE id = $1", offerID))
}

func scanOffer(row pgx.Row) (*reservation.Offer, error) {
	var o reservation.Offer
	var originalValue string
	err := row.Scan(&o.ID, &o.PartnerID, &o.Title, &o.Category, &o.PointsPrice,
		&originalValue, &o.Quantity, &o.Claimed, &o.PickupDeadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reservation.ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	o.OriginalValue, err = decimal.NewFromString(originalValue)
	if err != nil {
		return nil, fmt.Errorf("invalid original_value %q: %w", originalValue, err)
	}
	return &o, nil
}

// CreateReservationWithHold verifies remaining stock under an offer row
// lock, debits the customer, inserts the hold and the reservation.
func (s *Store) CreateReservationWithHold(ctx context.Context, res reservation.Reservation, hold ledger.EscrowHold) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		offer, err := scanOffer(tx.QueryRow(ctx, offerColumns+" WHERE id = $1 FOR UPDATE", res.OfferID))
		if err != nil {
			return err
		}

		var reserved int
		if err := tx.QueryRow(ctx,
			"SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE offer_id = $1 AND status = $2",
			res.OfferID, reservation.StatusActive,
		).Scan(&reserved); err != nil {
			return err
		}
		if offer.Claimed+reserved+res.Quantity > offer.Quantity {
			return reservation.ErrOfferSoldOut
		}

		if err := openHoldTx(ctx, tx, hold); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO reservations (id, offer_id, customer_id, partner_id, status, quantity, points_spent, pickup_code, expires_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			res.ID, res.OfferID, res.CustomerID, res.PartnerID, res.Status,
			res.Quantity, res.PointsSpent, res.PickupCode, res.ExpiresAt, res.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
}

const reservationColumns = `SELECT id, offer_id, customer_id, partner_id, status, quantity, points_spent, pickup_code, expires_at, created_at, picked_up_at, resolved_at FROM reservations`

// GetReservation returns a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, id string) (*reservation.Reservation, error) {
	return scanReservation(s.pool.QueryRow(ctx, reservationColumns+" WHERE id = $1", id))
}

// GetReservationByCode returns the reservation matching a pickup code.
func (s *Store) GetReservationByCode(ctx context.Context, code string) (*reservation.Reservation, error) {
	return scanReservation(s.pool.QueryRow(ctx, reservationColumns+" WHERE pickup_code = $1", code))
}

// ListReservations returns a customer's reservations, newest first.
func (s *Store) ListReservations(ctx context.Context, customerID ledger.AccountID) ([]reservation.Reservation, error) {
	rows, err := s.pool.Query(ctx,
		reservationColumns+" WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.Reservation
	for rows.Next() {
		var r reservation.Reservation
		if err := rows.Scan(&r.ID, &r.OfferID, &r.CustomerID, &r.PartnerID, &r.Status,
			&r.Quantity, &r.PointsSpent, &r.PickupCode, &r.ExpiresAt, &r.CreatedAt,
			&r.PickedUpAt, &r.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReservation(row pgx.Row) (*reservation.Reservation, error) {
	var r reservation.Reservation
	err := row.Scan(&r.ID, &r.OfferID, &r.CustomerID, &r.PartnerID, &r.Status,
		&r.Quantity, &r.PointsSpent, &r.PickupCode, &r.ExpiresAt, &r.CreatedAt,
		&r.PickedUpAt, &r.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reservation.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CompletePickup moves ACTIVE -> PICKED_UP, captures the hold to the
// partner and increments the offer's claimed counter.
func (s *Store) CompletePickup(ctx context.Context, id string, now time.Time) (*reservation.Reservation, error) {
	var out *reservation.Reservation
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		res, err := transitionTx(ctx, tx, id, reservation.StatusPickedUp, now)
		if err != nil {
			return err
		}
		hold, err := scanHold(tx.QueryRow(ctx, holdColumns+" WHERE reservation_id = $1", id))
		if err != nil {
			return err
		}
		if _, err := resolveHoldTx(ctx, tx, hold.ID, ledger.OutcomeCapture, res.PartnerID, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE offers SET claimed = claimed + $1 WHERE id = $2",
			res.Quantity, res.OfferID,
		); err != nil {
			return fmt.Errorf("failed to update offer claimed count: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"UPDATE reservations SET picked_up_at = $1 WHERE id = $2", now, id,
		); err != nil {
			return err
		}
		pickedUp := now
		res.PickedUpAt = &pickedUp
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
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		res, err := transitionTx(ctx, tx, id, to, now)
		if err != nil {
			return err
		}
		hold, err := scanHold(tx.QueryRow(ctx, holdColumns+" WHERE reservation_id = $1", id))
		if err != nil {
			return err
		}
		if _, err := resolveHoldTx(ctx, tx, hold.ID, ledger.OutcomeRelease, "", now); err != nil {
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

func transitionTx(ctx context.Context, tx pgx.Tx, id string, to reservation.Status, now time.Time) (*reservation.Reservation, error) {
	res, err := scanReservation(tx.QueryRow(ctx, reservationColumns+" WHERE id = $1 FOR UPDATE", id))
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
	if _, err := tx.Exec(ctx,
		"UPDATE reservations SET status = $1, resolved_at = $2 WHERE id = $3",
		to, now, id,
	); err != nil {
		return nil, fmt.Errorf("failed to update reservation status: %w", err)
	}
	res.Status = to
	resolved := now
	res.ResolvedAt = &resolved
	return res, nil
}

// ExpireDue moves every overdue ACTIVE reservation to EXPIRED. Each flip
// is its own transaction; a row won by a concurrent pickup or
// cancellation is skipped.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]reservation.Reservation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id FROM reservations WHERE status = $1 AND expires_at <= $2",
		reservation.StatusActive, now)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []reservation.Reservation
	for _, id := range ids {
		res, err := s.releaseTransition(ctx, id, reservation.StatusExpired, now)
		if err != nil {
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
