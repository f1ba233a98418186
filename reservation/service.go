/*
service.go - Lifecycle orchestration

The Service is the only entry point for reservation mutations. It runs
the guard checks (suspension, cooldown, ownership), fetches offers into
the shadow table on first sight, and fires the post-commit side effects
(stats, penalties, cooldown events) after each transition.
*/
package reservation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mealrescue/points-engine/achievement"
	"github.com/mealrescue/points-engine/catalog"
	"github.com/mealrescue/points-engine/cooldown"
	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/penalty"
)

// Rules are the tunable policy knobs of the lifecycle.
type Rules struct {
	// CountExpiryAsNoShow treats a timed-out reservation like a
	// partner-reported no-show. Off by default: a timeout is usually the
	// partner closing early or the customer running late, not abuse.
	CountExpiryAsNoShow bool
}

// Service orchestrates reservation transitions and their side effects.
type Service struct {
	Store        Store
	Catalog      catalog.Source
	Penalties    *penalty.Engine
	Cooldowns    *cooldown.Guard
	Achievements *achievement.Engine
	Calendar     *ledger.Calendar
	Rules        Rules
	Log          *zap.Logger
}

func NewService(store Store, src catalog.Source, pen *penalty.Engine, cd *cooldown.Guard, ach *achievement.Engine, cal *ledger.Calendar, rules Rules, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Store:        store,
		Catalog:      src,
		Penalties:    pen,
		Cooldowns:    cd,
		Achievements: ach,
		Calendar:     cal,
		Rules:        rules,
		Log:          log,
	}
}

// PickupResult reports a confirmed pickup and any badges it unlocked.
type PickupResult struct {
	Reservation *Reservation `json:"reservation"`
	Unlocked    []string     `json:"unlocked,omitempty"`
}

// Reserve creates a reservation for qty units of an offer. The customer
// must be neither suspended nor cooling down; the points debit, escrow
// hold and reservation insert are one atomic store routine.
func (s *Service) Reserve(ctx context.Context, customerID ledger.AccountID, offerID string, qty int) (*Reservation, error) {
	if qty < 1 {
		return nil, &ledger.ValidationError{Reason: fmt.Sprintf("quantity must be at least 1, got %d", qty)}
	}

	suspended, until, err := s.Penalties.IsSuspended(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if suspended {
		return nil, &SuspendedError{Until: *until}
	}

	cd, err := s.Cooldowns.Status(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if cd.Blocked {
		return nil, &CooldownError{Until: *cd.BlockedUntil}
	}

	offer, err := s.offer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	now := s.Calendar.Now()
	expiresAt := offer.PickupDeadline
	if !expiresAt.After(now) {
		return nil, ErrOfferExpired
	}

	code, err := newPickupCode()
	if err != nil {
		return nil, err
	}
	res := Reservation{
		ID:          ledger.NewID("resv"),
		OfferID:     offer.ID,
		CustomerID:  customerID,
		PartnerID:   offer.PartnerID,
		Status:      StatusActive,
		Quantity:    qty,
		PointsSpent: offer.PointsPrice * ledger.Points(qty),
		PickupCode:  code,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	hold := ledger.EscrowHold{
		ID:            ledger.NewID("hold"),
		ReservationID: res.ID,
		CustomerID:    customerID,
		Points:        res.PointsSpent,
		Status:        ledger.HoldOpen,
		CreatedAt:     now,
	}
	if err := s.Store.CreateReservationWithHold(ctx, res, hold); err != nil {
		return nil, err
	}
	s.Log.Info("reservation created",
		zap.String("reservation_id", res.ID),
		zap.String("offer_id", offer.ID),
		zap.String("customer_id", string(customerID)),
		zap.Int64("points", int64(res.PointsSpent)))
	return &res, nil
}

// offer returns the shadow row, fetching from the catalog on first sight.
func (s *Service) offer(ctx context.Context, offerID string) (*Offer, error) {
	shadow, err := s.Store.GetOffer(ctx, offerID)
	if err == nil {
		return shadow, nil
	}
	if !errors.Is(err, ErrOfferNotFound) {
		return nil, err
	}
	fetched, err := s.Catalog.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, catalog.ErrOfferNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	shadow = &Offer{
		ID:             fetched.ID,
		PartnerID:      fetched.PartnerID,
		Title:          fetched.Title,
		Category:       fetched.Category,
		PointsPrice:    fetched.PointsPrice,
		OriginalValue:  fetched.OriginalValue,
		Quantity:       fetched.Quantity,
		PickupDeadline: fetched.PickupDeadline,
	}
	if err := s.Store.UpsertOffer(ctx, *shadow); err != nil {
		return nil, err
	}
	return shadow, nil
}

// ConfirmPickup validates a scanned code against an ACTIVE reservation at
// the calling partner's venue, captures the hold and folds the pickup
// into the customer's stats. Stat and achievement failures are logged,
// not surfaced: the pickup itself has already committed.
func (s *Service) ConfirmPickup(ctx context.Context, partnerID ledger.AccountID, code string) (*PickupResult, error) {
	res, err := s.Store.GetReservationByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if res.PartnerID != partnerID {
		return nil, ErrNotOwner
	}
	res, err = s.Store.CompletePickup(ctx, res.ID, s.Calendar.Now())
	if err != nil {
		return nil, err
	}

	offer, err := s.Store.GetOffer(ctx, res.OfferID)
	if err != nil {
		s.Log.Error("pickup stats skipped, offer shadow missing",
			zap.String("reservation_id", res.ID), zap.Error(err))
		return &PickupResult{Reservation: res}, nil
	}
	ev := achievement.PickupEvent{
		PartnerID: res.PartnerID,
		Category:  offer.Category,
		Value:     offer.OriginalValue.Mul(decimal.NewFromInt(int64(res.Quantity))),
	}
	unlocked, err := s.Achievements.RecordPickup(ctx, res.CustomerID, ev)
	if err != nil {
		s.Log.Error("achievement evaluation failed after pickup",
			zap.String("reservation_id", res.ID), zap.Error(err))
	}
	return &PickupResult{Reservation: res, Unlocked: unlocked}, nil
}

// Cancel moves the customer's reservation to CANCELLED, refunds the hold
// and records a cancellation event for the cooldown guard.
func (s *Service) Cancel(ctx context.Context, customerID ledger.AccountID, reservationID string) (*Reservation, error) {
	res, err := s.Store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.CustomerID != customerID {
		return nil, ErrNotOwner
	}
	res, err = s.Store.CancelReservation(ctx, reservationID, s.Calendar.Now())
	if err != nil {
		return nil, err
	}
	if err := s.Cooldowns.RecordCancellation(ctx, customerID); err != nil {
		s.Log.Error("cancellation not recorded for cooldown",
			zap.String("reservation_id", reservationID), zap.Error(err))
	}
	return res, nil
}

// ReportNoShow lets the partner mark an unfulfilled reservation. The hold
// is refunded (the partner gets nothing for an unfulfilled pickup) and
// the customer's penalty record escalates.
func (s *Service) ReportNoShow(ctx context.Context, partnerID ledger.AccountID, reservationID string) (*Reservation, *penalty.Penalty, error) {
	res, err := s.Store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, nil, err
	}
	if res.PartnerID != partnerID {
		return nil, nil, ErrNotOwner
	}
	res, err = s.Store.FailPickup(ctx, reservationID, s.Calendar.Now())
	if err != nil {
		return nil, nil, err
	}
	pen, err := s.Penalties.RecordNoShow(ctx, res.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	return res, pen, nil
}

// ExpireDue sweeps timed-out reservations into EXPIRED, refunding each
// hold. Called by the background scheduler. Returns how many expired.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired, err := s.Store.ExpireDue(ctx, s.Calendar.Now())
	if err != nil {
		return 0, err
	}
	if s.Rules.CountExpiryAsNoShow {
		for _, res := range expired {
			if _, err := s.Penalties.RecordNoShow(ctx, res.CustomerID); err != nil {
				s.Log.Error("no-show not recorded for expired reservation",
					zap.String("reservation_id", res.ID), zap.Error(err))
			}
		}
	}
	return len(expired), nil
}

// Get returns a reservation visible to the caller.
func (s *Service) Get(ctx context.Context, callerID ledger.AccountID, reservationID string) (*Reservation, error) {
	res, err := s.Store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.CustomerID != callerID && res.PartnerID != callerID {
		return nil, ErrNotOwner
	}
	return res, nil
}

// List returns the customer's reservations, newest first.
func (s *Service) List(ctx context.Context, customerID ledger.AccountID) ([]Reservation, error) {
	return s.Store.ListReservations(ctx, customerID)
}

// newPickupCode mints the secret presented at the counter.
func newPickupCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pickup code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
