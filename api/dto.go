/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *Response: response wrappers where a bare domain type is not enough

ERROR ENVELOPE:
  Business-rule rejections come back as {"success": false, "message": …}
  with a 4xx status; benign idempotent outcomes (already claimed, already
  lifted today) come back as 200 with the corresponding flag set.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/mealrescue/points-engine/achievement"
	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/penalty"
	"github.com/mealrescue/points-engine/reservation"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateReservationRequest reserves a quantity of an offer.
type CreateReservationRequest struct {
	OfferID  string `json:"offer_id"`
	Quantity int    `json:"quantity"`
}

// ConfirmPickupRequest carries the scanned pickup code.
type ConfirmPickupRequest struct {
	Code string `json:"code"`
}

// ForgivenessRequestBody opens a forgiveness request with a partner.
type ForgivenessRequestBody struct {
	PartnerID     string `json:"partner_id"`
	ReservationID string `json:"reservation_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// ResolveForgivenessRequest settles a pending forgiveness request.
type ResolveForgivenessRequest struct {
	Granted bool `json:"granted"`
}

// CreateAccountRequest registers a new balance holder.
type CreateAccountRequest struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// RecordReferralRequest credits a completed referral to the referrer.
type RecordReferralRequest struct {
	ReferrerID string `json:"referrer_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// ErrorResponse is the envelope for rejected requests.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BalanceResponse reports an account's current balance.
type BalanceResponse struct {
	AccountID string        `json:"account_id"`
	Balance   ledger.Points `json:"balance"`
}

// TransactionDTO is one ledger entry in API responses.
type TransactionDTO struct {
	ID            int64             `json:"id"`
	Delta         ledger.Points     `json:"delta"`
	Reason        string            `json:"reason"`
	ReservationID string            `json:"reservation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// PickupResponse reports a confirmed pickup and any badges it unlocked.
type PickupResponse struct {
	Success     bool                     `json:"success"`
	Reservation *reservation.Reservation `json:"reservation"`
	Unlocked    []string                 `json:"unlocked,omitempty"`
}

// NoShowResponse pairs the failed reservation with the resulting penalty.
type NoShowResponse struct {
	Success     bool                     `json:"success"`
	Reservation *reservation.Reservation `json:"reservation"`
	Penalty     *penalty.Penalty         `json:"penalty"`
}

// PenaltyResponse is the user's penalty standing.
type PenaltyResponse struct {
	NoShowCount    int        `json:"no_show_count"`
	Suspended      bool       `json:"suspended"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
}

// CooldownLiftResponse reports a paid lift attempt.
type CooldownLiftResponse struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message,omitempty"`
	PointsSpent ledger.Points `json:"points_spent,omitempty"`
}

// ClaimResponse reports an achievement reward claim.
type ClaimResponse struct {
	Success        bool          `json:"success"`
	AlreadyClaimed bool          `json:"already_claimed"`
	RewardPoints   ledger.Points `json:"reward_points"`
	Balance        ledger.Points `json:"balance"`
}

// AchievementsResponse lists catalog progress plus raw stats.
type AchievementsResponse struct {
	Achievements []achievement.Progress `json:"achievements"`
	Stats        *achievement.Stats     `json:"stats"`
}

// SweepResponse reports one manual sweep run.
type SweepResponse struct {
	Expired    int `json:"expired"`
	AutoDenied int `json:"auto_denied"`
}
