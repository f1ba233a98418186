/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the ledger, escrow, lifecycle, penalty, cooldown, forgiveness
  and achievement operations via REST. Handles HTTP request/response,
  JSON serialization, identity checks and delegates to domain logic.

ENDPOINTS:
  Customer:
    POST /api/reservations              Reserve an offer
    GET  /api/reservations              List own reservations
    GET  /api/reservations/{id}         Get one reservation
    POST /api/reservations/{id}/cancel  Cancel before pickup
    GET  /api/balance                   Current balance
    GET  /api/transactions              Ledger history
    GET  /api/penalty                   Penalty standing
    POST /api/forgiveness               Ask a partner for forgiveness
    GET  /api/cooldown                  Cooldown status
    POST /api/cooldown/lift             Pay points to clear cooldown
    GET  /api/achievements              Badge progress
    POST /api/achievements/{id}/claim   Claim a badge reward

  Partner:
    POST /api/pickup/confirm              Confirm a scanned code
    POST /api/reservations/{id}/no-show   Report a no-show
    POST /api/forgiveness/{id}/resolve    Grant or deny forgiveness

  Admin:
    POST /api/admin/accounts    Register an account (returns a token)
    POST /api/admin/referrals   Record a completed referral
    POST /api/admin/sweep       Run the expiry and forgiveness sweeps
    POST /api/admin/demo        Seed demo accounts and offers

ERROR HANDLING:
  Business-rule rejections map to 4xx with {"success": false, "message"};
  benign idempotent outcomes (already claimed, already lifted) are 200
  with the flag set; only infrastructure failures surface as 500.

SEE ALSO:
  - dto.go:      request/response data structures
  - server.go:   router setup and middleware
  - identity.go: caller identity resolution
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mealrescue/points-engine/achievement"
	"github.com/mealrescue/points-engine/cooldown"
	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/penalty"
	"github.com/mealrescue/points-engine/reservation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger       *ledger.Service
	Escrow       *ledger.Manager
	Reservations *reservation.Service
	Penalties    *penalty.Engine
	Forgiveness  *penalty.Workflow
	Cooldowns    *cooldown.Guard
	Achievements *achievement.Engine
	Metrics      *Metrics
	Log          *zap.Logger

	// JWTSecret signs tokens issued by the account bootstrap endpoint.
	JWTSecret string
	// OpeningGrant seeds new customer accounts.
	OpeningGrant ledger.Points
}

// =============================================================================
// CUSTOMER: RESERVATIONS
// =============================================================================

// CreateReservation reserves a quantity of an offer for the caller.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OfferID == "" {
		writeError(w, http.StatusBadRequest, "offer_id is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	res, err := h.Reservations.Reserve(r.Context(), id.AccountID, req.OfferID, req.Quantity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.ReservationsCreated.Inc()
	writeJSON(w, http.StatusCreated, res)
}

// ListReservations returns the caller's reservations, newest first.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	list, err := h.Reservations.List(r.Context(), id.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []reservation.Reservation{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetReservation returns one reservation visible to the caller.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	res, err := h.Reservations.Get(r.Context(), id.AccountID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelReservation moves the caller's reservation to CANCELLED.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	res, err := h.Reservations.Cancel(r.Context(), id.AccountID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.Cancellations.Inc()
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// PARTNER: PICKUP AND NO-SHOW
// =============================================================================

// ConfirmPickup validates a scanned code and completes the pickup.
func (h *Handler) ConfirmPickup(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req ConfirmPickupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	result, err := h.Reservations.ConfirmPickup(r.Context(), id.AccountID, req.Code)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.PickupsConfirmed.Inc()
	writeJSON(w, http.StatusOK, PickupResponse{
		Success:     true,
		Reservation: result.Reservation,
		Unlocked:    result.Unlocked,
	})
}

// ReportNoShow marks an unfulfilled reservation and escalates the
// customer's penalty.
func (h *Handler) ReportNoShow(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	res, pen, err := h.Reservations.ReportNoShow(r.Context(), id.AccountID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.NoShows.Inc()
	writeJSON(w, http.StatusOK, NoShowResponse{Success: true, Reservation: res, Penalty: pen})
}

// =============================================================================
// BALANCE & HISTORY
// =============================================================================

// GetBalance returns the caller's current balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	balance, err := h.Ledger.Balance(r.Context(), id.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{AccountID: string(id.AccountID), Balance: balance})
}

// GetTransactions returns the caller's ledger history, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	txs, err := h.Ledger.History(r.Context(), id.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = TransactionDTO{
			ID:            t.ID,
			Delta:         t.Delta,
			Reason:        string(t.Reason),
			ReservationID: t.ReservationID,
			Metadata:      t.Metadata,
			CreatedAt:     t.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PENALTY & FORGIVENESS
// =============================================================================

// GetPenalty returns the caller's penalty standing.
func (h *Handler) GetPenalty(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	resp := PenaltyResponse{}
	pen, err := h.Penalties.Get(r.Context(), id.AccountID)
	if err != nil && !errors.Is(err, penalty.ErrNoPenalty) {
		h.writeDomainError(w, err)
		return
	}
	if pen != nil {
		resp.NoShowCount = pen.NoShowCount
	}
	suspended, until, err := h.Penalties.IsSuspended(r.Context(), id.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp.Suspended = suspended
	resp.SuspendedUntil = until
	writeJSON(w, http.StatusOK, resp)
}

// RequestForgiveness opens a forgiveness request with a partner.
func (h *Handler) RequestForgiveness(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req ForgivenessRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fr, err := h.Forgiveness.Request(r.Context(), id.AccountID,
		ledger.AccountID(req.PartnerID), req.ReservationID, req.Message)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fr)
}

// ResolveForgiveness lets the addressed partner grant or deny a request.
func (h *Handler) ResolveForgiveness(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req ResolveForgivenessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reqID := chi.URLParam(r, "id")
	fr, err := h.Forgiveness.Get(r.Context(), reqID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if fr.PartnerID != id.AccountID {
		writeError(w, http.StatusForbidden, "request is addressed to another partner")
		return
	}
	fr, err = h.Forgiveness.Resolve(r.Context(), reqID, req.Granted, id.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

// =============================================================================
// COOLDOWN
// =============================================================================

// GetCooldown returns the caller's cooldown status.
func (h *Handler) GetCooldown(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	st, err := h.Cooldowns.Status(r.Context(), id.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// LiftCooldown clears an active cooldown by spending points. A repeat
// attempt on the same local day is a friendly rejection, not an error.
func (h *Handler) LiftCooldown(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	lift, err := h.Cooldowns.LiftWithPoints(r.Context(), id.AccountID)
	if err != nil {
		if errors.Is(err, cooldown.ErrLiftUsedToday) {
			writeJSON(w, http.StatusOK, CooldownLiftResponse{
				Success: false,
				Message: "cooldown lift already used today",
			})
			return
		}
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CooldownLiftResponse{Success: true, PointsSpent: lift.Cost})
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

// ListAchievements returns the caller's progress against the catalog.
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	progress, err := h.Achievements.ProgressFor(r.Context(), id.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	stats, err := h.Achievements.Stats(r.Context(), id.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AchievementsResponse{Achievements: progress, Stats: stats})
}

// ClaimAchievement credits the badge reward. Idempotent.
func (h *Handler) ClaimAchievement(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	result, err := h.Achievements.Claim(r.Context(), id.AccountID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		Success:        true,
		AlreadyClaimed: result.AlreadyClaimed,
		RewardPoints:   result.Reward,
		Balance:        result.NewBalance,
	})
}

// =============================================================================
// ADMIN
// =============================================================================

// CreateAccount registers a new balance holder and returns a token for
// it. Customers receive the opening grant.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := ledger.AccountKind(req.Kind)
	if kind != ledger.KindCustomer && kind != ledger.KindPartner {
		writeError(w, http.StatusBadRequest, "kind must be customer or partner")
		return
	}
	grant := ledger.Points(0)
	role := RolePartner
	if kind == ledger.KindCustomer {
		grant = h.OpeningGrant
		role = RoleCustomer
	}
	acc, err := h.Ledger.CreateAccount(r.Context(), ledger.AccountID(req.ID), kind, grant)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	token, err := IssueToken(h.JWTSecret, acc.ID, role, 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"account": acc,
		"token":   token,
	})
}

// RecordReferral credits a completed referral to the referrer and
// evaluates achievements.
func (h *Handler) RecordReferral(w http.ResponseWriter, r *http.Request) {
	var req RecordReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	unlocked, err := h.Achievements.RecordReferral(r.Context(), ledger.AccountID(req.ReferrerID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": unlocked})
}

// TriggerSweep runs the expiry and forgiveness sweeps immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	expired, err := h.Reservations.ExpireDue(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	denied, err := h.Forgiveness.AutoDenyExpired(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.ReservationsExpired.Add(float64(expired))
	writeJSON(w, http.StatusOK, SweepResponse{Expired: expired, AutoDenied: denied})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError converts a domain error into the API envelope.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		writeError(w, http.StatusPaymentRequired,
			fmt.Sprintf("insufficient balance: you need %d more points", insufficient.Shortfall()))
		return
	}
	var suspended *reservation.SuspendedError
	if errors.As(err, &suspended) {
		writeError(w, http.StatusForbidden,
			fmt.Sprintf("account suspended until %s", suspended.Until.Format(time.RFC3339)))
		return
	}
	var cooling *reservation.CooldownError
	if errors.As(err, &cooling) {
		writeError(w, http.StatusForbidden,
			fmt.Sprintf("cancellation cooldown active until %s", cooling.Until.Format(time.RFC3339)))
		return
	}

	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrHoldNotFound),
		errors.Is(err, reservation.ErrReservationNotFound),
		errors.Is(err, reservation.ErrOfferNotFound),
		errors.Is(err, penalty.ErrRequestNotFound),
		errors.Is(err, achievement.ErrDefinitionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, penalty.ErrNoPenalty),
		errors.Is(err, achievement.ErrNotUnlocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reservation.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, reservation.ErrInvalidTransition),
		errors.Is(err, penalty.ErrRequestPending),
		errors.Is(err, penalty.ErrRequestResolved),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, ledger.ErrHoldExists),
		errors.Is(err, cooldown.ErrNotBlocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reservation.ErrOfferSoldOut),
		errors.Is(err, reservation.ErrOfferExpired):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.Log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}
