/*
forgiveness.go - Partner-initiated penalty reversal

A partner who believes a no-show was wrongly recorded (or chooses to be
lenient) can grant forgiveness: the request is reviewed, and granting it
decrements the user's no-show count and clears any active suspension.

At most one request may be pending per user at a time. Requests left
unresolved past their deadline are denied by the background sweep so
users are not strung along indefinitely.
*/
package penalty

import (
	"context"
	"fmt"
	"time"

	"github.com/mealrescue/points-engine/ledger"
)

// RequestStatus is the lifecycle state of a forgiveness request.
type RequestStatus string

const (
	RequestPending RequestStatus = "pending"
	RequestGranted RequestStatus = "granted"
	RequestDenied  RequestStatus = "denied"
)

// ForgivenessRequest asks a partner to reverse one recorded no-show.
type ForgivenessRequest struct {
	ID            string           `json:"id"`
	UserID        ledger.AccountID `json:"user_id"`
	PartnerID     ledger.AccountID `json:"partner_id"`
	ReservationID string           `json:"reservation_id,omitempty"`
	Message       string           `json:"message,omitempty"`
	Status        RequestStatus    `json:"status"`
	Deadline      time.Time        `json:"deadline"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy    ledger.AccountID `json:"resolved_by,omitempty"`
}

// Pending reports whether the request still awaits a decision.
func (fr *ForgivenessRequest) Pending() bool {
	return fr.Status == RequestPending
}

// Workflow drives forgiveness requests from creation to resolution.
type Workflow struct {
	Store    Store
	Calendar *ledger.Calendar

	// ResponseWindow is how long a partner has to respond before the
	// request is auto-denied.
	ResponseWindow time.Duration
}

func NewWorkflow(store Store, cal *ledger.Calendar, responseWindow time.Duration) *Workflow {
	if responseWindow <= 0 {
		responseWindow = 24 * time.Hour
	}
	return &Workflow{Store: store, Calendar: cal, ResponseWindow: responseWindow}
}

// Request opens a forgiveness request addressed to the partner.
// Errors: ErrNoPenalty (nothing to forgive), ErrRequestPending.
func (w *Workflow) Request(ctx context.Context, userID, partnerID ledger.AccountID, reservationID, message string) (*ForgivenessRequest, error) {
	if partnerID == "" {
		return nil, fmt.Errorf("forgiveness request requires a partner account")
	}
	p, err := w.Store.GetPenalty(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.NoShowCount < 1 {
		return nil, ErrNoPenalty
	}
	now := w.Calendar.Now()
	fr := ForgivenessRequest{
		ID:            ledger.NewID("forgive"),
		UserID:        userID,
		PartnerID:     partnerID,
		ReservationID: reservationID,
		Message:       message,
		Status:        RequestPending,
		Deadline:      now.Add(w.ResponseWindow),
		CreatedAt:     now,
	}
	if err := w.Store.CreateForgivenessRequest(ctx, fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

// Resolve settles a pending request. Granting it decrements the user's
// no-show count and lifts any active suspension in the same transaction.
// Errors: ErrRequestNotFound, ErrRequestResolved.
func (w *Workflow) Resolve(ctx context.Context, id string, granted bool, resolvedBy ledger.AccountID) (*ForgivenessRequest, error) {
	return w.Store.ResolveForgiveness(ctx, id, granted, resolvedBy, w.Calendar.Now())
}

// Get returns a request by ID.
func (w *Workflow) Get(ctx context.Context, id string) (*ForgivenessRequest, error) {
	return w.Store.GetForgivenessRequest(ctx, id)
}

// AutoDenyExpired denies every pending request past its deadline. Called
// by the background scheduler; returns the number denied.
func (w *Workflow) AutoDenyExpired(ctx context.Context) (int, error) {
	return w.Store.AutoDenyExpiredForgiveness(ctx, w.Calendar.Now())
}
