/*
Package ledger is the core points engine.

PURPOSE:
  This package contains the authoritative balance ledger and the escrow
  manager built on top of it. Every points movement in the marketplace —
  reservation payments, refunds, pickup transfers, achievement rewards,
  cooldown lifts — flows through here as an immutable ledger transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a customer or partner balance holder
  - Points: the marketplace virtual currency (whole, non-negative balances)
  - Transaction: an immutable ledger entry recording a balance change
  - EscrowHold: points held against an active reservation

DESIGN PRINCIPLES:
  1. Immutability: transactions are appended, never modified
  2. Projection: Account.Balance always equals the sum of its transaction
     deltas — the store enforces both in one atomic operation
  3. Type safety: AccountID / ReasonCode prevent stringly-typed mistakes
  4. Auditability: every transaction carries a reason and optional metadata

SEE ALSO:
  - ledger.go: the balance mutation service
  - escrow.go: hold open/release/capture on top of the ledger
  - store.go: persistence interface implemented by store/sqlite and
    store/postgres
*/
package ledger

import "time"

// =============================================================================
// POINTS - Marketplace virtual currency
// =============================================================================

// Points is a whole-number quantity of the marketplace currency.
// Balances are never negative; individual transaction deltas may be.
type Points int64

// =============================================================================
// ACCOUNT - Balance holder
// =============================================================================

type AccountID string

type AccountKind string

const (
	KindCustomer AccountKind = "customer"
	KindPartner  AccountKind = "partner"
)

// Account is the materialized balance for one customer or partner.
// It is created alongside the user/partner record and soft-retained
// forever for audit; the balance is mutated only through transactions.
type Account struct {
	ID        AccountID   `json:"id"`
	Kind      AccountKind `json:"kind"`
	Balance   Points      `json:"balance"`
	CreatedAt time.Time   `json:"created_at"`
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

// ReasonCode explains why a balance changed. New codes may be added;
// existing codes are never renamed (they live in the audit log forever).
type ReasonCode string

const (
	ReasonOpeningGrant       ReasonCode = "opening-grant"
	ReasonReservationPayment ReasonCode = "reservation-payment"
	ReasonRefund             ReasonCode = "refund"
	ReasonPickupTransfer     ReasonCode = "pickup-transfer"
	ReasonAchievementReward  ReasonCode = "achievement-reward"
	ReasonPenaltyLift        ReasonCode = "penalty-lift"
	ReasonAdjustment         ReasonCode = "adjustment"
)

// Transaction records one signed balance change on one account.
// The store appends exactly one row per applied change — there is no
// partial application.
type Transaction struct {
	ID            int64             `json:"id"`
	AccountID     AccountID         `json:"account_id"`
	Delta         Points            `json:"delta"`
	Reason        ReasonCode        `json:"reason"`
	ReservationID string            `json:"reservation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// =============================================================================
// ESCROW HOLD - Points parked against an active reservation
// =============================================================================

type HoldStatus string

const (
	HoldOpen     HoldStatus = "open"
	HoldReleased HoldStatus = "released" // refunded to the customer
	HoldCaptured HoldStatus = "captured" // transferred to the partner
)

// EscrowHold tracks points removed from a customer's balance for the
// duration of a reservation. A reservation has at most one hold, and a
// hold resolves exactly once: released or captured, never both.
type EscrowHold struct {
	ID            string     `json:"id"`
	ReservationID string     `json:"reservation_id"`
	CustomerID    AccountID  `json:"customer_id"`
	Points        Points     `json:"points"`
	Status        HoldStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the hold has reached a terminal status.
func (h EscrowHold) Resolved() bool {
	return h.Status == HoldReleased || h.Status == HoldCaptured
}

// HoldOutcome is a terminal hold status requested by a resolver.
type HoldOutcome string

const (
	OutcomeRelease HoldOutcome = "release"
	OutcomeCapture HoldOutcome = "capture"
)

// HoldResult reports the hold state after a resolution attempt.
// AlreadyResolved is a benign outcome: a duplicate trigger from a retried
// lifecycle transition found the hold already terminal.
type HoldResult struct {
	Hold            EscrowHold
	AlreadyResolved bool
}
