/*
store.go - Persistence interface for accounts, transactions and holds

PURPOSE:
  Defines the contract between the ledger/escrow layer and the database.
  Every method that mutates state is one atomic store-level routine: it
  runs inside a single database transaction that first takes an exclusive
  lock on the relevant account (or hold) row, so concurrent operations on
  the same entity are strictly serialized while unrelated entities never
  block each other.

IMPLEMENTATIONS:
  - store/postgres: production store (pgx, SELECT ... FOR UPDATE)
  - store/sqlite:   dev/test store (single-writer serialization)

ATOMICITY CONTRACT:
  ApplyTransaction appends exactly one transaction row AND updates the
  materialized balance, or does neither. OpenHold debits the customer and
  inserts the hold in the same transaction. ResolveHold flips the hold to
  a terminal status and credits the receiving account together — a crash
  can never leave a credited-but-open or resolved-but-uncredited hold.
*/
package ledger

import "context"

// Store handles persistence for the balance ledger and escrow holds.
type Store interface {
	// CreateAccount inserts a new account. Returns ErrAccountExists if the
	// ID is taken.
	CreateAccount(ctx context.Context, acc Account) error

	// GetAccount returns an account by ID, or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// ApplyTransaction atomically appends a ledger transaction and updates
	// the account balance, holding an exclusive lock on the account row for
	// the duration. Returns the new balance.
	// Errors: ErrAccountNotFound, InsufficientBalanceError.
	ApplyTransaction(ctx context.Context, accountID AccountID, delta Points, reason ReasonCode, reservationID string, meta map[string]string) (Points, error)

	// Transactions returns the account's ledger history, newest first.
	Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// OpenHold atomically debits hold.Points from the customer and inserts
	// the hold row. Errors: ErrHoldExists (reservation already has a hold),
	// ErrAccountNotFound, InsufficientBalanceError.
	OpenHold(ctx context.Context, hold EscrowHold) error

	// GetHold returns a hold by ID, or ErrHoldNotFound.
	GetHold(ctx context.Context, holdID string) (*EscrowHold, error)

	// GetHoldByReservation returns the hold backing a reservation, or
	// ErrHoldNotFound.
	GetHoldByReservation(ctx context.Context, reservationID string) (*EscrowHold, error)

	// ResolveHold moves an open hold to a terminal status and credits the
	// held points: to the customer (release/refund) or to creditTo
	// (capture/pickup transfer). If the hold is already terminal the call
	// is a no-op and AlreadyResolved is set — duplicate triggers from
	// retried lifecycle transitions are expected, not errors.
	ResolveHold(ctx context.Context, holdID string, outcome HoldOutcome, creditTo AccountID) (*HoldResult, error)
}
