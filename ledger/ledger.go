/*
ledger.go - Balance mutation service

PURPOSE:
  The Service is the only write path to account balances. It validates
  input and delegates to the store's atomic ApplyTransaction routine,
  which serializes concurrent spends on the same account with a row lock.

WHY LOCKED READS, NOT OPTIMISTIC RETRIES:
  Balances back the reservation-payment guarantee. Under optimistic
  concurrency two simultaneous spends can both read the same stale high
  balance and overspend before either retry fires. An exclusive lock on
  the account row for the duration of the store transaction makes the
  second spend wait and see the first one's result.

SEE ALSO:
  - escrow.go: holds built on ApplyTransaction
  - store.go: the atomicity contract
*/
package ledger

import (
	"context"
	"fmt"
)

// Service exposes balance reads and the single balance write operation.
type Service struct {
	Store Store
	Clock Clock
}

func NewService(store Store, clock Clock) *Service {
	if clock == nil {
		clock = SystemClock()
	}
	return &Service{Store: store, Clock: clock}
}

// CreateAccount registers a new balance holder, optionally seeding it with
// an opening grant (recorded as a regular ledger transaction so the
// balance projection invariant holds from the first row).
func (s *Service) CreateAccount(ctx context.Context, id AccountID, kind AccountKind, openingGrant Points) (*Account, error) {
	if id == "" {
		return nil, fmt.Errorf("account id must not be empty")
	}
	if kind != KindCustomer && kind != KindPartner {
		return nil, fmt.Errorf("unknown account kind %q", kind)
	}
	acc := Account{ID: id, Kind: kind, Balance: 0, CreatedAt: s.Clock.Now()}
	if err := s.Store.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}
	if openingGrant > 0 {
		balance, err := s.Store.ApplyTransaction(ctx, id, openingGrant, ReasonOpeningGrant, "", nil)
		if err != nil {
			return nil, err
		}
		acc.Balance = balance
	}
	return &acc, nil
}

// Apply records one signed balance change. Negative deltas are rejected
// with InsufficientBalanceError when they would drive the balance below
// zero; the store guarantees exactly one transaction row per successful
// call.
func (s *Service) Apply(ctx context.Context, accountID AccountID, delta Points, reason ReasonCode, reservationID string, meta map[string]string) (Points, error) {
	if delta == 0 {
		return 0, ErrZeroDelta
	}
	return s.Store.ApplyTransaction(ctx, accountID, delta, reason, reservationID, meta)
}

// Balance returns the current materialized balance.
func (s *Service) Balance(ctx context.Context, accountID AccountID) (Points, error) {
	acc, err := s.Store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Account returns the full account record.
func (s *Service) Account(ctx context.Context, accountID AccountID) (*Account, error) {
	return s.Store.GetAccount(ctx, accountID)
}

// History returns the account's transaction log, newest first.
func (s *Service) History(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	if _, err := s.Store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.Store.Transactions(ctx, accountID)
}
