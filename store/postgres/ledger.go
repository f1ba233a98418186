/*
ledger.go - ledger.Store implementation

applyTx locks the account row with SELECT ... FOR UPDATE before reading
the balance: the second of two concurrent spends waits on the lock and
sees the first one's committed result, so stale-read overspends cannot
happen.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mealrescue/points-engine/ledger"
)

var _ ledger.Store = (*Store)(nil)

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, acc ledger.Account) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO accounts (id, kind, balance, created_at) VALUES ($1, $2, $3, $4)",
		acc.ID, acc.Kind, acc.Balance, acc.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount returns an account by ID.
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	var acc ledger.Account
	err := s.pool.QueryRow(ctx,
		"SELECT id, kind, balance, created_at FROM accounts WHERE id = $1", id,
	).Scan(&acc.ID, &acc.Kind, &acc.Balance, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// ApplyTransaction atomically appends a ledger transaction and updates
// the account balance under a row lock.
func (s *Store) ApplyTransaction(ctx context.Context, accountID ledger.AccountID, delta ledger.Points, reason ledger.ReasonCode, reservationID string, meta map[string]string) (ledger.Points, error) {
	var newBalance ledger.Points
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		newBalance, err = applyTx(ctx, tx, accountID, delta, reason, reservationID, meta, time.Now())
		return err
	})
	return newBalance, err
}

// applyTx is the balance mutation primitive. Must run inside a
// transaction; takes the row lock itself.
func applyTx(ctx context.Context, tx pgx.Tx, accountID ledger.AccountID, delta ledger.Points, reason ledger.ReasonCode, reservationID string, meta map[string]string, now time.Time) (ledger.Points, error) {
	var balance ledger.Points
	err := tx.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", accountID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return 0, &ledger.InsufficientBalanceError{
			AccountID: accountID,
			Balance:   balance,
			Requested: -delta,
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE accounts SET balance = $1 WHERE id = $2", newBalance, accountID,
	); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	var resID *string
	if reservationID != "" {
		resID = &reservationID
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (account_id, delta, reason, reservation_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID, delta, reason, resID, meta, now,
	); err != nil {
		return 0, fmt.Errorf("failed to append transaction: %w", err)
	}

	return newBalance, nil
}

// Transactions returns the account's ledger history, newest first.
func (s *Store) Transactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, delta, reason, COALESCE(reservation_id, ''), COALESCE(metadata, '{}'::jsonb), created_at
		 FROM transactions WHERE account_id = $1 ORDER BY id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Delta, &t.Reason, &t.ReservationID, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// OpenHold atomically debits the customer and inserts the hold row.
func (s *Store) OpenHold(ctx context.Context, hold ledger.EscrowHold) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return openHoldTx(ctx, tx, hold)
	})
}

func openHoldTx(ctx context.Context, tx pgx.Tx, hold ledger.EscrowHold) error {
	if _, err := applyTx(ctx, tx, hold.CustomerID, -hold.Points, ledger.ReasonReservationPayment, hold.ReservationID, nil, hold.CreatedAt); err != nil {
		return err
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO holds (id, reservation_id, customer_id, points, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		hold.ID, hold.ReservationID, hold.CustomerID, hold.Points, hold.Status, hold.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrHoldExists
		}
		return fmt.Errorf("failed to insert hold: %w", err)
	}
	return nil
}

const holdColumns = `SELECT id, reservation_id, customer_id, points, status, created_at, resolved_at FROM holds`

// GetHold returns a hold by ID.
func (s *Store) GetHold(ctx context.Context, holdID string) (*ledger.EscrowHold, error) {
	return scanHold(s.pool.QueryRow(ctx, holdColumns+" WHERE id = $1", holdID))
}

// GetHoldByReservation returns the hold backing a reservation.
func (s *Store) GetHoldByReservation(ctx context.Context, reservationID string) (*ledger.EscrowHold, error) {
	return scanHold(s.pool.QueryRow(ctx, holdColumns+" WHERE reservation_id = $1", reservationID))
}

func scanHold(row pgx.Row) (*ledger.EscrowHold, error) {
	var h ledger.EscrowHold
	err := row.Scan(&h.ID, &h.ReservationID, &h.CustomerID, &h.Points, &h.Status, &h.CreatedAt, &h.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ResolveHold moves an open hold to a terminal status and credits the
// held points in the same transaction, locking the hold row first.
func (s *Store) ResolveHold(ctx context.Context, holdID string, outcome ledger.HoldOutcome, creditTo ledger.AccountID) (*ledger.HoldResult, error) {
	var result *ledger.HoldResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = resolveHoldTx(ctx, tx, holdID, outcome, creditTo, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func resolveHoldTx(ctx context.Context, tx pgx.Tx, holdID string, outcome ledger.HoldOutcome, creditTo ledger.AccountID, now time.Time) (*ledger.HoldResult, error) {
	hold, err := scanHold(tx.QueryRow(ctx, holdColumns+" WHERE id = $1 FOR UPDATE", holdID))
	if err != nil {
		return nil, err
	}
	if hold.Resolved() {
		return &ledger.HoldResult{Hold: *hold, AlreadyResolved: true}, nil
	}

	var status ledger.HoldStatus
	var creditAccount ledger.AccountID
	var reason ledger.ReasonCode
	switch outcome {
	case ledger.OutcomeRelease:
		status = ledger.HoldReleased
		creditAccount = hold.CustomerID
		reason = ledger.ReasonRefund
	case ledger.OutcomeCapture:
		status = ledger.HoldCaptured
		creditAccount = creditTo
		reason = ledger.ReasonPickupTransfer
	default:
		return nil, fmt.Errorf("unknown hold outcome %q", outcome)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE holds SET status = $1, resolved_at = $2 WHERE id = $3",
		status, now, holdID,
	); err != nil {
		return nil, fmt.Errorf("failed to resolve hold: %w", err)
	}
	if _, err := applyTx(ctx, tx, creditAccount, hold.Points, reason, hold.ReservationID, nil, now); err != nil {
		return nil, err
	}

	hold.Status = status
	hold.ResolvedAt = &now
	return &ledger.HoldResult{Hold: *hold}, nil
}
