/*
ledger.go - ledger.Store implementation

applyTx is the shared debit/credit primitive: every balance change in the
engine, whatever routine triggers it, funnels through it so the
transaction log and the materialized balance can never diverge.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mealrescue/points-engine/ledger"
)

var _ ledger.Store = (*Store)(nil)

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, acc ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, kind, balance, created_at) VALUES (?, ?, ?, ?)",
		acc.ID, acc.Kind, acc.Balance, fmtTime(acc.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount returns an account by ID.
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, q dbtx, id ledger.AccountID) (*ledger.Account, error) {
	var acc ledger.Account
	var createdAt string
	err := q.QueryRowContext(ctx,
		"SELECT id, kind, balance, created_at FROM accounts WHERE id = ?", id,
	).Scan(&acc.ID, &acc.Kind, &acc.Balance, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	acc.CreatedAt = parseTime(createdAt)
	return &acc, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// ApplyTransaction atomically appends a ledger transaction and updates
// the account balance.
func (s *Store) ApplyTransaction(ctx context.Context, accountID ledger.AccountID, delta ledger.Points, reason ledger.ReasonCode, reservationID string, meta map[string]string) (ledger.Points, error) {
	var newBalance ledger.Points
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		newBalance, err = applyTx(ctx, tx, accountID, delta, reason, reservationID, meta, s.now())
		return err
	})
	return newBalance, err
}

// applyTx is the balance mutation primitive. The caller holds the write
// lock and an open transaction; under postgres the equivalent routine
// locks the account row instead.
func applyTx(ctx context.Context, tx dbtx, accountID ledger.AccountID, delta ledger.Points, reason ledger.ReasonCode, reservationID string, meta map[string]string, now string) (ledger.Points, error) {
	var balance ledger.Points
	err := tx.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE id = ?", accountID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
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

	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?", newBalance, accountID,
	); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	var metaJSON sql.NullString
	if len(meta) > 0 {
		b, _ := json.Marshal(meta)
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (account_id, delta, reason, reservation_id, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		accountID, delta, reason, nullString(reservationID), metaJSON, now,
	); err != nil {
		return 0, fmt.Errorf("failed to append transaction: %w", err)
	}

	return newBalance, nil
}

// Transactions returns the account's ledger history, newest first.
func (s *Store) Transactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, delta, reason, reservation_id, metadata_json, created_at
		 FROM transactions WHERE account_id = ? ORDER BY id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var reservationID, metaJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Delta, &t.Reason, &reservationID, &metaJSON, &createdAt); err != nil {
			return nil, err
		}
		t.ReservationID = reservationID.String
		t.CreatedAt = parseTime(createdAt)
		if metaJSON.Valid && metaJSON.String != "" {
			json.Unmarshal([]byte(metaJSON.String), &t.Metadata)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// =============================================================================
// ESCROW HOLDS
// =============================================================================

// OpenHold atomically debits the customer and inserts the hold row.
func (s *Store) OpenHold(ctx context.Context, hold ledger.EscrowHold) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return openHoldTx(ctx, tx, hold)
	})
}

func openHoldTx(ctx context.Context, tx dbtx, hold ledger.EscrowHold) error {
	if _, err := applyTx(ctx, tx, hold.CustomerID, -hold.Points, ledger.ReasonReservationPayment, hold.ReservationID, nil, fmtTime(hold.CreatedAt)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO holds (id, reservation_id, customer_id, points, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hold.ID, hold.ReservationID, hold.CustomerID, hold.Points, hold.Status, fmtTime(hold.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrHoldExists
		}
		return fmt.Errorf("failed to insert hold: %w", err)
	}
	return nil
}

// GetHold returns a hold by ID.
func (s *Store) GetHold(ctx context.Context, holdID string) (*ledger.EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanHold(s.db.QueryRowContext(ctx,
		holdColumns+" WHERE id = ?", holdID))
}

// GetHoldByReservation returns the hold backing a reservation.
func (s *Store) GetHoldByReservation(ctx context.Context, reservationID string) (*ledger.EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getHoldByReservation(ctx, s.db, reservationID)
}

func getHoldByReservation(ctx context.Context, q dbtx, reservationID string) (*ledger.EscrowHold, error) {
	return scanHold(q.QueryRowContext(ctx,
		holdColumns+" WHERE reservation_id = ?", reservationID))
}

const holdColumns = `SELECT id, reservation_id, customer_id, points, status, created_at, resolved_at FROM holds`

func scanHold(row *sql.Row) (*ledger.EscrowHold, error) {
	var h ledger.EscrowHold
	var createdAt string
	var resolvedAt sql.NullString
	err := row.Scan(&h.ID, &h.ReservationID, &h.CustomerID, &h.Points, &h.Status, &createdAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	h.CreatedAt = parseTime(createdAt)
	h.ResolvedAt = parseTimePtr(resolvedAt)
	return &h, nil
}

// ResolveHold moves an open hold to a terminal status and credits the
// held points in the same transaction.
func (s *Store) ResolveHold(ctx context.Context, holdID string, outcome ledger.HoldOutcome, creditTo ledger.AccountID) (*ledger.HoldResult, error) {
	var result *ledger.HoldResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = resolveHoldTx(ctx, tx, holdID, outcome, creditTo, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func resolveHoldTx(ctx context.Context, tx dbtx, holdID string, outcome ledger.HoldOutcome, creditTo ledger.AccountID, now string) (*ledger.HoldResult, error) {
	hold, err := scanHold(tx.QueryRowContext(ctx, holdColumns+" WHERE id = ?", holdID))
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

	if _, err := tx.ExecContext(ctx,
		"UPDATE holds SET status = ?, resolved_at = ? WHERE id = ?",
		status, now, holdID,
	); err != nil {
		return nil, fmt.Errorf("failed to resolve hold: %w", err)
	}
	if _, err := applyTx(ctx, tx, creditAccount, hold.Points, reason, hold.ReservationID, nil, now); err != nil {
		return nil, err
	}

	hold.Status = status
	resolved := parseTime(now)
	hold.ResolvedAt = &resolved
	return &ledger.HoldResult{Hold: *hold}, nil
}
