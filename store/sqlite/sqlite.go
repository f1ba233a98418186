/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface of the engine (ledger.Store,
  reservation.Store, penalty.Store, cooldown.Store, achievement.Store)
  using SQLite. Used for development, tests and single-node deployments;
  store/postgres carries the same routines for production.

INTERFACES IMPLEMENTED:
  ledger.Store:       accounts, transaction log, escrow holds
  reservation.Store:  offer shadows, reservations, lifecycle transitions
  penalty.Store:      no-show records, forgiveness requests
  cooldown.Store:     cancellation events, daily lifts
  achievement.Store:  definitions, user stats, unlocks, claims

KEY TABLES:
  accounts:                materialized balances
  transactions:            immutable ledger of all balance changes
  holds:                   escrow holds, one per reservation
  reservations / offers:   lifecycle rows and offer shadows
  penalties / forgiveness_requests
  cancellations / cooldown_lifts
  achievement_definitions / user_stats / stat_categories /
  stat_partners / achievement_unlocks

UNIQUENESS AS CONCURRENCY CONTROL:
  Races that must resolve to "one winner, one benign no-op" are enforced
  by unique indexes and converted at this boundary:
  - holds.reservation_id          -> ledger.ErrHoldExists
  - forgiveness pending per user  -> penalty.ErrRequestPending
  - cooldown_lifts (user, day)    -> already-lifted result
  - achievement_unlocks (user, badge) -> inserted=false

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode. Every mutation
  runs inside one database transaction under the write lock, so the
  read-check-write sequences behave like the row-locked routines the
  postgres store expresses with SELECT ... FOR UPDATE.

USAGE:
  store, err := sqlite.New(":memory:")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: the atomicity contract
  - store/postgres:  production implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The mutex is the real writer gate; a single connection keeps the
	// in-memory database shared across it.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (materialized balances)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		reservation_id TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_reservation
		ON transactions(reservation_id) WHERE reservation_id IS NOT NULL;

	-- Escrow holds, at most one per reservation
	CREATE TABLE IF NOT EXISTS holds (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL,
		points INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_holds_customer
		ON holds(customer_id);

	-- Offer shadows with the engine-owned claimed counter
	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		points_price INTEGER NOT NULL,
		original_value TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0,
		pickup_deadline TEXT NOT NULL
	);

	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		partner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		points_spent INTEGER NOT NULL,
		pickup_code TEXT NOT NULL UNIQUE,
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		picked_up_at TEXT,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_customer
		ON reservations(customer_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_reservations_offer_status
		ON reservations(offer_id, status);
	CREATE INDEX IF NOT EXISTS idx_reservations_active_expiry
		ON reservations(expires_at) WHERE status = 'active';

	-- Penalties
	CREATE TABLE IF NOT EXISTS penalties (
		user_id TEXT PRIMARY KEY,
		no_show_count INTEGER NOT NULL DEFAULT 0,
		suspended_until TEXT,
		last_no_show_at TEXT,
		updated_at TEXT NOT NULL
	);

	-- Forgiveness requests, at most one pending per user
	CREATE TABLE IF NOT EXISTS forgiveness_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		partner_id TEXT NOT NULL,
		reservation_id TEXT,
		message TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		deadline TEXT NOT NULL,
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		resolved_by TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_forgiveness_one_pending
		ON forgiveness_requests(user_id) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_forgiveness_pending_deadline
		ON forgiveness_requests(deadline) WHERE status = 'pending';

	-- Cancellation events (cooldown window)
	CREATE TABLE IF NOT EXISTS cancellations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cancellations_user_at
		ON cancellations(user_id, at);

	-- CRITICAL: one paid cooldown lift per user per local day
	CREATE TABLE IF NOT EXISTS cooldown_lifts (
		user_id TEXT NOT NULL,
		day TEXT NOT NULL,
		lifted_at TEXT NOT NULL,
		cost INTEGER NOT NULL,
		PRIMARY KEY (user_id, day)
	);

	-- Achievement catalog
	CREATE TABLE IF NOT EXISTS achievement_definitions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		kind TEXT NOT NULL,
		threshold INTEGER NOT NULL,
		reward INTEGER NOT NULL
	);

	-- Per-user aggregates
	CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY,
		pickup_count INTEGER NOT NULL DEFAULT 0,
		money_saved TEXT NOT NULL DEFAULT '0',
		category_count INTEGER NOT NULL DEFAULT 0,
		unique_partners INTEGER NOT NULL DEFAULT 0,
		max_per_partner INTEGER NOT NULL DEFAULT 0,
		current_streak INTEGER NOT NULL DEFAULT 0,
		best_streak INTEGER NOT NULL DEFAULT 0,
		last_pickup_day TEXT NOT NULL DEFAULT '',
		referral_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stat_categories (
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, category)
	);

	CREATE TABLE IF NOT EXISTS stat_partners (
		user_id TEXT NOT NULL,
		partner_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, partner_id)
	);

	-- CRITICAL: one unlock row per (user, badge)
	CREATE TABLE IF NOT EXISTS achievement_unlocks (
		user_id TEXT NOT NULL,
		badge_id TEXT NOT NULL,
		unlocked_at TEXT NOT NULL,
		claimed_at TEXT,
		PRIMARY KEY (user_id, badge_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the row-level helpers
// can run standalone or inside a wider transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn inside one database transaction under the write lock.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// now is the timestamp written for mutations whose routine does not
// receive an explicit time from the caller.
func (s *Store) now() string {
	return fmtTime(time.Now())
}

// Helper functions

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
