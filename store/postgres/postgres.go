/*
Package postgres provides the production PostgreSQL implementation of the
storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine (ledger.Store,
  reservation.Store, penalty.Store, cooldown.Store, achievement.Store)
  on pgx. Unlike the sqlite store there is no process-level mutex: all
  coordination is row locks. Each mutation runs in one transaction that
  begins with SELECT ... FOR UPDATE on the entity row, so concurrent
  operations on the same account, penalty or reservation are serialized
  by the database while unrelated rows never block each other.

RACE RESOLUTION:
  Uniqueness races (hold per reservation, one pending forgiveness per
  user, one lift per user per day, one unlock per badge) are detected by
  SQLSTATE 23505 and converted to the benign idempotent result at this
  boundary.

SEE ALSO:
  - ledger/store.go: the atomicity contract
  - store/sqlite:    dev/test implementation of the same routines
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements all storage interfaces on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		delta BIGINT NOT NULL,
		reason TEXT NOT NULL,
		reservation_id TEXT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, id DESC);

	CREATE TABLE IF NOT EXISTS holds (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL REFERENCES accounts(id),
		points BIGINT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		points_price BIGINT NOT NULL,
		original_value NUMERIC NOT NULL,
		quantity INT NOT NULL,
		claimed INT NOT NULL DEFAULT 0,
		pickup_deadline TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL REFERENCES offers(id),
		customer_id TEXT NOT NULL,
		partner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		quantity INT NOT NULL,
		points_spent BIGINT NOT NULL,
		pickup_code TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		picked_up_at TIMESTAMPTZ,
		resolved_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_customer
		ON reservations(customer_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_reservations_active_expiry
		ON reservations(expires_at) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS penalties (
		user_id TEXT PRIMARY KEY,
		no_show_count INT NOT NULL DEFAULT 0,
		suspended_until TIMESTAMPTZ,
		last_no_show_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS forgiveness_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		partner_id TEXT NOT NULL,
		reservation_id TEXT,
		message TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		deadline TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		resolved_by TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_forgiveness_one_pending
		ON forgiveness_requests(user_id) WHERE status = 'pending';

	CREATE TABLE IF NOT EXISTS cancellations (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cancellations_user_at
		ON cancellations(user_id, at);

	CREATE TABLE IF NOT EXISTS cooldown_lifts (
		user_id TEXT NOT NULL,
		day TEXT NOT NULL,
		lifted_at TIMESTAMPTZ NOT NULL,
		cost BIGINT NOT NULL,
		PRIMARY KEY (user_id, day)
	);

	CREATE TABLE IF NOT EXISTS achievement_definitions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		kind TEXT NOT NULL,
		threshold BIGINT NOT NULL,
		reward BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY,
		pickup_count BIGINT NOT NULL DEFAULT 0,
		money_saved NUMERIC NOT NULL DEFAULT 0,
		category_count BIGINT NOT NULL DEFAULT 0,
		unique_partners BIGINT NOT NULL DEFAULT 0,
		max_per_partner BIGINT NOT NULL DEFAULT 0,
		current_streak BIGINT NOT NULL DEFAULT 0,
		best_streak BIGINT NOT NULL DEFAULT 0,
		last_pickup_day TEXT NOT NULL DEFAULT '',
		referral_count BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stat_categories (
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, category)
	);

	CREATE TABLE IF NOT EXISTS stat_partners (
		user_id TEXT NOT NULL,
		partner_id TEXT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, partner_id)
	);

	CREATE TABLE IF NOT EXISTS achievement_unlocks (
		user_id TEXT NOT NULL,
		badge_id TEXT NOT NULL,
		unlocked_at TIMESTAMPTZ NOT NULL,
		claimed_at TIMESTAMPTZ,
		PRIMARY KEY (user_id, badge_id)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// inTx runs fn inside one database transaction.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isUniqueViolation reports SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
