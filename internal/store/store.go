// Package store is the persistence layer: a single-file SQLite database
// holding users, wallets, pools, orders, swaps, signals, venue orders,
// auto-trade configs, credentials, and sessions.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"tritex/internal/apperr"
)

// Store wraps the database handle. All methods run against ext, which is
// either the root handle or an open transaction, so the same API works
// inside and outside Transaction.
type Store struct {
	db     *sqlx.DB
	ext    sqlx.ExtContext
	logger zerolog.Logger
}

// Open opens (or creates) the database file, enables WAL and foreign keys,
// and applies migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent transactions.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		ext:    db,
		logger: logger.With().Str("component", "store").Logger(),
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transaction runs fn atomically: every store call made through the passed
// handle joins one transaction, rolled back if fn returns an error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.ext != sqlx.ExtContext(s.db) {
		// Already inside a transaction; joining the outer one keeps the
		// combinator composable.
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txStore := &Store{db: s.db, ext: tx, logger: s.logger}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMP NOT NULL,
			last_login TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token TEXT NOT NULL,
			balance REAL NOT NULL DEFAULT 0 CHECK (balance >= 0),
			locked REAL NOT NULL DEFAULT 0 CHECK (locked >= 0),
			PRIMARY KEY (user_id, token)
		)`,
		`CREATE TABLE IF NOT EXISTS pools (
			id TEXT PRIMARY KEY,
			token_a TEXT NOT NULL,
			token_b TEXT NOT NULL,
			reserve_a REAL NOT NULL,
			reserve_b REAL NOT NULL,
			fee_bps INTEGER NOT NULL,
			k REAL NOT NULL,
			total_lp_shares REAL NOT NULL,
			lp_holders TEXT NOT NULL DEFAULT '{}',
			volume_24h REAL NOT NULL DEFAULT 0,
			fees_collected REAL NOT NULL DEFAULT 0,
			swap_count INTEGER NOT NULL DEFAULT 0,
			price_history TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			pool_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			amount REAL NOT NULL,
			filled REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pool_status ON orders(pool_id, status)`,
		`CREATE TABLE IF NOT EXISTS swaps (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			pool_id TEXT NOT NULL,
			token_in TEXT NOT NULL,
			token_out TEXT NOT NULL,
			amount_in REAL NOT NULL,
			amount_out REAL NOT NULL,
			fee REAL NOT NULL,
			slippage REAL NOT NULL,
			price_impact REAL NOT NULL,
			trit_state TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swaps_user ON swaps(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			venue TEXT NOT NULL,
			symbol TEXT NOT NULL,
			decision TEXT NOT NULL,
			score REAL NOT NULL,
			confidence REAL NOT NULL,
			trit TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS venue_orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			venue TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			price REAL,
			quantity REAL NOT NULL,
			status TEXT NOT NULL,
			exchange_order_id TEXT,
			filled_qty REAL NOT NULL DEFAULT 0,
			filled_price REAL NOT NULL DEFAULT 0,
			fee REAL NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			ai_signal_id TEXT,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_venue_orders_user ON venue_orders(user_id, venue, status)`,
		`CREATE TABLE IF NOT EXISTS auto_configs (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			venue TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 0,
			symbols TEXT NOT NULL,
			max_position_pct REAL NOT NULL,
			stop_loss_pct REAL NOT NULL,
			take_profit_pct REAL NOT NULL,
			min_confidence REAL NOT NULL,
			max_daily_trades INTEGER NOT NULL,
			daily_trades INTEGER NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL DEFAULT 0,
			last_reset TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, venue)
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			venue TEXT NOT NULL,
			access_cipher TEXT NOT NULL,
			secret_cipher TEXT NOT NULL,
			iv TEXT NOT NULL,
			tag TEXT NOT NULL,
			permissions TEXT NOT NULL DEFAULT 'trade',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, venue)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at)`,
	}

	for i, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	s.logger.Debug().Int("statements", len(migrations)).Msg("migrations applied")
	return nil
}

func notFound(what, id string) error {
	return apperr.New(apperr.KindNotFound, "%s %s not found", what, id)
}
