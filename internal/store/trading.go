package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// SaveOrder upserts a limit order row; fills and cancellations update the
// existing row in place.
func (s *Store) SaveOrder(ctx context.Context, o *OrderRow) error {
	query := `INSERT INTO orders (id, user_id, pool_id, side, price, amount, filled, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filled = excluded.filled,
			status = excluded.status,
			updated_at = excluded.updated_at`
	_, err := s.ext.ExecContext(ctx, query,
		o.ID, o.UserID, o.PoolID, o.Side, o.Price, o.Amount, o.Filled, o.Status,
		o.CreatedAt, time.Now().UTC())
	return err
}

// LoadOpenOrders returns every resting order, oldest first, for rebuilding
// the book at boot.
func (s *Store) LoadOpenOrders(ctx context.Context) ([]OrderRow, error) {
	var out []OrderRow
	err := sqlx.SelectContext(ctx, s.ext, &out,
		`SELECT * FROM orders WHERE status IN ('open', 'partial') ORDER BY created_at ASC`)
	return out, err
}

// ListOrders returns a user's orders, newest first.
func (s *Store) ListOrders(ctx context.Context, userID string, limit int) ([]OrderRow, error) {
	var out []OrderRow
	err := sqlx.SelectContext(ctx, s.ext, &out,
		`SELECT * FROM orders WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	return out, err
}

// RecordSwap appends one immutable swap log entry.
func (s *Store) RecordSwap(ctx context.Context, r *SwapRow) error {
	query := `INSERT INTO swaps (id, user_id, pool_id, token_in, token_out, amount_in, amount_out,
			fee, slippage, price_impact, trit_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.ext.ExecContext(ctx, query,
		r.ID, r.UserID, r.PoolID, r.TokenIn, r.TokenOut, r.AmountIn, r.AmountOut,
		r.Fee, r.Slippage, r.PriceImpact, r.TritState, r.CreatedAt)
	return err
}

// ListSwaps returns swap history, newest first. An empty userID returns
// everyone's swaps.
func (s *Store) ListSwaps(ctx context.Context, userID string, limit int) ([]SwapRow, error) {
	var out []SwapRow
	err := sqlx.SelectContext(ctx, s.ext, &out,
		`SELECT * FROM swaps WHERE (? = '' OR user_id = ?) ORDER BY created_at DESC LIMIT ?`,
		userID, userID, limit)
	return out, err
}

// SaveSignal appends one analysis verdict.
func (s *Store) SaveSignal(ctx context.Context, r *SignalRow) error {
	query := `INSERT INTO signals (id, user_id, venue, symbol, decision, score, confidence, trit, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.ext.ExecContext(ctx, query,
		r.ID, r.UserID, r.Venue, r.Symbol, r.Decision, r.Score, r.Confidence, r.Trit, r.Detail, r.CreatedAt)
	return err
}

// GetSignal fetches one signal.
func (s *Store) GetSignal(ctx context.Context, id string) (*SignalRow, error) {
	var r SignalRow
	err := sqlx.GetContext(ctx, s.ext, &r, `SELECT * FROM signals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("signal", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListSignals returns a user's recent signals, newest first.
func (s *Store) ListSignals(ctx context.Context, userID string, limit int) ([]SignalRow, error) {
	var out []SignalRow
	err := sqlx.SelectContext(ctx, s.ext, &out,
		`SELECT * FROM signals WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	return out, err
}
