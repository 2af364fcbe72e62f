package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// InsertVenueOrder persists a new venue order, normally in status pending.
func (s *Store) InsertVenueOrder(ctx context.Context, o *VenueOrderRow) error {
	query := `INSERT INTO venue_orders (id, user_id, venue, symbol, side, order_type, price, quantity,
			status, exchange_order_id, filled_qty, filled_price, fee, source, ai_signal_id, error,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.ext.ExecContext(ctx, query,
		o.ID, o.UserID, o.Venue, o.Symbol, o.Side, o.OrderType, o.Price, o.Quantity,
		o.Status, o.ExchangeOrderID, o.FilledQty, o.FilledPrice, o.Fee, o.Source,
		o.AISignalID, o.Error, o.CreatedAt, o.CreatedAt)
	return err
}

// VenueOrderUpdate is a partial update; nil fields keep their stored value.
type VenueOrderUpdate struct {
	Status          *string
	ExchangeOrderID *string
	FilledQty       *float64
	FilledPrice     *float64
	Fee             *float64
	Error           *string
}

// UpdateVenueOrder applies a partial update by id.
func (s *Store) UpdateVenueOrder(ctx context.Context, id string, u VenueOrderUpdate) error {
	query := `UPDATE venue_orders SET
			status = COALESCE(?, status),
			exchange_order_id = COALESCE(?, exchange_order_id),
			filled_qty = COALESCE(?, filled_qty),
			filled_price = COALESCE(?, filled_price),
			fee = COALESCE(?, fee),
			error = COALESCE(?, error),
			updated_at = ?
		WHERE id = ?`
	res, err := s.ext.ExecContext(ctx, query,
		u.Status, u.ExchangeOrderID, u.FilledQty, u.FilledPrice, u.Fee, u.Error,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("venue order", id)
	}
	return nil
}

// GetVenueOrder fetches one venue order.
func (s *Store) GetVenueOrder(ctx context.Context, id string) (*VenueOrderRow, error) {
	var r VenueOrderRow
	err := sqlx.GetContext(ctx, s.ext, &r, `SELECT * FROM venue_orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("venue order", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListVenueOrders returns a user's venue orders filtered by venue, newest
// first. An empty venue matches all.
func (s *Store) ListVenueOrders(ctx context.Context, userID, venueName string, limit int) ([]VenueOrderRow, error) {
	var out []VenueOrderRow
	if venueName == "" {
		err := sqlx.SelectContext(ctx, s.ext, &out,
			`SELECT * FROM venue_orders WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
		return out, err
	}
	err := sqlx.SelectContext(ctx, s.ext, &out,
		`SELECT * FROM venue_orders WHERE user_id = ? AND venue = ? ORDER BY created_at DESC LIMIT ?`,
		userID, venueName, limit)
	return out, err
}

// LastFilledBuy returns the most recent filled buy for a (user, venue,
// symbol), the entry price reference for PnL reconciliation.
func (s *Store) LastFilledBuy(ctx context.Context, userID, venueName, symbol string) (*VenueOrderRow, error) {
	var r VenueOrderRow
	err := sqlx.GetContext(ctx, s.ext, &r,
		`SELECT * FROM venue_orders
		 WHERE user_id = ? AND venue = ? AND symbol = ? AND side = 'buy' AND status = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		userID, venueName, symbol, VenueOrderFilled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("venue order", userID+"/"+symbol)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListSubmittedAutoOrders returns auto-sourced orders awaiting fill
// confirmation, oldest first, for the reconciler.
func (s *Store) ListSubmittedAutoOrders(ctx context.Context, limit int) ([]VenueOrderRow, error) {
	var out []VenueOrderRow
	err := sqlx.SelectContext(ctx, s.ext, &out,
		`SELECT * FROM venue_orders WHERE status = ? AND source = ? ORDER BY created_at ASC LIMIT ?`,
		VenueOrderSubmitted, SourceAuto, limit)
	return out, err
}
