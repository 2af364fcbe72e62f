package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// UpsertAutoConfig writes the full config row for a (user, venue) pair.
func (s *Store) UpsertAutoConfig(ctx context.Context, c *AutoConfig) error {
	query := `INSERT INTO auto_configs (user_id, venue, enabled, symbols, max_position_pct,
			stop_loss_pct, take_profit_pct, min_confidence, max_daily_trades,
			daily_trades, consecutive_losses, last_reset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, venue) DO UPDATE SET
			enabled = excluded.enabled,
			symbols = excluded.symbols,
			max_position_pct = excluded.max_position_pct,
			stop_loss_pct = excluded.stop_loss_pct,
			take_profit_pct = excluded.take_profit_pct,
			min_confidence = excluded.min_confidence,
			max_daily_trades = excluded.max_daily_trades`
	_, err := s.ext.ExecContext(ctx, query,
		c.UserID, c.Venue, c.Enabled, c.Symbols, c.MaxPositionPct,
		c.StopLossPct, c.TakeProfitPct, c.MinConfidence, c.MaxDailyTrades,
		c.DailyTrades, c.ConsecutiveLosses, c.LastReset)
	return err
}

// GetAutoConfig fetches the config for a (user, venue) pair.
func (s *Store) GetAutoConfig(ctx context.Context, userID, venueName string) (*AutoConfig, error) {
	var c AutoConfig
	err := sqlx.GetContext(ctx, s.ext, &c,
		`SELECT * FROM auto_configs WHERE user_id = ? AND venue = ?`, userID, venueName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("auto config", userID+"/"+venueName)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetAutoEnabled flips the enabled flag without touching the rest.
func (s *Store) SetAutoEnabled(ctx context.Context, userID, venueName string, enabled bool) error {
	res, err := s.ext.ExecContext(ctx,
		`UPDATE auto_configs SET enabled = ? WHERE user_id = ? AND venue = ?`,
		enabled, userID, venueName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("auto config", userID+"/"+venueName)
	}
	return nil
}

// ListEnabledAutoConfigs returns every enabled config, used to restart
// schedulers at boot.
func (s *Store) ListEnabledAutoConfigs(ctx context.Context) ([]AutoConfig, error) {
	var out []AutoConfig
	err := sqlx.SelectContext(ctx, s.ext, &out, `SELECT * FROM auto_configs WHERE enabled = 1`)
	return out, err
}

// IncrementDailyTrades bumps the per-day trade counter.
func (s *Store) IncrementDailyTrades(ctx context.Context, userID, venueName string) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE auto_configs SET daily_trades = daily_trades + 1 WHERE user_id = ? AND venue = ?`,
		userID, venueName)
	return err
}

// IncrementConsecutiveLosses bumps the loss streak after a losing exit.
func (s *Store) IncrementConsecutiveLosses(ctx context.Context, userID, venueName string) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE auto_configs SET consecutive_losses = consecutive_losses + 1 WHERE user_id = ? AND venue = ?`,
		userID, venueName)
	return err
}

// ResetConsecutiveLosses clears the loss streak after a winning exit.
func (s *Store) ResetConsecutiveLosses(ctx context.Context, userID, venueName string) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE auto_configs SET consecutive_losses = 0 WHERE user_id = ? AND venue = ?`,
		userID, venueName)
	return err
}

// ResetDailyCounters zeroes every daily counter and stamps the reset time,
// called by the midnight sweep.
func (s *Store) ResetDailyCounters(ctx context.Context) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE auto_configs SET daily_trades = 0, last_reset = CURRENT_TIMESTAMP`)
	return err
}
