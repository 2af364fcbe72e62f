package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"tritex/internal/apperr"
)

// GetWallet fetches one (user, token) row, returning a zero wallet when the
// row does not exist yet.
func (s *Store) GetWallet(ctx context.Context, userID, token string) (*Wallet, error) {
	var w Wallet
	err := sqlx.GetContext(ctx, s.ext, &w,
		`SELECT * FROM wallets WHERE user_id = ? AND token = ?`, userID, token)
	if errors.Is(err, sql.ErrNoRows) {
		return &Wallet{UserID: userID, Token: token}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWallets lists every token row for a user.
func (s *Store) GetWallets(ctx context.Context, userID string) ([]Wallet, error) {
	var out []Wallet
	err := sqlx.SelectContext(ctx, s.ext, &out,
		`SELECT * FROM wallets WHERE user_id = ? ORDER BY token`, userID)
	return out, err
}

// TotalBalance sums every token balance of a user, used by the position-size
// safety gate.
func (s *Store) TotalBalance(ctx context.Context, userID string) (float64, error) {
	var total sql.NullFloat64
	err := sqlx.GetContext(ctx, s.ext, &total,
		`SELECT SUM(balance) FROM wallets WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

// AddBalance credits a wallet, creating the row on first touch.
func (s *Store) AddBalance(ctx context.Context, userID, token string, amount float64) error {
	if amount < 0 {
		return apperr.New(apperr.KindBadInput, "credit amount must be non-negative")
	}
	query := `INSERT INTO wallets (user_id, token, balance, locked) VALUES (?, ?, ?, 0)
		ON CONFLICT (user_id, token) DO UPDATE SET balance = balance + excluded.balance`
	_, err := s.ext.ExecContext(ctx, query, userID, token, amount)
	return err
}

// SubtractBalance debits a wallet. The debit fails when it would dip into
// the locked portion.
func (s *Store) SubtractBalance(ctx context.Context, userID, token string, amount float64) error {
	if amount < 0 {
		return apperr.New(apperr.KindBadInput, "debit amount must be non-negative")
	}
	query := `UPDATE wallets SET balance = balance - ?
		WHERE user_id = ? AND token = ? AND balance - locked >= ?`
	res, err := s.ext.ExecContext(ctx, query, amount, userID, token, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindInsufficientBalance, "insufficient %s balance", token)
	}
	return nil
}

// LockBalance reserves part of the available balance for a resting order.
func (s *Store) LockBalance(ctx context.Context, userID, token string, amount float64) error {
	if amount < 0 {
		return apperr.New(apperr.KindBadInput, "lock amount must be non-negative")
	}
	query := `UPDATE wallets SET locked = locked + ?
		WHERE user_id = ? AND token = ? AND balance - locked >= ?`
	res, err := s.ext.ExecContext(ctx, query, amount, userID, token, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindInsufficientBalance, "insufficient available %s balance", token)
	}
	return nil
}

// UnlockBalance releases a reservation without moving funds.
func (s *Store) UnlockBalance(ctx context.Context, userID, token string, amount float64) error {
	if amount < 0 {
		return apperr.New(apperr.KindBadInput, "unlock amount must be non-negative")
	}
	query := `UPDATE wallets SET locked = MAX(locked - ?, 0)
		WHERE user_id = ? AND token = ?`
	_, err := s.ext.ExecContext(ctx, query, amount, userID, token)
	return err
}

// SettleLocked removes funds from the locked portion, debiting balance and
// locked together. Used when a resting order fills.
func (s *Store) SettleLocked(ctx context.Context, userID, token string, amount float64) error {
	if amount < 0 {
		return apperr.New(apperr.KindBadInput, "settle amount must be non-negative")
	}
	query := `UPDATE wallets SET balance = balance - ?, locked = locked - ?
		WHERE user_id = ? AND token = ? AND locked >= ? AND balance >= ?`
	res, err := s.ext.ExecContext(ctx, query, amount, amount, userID, token, amount, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindInsufficientBalance, "locked %s below settlement amount", token)
	}
	return nil
}
