package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"tritex/internal/apperr"
)

// CreateSession persists a login session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.ext.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	return err
}

// GetSession fetches a live session; expired sessions count as missing.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	var sess Session
	err := sqlx.GetContext(ctx, s.ext, &sess, `SELECT * FROM sessions WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindAuthRequired, "session not found")
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, apperr.New(apperr.KindAuthRequired, "session expired")
	}
	return &sess, nil
}

// DeleteSession removes one session (logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.ext.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// SweepExpiredSessions deletes every session past its expiry and reports
// how many were removed.
func (s *Store) SweepExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
