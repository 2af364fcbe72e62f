package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"tritex/internal/apperr"
)

// CreateUser inserts a new account. Duplicate email or username surfaces
// as a conflict.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	query := `INSERT INTO users (id, email, username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.ext.ExecContext(ctx, query, u.ID, u.Email, u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindConflict, "email or username already registered")
		}
		return err
	}
	return nil
}

// GetUserByID fetches one user.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, s.ext, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches one user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, s.ext, &u, `SELECT * FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", email)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches one user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, s.ext, &u, `SELECT * FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// TouchLastLogin stamps a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.ext.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, at, id)
	return err
}

func isUniqueViolation(err error) bool {
	// modernc sqlite reports constraint failures in the message; there is
	// no typed error to unwrap.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
