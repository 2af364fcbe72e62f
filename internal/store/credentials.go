package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"tritex/internal/apperr"
)

// UpsertCredential stores or rotates an encrypted venue key pair.
func (s *Store) UpsertCredential(ctx context.Context, c *CredentialRow) error {
	query := `INSERT INTO credentials (user_id, venue, access_cipher, secret_cipher, iv, tag, permissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, venue) DO UPDATE SET
			access_cipher = excluded.access_cipher,
			secret_cipher = excluded.secret_cipher,
			iv = excluded.iv,
			tag = excluded.tag,
			permissions = excluded.permissions,
			created_at = excluded.created_at`
	_, err := s.ext.ExecContext(ctx, query,
		c.UserID, c.Venue, c.AccessCipher, c.SecretCipher, c.IV, c.Tag, c.Permissions, time.Now().UTC())
	return err
}

// GetCredential fetches the encrypted pair for a (user, venue).
func (s *Store) GetCredential(ctx context.Context, userID, venueName string) (*CredentialRow, error) {
	var c CredentialRow
	err := sqlx.GetContext(ctx, s.ext, &c,
		`SELECT * FROM credentials WHERE user_id = ? AND venue = ?`, userID, venueName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no such key for %s", venueName)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCredentials returns every stored pair for a user.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]CredentialRow, error) {
	var out []CredentialRow
	err := sqlx.SelectContext(ctx, s.ext, &out,
		`SELECT * FROM credentials WHERE user_id = ? ORDER BY venue`, userID)
	return out, err
}

// DeleteCredential removes a stored pair.
func (s *Store) DeleteCredential(ctx context.Context, userID, venueName string) error {
	res, err := s.ext.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_id = ? AND venue = ?`, userID, venueName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "no such key for %s", venueName)
	}
	return nil
}
