package auth

import (
	"golang.org/x/crypto/bcrypt"

	"tritex/internal/apperr"
)

const (
	// DefaultBcryptCost balances hashing time against login latency.
	DefaultBcryptCost = 12

	// MaxPasswordLength bounds bcrypt input.
	MaxPasswordLength = 128
)

// PasswordManager hashes and verifies account passwords.
type PasswordManager struct {
	bcryptCost int
	minLength  int
}

// NewPasswordManager creates a manager; out-of-range values fall back to
// the defaults.
func NewPasswordManager(bcryptCost, minLength int) *PasswordManager {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = DefaultBcryptCost
	}
	if minLength <= 0 {
		minLength = 6
	}
	return &PasswordManager{bcryptCost: bcryptCost, minLength: minLength}
}

// Hash hashes a password with bcrypt.
func (p *PasswordManager) Hash(password string) (string, error) {
	if len(password) < p.minLength {
		return "", apperr.New(apperr.KindBadInput, "password must be at least %d characters", p.minLength)
	}
	if len(password) > MaxPasswordLength {
		return "", apperr.New(apperr.KindBadInput, "password must be at most %d characters", MaxPasswordLength)
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "hash password")
	}
	return string(bytes), nil
}

// Verify reports whether a password matches its stored hash.
func (p *PasswordManager) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
