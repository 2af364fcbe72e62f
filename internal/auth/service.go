package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tritex/internal/apperr"
	"tritex/internal/store"
)

// Starting balances minted into every new account's wallet.
var startingBalances = map[string]float64{
	"CRWN": 1_000_000,
	"USDT": 500_000,
	"ETH":  100,
	"BTC":  5,
	"KRW":  100_000_000,
}

// Credentials is the register/login request payload.
type Credentials struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	EmailOrUsername string `json:"emailOrUsername"`
	Password        string `json:"password"`
}

// Result is a successful register/login response.
type Result struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

// Service implements account lifecycle on top of the store.
type Service struct {
	store     *store.Store
	jwt       *JWTManager
	passwords *PasswordManager
	logger    zerolog.Logger
}

// NewService wires the auth service.
func NewService(st *store.Store, jwt *JWTManager, passwords *PasswordManager, logger zerolog.Logger) *Service {
	return &Service{
		store:     st,
		jwt:       jwt,
		passwords: passwords,
		logger:    logger.With().Str("component", "auth").Logger(),
	}
}

// Register creates an account, mints the starting wallet, and returns a
// logged-in session.
func (s *Service) Register(ctx context.Context, creds Credentials) (*Result, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	username := strings.TrimSpace(creds.Username)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.KindBadInput, "valid email required")
	}
	if username == "" {
		return nil, apperr.New(apperr.KindBadInput, "username required")
	}
	hash, err := s.passwords.Hash(creds.Password)
	if err != nil {
		return nil, err
	}

	user := &store.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}

	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		for token, amount := range startingBalances {
			if err := tx.AddBalance(ctx, user.ID, token, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", user.ID).Str("username", username).Msg("user registered")

	return s.openSession(ctx, user)
}

// Login authenticates by email or username.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Result, error) {
	identifier := strings.TrimSpace(creds.EmailOrUsername)
	if identifier == "" {
		identifier = strings.TrimSpace(creds.Email)
	}
	if identifier == "" || creds.Password == "" {
		return nil, apperr.New(apperr.KindBadInput, "credentials required")
	}

	var user *store.User
	var err error
	if strings.Contains(identifier, "@") {
		user, err = s.store.GetUserByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.store.GetUserByUsername(ctx, identifier)
	}
	if err != nil || !s.passwords.Verify(creds.Password, user.PasswordHash) {
		// Same answer for unknown account and wrong password.
		return nil, apperr.New(apperr.KindInvalidCredentials, "invalid credentials")
	}

	now := time.Now().UTC()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("stamp last login")
	}
	user.LastLogin.Time, user.LastLogin.Valid = now, true

	return s.openSession(ctx, user)
}

// Logout drops the server-side session for a token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}

// Me returns the account behind a user id.
func (s *Service) Me(ctx context.Context, userID string) (*store.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// SweepSessions removes expired sessions; the server runs this on a timer.
func (s *Service) SweepSessions(ctx context.Context) {
	n, err := s.store.SweepExpiredSessions(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("session sweep failed")
		return
	}
	if n > 0 {
		s.logger.Debug().Int64("removed", n).Msg("expired sessions swept")
	}
}

func (s *Service) openSession(ctx context.Context, user *store.User) (*Result, error) {
	token, err := s.jwt.Generate(UserClaims{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		return nil, err
	}
	sess := &store.Session{
		Token:     token,
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(s.jwt.TokenDuration()),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Result{User: user, Token: token}, nil
}
