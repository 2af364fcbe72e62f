package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tritex/internal/apperr"
	"tritex/internal/dex"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestUser(t *testing.T, s *Store) *User {
	t.Helper()
	u := &User{
		ID:           uuid.NewString(),
		Email:        uuid.NewString() + "@example.com",
		Username:     "user-" + uuid.NewString()[:8],
		PasswordHash: "x",
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestCreateUserConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s)

	dup := &User{
		ID:           uuid.NewString(),
		Email:        u.Email,
		Username:     "other",
		PasswordHash: "x",
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}
	err := s.CreateUser(ctx, dup)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, err := s.GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.GetUserByID(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestWalletBalanceRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	require.NoError(t, s.AddBalance(ctx, u.ID, "CRWN", 1_000))
	require.NoError(t, s.AddBalance(ctx, u.ID, "CRWN", 500))

	w, err := s.GetWallet(ctx, u.ID, "CRWN")
	require.NoError(t, err)
	assert.Equal(t, 1_500.0, w.Balance)

	require.NoError(t, s.SubtractBalance(ctx, u.ID, "CRWN", 400))
	err = s.SubtractBalance(ctx, u.ID, "CRWN", 2_000)
	assert.Equal(t, apperr.KindInsufficientBalance, apperr.KindOf(err))

	// Missing rows debit like zero-balance wallets.
	err = s.SubtractBalance(ctx, u.ID, "BTC", 1)
	assert.Equal(t, apperr.KindInsufficientBalance, apperr.KindOf(err))
}

func TestWalletLocking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	require.NoError(t, s.AddBalance(ctx, u.ID, "USDT", 1_000))
	require.NoError(t, s.LockBalance(ctx, u.ID, "USDT", 800))

	w, err := s.GetWallet(ctx, u.ID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 200.0, w.Available())

	// Debits never dip into the locked portion.
	err = s.SubtractBalance(ctx, u.ID, "USDT", 500)
	assert.Equal(t, apperr.KindInsufficientBalance, apperr.KindOf(err))
	err = s.LockBalance(ctx, u.ID, "USDT", 300)
	assert.Equal(t, apperr.KindInsufficientBalance, apperr.KindOf(err))

	// A fill settles out of the locked portion.
	require.NoError(t, s.SettleLocked(ctx, u.ID, "USDT", 800))
	w, err = s.GetWallet(ctx, u.ID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 200.0, w.Balance)
	assert.Zero(t, w.Locked)

	require.NoError(t, s.AddBalance(ctx, u.ID, "USDT", 100))
	require.NoError(t, s.LockBalance(ctx, u.ID, "USDT", 100))
	require.NoError(t, s.UnlockBalance(ctx, u.ID, "USDT", 100))
	w, err = s.GetWallet(ctx, u.ID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 300.0, w.Available())
}

func TestTransactionRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	require.NoError(t, s.AddBalance(ctx, u.ID, "CRWN", 100))

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.SubtractBalance(ctx, u.ID, "CRWN", 100); err != nil {
			return err
		}
		// Second debit overdraws and must void the first.
		return tx.SubtractBalance(ctx, u.ID, "CRWN", 1)
	})
	require.Error(t, err)

	w, err := s.GetWallet(ctx, u.ID, "CRWN")
	require.NoError(t, err)
	assert.Equal(t, 100.0, w.Balance, "failed transaction must leave no state change")
}

func TestPoolRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := dex.NewEngine(zerolog.Nop())
	_, err := e.Swap("CRWN-USDT", "CRWN", 10_000)
	require.NoError(t, err)
	p, err := e.Pool("CRWN-USDT")
	require.NoError(t, err)

	require.NoError(t, s.SavePool(ctx, p))
	require.NoError(t, s.SavePool(ctx, p)) // upsert is idempotent

	pools, err := s.LoadPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	got := pools[0]
	assert.Equal(t, p.ReserveA, got.ReserveA)
	assert.Equal(t, p.ReserveB, got.ReserveB)
	assert.Equal(t, p.TotalLpShares, got.TotalLpShares)
	assert.Equal(t, p.LpHolders, got.LpHolders)
	assert.Equal(t, p.SwapCount, got.SwapCount)
	assert.Len(t, got.PriceHistory, len(p.PriceHistory))
}

func TestAutoConfigCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	cfg := &AutoConfig{
		UserID:         u.ID,
		Venue:          "binance",
		Enabled:        true,
		Symbols:        "BTCUSDT,ETHUSDT",
		MaxPositionPct: 0.1,
		StopLossPct:    0.03,
		TakeProfitPct:  0.06,
		MinConfidence:  0.7,
		MaxDailyTrades: 10,
		LastReset:      time.Now().UTC(),
	}
	require.NoError(t, s.UpsertAutoConfig(ctx, cfg))

	require.NoError(t, s.IncrementDailyTrades(ctx, u.ID, "binance"))
	require.NoError(t, s.IncrementDailyTrades(ctx, u.ID, "binance"))
	require.NoError(t, s.IncrementConsecutiveLosses(ctx, u.ID, "binance"))

	got, err := s.GetAutoConfig(ctx, u.ID, "binance")
	require.NoError(t, err)
	assert.Equal(t, 2, got.DailyTrades)
	assert.Equal(t, 1, got.ConsecutiveLosses)

	// Re-upsert keeps the live counters.
	require.NoError(t, s.UpsertAutoConfig(ctx, cfg))
	got, err = s.GetAutoConfig(ctx, u.ID, "binance")
	require.NoError(t, err)
	assert.Equal(t, 2, got.DailyTrades)

	require.NoError(t, s.ResetConsecutiveLosses(ctx, u.ID, "binance"))
	require.NoError(t, s.ResetDailyCounters(ctx))
	got, err = s.GetAutoConfig(ctx, u.ID, "binance")
	require.NoError(t, err)
	assert.Zero(t, got.DailyTrades)
	assert.Zero(t, got.ConsecutiveLosses)

	enabled, err := s.ListEnabledAutoConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	require.NoError(t, s.SetAutoEnabled(ctx, u.ID, "binance", false))
	enabled, err = s.ListEnabledAutoConfigs(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)
}

func TestVenueOrderLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	row := &VenueOrderRow{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Venue:     "binance",
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		OrderType: "MARKET",
		Quantity:  0.01,
		Status:    VenueOrderPending,
		Source:    SourceAuto,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertVenueOrder(ctx, row))

	status := VenueOrderSubmitted
	exchangeID := "12345"
	require.NoError(t, s.UpdateVenueOrder(ctx, row.ID, VenueOrderUpdate{
		Status:          &status,
		ExchangeOrderID: &exchangeID,
	}))

	got, err := s.GetVenueOrder(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, VenueOrderSubmitted, got.Status)
	assert.Equal(t, "12345", got.ExchangeOrderID.String)
	assert.Equal(t, 0.01, got.Quantity, "partial update keeps untouched fields")

	pending, err := s.ListSubmittedAutoOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	filled := VenueOrderFilled
	qty := 0.01
	price := 65_000.0
	require.NoError(t, s.UpdateVenueOrder(ctx, row.ID, VenueOrderUpdate{
		Status:      &filled,
		FilledQty:   &qty,
		FilledPrice: &price,
	}))
	pending, err = s.ListSubmittedAutoOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = s.UpdateVenueOrder(ctx, "missing", VenueOrderUpdate{Status: &filled})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCredentialStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	cred := &CredentialRow{
		UserID:       u.ID,
		Venue:        "upbit",
		AccessCipher: "aa",
		SecretCipher: "bb",
		IV:           "cc:dd",
		Tag:          "ee:ff",
	}
	require.NoError(t, s.UpsertCredential(ctx, cred))

	// Rotation overwrites in place.
	cred.AccessCipher = "a2"
	require.NoError(t, s.UpsertCredential(ctx, cred))

	got, err := s.GetCredential(ctx, u.ID, "upbit")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessCipher)

	list, err := s.ListCredentials(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteCredential(ctx, u.ID, "upbit"))
	_, err = s.GetCredential(ctx, u.ID, "upbit")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	err = s.DeleteCredential(ctx, u.ID, "upbit")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSessionExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	live := &Session{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	dead := &Session{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, dead))

	_, err := s.GetSession(ctx, live.Token)
	require.NoError(t, err)
	_, err = s.GetSession(ctx, dead.Token)
	assert.Equal(t, apperr.KindAuthRequired, apperr.KindOf(err))

	n, err := s.SweepExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.DeleteSession(ctx, live.Token))
	_, err = s.GetSession(ctx, live.Token)
	assert.Equal(t, apperr.KindAuthRequired, apperr.KindOf(err))
}
