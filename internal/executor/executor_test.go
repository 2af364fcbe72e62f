package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tritex/internal/apperr"
	"tritex/internal/keyvault"
	"tritex/internal/risk"
	"tritex/internal/store"
	"tritex/internal/venue"
)

// stubClient scripts venue responses for the pipeline tests.
type stubClient struct {
	name       venue.Name
	placed     *venue.Order
	placeErr   error
	remote     *venue.Order
	placeCalls int
}

func (s *stubClient) Name() venue.Name { return s.name }
func (s *stubClient) GetCandles(context.Context, string, string, int) ([]venue.Candle, error) {
	return nil, nil
}
func (s *stubClient) GetTicker(context.Context, string) (float64, error) { return 0, nil }
func (s *stubClient) GetOrderBook(context.Context, string) (*venue.OrderBook, error) {
	return nil, nil
}
func (s *stubClient) GetAccounts(context.Context) ([]venue.Balance, error) { return nil, nil }
func (s *stubClient) GetAccount(context.Context, string) (*venue.Balance, error) {
	return nil, nil
}
func (s *stubClient) PlaceOrder(_ context.Context, req venue.OrderRequest) (*venue.Order, error) {
	s.placeCalls++
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	if s.placed != nil {
		return s.placed, nil
	}
	return &venue.Order{ID: "ex-1", Symbol: req.Symbol, Status: venue.OrderStatusFilled,
		ExecutedQty: req.Quantity, ExecutedPrice: 100}, nil
}
func (s *stubClient) CancelOrder(context.Context, string, string) error { return nil }
func (s *stubClient) GetOrder(context.Context, string, string) (*venue.Order, error) {
	return s.remote, nil
}
func (s *stubClient) GetOpenOrders(context.Context, string) ([]venue.Order, error) {
	return nil, nil
}

type fixture struct {
	store    *store.Store
	executor *Executor
	stub     *stubClient
	builds   int
	userID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	vault, err := keyvault.New("test-password", "test-salt")
	require.NoError(t, err)

	f := &fixture{store: st, stub: &stubClient{name: venue.Binance}}
	f.executor = New(st, vault, func(name venue.Name, accessKey, secretKey string) venue.Client {
		f.builds++
		return f.stub
	}, zerolog.Nop())

	ctx := context.Background()
	user := &store.User{
		ID:           uuid.NewString(),
		Email:        "t@t",
		Username:     "t",
		PasswordHash: "x",
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.CreateUser(ctx, user))
	f.userID = user.ID

	cred, err := vault.EncryptPair(venue.Binance, "access", "secret")
	require.NoError(t, err)
	require.NoError(t, st.UpsertCredential(ctx, &store.CredentialRow{
		UserID:       user.ID,
		Venue:        string(venue.Binance),
		AccessCipher: cred.AccessCipher,
		SecretCipher: cred.SecretCipher,
		IV:           cred.IV,
		Tag:          cred.Tag,
	}))
	return f
}

func (f *fixture) seedConfig(t *testing.T, mutate func(*store.AutoConfig)) {
	t.Helper()
	cfg := &store.AutoConfig{
		UserID:         f.userID,
		Venue:          string(venue.Binance),
		Enabled:        true,
		Symbols:        "BTCUSDT",
		MaxPositionPct: 0.1,
		StopLossPct:    0.03,
		TakeProfitPct:  0.06,
		MinConfidence:  0.7,
		MaxDailyTrades: 10,
		LastReset:      time.Now().UTC(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, f.store.UpsertAutoConfig(context.Background(), cfg))
}

func TestExecuteOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConfig(t, nil)
	require.NoError(t, f.store.AddBalance(ctx, f.userID, "USDT", 100_000))

	row, err := f.executor.ExecuteOrder(ctx, f.userID, venue.Binance, OrderParams{
		Symbol:   "BTCUSDT",
		Side:     "buy",
		Type:     "market",
		Quantity: 0.5,
		Source:   store.SourceAuto,
		SignalID: "sig-1",
	})
	require.NoError(t, err)

	assert.Equal(t, store.VenueOrderFilled, row.Status)
	assert.Equal(t, "ex-1", row.ExchangeOrderID.String)
	assert.Equal(t, "sig-1", row.AISignalID.String)
	assert.Equal(t, 0.5, row.FilledQty)

	cfg, err := f.store.GetAutoConfig(ctx, f.userID, string(venue.Binance))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.DailyTrades)
}

func TestSafetyGateConsecutiveLosses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConfig(t, func(c *store.AutoConfig) { c.ConsecutiveLosses = MaxConsecutiveLosses })

	_, err := f.executor.ExecuteOrder(ctx, f.userID, venue.Binance, OrderParams{
		Symbol: "BTCUSDT", Side: "buy", Type: "market", Quantity: 0.01, Source: store.SourceAuto,
	})
	assert.Equal(t, apperr.KindSafetyBlocked, apperr.KindOf(err))

	// The gate runs before persistence: no row may exist.
	rows, err := f.store.ListVenueOrders(ctx, f.userID, "", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, f.stub.placeCalls)
}

func TestSafetyGateDailyCap(t *testing.T) {
	f := newFixture(t)
	f.seedConfig(t, func(c *store.AutoConfig) { c.DailyTrades = 10 })

	_, err := f.executor.ExecuteOrder(context.Background(), f.userID, venue.Binance, OrderParams{
		Symbol: "BTCUSDT", Side: "buy", Type: "market", Quantity: 0.01, Source: store.SourceAuto,
	})
	assert.Equal(t, apperr.KindSafetyBlocked, apperr.KindOf(err))
}

func TestSafetyGatePositionCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConfig(t, nil)
	require.NoError(t, f.store.AddBalance(ctx, f.userID, "USDT", 10_000))

	// 0.5 BTC at 65k is far past 10% of a 10k wallet.
	_, err := f.executor.ExecuteOrder(ctx, f.userID, venue.Binance, OrderParams{
		Symbol: "BTCUSDT", Side: "buy", Type: "limit", Price: 65_000, Quantity: 0.5,
		Source: store.SourceManual,
	})
	assert.Equal(t, apperr.KindSafetyBlocked, apperr.KindOf(err))

	// Within the cap passes.
	_, err = f.executor.ExecuteOrder(ctx, f.userID, venue.Binance, OrderParams{
		Symbol: "BTCUSDT", Side: "buy", Type: "limit", Price: 65_000, Quantity: 0.01,
		Source: store.SourceManual,
	})
	require.NoError(t, err)
}

func TestVenueFailureMarksRowFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stub.placeErr = apperr.Venue(400, strings.Repeat("x", 1_000))

	_, err := f.executor.ExecuteOrder(ctx, f.userID, venue.Binance, OrderParams{
		Symbol: "BTCUSDT", Side: "buy", Type: "market", Quantity: 0.01, Source: store.SourceManual,
	})
	require.Error(t, err)

	rows, err := f.store.ListVenueOrders(ctx, f.userID, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, store.VenueOrderFailed, rows[0].Status)
	assert.True(t, rows[0].Error.Valid)
	assert.LessOrEqual(t, len(rows[0].Error.String), 500)
}

func TestClientCacheAndInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.executor.Client(ctx, f.userID, venue.Binance)
	require.NoError(t, err)
	_, err = f.executor.Client(ctx, f.userID, venue.Binance)
	require.NoError(t, err)
	assert.Equal(t, 1, f.builds, "second lookup must hit the cache")

	f.executor.Invalidate(f.userID, venue.Binance)
	_, err = f.executor.Client(ctx, f.userID, venue.Binance)
	require.NoError(t, err)
	assert.Equal(t, 2, f.builds, "invalidate must force a rebuild")
}

func TestClientMissingKeys(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Client(context.Background(), f.userID, venue.Upbit)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "no such key")
}

func TestReconcilerScoresSellFills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConfig(t, nil)
	rec := NewReconciler(f.store, f.executor, risk.NewManager(risk.DefaultConfig()), zerolog.Nop())

	// Entry: a filled buy at 100.
	entryStatus := store.VenueOrderFilled
	entry := &store.VenueOrderRow{
		ID: uuid.NewString(), UserID: f.userID, Venue: string(venue.Binance),
		Symbol: "BTCUSDT", Side: "buy", OrderType: "market", Quantity: 1,
		Status: store.VenueOrderPending, Source: store.SourceAuto,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertVenueOrder(ctx, entry))
	qty, price := 1.0, 100.0
	require.NoError(t, f.store.UpdateVenueOrder(ctx, entry.ID, store.VenueOrderUpdate{
		Status: &entryStatus, FilledQty: &qty, FilledPrice: &price,
	}))

	// Exit: a submitted sell the venue reports filled at 90 (a loss).
	exchangeID := "ex-sell"
	exit := &store.VenueOrderRow{
		ID: uuid.NewString(), UserID: f.userID, Venue: string(venue.Binance),
		Symbol: "BTCUSDT", Side: "sell", OrderType: "market", Quantity: 1,
		Status: store.VenueOrderPending, Source: store.SourceAuto,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertVenueOrder(ctx, exit))
	submitted := store.VenueOrderSubmitted
	require.NoError(t, f.store.UpdateVenueOrder(ctx, exit.ID, store.VenueOrderUpdate{
		Status: &submitted, ExchangeOrderID: &exchangeID,
	}))

	f.stub.remote = &venue.Order{
		ID: exchangeID, Symbol: "BTCUSDT", Side: "sell",
		Status: venue.OrderStatusFilled, ExecutedQty: 1, ExecutedPrice: 90,
	}
	rec.Reconcile(ctx)

	got, err := f.store.GetVenueOrder(ctx, exit.ID)
	require.NoError(t, err)
	assert.Equal(t, store.VenueOrderFilled, got.Status)
	assert.Equal(t, 90.0, got.FilledPrice)

	cfg, err := f.store.GetAutoConfig(ctx, f.userID, string(venue.Binance))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ConsecutiveLosses, "losing exit must extend the streak")
}

func TestReconcilerProfitResetsStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConfig(t, func(c *store.AutoConfig) { c.ConsecutiveLosses = 2 })
	rec := NewReconciler(f.store, f.executor, risk.NewManager(risk.DefaultConfig()), zerolog.Nop())

	entryStatus := store.VenueOrderFilled
	entry := &store.VenueOrderRow{
		ID: uuid.NewString(), UserID: f.userID, Venue: string(venue.Binance),
		Symbol: "BTCUSDT", Side: "buy", OrderType: "market", Quantity: 1,
		Status: store.VenueOrderPending, Source: store.SourceAuto,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertVenueOrder(ctx, entry))
	qty, price := 1.0, 100.0
	require.NoError(t, f.store.UpdateVenueOrder(ctx, entry.ID, store.VenueOrderUpdate{
		Status: &entryStatus, FilledQty: &qty, FilledPrice: &price,
	}))

	exchangeID := "ex-sell-2"
	exit := &store.VenueOrderRow{
		ID: uuid.NewString(), UserID: f.userID, Venue: string(venue.Binance),
		Symbol: "BTCUSDT", Side: "sell", OrderType: "market", Quantity: 1,
		Status: store.VenueOrderPending, Source: store.SourceAuto,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertVenueOrder(ctx, exit))
	submitted := store.VenueOrderSubmitted
	require.NoError(t, f.store.UpdateVenueOrder(ctx, exit.ID, store.VenueOrderUpdate{
		Status: &submitted, ExchangeOrderID: &exchangeID,
	}))

	f.stub.remote = &venue.Order{
		ID: exchangeID, Symbol: "BTCUSDT", Side: "sell",
		Status: venue.OrderStatusFilled, ExecutedQty: 1, ExecutedPrice: 120,
	}
	rec.Reconcile(ctx)

	cfg, err := f.store.GetAutoConfig(ctx, f.userID, string(venue.Binance))
	require.NoError(t, err)
	assert.Zero(t, cfg.ConsecutiveLosses, "winning exit must reset the streak")
}

func TestReconcilerTracksPositionAcrossFills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedConfig(t, nil)
	riskMgr := risk.NewManager(risk.DefaultConfig())
	rec := NewReconciler(f.store, f.executor, riskMgr, zerolog.Nop())

	buy := &store.VenueOrderRow{
		ID: uuid.NewString(), UserID: f.userID, Venue: string(venue.Binance),
		Symbol: "BTCUSDT", Side: "buy", OrderType: "market", Quantity: 0.5,
		Status: store.VenueOrderPending, Source: store.SourceAuto,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertVenueOrder(ctx, buy))
	submitted, exchangeID := store.VenueOrderSubmitted, "ex-buy"
	require.NoError(t, f.store.UpdateVenueOrder(ctx, buy.ID, store.VenueOrderUpdate{
		Status: &submitted, ExchangeOrderID: &exchangeID,
	}))

	f.stub.remote = &venue.Order{
		ID: exchangeID, Symbol: "BTCUSDT", Side: "buy",
		Status: venue.OrderStatusFilled, ExecutedQty: 0.5, ExecutedPrice: 64_000,
	}
	rec.Reconcile(ctx)

	entry, qty, ok := riskMgr.Position(f.userID, "BTCUSDT")
	require.True(t, ok, "filled buy must open the tracked position")
	assert.Equal(t, 64_000.0, entry)
	assert.Equal(t, 0.5, qty)

	sell := &store.VenueOrderRow{
		ID: uuid.NewString(), UserID: f.userID, Venue: string(venue.Binance),
		Symbol: "BTCUSDT", Side: "sell", OrderType: "market", Quantity: 0.5,
		Status: store.VenueOrderPending, Source: store.SourceAuto,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertVenueOrder(ctx, sell))
	sellExchangeID := "ex-close"
	require.NoError(t, f.store.UpdateVenueOrder(ctx, sell.ID, store.VenueOrderUpdate{
		Status: &submitted, ExchangeOrderID: &sellExchangeID,
	}))

	f.stub.remote = &venue.Order{
		ID: sellExchangeID, Symbol: "BTCUSDT", Side: "sell",
		Status: venue.OrderStatusFilled, ExecutedQty: 0.5, ExecutedPrice: 66_000,
	}
	rec.Reconcile(ctx)

	_, _, ok = riskMgr.Position(f.userID, "BTCUSDT")
	assert.False(t, ok, "filled sell must clear the tracked position")
}
