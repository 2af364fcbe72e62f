// Package executor routes orders to external venues with per-user client
// caching and the multi-layer trade safety gate.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"tritex/internal/apperr"
	"tritex/internal/keyvault"
	"tritex/internal/store"
	"tritex/internal/venue"
	"tritex/internal/venue/binance"
	"tritex/internal/venue/upbit"
)

const (
	// MaxConsecutiveLosses trips the auto-trade circuit breaker.
	MaxConsecutiveLosses = 3

	// maxErrorLen bounds the error text persisted onto a failed order.
	maxErrorLen = 500
)

// OrderParams describes one execution request.
type OrderParams struct {
	Symbol   string
	Side     string // buy or sell
	Type     string // limit or market
	Quantity float64
	Price    float64 // 0 for market orders
	Source   string  // manual or auto
	SignalID string  // optional ai-signal linkage
}

// ClientFactory builds a venue client from decrypted credentials.
type ClientFactory func(name venue.Name, accessKey, secretKey string) venue.Client

// DefaultFactory dispatches on the venue enum to the real clients.
func DefaultFactory(upbitBaseURL, binanceBaseURL string, logger zerolog.Logger) ClientFactory {
	return func(name venue.Name, accessKey, secretKey string) venue.Client {
		switch name {
		case venue.Upbit:
			return upbit.New(accessKey, secretKey, upbitBaseURL, logger)
		default:
			return binance.New(accessKey, secretKey, binanceBaseURL, logger)
		}
	}
}

type cacheKey struct {
	userID string
	venue  venue.Name
}

type cacheEntry struct {
	client  venue.Client
	breaker *gobreaker.CircuitBreaker
}

// Executor owns the client cache and the order execution pipeline.
type Executor struct {
	store   *store.Store
	vault   *keyvault.Vault
	factory ClientFactory
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[cacheKey]*cacheEntry
}

// New wires the executor.
func New(st *store.Store, vault *keyvault.Vault, factory ClientFactory, logger zerolog.Logger) *Executor {
	return &Executor{
		store:   st,
		vault:   vault,
		factory: factory,
		logger:  logger.With().Str("component", "executor").Logger(),
		clients: make(map[cacheKey]*cacheEntry),
	}
}

// Invalidate drops the cached client for a (user, venue), forcing the next
// call to rebuild from stored keys. Called on key rotation and deletion.
func (e *Executor) Invalidate(userID string, name venue.Name) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, cacheKey{userID: userID, venue: name})
}

// Client returns the cached venue client for a user, building one from the
// stored credentials on a miss.
func (e *Executor) Client(ctx context.Context, userID string, name venue.Name) (venue.Client, error) {
	entry, err := e.entry(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	return entry.client, nil
}

func (e *Executor) entry(ctx context.Context, userID string, name venue.Name) (*cacheEntry, error) {
	key := cacheKey{userID: userID, venue: name}
	e.mu.Lock()
	if entry, ok := e.clients[key]; ok {
		e.mu.Unlock()
		return entry, nil
	}
	e.mu.Unlock()

	row, err := e.store.GetCredential(ctx, userID, string(name))
	if err != nil {
		return nil, err
	}
	accessKey, secretKey, err := e.vault.DecryptPair(&keyvault.Credential{
		Venue:        name,
		AccessCipher: row.AccessCipher,
		SecretCipher: row.SecretCipher,
		IV:           row.IV,
		Tag:          row.Tag,
	})
	if err != nil {
		return nil, err
	}

	entry := &cacheEntry{
		client: e.factory(name, accessKey, secretKey),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(name) + ":" + userID,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	e.mu.Lock()
	e.clients[key] = entry
	e.mu.Unlock()
	return entry, nil
}

// ExecuteOrder runs the full pipeline: safety gate, pending row, venue
// submission, row update, daily counter.
func (e *Executor) ExecuteOrder(ctx context.Context, userID string, name venue.Name, p OrderParams) (*store.VenueOrderRow, error) {
	if err := e.safetyGate(ctx, userID, name, p); err != nil {
		return nil, err
	}

	row := &store.VenueOrderRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		Venue:     string(name),
		Symbol:    p.Symbol,
		Side:      p.Side,
		OrderType: p.Type,
		Quantity:  p.Quantity,
		Status:    store.VenueOrderPending,
		Source:    p.Source,
		CreatedAt: time.Now().UTC(),
	}
	if p.Price > 0 {
		row.Price.Float64, row.Price.Valid = p.Price, true
	}
	if p.SignalID != "" {
		row.AISignalID.String, row.AISignalID.Valid = p.SignalID, true
	}
	if err := e.store.InsertVenueOrder(ctx, row); err != nil {
		return nil, err
	}

	entry, err := e.entry(ctx, userID, name)
	if err != nil {
		e.markFailed(ctx, row.ID, err)
		return nil, err
	}

	result, err := entry.breaker.Execute(func() (interface{}, error) {
		return entry.client.PlaceOrder(ctx, venue.OrderRequest{
			Symbol:   p.Symbol,
			Side:     p.Side,
			Type:     p.Type,
			Price:    p.Price,
			Quantity: p.Quantity,
		})
	})
	if err != nil {
		e.markFailed(ctx, row.ID, err)
		return nil, err
	}
	placed := result.(*venue.Order)

	status := store.VenueOrderSubmitted
	if placed.Status == venue.OrderStatusFilled {
		status = store.VenueOrderFilled
	}
	update := store.VenueOrderUpdate{
		Status:          &status,
		ExchangeOrderID: &placed.ID,
		FilledQty:       &placed.ExecutedQty,
		FilledPrice:     &placed.ExecutedPrice,
		Fee:             &placed.Fee,
	}
	if err := e.store.UpdateVenueOrder(ctx, row.ID, update); err != nil {
		return nil, err
	}
	if err := e.store.IncrementDailyTrades(ctx, userID, string(name)); err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("bump daily trades")
	}

	e.logger.Info().Str("user_id", userID).Str("venue", string(name)).
		Str("symbol", p.Symbol).Str("side", p.Side).Str("status", status).
		Msg("venue order executed")
	return e.store.GetVenueOrder(ctx, row.ID)
}

// RecordTradeResult feeds the consecutive-loss circuit breaker: profit
// resets the streak, loss extends it.
func (e *Executor) RecordTradeResult(ctx context.Context, userID string, name venue.Name, isProfit bool) error {
	if isProfit {
		return e.store.ResetConsecutiveLosses(ctx, userID, string(name))
	}
	return e.store.IncrementConsecutiveLosses(ctx, userID, string(name))
}

// safetyGate blocks execution when the auto-trade config's caps are hit or
// the order is outsized for the wallet. Users without a config trade
// without caps.
func (e *Executor) safetyGate(ctx context.Context, userID string, name venue.Name, p OrderParams) error {
	cfg, err := e.store.GetAutoConfig(ctx, userID, string(name))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}

	if cfg.DailyTrades >= cfg.MaxDailyTrades {
		return apperr.New(apperr.KindSafetyBlocked, "daily trade cap %d reached", cfg.MaxDailyTrades)
	}
	if cfg.ConsecutiveLosses >= MaxConsecutiveLosses {
		return apperr.New(apperr.KindSafetyBlocked, "%d consecutive losses, auto-trade paused", cfg.ConsecutiveLosses)
	}

	total, err := e.store.TotalBalance(ctx, userID)
	if err != nil {
		return err
	}
	if total > 0 {
		price := p.Price
		if price == 0 {
			price = 1
		}
		if p.Quantity*price/total > cfg.MaxPositionPct {
			return apperr.New(apperr.KindSafetyBlocked, "order exceeds %.0f%% position cap", cfg.MaxPositionPct*100)
		}
	}
	return nil
}

func (e *Executor) markFailed(ctx context.Context, orderID string, cause error) {
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	status := store.VenueOrderFailed
	if err := e.store.UpdateVenueOrder(ctx, orderID, store.VenueOrderUpdate{
		Status: &status,
		Error:  &msg,
	}); err != nil {
		e.logger.Error().Err(err).Str("order_id", orderID).Msg("mark order failed")
	}
}
