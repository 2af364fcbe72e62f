package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tritex/internal/ai"
	"tritex/internal/apperr"
	"tritex/internal/events"
	"tritex/internal/executor"
	"tritex/internal/risk"
	"tritex/internal/store"
	"tritex/internal/venue"
)

type tupleKey struct {
	userID string
	venue  venue.Name
}

// trader is one running auto-trade loop. The mutex keeps cycles from
// overlapping when a tick fires while the previous cycle is still mid-flight.
type trader struct {
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Scheduler runs one auto-trade loop per enabled (principal, venue) tuple
// and the daily counter reset.
type Scheduler struct {
	g      *Gateway
	logger zerolog.Logger

	mu      sync.Mutex
	traders map[tupleKey]*trader
}

func newScheduler(g *Gateway, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		g:       g,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		traders: make(map[tupleKey]*trader),
	}
}

// Start launches the trader for a tuple. Starting a running tuple is a
// no-op.
func (s *Scheduler) Start(userID string, name venue.Name) {
	key := tupleKey{userID: userID, venue: name}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traders[key]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	tr := &trader{cancel: cancel}
	s.traders[key] = tr
	go s.run(ctx, userID, name, tr)
	s.logger.Info().Str("user_id", userID).Str("venue", string(name)).Msg("auto-trader started")
}

// Stop cancels the trader for a tuple. The running cycle, if any, finishes
// its current step; no new cycle starts.
func (s *Scheduler) Stop(userID string, name venue.Name) {
	key := tupleKey{userID: userID, venue: name}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.traders[key]; ok {
		tr.cancel()
		delete(s.traders, key)
		s.logger.Info().Str("user_id", userID).Str("venue", string(name)).Msg("auto-trader stopped")
	}
}

// Running reports whether a tuple has a live trader.
func (s *Scheduler) Running(userID string, name venue.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.traders[tupleKey{userID: userID, venue: name}]
	return ok
}

// Count returns the number of live traders.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traders)
}

// StopAll cancels every trader; used on shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, tr := range s.traders {
		tr.cancel()
		delete(s.traders, key)
	}
}

// RestoreEnabled starts traders for every config enabled before the last
// shutdown.
func (s *Scheduler) RestoreEnabled(ctx context.Context) error {
	configs, err := s.g.store.ListEnabledAutoConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		name, err := venue.ParseName(cfg.Venue)
		if err != nil {
			s.logger.Warn().Str("venue", cfg.Venue).Msg("skipping config with unknown venue")
			continue
		}
		s.Start(cfg.UserID, name)
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, userID string, name venue.Name, tr *trader) {
	ticker := time.NewTicker(s.g.cfg.AutoTrade.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tr.mu.Lock()
			s.cycle(ctx, userID, name)
			tr.mu.Unlock()
		}
	}
}

// cycle runs one pass over the tuple's configured symbols. Errors are
// swallowed into the event log; the loop never dies.
func (s *Scheduler) cycle(ctx context.Context, userID string, name venue.Name) {
	cfg, err := s.g.store.GetAutoConfig(ctx, userID, string(name))
	if err != nil || !cfg.Enabled {
		s.Stop(userID, name)
		return
	}
	for _, symbol := range strings.Split(cfg.Symbols, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		if err := s.tradeSymbol(ctx, userID, name, cfg, symbol); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Str("symbol", symbol).Msg("auto-trade cycle")
			eventType := events.TypeAutoError
			if apperr.Is(err, apperr.KindSafetyBlocked) {
				eventType = events.TypeAutoTradePaused
			}
			s.g.bus.Publish(eventType, userID, map[string]interface{}{
				"exchange": string(name),
				"symbol":   symbol,
				"error":    err.Error(),
			})
		}
	}
}

// tradeSymbol runs the full decision pipeline for one symbol: candles,
// consensus, gates, sizing, order.
func (s *Scheduler) tradeSymbol(ctx context.Context, userID string, name venue.Name, cfg *store.AutoConfig, symbol string) error {
	client, err := s.g.executor.Client(ctx, userID, name)
	if err != nil {
		return err
	}
	candles, err := client.GetCandles(ctx, symbol, s.g.cfg.AutoTrade.CandleInterval, s.g.cfg.AutoTrade.CandleCount)
	if err != nil {
		return err
	}
	if len(candles) < minAnalysisCandles {
		return apperr.New(apperr.KindBadInput, "need at least %d candles for %s, got %d", minAnalysisCandles, symbol, len(candles))
	}
	price := candles[len(candles)-1].Close

	quote := quoteAsset(name)
	quoteBal, err := client.GetAccount(ctx, quote)
	if err != nil {
		return err
	}

	limits := risk.Limits{StopLossPct: cfg.StopLossPct, TakeProfitPct: cfg.TakeProfitPct}
	consensus := s.g.ai.Analyze(userID, symbol, candles, price, quoteBal.Free, limits)
	if consensus.Confidence < cfg.MinConfidence {
		return nil
	}
	if consensus.Decision == ai.DecisionHold {
		return nil
	}
	if !consensus.Risk.Allowed && !consensus.Forced {
		return nil
	}

	// Caps can have moved since the cycle started; re-read before sizing.
	cfg, err = s.g.store.GetAutoConfig(ctx, userID, string(name))
	if err != nil {
		return err
	}
	if cfg.DailyTrades >= cfg.MaxDailyTrades {
		return nil
	}
	if cfg.ConsecutiveLosses >= executor.MaxConsecutiveLosses {
		return apperr.New(apperr.KindSafetyBlocked, "%d consecutive losses, auto-trade paused", cfg.ConsecutiveLosses)
	}

	var side string
	var quantity float64
	switch consensus.Decision {
	case ai.DecisionBuy:
		side = "buy"
		quantity = truncate(quoteBal.Free*cfg.MaxPositionPct, 2)
	case ai.DecisionSell:
		side = "sell"
		baseBal, err := client.GetAccount(ctx, baseAsset(name, symbol))
		if err != nil {
			return err
		}
		quantity = truncate(baseBal.Free*cfg.MaxPositionPct, 3)
	}
	if quantity <= 0 {
		return nil
	}

	detail, err := json.Marshal(consensus.Strategies)
	if err != nil {
		return err
	}
	signal := &store.SignalRow{
		ID:         uuid.NewString(),
		UserID:     userID,
		Venue:      string(name),
		Symbol:     symbol,
		Decision:   string(consensus.Decision),
		Score:      consensus.Score,
		Confidence: consensus.Confidence,
		Trit:       consensus.Trit,
		Detail:     string(detail),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.g.store.SaveSignal(ctx, signal); err != nil {
		return err
	}

	row, err := s.g.executor.ExecuteOrder(ctx, userID, name, executor.OrderParams{
		Symbol:   symbol,
		Side:     side,
		Type:     "market",
		Quantity: quantity,
		Source:   store.SourceAuto,
		SignalID: signal.ID,
	})
	if err != nil {
		return err
	}
	s.g.ai.Risk().RecordTrade(userID)

	s.g.bus.Publish(events.TypeAutoTrade, userID, map[string]interface{}{
		"exchange": string(name),
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"orderId":  row.ID,
		"signalId": signal.ID,
		"decision": string(consensus.Decision),
		"trit":     consensus.Trit,
	})
	return nil
}

// RunDailyReset sleeps until the next local midnight, then resets daily
// counters every 24h.
func (s *Scheduler) RunDailyReset(ctx context.Context) {
	for {
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
		timer := time.NewTimer(time.Until(midnight))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.g.store.ResetDailyCounters(ctx); err != nil {
				s.logger.Error().Err(err).Msg("daily counter reset")
			} else {
				s.logger.Info().Msg("daily trade counters reset")
			}
			s.g.ai.Risk().ResetDaily()
		}
	}
}

// truncate drops digits past the given decimal place without rounding.
func truncate(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Truncate(places).InexactFloat64()
}

// quoteAsset is the funding currency per venue.
func quoteAsset(name venue.Name) string {
	if name == venue.Upbit {
		return "KRW"
	}
	return "USDT"
}

// baseAsset extracts the traded asset from a venue symbol: "KRW-BTC" on
// upbit, "BTCUSDT" on binance.
func baseAsset(name venue.Name, symbol string) string {
	if name == venue.Upbit {
		if i := strings.Index(symbol, "-"); i >= 0 {
			return symbol[i+1:]
		}
		return symbol
	}
	return strings.TrimSuffix(symbol, quoteAsset(name))
}
