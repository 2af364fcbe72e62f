package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"tritex/internal/ai"
	"tritex/internal/apperr"
	"tritex/internal/risk"
	"tritex/internal/store"
	"tritex/internal/venue"
)

// minAnalysisCandles is the floor below which the indicator set is not
// meaningful.
const minAnalysisCandles = 50

const defaultBacktestBalance = 10_000

func (g *Gateway) routeAI(ctx context.Context, principal, action string, params Params) (interface{}, error) {
	name, err := venue.ParseName(params.str("exchange"))
	if err != nil {
		return nil, err
	}
	symbol := params.str("symbol")
	interval := params.str("interval")
	if interval == "" {
		interval = g.cfg.AutoTrade.CandleInterval
	}
	count := params.count("count", g.cfg.AutoTrade.CandleCount)

	switch action {
	case "analyze":
		return g.Analyze(ctx, principal, name, symbol, interval, count)
	case "backtest":
		balance := params.num("initialBalance")
		if balance <= 0 {
			balance = defaultBacktestBalance
		}
		return g.Backtest(ctx, name, symbol, interval, count, balance)
	case "multiAnalyze":
		symbols := strings.Split(params.str("symbols"), ",")
		return g.MultiAnalyze(ctx, principal, name, symbols, interval, count)
	default:
		return nil, apperr.New(apperr.KindBadInput, "unknown ai action %q", action)
	}
}

// AnalysisResult pairs a persisted signal id with its consensus.
type AnalysisResult struct {
	SignalID string       `json:"signalId"`
	Symbol   string       `json:"symbol"`
	Venue    string       `json:"exchange"`
	ai.Consensus
}

// Analyze fetches candles, runs the consensus vote, and persists the signal.
func (g *Gateway) Analyze(ctx context.Context, principal string, name venue.Name, symbol, interval string, count int) (*AnalysisResult, error) {
	candles, err := g.marketCandles(ctx, name, symbol, interval, count)
	if err != nil {
		return nil, err
	}
	if len(candles) < minAnalysisCandles {
		return nil, apperr.New(apperr.KindBadInput, "need at least %d candles, got %d", minAnalysisCandles, len(candles))
	}

	price := candles[len(candles)-1].Close
	var balance float64
	var limits risk.Limits
	if principal != "" {
		if balance, err = g.store.TotalBalance(ctx, principal); err != nil {
			return nil, err
		}
		// The user's saved thresholds, when any, replace the defaults.
		if cfg, err := g.store.GetAutoConfig(ctx, principal, string(name)); err == nil {
			limits = risk.Limits{StopLossPct: cfg.StopLossPct, TakeProfitPct: cfg.TakeProfitPct}
		}
	}
	consensus := g.ai.Analyze(principal, symbol, candles, price, balance, limits)

	detail, err := json.Marshal(consensus.Strategies)
	if err != nil {
		return nil, err
	}
	row := &store.SignalRow{
		ID:         uuid.NewString(),
		UserID:     principal,
		Venue:      string(name),
		Symbol:     symbol,
		Decision:   string(consensus.Decision),
		Score:      consensus.Score,
		Confidence: consensus.Confidence,
		Trit:       consensus.Trit,
		Detail:     string(detail),
		CreatedAt:  time.Now().UTC(),
	}
	if err := g.store.SaveSignal(ctx, row); err != nil {
		return nil, err
	}

	return &AnalysisResult{
		SignalID:  row.ID,
		Symbol:    symbol,
		Venue:     string(name),
		Consensus: consensus,
	}, nil
}

// Backtest replays the consensus over historical candles.
func (g *Gateway) Backtest(ctx context.Context, name venue.Name, symbol, interval string, count int, initialBalance float64) (*ai.BacktestResult, error) {
	candles, err := g.marketCandles(ctx, name, symbol, interval, count)
	if err != nil {
		return nil, err
	}
	if len(candles) < minAnalysisCandles {
		return nil, apperr.New(apperr.KindBadInput, "need at least %d candles, got %d", minAnalysisCandles, len(candles))
	}
	return g.ai.Backtest(symbol, candles, initialBalance), nil
}

// MultiAnalyze runs Analyze for each symbol; per-symbol failures are
// reported inline rather than failing the batch.
func (g *Gateway) MultiAnalyze(ctx context.Context, principal string, name venue.Name, symbols []string, interval string, count int) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		result, err := g.Analyze(ctx, principal, name, symbol, interval, count)
		if err != nil {
			out[symbol] = map[string]interface{}{"error": err.Error()}
			continue
		}
		out[symbol] = result
	}
	return out, nil
}

// marketCandles reads candles through the credential-less market client for
// the venue.
func (g *Gateway) marketCandles(ctx context.Context, name venue.Name, symbol, interval string, count int) ([]venue.Candle, error) {
	client, ok := g.market[name]
	if !ok {
		return nil, apperr.New(apperr.KindBadInput, "no market client for venue %s", name)
	}
	return client.GetCandles(ctx, symbol, interval, count)
}

// MarketTicker returns the latest trade price at a venue.
func (g *Gateway) MarketTicker(ctx context.Context, name venue.Name, symbol string) (float64, error) {
	client, ok := g.market[name]
	if !ok {
		return 0, apperr.New(apperr.KindBadInput, "no market client for venue %s", name)
	}
	return client.GetTicker(ctx, symbol)
}

// MarketCandles exposes candle reads for the transport layer.
func (g *Gateway) MarketCandles(ctx context.Context, name venue.Name, symbol, interval string, count int) ([]venue.Candle, error) {
	return g.marketCandles(ctx, name, symbol, interval, count)
}

// MarketOrderBook returns the venue order book, dispatched on the typed
// venue name.
func (g *Gateway) MarketOrderBook(ctx context.Context, name venue.Name, symbol string) (*venue.OrderBook, error) {
	client, ok := g.market[name]
	if !ok {
		return nil, apperr.New(apperr.KindBadInput, "no market client for venue %s", name)
	}
	return client.GetOrderBook(ctx, symbol)
}

// KimchiPremium compares the KRW price of an asset against its USDT price
// through the assumed FX rate, as a percentage.
func (g *Gateway) KimchiPremium(ctx context.Context, asset string) (map[string]interface{}, error) {
	krwPrice, err := g.MarketTicker(ctx, venue.Upbit, "KRW-"+asset)
	if err != nil {
		return nil, err
	}
	usdtPrice, err := g.MarketTicker(ctx, venue.Binance, asset+"USDT")
	if err != nil {
		return nil, err
	}
	if usdtPrice <= 0 {
		return nil, apperr.New(apperr.KindBadInput, "no usdt price for %s", asset)
	}

	premium := (krwPrice/(usdtPrice*g.cfg.Market.KRWUSDRate) - 1) * 100
	return map[string]interface{}{
		"asset":      asset,
		"krwPrice":   krwPrice,
		"usdtPrice":  usdtPrice,
		"fxRate":     g.cfg.Market.KRWUSDRate,
		"premiumPct": premium,
	}, nil
}
