package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tritex/internal/strategy"
	"tritex/internal/venue"
)

// scriptedStrategy decides from the prefix length, so the backtest walk can
// be driven deterministically.
type scriptedStrategy struct {
	decide func(n int) int
}

func (s *scriptedStrategy) Name() string    { return "scripted" }
func (s *scriptedStrategy) Weight() float64 { return 1 }
func (s *scriptedStrategy) Evaluate(candles []venue.Candle) strategy.Result {
	return strategy.Result{Signal: s.decide(len(candles)), Confidence: 1}
}

func rampCandles(n int, start, step float64) []venue.Candle {
	out := make([]venue.Candle, n)
	p := start
	for i := range out {
		out[i] = venue.Candle{Open: p, High: p, Low: p, Close: p, Volume: 1}
		p += step
	}
	return out
}

func TestBacktest_TooFewCandles(t *testing.T) {
	e := newEngine(stubs(1, strategy.SignalBuy, 1, 1))
	res := e.Backtest("BTCUSDT", rampCandles(40, 100, 1), 10000)
	assert.Zero(t, res.TradeCount)
	assert.InDelta(t, 10000.0, res.FinalBalance, 1e-9)
	assert.Zero(t, res.TotalReturn)
}

func TestBacktest_ProfitableRoundTrip(t *testing.T) {
	// Buy at bar 60, sell at bar 80 on a rising series.
	script := &scriptedStrategy{decide: func(n int) int {
		switch n {
		case 61:
			return strategy.SignalBuy
		case 81:
			return strategy.SignalSell
		default:
			return strategy.SignalHold
		}
	}}
	e := newEngine([]strategy.Strategy{script})

	candles := rampCandles(100, 100, 1)
	res := e.Backtest("BTCUSDT", candles, 10000)

	require.Equal(t, 1, res.TradeCount)
	trade := res.Trades[0]
	assert.Equal(t, 60, trade.EntryIndex)
	assert.Equal(t, 80, trade.ExitIndex)
	assert.Greater(t, trade.PnL, 0.0)
	assert.Equal(t, 1, res.WinCount)
	assert.InDelta(t, 1.0, res.WinRate, 1e-9)
	assert.Greater(t, res.TotalReturn, 0.0)
	assert.Greater(t, res.Sharpe, 0.0)
	assert.Len(t, res.EquityCurve, 50)
}

func TestBacktest_TenPercentNotional(t *testing.T) {
	script := &scriptedStrategy{decide: func(n int) int {
		if n == 51 {
			return strategy.SignalBuy
		}
		return strategy.SignalHold
	}}
	e := newEngine([]strategy.Strategy{script})

	candles := rampCandles(60, 100, 0) // flat series at 100
	res := e.Backtest("BTCUSDT", candles, 10000)

	// 10% of 10k at price 150 (start+50 steps of 0 = still 100): qty = 1000/100 = 10.
	assert.Zero(t, res.TradeCount, "position left open is not a completed trade")
	assert.InDelta(t, 10000.0, res.FinalBalance, 1e-9, "flat prices leave equity unchanged")
}

func TestBacktest_LosingTradeDrawdown(t *testing.T) {
	script := &scriptedStrategy{decide: func(n int) int {
		switch n {
		case 61:
			return strategy.SignalBuy
		case 91:
			return strategy.SignalSell
		default:
			return strategy.SignalHold
		}
	}}
	e := newEngine([]strategy.Strategy{script})

	candles := rampCandles(100, 300, -2) // falling market
	res := e.Backtest("BTCUSDT", candles, 10000)

	require.Equal(t, 1, res.TradeCount)
	assert.Less(t, res.Trades[0].PnL, 0.0)
	assert.Zero(t, res.WinCount)
	assert.Greater(t, res.MaxDrawdown, 0.0)
	assert.Less(t, res.TotalReturn, 0.0)
}
