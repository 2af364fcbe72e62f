package ai

import (
	"math"
	"time"

	"tritex/internal/venue"
)

// Backtest walk-forward parameters.
const (
	backtestWarmup   = 50  // bars before the first analysis
	backtestNotional = 0.1 // fraction of equity committed per entry
	tradingDaysYear  = 252
)

// BacktestTrade is a single completed round trip.
type BacktestTrade struct {
	EntryIndex int     `json:"entryIndex"`
	ExitIndex  int     `json:"exitIndex"`
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	Quantity   float64 `json:"quantity"`
	PnL        float64 `json:"pnl"`
	Return     float64 `json:"return"`
}

// BacktestResult summarises a walk-forward simulation.
type BacktestResult struct {
	Symbol         string          `json:"symbol"`
	Candles        int             `json:"candles"`
	InitialBalance float64         `json:"initialBalance"`
	FinalBalance   float64         `json:"finalBalance"`
	TotalReturn    float64         `json:"totalReturn"`
	Trades         []BacktestTrade `json:"trades"`
	TradeCount     int             `json:"tradeCount"`
	WinCount       int             `json:"winCount"`
	WinRate        float64         `json:"winRate"`
	MaxDrawdown    float64         `json:"maxDrawdown"`
	Sharpe         float64         `json:"sharpe"`
	EquityCurve    []float64       `json:"equityCurve"`
	Elapsed        time.Duration   `json:"elapsed"`
}

// Backtest walks the candles from the warmup index, re-running the raw
// consensus on each prefix. A BUY while flat opens a long with 10% of equity;
// a SELL while long closes it. The final open position, if any, is marked to
// the last close.
func (e *Engine) Backtest(symbol string, candles []venue.Candle, initialBalance float64) *BacktestResult {
	start := time.Now()
	res := &BacktestResult{
		Symbol:         symbol,
		Candles:        len(candles),
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
	}
	if len(candles) <= backtestWarmup {
		res.Elapsed = time.Since(start)
		return res
	}

	cash := initialBalance
	var (
		quantity   float64
		entryPrice float64
		entryIndex int
	)

	equity := func(price float64) float64 { return cash + quantity*price }

	for i := backtestWarmup; i < len(candles); i++ {
		price := candles[i].Close
		consensus := e.Vote(candles[:i+1])

		switch {
		case consensus.Decision == DecisionBuy && quantity == 0 && price > 0:
			notional := equity(price) * backtestNotional
			quantity = notional / price
			cash -= notional
			entryPrice = price
			entryIndex = i

		case consensus.Decision == DecisionSell && quantity > 0:
			proceeds := quantity * price
			pnl := proceeds - quantity*entryPrice
			cash += proceeds
			res.Trades = append(res.Trades, BacktestTrade{
				EntryIndex: entryIndex,
				ExitIndex:  i,
				EntryPrice: entryPrice,
				ExitPrice:  price,
				Quantity:   quantity,
				PnL:        pnl,
				Return:     (price - entryPrice) / entryPrice,
			})
			if pnl > 0 {
				res.WinCount++
			}
			quantity = 0
		}

		res.EquityCurve = append(res.EquityCurve, equity(price))
	}

	res.FinalBalance = equity(candles[len(candles)-1].Close)
	res.TotalReturn = (res.FinalBalance - initialBalance) / initialBalance
	res.TradeCount = len(res.Trades)
	if res.TradeCount > 0 {
		res.WinRate = float64(res.WinCount) / float64(res.TradeCount)
	}
	res.MaxDrawdown = maxDrawdown(res.EquityCurve)
	res.Sharpe = sharpe(res.EquityCurve)
	res.Elapsed = time.Since(start)
	return res
}

func maxDrawdown(equity []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe approximates an annualized Sharpe ratio over per-bar equity returns.
func sharpe(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] > 0 {
			returns = append(returns, equity[i]/equity[i-1]-1)
		}
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDaysYear)
}
