package strategy

import (
	"fmt"

	"tritex/internal/indicator"
	"tritex/internal/venue"
)

// ============================================================================
// RSI (weight 1.5)
// ============================================================================

// RSIStrategy signals on oversold/overbought crossings of the RSI.
type RSIStrategy struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func (s *RSIStrategy) Name() string    { return "rsi" }
func (s *RSIStrategy) Weight() float64 { return 1.5 }

func (s *RSIStrategy) Evaluate(candles []venue.Candle) Result {
	rsi := indicator.RSI(indicator.Closes(candles), s.Period)
	last := len(rsi) - 1
	if last < 0 || !indicator.IsAvailable(rsi[last]) {
		return noOpinion("rsi: insufficient data")
	}
	v := rsi[last]
	switch {
	case v <= s.Oversold:
		conf := clamp01(0.5 + (s.Oversold-v)/s.Oversold)
		return Result{Signal: SignalBuy, Confidence: conf,
			Reason: fmt.Sprintf("rsi %.1f below oversold %.0f", v, s.Oversold)}
	case v >= s.Overbought:
		conf := clamp01(0.5 + (v-s.Overbought)/(100-s.Overbought))
		return Result{Signal: SignalSell, Confidence: conf,
			Reason: fmt.Sprintf("rsi %.1f above overbought %.0f", v, s.Overbought)}
	default:
		return hold(fmt.Sprintf("rsi %.1f neutral", v))
	}
}

// ============================================================================
// MACD (weight 1.3)
// ============================================================================

// MACDStrategy signals on golden/dead crosses of the MACD and signal lines.
type MACDStrategy struct {
	Fast, Slow, SignalPeriod int
}

func (s *MACDStrategy) Name() string    { return "macd" }
func (s *MACDStrategy) Weight() float64 { return 1.3 }

func (s *MACDStrategy) Evaluate(candles []venue.Candle) Result {
	res := indicator.MACD(indicator.Closes(candles), s.Fast, s.Slow, s.SignalPeriod)
	last := len(res.MACD) - 1
	if last < 1 || !indicator.IsAvailable(res.Signal[last]) || !indicator.IsAvailable(res.Signal[last-1]) {
		return noOpinion("macd: insufficient data")
	}

	prevDiff := res.MACD[last-1] - res.Signal[last-1]
	currDiff := res.MACD[last] - res.Signal[last]
	switch {
	case prevDiff <= 0 && currDiff > 0:
		return Result{Signal: SignalBuy, Confidence: 0.8,
			Reason: fmt.Sprintf("macd golden cross (%.4f)", currDiff)}
	case prevDiff >= 0 && currDiff < 0:
		return Result{Signal: SignalSell, Confidence: 0.8,
			Reason: fmt.Sprintf("macd dead cross (%.4f)", currDiff)}
	case currDiff > 0:
		return Result{Signal: SignalBuy, Confidence: 0.4, Reason: "macd above signal"}
	case currDiff < 0:
		return Result{Signal: SignalSell, Confidence: 0.4, Reason: "macd below signal"}
	default:
		return hold("macd flat")
	}
}

// ============================================================================
// Bollinger (weight 1.2)
// ============================================================================

// BollingerStrategy signals when price touches or pierces the bands.
// TouchProximity is the relative distance counted as a band touch.
type BollingerStrategy struct {
	Period         int
	Mult           float64
	TouchProximity float64
}

func (s *BollingerStrategy) Name() string    { return "bollinger" }
func (s *BollingerStrategy) Weight() float64 { return 1.2 }

func (s *BollingerStrategy) Evaluate(candles []venue.Candle) Result {
	bands := indicator.Bollinger(indicator.Closes(candles), s.Period, s.Mult)
	last := len(candles) - 1
	if last < 0 || !indicator.IsAvailable(bands.Upper[last]) {
		return noOpinion("bollinger: insufficient data")
	}
	close := candles[last].Close
	upper, lower := bands.Upper[last], bands.Lower[last]
	if upper == lower {
		return hold("bollinger bands collapsed")
	}
	switch {
	case close <= lower*(1+s.TouchProximity):
		depth := clamp01((lower-close)/lower + 0.6)
		return Result{Signal: SignalBuy, Confidence: depth,
			Reason: fmt.Sprintf("price %.4f at lower band %.4f", close, lower)}
	case close >= upper*(1-s.TouchProximity):
		depth := clamp01((close-upper)/upper + 0.6)
		return Result{Signal: SignalSell, Confidence: depth,
			Reason: fmt.Sprintf("price %.4f at upper band %.4f", close, upper)}
	default:
		return hold("price inside bands")
	}
}

// ============================================================================
// Volume (weight 0.8)
// ============================================================================

// VolumeStrategy signals when the last bar's volume spikes against the
// trailing mean, in the direction of the bar.
type VolumeStrategy struct {
	Period     int
	SpikeRatio float64
}

func (s *VolumeStrategy) Name() string    { return "volume" }
func (s *VolumeStrategy) Weight() float64 { return 0.8 }

func (s *VolumeStrategy) Evaluate(candles []venue.Candle) Result {
	if len(candles) < s.Period+1 {
		return noOpinion("volume: insufficient data")
	}
	volumes := indicator.Volumes(candles[:len(candles)-1])
	avg := indicator.SMA(volumes, s.Period)
	mean := avg[len(avg)-1]
	if !indicator.IsAvailable(mean) || mean == 0 {
		return noOpinion("volume: no baseline")
	}
	bar := candles[len(candles)-1]
	ratio := bar.Volume / mean
	if ratio < s.SpikeRatio {
		return hold(fmt.Sprintf("volume ratio %.2f below spike threshold", ratio))
	}
	conf := clamp01(ratio / 3)
	if bar.Close > bar.Open {
		return Result{Signal: SignalBuy, Confidence: conf,
			Reason: fmt.Sprintf("bullish volume spike %.2fx", ratio)}
	}
	if bar.Close < bar.Open {
		return Result{Signal: SignalSell, Confidence: conf,
			Reason: fmt.Sprintf("bearish volume spike %.2fx", ratio)}
	}
	return hold("volume spike on doji")
}

// ============================================================================
// Trend / EMA stack (weight 1.0)
// ============================================================================

// TrendStrategy signals on the ordering of the fast/mid/slow EMA stack.
type TrendStrategy struct {
	FastPeriod, MidPeriod, SlowPeriod int
}

func (s *TrendStrategy) Name() string    { return "trend" }
func (s *TrendStrategy) Weight() float64 { return 1.0 }

func (s *TrendStrategy) Evaluate(candles []venue.Candle) Result {
	closes := indicator.Closes(candles)
	fast := lastAvailable(indicator.EMA(closes, s.FastPeriod))
	mid := lastAvailable(indicator.EMA(closes, s.MidPeriod))
	slow := lastAvailable(indicator.EMA(closes, s.SlowPeriod))
	if !indicator.IsAvailable(fast) || !indicator.IsAvailable(mid) || !indicator.IsAvailable(slow) {
		return noOpinion("trend: insufficient data")
	}
	price := closes[len(closes)-1]
	switch {
	case fast > mid && mid > slow:
		conf := 0.6
		if price > fast {
			conf = 0.8
		}
		return Result{Signal: SignalBuy, Confidence: conf, Reason: "bullish ema stack"}
	case fast < mid && mid < slow:
		conf := 0.6
		if price < fast {
			conf = 0.8
		}
		return Result{Signal: SignalSell, Confidence: conf, Reason: "bearish ema stack"}
	default:
		return hold("mixed ema stack")
	}
}

// ============================================================================
// Stochastic (weight 0.7)
// ============================================================================

// StochasticStrategy signals on %K/%D position against the oversold and
// overbought bands, stronger when %K crosses %D.
type StochasticStrategy struct {
	KPeriod, DPeriod     int
	Oversold, Overbought float64
}

func (s *StochasticStrategy) Name() string    { return "stochastic" }
func (s *StochasticStrategy) Weight() float64 { return 0.7 }

func (s *StochasticStrategy) Evaluate(candles []venue.Candle) Result {
	res := indicator.Stochastic(candles, s.KPeriod, s.DPeriod)
	last := len(candles) - 1
	if last < 0 || !indicator.IsAvailable(res.D[last]) {
		return noOpinion("stochastic: insufficient data")
	}
	k, d := res.K[last], res.D[last]
	switch {
	case k <= s.Oversold && k > d:
		return Result{Signal: SignalBuy, Confidence: 0.7,
			Reason: fmt.Sprintf("stochastic %%K %.1f crossing up from oversold", k)}
	case k <= s.Oversold:
		return Result{Signal: SignalBuy, Confidence: 0.5,
			Reason: fmt.Sprintf("stochastic %%K %.1f oversold", k)}
	case k >= s.Overbought && k < d:
		return Result{Signal: SignalSell, Confidence: 0.7,
			Reason: fmt.Sprintf("stochastic %%K %.1f crossing down from overbought", k)}
	case k >= s.Overbought:
		return Result{Signal: SignalSell, Confidence: 0.5,
			Reason: fmt.Sprintf("stochastic %%K %.1f overbought", k)}
	default:
		return hold(fmt.Sprintf("stochastic %%K %.1f neutral", k))
	}
}

func lastAvailable(series []float64) float64 {
	if len(series) == 0 {
		return indicator.NotAvailable
	}
	return series[len(series)-1]
}
