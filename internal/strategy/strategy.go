// Package strategy implements the six stateless technical analyzers. Each
// maps a candle series to a three-valued signal with a confidence and a
// human-readable reason; analyzers with no opinion report zero confidence and
// are dropped from the consensus.
package strategy

import (
	"tritex/internal/venue"
)

// Signal values form the three-trit vocabulary.
const (
	SignalSell = -1
	SignalHold = 0
	SignalBuy  = 1
)

// Result is a single strategy verdict.
type Result struct {
	Signal     int     `json:"signal"`     // -1, 0, +1
	Confidence float64 `json:"confidence"` // [0,1]; 0 means no opinion
	Reason     string  `json:"reason"`
}

// Strategy is a stateless analyzer over a candle series.
type Strategy interface {
	Name() string
	Weight() float64
	Evaluate(candles []venue.Candle) Result
}

// All returns the six analyzers with their consensus weights.
func All() []Strategy {
	return []Strategy{
		&RSIStrategy{Period: 14, Oversold: 30, Overbought: 70},
		&MACDStrategy{Fast: 12, Slow: 26, SignalPeriod: 9},
		&BollingerStrategy{Period: 20, Mult: 2, TouchProximity: 0.005},
		&VolumeStrategy{Period: 20, SpikeRatio: 1.5},
		&TrendStrategy{FastPeriod: 10, MidPeriod: 20, SlowPeriod: 50},
		&StochasticStrategy{KPeriod: 14, DPeriod: 3, Oversold: 20, Overbought: 80},
	}
}

func hold(reason string) Result {
	return Result{Signal: SignalHold, Confidence: 0.3, Reason: reason}
}

func noOpinion(reason string) Result {
	return Result{Signal: SignalHold, Confidence: 0, Reason: reason}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
