// Package ai implements the weighted-vote consensus over the strategy set,
// gated by the risk manager, plus the historical backtest driver.
package ai

import (
	"github.com/rs/zerolog"

	"tritex/internal/risk"
	"tritex/internal/strategy"
	"tritex/internal/venue"
)

// Decision is the consensus verdict.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionHold Decision = "HOLD"
	DecisionSell Decision = "SELL"
)

// Trit returns the ternary glyph for a decision.
func (d Decision) Trit() string {
	switch d {
	case DecisionBuy:
		return "△"
	case DecisionSell:
		return "▽"
	default:
		return "○"
	}
}

// Signal returns the numeric three-trit value for a decision.
func (d Decision) Signal() int {
	switch d {
	case DecisionBuy:
		return 1
	case DecisionSell:
		return -1
	default:
		return 0
	}
}

// Verdict is a single strategy's contribution to a consensus.
type Verdict struct {
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	Signal     int     `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Consensus is the aggregated analysis result.
type Consensus struct {
	Decision   Decision        `json:"decision"`
	Score      float64         `json:"score"`      // [-1,1]
	Confidence float64         `json:"confidence"` // mean confidence of contributors
	Trit       string          `json:"trit"`
	Strategies []Verdict       `json:"strategies"`
	Risk       risk.Assessment `json:"risk"`
	Forced     bool            `json:"forced"` // risk trigger promoted the decision
}

// Score thresholds for the three-way decision.
const scoreThreshold = 0.3

// Engine runs the strategy set and applies the risk overlay.
type Engine struct {
	strategies []strategy.Strategy
	risk       *risk.Manager
	logger     zerolog.Logger
}

// NewEngine creates a consensus engine over the given strategies.
func NewEngine(strategies []strategy.Strategy, riskMgr *risk.Manager, logger zerolog.Logger) *Engine {
	return &Engine{
		strategies: strategies,
		risk:       riskMgr,
		logger:     logger.With().Str("component", "ai").Logger(),
	}
}

// Vote runs every strategy over the candles and aggregates the weighted
// consensus without the risk overlay. Strategies reporting zero confidence
// are dropped.
func (e *Engine) Vote(candles []venue.Candle) Consensus {
	var (
		weightedSum  float64
		totalWeight  float64
		confSum      float64
		contributors int
		verdicts     []Verdict
	)

	for _, s := range e.strategies {
		res := s.Evaluate(candles)
		verdicts = append(verdicts, Verdict{
			Name:       s.Name(),
			Weight:     s.Weight(),
			Signal:     res.Signal,
			Confidence: res.Confidence,
			Reason:     res.Reason,
		})
		if res.Confidence == 0 {
			continue
		}
		weightedSum += float64(res.Signal) * s.Weight() * res.Confidence
		totalWeight += s.Weight() * res.Confidence
		confSum += res.Confidence
		contributors++
	}

	out := Consensus{Strategies: verdicts, Decision: DecisionHold}
	if contributors > 0 && totalWeight > 0 {
		out.Score = weightedSum / totalWeight
		out.Confidence = confSum / float64(contributors)
	}
	switch {
	case out.Score > scoreThreshold:
		out.Decision = DecisionBuy
	case out.Score < -scoreThreshold:
		out.Decision = DecisionSell
	}
	out.Trit = out.Decision.Trit()
	return out
}

// Risk exposes the engine's risk manager so callers can feed it trade
// counts and open positions.
func (e *Engine) Risk() *risk.Manager { return e.risk }

// Analyze runs the full consensus for a user: vote, then risk overlay.
// A blocked gate demotes BUY/SELL to HOLD; a stop-loss or take-profit
// trigger forces SELL. Limits carry the user's own stop/take thresholds;
// zero fields use the platform defaults.
func (e *Engine) Analyze(userID, symbol string, candles []venue.Candle, price, balance float64, limits risk.Limits) Consensus {
	out := e.Vote(candles)
	out.Risk = e.risk.Assess(userID, string(out.Decision), symbol, price, balance, limits)

	if !out.Risk.Allowed && out.Decision != DecisionHold {
		e.logger.Debug().Str("symbol", symbol).Strs("risks", out.Risk.Risks).
			Msg("risk gate demoted decision to HOLD")
		out.Decision = DecisionHold
		out.Trit = out.Decision.Trit()
	}
	if out.Risk.Has(risk.RiskStopLoss) || out.Risk.Has(risk.RiskTakeProfit) {
		out.Decision = DecisionSell
		out.Trit = out.Decision.Trit()
		out.Forced = true
	}
	return out
}
