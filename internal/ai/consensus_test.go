package ai

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"tritex/internal/risk"
	"tritex/internal/strategy"
	"tritex/internal/venue"
)

// stubStrategy emits a fixed verdict regardless of input.
type stubStrategy struct {
	name   string
	weight float64
	result strategy.Result
}

func (s *stubStrategy) Name() string                            { return s.name }
func (s *stubStrategy) Weight() float64                         { return s.weight }
func (s *stubStrategy) Evaluate([]venue.Candle) strategy.Result { return s.result }

func stubs(n int, signal int, conf, weight float64) []strategy.Strategy {
	out := make([]strategy.Strategy, n)
	for i := range out {
		out[i] = &stubStrategy{
			name:   string(rune('a' + i)),
			weight: weight,
			result: strategy.Result{Signal: signal, Confidence: conf},
		}
	}
	return out
}

func newEngine(strategies []strategy.Strategy) *Engine {
	return NewEngine(strategies, risk.NewManager(risk.DefaultConfig()), zerolog.Nop())
}

func TestVote_UnanimousBuy(t *testing.T) {
	e := newEngine(stubs(6, strategy.SignalBuy, 1, 1))
	out := e.Vote(nil)

	assert.InDelta(t, 1.0, out.Score, 1e-9)
	assert.Equal(t, DecisionBuy, out.Decision)
	assert.Equal(t, "△", out.Trit)
	assert.InDelta(t, 1.0, out.Confidence, 1e-9)
}

func TestVote_UnanimousSell(t *testing.T) {
	e := newEngine(stubs(6, strategy.SignalSell, 1, 1))
	out := e.Vote(nil)

	assert.InDelta(t, -1.0, out.Score, 1e-9)
	assert.Equal(t, DecisionSell, out.Decision)
	assert.Equal(t, "▽", out.Trit)
}

func TestVote_BalancedVotesHold(t *testing.T) {
	strategies := append(stubs(3, strategy.SignalBuy, 1, 1), stubs(3, strategy.SignalSell, 1, 1)...)
	out := newEngine(strategies).Vote(nil)

	assert.Less(t, out.Score, 0.3)
	assert.Greater(t, out.Score, -0.3)
	assert.Equal(t, DecisionHold, out.Decision)
	assert.Equal(t, "○", out.Trit)
}

func TestVote_ZeroConfidenceDropped(t *testing.T) {
	strategies := []strategy.Strategy{
		&stubStrategy{name: "a", weight: 1, result: strategy.Result{Signal: strategy.SignalBuy, Confidence: 1}},
		&stubStrategy{name: "b", weight: 100, result: strategy.Result{Signal: strategy.SignalSell, Confidence: 0}},
	}
	out := newEngine(strategies).Vote(nil)

	assert.Equal(t, DecisionBuy, out.Decision)
	assert.InDelta(t, 1.0, out.Score, 1e-9)
}

func TestVote_NoContributorsScoresZero(t *testing.T) {
	out := newEngine(stubs(6, strategy.SignalBuy, 0, 1)).Vote(nil)
	assert.Zero(t, out.Score)
	assert.Equal(t, DecisionHold, out.Decision)
	assert.Zero(t, out.Confidence)
}

func TestVote_WeightTiltsScore(t *testing.T) {
	strategies := []strategy.Strategy{
		&stubStrategy{name: "heavy", weight: 3, result: strategy.Result{Signal: strategy.SignalBuy, Confidence: 1}},
		&stubStrategy{name: "light", weight: 1, result: strategy.Result{Signal: strategy.SignalSell, Confidence: 1}},
	}
	out := newEngine(strategies).Vote(nil)
	// (3-1)/(3+1) = 0.5 > 0.3
	assert.InDelta(t, 0.5, out.Score, 1e-9)
	assert.Equal(t, DecisionBuy, out.Decision)
}

func TestAnalyze_BlockedGateDemotesToHold(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.MaxDailyTrades = 0
	riskMgr := risk.NewManager(cfg)
	e := NewEngine(stubs(6, strategy.SignalBuy, 1, 1), riskMgr, zerolog.Nop())

	out := e.Analyze("u1", "BTCUSDT", nil, 50000, 10000, risk.Limits{})
	assert.Equal(t, DecisionHold, out.Decision)
	assert.False(t, out.Risk.Allowed)
}

func TestAnalyze_StopLossForcesSell(t *testing.T) {
	riskMgr := risk.NewManager(risk.DefaultConfig())
	riskMgr.SetPosition("u1", "BTCUSDT", 50000, 0.1)
	e := NewEngine(stubs(6, strategy.SignalBuy, 1, 1), riskMgr, zerolog.Nop())

	out := e.Analyze("u1", "BTCUSDT", nil, 45000, 10000, risk.Limits{}) // -10% position
	assert.Equal(t, DecisionSell, out.Decision)
	assert.True(t, out.Forced)
}

func TestAnalyze_UserStopLossOverrideForcesSell(t *testing.T) {
	riskMgr := risk.NewManager(risk.DefaultConfig())
	riskMgr.SetPosition("u1", "BTCUSDT", 50000, 0.1)
	e := NewEngine(stubs(6, strategy.SignalBuy, 1, 1), riskMgr, zerolog.Nop())

	// -2% is inside the default 3% stop but trips the user's 1% override.
	out := e.Analyze("u1", "BTCUSDT", nil, 49000, 10000, risk.Limits{StopLossPct: 0.01})
	assert.Equal(t, DecisionSell, out.Decision)
	assert.True(t, out.Forced)
}

func TestAnalyze_TakeProfitForcesSell(t *testing.T) {
	riskMgr := risk.NewManager(risk.DefaultConfig())
	riskMgr.SetPosition("u1", "BTCUSDT", 50000, 0.1)
	e := NewEngine(stubs(6, strategy.SignalHold, 0.5, 1), riskMgr, zerolog.Nop())

	out := e.Analyze("u1", "BTCUSDT", nil, 54000, 10000, risk.Limits{}) // +8% position
	assert.Equal(t, DecisionSell, out.Decision)
	assert.True(t, out.Forced)
}
