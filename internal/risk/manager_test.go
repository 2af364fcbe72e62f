package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssess_DefaultAllowsWithMaxSize(t *testing.T) {
	m := NewManager(DefaultConfig())
	out := m.Assess("u1", "buy", "BTCUSDT", 50000, 10000, Limits{})

	assert.True(t, out.Allowed)
	assert.Empty(t, out.Risks)
	assert.InDelta(t, 1000.0, out.MaxSize, 1e-9)
}

func TestAssess_DailyLimitBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyTrades = 2
	m := NewManager(cfg)
	m.RecordTrade("u1")
	m.RecordTrade("u1")

	out := m.Assess("u1", "buy", "BTCUSDT", 50000, 10000, Limits{})
	assert.False(t, out.Allowed)
	assert.True(t, out.Has(RiskDailyLimit))

	// Other users are unaffected.
	assert.True(t, m.Assess("u2", "buy", "BTCUSDT", 50000, 10000, Limits{}).Allowed)
}

func TestAssess_DrawdownBlocks(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.Assess("u1", "buy", "BTCUSDT", 50000, 10000, Limits{}) // establishes peak

	out := m.Assess("u1", "buy", "BTCUSDT", 50000, 8000, Limits{}) // 20% below peak
	assert.False(t, out.Allowed)
	assert.True(t, out.Has(RiskDrawdown))
	assert.InDelta(t, 0.20, out.Drawdown, 1e-9)
}

func TestAssess_DrawdownWithinLimitAllows(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.Assess("u1", "buy", "BTCUSDT", 50000, 10000, Limits{})

	out := m.Assess("u1", "buy", "BTCUSDT", 50000, 9000, Limits{}) // 10% below peak
	assert.True(t, out.Allowed)
	assert.InDelta(t, 0.10, out.Drawdown, 1e-9)
}

func TestAssess_StopLossAdvisory(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.SetPosition("u1", "BTCUSDT", 50000, 0.1)

	out := m.Assess("u1", "sell", "BTCUSDT", 48000, 10000, Limits{}) // -4% < -3%
	assert.True(t, out.Allowed, "stop-loss is advisory, not blocking")
	assert.True(t, out.Has(RiskStopLoss))
}

func TestAssess_TakeProfitAdvisory(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.SetPosition("u1", "BTCUSDT", 50000, 0.1)

	out := m.Assess("u1", "sell", "BTCUSDT", 54000, 10000, Limits{}) // +8% > +6%
	assert.True(t, out.Allowed)
	assert.True(t, out.Has(RiskTakeProfit))
}

func TestAssess_SmallMoveNoTriggers(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.SetPosition("u1", "BTCUSDT", 50000, 0.1)

	out := m.Assess("u1", "sell", "BTCUSDT", 50500, 10000, Limits{}) // +1%
	assert.False(t, out.Has(RiskStopLoss))
	assert.False(t, out.Has(RiskTakeProfit))
}

func TestAssess_PerUserLimitsOverrideDefaults(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.SetPosition("u1", "BTCUSDT", 50000, 0.1)

	// -2% is inside the default 3% stop but outside a tighter 1% override.
	out := m.Assess("u1", "sell", "BTCUSDT", 49000, 10000, Limits{StopLossPct: 0.01})
	assert.True(t, out.Has(RiskStopLoss))

	// +8% trips the default 6% take-profit but not a looser 10% override.
	out = m.Assess("u1", "sell", "BTCUSDT", 54000, 10000, Limits{TakeProfitPct: 0.10})
	assert.False(t, out.Has(RiskTakeProfit))
}

func TestResetDaily(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyTrades = 1
	m := NewManager(cfg)
	m.RecordTrade("u1")
	assert.False(t, m.Assess("u1", "buy", "BTCUSDT", 1, 100, Limits{}).Allowed)

	m.ResetDaily()
	assert.True(t, m.Assess("u1", "buy", "BTCUSDT", 1, 100, Limits{}).Allowed)
	assert.Zero(t, m.DailyTrades("u1"))
}

func TestClearPosition(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.SetPosition("u1", "BTCUSDT", 50000, 0.1)
	m.ClearPosition("u1", "BTCUSDT")

	out := m.Assess("u1", "sell", "BTCUSDT", 40000, 10000, Limits{})
	assert.False(t, out.Has(RiskStopLoss))
	_, _, ok := m.Position("u1", "BTCUSDT")
	assert.False(t, ok)
}
