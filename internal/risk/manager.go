// Package risk implements the per-analysis trading gate: daily trade caps,
// drawdown tracking against a rolling peak balance, position sizing, and the
// advisory stop-loss / take-profit triggers the consensus engine promotes to
// forced sells.
package risk

import (
	"fmt"
	"sync"
)

// Risk flag names reported in an Assessment.
const (
	RiskDailyLimit = "daily_limit"
	RiskDrawdown   = "drawdown"
	RiskStopLoss   = "stoploss"
	RiskTakeProfit = "takeprofit"
)

// Config holds the gate thresholds.
type Config struct {
	MaxDailyTrades  int     // trades per user per local day
	MaxDrawdown     float64 // fraction of peak balance, e.g. 0.15
	MaxPositionSize float64 // fraction of balance per trade, e.g. 0.10
	StopLossPct     float64 // advisory stop-loss trigger, e.g. 0.03
	TakeProfitPct   float64 // advisory take-profit trigger, e.g. 0.06
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		MaxDailyTrades:  10,
		MaxDrawdown:     0.15,
		MaxPositionSize: 0.10,
		StopLossPct:     0.03,
		TakeProfitPct:   0.06,
	}
}

// Limits are per-user trigger overrides for one assessment. Zero fields
// fall back to the manager's configured defaults.
type Limits struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// Assessment is the outcome of a risk gate evaluation.
type Assessment struct {
	Allowed  bool     `json:"allowed"`
	Risks    []string `json:"risks"`
	Reasons  []string `json:"reasons"`
	MaxSize  float64  `json:"maxSize"`
	Drawdown float64  `json:"drawdown"`
}

// Has reports whether the assessment carries the given risk flag.
func (a Assessment) Has(flag string) bool {
	for _, r := range a.Risks {
		if r == flag {
			return true
		}
	}
	return false
}

type position struct {
	entryPrice float64
	quantity   float64
}

// Manager tracks per-user risk state. All methods are safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	config      Config
	dailyTrades map[string]int
	peakBalance map[string]float64
	positions   map[string]map[string]position // userID -> symbol -> position
}

// NewManager creates a risk manager with the given thresholds.
func NewManager(config Config) *Manager {
	return &Manager{
		config:      config,
		dailyTrades: make(map[string]int),
		peakBalance: make(map[string]float64),
		positions:   make(map[string]map[string]position),
	}
}

// Assess evaluates whether a trade is allowed for the user at the given price
// and balance. Stop-loss and take-profit flags are advisory: they do not
// block, the consensus engine promotes them to a forced sell.
func (m *Manager) Assess(userID, action, symbol string, price, balance float64, limits Limits) Assessment {
	m.mu.Lock()
	defer m.mu.Unlock()

	stopLoss := m.config.StopLossPct
	if limits.StopLossPct > 0 {
		stopLoss = limits.StopLossPct
	}
	takeProfit := m.config.TakeProfitPct
	if limits.TakeProfitPct > 0 {
		takeProfit = limits.TakeProfitPct
	}

	out := Assessment{Allowed: true, MaxSize: balance * m.config.MaxPositionSize}

	if m.dailyTrades[userID] >= m.config.MaxDailyTrades {
		out.Allowed = false
		out.Risks = append(out.Risks, RiskDailyLimit)
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("daily trade limit reached (%d/%d)", m.dailyTrades[userID], m.config.MaxDailyTrades))
	}

	if balance > m.peakBalance[userID] {
		m.peakBalance[userID] = balance
	}
	if peak := m.peakBalance[userID]; peak > 0 {
		out.Drawdown = (peak - balance) / peak
		if out.Drawdown > m.config.MaxDrawdown {
			out.Allowed = false
			out.Risks = append(out.Risks, RiskDrawdown)
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("drawdown %.1f%% exceeds limit %.1f%%", out.Drawdown*100, m.config.MaxDrawdown*100))
		}
	}

	if pos, ok := m.positions[userID][symbol]; ok && pos.entryPrice > 0 && price > 0 {
		pnl := (price - pos.entryPrice) / pos.entryPrice
		if pnl < -stopLoss {
			out.Risks = append(out.Risks, RiskStopLoss)
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("position down %.2f%%, stop-loss triggered", -pnl*100))
		} else if pnl > takeProfit {
			out.Risks = append(out.Risks, RiskTakeProfit)
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("position up %.2f%%, take-profit triggered", pnl*100))
		}
	}

	return out
}

// RecordTrade counts a completed trade against the user's daily cap.
func (m *Manager) RecordTrade(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyTrades[userID]++
}

// DailyTrades returns the user's trade count for the current day.
func (m *Manager) DailyTrades(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyTrades[userID]
}

// ResetDaily clears every user's daily trade counter.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyTrades = make(map[string]int)
}

// SetPosition records an open position used for stop/take triggers.
func (m *Manager) SetPosition(userID, symbol string, entryPrice, quantity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positions[userID] == nil {
		m.positions[userID] = make(map[string]position)
	}
	m.positions[userID][symbol] = position{entryPrice: entryPrice, quantity: quantity}
}

// ClearPosition removes a tracked position.
func (m *Manager) ClearPosition(userID, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions[userID], symbol)
}

// Position returns the tracked entry price and quantity for a symbol, if any.
func (m *Manager) Position(userID, symbol string) (entryPrice, quantity float64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, found := m.positions[userID][symbol]
	if !found {
		return 0, 0, false
	}
	return pos.entryPrice, pos.quantity, true
}
