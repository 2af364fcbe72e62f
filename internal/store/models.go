package store

import (
	"database/sql"
	"time"
)

// User is an account row. PasswordHash never leaves the store layer.
type User struct {
	ID           string       `db:"id" json:"id"`
	Email        string       `db:"email" json:"email"`
	Username     string       `db:"username" json:"username"`
	PasswordHash string       `db:"password_hash" json:"-"`
	Role         string       `db:"role" json:"role"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
	LastLogin    sql.NullTime `db:"last_login" json:"lastLogin"`
}

// Wallet is one (user, token) balance row. Available funds are
// balance - locked; debits never cut into the locked portion.
type Wallet struct {
	UserID  string  `db:"user_id" json:"userId"`
	Token   string  `db:"token" json:"token"`
	Balance float64 `db:"balance" json:"balance"`
	Locked  float64 `db:"locked" json:"locked"`
}

// Available returns the spendable portion of the balance.
func (w Wallet) Available() float64 {
	return w.Balance - w.Locked
}

// PoolRow is the persisted form of a pool; lp_holders and price_history are
// JSON documents.
type PoolRow struct {
	ID            string    `db:"id"`
	TokenA        string    `db:"token_a"`
	TokenB        string    `db:"token_b"`
	ReserveA      float64   `db:"reserve_a"`
	ReserveB      float64   `db:"reserve_b"`
	FeeBps        int       `db:"fee_bps"`
	K             float64   `db:"k"`
	TotalLpShares float64   `db:"total_lp_shares"`
	LpHolders     string    `db:"lp_holders"`
	Volume24h     float64   `db:"volume_24h"`
	FeesCollected float64   `db:"fees_collected"`
	SwapCount     int64     `db:"swap_count"`
	PriceHistory  string    `db:"price_history"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// OrderRow is a persisted limit order.
type OrderRow struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	PoolID    string    `db:"pool_id" json:"poolId"`
	Side      string    `db:"side" json:"side"`
	Price     float64   `db:"price" json:"price"`
	Amount    float64   `db:"amount" json:"amount"`
	Filled    float64   `db:"filled" json:"filled"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// SwapRow is an immutable swap log entry.
type SwapRow struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId"`
	PoolID      string    `db:"pool_id" json:"poolId"`
	TokenIn     string    `db:"token_in" json:"tokenIn"`
	TokenOut    string    `db:"token_out" json:"tokenOut"`
	AmountIn    float64   `db:"amount_in" json:"amountIn"`
	AmountOut   float64   `db:"amount_out" json:"amountOut"`
	Fee         float64   `db:"fee" json:"fee"`
	Slippage    float64   `db:"slippage" json:"slippage"`
	PriceImpact float64   `db:"price_impact" json:"priceImpact"`
	TritState   string    `db:"trit_state" json:"tritState"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// SignalRow is a persisted analysis verdict; detail holds the per-strategy
// breakdown as JSON.
type SignalRow struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"userId"`
	Venue      string    `db:"venue" json:"venue"`
	Symbol     string    `db:"symbol" json:"symbol"`
	Decision   string    `db:"decision" json:"decision"`
	Score      float64   `db:"score" json:"score"`
	Confidence float64   `db:"confidence" json:"confidence"`
	Trit       string    `db:"trit" json:"trit"`
	Detail     string    `db:"detail" json:"detail"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Venue order statuses.
const (
	VenueOrderPending   = "pending"
	VenueOrderSubmitted = "submitted"
	VenueOrderFilled    = "filled"
	VenueOrderCancelled = "cancelled"
	VenueOrderFailed    = "failed"
)

// Venue order sources.
const (
	SourceManual = "manual"
	SourceAuto   = "auto"
)

// VenueOrderRow tracks an order routed to an external venue through its
// full lifecycle.
type VenueOrderRow struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"userId"`
	Venue           string          `db:"venue" json:"venue"`
	Symbol          string          `db:"symbol" json:"symbol"`
	Side            string          `db:"side" json:"side"`
	OrderType       string          `db:"order_type" json:"type"`
	Price           sql.NullFloat64 `db:"price" json:"price"`
	Quantity        float64         `db:"quantity" json:"quantity"`
	Status          string          `db:"status" json:"status"`
	ExchangeOrderID sql.NullString  `db:"exchange_order_id" json:"exchangeOrderId"`
	FilledQty       float64         `db:"filled_qty" json:"filledQty"`
	FilledPrice     float64         `db:"filled_price" json:"filledPrice"`
	Fee             float64         `db:"fee" json:"fee"`
	Source          string          `db:"source" json:"source"`
	AISignalID      sql.NullString  `db:"ai_signal_id" json:"aiSignalId"`
	Error           sql.NullString  `db:"error" json:"error"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// AutoConfig is the per-(user, venue) auto-trade configuration and its
// rolling counters.
type AutoConfig struct {
	UserID            string    `db:"user_id" json:"userId"`
	Venue             string    `db:"venue" json:"venue"`
	Enabled           bool      `db:"enabled" json:"enabled"`
	Symbols           string    `db:"symbols" json:"symbols"`
	MaxPositionPct    float64   `db:"max_position_pct" json:"maxPositionPct"`
	StopLossPct       float64   `db:"stop_loss_pct" json:"stopLossPct"`
	TakeProfitPct     float64   `db:"take_profit_pct" json:"takeProfitPct"`
	MinConfidence     float64   `db:"min_confidence" json:"minConfidence"`
	MaxDailyTrades    int       `db:"max_daily_trades" json:"maxDailyTrades"`
	DailyTrades       int       `db:"daily_trades" json:"dailyTrades"`
	ConsecutiveLosses int       `db:"consecutive_losses" json:"consecutiveLosses"`
	LastReset         time.Time `db:"last_reset" json:"lastReset"`
}

// CredentialRow is an encrypted venue key pair.
type CredentialRow struct {
	UserID       string    `db:"user_id"`
	Venue        string    `db:"venue"`
	AccessCipher string    `db:"access_cipher"`
	SecretCipher string    `db:"secret_cipher"`
	IV           string    `db:"iv"`
	Tag          string    `db:"tag"`
	Permissions  string    `db:"permissions"`
	CreatedAt    time.Time `db:"created_at"`
}

// Session is a server-side login session.
type Session struct {
	Token     string    `db:"token" json:"token"`
	UserID    string    `db:"user_id" json:"userId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
}
