// Package venue defines the external exchange abstraction shared by the
// signed REST clients and the trade executor.
package venue

import (
	"context"
	"time"

	"tritex/internal/apperr"
)

// Name identifies a supported venue. Dispatch is always on this enum,
// never on substring matching.
type Name string

const (
	Upbit   Name = "upbit"
	Binance Name = "binance"
)

// ParseName resolves a user-supplied venue identifier.
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case Upbit:
		return Upbit, nil
	case Binance:
		return Binance, nil
	default:
		return "", apperr.New(apperr.KindBadInput, "unknown venue %q", s)
	}
}

// Candle represents a single OHLCV bar.
type Candle struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
}

// Balance is a single asset balance on a venue account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// BookLevel is one price level of a venue order book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is a venue L2 book snapshot.
type OrderBook struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
}

// OrderRequest describes an order to submit to a venue. For a market buy,
// Quantity is the quote amount to spend; every other combination takes a
// base-asset quantity.
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"` // buy or sell
	Type     string  `json:"type"` // limit or market
	Price    float64 `json:"price,omitempty"`
	Quantity float64 `json:"quantity"`
}

// Order is a venue-side order as reported by the exchange.
type Order struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	ExecutedQty   float64   `json:"executedQty"`
	ExecutedPrice float64   `json:"executedPrice"`
	Fee           float64   `json:"fee"`
	Status        string    `json:"status"` // open, filled, cancelled
	CreatedAt     time.Time `json:"createdAt"`
}

// Order status values normalized across venues.
const (
	OrderStatusOpen      = "open"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// Client is the operation surface every venue client implements.
// All calls suspend on network I/O and are bounded by a 10s timeout.
type Client interface {
	Name() Name
	GetCandles(ctx context.Context, symbol, interval string, count int) ([]Candle, error)
	GetTicker(ctx context.Context, symbol string) (float64, error)
	GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error)
	GetAccounts(ctx context.Context) ([]Balance, error)
	GetAccount(ctx context.Context, asset string) (*Balance, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
}
