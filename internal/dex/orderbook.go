package dex

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"tritex/internal/apperr"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Limit order statuses. Terminal states are filled and cancelled.
const (
	OrderOpen      = "open"
	OrderPartial   = "partial"
	OrderFilled    = "filled"
	OrderCancelled = "cancelled"
)

// LimitOrder is a resting order in the shared book.
type LimitOrder struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	PoolID    string    `json:"poolId"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Filled    float64   `json:"filled"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Remaining returns the unfilled amount.
func (o *LimitOrder) Remaining() float64 {
	return o.Amount - o.Filled
}

// Terminal reports whether the order can no longer change.
func (o *LimitOrder) Terminal() bool {
	return o.Status == OrderFilled || o.Status == OrderCancelled
}

// Fill is a single match between a resting buy and sell, executed at the
// maker (sell) price.
type Fill struct {
	PoolID      string  `json:"poolId"`
	BuyOrderID  string  `json:"buyOrderId"`
	SellOrderID string  `json:"sellOrderId"`
	Buyer       string  `json:"buyer"`
	Seller      string  `json:"seller"`
	Price       float64 `json:"price"`
	Amount      float64 `json:"amount"`
}

// orderBook is the append-only list shared by all pools. Callers hold the
// engine lock.
type orderBook struct {
	orders []*LimitOrder
	byID   map[string]*LimitOrder
}

func newOrderBook() *orderBook {
	return &orderBook{byID: make(map[string]*LimitOrder)}
}

func (b *orderBook) place(owner, poolID, side string, price, amount float64, now time.Time) (*LimitOrder, error) {
	if side != SideBuy && side != SideSell {
		return nil, apperr.New(apperr.KindBadInput, "invalid side %q", side)
	}
	if price <= 0 || amount <= 0 {
		return nil, apperr.New(apperr.KindBadInput, "price and amount must be positive")
	}
	order := &LimitOrder{
		ID:        uuid.NewString(),
		Owner:     owner,
		PoolID:    poolID,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Status:    OrderOpen,
		CreatedAt: now,
	}
	b.orders = append(b.orders, order)
	b.byID[order.ID] = order
	return order, nil
}

func (b *orderBook) get(id string) (*LimitOrder, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// open returns the non-terminal orders for a pool.
func (b *orderBook) open(poolID string) []*LimitOrder {
	var out []*LimitOrder
	for _, o := range b.orders {
		if o.PoolID == poolID && !o.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

func (b *orderBook) cancel(id, owner string) (*LimitOrder, error) {
	order, ok := b.byID[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	if order.Owner != owner {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	if order.Terminal() {
		return nil, apperr.New(apperr.KindBadInput, "order %s already %s", id, order.Status)
	}
	order.Status = OrderCancelled
	return order, nil
}

// match crosses resting orders for one pool: buys sorted by price descending,
// sells ascending, filling min(remaining) at the sell (maker) price whenever
// buy.Price >= sell.Price. O(B*S) per run, acceptable at per-pool book sizes.
func (b *orderBook) match(poolID string) []Fill {
	var buys, sells []*LimitOrder
	for _, o := range b.open(poolID) {
		if o.Side == SideBuy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].Price > buys[j].Price })
	sort.SliceStable(sells, func(i, j int) bool { return sells[i].Price < sells[j].Price })

	var fills []Fill
	for _, buy := range buys {
		for _, sell := range sells {
			if buy.Terminal() || sell.Terminal() {
				continue
			}
			if buy.Price < sell.Price {
				continue
			}
			amount := buy.Remaining()
			if sell.Remaining() < amount {
				amount = sell.Remaining()
			}
			if amount <= 0 {
				continue
			}

			buy.Filled += amount
			sell.Filled += amount
			advanceStatus(buy)
			advanceStatus(sell)

			fills = append(fills, Fill{
				PoolID:      poolID,
				BuyOrderID:  buy.ID,
				SellOrderID: sell.ID,
				Buyer:       buy.Owner,
				Seller:      sell.Owner,
				Price:       sell.Price,
				Amount:      amount,
			})
			if buy.Terminal() {
				break
			}
		}
	}
	return fills
}

func advanceStatus(o *LimitOrder) {
	switch {
	case o.Remaining() <= 0:
		o.Status = OrderFilled
	case o.Filled > 0:
		o.Status = OrderPartial
	}
}
