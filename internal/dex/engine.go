package dex

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tritex/internal/apperr"
)

// SystemOwner holds the bootstrap liquidity minted at init.
const SystemOwner = "system"

// Engine owns the token registry, the pool map, and the shared order book.
// A single mutex funnels all writes; the gateway wraps mutations in store
// transactions around these calls.
type Engine struct {
	mu     sync.Mutex
	tokens []Token
	pools  map[string]*Pool
	book   *orderBook
	now    func() time.Time
	logger zerolog.Logger
}

// NewEngine creates the engine with the fixed token registry and the six
// bootstrap pools seeded with system-owned liquidity.
func NewEngine(logger zerolog.Logger) *Engine {
	e := &Engine{
		tokens: defaultTokens(),
		pools:  make(map[string]*Pool),
		book:   newOrderBook(),
		now:    time.Now,
		logger: logger.With().Str("component", "dex").Logger(),
	}
	for _, bp := range defaultPools() {
		pool := newPool(bp.tokenA, bp.tokenB, bp.feeBps)
		if _, err := pool.addLiquidity(SystemOwner, bp.reserveA, bp.reserveB, e.now()); err != nil {
			// Bootstrap constants are static; a failure here is a programming error.
			panic(err)
		}
		e.pools[pool.ID] = pool
	}
	return e
}

// Tokens returns the immutable registry.
func (e *Engine) Tokens() []Token {
	out := make([]Token, len(e.tokens))
	copy(out, e.tokens)
	return out
}

// Pools returns snapshots of every pool, ordered by id.
func (e *Engine) Pools() []*Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Pool, 0, len(e.pools))
	for _, p := range e.pools {
		out = append(out, e.snapshotLocked(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pool returns a snapshot of one pool.
func (e *Engine) Pool(id string) (*Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "pool %s not found", id)
	}
	return e.snapshotLocked(p), nil
}

func (e *Engine) snapshotLocked(p *Pool) *Pool {
	cp := *p
	cp.LpHolders = make(map[string]float64, len(p.LpHolders))
	for k, v := range p.LpHolders {
		cp.LpHolders[k] = v
	}
	cp.PriceHistory = append([]PricePoint(nil), p.PriceHistory...)
	return &cp
}

// Swap executes a swap against the pool. The caller settles wallet balances.
func (e *Engine) Swap(poolID, tokenIn string, amountIn float64) (*SwapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[poolID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "pool %s not found", poolID)
	}
	res, err := p.swap(tokenIn, amountIn, e.now())
	if err != nil {
		return nil, err
	}
	e.logger.Debug().Str("pool", poolID).Str("in", tokenIn).
		Float64("amountIn", amountIn).Float64("amountOut", res.AmountOut).
		Str("trit", string(res.Trit)).Msg("swap executed")
	return res, nil
}

// AddLiquidity mints LP shares against a deposit.
func (e *Engine) AddLiquidity(poolID, owner string, amountA, amountB float64) (*LiquidityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[poolID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "pool %s not found", poolID)
	}
	return p.addLiquidity(owner, amountA, amountB, e.now())
}

// RemoveLiquidity burns LP shares and reports the payout.
func (e *Engine) RemoveLiquidity(poolID, owner string, shares float64) (*LiquidityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[poolID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "pool %s not found", poolID)
	}
	return p.removeLiquidity(owner, shares, e.now())
}

// LpShares returns the owner's share balance in a pool.
func (e *Engine) LpShares(poolID, owner string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[poolID]
	if !ok {
		return 0
	}
	return p.LpHolders[owner]
}

// PlaceOrder appends a resting limit order to the shared book.
func (e *Engine) PlaceOrder(owner, poolID, side string, price, amount float64) (*LimitOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[poolID]; !ok {
		return nil, apperr.New(apperr.KindNotFound, "pool %s not found", poolID)
	}
	order, err := e.book.place(owner, poolID, side, price, amount, e.now())
	if err != nil {
		return nil, err
	}
	return copyOrder(order), nil
}

// CancelOrder cancels an open order owned by the caller and returns its
// final state, including the remaining amount whose lock must be released.
func (e *Engine) CancelOrder(owner, orderID string) (*LimitOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.book.cancel(orderID, owner)
	if err != nil {
		return nil, err
	}
	return copyOrder(order), nil
}

// Order returns a snapshot of one order.
func (e *Engine) Order(orderID string) (*LimitOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.book.get(orderID)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", orderID)
	}
	return copyOrder(order), nil
}

// OpenOrders returns snapshots of the pool's non-terminal orders.
func (e *Engine) OpenOrders(poolID string) []*LimitOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	open := e.book.open(poolID)
	out := make([]*LimitOrder, len(open))
	for i, o := range open {
		out[i] = copyOrder(o)
	}
	return out
}

// MatchOrders crosses the pool's book and returns the fills. The caller
// settles the locked balances of both sides of every fill.
func (e *Engine) MatchOrders(poolID string) []Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	fills := e.book.match(poolID)
	if len(fills) > 0 {
		e.logger.Debug().Str("pool", poolID).Int("fills", len(fills)).Msg("orders matched")
	}
	return fills
}

// RecordPrices appends the current price of every pool to its history ring;
// the transport layer drives this from the synthetic ticker.
func (e *Engine) RecordPrices() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for _, p := range e.pools {
		p.recordPrice(now)
	}
}

// SnapshotOrders deep-copies every book entry of a pool, terminal entries
// included, so a failed transaction can roll the book back.
func (e *Engine) SnapshotOrders(poolID string) []*LimitOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*LimitOrder
	for _, o := range e.book.orders {
		if o.PoolID == poolID {
			out = append(out, copyOrder(o))
		}
	}
	return out
}

// RestoreOrders replaces a pool's book entries with a snapshot. Entries of
// other pools keep their submission order.
func (e *Engine) RestoreOrders(poolID string, snapshot []*LimitOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var kept []*LimitOrder
	for _, o := range e.book.orders {
		if o.PoolID == poolID {
			delete(e.book.byID, o.ID)
			continue
		}
		kept = append(kept, o)
	}
	for _, o := range snapshot {
		cp := copyOrder(o)
		kept = append(kept, cp)
		e.book.byID[cp.ID] = cp
	}
	e.book.orders = kept
}

// RestoreOrder loads one persisted order back into the book at boot.
func (e *Engine) RestoreOrder(o *LimitOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.book.byID[o.ID]; ok {
		return
	}
	cp := copyOrder(o)
	e.book.orders = append(e.book.orders, cp)
	e.book.byID[cp.ID] = cp
}

// RestorePool overwrites a pool's persisted state at boot.
func (e *Engine) RestorePool(state *Pool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state == nil {
		return
	}
	cp := *state
	if cp.LpHolders == nil {
		cp.LpHolders = make(map[string]float64)
	}
	e.pools[cp.ID] = &cp
}

func copyOrder(o *LimitOrder) *LimitOrder {
	cp := *o
	return &cp
}
