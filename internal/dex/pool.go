package dex

import (
	"math"
	"time"

	"tritex/internal/apperr"
)

// priceHistoryCap bounds each pool's price ring.
const priceHistoryCap = 1000

// TritState tags swap quality by price impact.
type TritState string

const (
	TritPositive TritState = "P" // impact < 1%
	TritNeutral  TritState = "O" // impact < 5%
	TritNegative TritState = "T" // impact >= 5%
)

// PricePoint is one entry of a pool's price history ring.
type PricePoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Pool is a constant-product pool. All mutation goes through the Engine,
// which holds the lock.
type Pool struct {
	ID            string             `json:"id"` // "A-B"
	TokenA        string             `json:"tokenA"`
	TokenB        string             `json:"tokenB"`
	ReserveA      float64            `json:"reserveA"`
	ReserveB      float64            `json:"reserveB"`
	FeeBps        int                `json:"feeBps"`
	K             float64            `json:"k"`
	TotalLpShares float64            `json:"totalLpShares"`
	LpHolders     map[string]float64 `json:"lpHolders"`
	Volume24h     float64            `json:"volume24h"`
	FeesCollected float64            `json:"feesCollected"`
	SwapCount     int64              `json:"swapCount"`
	PriceHistory  []PricePoint       `json:"priceHistory"`
}

func newPool(tokenA, tokenB string, feeBps int) *Pool {
	return &Pool{
		ID:        tokenA + "-" + tokenB,
		TokenA:    tokenA,
		TokenB:    tokenB,
		FeeBps:    feeBps,
		LpHolders: make(map[string]float64),
	}
}

// PriceAinB returns the marginal price of token A in units of token B.
func (p *Pool) PriceAinB() float64 {
	if p.ReserveA <= 0 {
		return 0
	}
	return p.ReserveB / p.ReserveA
}

// recordPrice appends the current price to the ring, evicting the oldest.
func (p *Pool) recordPrice(now time.Time) {
	p.PriceHistory = append(p.PriceHistory, PricePoint{Price: p.PriceAinB(), Timestamp: now})
	if len(p.PriceHistory) > priceHistoryCap {
		p.PriceHistory = p.PriceHistory[len(p.PriceHistory)-priceHistoryCap:]
	}
}

// LiquidityResult reports an add/remove liquidity outcome.
type LiquidityResult struct {
	PoolID        string  `json:"poolId"`
	Shares        float64 `json:"shares"`
	AmountA       float64 `json:"amountA"`
	AmountB       float64 `json:"amountB"`
	TotalLpShares float64 `json:"totalLpShares"`
}

// addLiquidity mints LP shares for the deposit. First deposit mints
// floor(sqrt(a*b)); later deposits mint pro rata on the scarcer side.
func (p *Pool) addLiquidity(owner string, amountA, amountB float64, now time.Time) (*LiquidityResult, error) {
	if amountA <= 0 || amountB <= 0 {
		return nil, apperr.New(apperr.KindBadInput, "liquidity amounts must be positive")
	}

	var shares float64
	if p.TotalLpShares == 0 {
		shares = math.Floor(math.Sqrt(amountA * amountB))
	} else {
		sharesA := math.Floor(amountA * p.TotalLpShares / p.ReserveA)
		sharesB := math.Floor(amountB * p.TotalLpShares / p.ReserveB)
		shares = math.Min(sharesA, sharesB)
	}
	if shares <= 0 {
		return nil, apperr.New(apperr.KindZeroOutput, "deposit too small to mint shares")
	}

	p.ReserveA += amountA
	p.ReserveB += amountB
	p.K = p.ReserveA * p.ReserveB
	p.TotalLpShares += shares
	p.LpHolders[owner] += shares
	p.recordPrice(now)

	return &LiquidityResult{
		PoolID:        p.ID,
		Shares:        shares,
		AmountA:       amountA,
		AmountB:       amountB,
		TotalLpShares: p.TotalLpShares,
	}, nil
}

// removeLiquidity burns shares and pays out the proportional reserves.
func (p *Pool) removeLiquidity(owner string, shares float64, now time.Time) (*LiquidityResult, error) {
	if shares <= 0 {
		return nil, apperr.New(apperr.KindBadInput, "shares must be positive")
	}
	held := p.LpHolders[owner]
	if shares > held {
		return nil, apperr.New(apperr.KindInsufficientBalance, "holding %.0f LP shares, requested %.0f", held, shares)
	}

	amountA := math.Floor(shares * p.ReserveA / p.TotalLpShares)
	amountB := math.Floor(shares * p.ReserveB / p.TotalLpShares)

	p.ReserveA -= amountA
	p.ReserveB -= amountB
	p.K = p.ReserveA * p.ReserveB
	p.TotalLpShares -= shares
	if held-shares <= 0 {
		delete(p.LpHolders, owner)
	} else {
		p.LpHolders[owner] = held - shares
	}
	p.recordPrice(now)

	return &LiquidityResult{
		PoolID:        p.ID,
		Shares:        shares,
		AmountA:       amountA,
		AmountB:       amountB,
		TotalLpShares: p.TotalLpShares,
	}, nil
}

// SwapResult reports a completed swap.
type SwapResult struct {
	PoolID      string    `json:"poolId"`
	TokenIn     string    `json:"tokenIn"`
	TokenOut    string    `json:"tokenOut"`
	AmountIn    float64   `json:"amountIn"`
	AmountOut   float64   `json:"amountOut"`
	Fee         float64   `json:"fee"`
	PriceImpact float64   `json:"priceImpact"`
	Slippage    float64   `json:"slippage"`
	Trit        TritState `json:"trit"`
	NewPrice    float64   `json:"newPrice"`
}

// swap executes a constant-product swap. Fees stay in the pool, so k is
// non-decreasing and LP value accretes through the growing invariant.
func (p *Pool) swap(tokenIn string, amountIn float64, now time.Time) (*SwapResult, error) {
	if amountIn <= 0 {
		return nil, apperr.New(apperr.KindBadInput, "amountIn must be positive")
	}
	if tokenIn != p.TokenA && tokenIn != p.TokenB {
		return nil, apperr.New(apperr.KindBadInput, "token %s not in pool %s", tokenIn, p.ID)
	}
	if p.ReserveA <= 0 || p.ReserveB <= 0 {
		return nil, apperr.New(apperr.KindInsufficientLiquidity, "pool %s has no liquidity", p.ID)
	}

	reserveIn, reserveOut := p.ReserveA, p.ReserveB
	tokenOut := p.TokenB
	if tokenIn == p.TokenB {
		reserveIn, reserveOut = p.ReserveB, p.ReserveA
		tokenOut = p.TokenA
	}

	fee := math.Floor(amountIn * float64(p.FeeBps) / 10000)
	afterFee := amountIn - fee
	k := reserveIn * reserveOut
	newIn := reserveIn + afterFee
	newOut := math.Floor(k / newIn)
	amountOut := reserveOut - newOut
	if amountOut <= 0 {
		return nil, apperr.New(apperr.KindZeroOutput, "swap of %.0f %s produces no output", amountIn, tokenIn)
	}

	impact := 1 - (newOut*reserveIn)/(reserveOut*newIn)

	// Slippage against the pre-trade marginal price.
	midOut := afterFee * (reserveOut / reserveIn)
	slippage := 0.0
	if midOut > 0 {
		slippage = 1 - amountOut/midOut
	}

	// The fee never leaves the pool: the full amountIn joins the input
	// reserve while the output was priced on the after-fee amount, so k
	// strictly grows whenever feeBps > 0.
	if tokenIn == p.TokenA {
		p.ReserveA = reserveIn + amountIn
		p.ReserveB = newOut
	} else {
		p.ReserveB = reserveIn + amountIn
		p.ReserveA = newOut
	}
	p.K = p.ReserveA * p.ReserveB
	p.Volume24h += amountIn
	p.FeesCollected += fee
	p.SwapCount++
	p.recordPrice(now)

	trit := TritNegative
	switch {
	case impact < 0.01:
		trit = TritPositive
	case impact < 0.05:
		trit = TritNeutral
	}

	return &SwapResult{
		PoolID:      p.ID,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		Fee:         fee,
		PriceImpact: impact,
		Slippage:    slippage,
		Trit:        trit,
		NewPrice:    p.PriceAinB(),
	}, nil
}
