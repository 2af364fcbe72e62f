package dex

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tritex/internal/apperr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(zerolog.Nop())
}

func TestBootstrapPools(t *testing.T) {
	e := newTestEngine(t)

	pools := e.Pools()
	require.Len(t, pools, 6)

	p, err := e.Pool("CRWN-USDT")
	require.NoError(t, err)
	assert.Equal(t, 10_000_000.0, p.ReserveA)
	assert.Equal(t, 1_250_000.0, p.ReserveB)
	assert.Equal(t, 30, p.FeeBps)
	assert.Equal(t, 0.125, p.PriceAinB())

	// Bootstrap liquidity belongs to the system account and accounts for
	// the full share supply.
	assert.Equal(t, p.TotalLpShares, p.LpHolders[SystemOwner])
	assert.Equal(t, math.Floor(math.Sqrt(10_000_000*1_250_000)), p.TotalLpShares)

	assert.Len(t, e.Tokens(), 6)
}

func TestSwapExactAmounts(t *testing.T) {
	e := newTestEngine(t)

	before, err := e.Pool("CRWN-USDT")
	require.NoError(t, err)
	k := before.ReserveA * before.ReserveB

	res, err := e.Swap("CRWN-USDT", "CRWN", 10_000)
	require.NoError(t, err)

	// fee = floor(10_000 * 30 / 10000) = 30, priced on 9_970 in.
	assert.Equal(t, 30.0, res.Fee)
	wantOut := 1_250_000 - math.Floor(k/(10_000_000+9_970))
	assert.Equal(t, wantOut, res.AmountOut)
	assert.Equal(t, "USDT", res.TokenOut)

	after, err := e.Pool("CRWN-USDT")
	require.NoError(t, err)
	assert.Equal(t, 10_010_000.0, after.ReserveA)
	assert.Equal(t, 1_250_000-wantOut, after.ReserveB)
	assert.Greater(t, after.K, k, "fee retention must grow k")
	assert.Equal(t, int64(1), after.SwapCount)
	assert.Equal(t, 10_000.0, after.Volume24h)
	assert.Equal(t, 30.0, after.FeesCollected)
}

func TestSwapInvariantKGrows(t *testing.T) {
	e := newTestEngine(t)

	prev, err := e.Pool("CRWN-USDT")
	require.NoError(t, err)
	k := prev.ReserveA * prev.ReserveB

	for _, amountIn := range []float64{50_000, 125_000, 1_000_000} {
		_, err := e.Swap("CRWN-USDT", "CRWN", amountIn)
		require.NoError(t, err)
		cur, err := e.Pool("CRWN-USDT")
		require.NoError(t, err)
		assert.Greater(t, cur.K, k)
		k = cur.K
	}
}

func TestSwapRoundTripNeverProfits(t *testing.T) {
	e := newTestEngine(t)

	const x = 10_000.0
	out, err := e.Swap("CRWN-USDT", "CRWN", x)
	require.NoError(t, err)
	back, err := e.Swap("CRWN-USDT", "USDT", out.AmountOut)
	require.NoError(t, err)

	assert.LessOrEqual(t, back.AmountOut, x, "round trip must pay fees and slippage")
}

func TestSwapTritStates(t *testing.T) {
	e := newTestEngine(t)

	small, err := e.Swap("CRWN-USDT", "CRWN", 10_000)
	require.NoError(t, err)
	assert.Equal(t, TritPositive, small.Trit)
	assert.Less(t, small.PriceImpact, 0.01)

	big, err := e.Swap("CRWN-USDT", "CRWN", 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, TritNegative, big.Trit)
	assert.GreaterOrEqual(t, big.PriceImpact, 0.05)
}

func TestSwapRejections(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Swap("CRWN-USDT", "CRWN", 0)
	assert.Equal(t, apperr.KindBadInput, apperr.KindOf(err))

	_, err = e.Swap("CRWN-USDT", "BTC", 100)
	assert.Equal(t, apperr.KindBadInput, apperr.KindOf(err))

	_, err = e.Swap("DOGE-USDT", "DOGE", 100)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAddRemoveLiquidityRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	added, err := e.AddLiquidity("CRWN-USDT", "alice", 80, 10)
	require.NoError(t, err)
	require.Greater(t, added.Shares, 0.0)
	assert.Equal(t, added.Shares, e.LpShares("CRWN-USDT", "alice"))

	removed, err := e.RemoveLiquidity("CRWN-USDT", "alice", added.Shares)
	require.NoError(t, err)

	// Floor rounding may cost at most one unit per side.
	assert.GreaterOrEqual(t, removed.AmountA, 80.0-1)
	assert.LessOrEqual(t, removed.AmountA, 80.0)
	assert.GreaterOrEqual(t, removed.AmountB, 10.0-1)
	assert.LessOrEqual(t, removed.AmountB, 10.0)

	assert.Zero(t, e.LpShares("CRWN-USDT", "alice"))
}

func TestLpSharesSumInvariant(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.AddLiquidity("CRWN-USDT", "alice", 1_000, 125)
	require.NoError(t, err)
	_, err = e.AddLiquidity("CRWN-USDT", "bob", 8_000, 1_000)
	require.NoError(t, err)
	_, err = e.RemoveLiquidity("CRWN-USDT", "alice", e.LpShares("CRWN-USDT", "alice"))
	require.NoError(t, err)

	p, err := e.Pool("CRWN-USDT")
	require.NoError(t, err)
	var sum float64
	for _, s := range p.LpHolders {
		sum += s
	}
	assert.Equal(t, p.TotalLpShares, sum)
	assert.NotContains(t, p.LpHolders, "alice")
}

func TestAddLiquidityTooSmall(t *testing.T) {
	e := newTestEngine(t)

	// One unit of each against ten-million reserves mints nothing.
	_, err := e.AddLiquidity("CRWN-USDT", "alice", 1, 1)
	assert.Equal(t, apperr.KindZeroOutput, apperr.KindOf(err))
}

func TestRemoveLiquidityOverdraw(t *testing.T) {
	e := newTestEngine(t)

	added, err := e.AddLiquidity("CRWN-USDT", "alice", 1_000, 125)
	require.NoError(t, err)

	_, err = e.RemoveLiquidity("CRWN-USDT", "alice", added.Shares+1)
	assert.Equal(t, apperr.KindInsufficientBalance, apperr.KindOf(err))
}

func TestOrderMatchingAtMakerPrice(t *testing.T) {
	e := newTestEngine(t)

	buy, err := e.PlaceOrder("alice", "CRWN-USDT", SideBuy, 0.13, 1_000)
	require.NoError(t, err)
	sell1, err := e.PlaceOrder("bob", "CRWN-USDT", SideSell, 0.125, 600)
	require.NoError(t, err)
	sell2, err := e.PlaceOrder("carol", "CRWN-USDT", SideSell, 0.126, 600)
	require.NoError(t, err)

	fills := e.MatchOrders("CRWN-USDT")
	require.Len(t, fills, 2)

	// Cheapest sell fills first, both at the resting sell price.
	assert.Equal(t, sell1.ID, fills[0].SellOrderID)
	assert.Equal(t, 0.125, fills[0].Price)
	assert.Equal(t, 600.0, fills[0].Amount)
	assert.Equal(t, sell2.ID, fills[1].SellOrderID)
	assert.Equal(t, 0.126, fills[1].Price)
	assert.Equal(t, 400.0, fills[1].Amount)

	got, err := e.Order(buy.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, got.Status)

	got, err = e.Order(sell2.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderPartial, got.Status)
	assert.Equal(t, 200.0, got.Remaining())

	open := e.OpenOrders("CRWN-USDT")
	require.Len(t, open, 1)
	assert.Equal(t, sell2.ID, open[0].ID)
}

func TestOrderNoCrossNoFills(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.PlaceOrder("alice", "CRWN-USDT", SideBuy, 0.12, 1_000)
	require.NoError(t, err)
	_, err = e.PlaceOrder("bob", "CRWN-USDT", SideSell, 0.13, 1_000)
	require.NoError(t, err)

	assert.Empty(t, e.MatchOrders("CRWN-USDT"))
	assert.Len(t, e.OpenOrders("CRWN-USDT"), 2)
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(t)

	order, err := e.PlaceOrder("alice", "CRWN-USDT", SideBuy, 0.12, 1_000)
	require.NoError(t, err)

	// Foreign owners see someone else's order as missing.
	_, err = e.CancelOrder("mallory", order.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	cancelled, err := e.CancelOrder("alice", order.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderCancelled, cancelled.Status)
	assert.Equal(t, 1_000.0, cancelled.Remaining())

	_, err = e.CancelOrder("alice", order.ID)
	assert.Equal(t, apperr.KindBadInput, apperr.KindOf(err))

	assert.Empty(t, e.OpenOrders("CRWN-USDT"))
}

func TestPoolSnapshotIsolation(t *testing.T) {
	e := newTestEngine(t)

	snap, err := e.Pool("CRWN-USDT")
	require.NoError(t, err)
	snap.LpHolders["mallory"] = 1_000_000
	snap.ReserveA = 1

	fresh, err := e.Pool("CRWN-USDT")
	require.NoError(t, err)
	assert.NotContains(t, fresh.LpHolders, "mallory")
	assert.Equal(t, 10_000_000.0, fresh.ReserveA)
}

func TestRestoreOrdersRewindsMatchedBook(t *testing.T) {
	e := newTestEngine(t)

	resting, err := e.PlaceOrder("bob", "CRWN-USDT", SideSell, 0.125, 600)
	require.NoError(t, err)

	snap := e.SnapshotOrders("CRWN-USDT")
	require.Len(t, snap, 1)

	taker, err := e.PlaceOrder("alice", "CRWN-USDT", SideBuy, 0.13, 600)
	require.NoError(t, err)
	require.Len(t, e.MatchOrders("CRWN-USDT"), 1)

	e.RestoreOrders("CRWN-USDT", snap)

	// The taker's order is gone and the resting sell is back untouched.
	_, err = e.Order(taker.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	got, err := e.Order(resting.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderOpen, got.Status)
	assert.Equal(t, 0.0, got.Filled)

	open := e.OpenOrders("CRWN-USDT")
	require.Len(t, open, 1)
	assert.Equal(t, resting.ID, open[0].ID)
}

func TestRestoreOrdersLeavesOtherPoolsAlone(t *testing.T) {
	e := newTestEngine(t)

	other, err := e.PlaceOrder("carol", "BTC-USDT", SideBuy, 60_000, 0.1)
	require.NoError(t, err)

	snap := e.SnapshotOrders("CRWN-USDT")
	_, err = e.PlaceOrder("alice", "CRWN-USDT", SideBuy, 0.12, 500)
	require.NoError(t, err)
	e.RestoreOrders("CRWN-USDT", snap)

	assert.Empty(t, e.OpenOrders("CRWN-USDT"))
	got, err := e.Order(other.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderOpen, got.Status)
}

func TestRestoreOrderRebuildsBook(t *testing.T) {
	e := newTestEngine(t)

	e.RestoreOrder(&LimitOrder{
		ID:     "o-1",
		Owner:  "alice",
		PoolID: "CRWN-USDT",
		Side:   SideBuy,
		Price:  0.12,
		Amount: 1_000,
		Filled: 250,
		Status: OrderPartial,
	})
	// A second restore of the same ID is a no-op.
	e.RestoreOrder(&LimitOrder{ID: "o-1", PoolID: "CRWN-USDT", Amount: 5})

	got, err := e.Order("o-1")
	require.NoError(t, err)
	assert.Equal(t, 750.0, got.Remaining())

	cancelled, err := e.CancelOrder("alice", "o-1")
	require.NoError(t, err)
	assert.Equal(t, OrderCancelled, cancelled.Status)
}
