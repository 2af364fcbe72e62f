package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tritex/internal/apperr"
	"tritex/internal/dex"
	"tritex/internal/events"
	"tritex/internal/store"
)

func (g *Gateway) routeDex(ctx context.Context, principal, action string, params Params) (interface{}, error) {
	switch action {
	case "tokens":
		return g.engine.Tokens(), nil
	case "pools":
		return g.engine.Pools(), nil
	case "orderbook":
		return g.engine.OpenOrders(params.str("poolId")), nil
	case "history":
		return g.store.ListSwaps(ctx, params.str("userId"), params.count("limit", 50))
	case "balances":
		return g.store.GetWallets(ctx, principal)
	case "swap":
		return g.Swap(ctx, principal, params.str("poolId"), params.str("tokenIn"), params.num("amount"))
	case "addLiquidity":
		return g.AddLiquidity(ctx, principal, params.str("poolId"), params.num("amountA"), params.num("amountB"))
	case "removeLiquidity":
		return g.RemoveLiquidity(ctx, principal, params.str("poolId"), params.num("shares"))
	case "placeOrder":
		return g.PlaceOrder(ctx, principal, params.str("poolId"), params.str("side"), params.num("price"), params.num("amount"))
	case "cancelOrder":
		return g.CancelOrder(ctx, principal, params.str("orderId"))
	default:
		return nil, apperr.New(apperr.KindBadInput, "unknown dex action %q", action)
	}
}

// Swap debits the input token, runs the pool swap, credits the output, and
// logs the trade, all inside one store transaction. The engine mutation is
// rolled back from a snapshot if any store step fails.
func (g *Gateway) Swap(ctx context.Context, principal, poolID, tokenIn string, amount float64) (*dex.SwapResult, error) {
	unlock := g.lockPool(poolID)
	defer unlock()

	before, err := g.engine.Pool(poolID)
	if err != nil {
		return nil, err
	}

	var result *dex.SwapResult
	err = g.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.SubtractBalance(ctx, principal, tokenIn, amount); err != nil {
			return err
		}
		result, err = g.engine.Swap(poolID, tokenIn, amount)
		if err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, principal, result.TokenOut, result.AmountOut); err != nil {
			return err
		}
		if err := tx.RecordSwap(ctx, &store.SwapRow{
			ID:          uuid.NewString(),
			UserID:      principal,
			PoolID:      poolID,
			TokenIn:     tokenIn,
			TokenOut:    result.TokenOut,
			AmountIn:    amount,
			AmountOut:   result.AmountOut,
			Fee:         result.Fee,
			Slippage:    result.Slippage,
			PriceImpact: result.PriceImpact,
			TritState:   string(result.Trit),
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
		after, err := g.engine.Pool(poolID)
		if err != nil {
			return err
		}
		return tx.SavePool(ctx, after)
	})
	if err != nil {
		g.engine.RestorePool(before)
		return nil, err
	}

	g.bus.Publish(events.TypeSwap, "", map[string]interface{}{
		"poolId":    poolID,
		"userId":    principal,
		"tokenIn":   tokenIn,
		"tokenOut":  result.TokenOut,
		"amountIn":  amount,
		"amountOut": result.AmountOut,
		"trit":      string(result.Trit),
	})
	return result, nil
}

// AddLiquidity debits both sides, mints LP shares, and persists the pool in
// one transaction.
func (g *Gateway) AddLiquidity(ctx context.Context, principal, poolID string, amountA, amountB float64) (*dex.LiquidityResult, error) {
	unlock := g.lockPool(poolID)
	defer unlock()

	pool, err := g.engine.Pool(poolID)
	if err != nil {
		return nil, err
	}
	before := pool

	var result *dex.LiquidityResult
	err = g.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.SubtractBalance(ctx, principal, pool.TokenA, amountA); err != nil {
			return err
		}
		if err := tx.SubtractBalance(ctx, principal, pool.TokenB, amountB); err != nil {
			return err
		}
		result, err = g.engine.AddLiquidity(poolID, principal, amountA, amountB)
		if err != nil {
			return err
		}
		after, err := g.engine.Pool(poolID)
		if err != nil {
			return err
		}
		return tx.SavePool(ctx, after)
	})
	if err != nil {
		g.engine.RestorePool(before)
		return nil, err
	}

	g.bus.Publish(events.TypeLiquidity, "", map[string]interface{}{
		"poolId":  poolID,
		"userId":  principal,
		"action":  "add",
		"shares":  result.Shares,
		"amountA": result.AmountA,
		"amountB": result.AmountB,
	})
	return result, nil
}

// RemoveLiquidity burns the principal's shares and credits the withdrawn
// reserves.
func (g *Gateway) RemoveLiquidity(ctx context.Context, principal, poolID string, shares float64) (*dex.LiquidityResult, error) {
	unlock := g.lockPool(poolID)
	defer unlock()

	pool, err := g.engine.Pool(poolID)
	if err != nil {
		return nil, err
	}
	before := pool

	var result *dex.LiquidityResult
	err = g.store.Transaction(ctx, func(tx *store.Store) error {
		result, err = g.engine.RemoveLiquidity(poolID, principal, shares)
		if err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, principal, pool.TokenA, result.AmountA); err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, principal, pool.TokenB, result.AmountB); err != nil {
			return err
		}
		after, err := g.engine.Pool(poolID)
		if err != nil {
			return err
		}
		return tx.SavePool(ctx, after)
	})
	if err != nil {
		g.engine.RestorePool(before)
		return nil, err
	}

	g.bus.Publish(events.TypeLiquidity, "", map[string]interface{}{
		"poolId": poolID,
		"userId": principal,
		"action": "remove",
		"shares": shares,
	})
	return result, nil
}

// PlaceOrder locks the funding side, books the order, runs the matcher, and
// settles any fills. A buy locks quote (price times amount); a sell locks
// base. A failed transaction restores the book from a snapshot so it never
// diverges from wallets.
func (g *Gateway) PlaceOrder(ctx context.Context, principal, poolID, side string, price, amount float64) (*dex.LimitOrder, error) {
	unlock := g.lockPool(poolID)
	defer unlock()

	pool, err := g.engine.Pool(poolID)
	if err != nil {
		return nil, err
	}
	bookBefore := g.engine.SnapshotOrders(poolID)

	var placed *dex.LimitOrder
	err = g.store.Transaction(ctx, func(tx *store.Store) error {
		lockToken, lockAmount := pool.TokenA, amount
		if side == "buy" {
			lockToken, lockAmount = pool.TokenB, price*amount
		}
		if err := tx.LockBalance(ctx, principal, lockToken, lockAmount); err != nil {
			return err
		}

		placed, err = g.engine.PlaceOrder(principal, poolID, side, price, amount)
		if err != nil {
			return err
		}
		if err := g.saveEngineOrder(ctx, tx, placed); err != nil {
			return err
		}

		fills := g.engine.MatchOrders(poolID)
		return g.settleFills(ctx, tx, pool, fills)
	})
	if err != nil {
		g.engine.RestoreOrders(poolID, bookBefore)
		return nil, err
	}

	g.bus.Publish(events.TypeOrder, "", map[string]interface{}{
		"poolId":  poolID,
		"userId":  principal,
		"orderId": placed.ID,
		"side":    side,
		"price":   price,
		"amount":  amount,
	})
	return g.engine.Order(placed.ID)
}

// CancelOrder cancels an open order and releases its remaining lock. The
// cancellation is rolled back from a book snapshot when the unlock fails.
func (g *Gateway) CancelOrder(ctx context.Context, principal, orderID string) (*dex.LimitOrder, error) {
	existing, err := g.engine.Order(orderID)
	if err != nil {
		return nil, err
	}
	unlock := g.lockPool(existing.PoolID)
	defer unlock()
	bookBefore := g.engine.SnapshotOrders(existing.PoolID)

	var cancelled *dex.LimitOrder
	err = g.store.Transaction(ctx, func(tx *store.Store) error {
		order, err := g.engine.CancelOrder(principal, orderID)
		if err != nil {
			return err
		}
		cancelled = order

		pool, err := g.engine.Pool(order.PoolID)
		if err != nil {
			return err
		}
		remaining := order.Amount - order.Filled
		if remaining > 0 {
			unlockToken, unlockAmount := pool.TokenA, remaining
			if order.Side == "buy" {
				unlockToken, unlockAmount = pool.TokenB, order.Price*remaining
			}
			if err := tx.UnlockBalance(ctx, principal, unlockToken, unlockAmount); err != nil {
				return err
			}
		}
		return g.saveEngineOrder(ctx, tx, order)
	})
	if err != nil {
		g.engine.RestoreOrders(existing.PoolID, bookBefore)
		return nil, err
	}

	g.bus.Publish(events.TypeOrder, "", map[string]interface{}{
		"poolId":  cancelled.PoolID,
		"userId":  principal,
		"orderId": cancelled.ID,
		"status":  cancelled.Status,
	})
	return cancelled, nil
}

// settleFills moves matched funds at the maker's price: the buyer's quote
// lock is debited by fill·price and credited with base, the seller's base
// lock is debited by fill and credited with quote. A buyer whose limit sat
// above the maker price gets the difference unlocked so the remaining lock
// always equals price·remaining.
func (g *Gateway) settleFills(ctx context.Context, tx *store.Store, pool *dex.Pool, fills []dex.Fill) error {
	for _, fill := range fills {
		quote := fill.Price * fill.Amount

		if err := tx.SettleLocked(ctx, fill.Buyer, pool.TokenB, quote); err != nil {
			return err
		}
		buyOrder, err := g.engine.Order(fill.BuyOrderID)
		if err != nil {
			return err
		}
		if over := (buyOrder.Price - fill.Price) * fill.Amount; over > 0 {
			if err := tx.UnlockBalance(ctx, fill.Buyer, pool.TokenB, over); err != nil {
				return err
			}
		}
		if err := tx.AddBalance(ctx, fill.Buyer, pool.TokenA, fill.Amount); err != nil {
			return err
		}

		if err := tx.SettleLocked(ctx, fill.Seller, pool.TokenA, fill.Amount); err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, fill.Seller, pool.TokenB, quote); err != nil {
			return err
		}

		if err := g.saveEngineOrder(ctx, tx, buyOrder); err != nil {
			return err
		}
		sellOrder, err := g.engine.Order(fill.SellOrderID)
		if err != nil {
			return err
		}
		if err := g.saveEngineOrder(ctx, tx, sellOrder); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) saveEngineOrder(ctx context.Context, tx *store.Store, o *dex.LimitOrder) error {
	return tx.SaveOrder(ctx, &store.OrderRow{
		ID:        o.ID,
		UserID:    o.Owner,
		PoolID:    o.PoolID,
		Side:      o.Side,
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	})
}
