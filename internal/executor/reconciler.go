package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tritex/internal/apperr"
	"tritex/internal/risk"
	"tritex/internal/store"
	"tritex/internal/venue"
)

// reconcileBatch bounds how many submitted orders one pass inspects.
const reconcileBatch = 50

// Reconciler confirms fills for submitted auto orders, feeds realized
// results into the consecutive-loss counter, and keeps the risk manager's
// open-position map current so its stop/take triggers can fire. Without it
// the circuit breaker would never trip.
type Reconciler struct {
	store    *store.Store
	executor *Executor
	risk     *risk.Manager
	logger   zerolog.Logger
}

// NewReconciler wires the reconciler.
func NewReconciler(st *store.Store, ex *Executor, riskMgr *risk.Manager, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:    st,
		executor: ex,
		risk:     riskMgr,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run runs reconciliation passes on the given cadence until ctx ends.
func (r *Reconciler) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile inspects submitted auto orders against their venues. Errors on
// individual orders are logged and skipped; the pass never aborts.
func (r *Reconciler) Reconcile(ctx context.Context) {
	rows, err := r.store.ListSubmittedAutoOrders(ctx, reconcileBatch)
	if err != nil {
		r.logger.Error().Err(err).Msg("list submitted orders")
		return
	}
	for _, row := range rows {
		if err := r.reconcileOne(ctx, row); err != nil {
			r.logger.Warn().Err(err).Str("order_id", row.ID).Msg("reconcile order")
		}
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, row store.VenueOrderRow) error {
	name, err := venue.ParseName(row.Venue)
	if err != nil {
		return err
	}
	client, err := r.executor.Client(ctx, row.UserID, name)
	if err != nil {
		return err
	}
	remote, err := client.GetOrder(ctx, row.Symbol, row.ExchangeOrderID.String)
	if err != nil {
		return err
	}

	switch remote.Status {
	case venue.OrderStatusFilled:
		status := store.VenueOrderFilled
		if err := r.store.UpdateVenueOrder(ctx, row.ID, store.VenueOrderUpdate{
			Status:      &status,
			FilledQty:   &remote.ExecutedQty,
			FilledPrice: &remote.ExecutedPrice,
			Fee:         &remote.Fee,
		}); err != nil {
			return err
		}
		r.trackPosition(row, remote)
		return r.recordResult(ctx, row, remote.ExecutedPrice)
	case venue.OrderStatusCancelled:
		status := store.VenueOrderCancelled
		return r.store.UpdateVenueOrder(ctx, row.ID, store.VenueOrderUpdate{Status: &status})
	default:
		// Still open; check again next pass.
		return nil
	}
}

// trackPosition updates the risk manager on a fill: a buy opens the
// position behind the stop/take triggers, a sell closes it.
func (r *Reconciler) trackPosition(row store.VenueOrderRow, remote *venue.Order) {
	if r.risk == nil {
		return
	}
	if row.Side == "buy" {
		if remote.ExecutedPrice > 0 {
			r.risk.SetPosition(row.UserID, row.Symbol, remote.ExecutedPrice, remote.ExecutedQty)
		}
		return
	}
	r.risk.ClearPosition(row.UserID, row.Symbol)
}

// recordResult compares a filled sell against the tracked entry price. Buy
// fills only establish the entry and produce no result.
func (r *Reconciler) recordResult(ctx context.Context, row store.VenueOrderRow, exitPrice float64) error {
	if row.Side != "sell" {
		return nil
	}
	entry, err := r.store.LastFilledBuy(ctx, row.UserID, row.Venue, row.Symbol)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			// No entry on record; nothing to score.
			return nil
		}
		return err
	}
	if entry.FilledPrice <= 0 || exitPrice <= 0 {
		return nil
	}
	isProfit := exitPrice > entry.FilledPrice
	name, err := venue.ParseName(row.Venue)
	if err != nil {
		return err
	}
	r.logger.Info().Str("user_id", row.UserID).Str("symbol", row.Symbol).
		Float64("entry", entry.FilledPrice).Float64("exit", exitPrice).
		Bool("profit", isProfit).Msg("trade result recorded")
	return r.executor.RecordTradeResult(ctx, row.UserID, name, isProfit)
}
