package gateway

import (
	"context"
	"time"

	"tritex/internal/apperr"
	"tritex/internal/events"
	"tritex/internal/executor"
	"tritex/internal/keyvault"
	"tritex/internal/store"
	"tritex/internal/venue"
)

func (g *Gateway) routeExchange(ctx context.Context, principal, action string, params Params) (interface{}, error) {
	if principal == "" {
		return nil, apperr.New(apperr.KindAuthRequired, "exchange operations require authentication")
	}
	name, err := venue.ParseName(params.str("exchange"))
	if err != nil {
		return nil, err
	}

	switch action {
	case "placeOrder":
		return g.ExchangePlaceOrder(ctx, principal, name, executor.OrderParams{
			Symbol:   params.str("symbol"),
			Side:     params.str("side"),
			Type:     params.str("type"),
			Quantity: params.num("quantity"),
			Price:    params.num("price"),
			Source:   store.SourceManual,
		})
	case "cancelOrder":
		return g.ExchangeCancelOrder(ctx, principal, name, params.str("orderId"))
	case "balance":
		client, err := g.executor.Client(ctx, principal, name)
		if err != nil {
			return nil, err
		}
		return client.GetAccounts(ctx)
	case "openOrders":
		client, err := g.executor.Client(ctx, principal, name)
		if err != nil {
			return nil, err
		}
		return client.GetOpenOrders(ctx, params.str("symbol"))
	case "history":
		return g.store.ListVenueOrders(ctx, principal, string(name), params.count("limit", 50))
	default:
		return nil, apperr.New(apperr.KindBadInput, "unknown exchange action %q", action)
	}
}

// ExchangePlaceOrder forwards a manual order to the executor and emits the
// result, scoped to the owner.
func (g *Gateway) ExchangePlaceOrder(ctx context.Context, principal string, name venue.Name, p executor.OrderParams) (*store.VenueOrderRow, error) {
	row, err := g.executor.ExecuteOrder(ctx, principal, name, p)
	if err != nil {
		return nil, err
	}
	g.bus.Publish(events.TypeExchangeOrder, principal, map[string]interface{}{
		"orderId":  row.ID,
		"exchange": row.Venue,
		"symbol":   row.Symbol,
		"side":     row.Side,
		"status":   row.Status,
	})
	return row, nil
}

// ExchangeCancelOrder cancels a submitted order at the venue and flips the
// local row.
func (g *Gateway) ExchangeCancelOrder(ctx context.Context, principal string, name venue.Name, orderID string) (*store.VenueOrderRow, error) {
	row, err := g.store.GetVenueOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if row.UserID != principal {
		return nil, apperr.New(apperr.KindNotFound, "no such order %s", orderID)
	}
	if row.Status != store.VenueOrderSubmitted {
		return nil, apperr.New(apperr.KindBadInput, "order %s is %s, not cancellable", orderID, row.Status)
	}

	client, err := g.executor.Client(ctx, principal, name)
	if err != nil {
		return nil, err
	}
	if err := client.CancelOrder(ctx, row.Symbol, row.ExchangeOrderID.String); err != nil {
		return nil, err
	}

	status := store.VenueOrderCancelled
	if err := g.store.UpdateVenueOrder(ctx, orderID, store.VenueOrderUpdate{Status: &status}); err != nil {
		return nil, err
	}
	g.bus.Publish(events.TypeExchangeOrder, principal, map[string]interface{}{
		"orderId":  orderID,
		"exchange": row.Venue,
		"status":   status,
	})
	return g.store.GetVenueOrder(ctx, orderID)
}

func (g *Gateway) routeAuto(ctx context.Context, principal, action string, params Params) (interface{}, error) {
	if principal == "" {
		return nil, apperr.New(apperr.KindAuthRequired, "auto-trade operations require authentication")
	}

	switch action {
	case "enable":
		name, err := venue.ParseName(params.str("exchange"))
		if err != nil {
			return nil, err
		}
		return g.EnableAutoTrade(ctx, principal, name, params)
	case "disable":
		name, err := venue.ParseName(params.str("exchange"))
		if err != nil {
			return nil, err
		}
		return g.DisableAutoTrade(ctx, principal, name)
	case "status":
		return g.AutoTradeStatus(ctx, principal)
	case "saveKeys":
		name, err := venue.ParseName(params.str("exchange"))
		if err != nil {
			return nil, err
		}
		return g.SaveAPIKeys(ctx, principal, name, params.str("accessKey"), params.str("secretKey"))
	case "getKeys":
		return g.ListAPIKeys(ctx, principal)
	case "deleteKeys":
		name, err := venue.ParseName(params.str("exchange"))
		if err != nil {
			return nil, err
		}
		return nil, g.DeleteAPIKeys(ctx, principal, name)
	default:
		return nil, apperr.New(apperr.KindBadInput, "unknown auto action %q", action)
	}
}

// Auto-trade config defaults applied on enable.
const (
	defaultAutoSymbols    = "BTCUSDT,ETHUSDT"
	defaultMaxPositionPct = 0.1
	defaultStopLossPct    = 0.03
	defaultTakeProfitPct  = 0.06
	defaultMinConfidence  = 0.7
	defaultMaxDailyTrades = 10

	defaultKeyPermissions = "trade"
)

// EnableAutoTrade persists the config and starts the per-tuple trader.
// Requires stored keys; re-enabling a running tuple is a no-op.
func (g *Gateway) EnableAutoTrade(ctx context.Context, principal string, name venue.Name, params Params) (*store.AutoConfig, error) {
	if _, err := g.store.GetCredential(ctx, principal, string(name)); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindBadInput, "save %s api keys before enabling auto-trade", name)
		}
		return nil, err
	}

	cfg := &store.AutoConfig{
		UserID:         principal,
		Venue:          string(name),
		Enabled:        true,
		Symbols:        defaultAutoSymbols,
		MaxPositionPct: defaultMaxPositionPct,
		StopLossPct:    defaultStopLossPct,
		TakeProfitPct:  defaultTakeProfitPct,
		MinConfidence:  defaultMinConfidence,
		MaxDailyTrades: defaultMaxDailyTrades,
		LastReset:      time.Now().UTC(),
	}
	if v := params.str("symbols"); v != "" {
		cfg.Symbols = v
	}
	if v := params.num("maxPositionPct"); v > 0 {
		cfg.MaxPositionPct = v
	}
	if v := params.num("stopLossPct"); v > 0 {
		cfg.StopLossPct = v
	}
	if v := params.num("takeProfitPct"); v > 0 {
		cfg.TakeProfitPct = v
	}
	if v := params.num("minConfidence"); v > 0 {
		cfg.MinConfidence = v
	}
	if v := int(params.num("maxDailyTrades")); v > 0 {
		cfg.MaxDailyTrades = v
	}

	if err := g.store.UpsertAutoConfig(ctx, cfg); err != nil {
		return nil, err
	}
	g.scheduler.Start(principal, name)
	return g.store.GetAutoConfig(ctx, principal, string(name))
}

// DisableAutoTrade stops the trader and flips the config off.
func (g *Gateway) DisableAutoTrade(ctx context.Context, principal string, name venue.Name) (*store.AutoConfig, error) {
	g.scheduler.Stop(principal, name)
	if err := g.store.SetAutoEnabled(ctx, principal, string(name), false); err != nil {
		return nil, err
	}
	return g.store.GetAutoConfig(ctx, principal, string(name))
}

// AutoTradeStatusEntry reports one venue's auto-trade state.
type AutoTradeStatusEntry struct {
	Config  *store.AutoConfig `json:"config"`
	Running bool              `json:"running"`
}

// AutoTradeStatus reports the principal's configs with live trader state.
func (g *Gateway) AutoTradeStatus(ctx context.Context, principal string) (map[string]AutoTradeStatusEntry, error) {
	out := make(map[string]AutoTradeStatusEntry)
	for _, name := range []venue.Name{venue.Upbit, venue.Binance} {
		cfg, err := g.store.GetAutoConfig(ctx, principal, string(name))
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				continue
			}
			return nil, err
		}
		out[string(name)] = AutoTradeStatusEntry{
			Config:  cfg,
			Running: g.scheduler.Running(principal, name),
		}
	}
	return out, nil
}

// SaveAPIKeys encrypts and stores venue credentials, dropping any cached
// client and stopping the tuple's trader so the next use rebuilds.
func (g *Gateway) SaveAPIKeys(ctx context.Context, principal string, name venue.Name, accessKey, secretKey string) (*keyvault.MaskedCredential, error) {
	if accessKey == "" || secretKey == "" {
		return nil, apperr.New(apperr.KindBadInput, "accessKey and secretKey are required")
	}
	cred, err := g.vault.EncryptPair(name, accessKey, secretKey)
	if err != nil {
		return nil, err
	}
	if err := g.store.UpsertCredential(ctx, &store.CredentialRow{
		UserID:       principal,
		Venue:        string(name),
		AccessCipher: cred.AccessCipher,
		SecretCipher: cred.SecretCipher,
		IV:           cred.IV,
		Tag:          cred.Tag,
		Permissions:  defaultKeyPermissions,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	g.executor.Invalidate(principal, name)
	g.scheduler.Stop(principal, name)
	masked, err := g.vault.Masked(cred)
	if err != nil {
		return nil, err
	}
	masked.Permissions = defaultKeyPermissions
	return masked, nil
}

// ListAPIKeys returns the principal's stored credentials, masked.
func (g *Gateway) ListAPIKeys(ctx context.Context, principal string) ([]*keyvault.MaskedCredential, error) {
	rows, err := g.store.ListCredentials(ctx, principal)
	if err != nil {
		return nil, err
	}
	out := make([]*keyvault.MaskedCredential, 0, len(rows))
	for _, row := range rows {
		masked, err := g.vault.Masked(&keyvault.Credential{
			Venue:        venue.Name(row.Venue),
			AccessCipher: row.AccessCipher,
			SecretCipher: row.SecretCipher,
			IV:           row.IV,
			Tag:          row.Tag,
		})
		if err != nil {
			return nil, err
		}
		masked.Permissions = row.Permissions
		out = append(out, masked)
	}
	return out, nil
}

// DeleteAPIKeys removes the credentials and everything downstream of them:
// the cached client, the running trader, and the enabled flag.
func (g *Gateway) DeleteAPIKeys(ctx context.Context, principal string, name venue.Name) error {
	if err := g.store.DeleteCredential(ctx, principal, string(name)); err != nil {
		return err
	}
	g.executor.Invalidate(principal, name)
	g.scheduler.Stop(principal, name)
	if err := g.store.SetAutoEnabled(ctx, principal, string(name), false); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	return nil
}
