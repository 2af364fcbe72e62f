// Package upbit implements the KRW-quoted venue client. Authenticated
// requests carry an HS256 JWT whose claims hold the access key, a nonce,
// and a SHA-512 hash of the url-encoded parameters.
package upbit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tritex/internal/apperr"
	"tritex/internal/venue"
)

// minRequestGap is the per-instance floor between two requests.
const minRequestGap = 100 * time.Millisecond

// Client talks to the Upbit-compatible REST API.
type Client struct {
	accessKey string
	secretKey string
	http      *resty.Client
	throttle  *rate.Limiter
	logger    zerolog.Logger
}

// New builds a client bound to one key pair.
func New(accessKey, secretKey, baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		accessKey: accessKey,
		secretKey: secretKey,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
		throttle: rate.NewLimiter(rate.Every(minRequestGap), 1),
		logger:   logger.With().Str("component", "upbit").Logger(),
	}
}

// Name identifies the venue.
func (c *Client) Name() venue.Name { return venue.Upbit }

type candleResponse struct {
	Market    string  `json:"market"`
	Open      float64 `json:"opening_price"`
	High      float64 `json:"high_price"`
	Low       float64 `json:"low_price"`
	Close     float64 `json:"trade_price"`
	Volume    float64 `json:"candle_acc_trade_volume"`
	Timestamp int64   `json:"timestamp"`
}

// GetCandles fetches OHLCV bars, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, count int) ([]venue.Candle, error) {
	path, err := candlePath(interval)
	if err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, http.MethodGet, path, url.Values{
		"market": {symbol},
		"count":  {strconv.Itoa(count)},
	}, false)
	if err != nil {
		return nil, err
	}
	var raw []candleResponse
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("parse candles: %w", err)
	}
	// The venue returns newest first.
	candles := make([]venue.Candle, len(raw))
	for i, r := range raw {
		candles[len(raw)-1-i] = venue.Candle{
			OpenTime:  r.Timestamp,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			CloseTime: r.Timestamp,
		}
	}
	return candles, nil
}

// GetTicker returns the last trade price.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	resp, err := c.request(ctx, http.MethodGet, "/v1/ticker", url.Values{"markets": {symbol}}, false)
	if err != nil {
		return 0, err
	}
	var out []struct {
		TradePrice float64 `json:"trade_price"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return 0, fmt.Errorf("parse ticker: %w", err)
	}
	if len(out) == 0 {
		return 0, apperr.New(apperr.KindNotFound, "market %s not found", symbol)
	}
	return out[0].TradePrice, nil
}

// GetOrderBook fetches an L2 book snapshot.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (*venue.OrderBook, error) {
	resp, err := c.request(ctx, http.MethodGet, "/v1/orderbook", url.Values{"markets": {symbol}}, false)
	if err != nil {
		return nil, err
	}
	var out []struct {
		Units []struct {
			AskPrice float64 `json:"ask_price"`
			BidPrice float64 `json:"bid_price"`
			AskSize  float64 `json:"ask_size"`
			BidSize  float64 `json:"bid_size"`
		} `json:"orderbook_units"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("parse orderbook: %w", err)
	}
	book := &venue.OrderBook{Symbol: symbol}
	if len(out) > 0 {
		for _, u := range out[0].Units {
			book.Bids = append(book.Bids, venue.BookLevel{Price: u.BidPrice, Quantity: u.BidSize})
			book.Asks = append(book.Asks, venue.BookLevel{Price: u.AskPrice, Quantity: u.AskSize})
		}
	}
	return book, nil
}

// GetAccounts returns every asset balance on the account.
func (c *Client) GetAccounts(ctx context.Context) ([]venue.Balance, error) {
	resp, err := c.request(ctx, http.MethodGet, "/v1/accounts", url.Values{}, true)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Currency string  `json:"currency"`
		Balance  float64 `json:"balance,string"`
		Locked   float64 `json:"locked,string"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	balances := make([]venue.Balance, 0, len(raw))
	for _, b := range raw {
		balances = append(balances, venue.Balance{Asset: b.Currency, Free: b.Balance, Locked: b.Locked})
	}
	return balances, nil
}

// GetAccount returns one asset balance, zero when not held.
func (c *Client) GetAccount(ctx context.Context, asset string) (*venue.Balance, error) {
	balances, err := c.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return &b, nil
		}
	}
	return &venue.Balance{Asset: asset}, nil
}

// PlaceOrder submits an order, translating to the venue's vocabulary:
// buy becomes "bid", a market buy spends quote via ord_type "price", and a
// market sell uses ord_type "market".
func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (*venue.Order, error) {
	params := url.Values{"market": {req.Symbol}}
	isBuy := strings.EqualFold(req.Side, "buy")
	if isBuy {
		params.Set("side", "bid")
	} else {
		params.Set("side", "ask")
	}
	switch {
	case strings.EqualFold(req.Type, "limit"):
		params.Set("ord_type", "limit")
		params.Set("price", formatFloat(req.Price))
		params.Set("volume", formatFloat(req.Quantity))
	case isBuy:
		params.Set("ord_type", "price")
		params.Set("price", formatFloat(req.Quantity))
	default:
		params.Set("ord_type", "market")
		params.Set("volume", formatFloat(req.Quantity))
	}

	resp, err := c.request(ctx, http.MethodPost, "/v1/orders", params, true)
	if err != nil {
		return nil, err
	}
	var out orderResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return out.toOrder(), nil
}

// CancelOrder cancels an open order by uuid.
func (c *Client) CancelOrder(ctx context.Context, _, orderID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/v1/order", url.Values{"uuid": {orderID}}, true)
	return err
}

// GetOrder fetches one order's state by uuid.
func (c *Client) GetOrder(ctx context.Context, _, orderID string) (*venue.Order, error) {
	resp, err := c.request(ctx, http.MethodGet, "/v1/order", url.Values{"uuid": {orderID}}, true)
	if err != nil {
		return nil, err
	}
	var out orderResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return out.toOrder(), nil
}

// GetOpenOrders lists waiting orders, optionally filtered by market.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]venue.Order, error) {
	params := url.Values{"state": {"wait"}}
	if symbol != "" {
		params.Set("market", symbol)
	}
	resp, err := c.request(ctx, http.MethodGet, "/v1/orders", params, true)
	if err != nil {
		return nil, err
	}
	var raw []orderResponse
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}
	orders := make([]venue.Order, 0, len(raw))
	for _, r := range raw {
		orders = append(orders, *r.toOrder())
	}
	return orders, nil
}

// request performs one call; when signed, the url-encoded params are hashed
// into the JWT's query_hash claim and sent as query (GET/DELETE) or JSON
// body (POST).
func (c *Client) request(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	r := c.http.R().SetContext(ctx)
	if signed {
		token, err := c.authToken(params)
		if err != nil {
			return nil, err
		}
		r.SetHeader("Authorization", "Bearer "+token)
	}
	if method == http.MethodPost {
		body := make(map[string]string, len(params))
		for k := range params {
			body[k] = params.Get(k)
		}
		r.SetBody(body)
	} else {
		r.SetQueryParamsFromValues(params)
	}

	resp, err := r.Execute(method, path)
	if err != nil {
		if isTimeout(err) {
			return nil, apperr.Wrap(apperr.KindTimeout, err, "venue request timed out")
		}
		return nil, apperr.Wrap(apperr.KindVenueError, err, "venue request failed")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		c.logger.Warn().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("venue error response")
		return nil, apperr.Venue(resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

// isTimeout catches both context deadlines and the client-side transport
// timeout, which surfaces as a net.Error rather than a context error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// authToken signs the per-request JWT. Requests without parameters omit the
// query hash claims.
func (c *Client) authToken(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if len(params) > 0 {
		sum := sha512.Sum512([]byte(params.Encode()))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secretKey))
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptographic, err, "sign venue token")
	}
	return token, nil
}

type orderResponse struct {
	UUID           string  `json:"uuid"`
	Market         string  `json:"market"`
	Side           string  `json:"side"`
	OrdType        string  `json:"ord_type"`
	Price          float64 `json:"price,string"`
	Volume         float64 `json:"volume,string"`
	ExecutedVolume float64 `json:"executed_volume,string"`
	PaidFee        float64 `json:"paid_fee,string"`
	State          string  `json:"state"`
	CreatedAt      string  `json:"created_at"`
	Trades         []struct {
		Price  float64 `json:"price,string"`
		Volume float64 `json:"volume,string"`
		Funds  float64 `json:"funds,string"`
	} `json:"trades"`
}

func (r orderResponse) toOrder() *venue.Order {
	side := "sell"
	if r.Side == "bid" {
		side = "buy"
	}
	created, _ := time.Parse(time.RFC3339, r.CreatedAt)
	return &venue.Order{
		ID:            r.UUID,
		Symbol:        r.Market,
		Side:          side,
		Type:          r.OrdType,
		Price:         r.Price,
		Quantity:      r.Volume,
		ExecutedQty:   r.ExecutedVolume,
		ExecutedPrice: r.avgFillPrice(),
		Fee:           r.PaidFee,
		Status:        normalizeState(r.State),
		CreatedAt:     created,
	}
}

// avgFillPrice averages the order's trades; a limit fill without a trade
// list falls back to the limit price.
func (r orderResponse) avgFillPrice() float64 {
	var volume, funds float64
	for _, t := range r.Trades {
		volume += t.Volume
		if t.Funds > 0 {
			funds += t.Funds
		} else {
			funds += t.Price * t.Volume
		}
	}
	if volume > 0 {
		return funds / volume
	}
	if r.ExecutedVolume > 0 && r.OrdType == "limit" {
		return r.Price
	}
	return 0
}

func normalizeState(s string) string {
	switch s {
	case "wait", "watch":
		return venue.OrderStatusOpen
	case "done":
		return venue.OrderStatusFilled
	default:
		return venue.OrderStatusCancelled
	}
}

func candlePath(interval string) (string, error) {
	switch interval {
	case "1m":
		return "/v1/candles/minutes/1", nil
	case "5m":
		return "/v1/candles/minutes/5", nil
	case "15m":
		return "/v1/candles/minutes/15", nil
	case "1h":
		return "/v1/candles/minutes/60", nil
	case "4h":
		return "/v1/candles/minutes/240", nil
	case "1d":
		return "/v1/candles/days", nil
	default:
		return "", apperr.New(apperr.KindBadInput, "unsupported interval %q", interval)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
