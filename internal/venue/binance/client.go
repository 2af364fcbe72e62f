// Package binance implements the USDT-quoted venue client. Authenticated
// endpoints carry an HMAC-SHA256 signature over the url-encoded query plus
// the X-MBX-APIKEY header.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
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
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tritex/internal/apperr"
	"tritex/internal/venue"
)

// minRequestGap is the per-instance floor between two requests.
const minRequestGap = 50 * time.Millisecond

// Client talks to the Binance-compatible REST API.
type Client struct {
	apiKey    string
	secretKey string
	http      *resty.Client
	throttle  *rate.Limiter
	logger    zerolog.Logger
}

// New builds a client bound to one key pair.
func New(apiKey, secretKey, baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		apiKey:    apiKey,
		secretKey: secretKey,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
		throttle: rate.NewLimiter(rate.Every(minRequestGap), 1),
		logger:   logger.With().Str("component", "binance").Logger(),
	}
}

// Name identifies the venue.
func (c *Client) Name() venue.Name { return venue.Binance }

// GetCandles fetches OHLCV bars for a symbol.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, count int) ([]venue.Candle, error) {
	resp, err := c.public(ctx, "/api/v3/klines", url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(count)},
	})
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}
	candles := make([]venue.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		candles = append(candles, venue.Candle{
			OpenTime:  int64(asFloat(row[0])),
			Open:      asFloat(row[1]),
			High:      asFloat(row[2]),
			Low:       asFloat(row[3]),
			Close:     asFloat(row[4]),
			Volume:    asFloat(row[5]),
			CloseTime: int64(asFloat(row[6])),
		})
	}
	return candles, nil
}

// GetTicker returns the last trade price.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	resp, err := c.public(ctx, "/api/v3/ticker/price", url.Values{"symbol": {symbol}})
	if err != nil {
		return 0, err
	}
	var out struct {
		Price float64 `json:"price,string"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return 0, fmt.Errorf("parse ticker: %w", err)
	}
	return out.Price, nil
}

// GetOrderBook fetches an L2 depth snapshot.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (*venue.OrderBook, error) {
	resp, err := c.public(ctx, "/api/v3/depth", url.Values{"symbol": {symbol}, "limit": {"20"}})
	if err != nil {
		return nil, err
	}
	var out struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("parse depth: %w", err)
	}
	book := &venue.OrderBook{Symbol: symbol}
	for _, b := range out.Bids {
		book.Bids = append(book.Bids, parseLevel(b))
	}
	for _, a := range out.Asks {
		book.Asks = append(book.Asks, parseLevel(a))
	}
	return book, nil
}

// GetAccounts returns every non-zero asset balance.
func (c *Client) GetAccounts(ctx context.Context) ([]venue.Balance, error) {
	resp, err := c.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var out struct {
		Balances []struct {
			Asset  string  `json:"asset"`
			Free   float64 `json:"free,string"`
			Locked float64 `json:"locked,string"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	balances := make([]venue.Balance, 0, len(out.Balances))
	for _, b := range out.Balances {
		if b.Free == 0 && b.Locked == 0 {
			continue
		}
		balances = append(balances, venue.Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
	}
	return balances, nil
}

// GetAccount returns one asset balance, zero when the asset is not held.
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

// PlaceOrder submits an order. A market buy carries the quote notional, so
// it is sent as quoteOrderQty; everything else submits a base quantity.
func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (*venue.Order, error) {
	params := url.Values{
		"symbol": {req.Symbol},
		"side":   {strings.ToUpper(req.Side)},
		"type":   {strings.ToUpper(req.Type)},
	}
	switch {
	case strings.EqualFold(req.Type, "limit"):
		params.Set("quantity", formatFloat(req.Quantity))
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	case strings.EqualFold(req.Side, "buy"):
		params.Set("quoteOrderQty", formatFloat(req.Quantity))
	default:
		params.Set("quantity", formatFloat(req.Quantity))
	}
	resp, err := c.signed(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}
	var out orderResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return out.toOrder(), nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := c.signed(ctx, http.MethodDelete, "/api/v3/order", url.Values{
		"symbol":  {symbol},
		"orderId": {orderID},
	})
	return err
}

// GetOrder fetches one order's state.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*venue.Order, error) {
	resp, err := c.signed(ctx, http.MethodGet, "/api/v3/order", url.Values{
		"symbol":  {symbol},
		"orderId": {orderID},
	})
	if err != nil {
		return nil, err
	}
	var out orderResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return out.toOrder(), nil
}

// GetOpenOrders lists open orders, optionally filtered by symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]venue.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	resp, err := c.signed(ctx, http.MethodGet, "/api/v3/openOrders", params)
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

func (c *Client) public(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(path)
	return c.check(resp, err)
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(query).
		Execute(method, path)
	return c.check(resp, err)
}

// check normalizes transport failures and non-200 statuses. Only 200 is
// success on this venue.
func (c *Client) check(resp *resty.Response, err error) ([]byte, error) {
	if err != nil {
		if isTimeout(err) {
			return nil, apperr.Wrap(apperr.KindTimeout, err, "venue request timed out")
		}
		return nil, apperr.Wrap(apperr.KindVenueError, err, "venue request failed")
	}
	if resp.StatusCode() != http.StatusOK {
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

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

type orderResponse struct {
	OrderID             int64   `json:"orderId"`
	Symbol              string  `json:"symbol"`
	Side                string  `json:"side"`
	Type                string  `json:"type"`
	Price               float64 `json:"price,string"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	TransactTime        int64   `json:"transactTime"`
	Time                int64   `json:"time"`
	Fills               []struct {
		Price      float64 `json:"price,string"`
		Qty        float64 `json:"qty,string"`
		Commission float64 `json:"commission,string"`
	} `json:"fills"`
}

func (r orderResponse) toOrder() *venue.Order {
	executedPrice := 0.0
	if r.ExecutedQty > 0 && r.CummulativeQuoteQty > 0 {
		executedPrice = r.CummulativeQuoteQty / r.ExecutedQty
	}
	// Place responses carry per-fill commissions; query responses do not.
	var fee, fillQty, fillQuote float64
	for _, f := range r.Fills {
		fee += f.Commission
		fillQty += f.Qty
		fillQuote += f.Price * f.Qty
	}
	if executedPrice == 0 && fillQty > 0 {
		executedPrice = fillQuote / fillQty
	}
	ts := r.TransactTime
	if ts == 0 {
		ts = r.Time
	}
	return &venue.Order{
		ID:            strconv.FormatInt(r.OrderID, 10),
		Symbol:        r.Symbol,
		Side:          strings.ToLower(r.Side),
		Type:          strings.ToLower(r.Type),
		Price:         r.Price,
		Quantity:      r.OrigQty,
		ExecutedQty:   r.ExecutedQty,
		ExecutedPrice: executedPrice,
		Fee:           fee,
		Status:        normalizeStatus(r.Status),
		CreatedAt:     time.UnixMilli(ts),
	}
}

func normalizeStatus(s string) string {
	switch s {
	case "NEW", "PARTIALLY_FILLED":
		return venue.OrderStatusOpen
	case "FILLED":
		return venue.OrderStatusFilled
	default:
		return venue.OrderStatusCancelled
	}
}

func parseLevel(row []string) venue.BookLevel {
	var level venue.BookLevel
	if len(row) >= 2 {
		level.Price, _ = strconv.ParseFloat(row[0], 64)
		level.Quantity, _ = strconv.ParseFloat(row[1], 64)
	}
	return level
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
