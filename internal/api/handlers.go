package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tritex/internal/apperr"
	"tritex/internal/auth"
	"tritex/internal/gateway"
	"tritex/internal/venue"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid register payload"))
		return
	}
	result, err := s.auth.Register(c.Request.Context(), auth.Credentials{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type loginRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Email           string `json:"email"`
	Password        string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid login payload"))
		return
	}
	result, err := s.auth.Login(c.Request.Context(), auth.Credentials{
		EmailOrUsername: req.EmailOrUsername,
		Email:           req.Email,
		Password:        req.Password,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context(), auth.TokenFromRequest(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleMe(c *gin.Context) {
	user, err := s.auth.Me(c.Request.Context(), principal(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.Status(c.Request.Context()))
}

// --- DEX ---

func (s *Server) handleDexSummary(c *gin.Context) {
	pools := s.gateway.Engine().Pools()
	open := 0
	for _, p := range pools {
		open += len(s.gateway.Engine().OpenOrders(p.ID))
	}
	c.JSON(http.StatusOK, gin.H{
		"tokens":     s.gateway.Engine().Tokens(),
		"pools":      pools,
		"openOrders": open,
	})
}

func (s *Server) handleDexPools(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.Engine().Pools())
}

func (s *Server) handleDexTokens(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.Engine().Tokens())
}

func (s *Server) handleDexOrderBook(c *gin.Context) {
	s.route(c, "dex", "orderbook", gateway.Params{"poolId": c.Query("pool")})
}

func (s *Server) handleDexHistory(c *gin.Context) {
	s.route(c, "dex", "history", gateway.Params{"limit": queryFloat(c, "limit")})
}

func (s *Server) handleDexBalances(c *gin.Context) {
	s.route(c, "dex", "balances", nil)
}

type swapRequest struct {
	PoolID  string  `json:"poolId" binding:"required"`
	TokenIn string  `json:"tokenIn" binding:"required"`
	Amount  float64 `json:"amount" binding:"required"`
}

func (s *Server) handleDexSwap(c *gin.Context) {
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid swap payload"))
		return
	}
	s.route(c, "dex", "swap", gateway.Params{
		"poolId":  req.PoolID,
		"tokenIn": req.TokenIn,
		"amount":  req.Amount,
	})
}

type liquidityRequest struct {
	PoolID  string  `json:"poolId" binding:"required"`
	AmountA float64 `json:"amountA"`
	AmountB float64 `json:"amountB"`
	Shares  float64 `json:"shares"`
	Action  string  `json:"action"` // add (default) or remove
}

func (s *Server) handleDexLiquidity(c *gin.Context) {
	var req liquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid liquidity payload"))
		return
	}
	if req.Action == "remove" {
		s.route(c, "dex", "removeLiquidity", gateway.Params{
			"poolId": req.PoolID,
			"shares": req.Shares,
		})
		return
	}
	s.route(c, "dex", "addLiquidity", gateway.Params{
		"poolId":  req.PoolID,
		"amountA": req.AmountA,
		"amountB": req.AmountB,
	})
}

type orderRequest struct {
	PoolID string  `json:"poolId" binding:"required"`
	Side   string  `json:"side" binding:"required"`
	Price  float64 `json:"price" binding:"required"`
	Amount float64 `json:"amount" binding:"required"`
}

func (s *Server) handleDexOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid order payload"))
		return
	}
	s.route(c, "dex", "placeOrder", gateway.Params{
		"poolId": req.PoolID,
		"side":   req.Side,
		"price":  req.Price,
		"amount": req.Amount,
	})
}

func (s *Server) handleDexCancelOrder(c *gin.Context) {
	s.route(c, "dex", "cancelOrder", gateway.Params{"orderId": c.Param("id")})
}

// --- Market ---

func (s *Server) handleMarketPrices(c *gin.Context) {
	name, err := venue.ParseName(c.DefaultQuery("exchange", string(venue.Binance)))
	if err != nil {
		respondErr(c, err)
		return
	}
	price, err := s.gateway.MarketTicker(c.Request.Context(), name, c.Query("symbol"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": string(name), "symbol": c.Query("symbol"), "price": price})
}

func (s *Server) handleMarketCandles(c *gin.Context) {
	name, err := venue.ParseName(c.DefaultQuery("exchange", string(venue.Binance)))
	if err != nil {
		respondErr(c, err)
		return
	}
	count, _ := strconv.Atoi(c.DefaultQuery("count", "100"))
	candles, err := s.gateway.MarketCandles(c.Request.Context(), name,
		c.Query("symbol"), c.DefaultQuery("interval", "1h"), count)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, candles)
}

func (s *Server) handleMarketOrderBook(c *gin.Context) {
	name, err := venue.ParseName(c.DefaultQuery("exchange", string(venue.Binance)))
	if err != nil {
		respondErr(c, err)
		return
	}
	book, err := s.gateway.MarketOrderBook(c.Request.Context(), name, c.Query("symbol"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (s *Server) handleKimchiPremium(c *gin.Context) {
	premium, err := s.gateway.KimchiPremium(c.Request.Context(), c.DefaultQuery("symbol", "BTC"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, premium)
}

// --- AI ---

func (s *Server) aiParams(c *gin.Context) gateway.Params {
	return gateway.Params{
		"exchange": c.DefaultQuery("exchange", string(venue.Binance)),
		"symbol":   c.Query("symbol"),
		"symbols":  c.Query("symbols"),
		"interval": c.Query("interval"),
		"count":    queryFloat(c, "count"),
	}
}

func (s *Server) handleAnalyze(c *gin.Context) {
	s.route(c, "ai", "analyze", s.aiParams(c))
}

func (s *Server) handleBacktest(c *gin.Context) {
	params := s.aiParams(c)
	params["initialBalance"] = queryFloat(c, "initialBalance")
	s.route(c, "ai", "backtest", params)
}

func (s *Server) handleMultiAnalyze(c *gin.Context) {
	s.route(c, "ai", "multiAnalyze", s.aiParams(c))
}

// --- Exchange ---

type exchangeOrderRequest struct {
	Exchange string  `json:"exchange" binding:"required"`
	Symbol   string  `json:"symbol" binding:"required"`
	Side     string  `json:"side" binding:"required"`
	Type     string  `json:"type" binding:"required"`
	Quantity float64 `json:"quantity" binding:"required"`
	Price    float64 `json:"price"`
}

func (s *Server) handleExchangeOrder(c *gin.Context) {
	var req exchangeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid exchange order payload"))
		return
	}
	s.route(c, "exchange", "placeOrder", gateway.Params{
		"exchange": req.Exchange,
		"symbol":   req.Symbol,
		"side":     req.Side,
		"type":     req.Type,
		"quantity": req.Quantity,
		"price":    req.Price,
	})
}

type exchangeCancelRequest struct {
	Exchange string `json:"exchange" binding:"required"`
	OrderID  string `json:"orderId" binding:"required"`
}

func (s *Server) handleExchangeCancel(c *gin.Context) {
	var req exchangeCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid cancel payload"))
		return
	}
	s.route(c, "exchange", "cancelOrder", gateway.Params{
		"exchange": req.Exchange,
		"orderId":  req.OrderID,
	})
}

func (s *Server) handleExchangeBalance(c *gin.Context) {
	s.route(c, "exchange", "balance", gateway.Params{"exchange": c.Query("exchange")})
}

func (s *Server) handleExchangeOrders(c *gin.Context) {
	s.route(c, "exchange", "history", gateway.Params{
		"exchange": c.Query("exchange"),
		"limit":    queryFloat(c, "limit"),
	})
}

// --- Settings / auto-trade ---

type apiKeysRequest struct {
	Exchange  string `json:"exchange" binding:"required"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

func (s *Server) handleSaveAPIKeys(c *gin.Context) {
	var req apiKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid api-keys payload"))
		return
	}
	s.route(c, "auto", "saveKeys", gateway.Params{
		"exchange":  req.Exchange,
		"accessKey": req.AccessKey,
		"secretKey": req.SecretKey,
	})
}

func (s *Server) handleListAPIKeys(c *gin.Context) {
	s.route(c, "auto", "getKeys", nil)
}

func (s *Server) handleDeleteAPIKeys(c *gin.Context) {
	s.route(c, "auto", "deleteKeys", gateway.Params{"exchange": c.Query("exchange")})
}

type autoToggleRequest struct {
	Exchange       string  `json:"exchange" binding:"required"`
	Symbols        string  `json:"symbols"`
	MaxPositionPct float64 `json:"maxPositionPct"`
	StopLossPct    float64 `json:"stopLossPct"`
	TakeProfitPct  float64 `json:"takeProfitPct"`
	MinConfidence  float64 `json:"minConfidence"`
	MaxDailyTrades float64 `json:"maxDailyTrades"`
}

func (s *Server) handleAutoEnable(c *gin.Context) {
	var req autoToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid auto-trade payload"))
		return
	}
	s.route(c, "auto", "enable", gateway.Params{
		"exchange":       req.Exchange,
		"symbols":        req.Symbols,
		"maxPositionPct": req.MaxPositionPct,
		"stopLossPct":    req.StopLossPct,
		"takeProfitPct":  req.TakeProfitPct,
		"minConfidence":  req.MinConfidence,
		"maxDailyTrades": req.MaxDailyTrades,
	})
}

func (s *Server) handleAutoDisable(c *gin.Context) {
	var req autoToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.KindBadInput, err, "invalid auto-trade payload"))
		return
	}
	s.route(c, "auto", "disable", gateway.Params{"exchange": req.Exchange})
}

func (s *Server) handleAutoStatus(c *gin.Context) {
	s.route(c, "auto", "status", nil)
}

// --- Events ---

func (s *Server) handleEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, s.gateway.Bus().Recent(limit, principal(c)))
}

func queryFloat(c *gin.Context, key string) float64 {
	v, _ := strconv.ParseFloat(c.Query(key), 64)
	return v
}
