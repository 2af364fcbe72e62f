// Package api is the HTTP and WebSocket transport over the gateway.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tritex/config"
	"tritex/internal/apperr"
	"tritex/internal/auth"
	"tritex/internal/gateway"
)

// maxBodyBytes caps request bodies at roughly 1 MB.
const maxBodyBytes = 1 << 20

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	gateway    *gateway.Gateway
	auth       *auth.Service
	jwt        *auth.JWTManager
	hub        *WSHub
	logger     zerolog.Logger
}

// NewServer wires the router, middleware, and routes.
func NewServer(cfg *config.Config, gw *gateway.Gateway, authService *auth.Service, jwt *auth.JWTManager, logger zerolog.Logger) *Server {
	if cfg.Server.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	})

	s := &Server{
		router:  router,
		cfg:     cfg,
		gateway: gw,
		auth:    authService,
		jwt:     jwt,
		hub:     NewWSHub(logger),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.registerRoutes()
	s.bridgeEvents()
	return s
}

// Hub exposes the WebSocket hub for boot wiring.
func (s *Server) Hub() *WSHub { return s.hub }

func (s *Server) registerRoutes() {
	requireAuth := auth.Middleware(s.jwt)

	api := s.router.Group("/api")
	{
		api.POST("/auth/register", s.handleRegister)
		api.POST("/auth/login", s.handleLogin)
		api.POST("/auth/logout", requireAuth, s.handleLogout)
		api.GET("/auth/me", requireAuth, s.handleMe)

		api.GET("/status", s.handleStatus)

		api.GET("/dex/summary", s.handleDexSummary)
		api.GET("/dex/pools", s.handleDexPools)
		api.GET("/dex/tokens", s.handleDexTokens)
		api.GET("/dex/orderbook", s.handleDexOrderBook)
		api.GET("/dex/history", s.handleDexHistory)
		api.GET("/dex/balances", requireAuth, s.handleDexBalances)
		api.POST("/dex/swap", requireAuth, s.handleDexSwap)
		api.POST("/dex/liquidity", requireAuth, s.handleDexLiquidity)
		api.POST("/dex/order", requireAuth, s.handleDexOrder)
		api.DELETE("/dex/order/:id", requireAuth, s.handleDexCancelOrder)

		api.GET("/market/prices", s.handleMarketPrices)
		api.GET("/market/candles", s.handleMarketCandles)
		api.GET("/market/orderbook", s.handleMarketOrderBook)
		api.GET("/market/premium", s.handleKimchiPremium)

		api.GET("/ai/analyze", s.handleAnalyze)
		api.GET("/ai/backtest", s.handleBacktest)
		api.GET("/ai/multi-analyze", s.handleMultiAnalyze)

		api.POST("/exchange/order", requireAuth, s.handleExchangeOrder)
		api.POST("/exchange/cancel", requireAuth, s.handleExchangeCancel)
		api.GET("/exchange/balance", requireAuth, s.handleExchangeBalance)
		api.GET("/exchange/orders", requireAuth, s.handleExchangeOrders)

		api.POST("/settings/api-keys", requireAuth, s.handleSaveAPIKeys)
		api.GET("/settings/api-keys", requireAuth, s.handleListAPIKeys)
		api.DELETE("/settings/api-keys", requireAuth, s.handleDeleteAPIKeys)

		api.POST("/auto/enable", requireAuth, s.handleAutoEnable)
		api.POST("/auto/disable", requireAuth, s.handleAutoDisable)
		api.GET("/auto/status", requireAuth, s.handleAutoStatus)

		api.GET("/events", requireAuth, s.handleEvents)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start() error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler: s.router,
	}
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// respondErr maps a typed error onto its HTTP status.
func respondErr(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"error": gin.H{
			"kind":    apperr.KindOf(err).String(),
			"message": err.Error(),
		},
	})
}

// principal returns the authenticated user id, or "" on public routes.
func principal(c *gin.Context) string {
	return auth.UserID(c)
}

// route forwards to the gateway and writes the wrapped response.
func (s *Server) route(c *gin.Context, service, action string, params gateway.Params) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	resp, err := s.gateway.Route(ctx, principal(c), service, action, params)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
