package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tritex/config"
	"tritex/internal/ai"
	"tritex/internal/api"
	"tritex/internal/auth"
	"tritex/internal/dex"
	"tritex/internal/events"
	"tritex/internal/executor"
	"tritex/internal/gateway"
	"tritex/internal/keyvault"
	"tritex/internal/risk"
	"tritex/internal/store"
	"tritex/internal/strategy"
	"tritex/internal/venue"
	"tritex/internal/venue/binance"
	"tritex/internal/venue/upbit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Int("port", cfg.Server.Port).Msg("starting tritex")

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("open store")
	}

	vault, err := keyvault.New(cfg.Vault.Key, cfg.Vault.Salt)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize key vault")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DEX engine, restored from the last persisted pool state.
	engine := dex.NewEngine(logger)
	pools, err := st.LoadPools(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load pools")
	}
	for _, p := range pools {
		engine.RestorePool(p)
	}
	openOrders, err := st.LoadOpenOrders(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load open orders")
	}
	for _, row := range openOrders {
		engine.RestoreOrder(&dex.LimitOrder{
			ID:        row.ID,
			Owner:     row.UserID,
			PoolID:    row.PoolID,
			Side:      row.Side,
			Price:     row.Price,
			Amount:    row.Amount,
			Filled:    row.Filled,
			Status:    row.Status,
			CreatedAt: row.CreatedAt,
		})
	}
	logger.Info().Int("pools", len(pools)).Int("orders", len(openOrders)).Msg("dex engine ready")

	riskMgr := risk.NewManager(risk.DefaultConfig())
	aiEngine := ai.NewEngine(strategy.All(), riskMgr, logger)
	ex := executor.New(st, vault,
		executor.DefaultFactory(cfg.Market.UpbitBaseURL, cfg.Market.BinanceBaseURL, logger), logger)

	market := map[venue.Name]venue.Client{
		venue.Upbit:   upbit.New("", "", cfg.Market.UpbitBaseURL, logger),
		venue.Binance: binance.New("", "", cfg.Market.BinanceBaseURL, logger),
	}

	bus := events.NewBus()
	gw := gateway.New(cfg, st, engine, aiEngine, ex, vault, bus, market, logger)

	if err := gw.Scheduler().RestoreEnabled(ctx); err != nil {
		logger.Error().Err(err).Msg("restore auto-traders")
	}
	go gw.Scheduler().RunDailyReset(ctx)

	reconciler := executor.NewReconciler(st, ex, riskMgr, logger)
	go reconciler.Run(ctx, cfg.AutoTrade.CycleInterval)

	jwt := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenDuration)
	passwords := auth.NewPasswordManager(auth.DefaultBcryptCost, cfg.Auth.MinPasswordLength)
	authService := auth.NewService(st, jwt, passwords, logger)
	go sweepSessions(ctx, authService, cfg.Auth.SessionSweepEvery)

	server := api.NewServer(cfg, gw, authService, jwt, logger)
	go server.RunDexTicker(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	cancel()
	gw.Scheduler().StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	// Best-effort pool flush before the store closes.
	if err := gw.FlushPools(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("flush pools")
	}
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("close store")
	}
	logger.Info().Msg("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func sweepSessions(ctx context.Context, svc *auth.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.SweepSessions(ctx)
		}
	}
}
