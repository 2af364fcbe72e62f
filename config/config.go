package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full runtime configuration, loaded from the environment.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Vault     VaultConfig     `json:"vault"`
	Logging   LoggingConfig   `json:"logging"`
	Market    MarketConfig    `json:"market"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	AutoTrade AutoTradeConfig `json:"auto_trade"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	ProductionMode  bool   `json:"production_mode"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig holds the SQLite store configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	MinPasswordLength   int           `json:"min_password_length"`
	SessionSweepEvery   time.Duration `json:"session_sweep_every"`
}

// VaultConfig holds key-vault configuration. Key is hex-encoded and must
// decode to 32 bytes; Salt seeds the scrypt derivation.
type VaultConfig struct {
	Key  string `json:"key"`
	Salt string `json:"salt"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON vs console output
}

// MarketConfig holds venue and market-data configuration.
type MarketConfig struct {
	UpbitBaseURL   string  `json:"upbit_base_url"`
	BinanceBaseURL string  `json:"binance_base_url"`
	KRWUSDRate     float64 `json:"krw_usd_rate"` // assumed FX rate for premium calc
}

// RateLimitConfig holds the gateway per-principal limiter settings.
type RateLimitConfig struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

// AutoTradeConfig holds scheduler-wide settings; per-user limits live in the store.
type AutoTradeConfig struct {
	CycleInterval  time.Duration `json:"cycle_interval"`
	CandleInterval string        `json:"candle_interval"`
	CandleCount    int           `json:"candle_count"`
}

// Load builds the configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvIntOrDefault("PORT", 7400),
			Host:            getEnvOrDefault("HOST", "0.0.0.0"),
			ProductionMode:  getEnvOrDefault("PRODUCTION", "false") == "true",
			ShutdownTimeout: getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Path: getEnvOrDefault("DB_PATH", "tritex.db"),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnvOrDefault("JWT_SECRET", ""),
			AccessTokenDuration: getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 24*time.Hour),
			MinPasswordLength:   getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", 6),
			SessionSweepEvery:   getEnvDurationOrDefault("AUTH_SESSION_SWEEP_INTERVAL", time.Hour),
		},
		Vault: VaultConfig{
			Key:  getEnvOrDefault("ENCRYPTION_KEY", ""),
			Salt: getEnvOrDefault("ENCRYPTION_SALT", "tritex-key-vault"),
		},
		Logging: LoggingConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			JSONFormat: getEnvOrDefault("LOG_JSON", "true") == "true",
		},
		Market: MarketConfig{
			UpbitBaseURL:   getEnvOrDefault("UPBIT_BASE_URL", "https://api.upbit.com"),
			BinanceBaseURL: getEnvOrDefault("BINANCE_BASE_URL", "https://api.binance.com"),
			KRWUSDRate:     getEnvFloatOrDefault("KRW_USD_RATE", 1350),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvIntOrDefault("RATE_LIMIT_REQUESTS", 100),
			Window:   getEnvDurationOrDefault("RATE_LIMIT_WINDOW", 60*time.Second),
		},
		AutoTrade: AutoTradeConfig{
			CycleInterval:  getEnvDurationOrDefault("AUTO_TRADE_INTERVAL", 30*time.Second),
			CandleInterval: getEnvOrDefault("AUTO_TRADE_CANDLE_INTERVAL", "1h"),
			CandleCount:    getEnvIntOrDefault("AUTO_TRADE_CANDLE_COUNT", 200),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Vault.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY must be set")
	}
	raw, err := hex.DecodeString(c.Vault.Key)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(raw))
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
