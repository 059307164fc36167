// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Gateway modes.
const (
	GatewaySandbox  = "sandbox"
	GatewayExternal = "external"
)

// Config holds every setting cmd/api needs.
type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string
	LogFormat   string

	JWTSecret string
	JWTTTL    time.Duration

	GatewayMode    string
	PaymentURL     string
	ShipmentURL    string
	GatewayTimeout time.Duration

	CheckoutRatePerSec int
	CheckoutBurst      int

	AuctionSweepInterval time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// A missing .env is fine: production sets real environment variables.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		Port:               getEnv("APP_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		GatewayMode:        getEnv("GATEWAY_MODE", GatewaySandbox),
		PaymentURL:         os.Getenv("PAYMENT_URL"),
		ShipmentURL:        os.Getenv("SHIPMENT_URL"),
		CheckoutRatePerSec: 5,
		CheckoutBurst:      10,
	}

	var err error
	if cfg.JWTTTL, err = getDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuctionSweepInterval, err = getDuration("AUCTION_SWEEP_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuctionSweepInterval < time.Second {
		return nil, fmt.Errorf("AUCTION_SWEEP_INTERVAL must be at least 1s, got %s", cfg.AuctionSweepInterval)
	}
	if cfg.CheckoutRatePerSec, err = getInt("CHECKOUT_RATE_PER_SEC", cfg.CheckoutRatePerSec); err != nil {
		return nil, err
	}
	if cfg.CheckoutBurst, err = getInt("CHECKOUT_BURST", cfg.CheckoutBurst); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.GatewayMode {
	case GatewaySandbox:
	case GatewayExternal:
		if cfg.PaymentURL == "" || cfg.ShipmentURL == "" {
			return nil, fmt.Errorf("PAYMENT_URL and SHIPMENT_URL are required when GATEWAY_MODE=external")
		}
	default:
		return nil, fmt.Errorf("unknown GATEWAY_MODE %q", cfg.GatewayMode)
	}
	return cfg, nil
}

// UsesPostgres reports whether a database is configured; otherwise memory stores are used.
func (c *Config) UsesPostgres() bool { return c.DatabaseURL != "" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
