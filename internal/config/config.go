// Package config loads the wallet engine configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/pi-work-link/wallet-engine/pkg/logger"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	// AllowedOrigins is a comma-separated CORS allow list; empty disables CORS.
	AllowedOrigins string `env:"SERVER_ALLOWED_ORIGINS"`
	// RateLimitRPS throttles each caller; zero disables limiting.
	RateLimitRPS   int `env:"SERVER_RATE_LIMIT_RPS,default=0"`
	RateLimitBurst int `env:"SERVER_RATE_LIMIT_BURST,default=0"`
}

// Origins returns the parsed CORS allow list.
func (c ServerConfig) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds persistence settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
}

// WalletConfig tunes ledger and escrow behaviour.
type WalletConfig struct {
	// LockTimeout bounds waiting for an account guard. Zero waits on the
	// request context alone.
	LockTimeout time.Duration `env:"WALLET_LOCK_TIMEOUT,default=5s"`
	// EscrowTTL is the lifetime after which open escrows are refunded to the
	// payer. Zero disables expiry.
	EscrowTTL time.Duration `env:"WALLET_ESCROW_TTL,default=0"`
	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration `env:"WALLET_SWEEP_INTERVAL,default=15s"`
}

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Wallet   WalletConfig
	Logging  logger.LoggingConfig
}

// Load decodes configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
