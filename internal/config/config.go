// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the API binary needs from its environment.
type Config struct {
	Addr string `env:"PAGEGRID_ADDR" envDefault:":8080"`

	// PostgreSQL DSN. Empty disables persistence-backed features at startup.
	DatabaseDSN string `env:"PAGEGRID_PG_DSN"`

	// Base external URL used when constructing invite links.
	BaseURL string `env:"PAGEGRID_BASE_URL" envDefault:"http://localhost:8080"`

	// Secret used to sign the impersonation cookie.
	AuthSecret string `env:"PAGEGRID_AUTH_SECRET"`

	// Whether cookies are marked Secure. Enable on any non-local origin.
	SecureCookies bool `env:"PAGEGRID_SECURE_COOKIES" envDefault:"false"`

	SessionTTL time.Duration `env:"PAGEGRID_SESSION_TTL" envDefault:"720h"`

	RateBurst  int `env:"PAGEGRID_RATE_BURST" envDefault:"20"`
	RatePerSec int `env:"PAGEGRID_RATE_PER_SEC" envDefault:"10"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return cfg, nil
}
