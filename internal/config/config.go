// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting. Empty DATABASE_URL and REDIS_URL
// select the in-memory store and disable caching, which keeps local
// development dependency-free.
type Config struct {
	Port          int           `env:"PORT" envDefault:"8080"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	RedisURL      string        `env:"REDIS_URL"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SignupBonus   int64         `env:"SIGNUP_BONUS" envDefault:"100"`
	DailyBonus    int64         `env:"DAILY_BONUS" envDefault:"20"`
	ReferralBonus int64         `env:"REFERRAL_BONUS" envDefault:"50"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
