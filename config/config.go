/*
Package config resolves server configuration from flags and environment.

Flags win over environment variables; environment variables win over
defaults. The environment names follow the deployment convention
(RUN_ADDRESS, DATABASE_URI, OFFER_SERVICE_ADDRESS) so the binary drops
into the existing compose files unchanged.
*/
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved server configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string
	// DatabaseDSN selects the store: a postgres:// URI uses the pgx
	// store, anything else is treated as a SQLite path (":memory:"
	// included).
	DatabaseDSN string
	// OfferServiceURL is the base URL of the offer catalog service.
	// Empty runs with the built-in static source.
	OfferServiceURL string
	// JWTSecret signs and verifies caller identity tokens.
	JWTSecret string
	// Timezone is the business-local IANA zone for calendar-day rules.
	Timezone string
	// LogLevel is the zap level name.
	LogLevel string
	// SweepInterval is how often the background scheduler runs the
	// expiry and forgiveness sweeps.
	SweepInterval time.Duration
	// OpeningGrant seeds new customer accounts.
	OpeningGrant int64
	// CountExpiryAsNoShow treats timed-out reservations as no-shows.
	CountExpiryAsNoShow bool
}

// Load parses flags and environment into a Config. Call once from main.
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Addr, "a", envOr("RUN_ADDRESS", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.DatabaseDSN, "d", envOr("DATABASE_URI", "points.db"), "database DSN (postgres:// URI or SQLite path)")
	flag.StringVar(&cfg.OfferServiceURL, "r", envOr("OFFER_SERVICE_ADDRESS", ""), "offer catalog service base URL")
	flag.StringVar(&cfg.JWTSecret, "secret", envOr("JWT_SECRET", "dev-secret"), "JWT signing secret")
	flag.StringVar(&cfg.Timezone, "tz", envOr("BUSINESS_TIMEZONE", "Local"), "business-local IANA timezone")
	flag.StringVar(&cfg.LogLevel, "log", envOr("LOG_LEVEL", "info"), "log level")
	flag.DurationVar(&cfg.SweepInterval, "sweep", envDurationOr("SWEEP_INTERVAL", time.Minute), "background sweep interval")
	flag.Int64Var(&cfg.OpeningGrant, "grant", envInt64Or("OPENING_GRANT", 100), "points granted to new customer accounts")
	flag.BoolVar(&cfg.CountExpiryAsNoShow, "expiry-no-show", envOr("COUNT_EXPIRY_AS_NO_SHOW", "") == "true", "count expired reservations as no-shows")
	flag.Parse()

	return cfg
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
