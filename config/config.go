// Package config loads runtime configuration from the environment.
// A .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Venues recognized by the collector wiring, in startup order.
var Venues = []string{"bingx", "wallex", "ramzinex", "lbank", "tabdeal"}

type Config struct {
	WorkerCount    int
	MaxConnections int

	MinProfitPercent float64
	OpportunityTTL   time.Duration

	ListenAddr string

	Redis       RedisConfig
	DatabaseURL string
	MarketsFile string

	LogLevel       string
	LogFile        string
	LogMaxSize     int
	LogBackupCount int

	// Per-venue API keys; optional, public market data needs none.
	APIKeys map[string]string
}

type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Enabled reports whether a mirror should be wired at all.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// Load reads the environment (after godotenv, which is a no-op without a
// .env file) and validates it. A malformed or out-of-range value is a
// startup error, never a silent default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var r reader
	cfg := &Config{
		WorkerCount:      r.intVar("WORKER_COUNT", 8),
		MaxConnections:   r.intVar("MAX_CONNECTIONS", 1000),
		MinProfitPercent: r.floatVar("MIN_PROFIT_PERCENT", 0),
		OpportunityTTL:   time.Duration(r.intVar("OPPORTUNITY_TTL", 60)) * time.Second,
		ListenAddr:       r.strVar("LISTEN_ADDR", ":8000"),
		Redis: RedisConfig{
			Host:     os.Getenv("REDIS_HOST"),
			Port:     r.intVar("REDIS_PORT", 6379),
			DB:       r.intVar("REDIS_DB", 0),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MarketsFile:    os.Getenv("MARKETS_FILE"),
		LogLevel:       r.strVar("LOG_LEVEL", "info"),
		LogFile:        os.Getenv("LOG_FILE"),
		LogMaxSize:     r.intVar("LOG_MAX_SIZE", 100),
		LogBackupCount: r.intVar("LOG_BACKUP_COUNT", 3),
		APIKeys:        map[string]string{},
	}
	if r.err != nil {
		return nil, r.err
	}

	for _, venue := range Venues {
		if key := os.Getenv(strings.ToUpper(venue) + "_API_KEY"); key != "" {
			cfg.APIKeys[venue] = key
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("config: WORKER_COUNT must be >= 1, got %d", c.WorkerCount)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("config: MAX_CONNECTIONS must be >= 1, got %d", c.MaxConnections)
	}
	if c.MinProfitPercent < 0 {
		return fmt.Errorf("config: MIN_PROFIT_PERCENT must be >= 0, got %g", c.MinProfitPercent)
	}
	if c.OpportunityTTL <= 0 {
		return fmt.Errorf("config: OPPORTUNITY_TTL must be positive, got %s", c.OpportunityTTL)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: bad LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the parsed LOG_LEVEL; Load has already validated it.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// reader parses typed env vars and keeps the first error it hits.
type reader struct {
	err error
}

func (r *reader) strVar(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func (r *reader) intVar(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("config: %s=%q is not an integer", name, v)
	}
	return n
}

func (r *reader) floatVar(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("config: %s=%q is not a number", name, v)
	}
	return f
}
