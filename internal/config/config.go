package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the runtime settings of the auction service.
type Config struct {
	ServerAddr       string
	DatabaseDSN      string
	RedisURL         string
	JWTSecret        string
	SweepInterval    time.Duration
	LockTimeout      time.Duration
	BidRatePerSecond float64
	BidRateBurst     int
	LogLevel         string
	EventBuffer      int
}

// Load reads settings from flags, AUCTION_* environment variables and an
// optional .env file, in decreasing priority.
func Load(args []string) (Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("jewel-auction", pflag.ContinueOnError)
	fs.String("server-addr", ":8080", "HTTP listen address")
	fs.String("database-dsn", "", "Postgres DSN; empty keeps data in memory")
	fs.String("redis-url", "", "Redis URL for cross-instance locks and events; empty runs standalone")
	fs.String("jwt-secret", "", "HS256 secret for access tokens")
	fs.Duration("sweep-interval", 60*time.Second, "lifecycle sweep period")
	fs.Duration("lock-timeout", 5*time.Second, "max wait for a per-auction lock")
	fs.Float64("bid-rate-per-second", 5, "bid requests per second allowed per user")
	fs.Int("bid-rate-burst", 10, "bid request burst allowed per user")
	fs.String("log-level", "info", "log level")
	fs.Int("event-buffer", 64, "events buffered per subscriber")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := Config{
		ServerAddr:       v.GetString("server-addr"),
		DatabaseDSN:      v.GetString("database-dsn"),
		RedisURL:         v.GetString("redis-url"),
		JWTSecret:        v.GetString("jwt-secret"),
		SweepInterval:    v.GetDuration("sweep-interval"),
		LockTimeout:      v.GetDuration("lock-timeout"),
		BidRatePerSecond: v.GetFloat64("bid-rate-per-second"),
		BidRateBurst:     v.GetInt("bid-rate-burst"),
		LogLevel:         v.GetString("log-level"),
		EventBuffer:      v.GetInt("event-buffer"),
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.ServerAddr == "" {
		errs = append(errs, errors.New("server-addr is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt-secret is required"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep-interval must be positive"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("lock-timeout must be positive"))
	}
	if c.BidRatePerSecond <= 0 || c.BidRateBurst <= 0 {
		errs = append(errs, errors.New("bid rate and burst must be positive"))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, errors.New("event-buffer must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
