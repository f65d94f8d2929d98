// Package config loads the server configuration: built-in defaults, then an
// optional TOML file named by CONFIG_FILE, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/atmx/market-core/internal/fee"
)

// Config is the full server configuration.
type Config struct {
	Port            string        `toml:"port"`
	DatabaseURL     string        `toml:"database_url"`
	RedisURL        string        `toml:"redis_url"`
	PebbleDir       string        `toml:"pebble_dir"`
	NATSURL         string        `toml:"nats_url"`
	KafkaBrokers    []string      `toml:"kafka_brokers"`
	KafkaTopic      string        `toml:"kafka_topic"`
	FeeRateBps      int64         `toml:"fee_rate_bps"`
	FeeAccount      string        `toml:"fee_account"`
	CollateralToken string        `toml:"collateral_token"`
	Operators       []string      `toml:"operators"`
	LogLevel        string        `toml:"log_level"`
	CheckInvariants bool          `toml:"check_invariants"`
	CacheTTL        time.Duration `toml:"cache_ttl"`
	NotifyBuffer    int           `toml:"notify_buffer"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Port:            "8080",
		KafkaTopic:      "market-events",
		FeeRateBps:      20,
		FeeAccount:      "platform-fees",
		CollateralToken: "USDC",
		LogLevel:        "info",
		CheckInvariants: true,
		CacheTTL:        30 * time.Second,
		NotifyBuffer:    1024,
	}
}

// Load builds the configuration from getenv (usually os.Getenv).
func Load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if path := getenv("CONFIG_FILE"); path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if _, err := toml.Decode(string(buf), &cfg); err != nil {
			return cfg, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"PORT":             &c.Port,
		"DATABASE_URL":     &c.DatabaseURL,
		"REDIS_URL":        &c.RedisURL,
		"PEBBLE_DIR":       &c.PebbleDir,
		"NATS_URL":         &c.NATSURL,
		"KAFKA_TOPIC":      &c.KafkaTopic,
		"FEE_ACCOUNT":      &c.FeeAccount,
		"COLLATERAL_TOKEN": &c.CollateralToken,
		"LOG_LEVEL":        &c.LogLevel,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}
	if v := getenv("OPERATORS"); v != "" {
		c.Operators = splitList(v)
	}
	if v := getenv("FEE_RATE_BPS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FEE_RATE_BPS: %w", err)
		}
		c.FeeRateBps = n
	}
	if v := getenv("CHECK_INVARIANTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHECK_INVARIANTS: %w", err)
		}
		c.CheckInvariants = b
	}
	if v := getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
		c.CacheTTL = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := fee.ValidateRate(c.FeeRateBps); err != nil {
		return fmt.Errorf("config: fee_rate_bps %d: %w", c.FeeRateBps, err)
	}
	if c.FeeAccount == "" {
		return errors.New("config: fee_account is required")
	}
	if c.CollateralToken == "" {
		return errors.New("config: collateral_token is required")
	}
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("config: kafka_topic is required with kafka_brokers")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
