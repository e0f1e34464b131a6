// Package config loads the router's YAML configuration file, applying
// .env and environment overrides the same way the scanner this repo was
// built from does.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the router's complete configuration.
type Config struct {
	Dexes    map[string]DexConfig `yaml:"dexes"`
	Feed     FeedConfig           `yaml:"feed"`
	Ring     RingConfig           `yaml:"ring"`
	Sender   SenderConfig         `yaml:"sender"`
	HotMints HotMintsConfig       `yaml:"hot_mints"`
	Storage  StorageConfig        `yaml:"storage"`
	Metrics  MetricsConfig        `yaml:"metrics"`
	Log      LogConfig            `yaml:"log"`
}

// DexConfig controls whether a configured DEX is active and which mints
// of its pools are tracked.
type DexConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Programs      []string `yaml:"programs"`
	MintAllowlist []string `yaml:"mint_allowlist"`
	TakeAllMints  bool     `yaml:"take_all_mints"`
	// SnapshotTimeoutSeconds bounds how long the updater waits to reach
	// Ready before the startup sequence is considered failed. Defaults
	// to 30 minutes, the value observed active in the upstream source.
	SnapshotTimeoutSeconds int `yaml:"snapshot_timeout_seconds"`
	// SlotExcessiveLag and SlotExcessiveLagDurationSeconds bound the
	// fatal slot-lag safeguard.
	SlotExcessiveLag               uint64 `yaml:"slot_excessive_lag"`
	SlotExcessiveLagDurationSeconds int    `yaml:"slot_excessive_lag_duration_seconds"`
}

// FeedConfig controls the dev/test websocket account feed.
type FeedConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// RingConfig controls the ring executor's routing parameters.
type RingConfig struct {
	MaxPathLength int      `yaml:"max_path_length"`
	TradingMints  []string `yaml:"trading_mints"`
	InAmounts     []uint64 `yaml:"in_amounts"`
	MinGainLamports int64  `yaml:"min_gain_lamports"`
}

// SenderConfig controls bundle assembly and relay submission.
type SenderConfig struct {
	Mode                          string   `yaml:"mode"` // serial | parallel
	JitoURLs                      []string `yaml:"jito_urls"`
	TipBps                        float64  `yaml:"tip_bps"`
	MaxTipLamports                uint64   `yaml:"max_tip_lamports"`
	ComputeUnitPriceMicroLamports uint64   `yaml:"compute_unit_price_micro_lamports"`
	RateLimitPerSecond            float64  `yaml:"rate_limit_per_second"`
}

// HotMintsConfig controls the hot-mints LRU cache.
type HotMintsConfig struct {
	AlwaysHot       []string `yaml:"always_hot"`
	KeepLatestCount int      `yaml:"keep_latest_count"`
}

// StorageConfig controls where audit-log data is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to a SQLite file, or ":memory:"
}

// MetricsConfig controls the metrics/health HTTP server.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controls logging level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads path as YAML, applies any .env file present in the working
// directory, then environment variable overrides, then fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// SnapshotTimeout returns d's configured startup timeout, defaulting to
// 30 minutes.
func (d DexConfig) SnapshotTimeout() time.Duration {
	if d.SnapshotTimeoutSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(d.SnapshotTimeoutSeconds) * time.Second
}

// SlotLagDuration returns d's configured sustained-lag fatal threshold,
// defaulting to 60 seconds.
func (d DexConfig) SlotLagDuration() time.Duration {
	if d.SlotExcessiveLagDurationSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(d.SlotExcessiveLagDurationSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("METRICS_LISTEN_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Ring.MaxPathLength <= 0 {
		cfg.Ring.MaxPathLength = 3
	}
	if len(cfg.Ring.InAmounts) == 0 {
		cfg.Ring.InAmounts = []uint64{1_000_000, 500_000, 100_000, 10_000}
	}
	if cfg.Sender.Mode == "" {
		cfg.Sender.Mode = "serial"
	}
	if cfg.HotMints.KeepLatestCount <= 0 {
		cfg.HotMints.KeepLatestCount = 100
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "ringrouter.db"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Feed.ListenAddr == "" {
		cfg.Feed.ListenAddr = ":8765"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	for name, dex := range cfg.Dexes {
		if dex.SnapshotTimeoutSeconds <= 0 {
			dex.SnapshotTimeoutSeconds = 30 * 60
		}
		if dex.SlotExcessiveLag == 0 {
			dex.SlotExcessiveLag = 300
		}
		if dex.SlotExcessiveLagDurationSeconds <= 0 {
			dex.SlotExcessiveLagDurationSeconds = 60
		}
		cfg.Dexes[name] = dex
	}
}
