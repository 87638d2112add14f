// Package config defines the top-level configuration for the vault bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTBOT_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Clusters ClustersConfig `toml:"clusters"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Feed     FeedConfig     `toml:"feed"`
	Notify   NotifyConfig   `toml:"notify"`
	Vaults   []VaultConfig  `toml:"vaults"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds position lifecycle parameters.
type EngineConfig struct {
	MaxPositionsPerVault int `toml:"max_positions_per_vault"`
}

// ClustersConfig holds the liquidation-cluster discovery service parameters.
type ClustersConfig struct {
	BaseURL      string   `toml:"base_url"`
	APIKey       string   `toml:"api_key"`
	FetchTimeout duration `toml:"fetch_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the closed
// position archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds the mark-price stream parameters.
type FeedConfig struct {
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// VaultConfig describes a vault to create at startup when it does not already
// exist in the database.
type VaultConfig struct {
	Name           string  `toml:"name"`
	InitialBalance float64 `toml:"initial_balance"`

	// MaxPositions caps concurrently open positions for this vault.
	// Zero means use engine.max_positions_per_vault.
	MaxPositions int `toml:"max_positions"`
}

// duration wraps time.Duration so TOML files can use strings like "2s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MaxPositionsPerVault: 2,
		},
		Clusters: ClustersConfig{
			BaseURL:      "http://localhost:8080",
			FetchTimeout: duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "vaultbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultbot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			WsURL:   "wss://fstream.binance.com/stream",
			Symbols: []string{"BTCUSDT"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_doubled", "margin_rescue", "rescue_skipped", "position_closed"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Engine.MaxPositionsPerVault <= 0 {
		errs = append(errs, "engine: max_positions_per_vault must be positive")
	}

	if c.Clusters.BaseURL == "" {
		errs = append(errs, "clusters: base_url is required")
	}
	if c.Clusters.FetchTimeout.Duration <= 0 {
		errs = append(errs, "clusters: fetch_timeout must be positive")
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		errs = append(errs, "postgres: either dsn or host/database/user must be set")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when enabled")
		}
	}

	if c.Mode == "run" {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url is required for mode run")
		}
		if len(c.Feed.Symbols) == 0 {
			errs = append(errs, "feed: at least one symbol is required for mode run")
		}
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	for i, v := range c.Vaults {
		if strings.TrimSpace(v.Name) == "" {
			errs = append(errs, fmt.Sprintf("vaults[%d]: name is required", i))
		}
		if v.InitialBalance <= 0 {
			errs = append(errs, fmt.Sprintf("vaults[%d]: initial_balance must be positive", i))
		}
		if v.MaxPositions < 0 {
			errs = append(errs, fmt.Sprintf("vaults[%d]: max_positions must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
