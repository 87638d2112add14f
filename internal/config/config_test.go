package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults() should validate: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "unknown mode",
			mutate: func(c *Config) { c.Mode = "replay" },
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.LogLevel = "verbose" },
		},
		{
			name:   "non-positive position cap",
			mutate: func(c *Config) { c.Engine.MaxPositionsPerVault = 0 },
		},
		{
			name:   "missing cluster base url",
			mutate: func(c *Config) { c.Clusters.BaseURL = "" },
		},
		{
			name: "missing postgres connection",
			mutate: func(c *Config) {
				c.Postgres.DSN = ""
				c.Postgres.Host = ""
			},
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *Config) {
				c.S3.Enabled = true
				c.S3.Bucket = ""
			},
		},
		{
			name:   "run mode without symbols",
			mutate: func(c *Config) { c.Feed.Symbols = nil },
		},
		{
			name: "telegram token without chat id",
			mutate: func(c *Config) {
				c.Notify.TelegramToken = "123:abc"
				c.Notify.TelegramChatID = ""
			},
		},
		{
			name: "vault without name",
			mutate: func(c *Config) {
				c.Vaults = []VaultConfig{{Name: "  ", InitialBalance: 1000}}
			},
		},
		{
			name: "vault with zero balance",
			mutate: func(c *Config) {
				c.Vaults = []VaultConfig{{Name: "main", InitialBalance: 0}}
			},
		},
		{
			name: "vault with negative position cap",
			mutate: func(c *Config) {
				c.Vaults = []VaultConfig{{Name: "main", InitialBalance: 1000, MaxPositions: -1}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "monitor"

[clusters]
base_url = "http://clusters.internal:8080"
fetch_timeout = "5s"

[[vaults]]
name = "main"
initial_balance = 10000.0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("VAULTBOT_MODE", "run")
	t.Setenv("VAULTBOT_CLUSTERS_API_KEY", "secret")
	t.Setenv("VAULTBOT_FEED_SYMBOLS", "BTCUSDT, ETHUSDT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Env beats file, file beats defaults.
	if cfg.Mode != "run" {
		t.Errorf("mode = %q, want run", cfg.Mode)
	}
	if cfg.Clusters.BaseURL != "http://clusters.internal:8080" {
		t.Errorf("base_url = %q, want file value", cfg.Clusters.BaseURL)
	}
	if cfg.Clusters.APIKey != "secret" {
		t.Errorf("api_key = %q, want env value", cfg.Clusters.APIKey)
	}
	if cfg.Clusters.FetchTimeout.Duration != 5*time.Second {
		t.Errorf("fetch_timeout = %s, want 5s", cfg.Clusters.FetchTimeout.Duration)
	}
	if len(cfg.Feed.Symbols) != 2 || cfg.Feed.Symbols[1] != "ETHUSDT" {
		t.Errorf("symbols = %v, want [BTCUSDT ETHUSDT]", cfg.Feed.Symbols)
	}

	// Untouched sections keep their defaults.
	if cfg.Postgres.Host != "localhost" {
		t.Errorf("postgres host = %q, want default localhost", cfg.Postgres.Host)
	}
	if len(cfg.Vaults) != 1 || cfg.Vaults[0].Name != "main" {
		t.Errorf("vaults = %+v, want one vault named main", cfg.Vaults)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}
