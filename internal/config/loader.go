package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt(&cfg.Engine.MaxPositionsPerVault, "VAULTBOT_ENGINE_MAX_POSITIONS_PER_VAULT")

	// ── Clusters ──
	setStr(&cfg.Clusters.BaseURL, "VAULTBOT_CLUSTERS_BASE_URL")
	setStr(&cfg.Clusters.APIKey, "VAULTBOT_CLUSTERS_API_KEY")
	setDuration(&cfg.Clusters.FetchTimeout, "VAULTBOT_CLUSTERS_FETCH_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VAULTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VAULTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAULTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAULTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAULTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAULTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAULTBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VAULTBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VAULTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULTBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAULTBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VAULTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VAULTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VAULTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAULTBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAULTBOT_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "VAULTBOT_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "VAULTBOT_FEED_SYMBOLS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAULTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULTBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTBOT_MODE")
	setStr(&cfg.LogLevel, "VAULTBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
