package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/mkoval/vaultbot/internal/blob/s3"
	"github.com/mkoval/vaultbot/internal/cache/redis"
	"github.com/mkoval/vaultbot/internal/cluster"
	"github.com/mkoval/vaultbot/internal/config"
	"github.com/mkoval/vaultbot/internal/domain"
	"github.com/mkoval/vaultbot/internal/notify"
	"github.com/mkoval/vaultbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	VaultStore    domain.VaultStore
	PositionStore domain.PositionStore
	HistoryStore  domain.DoublingHistoryStore

	// Liquidation clusters
	Clusters domain.ClusterProvider

	// Closed position archive; nil when S3 is disabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.Connect(ctx, postgres.Config{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.VaultStore = postgres.NewVaultStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.HistoryStore = postgres.NewHistoryStore(pool)

	// --- Redis (optional cluster cache) ---
	var clusterCache domain.ClusterCache
	if cfg.Redis.Enabled {
		cache, err := redis.NewClusterCache(ctx, redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = cache.Close() })
		clusterCache = cache
	}

	// --- Liquidation clusters ---
	upstream := cluster.NewClient(cfg.Clusters.BaseURL, cfg.Clusters.APIKey)
	deps.Clusters = cluster.NewCachedProvider(upstream, clusterCache, cfg.Clusters.FetchTimeout.Duration, logger)

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
