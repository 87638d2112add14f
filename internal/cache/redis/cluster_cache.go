// Package redis implements the liquidation-cluster cache on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkoval/vaultbot/internal/domain"
)

// Entries expire so the engine never doubles into levels the discovery
// service stopped reporting minutes ago.
const clusterTTL = 2 * time.Minute

// Config holds the Redis connection parameters for the cluster cache.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// ClusterCache implements domain.ClusterCache using JSON-serialized cluster
// sets. It owns its Redis connection; the cache is the only consumer of
// Redis in this process.
//
// Key schema:
//
//	clusters:{symbol} - string value containing the JSON-encoded ClusterSet
type ClusterCache struct {
	rdb *redis.Client
}

// NewClusterCache connects to Redis and verifies the connection with a ping
// before returning the cache.
func NewClusterCache(ctx context.Context, cfg Config) (*ClusterCache, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &ClusterCache{rdb: rdb}, nil
}

// Close releases the Redis connection.
func (cc *ClusterCache) Close() error {
	return cc.rdb.Close()
}

func clusterKey(symbol string) string { return "clusters:" + symbol }

// Set stores a cluster set with a 2-minute TTL, replacing any previous entry
// for the symbol.
func (cc *ClusterCache) Set(ctx context.Context, set domain.ClusterSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("redis: marshal clusters %s: %w", set.Symbol, err)
	}

	if err := cc.rdb.Set(ctx, clusterKey(set.Symbol), data, clusterTTL).Err(); err != nil {
		return fmt.Errorf("redis: set clusters %s: %w", set.Symbol, err)
	}
	return nil
}

// Get retrieves the last stored cluster set for a symbol.
// It returns domain.ErrNotFound when no entry exists or it has expired.
func (cc *ClusterCache) Get(ctx context.Context, symbol string) (domain.ClusterSet, error) {
	data, err := cc.rdb.Get(ctx, clusterKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ClusterSet{}, domain.ErrNotFound
		}
		return domain.ClusterSet{}, fmt.Errorf("redis: get clusters %s: %w", symbol, err)
	}

	var set domain.ClusterSet
	if err := json.Unmarshal(data, &set); err != nil {
		return domain.ClusterSet{}, fmt.Errorf("redis: unmarshal clusters %s: %w", symbol, err)
	}
	return set, nil
}

// Compile-time interface check.
var _ domain.ClusterCache = (*ClusterCache)(nil)
