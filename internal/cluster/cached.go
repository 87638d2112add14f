package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// CachedProvider wraps a ClusterProvider with a shared cache and an
// in-process last-known copy. Fetch order on every call:
//
//  1. hit the upstream provider; on success write through to the cache
//  2. on failure fall back to the cache
//  3. on cache miss fall back to the in-process copy
//
// When nothing is cached anywhere the call fails with ErrStaleClusterData
// and the engine keeps whatever clusters the position already carries.
type CachedProvider struct {
	upstream domain.ClusterProvider
	cache    domain.ClusterCache
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	lastKnown map[string]domain.ClusterSet
}

// NewCachedProvider wraps upstream. cache may be nil; the in-process copy
// then becomes the only fallback.
func NewCachedProvider(upstream domain.ClusterProvider, cache domain.ClusterCache, timeout time.Duration, logger *slog.Logger) *CachedProvider {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{
		upstream:  upstream,
		cache:     cache,
		timeout:   timeout,
		logger:    logger.With("component", "cluster_provider"),
		lastKnown: make(map[string]domain.ClusterSet),
	}
}

func (p *CachedProvider) GetLiquidationClusters(ctx context.Context, symbol string, referencePrice decimal.Decimal) (domain.ClusterSet, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	set, err := p.upstream.GetLiquidationClusters(fetchCtx, symbol, referencePrice)
	if err == nil {
		p.remember(ctx, set)
		return set, nil
	}

	p.logger.WarnContext(ctx, "cluster fetch failed, using cached data",
		"symbol", symbol,
		"error", err)

	if p.cache != nil {
		cached, cacheErr := p.cache.Get(ctx, symbol)
		if cacheErr == nil {
			return cached, nil
		}
		if !errors.Is(cacheErr, domain.ErrNotFound) {
			p.logger.WarnContext(ctx, "cluster cache read failed",
				"symbol", symbol,
				"error", cacheErr)
		}
	}

	p.mu.RLock()
	local, ok := p.lastKnown[symbol]
	p.mu.RUnlock()
	if ok {
		return local, nil
	}

	return domain.ClusterSet{}, fmt.Errorf("cluster: %s: %w", symbol, domain.ErrStaleClusterData)
}

func (p *CachedProvider) remember(ctx context.Context, set domain.ClusterSet) {
	p.mu.Lock()
	p.lastKnown[set.Symbol] = set
	p.mu.Unlock()

	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, set); err != nil {
		p.logger.WarnContext(ctx, "cluster cache write failed",
			"symbol", set.Symbol,
			"error", err)
	}
}

var _ domain.ClusterProvider = (*CachedProvider)(nil)
