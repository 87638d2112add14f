package cluster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

type fakeUpstream struct {
	mu    sync.Mutex
	set   domain.ClusterSet
	err   error
	calls int
}

func (f *fakeUpstream) GetLiquidationClusters(ctx context.Context, symbol string, ref decimal.Decimal) (domain.ClusterSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.ClusterSet{}, f.err
	}
	return f.set, nil
}

func (f *fakeUpstream) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeCache struct {
	mu   sync.Mutex
	sets map[string]domain.ClusterSet
	err  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{sets: make(map[string]domain.ClusterSet)}
}

func (c *fakeCache) Set(ctx context.Context, set domain.ClusterSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sets[set.Symbol] = set
	return nil
}

func (c *fakeCache) Get(ctx context.Context, symbol string) (domain.ClusterSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.ClusterSet{}, c.err
	}
	set, ok := c.sets[symbol]
	if !ok {
		return domain.ClusterSet{}, domain.ErrNotFound
	}
	return set, nil
}

func testSet(t *testing.T, symbol string) domain.ClusterSet {
	t.Helper()
	return domain.ClusterSet{
		Symbol: symbol,
		Below: []domain.LiquidationCluster{
			{Price: decimal.RequireFromString("49100"), Side: domain.ClusterBelow},
			{Price: decimal.RequireFromString("48500"), Side: domain.ClusterBelow},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedProviderWritesThrough(t *testing.T) {
	upstream := &fakeUpstream{set: testSet(t, "BTCUSDT")}
	cache := newFakeCache()
	p := NewCachedProvider(upstream, cache, 0, testLogger())

	got, err := p.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatalf("GetLiquidationClusters: %v", err)
	}
	if len(got.Below) != 2 {
		t.Fatalf("below clusters = %d, want 2", len(got.Below))
	}

	cached, err := cache.Get(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("cache not written through: %v", err)
	}
	if len(cached.Below) != 2 {
		t.Errorf("cached below clusters = %d, want 2", len(cached.Below))
	}
}

func TestCachedProviderFallsBackToCache(t *testing.T) {
	upstream := &fakeUpstream{set: testSet(t, "BTCUSDT")}
	cache := newFakeCache()
	p := NewCachedProvider(upstream, cache, 0, testLogger())

	if _, err := p.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000")); err != nil {
		t.Fatalf("warm-up fetch: %v", err)
	}

	upstream.fail(errors.New("connection refused"))

	got, err := p.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatalf("fallback fetch: %v", err)
	}
	if len(got.Below) != 2 {
		t.Errorf("below clusters = %d, want 2 from cache", len(got.Below))
	}
}

func TestCachedProviderFallsBackToLastKnown(t *testing.T) {
	upstream := &fakeUpstream{set: testSet(t, "BTCUSDT")}
	cache := newFakeCache()
	p := NewCachedProvider(upstream, cache, 0, testLogger())

	if _, err := p.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000")); err != nil {
		t.Fatalf("warm-up fetch: %v", err)
	}

	// Both the upstream and the cache go dark; the in-process copy serves.
	upstream.fail(errors.New("connection refused"))
	cache.err = errors.New("cache down")

	got, err := p.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatalf("last-known fetch: %v", err)
	}
	if len(got.Below) != 2 {
		t.Errorf("below clusters = %d, want 2 from last-known copy", len(got.Below))
	}
}

func TestCachedProviderStaleWhenNothingCached(t *testing.T) {
	upstream := &fakeUpstream{}
	upstream.fail(errors.New("connection refused"))
	p := NewCachedProvider(upstream, newFakeCache(), 0, testLogger())

	_, err := p.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000"))
	if !errors.Is(err, domain.ErrStaleClusterData) {
		t.Fatalf("err = %v, want ErrStaleClusterData", err)
	}
}

func TestCachedProviderNilCache(t *testing.T) {
	upstream := &fakeUpstream{set: testSet(t, "BTCUSDT")}
	p := NewCachedProvider(upstream, nil, 0, testLogger())

	if _, err := p.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000")); err != nil {
		t.Fatalf("fetch with nil cache: %v", err)
	}

	upstream.fail(errors.New("connection refused"))

	got, err := p.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatalf("fallback with nil cache: %v", err)
	}
	if got.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", got.Symbol)
	}
}
