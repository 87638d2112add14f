// Package engine implements the position lifecycle engine: vault admission
// control, position opening, and the per-tick state machine that drives the
// doubling ladder, take-profit, trailing stop, and margin rescue.
//
// The engine is the sole writer of vault and position state. Ticks for one
// position are serialized by a per-position lock, and every balance mutation
// of a vault happens under that vault's lock, so two positions in the same
// vault can never both pass the funds check when only one has room.
// Operations on different vaults run in parallel.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

var (
	one = decimal.NewFromInt(1)

	// tpFactor anchors the take-profit target at 175% of cumulative margin.
	tpFactor = decimal.RequireFromString("1.75")

	// liqBuffer places the liquidation price at 95% of a full leverage move.
	liqBuffer = decimal.RequireFromString("0.95")

	trailingStopPct = decimal.RequireFromString("0.02")

	// rescueProximityPct triggers a margin rescue when the price is within
	// 1% of the liquidation price.
	rescueProximityPct = decimal.RequireFromString("0.01")
	rescueMarginPct    = decimal.RequireFromString("0.15")

	// clusterProximityPct is the 0.2% band around a cluster level used by
	// both the doubling trigger and the post-TP upper-cluster exit.
	clusterProximityPct = decimal.RequireFromString("0.002")

	// marginLossTriggerPct fires a doubling step once the unrealized loss
	// reaches 80% of the margin invested.
	marginLossTriggerPct = decimal.RequireFromString("0.8")

	// tpClosePct is the share of the position closed at first take-profit.
	tpClosePct = decimal.RequireFromString("0.5")
)

// DefaultMaxPositions is the per-vault admission cap applied at creation.
const DefaultMaxPositions = 2

// Config holds the engine's operational knobs. The trading parameters of the
// ladder itself are fixed constants, not configuration.
type Config struct {
	// MaxPositions is the admission cap applied to newly created vaults.
	MaxPositions int

	// ClusterTimeout bounds a single liquidation-cluster refresh. The tick
	// never stalls on the provider: on timeout the last-known clusters are
	// kept.
	ClusterTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPositions <= 0 {
		c.MaxPositions = DefaultMaxPositions
	}
	if c.ClusterTimeout <= 0 {
		c.ClusterTimeout = 2 * time.Second
	}
	return c
}

// vaultState pairs a vault with the lock serializing its balance mutations.
type vaultState struct {
	mu sync.Mutex
	v  domain.Vault
}

// positionState pairs a position with the lock serializing its ticks.
type positionState struct {
	mu sync.Mutex
	p  domain.VaultPosition
}

// Engine owns the live vault and position registries and encodes the
// doubling / take-profit / trailing-stop / margin-rescue algorithm.
type Engine struct {
	cfg      Config
	clusters domain.ClusterProvider
	logger   *slog.Logger

	// Optional write-through persistence. Failed writes are logged and never
	// fail the operation that produced them.
	vaultStore    domain.VaultStore
	positionStore domain.PositionStore
	historyStore  domain.DoublingHistoryStore

	onEvent func(Event)

	mu        sync.RWMutex
	vaults    map[string]*vaultState
	positions map[string]*positionState
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithStores attaches write-through persistence for vaults, positions, and
// the doubling history. Any of the three may be nil.
func WithStores(vs domain.VaultStore, ps domain.PositionStore, hs domain.DoublingHistoryStore) Option {
	return func(e *Engine) {
		e.vaultStore = vs
		e.positionStore = ps
		e.historyStore = hs
	}
}

// WithEventHandler registers a callback invoked synchronously after every
// observable lifecycle event. The callback must not call back into the
// engine for the same position.
func WithEventHandler(fn func(Event)) Option {
	return func(e *Engine) { e.onEvent = fn }
}

// New creates an Engine using the given cluster provider.
func New(cfg Config, clusters domain.ClusterProvider, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		clusters:  clusters,
		logger:    logger.With(slog.String("component", "engine")),
		vaults:    make(map[string]*vaultState),
		positions: make(map[string]*positionState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateVault allocates a fresh vault holding the initial balance. The full
// balance starts available; nothing is reserved. maxPositions caps how many
// positions the vault may hold open at once; zero or negative falls back to
// the engine-wide default.
func (e *Engine) CreateVault(ctx context.Context, name string, initialBalance decimal.Decimal, maxPositions int) (string, error) {
	if !initialBalance.IsPositive() {
		return "", domain.ErrInvalidBalance
	}
	if maxPositions <= 0 {
		maxPositions = e.cfg.MaxPositions
	}

	v := domain.Vault{
		ID:               uuid.NewString(),
		Name:             name,
		TotalBalance:     initialBalance,
		AvailableBalance: initialBalance,
		ReservedBalance:  decimal.Zero,
		MaxPositions:     maxPositions,
		CreatedAt:        time.Now().UTC(),
	}

	e.mu.Lock()
	e.vaults[v.ID] = &vaultState{v: v}
	e.mu.Unlock()

	e.persistVault(ctx, v)

	e.logger.InfoContext(ctx, "vault created",
		slog.String("vault_id", v.ID),
		slog.String("name", name),
		slog.String("balance", initialBalance.String()),
		slog.Int("max_positions", maxPositions),
	)
	return v.ID, nil
}

// VaultStatus returns the balances and open-position summaries of a vault.
func (e *Engine) VaultStatus(vaultID string) (domain.VaultStatus, error) {
	vs, err := e.vault(vaultID)
	if err != nil {
		return domain.VaultStatus{}, err
	}

	vs.mu.Lock()
	status := domain.VaultStatus{
		ID:               vs.v.ID,
		Name:             vs.v.Name,
		TotalBalance:     vs.v.TotalBalance,
		AvailableBalance: vs.v.AvailableBalance,
		ReservedBalance:  vs.v.ReservedBalance,
		MaxPositions:     vs.v.MaxPositions,
	}
	active := append([]string(nil), vs.v.ActivePositions...)
	vs.mu.Unlock()

	for _, id := range active {
		ps, err := e.position(id)
		if err != nil {
			continue
		}
		ps.mu.Lock()
		status.ActivePositions = append(status.ActivePositions, ps.p.Summary())
		ps.mu.Unlock()
	}
	return status, nil
}

// VaultPositions returns summaries for every open position in a vault.
func (e *Engine) VaultPositions(vaultID string) ([]domain.PositionSummary, error) {
	status, err := e.VaultStatus(vaultID)
	if err != nil {
		return nil, err
	}
	return status.ActivePositions, nil
}

// snapshotPositions copies the live position registry. Position locks are
// taken only after the registry lock is released, keeping the lock order
// position-then-registry used by the close path.
func (e *Engine) snapshotPositions() map[string]*positionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := make(map[string]*positionState, len(e.positions))
	for id, ps := range e.positions {
		snap[id] = ps
	}
	return snap
}

// OpenPositionIDs returns the ids of all live positions for the symbol, in a
// stable order. Used by the price-feed driver to fan a tick out.
func (e *Engine) OpenPositionIDs(symbol string) []string {
	var ids []string
	for id, ps := range e.snapshotPositions() {
		ps.mu.Lock()
		match := ps.p.Symbol == symbol && ps.p.Status != domain.StatusClosed
		ps.mu.Unlock()
		if match {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Symbols returns the distinct symbols with at least one live position.
func (e *Engine) Symbols() []string {
	seen := make(map[string]struct{})
	for _, ps := range e.snapshotPositions() {
		ps.mu.Lock()
		if ps.p.Status != domain.StatusClosed {
			seen[ps.p.Symbol] = struct{}{}
		}
		ps.mu.Unlock()
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Restore seeds the live registries from persisted state. It is used on
// startup to resume open positions, and by tests to construct mid-life
// states. Positions must reference restored vaults.
func (e *Engine) Restore(vaults []domain.Vault, positions []domain.VaultPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range vaults {
		e.vaults[v.ID] = &vaultState{v: v}
	}
	for _, p := range positions {
		e.positions[p.ID] = &positionState{p: p}
	}
}

func (e *Engine) vault(id string) (*vaultState, error) {
	e.mu.RLock()
	vs, ok := e.vaults[id]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrVaultNotFound
	}
	return vs, nil
}

func (e *Engine) position(id string) (*positionState, error) {
	e.mu.RLock()
	ps, ok := e.positions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	return ps, nil
}

func (e *Engine) dropPosition(id string) {
	e.mu.Lock()
	delete(e.positions, id)
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Shared math
// ---------------------------------------------------------------------------

// liquidationPrice computes entry * (1 - 0.95 * margin/size). margin/size is
// the reciprocal of the effective leverage, computed in one division to keep
// the result exact for terminating ratios.
func liquidationPrice(entry, size, margin decimal.Decimal) decimal.Decimal {
	if size.IsZero() {
		return decimal.Zero
	}
	return entry.Mul(one.Sub(liqBuffer.Mul(margin).Div(size)))
}

// retargetTakeProfit re-anchors the take-profit at 175% of cumulative margin
// and derives the price level from the weighted entry and current size.
func retargetTakeProfit(p *domain.VaultPosition) {
	p.TPTarget = p.MarginInvested.Mul(tpFactor)
	if p.Size.IsZero() {
		return
	}
	profitNeeded := p.TPTarget.Sub(p.MarginInvested)
	priceMovePct := profitNeeded.Div(p.Size)
	p.TPPrice = p.EntryPrice.Mul(one.Add(priceMovePct))
}

// withinPct reports whether price is within pct of level, relative to price.
func withinPct(price, level, pct decimal.Decimal) bool {
	if price.IsZero() {
		return false
	}
	return price.Sub(level).Abs().Div(price).LessThan(pct)
}

// ---------------------------------------------------------------------------
// Best-effort persistence
// ---------------------------------------------------------------------------

func (e *Engine) persistVault(ctx context.Context, v domain.Vault) {
	if e.vaultStore == nil {
		return
	}
	if err := e.vaultStore.Upsert(ctx, v); err != nil {
		e.logger.WarnContext(ctx, "vault persist failed",
			slog.String("vault_id", v.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) persistPosition(ctx context.Context, p domain.VaultPosition) {
	if e.positionStore == nil {
		return
	}
	if err := e.positionStore.Upsert(ctx, p); err != nil {
		e.logger.WarnContext(ctx, "position persist failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) persistDoubling(ctx context.Context, positionID string, ev domain.DoublingEvent) {
	if e.historyStore == nil {
		return
	}
	if err := e.historyStore.Append(ctx, positionID, ev); err != nil {
		e.logger.WarnContext(ctx, "doubling history persist failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}
