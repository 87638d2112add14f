package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// OpenPosition opens a 20x position in the vault, drawing 2% of the vault's
// total balance as margin. It rejects when the vault is unknown, already at
// its position cap, or cannot cover the margin; rejections never mutate
// state.
func (e *Engine) OpenPosition(ctx context.Context, vaultID, symbol string, entryPrice decimal.Decimal) (string, error) {
	vs, err := e.vault(vaultID)
	if err != nil {
		return "", err
	}

	params, _ := domain.StageInitial.Params()
	leverage := decimal.NewFromInt(params.Leverage)

	vs.mu.Lock()
	if vs.v.AtCapacity() {
		vs.mu.Unlock()
		return "", domain.ErrVaultAtCapacity
	}

	margin := vs.v.TotalBalance.Mul(params.BalancePct)
	if err := vs.v.Reserve(margin); err != nil {
		vs.mu.Unlock()
		return "", err
	}

	p := domain.VaultPosition{
		ID:              uuid.NewString(),
		VaultID:         vaultID,
		Symbol:          symbol,
		EntryPrice:      entryPrice,
		Size:            margin.Mul(leverage),
		MarginInvested:  margin,
		Leverage:        params.Leverage,
		Stage:           domain.StageInitial,
		TrailingStopPct: trailingStopPct,
		Status:          domain.StatusOpen,
		OpenedAt:        time.Now().UTC(),
	}
	retargetTakeProfit(&p)
	p.LiquidationPrice = liquidationPrice(p.EntryPrice, p.Size, p.MarginInvested)

	vs.v.ActivePositions = append(vs.v.ActivePositions, p.ID)
	vault := vs.v
	vs.mu.Unlock()

	set, err := e.fetchClusters(ctx, symbol, entryPrice)
	if err != nil {
		e.logger.WarnContext(ctx, "initial cluster fetch failed, cluster trigger disabled until refresh",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	} else {
		p.ClustersAbove = set.Above
		p.ClustersBelow = set.Below
	}

	e.mu.Lock()
	e.positions[p.ID] = &positionState{p: p}
	e.mu.Unlock()

	e.persistVault(ctx, vault)
	e.persistPosition(ctx, p)

	e.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", p.ID),
		slog.String("vault_id", vaultID),
		slog.String("symbol", symbol),
		slog.String("entry", entryPrice.String()),
		slog.String("margin", margin.String()),
		slog.String("size", p.Size.String()),
		slog.String("tp_price", p.TPPrice.String()),
		slog.String("liquidation", p.LiquidationPrice.String()),
	)
	e.emit(Event{Type: EventPositionOpened, Position: p.Summary(), Price: entryPrice})

	return p.ID, nil
}

// fetchClusters queries the provider under the configured timeout.
func (e *Engine) fetchClusters(ctx context.Context, symbol string, price decimal.Decimal) (domain.ClusterSet, error) {
	if e.clusters == nil {
		return domain.ClusterSet{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ClusterTimeout)
	defer cancel()
	return e.clusters.GetLiquidationClusters(ctx, symbol, price)
}

// refreshClusters updates the position's cluster snapshot after a size or
// margin change. On provider failure the previous snapshot is kept.
func (e *Engine) refreshClusters(ctx context.Context, p *domain.VaultPosition, price decimal.Decimal) {
	if e.clusters == nil {
		return
	}
	set, err := e.fetchClusters(ctx, p.Symbol, price)
	if err != nil {
		e.logger.DebugContext(ctx, "cluster refresh failed, keeping last-known clusters",
			slog.String("position_id", p.ID),
			slog.String("symbol", p.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	p.ClustersAbove = set.Above
	p.ClustersBelow = set.Below
}
