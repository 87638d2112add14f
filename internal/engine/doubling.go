package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// tryDouble advances the position one rung down the leverage ladder when a
// doubling trigger fires. Two independent triggers are checked, whichever
// occurs first wins:
//
//   - margin loss: unrealized loss has eaten at least 80% of the margin
//     invested;
//   - cluster: the price sits within 0.2% of one of the two nearest below
//     clusters AND the current liquidation price has not already passed both
//     clusters (doubling into a position that is effectively lost is
//     rejected).
//
// With a valid trigger but insufficient available balance the step fails
// silently: nothing mutates and the skip is logged.
func (e *Engine) tryDouble(ctx context.Context, p *domain.VaultPosition, currentPrice decimal.Decimal) (domain.Stage, bool) {
	next, params, ok := p.Stage.NextDouble()
	if !ok {
		return "", false
	}

	trigger := ""
	switch {
	case e.marginLossTriggered(p, currentPrice):
		trigger = "margin_loss"
	case e.clusterTriggered(p, currentPrice):
		trigger = "cluster"
	default:
		return "", false
	}

	vs, err := e.vault(p.VaultID)
	if err != nil {
		return "", false
	}

	vs.mu.Lock()
	additionalMargin := vs.v.TotalBalance.Mul(params.BalancePct)
	if err := vs.v.Reserve(additionalMargin); err != nil {
		vs.mu.Unlock()
		e.logger.WarnContext(ctx, "doubling skipped, insufficient available balance",
			slog.String("position_id", p.ID),
			slog.String("vault_id", p.VaultID),
			slog.String("stage", string(next)),
			slog.String("needed", additionalMargin.String()),
		)
		return "", false
	}
	vault := vs.v
	vs.mu.Unlock()

	additionalSize := additionalMargin.Mul(decimal.NewFromInt(params.Leverage))

	// Size-weighted average of the old exposure and the new addition.
	oldNotional := p.Size.Mul(p.EntryPrice)
	newNotional := additionalSize.Mul(currentPrice)
	newSize := p.Size.Add(additionalSize)
	p.EntryPrice = oldNotional.Add(newNotional).Div(newSize)

	p.Size = newSize
	p.MarginInvested = p.MarginInvested.Add(additionalMargin)
	p.Stage = next
	p.Leverage = params.Leverage

	// Re-anchor: take-profit is always 175% of cumulative margin, not the
	// original margin.
	retargetTakeProfit(p)
	p.LiquidationPrice = liquidationPrice(p.EntryPrice, p.Size, p.MarginInvested)

	// A doubled position is pre-TP again by construction.
	p.FirstTPTriggered = false

	ev := domain.DoublingEvent{
		Stage:               next,
		Price:               currentPrice,
		MarginAdded:         additionalMargin,
		NewEntryPrice:       p.EntryPrice,
		NewTPPrice:          p.TPPrice,
		NewLiquidationPrice: p.LiquidationPrice,
		Trigger:             trigger,
		At:                  time.Now().UTC(),
	}
	p.DoublingHistory = append(p.DoublingHistory, ev)

	e.refreshClusters(ctx, p, currentPrice)

	e.persistVault(ctx, vault)
	e.persistDoubling(ctx, p.ID, ev)

	e.logger.InfoContext(ctx, "position doubled",
		slog.String("position_id", p.ID),
		slog.String("stage", string(next)),
		slog.String("trigger", trigger),
		slog.String("price", currentPrice.String()),
		slog.String("margin_added", additionalMargin.String()),
		slog.String("new_entry", p.EntryPrice.String()),
		slog.String("new_tp_price", p.TPPrice.String()),
		slog.String("new_liquidation", p.LiquidationPrice.String()),
	)
	e.emit(Event{Type: EventPositionDoubled, Position: p.Summary(), Price: currentPrice})

	return next, true
}

// marginLossTriggered reports whether the adverse price move has consumed at
// least 80% of the invested margin. Loss is linear: |price change pct| x
// notional size. Favorable moves never trigger.
func (e *Engine) marginLossTriggered(p *domain.VaultPosition, currentPrice decimal.Decimal) bool {
	if p.EntryPrice.IsZero() || p.MarginInvested.IsZero() {
		return false
	}
	if currentPrice.GreaterThanOrEqual(p.EntryPrice) {
		return false
	}
	changePct := p.EntryPrice.Sub(currentPrice).Div(p.EntryPrice)
	loss := changePct.Mul(p.Size)
	lossPct := loss.Div(p.MarginInvested)
	return lossPct.GreaterThanOrEqual(marginLossTriggerPct)
}

// clusterTriggered reports whether the price is within 0.2% of one of the two
// nearest below clusters while the liquidation price is still defensible:
// either below both clusters or strictly between them. With fewer than two
// below clusters the trigger is disabled.
func (e *Engine) clusterTriggered(p *domain.VaultPosition, currentPrice decimal.Decimal) bool {
	if len(p.ClustersBelow) < 2 {
		return false
	}

	c1, c2 := p.ClustersBelow[0], p.ClustersBelow[1]
	if _, ok := nearestWithin([]domain.LiquidationCluster{c1, c2}, currentPrice); !ok {
		return false
	}

	lower, upper := c1.Price, c2.Price
	if lower.GreaterThan(upper) {
		lower, upper = upper, lower
	}

	liq := p.LiquidationPrice
	if liq.LessThan(lower) {
		return true
	}
	return liq.GreaterThan(lower) && liq.LessThan(upper)
}
