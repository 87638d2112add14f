package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// Action strings reported in TickResult.Actions.
const (
	ActionMarginRescue     = "margin_rescue"
	ActionTrailingRaised   = "trailing_stop_raised"
	ActionFirstTakeProfit  = "first_take_profit"
	ActionUpperCluster     = "upper_cluster_reached"
	ActionTrailingStop     = "trailing_stop_triggered"
	ActionDoubledTo10x     = "doubled_to_10x"
	ActionDoubledTo5x      = "doubled_to_5x"
	ActionDoubledTo2x      = "doubled_to_2x"
)

func doublingAction(stage domain.Stage) string {
	switch stage {
	case domain.StageDoubled10x:
		return ActionDoubledTo10x
	case domain.StageDoubled5x:
		return ActionDoubledTo5x
	case domain.StageDoubled2x:
		return ActionDoubledTo2x
	}
	return "doubled"
}

// UpdatePosition runs one price tick against a position. The sub-steps run in
// a fixed order because later steps assume earlier ones already updated size
// and margin:
//
//  1. margin rescue (any lifecycle phase, one-shot)
//  2. trailing-stop raise on a new high (post-TP only)
//  3. first take-profit: close 50%, arm the trailing stop
//  4. post-TP exits: upper cluster, then trailing stop
//  5. pre-TP doubling ladder
//
// The whole tick executes atomically under the position's lock; a concurrent
// force-close serializes on the same lock.
func (e *Engine) UpdatePosition(ctx context.Context, positionID string, currentPrice decimal.Decimal) (domain.TickResult, error) {
	ps, err := e.position(positionID)
	if err != nil {
		return domain.TickResult{}, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	p := &ps.p
	if p.Status == domain.StatusClosed {
		return domain.TickResult{}, domain.ErrPositionNotFound
	}

	res := domain.TickResult{PositionID: p.ID}
	mutated := false

	// Step 1: margin rescue.
	if e.tryMarginRescue(ctx, p, currentPrice) {
		res.Actions = append(res.Actions, ActionMarginRescue)
		mutated = true
	}

	// Step 2: trailing-stop raise on a new high.
	if p.FirstTPTriggered && currentPrice.GreaterThan(p.MaxPriceReached) {
		p.MaxPriceReached = currentPrice
		stop := currentPrice.Mul(one.Sub(p.TrailingStopPct))
		if stop.GreaterThan(p.TrailingStopPrice) {
			p.TrailingStopPrice = stop
			res.Actions = append(res.Actions, ActionTrailingRaised)
			mutated = true
		}
	}

	// Step 3: first take-profit.
	if !p.FirstTPTriggered && currentPrice.GreaterThanOrEqual(p.TPPrice) {
		e.applyFirstTakeProfit(ctx, ps, currentPrice)
		res.Actions = append(res.Actions, ActionFirstTakeProfit)
		mutated = true
	}

	// Step 4: post-TP exits. Either terminates the tick early.
	if p.FirstTPTriggered {
		if cluster, ok := nearestWithin(p.ClustersAbove, currentPrice); ok {
			e.logger.InfoContext(ctx, "upper cluster reached, closing remainder",
				slog.String("position_id", p.ID),
				slog.String("cluster_price", cluster.Price.String()),
				slog.String("price", currentPrice.String()),
			)
			e.closeLocked(ctx, ps, currentPrice, ActionUpperCluster)
			res.Actions = append(res.Actions, ActionUpperCluster)
			return e.finishTick(ctx, p, currentPrice, res, true), nil
		}
		if !p.TrailingStopPrice.IsZero() && currentPrice.LessThanOrEqual(p.TrailingStopPrice) {
			e.closeLocked(ctx, ps, currentPrice, ActionTrailingStop)
			res.Actions = append(res.Actions, ActionTrailingStop)
			return e.finishTick(ctx, p, currentPrice, res, true), nil
		}
	}

	// Step 5: pre-TP doubling.
	if !p.FirstTPTriggered {
		if stage, ok := e.tryDouble(ctx, p, currentPrice); ok {
			res.Actions = append(res.Actions, doublingAction(stage))
			mutated = true
		}
	}

	return e.finishTick(ctx, p, currentPrice, res, mutated), nil
}

func (e *Engine) finishTick(ctx context.Context, p *domain.VaultPosition, price decimal.Decimal, res domain.TickResult, mutated bool) domain.TickResult {
	res.Status = p.Status
	res.Stage = p.Stage
	res.TPPrice = p.TPPrice
	res.PnL = p.UnrealizedPnL(price)
	if mutated && p.Status != domain.StatusClosed {
		e.persistPosition(ctx, *p)
	}
	return res
}

// tryMarginRescue injects 15% of the vault's total balance when the price
// comes within 1% of the liquidation price. One-shot: a position is rescued
// at most once. An unaffordable rescue is skipped with a warning and the tick
// continues, leaving the position at elevated liquidation risk rather than
// skipping the remaining exit checks.
func (e *Engine) tryMarginRescue(ctx context.Context, p *domain.VaultPosition, currentPrice decimal.Decimal) bool {
	if p.MarginAdded || p.LiquidationPrice.IsZero() || currentPrice.IsZero() {
		return false
	}
	if !withinPct(currentPrice, p.LiquidationPrice, rescueProximityPct) {
		return false
	}

	vs, err := e.vault(p.VaultID)
	if err != nil {
		return false
	}

	vs.mu.Lock()
	marginToAdd := vs.v.TotalBalance.Mul(rescueMarginPct)
	if err := vs.v.Reserve(marginToAdd); err != nil {
		vs.mu.Unlock()
		e.logger.WarnContext(ctx, "margin rescue skipped, insufficient available balance",
			slog.String("position_id", p.ID),
			slog.String("vault_id", p.VaultID),
			slog.String("needed", marginToAdd.String()),
		)
		e.emit(Event{Type: EventRescueSkipped, Position: p.Summary(), Price: currentPrice, Reason: domain.ErrInsufficientBalance.Error()})
		return false
	}
	vault := vs.v
	vs.mu.Unlock()

	p.MarginInvested = p.MarginInvested.Add(marginToAdd)
	p.MarginAdded = true
	p.Stage = domain.StageMarginAdded
	retargetTakeProfit(p)
	p.LiquidationPrice = liquidationPrice(p.EntryPrice, p.Size, p.MarginInvested)

	ev := domain.DoublingEvent{
		Stage:               domain.StageMarginAdded,
		Price:               currentPrice,
		MarginAdded:         marginToAdd,
		NewEntryPrice:       p.EntryPrice,
		NewTPPrice:          p.TPPrice,
		NewLiquidationPrice: p.LiquidationPrice,
		Trigger:             "liquidation_proximity",
		At:                  time.Now().UTC(),
	}
	p.DoublingHistory = append(p.DoublingHistory, ev)

	e.refreshClusters(ctx, p, currentPrice)

	e.persistVault(ctx, vault)
	e.persistDoubling(ctx, p.ID, ev)

	e.logger.InfoContext(ctx, "margin rescue applied",
		slog.String("position_id", p.ID),
		slog.String("margin_added", marginToAdd.String()),
		slog.String("new_liquidation", p.LiquidationPrice.String()),
	)
	e.emit(Event{Type: EventMarginRescue, Position: p.Summary(), Price: currentPrice})
	return true
}

// applyFirstTakeProfit closes half the exposure, returns half the reserved
// margin to the vault, and arms the trailing stop at 2% below the current
// price. The take-profit target itself is left anchored; only a subsequent
// doubling or rescue re-anchors it.
func (e *Engine) applyFirstTakeProfit(ctx context.Context, ps *positionState, currentPrice decimal.Decimal) {
	p := &ps.p

	closedSize := p.Size.Mul(tpClosePct)
	returnedMargin := p.MarginInvested.Mul(tpClosePct)

	p.Size = p.Size.Sub(closedSize)
	p.MarginInvested = p.MarginInvested.Sub(returnedMargin)
	p.FirstTPTriggered = true
	p.Status = domain.StatusPartialClosed
	p.MaxPriceReached = currentPrice
	p.TrailingStopPrice = currentPrice.Mul(one.Sub(p.TrailingStopPct))

	if vs, err := e.vault(p.VaultID); err == nil {
		vs.mu.Lock()
		vs.v.Release(returnedMargin)
		vault := vs.v
		vs.mu.Unlock()
		e.persistVault(ctx, vault)
	}

	e.refreshClusters(ctx, p, currentPrice)

	e.logger.InfoContext(ctx, "first take-profit, closed 50%",
		slog.String("position_id", p.ID),
		slog.String("price", currentPrice.String()),
		slog.String("margin_returned", returnedMargin.String()),
		slog.String("trailing_stop", p.TrailingStopPrice.String()),
	)
	e.emit(Event{Type: EventTakeProfit, Position: p.Summary(), Price: currentPrice})
}

// nearestWithin returns the first cluster whose level the price is within
// 0.2% of. Clusters are sorted nearest-first by the provider.
func nearestWithin(clusters []domain.LiquidationCluster, price decimal.Decimal) (domain.LiquidationCluster, bool) {
	for _, c := range clusters {
		if withinPct(price, c.Price, clusterProximityPct) {
			return c, true
		}
	}
	return domain.LiquidationCluster{}, false
}
