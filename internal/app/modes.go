package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mkoval/vaultbot/internal/engine"
	"github.com/mkoval/vaultbot/internal/feed"
)

// eventTimeout bounds the delivery of one lifecycle event to the notifier and
// the archive.
const eventTimeout = 15 * time.Second

// buildEngine constructs the engine, restores vaults and open positions from
// the database, and creates any configured vaults that do not exist yet.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	eng := engine.New(
		engine.Config{
			MaxPositions:   a.cfg.Engine.MaxPositionsPerVault,
			ClusterTimeout: a.cfg.Clusters.FetchTimeout.Duration,
		},
		deps.Clusters,
		a.logger,
		engine.WithStores(deps.VaultStore, deps.PositionStore, deps.HistoryStore),
		engine.WithEventHandler(a.eventHandler(deps)),
	)

	vaults, err := deps.VaultStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: list vaults: %w", err)
	}
	positions, err := deps.PositionStore.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: list open positions: %w", err)
	}
	for i := range positions {
		history, err := deps.HistoryStore.ListByPosition(ctx, positions[i].ID)
		if err != nil {
			return nil, fmt.Errorf("app: list doubling history: %w", err)
		}
		positions[i].DoublingHistory = history
	}
	eng.Restore(vaults, positions)
	a.logger.InfoContext(ctx, "state restored",
		slog.Int("vaults", len(vaults)),
		slog.Int("open_positions", len(positions)),
	)

	// Create configured vaults that are not in the database yet.
	existing := make(map[string]bool, len(vaults))
	for _, v := range vaults {
		existing[v.Name] = true
	}
	for _, vc := range a.cfg.Vaults {
		if existing[vc.Name] {
			continue
		}
		id, err := eng.CreateVault(ctx, vc.Name, decimal.NewFromFloat(vc.InitialBalance), vc.MaxPositions)
		if err != nil {
			return nil, fmt.Errorf("app: create vault %q: %w", vc.Name, err)
		}
		a.logger.InfoContext(ctx, "vault created",
			slog.String("vault_id", id),
			slog.String("name", vc.Name),
		)
	}

	return eng, nil
}

// eventHandler returns the engine callback that forwards lifecycle events to
// the notifier and archives closed positions. Delivery runs off the tick
// goroutine so a slow webhook or upload never stalls price processing.
func (a *App) eventHandler(deps *Dependencies) func(engine.Event) {
	return func(ev engine.Event) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			defer cancel()

			title, message := formatEvent(ev)
			if err := deps.Notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
				a.logger.WarnContext(ctx, "event notification failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}

			if ev.Type == engine.EventPositionClosed && deps.Archiver != nil {
				err := deps.Archiver.ArchiveClosedPosition(
					ctx, ev.Position, ev.History, ev.Price, ev.Reason, time.Now().UTC(),
				)
				if err != nil {
					a.logger.WarnContext(ctx, "position archive failed",
						slog.String("position_id", ev.Position.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}()
	}
}

// formatEvent renders a lifecycle event as a notification title and body.
func formatEvent(ev engine.Event) (string, string) {
	p := ev.Position
	switch ev.Type {
	case engine.EventPositionOpened:
		return "Position opened",
			fmt.Sprintf("%s @ %s\nmargin %s, size %s (%dx)\nTP %s, liq %s",
				p.Symbol, ev.Price, p.MarginInvested, p.Size, p.Leverage, p.TPPrice, p.LiquidationPrice)
	case engine.EventPositionDoubled:
		return fmt.Sprintf("Position doubled (%s)", p.Stage),
			fmt.Sprintf("%s @ %s\nentry %s, margin %s, size %s\nTP %s, liq %s",
				p.Symbol, ev.Price, p.EntryPrice, p.MarginInvested, p.Size, p.TPPrice, p.LiquidationPrice)
	case engine.EventMarginRescue:
		return "Margin rescue",
			fmt.Sprintf("%s @ %s\nmargin %s, liq moved to %s\nTP %s",
				p.Symbol, ev.Price, p.MarginInvested, p.LiquidationPrice, p.TPPrice)
	case engine.EventRescueSkipped:
		return "Margin rescue skipped",
			fmt.Sprintf("%s @ %s\nliq %s\nreason: %s",
				p.Symbol, ev.Price, p.LiquidationPrice, ev.Reason)
	case engine.EventTakeProfit:
		return "Take profit",
			fmt.Sprintf("%s @ %s\nhalf closed, remaining size %s\ntrailing stop %s",
				p.Symbol, ev.Price, p.Size, p.TrailingStopPrice)
	case engine.EventPositionClosed:
		return "Position closed",
			fmt.Sprintf("%s @ %s\nreason: %s\nstage %s, %d doubling(s)",
				p.Symbol, ev.Price, ev.Reason, p.Stage, p.Doublings)
	default:
		return string(ev.Type), fmt.Sprintf("%s @ %s", p.Symbol, ev.Price)
	}
}

// RunMode restores state, starts the mark-price feed, and drives position
// updates until the context is cancelled.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	driver := feed.NewDriver(eng, a.logger)
	source := feed.NewBinanceWSSource(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, driver.HandleTick, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer source.Close()
		return source.Run(ctx)
	})

	return g.Wait()
}

// MonitorMode periodically logs a status summary for every vault. It reads
// straight from the database so it can run alongside a live run-mode process,
// and it never processes prices or changes positions.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	vaults, err := deps.VaultStore.List(ctx)
	if err != nil {
		return fmt.Errorf("app: list vaults: %w", err)
	}
	if len(vaults) == 0 {
		a.logger.WarnContext(ctx, "no vaults to monitor")
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		for _, stub := range vaults {
			v, err := deps.VaultStore.GetByID(ctx, stub.ID)
			if err != nil {
				a.logger.WarnContext(ctx, "vault read failed",
					slog.String("vault_id", stub.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			positions, err := deps.PositionStore.ListOpenByVault(ctx, v.ID)
			if err != nil {
				a.logger.WarnContext(ctx, "open position read failed",
					slog.String("vault_id", v.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.InfoContext(ctx, "vault status",
				slog.String("vault_id", v.ID),
				slog.String("name", v.Name),
				slog.String("total", v.TotalBalance.String()),
				slog.String("available", v.AvailableBalance.String()),
				slog.String("reserved", v.ReservedBalance.String()),
				slog.Int("open_positions", len(positions)),
			)
			for _, p := range positions {
				a.logger.InfoContext(ctx, "open position",
					slog.String("position_id", p.ID),
					slog.String("symbol", p.Symbol),
					slog.String("stage", string(p.Stage)),
					slog.String("entry", p.EntryPrice.String()),
					slog.String("margin", p.MarginInvested.String()),
					slog.String("tp", p.TPPrice.String()),
					slog.String("liq", p.LiquidationPrice.String()),
				)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
