package feed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mkoval/vaultbot/internal/domain"
	"github.com/mkoval/vaultbot/internal/engine"
)

// Driver fans incoming ticks out to every open position on the tick's symbol.
// It is the glue between a PriceSource and the engine: one HandleTick call
// per observation, one UpdatePosition call per matching position.
type Driver struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewDriver creates a Driver for the given engine.
func NewDriver(eng *engine.Engine, logger *slog.Logger) *Driver {
	return &Driver{
		engine: eng,
		logger: logger.With(slog.String("component", "feed_driver")),
	}
}

// HandleTick runs one update tick for every open position on tick.Symbol.
// A position closed by a concurrent tick is skipped silently; any other
// update failure is logged and does not stop the remaining positions.
func (d *Driver) HandleTick(ctx context.Context, tick Tick) {
	if tick.Price.Sign() <= 0 {
		return
	}

	for _, id := range d.engine.OpenPositionIDs(tick.Symbol) {
		res, err := d.engine.UpdatePosition(ctx, id, tick.Price)
		if err != nil {
			if errors.Is(err, domain.ErrPositionNotFound) {
				continue
			}
			d.logger.WarnContext(ctx, "position update failed",
				slog.String("position_id", id),
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()))
			continue
		}

		if len(res.Actions) > 0 {
			d.logger.InfoContext(ctx, "position updated",
				slog.String("position_id", id),
				slog.String("symbol", tick.Symbol),
				slog.String("price", tick.Price.String()),
				slog.Any("actions", res.Actions),
				slog.String("stage", string(res.Stage)),
				slog.String("status", string(res.Status)))
		}
	}
}
