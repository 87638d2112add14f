package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// ForceClose closes a position on caller request, returning all remaining
// reserved margin to the vault. It serializes on the same per-position lock
// as UpdatePosition, so it is safe to call concurrently with a scheduled
// tick.
func (e *Engine) ForceClose(ctx context.Context, positionID string, price decimal.Decimal, reason string) error {
	ps, err := e.position(positionID)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.p.Status == domain.StatusClosed {
		return domain.ErrPositionNotFound
	}
	if reason == "" {
		reason = "force_close"
	}
	e.closeLocked(ctx, ps, price, reason)
	return nil
}

// closeLocked finalizes a position: the remaining margin goes back to the
// vault's available balance, the id leaves the vault's active set, and the
// position leaves the live index. Realized profit or loss is deliberately
// not applied to any balance. Caller holds the position lock.
func (e *Engine) closeLocked(ctx context.Context, ps *positionState, price decimal.Decimal, reason string) {
	p := &ps.p

	returnedMargin := p.MarginInvested
	p.MarginInvested = decimal.Zero
	p.Size = decimal.Zero
	p.Status = domain.StatusClosed

	if vs, err := e.vault(p.VaultID); err == nil {
		vs.mu.Lock()
		vs.v.Release(returnedMargin)
		vs.v.RemovePosition(p.ID)
		vault := vs.v
		vs.mu.Unlock()
		e.persistVault(ctx, vault)
	}

	e.dropPosition(p.ID)

	if e.positionStore != nil {
		if err := e.positionStore.MarkClosed(ctx, p.ID, reason); err != nil {
			e.logger.WarnContext(ctx, "position close persist failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", p.ID),
		slog.String("vault_id", p.VaultID),
		slog.String("reason", reason),
		slog.String("price", price.String()),
		slog.String("margin_returned", returnedMargin.String()),
	)
	e.emit(Event{
		Type:     EventPositionClosed,
		Position: p.Summary(),
		Price:    price,
		Reason:   reason,
		History:  append([]domain.DoublingEvent(nil), p.DoublingHistory...),
	})
}
