package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoval/vaultbot/internal/domain"
)

// HistoryStore implements domain.DoublingHistoryStore using PostgreSQL.
// Rows are append-only; a position's stage transitions are never rewritten.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Append records one stage transition for a position.
func (s *HistoryStore) Append(ctx context.Context, positionID string, ev domain.DoublingEvent) error {
	const query = `
		INSERT INTO doubling_events (
			position_id, stage, price, margin_added,
			new_entry_price, new_tp_price, new_liquidation_price,
			trigger_reason, occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := s.pool.Exec(ctx, query,
		positionID, string(ev.Stage), ev.Price.String(), ev.MarginAdded.String(),
		ev.NewEntryPrice.String(), ev.NewTPPrice.String(), ev.NewLiquidationPrice.String(),
		ev.Trigger, ev.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: append doubling event for %s: %w", positionID, err)
	}
	return nil
}

// ListByPosition returns a position's stage transitions in occurrence order.
func (s *HistoryStore) ListByPosition(ctx context.Context, positionID string) ([]domain.DoublingEvent, error) {
	const query = `
		SELECT stage, price::text, margin_added::text,
			new_entry_price::text, new_tp_price::text, new_liquidation_price::text,
			trigger_reason, occurred_at
		FROM doubling_events
		WHERE position_id = $1
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list doubling events for %s: %w", positionID, err)
	}
	defer rows.Close()

	var events []domain.DoublingEvent
	for rows.Next() {
		var ev domain.DoublingEvent
		var stage string
		if err := rows.Scan(
			&stage, &ev.Price, &ev.MarginAdded,
			&ev.NewEntryPrice, &ev.NewTPPrice, &ev.NewLiquidationPrice,
			&ev.Trigger, &ev.At,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan doubling event: %w", err)
		}
		ev.Stage = domain.Stage(stage)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ domain.DoublingHistoryStore = (*HistoryStore)(nil)
