package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoval/vaultbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, vault_id, symbol,
	entry_price::text, size::text, margin_invested::text,
	leverage, stage,
	tp_target::text, tp_price::text, liquidation_price::text,
	max_price_reached::text, trailing_stop_price::text, trailing_stop_pct::text,
	first_tp_triggered, margin_added,
	clusters_above, clusters_below,
	status, opened_at`

func scanPositionRow(row pgx.Row) (domain.VaultPosition, error) {
	var p domain.VaultPosition
	var stage, status string
	var above, below []byte

	err := row.Scan(
		&p.ID, &p.VaultID, &p.Symbol,
		&p.EntryPrice, &p.Size, &p.MarginInvested,
		&p.Leverage, &stage,
		&p.TPTarget, &p.TPPrice, &p.LiquidationPrice,
		&p.MaxPriceReached, &p.TrailingStopPrice, &p.TrailingStopPct,
		&p.FirstTPTriggered, &p.MarginAdded,
		&above, &below,
		&status, &p.OpenedAt,
	)
	if err != nil {
		return domain.VaultPosition{}, err
	}

	p.Stage = domain.Stage(stage)
	p.Status = domain.PositionStatus(status)
	if err := json.Unmarshal(above, &p.ClustersAbove); err != nil {
		return domain.VaultPosition{}, fmt.Errorf("unmarshal clusters_above: %w", err)
	}
	if err := json.Unmarshal(below, &p.ClustersBelow); err != nil {
		return domain.VaultPosition{}, fmt.Errorf("unmarshal clusters_below: %w", err)
	}
	return p, nil
}

func marshalClusters(cs []domain.LiquidationCluster) ([]byte, error) {
	if cs == nil {
		cs = []domain.LiquidationCluster{}
	}
	return json.Marshal(cs)
}

// Upsert inserts a position or replaces its mutable state.
// The doubling history lives in its own table and is not written here.
func (s *PositionStore) Upsert(ctx context.Context, p domain.VaultPosition) error {
	above, err := marshalClusters(p.ClustersAbove)
	if err != nil {
		return fmt.Errorf("postgres: marshal clusters_above for %s: %w", p.ID, err)
	}
	below, err := marshalClusters(p.ClustersBelow)
	if err != nil {
		return fmt.Errorf("postgres: marshal clusters_below for %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, vault_id, symbol,
			entry_price, size, margin_invested,
			leverage, stage,
			tp_target, tp_price, liquidation_price,
			max_price_reached, trailing_stop_price, trailing_stop_pct,
			first_tp_triggered, margin_added,
			clusters_above, clusters_below,
			status, opened_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16,
			$17, $18,
			$19, $20, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			entry_price         = EXCLUDED.entry_price,
			size                = EXCLUDED.size,
			margin_invested     = EXCLUDED.margin_invested,
			leverage            = EXCLUDED.leverage,
			stage               = EXCLUDED.stage,
			tp_target           = EXCLUDED.tp_target,
			tp_price            = EXCLUDED.tp_price,
			liquidation_price   = EXCLUDED.liquidation_price,
			max_price_reached   = EXCLUDED.max_price_reached,
			trailing_stop_price = EXCLUDED.trailing_stop_price,
			trailing_stop_pct   = EXCLUDED.trailing_stop_pct,
			first_tp_triggered  = EXCLUDED.first_tp_triggered,
			margin_added        = EXCLUDED.margin_added,
			clusters_above      = EXCLUDED.clusters_above,
			clusters_below      = EXCLUDED.clusters_below,
			status              = EXCLUDED.status,
			updated_at          = NOW()`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.VaultID, p.Symbol,
		p.EntryPrice.String(), p.Size.String(), p.MarginInvested.String(),
		p.Leverage, string(p.Stage),
		p.TPTarget.String(), p.TPPrice.String(), p.LiquidationPrice.String(),
		p.MaxPriceReached.String(), p.TrailingStopPrice.String(), p.TrailingStopPct.String(),
		p.FirstTPTriggered, p.MarginAdded,
		above, below,
		string(p.Status), p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// MarkClosed sets a position's status to CLOSED and records the close reason.
func (s *PositionStore) MarkClosed(ctx context.Context, id, reason string) error {
	const query = `
		UPDATE positions SET
			status       = 'CLOSED',
			close_reason = $2,
			closed_at    = NOW(),
			updated_at   = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPositionNotFound
	}
	return nil
}

// ListOpen returns every position that has not been closed.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.VaultPosition, error) {
	return s.list(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE status IN ('OPEN', 'PARTIAL_CLOSED') ORDER BY opened_at")
}

// ListOpenByVault returns the open positions of one vault.
func (s *PositionStore) ListOpenByVault(ctx context.Context, vaultID string) ([]domain.VaultPosition, error) {
	return s.list(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE vault_id = $1 AND status IN ('OPEN', 'PARTIAL_CLOSED') ORDER BY opened_at",
		vaultID)
}

func (s *PositionStore) list(ctx context.Context, query string, args ...any) ([]domain.VaultPosition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.VaultPosition
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
