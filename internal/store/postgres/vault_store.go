package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoval/vaultbot/internal/domain"
)

// VaultStore implements domain.VaultStore using PostgreSQL.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore creates a new VaultStore backed by the given connection pool.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

// Balances are stored as NUMERIC and selected as text so they scan losslessly
// into decimal values.
const vaultSelectCols = `id, name, total_balance::text, available_balance::text,
	reserved_balance::text, active_positions, max_positions, created_at`

func scanVaultRow(row pgx.Row) (domain.Vault, error) {
	var v domain.Vault
	err := row.Scan(
		&v.ID, &v.Name,
		&v.TotalBalance, &v.AvailableBalance, &v.ReservedBalance,
		&v.ActivePositions, &v.MaxPositions, &v.CreatedAt,
	)
	if err != nil {
		return domain.Vault{}, err
	}
	return v, nil
}

// Upsert inserts a vault or replaces its balance snapshot.
func (s *VaultStore) Upsert(ctx context.Context, v domain.Vault) error {
	const query = `
		INSERT INTO vaults (
			id, name, total_balance, available_balance, reserved_balance,
			active_positions, max_positions, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			name              = EXCLUDED.name,
			total_balance     = EXCLUDED.total_balance,
			available_balance = EXCLUDED.available_balance,
			reserved_balance  = EXCLUDED.reserved_balance,
			active_positions  = EXCLUDED.active_positions,
			max_positions     = EXCLUDED.max_positions,
			updated_at        = NOW()`

	active := v.ActivePositions
	if active == nil {
		active = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		v.ID, v.Name,
		v.TotalBalance.String(), v.AvailableBalance.String(), v.ReservedBalance.String(),
		active, v.MaxPositions, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert vault %s: %w", v.ID, err)
	}
	return nil
}

// GetByID retrieves a vault by its ID.
// It returns domain.ErrVaultNotFound when no row exists.
func (s *VaultStore) GetByID(ctx context.Context, id string) (domain.Vault, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+vaultSelectCols+" FROM vaults WHERE id = $1", id)

	v, err := scanVaultRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vault{}, domain.ErrVaultNotFound
		}
		return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", id, err)
	}
	return v, nil
}

// List returns all vaults ordered by creation time.
func (s *VaultStore) List(ctx context.Context) ([]domain.Vault, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+vaultSelectCols+" FROM vaults ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("postgres: list vaults: %w", err)
	}
	defer rows.Close()

	var vaults []domain.Vault
	for rows.Next() {
		v, err := scanVaultRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vault: %w", err)
		}
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

// Compile-time interface check.
var _ domain.VaultStore = (*VaultStore)(nil)
