package domain

import "context"

// VaultStore persists vault balance snapshots.
type VaultStore interface {
	Upsert(ctx context.Context, v Vault) error
	GetByID(ctx context.Context, id string) (Vault, error)
	List(ctx context.Context) ([]Vault, error)
}

// PositionStore persists position snapshots.
type PositionStore interface {
	Upsert(ctx context.Context, p VaultPosition) error
	MarkClosed(ctx context.Context, id, reason string) error
	ListOpen(ctx context.Context) ([]VaultPosition, error)
	ListOpenByVault(ctx context.Context, vaultID string) ([]VaultPosition, error)
}

// DoublingHistoryStore persists the append-only stage-transition log.
type DoublingHistoryStore interface {
	Append(ctx context.Context, positionID string, ev DoublingEvent) error
	ListByPosition(ctx context.Context, positionID string) ([]DoublingEvent, error)
}
