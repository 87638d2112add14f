package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/config"
	"github.com/mkoval/vaultbot/internal/domain"
)

// stubVaultStore serves a fixed vault and records reads.
type stubVaultStore struct {
	vault      domain.Vault
	getByIDIDs []string
	listCalls  int
}

func (s *stubVaultStore) Upsert(ctx context.Context, v domain.Vault) error { return nil }

func (s *stubVaultStore) GetByID(ctx context.Context, id string) (domain.Vault, error) {
	s.getByIDIDs = append(s.getByIDIDs, id)
	if id != s.vault.ID {
		return domain.Vault{}, domain.ErrVaultNotFound
	}
	return s.vault, nil
}

func (s *stubVaultStore) List(ctx context.Context) ([]domain.Vault, error) {
	s.listCalls++
	return []domain.Vault{s.vault}, nil
}

// stubPositionStore serves a fixed open position set and records reads.
type stubPositionStore struct {
	open         []domain.VaultPosition
	byVaultIDs   []string
	listOpenSeen bool
}

func (s *stubPositionStore) Upsert(ctx context.Context, p domain.VaultPosition) error { return nil }
func (s *stubPositionStore) MarkClosed(ctx context.Context, id, reason string) error  { return nil }

func (s *stubPositionStore) ListOpen(ctx context.Context) ([]domain.VaultPosition, error) {
	s.listOpenSeen = true
	return s.open, nil
}

func (s *stubPositionStore) ListOpenByVault(ctx context.Context, vaultID string) ([]domain.VaultPosition, error) {
	s.byVaultIDs = append(s.byVaultIDs, vaultID)
	return s.open, nil
}

var (
	_ domain.VaultStore    = (*stubVaultStore)(nil)
	_ domain.PositionStore = (*stubPositionStore)(nil)
)

func TestMonitorModeReadsFromStores(t *testing.T) {
	vs := &stubVaultStore{vault: domain.Vault{
		ID:               "v1",
		Name:             "main",
		TotalBalance:     decimal.RequireFromString("10000"),
		AvailableBalance: decimal.RequireFromString("9800"),
		ReservedBalance:  decimal.RequireFromString("200"),
		MaxPositions:     2,
	}}
	ps := &stubPositionStore{open: []domain.VaultPosition{{
		ID:      "p1",
		VaultID: "v1",
		Symbol:  "BTCUSDT",
		Stage:   domain.StageInitial,
	}}}

	cfg := config.Defaults()
	cfg.Mode = "monitor"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(&cfg, logger)

	// A cancelled context lets exactly one monitoring cycle run.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.MonitorMode(ctx, &Dependencies{VaultStore: vs, PositionStore: ps})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("MonitorMode err = %v, want context.Canceled", err)
	}

	if vs.listCalls != 1 {
		t.Errorf("List calls = %d, want 1", vs.listCalls)
	}
	if len(vs.getByIDIDs) != 1 || vs.getByIDIDs[0] != "v1" {
		t.Errorf("GetByID ids = %v, want [v1]", vs.getByIDIDs)
	}
	if len(ps.byVaultIDs) != 1 || ps.byVaultIDs[0] != "v1" {
		t.Errorf("ListOpenByVault ids = %v, want [v1]", ps.byVaultIDs)
	}
	if ps.listOpenSeen {
		t.Error("monitor mode must not load the full open position set")
	}
}
