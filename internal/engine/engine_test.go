package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// stubClusters is a ClusterProvider returning a fixed set, optionally failing.
type stubClusters struct {
	mu    sync.Mutex
	set   domain.ClusterSet
	err   error
	calls int
}

func (s *stubClusters) GetLiquidationClusters(ctx context.Context, symbol string, ref decimal.Decimal) (domain.ClusterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.ClusterSet{}, s.err
	}
	set := s.set
	set.Symbol = symbol
	return set, nil
}

func (s *stubClusters) setClusters(set domain.ClusterSet) {
	s.mu.Lock()
	s.set = set
	s.err = nil
	s.mu.Unlock()
}

func newTestEngine(t *testing.T, clusters domain.ClusterProvider, opts ...Option) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{}, clusters, logger, opts...)
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

func mustCreateVault(t *testing.T, e *Engine, balance string) string {
	t.Helper()
	id, err := e.CreateVault(context.Background(), "test", dec(t, balance), 0)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	return id
}

func checkBalances(t *testing.T, e *Engine, vaultID, total, available, reserved string) {
	t.Helper()
	status, err := e.VaultStatus(vaultID)
	if err != nil {
		t.Fatalf("VaultStatus: %v", err)
	}
	if !status.TotalBalance.Equal(dec(t, total)) {
		t.Errorf("total = %s, want %s", status.TotalBalance, total)
	}
	if !status.AvailableBalance.Equal(dec(t, available)) {
		t.Errorf("available = %s, want %s", status.AvailableBalance, available)
	}
	if !status.ReservedBalance.Equal(dec(t, reserved)) {
		t.Errorf("reserved = %s, want %s", status.ReservedBalance, reserved)
	}
	if !status.AvailableBalance.Add(status.ReservedBalance).Equal(status.TotalBalance) {
		t.Errorf("balance invariant broken: %s + %s != %s",
			status.AvailableBalance, status.ReservedBalance, status.TotalBalance)
	}
}

func TestCreateVaultRejectsNonPositiveBalance(t *testing.T) {
	e := newTestEngine(t, &stubClusters{})

	for _, balance := range []string{"0", "-100"} {
		if _, err := e.CreateVault(context.Background(), "bad", dec(t, balance), 0); !errors.Is(err, domain.ErrInvalidBalance) {
			t.Errorf("CreateVault(%s) err = %v, want ErrInvalidBalance", balance, err)
		}
	}
}

func TestOpenPosition(t *testing.T) {
	e := newTestEngine(t, &stubClusters{})
	vaultID := mustCreateVault(t, e, "10000")

	id, err := e.OpenPosition(context.Background(), vaultID, "BTCUSDT", dec(t, "50000"))
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	positions, err := e.VaultPositions(vaultID)
	if err != nil {
		t.Fatalf("VaultPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	p := positions[0]

	if p.ID != id {
		t.Errorf("id mismatch: %s vs %s", p.ID, id)
	}
	if p.Stage != domain.StageInitial {
		t.Errorf("stage = %s, want %s", p.Stage, domain.StageInitial)
	}
	if p.Leverage != 20 {
		t.Errorf("leverage = %d, want 20", p.Leverage)
	}
	if !p.MarginInvested.Equal(dec(t, "200")) {
		t.Errorf("margin = %s, want 200", p.MarginInvested)
	}
	if !p.Size.Equal(dec(t, "4000")) {
		t.Errorf("size = %s, want 4000", p.Size)
	}
	if !p.TPTarget.Equal(dec(t, "350")) {
		t.Errorf("tp target = %s, want 350", p.TPTarget)
	}
	if !p.TPPrice.Equal(dec(t, "51875")) {
		t.Errorf("tp price = %s, want 51875", p.TPPrice)
	}
	if !p.LiquidationPrice.Equal(dec(t, "47625")) {
		t.Errorf("liquidation = %s, want 47625", p.LiquidationPrice)
	}

	checkBalances(t, e, vaultID, "10000", "9800", "200")
}

func TestOpenPositionUnknownVault(t *testing.T) {
	e := newTestEngine(t, &stubClusters{})
	if _, err := e.OpenPosition(context.Background(), "nope", "BTCUSDT", dec(t, "50000")); !errors.Is(err, domain.ErrVaultNotFound) {
		t.Errorf("err = %v, want ErrVaultNotFound", err)
	}
}

func TestOpenPositionCapacity(t *testing.T) {
	e := newTestEngine(t, &stubClusters{})
	vaultID := mustCreateVault(t, e, "10000")

	for i := 0; i < 2; i++ {
		if _, err := e.OpenPosition(context.Background(), vaultID, "BTCUSDT", dec(t, "50000")); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}

	if _, err := e.OpenPosition(context.Background(), vaultID, "ETHUSDT", dec(t, "3000")); !errors.Is(err, domain.ErrVaultAtCapacity) {
		t.Fatalf("err = %v, want ErrVaultAtCapacity", err)
	}

	// The rejected open must not have touched the balances.
	checkBalances(t, e, vaultID, "10000", "9600", "400")
}

func TestCreateVaultPerVaultPositionCap(t *testing.T) {
	e := newTestEngine(t, &stubClusters{})

	single, err := e.CreateVault(context.Background(), "single", dec(t, "10000"), 1)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	wide, err := e.CreateVault(context.Background(), "wide", dec(t, "10000"), 4)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}

	if _, err := e.OpenPosition(context.Background(), single, "BTCUSDT", dec(t, "50000")); err != nil {
		t.Fatalf("open in single: %v", err)
	}
	if _, err := e.OpenPosition(context.Background(), single, "ETHUSDT", dec(t, "3000")); !errors.Is(err, domain.ErrVaultAtCapacity) {
		t.Fatalf("second open in single err = %v, want ErrVaultAtCapacity", err)
	}

	// A wider cap admits more than the engine-wide default of 2.
	for i := 0; i < 4; i++ {
		if _, err := e.OpenPosition(context.Background(), wide, "BTCUSDT", dec(t, "50000")); err != nil {
			t.Fatalf("open %d in wide: %v", i, err)
		}
	}
	if _, err := e.OpenPosition(context.Background(), wide, "BTCUSDT", dec(t, "50000")); !errors.Is(err, domain.ErrVaultAtCapacity) {
		t.Fatalf("fifth open in wide err = %v, want ErrVaultAtCapacity", err)
	}

	status, err := e.VaultStatus(single)
	if err != nil {
		t.Fatalf("VaultStatus: %v", err)
	}
	if status.MaxPositions != 1 {
		t.Errorf("single MaxPositions = %d, want 1", status.MaxPositions)
	}
}

func TestOpenPositionInsufficientBalance(t *testing.T) {
	e := newTestEngine(t, &stubClusters{})

	// A vault with nearly everything reserved cannot cover 2% of total.
	e.Restore([]domain.Vault{{
		ID:               "v1",
		Name:             "drained",
		TotalBalance:     dec(t, "10000"),
		AvailableBalance: dec(t, "100"),
		ReservedBalance:  dec(t, "9900"),
		MaxPositions:     2,
	}}, nil)

	if _, err := e.OpenPosition(context.Background(), "v1", "BTCUSDT", dec(t, "50000")); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	checkBalances(t, e, "v1", "10000", "100", "9900")
}

func TestForceClose(t *testing.T) {
	var events []Event
	e := newTestEngine(t, &stubClusters{}, WithEventHandler(func(ev Event) {
		events = append(events, ev)
	}))
	vaultID := mustCreateVault(t, e, "10000")

	id, err := e.OpenPosition(context.Background(), vaultID, "BTCUSDT", dec(t, "50000"))
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	if err := e.ForceClose(context.Background(), id, dec(t, "49000"), "manual"); err != nil {
		t.Fatalf("ForceClose: %v", err)
	}

	// All reserved margin returns; realized loss does not touch the vault.
	checkBalances(t, e, vaultID, "10000", "10000", "0")

	positions, err := e.VaultPositions(vaultID)
	if err != nil {
		t.Fatalf("VaultPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("positions = %d, want 0", len(positions))
	}

	var closed *Event
	for i := range events {
		if events[i].Type == EventPositionClosed {
			closed = &events[i]
		}
	}
	if closed == nil {
		t.Fatal("no position_closed event emitted")
	}
	if closed.Reason != "manual" {
		t.Errorf("close reason = %q, want manual", closed.Reason)
	}

	// A closed position is gone.
	if err := e.ForceClose(context.Background(), id, dec(t, "49000"), ""); !errors.Is(err, domain.ErrPositionNotFound) {
		t.Errorf("second close err = %v, want ErrPositionNotFound", err)
	}
	if _, err := e.UpdatePosition(context.Background(), id, dec(t, "49000")); !errors.Is(err, domain.ErrPositionNotFound) {
		t.Errorf("tick after close err = %v, want ErrPositionNotFound", err)
	}
}

func TestOpenPositionIDsAndSymbols(t *testing.T) {
	e := newTestEngine(t, &stubClusters{})
	vaultID := mustCreateVault(t, e, "10000")

	btc, err := e.OpenPosition(context.Background(), vaultID, "BTCUSDT", dec(t, "50000"))
	if err != nil {
		t.Fatalf("open btc: %v", err)
	}
	if _, err := e.OpenPosition(context.Background(), vaultID, "ETHUSDT", dec(t, "3000")); err != nil {
		t.Fatalf("open eth: %v", err)
	}

	ids := e.OpenPositionIDs("BTCUSDT")
	if len(ids) != 1 || ids[0] != btc {
		t.Errorf("OpenPositionIDs = %v, want [%s]", ids, btc)
	}

	symbols := e.Symbols()
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("Symbols = %v", symbols)
	}
}

func TestVaultStatusUnknownVault(t *testing.T) {
	e := newTestEngine(t, &stubClusters{})
	if _, err := e.VaultStatus("nope"); !errors.Is(err, domain.ErrVaultNotFound) {
		t.Errorf("err = %v, want ErrVaultNotFound", err)
	}
}
