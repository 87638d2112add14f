package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStageParams(t *testing.T) {
	tests := []struct {
		stage      Stage
		leverage   int64
		balancePct string
	}{
		{StageInitial, 20, "0.02"},
		{StageDoubled10x, 10, "0.04"},
		{StageDoubled5x, 5, "0.08"},
		{StageDoubled2x, 2, "0.16"},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			params, ok := tt.stage.Params()
			if !ok {
				t.Fatalf("Params() not defined for %s", tt.stage)
			}
			if params.Leverage != tt.leverage {
				t.Errorf("leverage = %d, want %d", params.Leverage, tt.leverage)
			}
			want := decimal.RequireFromString(tt.balancePct)
			if !params.BalancePct.Equal(want) {
				t.Errorf("balance pct = %s, want %s", params.BalancePct, want)
			}
		})
	}
}

func TestStageNextDouble(t *testing.T) {
	tests := []struct {
		stage Stage
		next  Stage
		ok    bool
	}{
		{StageInitial, StageDoubled10x, true},
		{StageDoubled10x, StageDoubled5x, true},
		{StageDoubled5x, StageDoubled2x, true},
		{StageDoubled2x, "", false},
		{StageMarginAdded, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			next, _, ok := tt.stage.NextDouble()
			if ok != tt.ok {
				t.Fatalf("NextDouble() ok = %v, want %v", ok, tt.ok)
			}
			if ok && next != tt.next {
				t.Errorf("next = %s, want %s", next, tt.next)
			}
		})
	}
}

func TestVaultReserveRelease(t *testing.T) {
	v := Vault{
		TotalBalance:     decimal.NewFromInt(1000),
		AvailableBalance: decimal.NewFromInt(1000),
	}

	if err := v.Reserve(decimal.NewFromInt(300)); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !v.Balanced() {
		t.Errorf("invariant broken after reserve: avail %s + reserved %s != total %s",
			v.AvailableBalance, v.ReservedBalance, v.TotalBalance)
	}
	if !v.AvailableBalance.Equal(decimal.NewFromInt(700)) {
		t.Errorf("available = %s, want 700", v.AvailableBalance)
	}

	// Overdraw must fail without mutating.
	if err := v.Reserve(decimal.NewFromInt(701)); err != ErrInsufficientBalance {
		t.Fatalf("Reserve overdraw err = %v, want ErrInsufficientBalance", err)
	}
	if !v.AvailableBalance.Equal(decimal.NewFromInt(700)) || !v.ReservedBalance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("failed reserve mutated balances: avail %s reserved %s", v.AvailableBalance, v.ReservedBalance)
	}

	v.Release(decimal.NewFromInt(300))
	if !v.AvailableBalance.Equal(decimal.NewFromInt(1000)) || !v.ReservedBalance.IsZero() {
		t.Errorf("release: avail %s reserved %s", v.AvailableBalance, v.ReservedBalance)
	}
}

func TestUnrealizedPnL(t *testing.T) {
	p := VaultPosition{
		EntryPrice: decimal.NewFromInt(50000),
		Size:       decimal.NewFromInt(4000),
	}

	// +2% price move on 4000 notional.
	pnl := p.UnrealizedPnL(decimal.NewFromInt(51000))
	if !pnl.Equal(decimal.NewFromInt(80)) {
		t.Errorf("pnl = %s, want 80", pnl)
	}

	// -4% price move.
	pnl = p.UnrealizedPnL(decimal.NewFromInt(48000))
	if !pnl.Equal(decimal.NewFromInt(-160)) {
		t.Errorf("pnl = %s, want -160", pnl)
	}
}
