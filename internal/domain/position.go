package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks a position's lifecycle.
type PositionStatus string

const (
	StatusOpen          PositionStatus = "OPEN"
	StatusPartialClosed PositionStatus = "PARTIAL_CLOSED"
	StatusClosed        PositionStatus = "CLOSED"

	// StatusLiquidated is a defined terminal state that the engine itself
	// never enters: the linear position model carries no intrinsic exchange
	// liquidation event. An external listener may force-close with a
	// liquidation reason instead.
	StatusLiquidated PositionStatus = "LIQUIDATED"
)

// VaultPosition is one leveraged exposure inside a vault.
//
// EntryPrice is the size-weighted average across every margin addition.
// Size is notional exposure (margin x leverage summed across additions,
// minus the notional removed at first take-profit). TPTarget is kept equal
// to MarginInvested x 1.75 after open, every doubling, and a margin rescue.
type VaultPosition struct {
	ID      string
	VaultID string
	Symbol  string

	EntryPrice     decimal.Decimal
	Size           decimal.Decimal
	MarginInvested decimal.Decimal

	Leverage int64
	Stage    Stage

	TPTarget         decimal.Decimal
	TPPrice          decimal.Decimal
	LiquidationPrice decimal.Decimal

	// Trailing-exit state, meaningful only after the first take-profit.
	MaxPriceReached   decimal.Decimal
	TrailingStopPrice decimal.Decimal
	TrailingStopPct   decimal.Decimal

	// One-shot flags gating the tick state machine.
	FirstTPTriggered bool
	MarginAdded      bool

	// Last-fetched liquidation clusters, refreshed on every size or margin
	// change. Kept across failed refreshes as the stale-data fallback.
	ClustersAbove []LiquidationCluster
	ClustersBelow []LiquidationCluster

	Status PositionStatus

	// DoublingHistory is an append-only log of every stage transition.
	DoublingHistory []DoublingEvent

	OpenedAt time.Time
}

// DoublingEvent records one stage transition of a position: a doubling step
// or a margin rescue.
type DoublingEvent struct {
	Stage               Stage
	Price               decimal.Decimal
	MarginAdded         decimal.Decimal
	NewEntryPrice       decimal.Decimal
	NewTPPrice          decimal.Decimal
	NewLiquidationPrice decimal.Decimal
	Trigger             string
	At                  time.Time
}

// UnrealizedPnL returns the linear profit or loss of the remaining exposure
// at the given price.
func (p *VaultPosition) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	changePct := price.Sub(p.EntryPrice).Div(p.EntryPrice)
	return changePct.Mul(p.Size)
}

// Summary returns the read-model projection of the position.
func (p *VaultPosition) Summary() PositionSummary {
	return PositionSummary{
		ID:                p.ID,
		VaultID:           p.VaultID,
		Symbol:            p.Symbol,
		Stage:             p.Stage,
		Status:            p.Status,
		Leverage:          p.Leverage,
		EntryPrice:        p.EntryPrice,
		Size:              p.Size,
		MarginInvested:    p.MarginInvested,
		TPTarget:          p.TPTarget,
		TPPrice:           p.TPPrice,
		LiquidationPrice:  p.LiquidationPrice,
		TrailingStopPrice: p.TrailingStopPrice,
		FirstTPTriggered:  p.FirstTPTriggered,
		MarginAdded:       p.MarginAdded,
		Doublings:         len(p.DoublingHistory),
	}
}

// PositionSummary is the read-model returned by the engine's position APIs.
type PositionSummary struct {
	ID                string
	VaultID           string
	Symbol            string
	Stage             Stage
	Status            PositionStatus
	Leverage          int64
	EntryPrice        decimal.Decimal
	Size              decimal.Decimal
	MarginInvested    decimal.Decimal
	TPTarget          decimal.Decimal
	TPPrice           decimal.Decimal
	LiquidationPrice  decimal.Decimal
	TrailingStopPrice decimal.Decimal
	FirstTPTriggered  bool
	MarginAdded       bool
	Doublings         int
}

// TickResult reports the outcome of one update tick.
type TickResult struct {
	PositionID string
	Status     PositionStatus
	Actions    []string
	PnL        decimal.Decimal
	TPPrice    decimal.Decimal
	Stage      Stage
}
