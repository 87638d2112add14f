// Package domain defines the core types of the vault trading engine: capital
// vaults, leveraged positions, the leverage-stage ladder, liquidation
// clusters, and the store/cache/provider interfaces implemented elsewhere.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vault is an isolated capital pool with its own balance bookkeeping and a
// hard cap on concurrently open positions.
//
// The balance invariant Available + Reserved == Total holds at every
// observable point. Closing a position returns exactly the margin that was
// reserved for it; realized profit or loss is intentionally NOT applied to
// the vault balance, so Total is never changed by trading outcomes. See
// DESIGN.md for the rationale behind keeping that behavior.
type Vault struct {
	ID               string
	Name             string
	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	ReservedBalance  decimal.Decimal

	// ActivePositions is the ordered set of position ids currently open in
	// this vault. Its length never exceeds MaxPositions.
	ActivePositions []string
	MaxPositions    int

	CreatedAt time.Time
}

// Balanced reports whether the conservation invariant holds.
func (v *Vault) Balanced() bool {
	return v.AvailableBalance.Add(v.ReservedBalance).Equal(v.TotalBalance)
}

// AtCapacity reports whether the vault can admit another position.
func (v *Vault) AtCapacity() bool {
	return len(v.ActivePositions) >= v.MaxPositions
}

// Reserve moves amount from the available balance into the reserved balance.
// It returns ErrInsufficientBalance without mutating anything when the
// available balance does not cover the amount.
func (v *Vault) Reserve(amount decimal.Decimal) error {
	if amount.GreaterThan(v.AvailableBalance) {
		return ErrInsufficientBalance
	}
	v.AvailableBalance = v.AvailableBalance.Sub(amount)
	v.ReservedBalance = v.ReservedBalance.Add(amount)
	return nil
}

// Release moves amount from the reserved balance back into the available
// balance.
func (v *Vault) Release(amount decimal.Decimal) {
	v.ReservedBalance = v.ReservedBalance.Sub(amount)
	v.AvailableBalance = v.AvailableBalance.Add(amount)
}

// RemovePosition drops the position id from the active set, preserving order.
func (v *Vault) RemovePosition(positionID string) {
	for i, id := range v.ActivePositions {
		if id == positionID {
			v.ActivePositions = append(v.ActivePositions[:i], v.ActivePositions[i+1:]...)
			return
		}
	}
}

// VaultStatus is the read-model returned by the engine's status API.
type VaultStatus struct {
	ID               string
	Name             string
	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	ReservedBalance  decimal.Decimal
	MaxPositions     int
	ActivePositions  []PositionSummary
}
