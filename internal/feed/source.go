// Package feed streams mark prices from the exchange and drives position
// updates in the engine.
package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one mark-price observation for a symbol.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// TickHandler is called for each received tick.
type TickHandler func(ctx context.Context, tick Tick)

// PriceSource streams ticks until ctx is cancelled, invoking the handler
// registered at construction time for every observation.
type PriceSource interface {
	Run(ctx context.Context) error
	Close()
}
