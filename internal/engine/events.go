package engine

import (
	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// EventType identifies an observable lifecycle event.
type EventType string

const (
	EventPositionOpened  EventType = "position_opened"
	EventPositionDoubled EventType = "position_doubled"
	EventMarginRescue    EventType = "margin_rescue"
	EventRescueSkipped   EventType = "rescue_skipped"
	EventTakeProfit      EventType = "take_profit"
	EventPositionClosed  EventType = "position_closed"
)

// Event is delivered to the registered event handler after each lifecycle
// transition. Position is a snapshot taken at emit time; Reason is set for
// closes and skipped rescues; History is populated on close so consumers
// (notifications, the archive) see the full stage-transition log without
// reaching back into the engine.
type Event struct {
	Type     EventType
	Position domain.PositionSummary
	Price    decimal.Decimal
	Reason   string
	History  []domain.DoublingEvent
}
