package domain

import "github.com/shopspring/decimal"

// Stage is a position's rung on the fixed leverage-reduction ladder. A
// position always starts at StageInitial and may only move forward, one rung
// at a time: INITIAL -> DOUBLED_10X -> DOUBLED_5X -> DOUBLED_2X. A margin
// rescue moves the position to the terminal StageMarginAdded from any rung.
type Stage string

const (
	StageInitial     Stage = "INITIAL"
	StageDoubled10x  Stage = "DOUBLED_10X"
	StageDoubled5x   Stage = "DOUBLED_5X"
	StageDoubled2x   Stage = "DOUBLED_2X"
	StageMarginAdded Stage = "MARGIN_ADDED"
)

// StageParams holds the sizing parameters attached to a ladder rung: the
// leverage applied to margin added at that rung, and the fraction of the
// vault's total balance drawn as that margin.
type StageParams struct {
	Leverage   int64
	BalancePct decimal.Decimal
}

var stageParams = map[Stage]StageParams{
	StageInitial:    {Leverage: 20, BalancePct: decimal.RequireFromString("0.02")},
	StageDoubled10x: {Leverage: 10, BalancePct: decimal.RequireFromString("0.04")},
	StageDoubled5x:  {Leverage: 5, BalancePct: decimal.RequireFromString("0.08")},
	StageDoubled2x:  {Leverage: 2, BalancePct: decimal.RequireFromString("0.16")},
}

var stageNext = map[Stage]Stage{
	StageInitial:    StageDoubled10x,
	StageDoubled10x: StageDoubled5x,
	StageDoubled5x:  StageDoubled2x,
}

// Params returns the sizing parameters for the stage. StageMarginAdded has no
// sizing parameters of its own (the rescue amount is a flat fraction of the
// vault balance) and reports ok=false.
func (s Stage) Params() (StageParams, bool) {
	p, ok := stageParams[s]
	return p, ok
}

// NextDouble returns the next rung of the ladder together with its sizing
// parameters. It reports ok=false when the ladder is exhausted: DOUBLED_2X
// never doubles again and MARGIN_ADDED is terminal.
func (s Stage) NextDouble() (Stage, StageParams, bool) {
	next, ok := stageNext[s]
	if !ok {
		return "", StageParams{}, false
	}
	return next, stageParams[next], true
}

// Valid reports whether s is a member of the closed stage set.
func (s Stage) Valid() bool {
	switch s {
	case StageInitial, StageDoubled10x, StageDoubled5x, StageDoubled2x, StageMarginAdded:
		return true
	}
	return false
}
