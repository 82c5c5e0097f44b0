// Package gate classifies the current position into entry or exit mode.
package gate

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/types"
)

// State is the controller mode derived from the current position.
type State int

const (
	StateFlat State = iota
	StateHoldingProfitable
	StateHoldingBelowTarget
)

func (s State) String() string {
	switch s {
	case StateFlat:
		return "flat"
	case StateHoldingProfitable:
		return "holding_profitable"
	case StateHoldingBelowTarget:
		return "holding_below_target"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating a position.
type Decision struct {
	State State
	// ReturnRatio is unrealized P&L over cost; zero when flat or when the
	// cost basis is unusable.
	ReturnRatio decimal.Decimal
	// Malformed is set when the position existed but its cost basis was
	// zero or negative.
	Malformed bool
}

// Evaluate classifies pos against targetReturn using the backend-reported
// unrealized P&L, so the ratio matches the account view rather than the quote.
//
// A nil position or zero volume is Flat. A non-positive cost basis is
// treated as HoldingBelowTarget so that bad data never triggers an exit.
func Evaluate(pos *types.Position, _ *types.Quote, targetReturn decimal.Decimal) Decision {
	if pos == nil || pos.Volume <= 0 {
		return Decision{State: StateFlat}
	}

	cost := pos.Cost()
	if !cost.IsPositive() {
		return Decision{State: StateHoldingBelowTarget, Malformed: true}
	}

	ratio := pos.UnrealizedPnL.Div(cost)
	if ratio.GreaterThan(targetReturn) {
		return Decision{State: StateHoldingProfitable, ReturnRatio: ratio}
	}
	return Decision{State: StateHoldingBelowTarget, ReturnRatio: ratio}
}
