// Package persistence journals execution cycles and controller state.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/types"
)

// Repository defines the interface for state persistence.
type Repository interface {
	// Cycle operations
	SaveCycle(ctx context.Context, cycle CycleRecord) error
	GetCycle(ctx context.Context, cycleID string) (*CycleRecord, error)
	RecentCycles(ctx context.Context, symbol string, limit int) ([]CycleRecord, error)
	CycleStats(ctx context.Context, from, to time.Time) ([]OutcomeCount, error)

	// State operations
	SaveState(ctx context.Context, state ControllerState) error
	GetState(ctx context.Context, symbol string) (*ControllerState, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// CycleRecord is a persisted execution cycle.
type CycleRecord struct {
	CycleID         string
	Symbol          string
	Side            types.Side
	Outcome         string
	Price           decimal.Decimal
	Requested       int64
	Filled          int64
	Checks          int
	Reprices        int
	LastOrderID     string
	InFlightOrderID string
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Attempts        []AttemptRecord
}

// AttemptRecord is one order placed inside a cycle.
type AttemptRecord struct {
	Seq         int
	OrderID     string
	ClientID    string
	Price       decimal.Decimal
	Volume      int64
	Traded      int64
	Status      types.OrderStatus
	SubmittedAt time.Time
}

// OutcomeCount aggregates cycles by side and outcome.
type OutcomeCount struct {
	Side    types.Side
	Outcome string
	Cycles  int
	Filled  int64
}

// ControllerState is the per-symbol controller state used for recovery.
type ControllerState struct {
	Symbol          string
	LastUpdated     time.Time
	InFlightOrderID string
	Stopped         bool
	StopReason      string
}
