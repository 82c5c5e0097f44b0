package execution

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/types"
)

// State is the position of a cycle in the repricing state machine.
type State int

const (
	StateIdle State = iota
	StateSubmitted
	StateRepricing
	StateFilled
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitted:
		return "submitted"
	case StateRepricing:
		return "repricing"
	case StateFilled:
		return "filled"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Outcome is how a cycle ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeFilled means the requested volume traded.
	OutcomeFilled
	// OutcomeSubmissionFailed means the facade refused an order. The
	// caller decides whether to continue.
	OutcomeSubmissionFailed
	// OutcomeTerminated means the venue cancelled or rejected an order
	// the cycle did not ask to cancel, or the position vanished mid-sell.
	OutcomeTerminated
	// OutcomeTimedOut means the fill window elapsed. Result.InFlightOrderID
	// may still be resting.
	OutcomeTimedOut
	// OutcomeAborted means the caller's context was cancelled. The live
	// order was sent a cancel but Result.InFlightOrderID may still rest.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFilled:
		return "filled"
	case OutcomeSubmissionFailed:
		return "submission_failed"
	case OutcomeTerminated:
		return "terminated"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeAborted:
		return "aborted"
	default:
		return "none"
	}
}

// Attempt is one order placed during a cycle, with the last status seen.
type Attempt struct {
	OrderID     string
	ClientID    string
	Price       decimal.Decimal
	Volume      int64
	Traded      int64
	Status      types.OrderStatus
	SubmittedAt time.Time
}

// Result summarizes a finished cycle.
type Result struct {
	CycleID string
	Symbol  string
	Side    types.Side
	Outcome Outcome
	State   State
	// OrderID is the last order submitted in the cycle.
	OrderID string
	// InFlightOrderID is set on timeout or abort when an order may still
	// rest at the venue. The caller must see it terminal before placing
	// another.
	InFlightOrderID string
	Requested       int64
	Filled          int64
	Checks          int
	Reprices        int
	Attempts        []Attempt
	Err             error
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Duration returns the wall time the cycle took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// cycle is the mutable state of one Execute call. Transitions return a new
// value.
type cycle struct {
	id        string
	req       Request
	state     State
	outcome   Outcome
	err       error
	startedAt time.Time

	// orderID is the order that may still be live. Empty once its cancel
	// has been confirmed.
	orderID string
	// resendCancel is set when a cancel request failed. The venue may or
	// may not have received it.
	resendCancel bool
	attempts     []Attempt
	checks       int
	reprices     int
}

func (c cycle) done() bool {
	return c.outcome != OutcomeNone
}

func (c cycle) submitted(a Attempt) cycle {
	c.attempts = append(c.attempts[:len(c.attempts):len(c.attempts)], a)
	c.orderID = a.OrderID
	c.state = StateSubmitted
	return c
}

// observe copies the backend view of an order into its attempt.
func (c cycle) observe(o *types.Order) cycle {
	for i := len(c.attempts) - 1; i >= 0; i-- {
		if c.attempts[i].OrderID != o.ID {
			continue
		}
		attempts := make([]Attempt, len(c.attempts))
		copy(attempts, c.attempts)
		attempts[i].Traded = o.Traded
		attempts[i].Status = o.Status
		c.attempts = attempts
		break
	}
	return c
}

func (c cycle) cancelling() cycle {
	c.state = StateRepricing
	c.resendCancel = false
	return c
}

func (c cycle) cancelUnacknowledged() cycle {
	c.state = StateRepricing
	c.resendCancel = true
	return c
}

func (c cycle) cancelled() cycle {
	c.orderID = ""
	c.resendCancel = false
	return c
}

func (c cycle) fill() cycle {
	c.orderID = ""
	c.state = StateFilled
	c.outcome = OutcomeFilled
	return c
}

func (c cycle) terminate(err error) cycle {
	c.state = StateTerminated
	c.outcome = OutcomeTerminated
	c.err = err
	return c
}

func (c cycle) failSubmit(err error) cycle {
	c.outcome = OutcomeSubmissionFailed
	c.err = err
	return c
}

func (c cycle) expire() cycle {
	c.outcome = OutcomeTimedOut
	return c
}

func (c cycle) abort(cause error) cycle {
	c.outcome = OutcomeAborted
	c.err = cause
	return c
}

// filled sums the backend-reported traded volume across all attempts.
func (c cycle) filled() int64 {
	var n int64
	for _, a := range c.attempts {
		n += a.Traded
	}
	return n
}

func (c cycle) lastPrice() decimal.Decimal {
	if len(c.attempts) == 0 {
		return c.req.Price
	}
	return c.attempts[len(c.attempts)-1].Price
}

func (c cycle) result(now time.Time) Result {
	res := Result{
		CycleID:    c.id,
		Symbol:     c.req.Symbol,
		Side:       c.req.Side,
		Outcome:    c.outcome,
		State:      c.state,
		Requested:  c.req.Volume,
		Filled:     c.filled(),
		Checks:     c.checks,
		Reprices:   c.reprices,
		Attempts:   c.attempts,
		Err:        c.err,
		StartedAt:  c.startedAt,
		FinishedAt: now,
	}
	if n := len(c.attempts); n > 0 {
		res.OrderID = c.attempts[n-1].OrderID
	}
	if c.outcome == OutcomeTimedOut || c.outcome == OutcomeAborted {
		res.InFlightOrderID = c.orderID
	}
	return res
}
