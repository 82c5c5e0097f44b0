package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tathienbao/repricer/internal/alerting"
	"github.com/tathienbao/repricer/internal/broker"
	"github.com/tathienbao/repricer/internal/execution"
	"github.com/tathienbao/repricer/internal/persistence"
	"github.com/tathienbao/repricer/internal/types"
)

func TestEngine_TerminatedStopsOnce(t *testing.T) {
	cause := fmt.Errorf("%w: cancelled by venue", types.ErrOrderTerminated)
	exec := &scriptedExecutor{fn: func(int, execution.Request) execution.Result {
		return execution.Result{Outcome: execution.OutcomeTerminated, State: execution.StateTerminated, Err: cause}
	}}
	h := newHarness(t, exec)
	h.broker.SetQuote(book("6.18", 5000, "6.20", 5000))

	err := h.run(t)
	if !errors.Is(err, types.ErrOrderTerminated) {
		t.Fatalf("Run() error = %v, want ErrOrderTerminated", err)
	}
	if h.flag.stops != 1 {
		t.Errorf("flag stops = %d, want 1", h.flag.stops)
	}
	if len(exec.requests) != 1 {
		t.Errorf("executor calls = %d, want 1", len(exec.requests))
	}
	if !h.alerter.HasEvent(alerting.EventOrderTerminated) {
		t.Error("expected order_terminated alert")
	}
	if !h.alerter.HasAlertWithSeverity(alerting.SeverityCritical) {
		t.Error("expected a critical alert")
	}
	s := h.alerter.Summaries()
	if len(s) != 1 || s[0].StopReason != cause.Error() {
		t.Errorf("summaries = %+v, want stop reason %q", s, cause.Error())
	}
}

func TestEngine_SubmissionFailure(t *testing.T) {
	failed := func(int, execution.Request) execution.Result {
		return execution.Result{
			Outcome: execution.OutcomeSubmissionFailed,
			State:   execution.StateIdle,
			Err:     fmt.Errorf("%w: no order id", types.ErrSubmissionFailed),
		}
	}

	tests := []struct {
		name      string
		handler   SubmissionFailureHandler
		wantCalls int
		wantErr   bool
		wantStops int
	}{
		{"no handler halts", nil, 1, true, 1},
		{"handler declines", func(context.Context, execution.Result) bool { return false }, 1, true, 1},
		{"handler continues", func(context.Context, execution.Result) bool { return true }, 3, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h *harness
			exec := &scriptedExecutor{fn: func(n int, req execution.Request) execution.Result {
				if n == 3 {
					h.flag.Stop()
				}
				return failed(n, req)
			}}
			h = newHarness(t, exec)
			h.broker.SetQuote(book("6.18", 5000, "6.20", 5000))
			h.engine.OnSubmissionFailure(tt.handler)

			err := h.run(t)
			if tt.wantErr != errors.Is(err, types.ErrSubmissionFailed) {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(exec.requests) != tt.wantCalls {
				t.Errorf("executor calls = %d, want %d", len(exec.requests), tt.wantCalls)
			}
			if h.flag.stops != tt.wantStops {
				t.Errorf("flag stops = %d, want %d", h.flag.stops, tt.wantStops)
			}
			if !h.alerter.HasEvent(alerting.EventSubmissionFailed) {
				t.Error("expected submission_failed alert")
			}
		})
	}
}

func TestEngine_AbortedCycleDoesNotStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &scriptedExecutor{fn: func(int, execution.Request) execution.Result {
		cancel()
		return execution.Result{Outcome: execution.OutcomeAborted, State: execution.StateTerminated, Err: context.Canceled}
	}}
	h := newHarness(t, exec)
	h.broker.SetQuote(book("6.18", 5000, "6.20", 5000))

	if err := h.engine.Run(ctx, h.flag); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.flag.stops != 0 {
		t.Errorf("flag stops = %d, want 0", h.flag.stops)
	}
	if !h.alerter.HasEvent(alerting.EventCycleAborted) {
		t.Error("expected cycle_aborted alert")
	}
}

// refusingCancels fails every cancel request.
type refusingCancels struct {
	broker.Broker
}

func (refusingCancels) CancelOrder(context.Context, string) error {
	return errors.New("cancel request timed out")
}

func TestEngine_AbortedCycleKeepsLiveOrderInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := openRepo(t, filepath.Join(t.TempDir(), "journal.db"))

	h := newHarness(t, nil)
	h.engine.repo = repo
	h.engine.executor = execution.NewOrderExecutor(execution.DefaultConfig(), refusingCancels{h.broker}, h.clock, nil)
	h.broker.SetPosition(types.Position{Symbol: sym, Volume: 2000, AvgPrice: d("6.20")})
	h.broker.SetQuote(book("6.51", 500, "6.52", 5000))
	h.clock.OnSleep(func(got time.Duration) {
		if got == execution.DefaultConfig().RepriceInterval {
			cancel()
		}
	})

	if err := h.engine.Run(ctx, h.flag); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	orders := h.broker.Orders()
	if len(orders) != 1 || !orders[0].Status.IsLive() {
		t.Fatalf("orders = %+v, want one live partially filled sell", orders)
	}
	live := orders[0].ID

	if got := h.engine.InFlightOrderID(); got != live {
		t.Errorf("InFlightOrderID() = %q, want %q", got, live)
	}
	state, err := repo.GetState(context.Background(), sym)
	if err != nil || state == nil {
		t.Fatalf("GetState() = %v, %v", state, err)
	}
	if state.InFlightOrderID != live {
		t.Errorf("saved InFlightOrderID = %q, want %q", state.InFlightOrderID, live)
	}
	if h.flag.stops != 0 {
		t.Errorf("flag stops = %d, want 0", h.flag.stops)
	}
}

// restingOrder places a buy below the ask so it stays live.
func restingOrder(t *testing.T, h *harness) string {
	t.Helper()
	id, err := h.broker.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: sym,
		Side:   types.SideBuy,
		Type:   types.OrderTypeLimit,
		Price:  d("6.00"),
		Volume: 500,
	})
	if err != nil || id == "" {
		t.Errorf("SubmitOrder() = %q, %v", id, err)
	}
	return id
}

func TestEngine_TimedOutOrderReconciledBeforeNextCycle(t *testing.T) {
	var h *harness
	var resting string
	exec := &scriptedExecutor{fn: func(n int, req execution.Request) execution.Result {
		if n == 1 {
			resting = restingOrder(t, h)
			return execution.Result{
				Outcome:         execution.OutcomeTimedOut,
				State:           execution.StateRepricing,
				OrderID:         resting,
				InFlightOrderID: resting,
			}
		}

		o, err := h.broker.GetOrder(context.Background(), resting)
		if err != nil {
			t.Errorf("GetOrder() error = %v", err)
		} else if o.Status.IsLive() {
			t.Errorf("new cycle started while %s is %s", resting, o.Status)
		}
		h.flag.Stop()
		return execution.Result{Outcome: execution.OutcomeFilled, State: execution.StateFilled}
	}}
	h = newHarness(t, exec)
	h.broker.SetQuote(book("6.18", 5000, "6.20", 5000))

	if err := h.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(exec.requests) != 2 {
		t.Fatalf("executor calls = %d, want 2", len(exec.requests))
	}
	o, _ := h.broker.GetOrder(context.Background(), resting)
	if o.Status != types.OrderStatusCancelled {
		t.Errorf("resting order status = %s, want CANCELLED", o.Status)
	}
	if got := h.engine.InFlightOrderID(); got != "" {
		t.Errorf("InFlightOrderID() = %q, want empty", got)
	}
	if !h.alerter.HasEvent(alerting.EventCycleTimedOut) {
		t.Error("expected cycle_timed_out alert")
	}

	cancelled := 0
	for _, a := range h.alerter.Alerts() {
		if a.Field("event") == string(alerting.EventInFlightCancelled) {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Errorf("in_flight_cancelled alerts = %d, want 1", cancelled)
	}
}

func TestEngine_TimedOutOrderFilledMeanwhile(t *testing.T) {
	var h *harness
	var resting string
	exec := &scriptedExecutor{fn: func(int, execution.Request) execution.Result {
		resting = restingOrder(t, h)
		// The book moves through the resting price before the next poll.
		h.broker.SetQuote(book("5.98", 5000, "6.00", 5000))
		return execution.Result{Outcome: execution.OutcomeTimedOut, InFlightOrderID: resting, OrderID: resting}
	}}
	h = newHarness(t, exec)
	h.broker.SetQuote(book("6.18", 5000, "6.20", 5000))
	sleeps := 0
	h.clock.OnSleep(func(time.Duration) {
		sleeps++
		if sleeps == 2 {
			h.flag.Stop()
		}
	})

	if err := h.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	o, _ := h.broker.GetOrder(context.Background(), resting)
	if o.Status != types.OrderStatusAllTraded {
		t.Errorf("resting order status = %s, want ALL_TRADED", o.Status)
	}
	if h.alerter.HasEvent(alerting.EventInFlightCancelled) {
		t.Error("in_flight_cancelled alert sent for an order that already filled")
	}
	if got := h.engine.InFlightOrderID(); got != "" {
		t.Errorf("InFlightOrderID() = %q, want empty", got)
	}
	// The fill left a position below target, so no second cycle runs.
	if len(exec.requests) != 1 {
		t.Errorf("executor calls = %d, want 1", len(exec.requests))
	}
}

func openRepo(t *testing.T, path string) *persistence.SQLiteRepository {
	t.Helper()
	repo, err := persistence.NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestEngine_RecoversInFlightOrder(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, filepath.Join(t.TempDir(), "journal.db"))

	var h *harness
	var resting string
	exec := &scriptedExecutor{fn: func(int, execution.Request) execution.Result {
		o, _ := h.broker.GetOrder(ctx, resting)
		if o.Status.IsLive() {
			t.Errorf("cycle started before recovered order %s was cancelled", resting)
		}
		h.flag.Stop()
		return execution.Result{CycleID: "cycle-1", Outcome: execution.OutcomeFilled, State: execution.StateFilled}
	}}
	h = newHarness(t, exec)
	h.engine.repo = repo
	h.broker.SetQuote(book("6.18", 5000, "6.20", 5000))

	resting = restingOrder(t, h)
	if err := repo.SaveState(ctx, persistence.ControllerState{Symbol: sym, InFlightOrderID: resting}); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	if err := h.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	state, err := repo.GetState(ctx, sym)
	if err != nil || state == nil {
		t.Fatalf("GetState() = %v, %v", state, err)
	}
	if state.InFlightOrderID != "" {
		t.Errorf("saved InFlightOrderID = %q, want empty", state.InFlightOrderID)
	}
	if state.Stopped {
		t.Error("saved Stopped = true after operator stop")
	}
}

func TestEngine_JournalsCycles(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, filepath.Join(t.TempDir(), "journal.db"))

	h := newHarness(t, nil)
	h.engine.repo = repo
	h.broker.SetQuote(book("6.18", 5000, "6.20", 800))
	h.stopOnSleep(pollInterval)

	if err := h.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cycles, err := repo.RecentCycles(ctx, sym, 10)
	if err != nil {
		t.Fatalf("RecentCycles() error = %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("cycles = %d, want 1", len(cycles))
	}
	c := cycles[0]
	if c.Outcome != "filled" || c.Side != types.SideBuy || c.Filled != 800 {
		t.Errorf("cycle = %s %s filled %d, want filled BUY 800", c.Outcome, c.Side, c.Filled)
	}
	if len(c.Attempts) != 1 || c.Attempts[0].OrderID == "" {
		t.Errorf("attempts = %+v, want one with an order ID", c.Attempts)
	}
	if !c.Price.Equal(d("6.20")) {
		t.Errorf("price = %s, want 6.20", c.Price)
	}
}

func TestEngine_TerminatedPersistsStop(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, filepath.Join(t.TempDir(), "journal.db"))

	exec := &scriptedExecutor{fn: func(int, execution.Request) execution.Result {
		return execution.Result{
			CycleID: "cycle-t",
			Outcome: execution.OutcomeTerminated,
			Err:     types.ErrPositionMissing,
		}
	}}
	h := newHarness(t, exec)
	h.engine.repo = repo
	h.broker.SetQuote(book("6.18", 5000, "6.20", 5000))

	if err := h.run(t); !errors.Is(err, types.ErrPositionMissing) {
		t.Fatalf("Run() error = %v, want ErrPositionMissing", err)
	}

	state, err := repo.GetState(ctx, sym)
	if err != nil || state == nil {
		t.Fatalf("GetState() = %v, %v", state, err)
	}
	if !state.Stopped || state.StopReason == "" {
		t.Errorf("state = %+v, want stopped with reason", state)
	}

	rec, err := repo.GetCycle(ctx, "cycle-t")
	if err != nil || rec == nil {
		t.Fatalf("GetCycle() = %v, %v", rec, err)
	}
	if rec.Error == "" {
		t.Error("journaled cycle has no error")
	}
}

func TestEngine_AlertFailureDoesNotStop(t *testing.T) {
	h := newHarness(t, nil)
	h.alerter.FailWith(errors.New("channel down"))
	h.broker.SetQuote(book("6.24", 5000, "6.25", 5000))
	h.stopOnSleep(pollInterval)

	if err := h.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.alerter.Count() == 0 {
		t.Error("no alerts attempted")
	}
}

func TestFlag(t *testing.T) {
	tests := []struct {
		name string
		flag func() *Flag
	}{
		{"constructed", NewFlag},
		{"zero value", func() *Flag { return &Flag{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.flag()
			if !f.IsActive() {
				t.Fatal("new flag inactive")
			}
			done := f.Done()

			f.Stop()
			f.Stop()

			if f.IsActive() {
				t.Error("IsActive() = true after Stop")
			}
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Error("Done() not closed after Stop")
			}
		})
	}
}
