// Package engine runs the single-instrument strategy loop: it polls quotes,
// classifies the position and hands entries and exits to the executor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/alerting"
	"github.com/tathienbao/repricer/internal/broker"
	"github.com/tathienbao/repricer/internal/clock"
	"github.com/tathienbao/repricer/internal/execution"
	"github.com/tathienbao/repricer/internal/gate"
	"github.com/tathienbao/repricer/internal/metrics"
	"github.com/tathienbao/repricer/internal/persistence"
	"github.com/tathienbao/repricer/internal/ticks"
	"github.com/tathienbao/repricer/internal/types"
)

// Config holds engine configuration.
type Config struct {
	Symbol            string
	AccountID         string
	MaxVolume         int64
	TargetReturn      decimal.Decimal
	EntryPriceCeiling decimal.Decimal
	FillWaitTimeout   time.Duration
	RepriceInterval   time.Duration
	PollInterval      time.Duration
	QuoteBackoff      time.Duration
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		Symbol:            "00700",
		MaxVolume:         2000,
		TargetReturn:      decimal.RequireFromString("0.04"),
		EntryPriceCeiling: decimal.RequireFromString("6.20"),
		FillWaitTimeout:   60 * time.Second,
		RepriceInterval:   3 * time.Second,
		PollInterval:      3 * time.Second,
		QuoteBackoff:      2 * time.Second,
	}
}

// SubmissionFailureHandler decides whether the loop continues after a
// failed submission. Returning false stops the engine.
type SubmissionFailureHandler func(ctx context.Context, res execution.Result) bool

// Engine is the strategy controller for one instrument.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	broker   broker.Broker
	poller   *ticks.Poller
	executor execution.Executor
	clock    clock.Clock
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	repo     persistence.Repository

	onSubmissionFailure SubmissionFailureHandler

	running       atomic.Bool
	lastHeartbeat atomic.Int64

	// Loop state, owned by the Run goroutine.
	lotSize          int64
	inFlight         string
	inFlightCanceled bool

	mu      sync.Mutex
	summary alerting.SessionSummary
}

// NewEngine creates a new engine. alerter, recorder and repo may be nil.
func NewEngine(
	cfg Config,
	brk broker.Broker,
	poller *ticks.Poller,
	exec execution.Executor,
	clk clock.Clock,
	alerter alerting.Alerter,
	recorder *metrics.Recorder,
	repo persistence.Repository,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger.With("symbol", cfg.Symbol),
		broker:   brk,
		poller:   poller,
		executor: exec,
		clock:    clk,
		alerter:  alerter,
		recorder: recorder,
		repo:     repo,
	}
}

// OnSubmissionFailure installs the handler consulted after a failed
// submission. Without one the engine stops.
func (e *Engine) OnSubmissionFailure(h SubmissionFailureHandler) {
	e.onSubmissionFailure = h
}

// Run drives the loop until flag is stopped, ctx is done, or a cycle ends
// in a way that requires stopping. It returns the error of the cycle that
// stopped the engine, or nil.
func (e *Engine) Run(ctx context.Context, flag RunFlag) (err error) {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}
	defer e.running.Store(false)
	e.lastHeartbeat.Store(e.clock.Now().UnixNano())

	if err := e.start(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.summary = alerting.NewSessionSummary(e.cfg.Symbol, e.clock.Now())
	e.mu.Unlock()

	e.recorder.RecordRunning(true)
	e.alert(ctx, alerting.EventControllerStarted, "Controller started",
		"max_volume", e.cfg.MaxVolume,
		"target_return", e.cfg.TargetReturn.String(),
		"entry_ceiling", e.cfg.EntryPriceCeiling.String(),
	)

	reason := "stop requested"
	defer func() {
		e.stop(ctx, reason, err)
	}()

	for flag.IsActive() {
		if ctx.Err() != nil {
			reason = "context cancelled"
			return nil
		}

		delay, haltErr := e.iterate(ctx, flag)
		if haltErr != nil {
			reason = haltErr.Error()
			return haltErr
		}

		if !flag.IsActive() {
			break
		}
		if err := e.clock.Sleep(ctx, delay); err != nil {
			reason = "context cancelled"
			return nil
		}
	}

	return nil
}

// start subscribes, logs the contract and restores saved state.
func (e *Engine) start(ctx context.Context) error {
	e.logger.Info("starting strategy controller",
		"max_volume", e.cfg.MaxVolume,
		"target_return", e.cfg.TargetReturn,
		"entry_ceiling", e.cfg.EntryPriceCeiling,
		"fill_wait_timeout", e.cfg.FillWaitTimeout,
		"reprice_interval", e.cfg.RepriceInterval,
		"poll_interval", e.cfg.PollInterval,
	)

	if err := e.broker.Subscribe(ctx, e.cfg.Symbol); err != nil {
		return fmt.Errorf("subscribe %s: %w", e.cfg.Symbol, err)
	}

	contract, err := e.broker.GetContract(ctx, e.cfg.Symbol)
	switch {
	case err != nil:
		e.logger.Warn("contract lookup failed", "err", err)
	case contract == nil:
		e.logger.Warn("contract not found")
	default:
		e.lotSize = contract.LotSize
		e.broker.WriteLog(fmt.Sprintf("contract %s name=%s product=%s lot=%d tick=%s",
			contract.VTSymbol(), contract.Name, contract.Product, contract.LotSize, contract.PriceTick))
	}

	if e.cfg.AccountID != "" {
		if acct, err := e.broker.GetAccount(ctx, e.cfg.AccountID); err != nil {
			e.logger.Warn("account lookup failed", "account_id", e.cfg.AccountID, "err", err)
		} else if acct != nil {
			e.logger.Info("account", "account_id", acct.AccountID, "available", acct.Available, "currency", acct.Currency)
		}
	}

	if e.repo != nil {
		state, err := e.repo.GetState(ctx, e.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("load controller state: %w", err)
		}
		if state != nil && state.InFlightOrderID != "" {
			e.inFlight = state.InFlightOrderID
			e.logger.Warn("recovered in-flight order", "order_id", e.inFlight)
		}
	}

	return nil
}

// iterate runs one loop iteration and returns the delay before the next.
// A non-nil error stops the engine.
func (e *Engine) iterate(ctx context.Context, flag RunFlag) (time.Duration, error) {
	e.lastHeartbeat.Store(e.clock.Now().UnixNano())
	e.recorder.RecordHeartbeat()

	if e.inFlight != "" && !e.reconcile(ctx) {
		return e.cfg.PollInterval, nil
	}

	q, err := e.poller.Poll(ctx, e.cfg.Symbol)
	if err != nil {
		e.logger.Warn("quote poll failed", "err", err)
		e.recorder.RecordError("poll")
	}
	if q == nil {
		e.recorder.RecordQuoteAbsent(e.cfg.Symbol)
		return e.cfg.QuoteBackoff, nil
	}

	e.broker.WriteLog(fmt.Sprintf("tick %s bid %s x %d ask %s x %d last %s",
		q.Symbol, q.BidPrice1(), q.BidVolume1(), q.AskPrice1(), q.AskVolume1(), q.LastPrice))

	pos, err := e.broker.GetPosition(ctx, broker.LongPosition(e.cfg.Symbol))
	if err != nil {
		e.logger.Warn("position query failed", "err", err)
		e.recorder.RecordError("position")
		return e.cfg.PollInterval, nil
	}

	decision := gate.Evaluate(pos, q, e.cfg.TargetReturn)
	var held int64
	if pos != nil {
		held = pos.Volume
	}
	e.recorder.RecordGate(e.cfg.Symbol, decision.State.String(), decision.ReturnRatio, held)

	var req execution.Request
	switch decision.State {
	case gate.StateHoldingProfitable:
		e.logger.Info("return target reached, exiting",
			"volume", held,
			"return", decision.ReturnRatio.StringFixed(4),
			"bid", q.BidPrice1(),
		)
		req = e.request(types.SideSell, q.BidPrice1(), held)

	case gate.StateFlat:
		ask := q.AskPrice1()
		if ask.GreaterThan(e.cfg.EntryPriceCeiling) {
			e.logger.Info("ask above entry ceiling, no entry", "ask", ask, "ceiling", e.cfg.EntryPriceCeiling)
			e.recorder.RecordEntryRejected(e.cfg.Symbol, "price_ceiling")
			return e.cfg.PollInterval, nil
		}
		volume := roundLot(min(q.AskVolume1(), e.cfg.MaxVolume), e.lotSize)
		if volume <= 0 {
			e.logger.Debug("no entry volume available", "ask_volume", q.AskVolume1())
			e.recorder.RecordEntryRejected(e.cfg.Symbol, "no_volume")
			return e.cfg.PollInterval, nil
		}
		e.logger.Info("flat, entering", "ask", ask, "volume", volume)
		req = e.request(types.SideBuy, ask, volume)

	default:
		if decision.Malformed {
			e.logger.Warn("position cost basis unusable, holding", "avg_price", pos.AvgPrice, "volume", held)
		} else {
			e.logger.Info("holding below target",
				"volume", held,
				"return", decision.ReturnRatio.StringFixed(4),
				"target", e.cfg.TargetReturn,
			)
		}
		return e.cfg.PollInterval, nil
	}

	res := e.executor.Execute(ctx, req)
	return e.cfg.PollInterval, e.handleResult(ctx, flag, res)
}

func (e *Engine) request(side types.Side, price decimal.Decimal, volume int64) execution.Request {
	return execution.Request{
		Side:            side,
		Symbol:          e.cfg.Symbol,
		Price:           price,
		Volume:          volume,
		FillWaitTimeout: e.cfg.FillWaitTimeout,
		RepriceInterval: e.cfg.RepriceInterval,
	}
}

// reconcile resolves the order left resting by a timed-out cycle. It
// returns true once that order is terminal and new orders may be placed.
func (e *Engine) reconcile(ctx context.Context) bool {
	order, err := e.broker.GetOrder(ctx, e.inFlight)
	if errors.Is(err, types.ErrOrderNotFound) || (err == nil && order == nil) {
		e.logger.Warn("in-flight order unknown to backend, clearing", "order_id", e.inFlight)
		e.clearInFlight(ctx)
		return true
	}
	if err != nil {
		e.logger.Warn("in-flight order query failed", "order_id", e.inFlight, "err", err)
		return false
	}

	if order.Status.IsFinal() {
		e.logger.Info("in-flight order settled",
			"order_id", order.ID,
			"status", order.Status,
			"traded", order.Traded,
		)
		e.recorder.RecordOrder(order.Symbol, order.Side.String(), order.Status.String())
		e.clearInFlight(ctx)
		return true
	}

	if err := e.broker.CancelOrder(ctx, order.ID); err != nil {
		e.logger.Warn("in-flight cancel failed", "order_id", order.ID, "err", err)
		return false
	}
	if !e.inFlightCanceled {
		e.inFlightCanceled = true
		e.alert(ctx, alerting.EventInFlightCancelled, "Cancelling order left by timed-out cycle",
			"order_id", order.ID,
			"status", order.Status.String(),
			"traded", order.Traded,
		)
	}
	return false
}

func (e *Engine) clearInFlight(ctx context.Context) {
	e.inFlight = ""
	e.inFlightCanceled = false
	e.saveState(ctx, false, "")
}

// handleResult journals res and applies the outcome to the loop.
func (e *Engine) handleResult(ctx context.Context, flag RunFlag, res execution.Result) error {
	e.journal(ctx, res)

	e.recorder.RecordCycle(res.Symbol, res.Side.String(), res.Outcome.String(), res.Duration(), res.Reprices, res.Filled)
	for _, a := range res.Attempts {
		e.recorder.RecordOrder(res.Symbol, res.Side.String(), a.Status.String())
	}

	e.mu.Lock()
	e.summary.Outcomes[res.Outcome.String()]++
	e.summary.Reprices += res.Reprices
	if res.Side == types.SideBuy {
		e.summary.BoughtVolume += res.Filled
	} else {
		e.summary.SoldVolume += res.Filled
	}
	e.mu.Unlock()

	fields := []any{
		"cycle_id", res.CycleID,
		"side", res.Side.String(),
		"filled", res.Filled,
		"requested", res.Requested,
		"reprices", res.Reprices,
		"order_id", res.OrderID,
	}

	switch res.Outcome {
	case execution.OutcomeFilled:
		e.alert(ctx, alerting.EventCycleFilled, "Order filled", fields...)
		return nil

	case execution.OutcomeTimedOut:
		e.alert(ctx, alerting.EventCycleTimedOut, "Fill window expired", fields...)
		if res.InFlightOrderID != "" {
			e.inFlight = res.InFlightOrderID
			e.inFlightCanceled = false
			e.saveState(ctx, false, "")
		}
		return nil

	case execution.OutcomeTerminated:
		e.alert(ctx, alerting.EventOrderTerminated, "Order terminated, stopping", append(fields, "err", errString(res.Err))...)
		flag.Stop()
		return haltError(res.Err, types.ErrOrderTerminated)

	case execution.OutcomeSubmissionFailed:
		e.alert(ctx, alerting.EventSubmissionFailed, "Order submission failed", append(fields, "err", errString(res.Err))...)
		if e.onSubmissionFailure != nil && e.onSubmissionFailure(ctx, res) {
			e.logger.Warn("continuing after submission failure")
			return nil
		}
		flag.Stop()
		return haltError(res.Err, types.ErrSubmissionFailed)

	case execution.OutcomeAborted:
		e.alert(ctx, alerting.EventCycleAborted, "Cycle aborted", fields...)
		if res.InFlightOrderID != "" {
			e.inFlight = res.InFlightOrderID
			e.inFlightCanceled = false
			e.saveState(ctx, false, "")
		}
		return nil
	}

	return nil
}

func (e *Engine) journal(ctx context.Context, res execution.Result) {
	if e.repo == nil {
		return
	}

	rec := persistence.CycleRecord{
		CycleID:         res.CycleID,
		Symbol:          res.Symbol,
		Side:            res.Side,
		Outcome:         res.Outcome.String(),
		Requested:       res.Requested,
		Filled:          res.Filled,
		Checks:          res.Checks,
		Reprices:        res.Reprices,
		LastOrderID:     res.OrderID,
		InFlightOrderID: res.InFlightOrderID,
		Error:           errString(res.Err),
		StartedAt:       res.StartedAt,
		FinishedAt:      res.FinishedAt,
	}
	for i, a := range res.Attempts {
		if i == 0 {
			rec.Price = a.Price
		}
		rec.Attempts = append(rec.Attempts, persistence.AttemptRecord{
			Seq:         i + 1,
			OrderID:     a.OrderID,
			ClientID:    a.ClientID,
			Price:       a.Price,
			Volume:      a.Volume,
			Traded:      a.Traded,
			Status:      a.Status,
			SubmittedAt: a.SubmittedAt,
		})
	}

	// Persist with a context that survives shutdown.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.repo.SaveCycle(jctx, rec); err != nil {
		e.logger.Error("journal cycle failed", "cycle_id", res.CycleID, "err", err)
		e.recorder.RecordError("journal")
	}
}

func (e *Engine) saveState(ctx context.Context, stopped bool, reason string) {
	if e.repo == nil {
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := e.repo.SaveState(sctx, persistence.ControllerState{
		Symbol:          e.cfg.Symbol,
		LastUpdated:     e.clock.Now(),
		InFlightOrderID: e.inFlight,
		Stopped:         stopped,
		StopReason:      reason,
	})
	if err != nil {
		e.logger.Error("save controller state failed", "err", err)
		e.recorder.RecordError("journal")
	}
}

// stop records the end of a run.
func (e *Engine) stop(ctx context.Context, reason string, err error) {
	e.recorder.RecordRunning(false)
	e.saveState(ctx, err != nil, reason)

	e.mu.Lock()
	e.summary.End = e.clock.Now()
	e.summary.StopReason = reason
	summary := e.summary
	e.mu.Unlock()

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	e.alert(actx, alerting.EventControllerStopped, "Controller stopped", "reason", reason)
	if ss, ok := e.alerter.(alerting.SummarySender); ok {
		if err := ss.SendSessionSummary(actx, summary); err != nil {
			e.logger.Warn("failed to send session summary", "err", err)
		}
	}

	e.logger.Info("strategy controller stopped",
		"reason", reason,
		"cycles", summary.TotalCycles(),
		"in_flight_order_id", e.inFlight,
	)
}

func (e *Engine) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if e.alerter == nil {
		return
	}
	fields = append([]any{"symbol", e.cfg.Symbol}, fields...)
	if err := alerting.SendEvent(ctx, e.alerter, event, message, fields...); err != nil {
		e.logger.Warn("failed to send alert", "event", event, "err", err)
	}
}

// IsRunning returns true if the loop is running.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// InFlightOrderID returns the order awaiting reconciliation, if any. Only
// safe to call while the engine is not running.
func (e *Engine) InFlightOrderID() string {
	return e.inFlight
}

// Summary returns a copy of the current session summary.
func (e *Engine) Summary() alerting.SessionSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.summary
	s.Outcomes = make(map[string]int, len(e.summary.Outcomes))
	for k, v := range e.summary.Outcomes {
		s.Outcomes[k] = v
	}
	return s
}

// HealthCheck reports unhealthy when the loop is not running or has not
// iterated within the longest expected cycle.
func (e *Engine) HealthCheck() metrics.Check {
	if !e.IsRunning() {
		return metrics.Check{Status: metrics.StatusUnhealthy, Message: "not running"}
	}

	last := time.Unix(0, e.lastHeartbeat.Load())
	limit := e.cfg.FillWaitTimeout + e.cfg.RepriceInterval + 2*e.cfg.PollInterval + e.cfg.QuoteBackoff
	if age := e.clock.Now().Sub(last); age > limit {
		return metrics.Check{Status: metrics.StatusUnhealthy, Message: fmt.Sprintf("no iteration for %s", age.Round(time.Second))}
	}
	return metrics.Check{Status: metrics.StatusHealthy}
}

func roundLot(volume, lot int64) int64 {
	if lot <= 1 {
		return volume
	}
	return volume / lot * lot
}

// haltError returns err, or fallback when the cycle reported none.
func haltError(err, fallback error) error {
	if err == nil {
		return fallback
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
