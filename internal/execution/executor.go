// Package execution drives a single order to completion by cancelling and
// repricing it against the live book until it fills, the venue kills it,
// or the fill window expires.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/broker"
	"github.com/tathienbao/repricer/internal/clock"
	"github.com/tathienbao/repricer/internal/types"
)

// Executor runs one execution cycle at a time.
type Executor interface {
	Execute(ctx context.Context, req Request) Result
}

// Config holds the default timing of a cycle.
type Config struct {
	FillWaitTimeout time.Duration
	RepriceInterval time.Duration
	// AbortCancelTimeout bounds the best-effort cancel issued when the
	// caller's context is cancelled mid-cycle.
	AbortCancelTimeout time.Duration
}

// DefaultConfig returns the default cycle timing.
func DefaultConfig() Config {
	return Config{
		FillWaitTimeout:    60 * time.Second,
		RepriceInterval:    3 * time.Second,
		AbortCancelTimeout: 5 * time.Second,
	}
}

// Request describes the order a cycle must get filled.
type Request struct {
	Side   types.Side
	Symbol string
	Price  decimal.Decimal
	Volume int64
	// Zero values fall back to the executor Config.
	FillWaitTimeout time.Duration
	RepriceInterval time.Duration
}

// OrderExecutor implements Executor against a broker facade.
type OrderExecutor struct {
	cfg    Config
	broker broker.Broker
	clock  clock.Clock
	logger *slog.Logger
}

// NewOrderExecutor creates a new executor.
func NewOrderExecutor(cfg Config, brk broker.Broker, clk clock.Clock, logger *slog.Logger) *OrderExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.AbortCancelTimeout <= 0 {
		cfg.AbortCancelTimeout = DefaultConfig().AbortCancelTimeout
	}
	return &OrderExecutor{
		cfg:    cfg,
		broker: brk,
		clock:  clk,
		logger: logger,
	}
}

// MaxChecks returns the number of status checks a window allows.
func MaxChecks(timeout, interval time.Duration) int {
	if timeout <= 0 || interval <= 0 {
		return 0
	}
	return int((timeout + interval - 1) / interval)
}

// Execute submits req and manages it until a terminal outcome or the end
// of the fill window. A stop request from the caller's run flag is not
// observed until Execute returns. Context cancellation aborts the cycle
// and cancels the live order.
func (e *OrderExecutor) Execute(ctx context.Context, req Request) Result {
	req = e.withDefaults(req)

	c := cycle{
		id:        uuid.New().String(),
		req:       req,
		state:     StateIdle,
		startedAt: e.clock.Now(),
	}

	log := e.logger.With("cycle_id", c.id, "symbol", req.Symbol, "side", req.Side)
	log.Info("execution cycle started",
		"price", req.Price,
		"volume", req.Volume,
		"timeout", req.FillWaitTimeout,
		"reprice_interval", req.RepriceInterval,
	)

	if err := validate(req); err != nil {
		return e.finish(log, c.failSubmit(err))
	}

	c = e.submit(ctx, log, c, req.Price, req.Volume)
	if c.done() {
		return e.finish(log, c)
	}

	maxChecks := MaxChecks(req.FillWaitTimeout, req.RepriceInterval)
	for c.checks < maxChecks && e.clock.Now().Sub(c.startedAt) < req.FillWaitTimeout {
		if err := e.clock.Sleep(ctx, req.RepriceInterval); err != nil {
			return e.finish(log, e.abort(ctx, log, c, err))
		}

		c.checks++
		c = e.check(ctx, log, c)
		if c.done() {
			return e.finish(log, c)
		}
	}

	return e.finish(log, c.expire())
}

func (e *OrderExecutor) withDefaults(req Request) Request {
	if req.FillWaitTimeout <= 0 {
		req.FillWaitTimeout = e.cfg.FillWaitTimeout
	}
	if req.RepriceInterval <= 0 {
		req.RepriceInterval = e.cfg.RepriceInterval
	}
	return req
}

func validate(req Request) error {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return fmt.Errorf("invalid side %d", req.Side)
	}
	if req.Volume <= 0 {
		return fmt.Errorf("%w: %d", types.ErrInvalidOrderSize, req.Volume)
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("%w: %s", types.ErrInvalidPrice, req.Price)
	}
	return nil
}

// submit places a new order. It must only be called when the cycle has no
// live order.
func (e *OrderExecutor) submit(ctx context.Context, log *slog.Logger, c cycle, price decimal.Decimal, volume int64) cycle {
	if c.orderID != "" {
		return c.terminate(fmt.Errorf("submit with live order %s", c.orderID))
	}

	req := broker.OrderRequest{
		ClientID: uuid.New().String(),
		Symbol:   c.req.Symbol,
		Side:     c.req.Side,
		Type:     types.OrderTypeLimit,
		Price:    price,
		Volume:   volume,
	}

	orderID, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		log.Error("order submission failed", "price", price, "volume", volume, "err", err)
		return c.failSubmit(fmt.Errorf("%w: %v", types.ErrSubmissionFailed, err))
	}
	if orderID == "" {
		log.Error("order submission returned no order id", "price", price, "volume", volume)
		return c.failSubmit(types.ErrSubmissionFailed)
	}

	log.Info("order submitted",
		"order_id", orderID,
		"price", price,
		"volume", volume,
		"attempt", len(c.attempts)+1,
	)

	return c.submitted(Attempt{
		OrderID:     orderID,
		ClientID:    req.ClientID,
		Price:       price,
		Volume:      volume,
		Status:      types.OrderStatusSubmitting,
		SubmittedAt: e.clock.Now(),
	})
}

// check runs one status poll of the cycle.
func (e *OrderExecutor) check(ctx context.Context, log *slog.Logger, c cycle) cycle {
	switch c.state {
	case StateSubmitted:
		order, err := e.order(ctx, c.orderID)
		if err != nil {
			log.Warn("order status query failed", "order_id", c.orderID, "err", err)
			return c
		}
		c = c.observe(order)

		switch order.Status {
		case types.OrderStatusAllTraded:
			log.Info("order filled", "order_id", order.ID, "traded", order.Traded, "price", order.LastPrice)
			return c.fill()

		case types.OrderStatusCancelled, types.OrderStatusRejected:
			log.Error("order terminated by venue",
				"order_id", order.ID,
				"status", order.Status,
				"reason", order.RejectReason,
			)
			return c.terminate(fmt.Errorf("%w: order %s %s %s",
				types.ErrOrderTerminated, order.ID, order.Status, order.RejectReason))

		default:
			log.Info("order not filled, cancelling to reprice",
				"order_id", order.ID,
				"status", order.Status,
				"traded", order.Traded,
				"check", c.checks,
			)
			if err := e.broker.CancelOrder(ctx, order.ID); err != nil {
				log.Warn("cancel not acknowledged, will retry", "order_id", order.ID, "err", err)
				return c.cancelUnacknowledged()
			}
			return e.reprice(ctx, log, c.cancelling())
		}

	case StateRepricing:
		return e.reprice(ctx, log, c)
	}

	return c
}

// reprice waits for the cancelled order to become terminal, then
// resubmits the remaining volume at the current best price.
func (e *OrderExecutor) reprice(ctx context.Context, log *slog.Logger, c cycle) cycle {
	if c.orderID != "" {
		order, err := e.order(ctx, c.orderID)
		if err != nil {
			log.Warn("order status query failed", "order_id", c.orderID, "err", err)
			return c
		}
		c = c.observe(order)

		switch order.Status {
		case types.OrderStatusAllTraded:
			log.Info("order filled while cancelling", "order_id", order.ID, "traded", order.Traded)
			return c.fill()
		case types.OrderStatusRejected:
			return c.terminate(fmt.Errorf("%w: order %s %s %s",
				types.ErrOrderTerminated, order.ID, order.Status, order.RejectReason))
		case types.OrderStatusCancelled:
			c = c.cancelled()
		default:
			if c.resendCancel {
				if err := e.broker.CancelOrder(ctx, order.ID); err != nil {
					log.Warn("cancel not acknowledged, will retry", "order_id", order.ID, "err", err)
					return c
				}
				return e.reprice(ctx, log, c.cancelling())
			}
			log.Debug("cancel not yet confirmed", "order_id", order.ID, "status", order.Status)
			return c
		}
	}

	remaining, err := e.remaining(ctx, c)
	if err != nil {
		if errors.Is(err, types.ErrPositionMissing) {
			log.Error("position missing during sell reprice", "err", err)
			return c.terminate(err)
		}
		log.Warn("remaining volume unavailable, will retry", "err", err)
		return c
	}
	if remaining <= 0 {
		log.Info("target volume reached", "filled", c.filled())
		return c.fill()
	}

	q, err := e.broker.GetTick(ctx, c.req.Symbol)
	if err != nil || q == nil || !q.HasTopOfBook() {
		log.Warn("no quote for reprice, will retry", "err", err)
		return c
	}

	price := q.AskPrice1()
	if c.req.Side == types.SideSell {
		price = q.BidPrice1()
	}

	log.Info("repricing order",
		"previous_price", c.lastPrice(),
		"new_price", price,
		"remaining", remaining,
		"reprice", c.reprices+1,
	)

	c.reprices++
	return e.submit(ctx, log, c, price, remaining)
}

// order fetches the cycle's order. An absent order is reported as
// types.ErrOrderNotFound so callers retry it like any failed query.
func (e *OrderExecutor) order(ctx context.Context, orderID string) (*types.Order, error) {
	order, err := e.broker.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	return order, nil
}

// remaining returns the volume still to trade. For buys it is the
// requested volume less every fill the backend reported for this cycle;
// for sells it is the live position, and a missing position is
// types.ErrPositionMissing.
func (e *OrderExecutor) remaining(ctx context.Context, c cycle) (int64, error) {
	if c.req.Side == types.SideBuy {
		rem := c.req.Volume - c.filled()
		if rem < 0 {
			rem = 0
		}
		return rem, nil
	}

	pos, err := e.broker.GetPosition(ctx, broker.LongPosition(c.req.Symbol))
	if err != nil {
		return 0, fmt.Errorf("get position: %w", err)
	}
	if pos == nil {
		return 0, fmt.Errorf("%w: %s", types.ErrPositionMissing, c.req.Symbol)
	}
	return pos.Volume, nil
}

// abort cancels the live order after the caller's context is done.
func (e *OrderExecutor) abort(ctx context.Context, log *slog.Logger, c cycle, cause error) cycle {
	if c.orderID != "" {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AbortCancelTimeout)
		defer cancel()

		if err := e.broker.CancelOrder(cancelCtx, c.orderID); err != nil {
			log.Error("cancel on abort failed", "order_id", c.orderID, "err", err)
		} else {
			log.Warn("live order cancelled on abort", "order_id", c.orderID)
		}
	}
	return c.abort(cause)
}

func (e *OrderExecutor) finish(log *slog.Logger, c cycle) Result {
	res := c.result(e.clock.Now())

	attrs := []any{
		"outcome", res.Outcome,
		"state", res.State,
		"filled", res.Filled,
		"requested", res.Requested,
		"checks", res.Checks,
		"reprices", res.Reprices,
		"order_id", res.OrderID,
	}
	switch res.Outcome {
	case OutcomeFilled:
		log.Info("execution cycle finished", attrs...)
	case OutcomeTimedOut:
		log.Warn("execution cycle timed out", attrs...)
	default:
		log.Error("execution cycle failed", append(attrs, "err", res.Err)...)
	}

	return res
}

var _ Executor = (*OrderExecutor)(nil)
