package broker

import (
	"context"
	"fmt"

	"github.com/tathienbao/repricer/internal/types"
	"golang.org/x/time/rate"
)

// RateLimited throttles the request-issuing calls of a Broker. Log writes
// and subscriptions pass straight through.
type RateLimited struct {
	inner   Broker
	limiter *rate.Limiter
}

// NewRateLimited wraps b with a token bucket of perSecond requests and the
// same burst. perSecond <= 0 disables limiting.
func NewRateLimited(b Broker, perSecond int) *RateLimited {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = perSecond
	}
	return &RateLimited{
		inner:   b,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrRateLimitExceeded, err)
	}
	return nil
}

// Subscribe subscribes to market data.
func (r *RateLimited) Subscribe(ctx context.Context, symbols ...string) error {
	return r.inner.Subscribe(ctx, symbols...)
}

// GetContract returns contract metadata.
func (r *RateLimited) GetContract(ctx context.Context, symbol string) (*Contract, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetContract(ctx, symbol)
}

// GetTick returns the latest quote.
func (r *RateLimited) GetTick(ctx context.Context, symbol string) (*types.Quote, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetTick(ctx, symbol)
}

// GetAccount returns the account summary.
func (r *RateLimited) GetAccount(ctx context.Context, accountID string) (*AccountSummary, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetAccount(ctx, accountID)
}

// GetPosition returns one position.
func (r *RateLimited) GetPosition(ctx context.Context, key PositionKey) (*types.Position, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetPosition(ctx, key)
}

// GetPositions returns all positions.
func (r *RateLimited) GetPositions(ctx context.Context) ([]types.Position, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetPositions(ctx)
}

// SubmitOrder submits an order.
func (r *RateLimited) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.inner.SubmitOrder(ctx, req)
}

// CancelOrder cancels an order.
func (r *RateLimited) CancelOrder(ctx context.Context, orderID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.CancelOrder(ctx, orderID)
}

// GetOrder returns order state.
func (r *RateLimited) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetOrder(ctx, orderID)
}

// WriteLog forwards to the wrapped broker.
func (r *RateLimited) WriteLog(msg string) {
	r.inner.WriteLog(msg)
}

var _ Broker = (*RateLimited)(nil)
