// Package ticks polls the facade for the latest quote of an instrument.
package ticks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tathienbao/repricer/internal/broker"
	"github.com/tathienbao/repricer/internal/clock"
	"github.com/tathienbao/repricer/internal/types"
)

// Config holds poller settings.
type Config struct {
	// MaxQuoteAge rejects quotes older than this. Zero disables the check.
	MaxQuoteAge time.Duration
}

// Poller pulls quotes on demand. It never retries; an absent result means
// "no actionable data this tick" and the caller decides how long to back off.
type Poller struct {
	cfg    Config
	broker broker.Broker
	clock  clock.Clock
	logger *slog.Logger
}

// NewPoller creates a new poller.
func NewPoller(cfg Config, brk broker.Broker, clk clock.Clock, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Poller{
		cfg:    cfg,
		broker: brk,
		clock:  clk,
		logger: logger,
	}
}

// Poll returns the latest usable quote for symbol, or nil when there is none.
// A quote is unusable when it lacks a positive best bid and ask or is stale.
func (p *Poller) Poll(ctx context.Context, symbol string) (*types.Quote, error) {
	q, err := p.broker.GetTick(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDataUnavailable, err)
	}
	if q == nil {
		p.logger.Debug("no quote available", "symbol", symbol)
		return nil, nil
	}

	if !q.HasTopOfBook() {
		p.logger.Debug("quote without top of book",
			"symbol", symbol,
			"bid", q.BidPrice1(),
			"ask", q.AskPrice1(),
		)
		return nil, nil
	}

	if p.cfg.MaxQuoteAge > 0 && !q.Timestamp.IsZero() {
		if age := p.clock.Now().Sub(q.Timestamp); age > p.cfg.MaxQuoteAge {
			p.logger.Warn("stale quote ignored",
				"symbol", symbol,
				"age", age,
				"max_age", p.cfg.MaxQuoteAge,
			)
			return nil, nil
		}
	}

	return q, nil
}
