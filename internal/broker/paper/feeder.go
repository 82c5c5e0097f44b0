package paper

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/types"
)

// FeederConfig controls the synthetic quote stream.
type FeederConfig struct {
	Symbol     string
	Exchange   string
	StartPrice decimal.Decimal
	Tick       decimal.Decimal
	Spread     int   // Ticks between bid and ask
	LevelSize  int64 // Displayed size per level
	Interval   time.Duration
	Seed       int64
}

// DefaultFeederConfig returns a feeder for the default paper contract.
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Symbol:     "00700",
		Exchange:   "SEHK",
		StartPrice: decimal.RequireFromString("6.20"),
		Tick:       decimal.RequireFromString("0.01"),
		Spread:     1,
		LevelSize:  1000,
		Interval:   time.Second,
		Seed:       1,
	}
}

// Feeder pushes random-walk quotes into a paper Broker.
type Feeder struct {
	cfg    FeederConfig
	broker *Broker
	rng    *rand.Rand
	mid    decimal.Decimal
	open   decimal.Decimal
	high   decimal.Decimal
	low    decimal.Decimal
	volume int64
	logger *slog.Logger
}

// NewFeeder creates a feeder for b.
func NewFeeder(cfg FeederConfig, b *Broker, logger *slog.Logger) *Feeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeder{
		cfg:    cfg,
		broker: b,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		mid:    cfg.StartPrice,
		open:   cfg.StartPrice,
		high:   cfg.StartPrice,
		low:    cfg.StartPrice,
		logger: logger,
	}
}

// Next advances the walk by one step and returns the resulting quote.
func (f *Feeder) Next(ts time.Time) types.Quote {
	step := int64(f.rng.Intn(3) - 1) // -1, 0, +1 tick
	f.mid = f.mid.Add(f.cfg.Tick.Mul(decimal.NewFromInt(step)))
	if !f.mid.GreaterThan(f.cfg.Tick) {
		f.mid = f.cfg.Tick.Mul(decimal.NewFromInt(2))
	}
	if f.mid.GreaterThan(f.high) {
		f.high = f.mid
	}
	if f.mid.LessThan(f.low) {
		f.low = f.mid
	}

	lastVolume := int64(f.rng.Intn(10)+1) * 100
	f.volume += lastVolume

	q := types.Quote{
		Symbol:     f.cfg.Symbol,
		Exchange:   f.cfg.Exchange,
		Timestamp:  ts,
		LastPrice:  f.mid,
		LastVolume: lastVolume,
		Volume:     f.volume,
		Open:       f.open,
		High:       f.high,
		Low:        f.low,
		PreClose:   f.cfg.StartPrice,
		LimitUp:    f.cfg.StartPrice.Mul(decimal.RequireFromString("1.1")),
		LimitDown:  f.cfg.StartPrice.Mul(decimal.RequireFromString("0.9")),
	}

	for i := 0; i < len(q.Bids); i++ {
		bidOffset := int64(i)
		askOffset := int64(i + f.cfg.Spread)
		q.Bids[i] = types.BookLevel{
			Price:  f.mid.Sub(f.cfg.Tick.Mul(decimal.NewFromInt(bidOffset))),
			Volume: f.cfg.LevelSize,
		}
		q.Asks[i] = types.BookLevel{
			Price:  f.mid.Add(f.cfg.Tick.Mul(decimal.NewFromInt(askOffset))),
			Volume: f.cfg.LevelSize,
		}
	}

	return q
}

// Run publishes a quote every Interval until ctx is cancelled.
func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.logger.Info("paper feeder started", "symbol", f.cfg.Symbol, "interval", f.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("paper feeder stopped")
			return
		case ts := <-ticker.C:
			f.broker.SetQuote(f.Next(ts))
		}
	}
}
