// Package paper provides an in-memory trading facade for paper trading
// and tests. Limit orders match against the level-1 book of the latest
// injected quote; unmatched volume rests until the next quote.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/broker"
	"github.com/tathienbao/repricer/internal/types"
)

// Config holds paper trading configuration.
type Config struct {
	AccountID   string
	Currency    string
	InitialCash decimal.Decimal
	Contracts   []broker.Contract
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	return Config{
		AccountID:   "PAPER",
		Currency:    "HKD",
		InitialCash: decimal.NewFromInt(1_000_000),
		Contracts: []broker.Contract{
			{
				Symbol:    "00700",
				Exchange:  "SEHK",
				Name:      "TENCENT",
				Product:   "EQUITY",
				Currency:  "HKD",
				LotSize:   100,
				PriceTick: decimal.RequireFromString("0.01"),
			},
		},
	}
}

// Broker implements broker.Broker in memory.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	cash       decimal.Decimal
	contracts  map[string]broker.Contract
	subscribed map[string]bool
	quotes     map[string]types.Quote
	positions  map[string]*types.Position
	orders     map[string]*types.Order
	orderSeq   []string // order IDs in submission order

	nextOrderID atomic.Int64
	failSubmits atomic.Int64
}

// NewBroker creates a new paper trading broker.
func NewBroker(cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Broker{
		cfg:        cfg,
		logger:     logger,
		cash:       cfg.InitialCash,
		contracts:  make(map[string]broker.Contract),
		subscribed: make(map[string]bool),
		quotes:     make(map[string]types.Quote),
		positions:  make(map[string]*types.Position),
		orders:     make(map[string]*types.Order),
	}
	for _, c := range cfg.Contracts {
		b.contracts[c.Symbol] = c
	}

	return b
}

// Subscribe marks symbols as subscribed. Quotes for unsubscribed symbols
// are stored but not returned by GetTick.
func (b *Broker) Subscribe(ctx context.Context, symbols ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range symbols {
		b.subscribed[s] = true
		b.logger.Info("subscribed to market data", "symbol", s)
	}
	return nil
}

// GetContract returns contract metadata, or nil if unknown.
func (b *Broker) GetContract(ctx context.Context, symbol string) (*broker.Contract, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.contracts[symbol]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// GetTick returns the latest quote, or nil if none is available.
func (b *Broker) GetTick(ctx context.Context, symbol string) (*types.Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.subscribed[symbol] {
		return nil, nil
	}
	q, ok := b.quotes[symbol]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

// SetQuote injects a market snapshot, marks positions and matches resting orders.
func (b *Broker) SetQuote(q types.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.quotes[q.Symbol] = q
	b.matchRestingLocked(q.Symbol)
	b.markPositionLocked(q.Symbol)
}

// ClearQuote removes the cached quote so GetTick returns nil.
func (b *Broker) ClearQuote(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.quotes, symbol)
}

// GetAccount returns the account summary, or nil for an unknown account.
func (b *Broker) GetAccount(ctx context.Context, accountID string) (*broker.AccountSummary, error) {
	if accountID != b.cfg.AccountID {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	frozen := decimal.Zero
	for _, o := range b.orders {
		if o.Side == types.SideBuy && o.Status.IsLive() {
			frozen = frozen.Add(o.Price.Mul(decimal.NewFromInt(o.Remaining())))
		}
	}

	return &broker.AccountSummary{
		AccountID:   b.cfg.AccountID,
		Currency:    b.cfg.Currency,
		Balance:     b.cash,
		Frozen:      frozen,
		Available:   b.cash.Sub(frozen),
		LastUpdated: time.Now(),
	}, nil
}

// GetPosition returns the position for key, or nil when flat.
func (b *Broker) GetPosition(ctx context.Context, key broker.PositionKey) (*types.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[key.Symbol]
	if !ok || pos.Direction != key.Direction {
		return nil, nil
	}
	p := *pos
	return &p, nil
}

// GetPositions returns all positions ordered by symbol.
func (b *Broker) GetPositions(ctx context.Context) ([]types.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	positions := make([]types.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// SetPosition seeds a long position, replacing any existing one.
func (b *Broker) SetPosition(pos types.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pos.Volume <= 0 {
		delete(b.positions, pos.Symbol)
		return
	}
	if pos.Direction == 0 {
		pos.Direction = types.DirectionLong
	}
	pos.LastUpdated = time.Now()
	b.positions[pos.Symbol] = &pos
}

// FailNextSubmissions makes the next n SubmitOrder calls return no order ID.
func (b *Broker) FailNextSubmissions(n int) {
	b.failSubmits.Store(int64(n))
}

// SubmitOrder places a limit order and matches it against the current book.
func (b *Broker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}

	if b.failSubmits.Load() > 0 {
		b.failSubmits.Add(-1)
		b.logger.Warn("paper order refused", "symbol", req.Symbol, "side", req.Side)
		return "", nil
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.New().String()
	}
	orderType := req.Type
	if orderType == "" {
		orderType = types.OrderTypeLimit
	}

	now := time.Now()
	order := &types.Order{
		ID:        fmt.Sprintf("PAPER-%d", b.nextOrderID.Add(1)),
		ClientID:  clientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      orderType,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    types.OrderStatusNotTraded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders[order.ID] = order
	b.orderSeq = append(b.orderSeq, order.ID)

	b.logger.Info("paper order placed",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"price", order.Price,
		"volume", order.Volume,
	)

	if reason := b.rejectReasonLocked(order); reason != "" {
		order.Status = types.OrderStatusRejected
		order.RejectReason = reason
		b.logger.Warn("paper order rejected", "order_id", order.ID, "reason", reason)
		return order.ID, nil
	}

	if q, ok := b.quotes[order.Symbol]; ok {
		b.matchLocked(order, &q)
		b.quotes[order.Symbol] = q
		b.markPositionLocked(order.Symbol)
	}

	return order.ID, nil
}

// rejectReasonLocked returns a non-empty reason if the venue refuses the order.
func (b *Broker) rejectReasonLocked(o *types.Order) string {
	if q, ok := b.quotes[o.Symbol]; ok {
		if q.LimitUp.IsPositive() && o.Price.GreaterThan(q.LimitUp) {
			return "price above limit up"
		}
		if q.LimitDown.IsPositive() && o.Price.LessThan(q.LimitDown) {
			return "price below limit down"
		}
	}

	if o.Side == types.SideSell {
		held := int64(0)
		if pos, ok := b.positions[o.Symbol]; ok {
			held = pos.Volume
		}
		for _, other := range b.orders {
			if other.ID != o.ID && other.Symbol == o.Symbol && other.Side == types.SideSell && other.Status.IsLive() {
				held -= other.Remaining()
			}
		}
		if o.Volume > held {
			return "insufficient position"
		}
	}

	return ""
}

// matchRestingLocked matches live orders for symbol in submission order.
func (b *Broker) matchRestingLocked(symbol string) {
	q, ok := b.quotes[symbol]
	if !ok {
		return
	}

	for _, id := range b.orderSeq {
		o := b.orders[id]
		if o.Symbol == symbol && o.Status.IsLive() {
			b.matchLocked(o, &q)
		}
	}
	b.quotes[symbol] = q
}

// matchLocked fills o against the top of book in q, consuming displayed size.
func (b *Broker) matchLocked(o *types.Order, q *types.Quote) {
	var level *types.BookLevel
	switch o.Side {
	case types.SideBuy:
		level = &q.Asks[0]
		if !level.Price.IsPositive() || o.Price.LessThan(level.Price) {
			return
		}
	case types.SideSell:
		level = &q.Bids[0]
		if !level.Price.IsPositive() || o.Price.GreaterThan(level.Price) {
			return
		}
	default:
		return
	}

	qty := o.Remaining()
	if level.Volume < qty {
		qty = level.Volume
	}
	if qty <= 0 {
		return
	}

	level.Volume -= qty
	o.Traded += qty
	o.LastPrice = level.Price
	o.UpdatedAt = time.Now()
	if o.Remaining() == 0 {
		o.Status = types.OrderStatusAllTraded
	} else {
		o.Status = types.OrderStatusPartTraded
	}

	b.applyFillLocked(o.Symbol, o.Side, qty, level.Price)

	b.logger.Info("paper order filled",
		"order_id", o.ID,
		"side", o.Side,
		"qty", qty,
		"price", level.Price,
		"status", o.Status,
	)
}

// applyFillLocked updates cash and the long position after a fill.
func (b *Broker) applyFillLocked(symbol string, side types.Side, qty int64, price decimal.Decimal) {
	notional := price.Mul(decimal.NewFromInt(qty))
	pos, exists := b.positions[symbol]

	switch side {
	case types.SideBuy:
		b.cash = b.cash.Sub(notional)
		if !exists {
			b.positions[symbol] = &types.Position{
				Symbol:      symbol,
				Direction:   types.DirectionLong,
				Volume:      qty,
				AvgPrice:    price,
				LastUpdated: time.Now(),
			}
			return
		}
		totalCost := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Volume)).Add(notional)
		pos.Volume += qty
		pos.AvgPrice = totalCost.Div(decimal.NewFromInt(pos.Volume))
		pos.LastUpdated = time.Now()

	case types.SideSell:
		b.cash = b.cash.Add(notional)
		if !exists {
			return
		}
		pos.Volume -= qty
		if pos.Volume <= 0 {
			delete(b.positions, symbol)
			return
		}
		pos.LastUpdated = time.Now()
	}
}

// markPositionLocked recomputes unrealized P&L from the best bid, falling
// back to the last trade price.
func (b *Broker) markPositionLocked(symbol string) {
	pos, ok := b.positions[symbol]
	if !ok {
		return
	}
	q, ok := b.quotes[symbol]
	if !ok {
		return
	}

	mark := q.BidPrice1()
	if !mark.IsPositive() {
		mark = q.LastPrice
	}
	if !mark.IsPositive() {
		return
	}

	pos.UnrealizedPnL = mark.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(pos.Volume))
	pos.LastUpdated = time.Now()
}

// CancelOrder cancels a live order. Cancelling a terminal order is a no-op.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, types.ErrOrderNotFound)
	}

	if order.Status.IsLive() {
		order.Status = types.OrderStatusCancelled
		order.UpdatedAt = time.Now()
		b.logger.Info("paper order cancelled", "order_id", orderID, "traded", order.Traded)
	}

	return nil
}

// CancelByVenue simulates the venue cancelling a live order on its own.
func (b *Broker) CancelByVenue(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if order, ok := b.orders[orderID]; ok && order.Status.IsLive() {
		order.Status = types.OrderStatusCancelled
		order.RejectReason = "cancelled by venue"
		order.UpdatedAt = time.Now()
	}
}

// GetOrder returns a copy of the order state.
func (b *Broker) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", orderID, types.ErrOrderNotFound)
	}
	o := *order
	return &o, nil
}

// Orders returns all orders in submission order.
func (b *Broker) Orders() []types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	orders := make([]types.Order, 0, len(b.orderSeq))
	for _, id := range b.orderSeq {
		orders = append(orders, *b.orders[id])
	}
	return orders
}

// WriteLog writes an engine message to the broker logger.
func (b *Broker) WriteLog(msg string) {
	b.logger.Info(msg, "source", "engine")
}

// Cash returns the current cash balance.
func (b *Broker) Cash() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cash
}

// Ensure Broker implements broker.Broker
var _ broker.Broker = (*Broker)(nil)
