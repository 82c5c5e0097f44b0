// Package broker defines the trading-engine facade consumed by the
// execution controller.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/types"
)

// Common broker errors.
var (
	ErrNotConnected    = errors.New("broker not connected")
	ErrInvalidContract = errors.New("invalid contract")
	ErrRateLimited     = errors.New("rate limited by broker")
	ErrMarketClosed    = errors.New("market closed")
)

// Broker is the facade the controller calls into. Query methods return a
// nil value with a nil error when the requested object is absent.
type Broker interface {
	// Market data
	Subscribe(ctx context.Context, symbols ...string) error
	GetContract(ctx context.Context, symbol string) (*Contract, error)
	GetTick(ctx context.Context, symbol string) (*types.Quote, error)

	// Account information
	GetAccount(ctx context.Context, accountID string) (*AccountSummary, error)
	GetPosition(ctx context.Context, key PositionKey) (*types.Position, error)
	GetPositions(ctx context.Context) ([]types.Position, error)

	// Order execution. SubmitOrder returns an empty ID when the venue
	// did not accept the order.
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*types.Order, error)

	// WriteLog forwards an operator-facing message to the engine log.
	WriteLog(msg string)
}

// PositionKey identifies a position in the account backend.
type PositionKey struct {
	Symbol    string
	Direction types.Direction
}

// String returns the "SYMBOL.DIRECTION" form of the key.
func (k PositionKey) String() string {
	return k.Symbol + "." + k.Direction.String()
}

// LongPosition returns the key of the long position for symbol.
func LongPosition(symbol string) PositionKey {
	return PositionKey{Symbol: symbol, Direction: types.DirectionLong}
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	ClientID string
	Symbol   string
	Side     types.Side
	Type     types.OrderType
	Price    decimal.Decimal
	Volume   int64
}

// Validate checks the request for obviously malformed values.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return types.ErrInvalidSymbol
	}
	if r.Side != types.SideBuy && r.Side != types.SideSell {
		return fmt.Errorf("invalid side %d", r.Side)
	}
	if r.Volume <= 0 {
		return fmt.Errorf("%w: %d", types.ErrInvalidOrderSize, r.Volume)
	}
	if r.Type == types.OrderTypeLimit && !r.Price.IsPositive() {
		return fmt.Errorf("%w: %s", types.ErrInvalidPrice, r.Price)
	}
	return nil
}

// AccountSummary contains account information.
type AccountSummary struct {
	AccountID   string
	Currency    string
	Balance     decimal.Decimal
	Frozen      decimal.Decimal
	Available   decimal.Decimal
	LastUpdated time.Time
}

// Contract describes a tradeable instrument.
type Contract struct {
	Symbol    string
	Exchange  string
	Name      string
	Product   string // EQUITY, FUTURES, etc.
	Currency  string
	LotSize   int64
	PriceTick decimal.Decimal
}

// VTSymbol returns the "SYMBOL.EXCHANGE" identifier.
func (c Contract) VTSymbol() string {
	return c.Symbol + "." + c.Exchange
}

// SplitSymbol splits a "SYMBOL.EXCHANGE" identifier. A bare symbol yields
// an empty exchange.
func SplitSymbol(vtSymbol string) (symbol, exchange string) {
	idx := strings.LastIndex(vtSymbol, ".")
	if idx < 0 {
		return vtSymbol, ""
	}
	return vtSymbol[:idx], vtSymbol[idx+1:]
}
