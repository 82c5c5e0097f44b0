// Package types defines shared types used across the execution controller.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

// Direction is the side of a held position.
type Direction int

const (
	DirectionLong Direction = iota + 1
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// OrderType is the pricing type of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LMT"
	OrderTypeMarket OrderType = "MKT"
)

// OrderStatus represents the backend state of an order.
type OrderStatus int

const (
	OrderStatusSubmitting OrderStatus = iota
	OrderStatusNotTraded
	OrderStatusPartTraded
	OrderStatusAllTraded
	OrderStatusCancelled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitting:
		return "SUBMITTING"
	case OrderStatusNotTraded:
		return "NOT_TRADED"
	case OrderStatusPartTraded:
		return "PART_TRADED"
	case OrderStatusAllTraded:
		return "ALL_TRADED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusAllTraded, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// IsLive returns true while the order can still trade.
func (s OrderStatus) IsLive() bool {
	return !s.IsFinal()
}

// BookLevel is one price level of the order book.
type BookLevel struct {
	Price  decimal.Decimal
	Volume int64
}

// Quote is a market snapshot for one instrument.
// Bids[0] and Asks[0] are the best levels; deeper levels may be zero.
type Quote struct {
	Symbol       string
	Exchange     string
	Timestamp    time.Time
	Bids         [5]BookLevel
	Asks         [5]BookLevel
	LastPrice    decimal.Decimal
	LastVolume   int64
	Volume       int64 // Session cumulative volume
	OpenInterest int64
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	PreClose     decimal.Decimal
	LimitUp      decimal.Decimal
	LimitDown    decimal.Decimal
}

// BidPrice1 returns the best bid price.
func (q *Quote) BidPrice1() decimal.Decimal { return q.Bids[0].Price }

// AskPrice1 returns the best ask price.
func (q *Quote) AskPrice1() decimal.Decimal { return q.Asks[0].Price }

// BidVolume1 returns the size at the best bid.
func (q *Quote) BidVolume1() int64 { return q.Bids[0].Volume }

// AskVolume1 returns the size at the best ask.
func (q *Quote) AskVolume1() int64 { return q.Asks[0].Volume }

// HasTopOfBook reports whether both best bid and best ask are usable.
func (q *Quote) HasTopOfBook() bool {
	return q.BidPrice1().IsPositive() && q.AskPrice1().IsPositive()
}

// Position is a held position as reported by the account backend.
type Position struct {
	Symbol        string
	Direction     Direction
	Volume        int64
	AvgPrice      decimal.Decimal
	UnrealizedPnL decimal.Decimal
	LastUpdated   time.Time
}

// Cost returns the position cost basis (average price times volume).
func (p *Position) Cost() decimal.Decimal {
	return p.AvgPrice.Mul(decimal.NewFromInt(p.Volume))
}

// Order is an order as reported by the order backend.
type Order struct {
	ID           string
	ClientID     string
	Symbol       string
	Side         Side
	Type         OrderType
	Price        decimal.Decimal
	Volume       int64
	Traded       int64
	Status       OrderStatus
	LastPrice    decimal.Decimal
	RejectReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining returns the untraded volume of the order.
func (o *Order) Remaining() int64 {
	if rem := o.Volume - o.Traded; rem > 0 {
		return rem
	}
	return 0
}
