package broker

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int {
	if s == SideBuy {
		return 1
	}
	return -1
}

// OrderType is the execution style of an order.
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
	TypeStop   OrderType = "STOP"
)

// OrderStatus represents order lifecycle.
type OrderStatus string

const (
	StatusPending       OrderStatus = "PENDING"
	StatusAccepted      OrderStatus = "ACCEPTED"
	StatusPartialFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled        OrderStatus = "FILLED"
	StatusCancelled     OrderStatus = "CANCELLED"
	StatusRejected      OrderStatus = "REJECTED"
	StatusExpired       OrderStatus = "EXPIRED"
)

// OrderRequest is an immutable request to place an order.
// LimitPrice is required for LIMIT orders, StopPrice for STOP orders;
// a zero decimal means "not set".
type OrderRequest struct {
	Symbol     string
	Side       Side
	Qty        int
	Type       OrderType
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
}

// Order holds the broker-side view of an order's state.
type Order struct {
	ID           string
	Request      OrderRequest
	Status       OrderStatus
	FilledQty    int
	AvgFillPrice decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() int {
	return o.Request.Qty - o.FilledQty
}

// IsDone reports whether the order is in a terminal status.
func (o *Order) IsDone() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Fill is a single execution event. One Fill may represent a full or
// partial execution of its order.
type Fill struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      Side
	Qty       int
	Price     decimal.Decimal
	Timestamp time.Time
}

// SignedQty returns the fill quantity signed by side (+buy, -sell).
func (f Fill) SignedQty() int {
	return f.Side.Sign() * f.Qty
}

// Position is the net position for one symbol. Qty > 0 is long, < 0 short.
// AvgPrice is meaningful only while Qty != 0.
type Position struct {
	Symbol        string
	Qty           int
	AvgPrice      decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

func (p Position) IsLong() bool  { return p.Qty > 0 }
func (p Position) IsShort() bool { return p.Qty < 0 }
func (p Position) IsFlat() bool  { return p.Qty == 0 }

// Tick is a single price/volume observation for a symbol.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    int64
	Timestamp time.Time
}

// SymbolSpec describes the contract economics of a tradable symbol.
type SymbolSpec struct {
	TickSize   decimal.Decimal
	TickValue  decimal.Decimal
	Multiplier decimal.Decimal
}

// NewID generates a unique order/fill identifier.
func NewID() string {
	return uuid.NewString()
}
