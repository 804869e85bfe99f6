package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"futures-exec-go/broker"
)

// TradeContext binds one logical trade to the orders managing it. It lives
// from entry submission until a bracket leg fills or the trade is abandoned,
// and is only ever touched from the engine's event loop.
type TradeContext struct {
	EntryOrderID  string
	StopOrderID   string
	TargetOrderID string
	// FlattenOrderID is set only on the emergency or session flatten path.
	FlattenOrderID string

	Symbol    string
	Side      broker.Side
	Qty       int
	FilledQty int
	// ExitQty accumulates exit-side fill quantity; the trade is complete only
	// once it covers FilledQty.
	ExitQty     int
	EntryPrice  decimal.Decimal
	StopTicks   int
	TargetTicks int
	Reason      string
	EntryTime   time.Time

	bracketPlaced bool
}

// EntryFilled reports whether the entry order is completely filled.
func (c *TradeContext) EntryFilled() bool {
	return c.FilledQty >= c.Qty
}

// ExitSide is the direction that closes this trade.
func (c *TradeContext) ExitSide() broker.Side {
	return c.Side.Opposite()
}

// TradeResult is the completion record emitted when a trade closes. It is the
// shape consumed by journaling and post-trade analysis.
type TradeResult struct {
	Symbol     string
	Side       broker.Side
	Qty        int
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	PnLTicks   decimal.Decimal
	PnLUSD     decimal.Decimal
	ExitReason string // "stop", "target", or "flatten"
	Reason     string // originating signal reason
	EntryTime  time.Time
	ClosedAt   time.Time
}

// Duration is the time the trade was held.
func (r TradeResult) Duration() time.Duration {
	return r.ClosedAt.Sub(r.EntryTime)
}

// Win reports whether the trade closed with a positive dollar result.
func (r TradeResult) Win() bool {
	return r.PnLUSD.IsPositive()
}
