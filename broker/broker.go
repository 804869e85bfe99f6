// Package broker defines the capability surface the execution engine drives
// and a deterministic simulated matching engine used for dry runs and tests.
package broker

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrInvalidOrder  = errors.New("invalid order request")
	ErrNotConnected  = errors.New("broker not connected")
)

// FillCallback receives pushed fill events. Callbacks may be invoked from a
// goroutine the receiver does not control; implementations must marshal into
// their own execution context before touching shared state.
type FillCallback func(Fill)

// TickCallback receives pushed market data ticks, same delivery rules as
// FillCallback.
type TickCallback func(Tick)

// Broker abstracts the brokerage operations the execution engine requires.
// Implementations own Position and account balance exclusively; callers only
// read them through the query methods or pushed events.
type Broker interface {
	// Connect and Disconnect are idempotent lifecycle operations.
	Connect() error
	Disconnect() error

	// Subscribe requests market data for symbol.
	Subscribe(symbol string) error

	// PlaceOrder submits a request and returns the order in its initial
	// (pending) state. Completion arrives asynchronously via fill callbacks.
	PlaceOrder(req OrderRequest) (Order, error)

	// CancelOrder is best-effort and idempotent: cancelling an order that is
	// already terminal is a no-op, not an error.
	CancelOrder(orderID string) error

	// GetPosition returns the net position for symbol, zero value if none.
	GetPosition(symbol string) Position

	// GetAccountBalance returns the current account balance.
	GetAccountBalance() decimal.Decimal

	// GetOpenOrders returns snapshots of all non-terminal orders.
	GetOpenOrders() []Order

	// AddFillCallback and AddTickCallback register push listeners. Multiple
	// listeners are invoked in registration order.
	AddFillCallback(cb FillCallback)
	AddTickCallback(cb TickCallback)
}
