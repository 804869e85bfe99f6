package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"futures-exec-go/broker"
)

// Signal is a request from the strategy layer to open one bracketed trade.
type Signal struct {
	Symbol    string           `json:"symbol"`
	Side      broker.Side      `json:"side"`
	Qty       int              `json:"qty"`
	EntryType broker.OrderType `json:"entryType"`
	// LimitPrice applies when EntryType is LIMIT; zero means not set.
	LimitPrice decimal.Decimal `json:"limitPrice"`
	// StopTicks and TargetTicks are protective distances from the entry fill
	// price, in ticks. Both must be positive.
	StopTicks   int    `json:"stopTicks"`
	TargetTicks int    `json:"targetTicks"`
	Reason      string `json:"reason"`
}

// Validate checks the signal is well formed before it reaches the broker.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal: empty symbol")
	}
	if s.Side != broker.SideBuy && s.Side != broker.SideSell {
		return fmt.Errorf("signal: bad side %q", s.Side)
	}
	if s.Qty <= 0 {
		return fmt.Errorf("signal: qty must be > 0")
	}
	switch s.EntryType {
	case broker.TypeMarket:
	case broker.TypeLimit:
		if s.LimitPrice.IsZero() {
			return fmt.Errorf("signal: limit entry without limit price")
		}
	default:
		return fmt.Errorf("signal: bad entry type %q", s.EntryType)
	}
	if s.StopTicks <= 0 || s.TargetTicks <= 0 {
		return fmt.Errorf("signal: stop/target ticks must be > 0")
	}
	return nil
}
