package risk

import "github.com/shopspring/decimal"

// State is the mutable account-risk state for a single trading session.
// It is owned and mutated exclusively by the Governor.
type State struct {
	// DailyPnL is the cumulative realized PnL for the day (USD).
	DailyPnL decimal.Decimal

	// TradeCount is the number of executed trades today.
	TradeCount int

	// HighWaterMark is the peak balance seen, for trailing drawdown.
	// hwmSet distinguishes "no balance seen yet" from a zero balance.
	HighWaterMark  decimal.Decimal
	CurrentBalance decimal.Decimal
	hwmSet         bool

	// Kill switch: sticky until explicitly reset.
	KillSwitchActive bool
	KillSwitchReason string
}

// UpdateBalance records the latest balance and ratchets the high-water mark,
// which is monotonically non-decreasing within a session.
func (s *State) UpdateBalance(balance decimal.Decimal) {
	s.CurrentBalance = balance
	if !s.hwmSet || balance.GreaterThan(s.HighWaterMark) {
		s.HighWaterMark = balance
		s.hwmSet = true
	}
}

// CurrentDrawdown returns the gap between the high-water mark and the
// current balance, never negative.
func (s *State) CurrentDrawdown() decimal.Decimal {
	if !s.hwmSet {
		return decimal.Zero
	}
	dd := s.HighWaterMark.Sub(s.CurrentBalance)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// ResetDaily clears daily counters for a new trading session and re-bases
// the high-water mark. The kill switch is deliberately NOT cleared here:
// resuming after a trip requires an explicit operator reset.
func (s *State) ResetDaily(startingBalance *decimal.Decimal) {
	s.DailyPnL = decimal.Zero
	s.TradeCount = 0
	if startingBalance != nil {
		s.CurrentBalance = *startingBalance
		s.HighWaterMark = *startingBalance
		s.hwmSet = true
	} else {
		s.HighWaterMark = s.CurrentBalance
	}
}
