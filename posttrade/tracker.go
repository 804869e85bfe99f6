// Package posttrade aggregates completed-trade records into session
// statistics: win rate, net result, and exit-reason breakdown.
package posttrade

import (
	"sync"

	"github.com/shopspring/decimal"

	"futures-exec-go/execution"
)

// Stats is a snapshot of the session's trading performance.
type Stats struct {
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	GrossProfit  decimal.Decimal
	GrossLoss    decimal.Decimal
	NetPnLUSD    decimal.Decimal
	TotalTicks   decimal.Decimal
	ByExitReason map[string]int
}

// Tracker accumulates trade results. Register OnTradeClosed with the
// execution engine as a trade listener.
type Tracker struct {
	mu     sync.Mutex
	trades []execution.TradeResult
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// OnTradeClosed records one completed trade.
func (t *Tracker) OnTradeClosed(r execution.TradeResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = append(t.trades, r)
}

// Stats computes the current session statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		TotalTrades:  len(t.trades),
		GrossProfit:  decimal.Zero,
		GrossLoss:    decimal.Zero,
		NetPnLUSD:    decimal.Zero,
		TotalTicks:   decimal.Zero,
		ByExitReason: make(map[string]int),
	}

	for _, r := range t.trades {
		stats.NetPnLUSD = stats.NetPnLUSD.Add(r.PnLUSD)
		stats.TotalTicks = stats.TotalTicks.Add(r.PnLTicks)
		stats.ByExitReason[r.ExitReason]++
		if r.Win() {
			stats.Wins++
			stats.GrossProfit = stats.GrossProfit.Add(r.PnLUSD)
		} else {
			stats.Losses++
			stats.GrossLoss = stats.GrossLoss.Add(r.PnLUSD)
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades)
	}
	return stats
}

// Trades returns a copy of all recorded results.
func (t *Tracker) Trades() []execution.TradeResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]execution.TradeResult, len(t.trades))
	copy(out, t.trades)
	return out
}
