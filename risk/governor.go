// Package risk implements the single admission-control authority for the
// trading core: circuit breakers over session PnL and drawdown, per-trade
// risk ceilings, and the sticky kill switch.
package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-exec-go/metrics"
)

// Config holds the risk limits the Governor enforces.
type Config struct {
	DailyLossLimitUSD  decimal.Decimal
	MaxDrawdownUSD     decimal.Decimal
	MaxRiskPerTradeUSD decimal.Decimal
	MaxTradesPerDay    int
	// KillSwitchOnBoot trips the kill switch at construction time.
	KillSwitchOnBoot bool
}

// SymbolLimit carries the per-symbol contract cap and the tick economics
// needed to price a proposed trade's risk.
type SymbolLimit struct {
	MaxContracts int
	TickSize     decimal.Decimal
	TickValue    decimal.Decimal
}

// Governor answers "can I trade at all" and "can I take this specific trade".
// It owns State; other components never mutate it directly.
type Governor struct {
	mu     sync.Mutex
	cfg    Config
	limits map[string]SymbolLimit
	state  State
	log    *zap.Logger

	onKillSwitch func(reason string)
}

// NewGovernor creates a Governor. limits maps symbol to its contract cap and
// tick economics; symbols absent from the map are rejected outright.
func NewGovernor(cfg Config, limits map[string]SymbolLimit, log *zap.Logger) *Governor {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Governor{cfg: cfg, limits: limits, log: log}
	metrics.KillSwitchActive.Set(0)
	if cfg.KillSwitchOnBoot {
		g.TripKillSwitch("configured kill switch is ON")
	}
	return g
}

// UpdateConfig swaps in new risk limits at runtime, for config hot reload.
// The kill-switch-on-boot flag is ignored here; it only applies at
// construction.
func (g *Governor) UpdateConfig(cfg Config, limits map[string]SymbolLimit) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
	if limits != nil {
		g.limits = limits
	}
	g.log.Info("risk limits updated",
		zap.String("daily_loss_limit", cfg.DailyLossLimitUSD.String()),
		zap.String("max_drawdown", cfg.MaxDrawdownUSD.String()),
		zap.String("max_risk_per_trade", cfg.MaxRiskPerTradeUSD.String()),
		zap.Int("max_trades_per_day", cfg.MaxTradesPerDay))
}

// SetKillSwitchCallback registers a hook invoked when the kill switch trips.
func (g *Governor) SetKillSwitchCallback(fn func(reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onKillSwitch = fn
}

// UpdateAccountStatus refreshes balance and daily PnL, then evaluates the
// circuit breakers. Call on every account update event.
func (g *Governor) UpdateAccountStatus(balance, dailyPnL decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.UpdateBalance(balance)
	g.state.DailyPnL = dailyPnL
	g.checkCircuitBreakers()
}

// RecordTradeExecution counts an executed trade and re-evaluates breakers.
func (g *Governor) RecordTradeExecution() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.TradeCount++
	g.checkCircuitBreakers()
}

// checkCircuitBreakers trips the kill switch on hard limits. Reaching the
// daily trade cap is a soft stop handled by CanTrade only, since existing
// positions may still need management. Caller holds the lock.
func (g *Governor) checkCircuitBreakers() {
	if g.state.KillSwitchActive {
		return
	}
	if g.state.DailyPnL.LessThan(g.cfg.DailyLossLimitUSD.Neg()) {
		g.tripLocked(fmt.Sprintf("daily loss limit hit: %s < -%s",
			g.state.DailyPnL, g.cfg.DailyLossLimitUSD))
		return
	}
	if g.state.CurrentDrawdown().GreaterThan(g.cfg.MaxDrawdownUSD) {
		g.tripLocked(fmt.Sprintf("max drawdown limit hit: %s > %s",
			g.state.CurrentDrawdown(), g.cfg.MaxDrawdownUSD))
	}
}

// TripKillSwitch activates the kill switch. Idempotent and sticky: once
// tripped it stays tripped until ResetKillSwitch.
func (g *Governor) TripKillSwitch(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tripLocked(reason)
}

func (g *Governor) tripLocked(reason string) {
	if g.state.KillSwitchActive {
		return
	}
	g.log.Error("KILL SWITCH ACTIVATED", zap.String("reason", reason))
	g.state.KillSwitchActive = true
	g.state.KillSwitchReason = reason
	metrics.KillSwitchActive.Set(1)
	if g.onKillSwitch != nil {
		go g.onKillSwitch(reason)
	}
}

// ResetKillSwitch clears the kill switch. Only call after reviewing the
// reason for the trip.
func (g *Governor) ResetKillSwitch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.KillSwitchActive {
		return
	}
	g.log.Warn("kill switch reset", zap.String("previous_reason", g.state.KillSwitchReason))
	g.state.KillSwitchActive = false
	g.state.KillSwitchReason = ""
	metrics.KillSwitchActive.Set(0)
}

// ResetDaily resets daily counters at session open. It never clears an
// active kill switch.
func (g *Governor) ResetDaily(startingBalance *decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log.Info("resetting daily risk counters")
	g.state.ResetDaily(startingBalance)
}

// CanTrade reports whether new entries are allowed at all, with a reason
// when they are not.
func (g *Governor) CanTrade() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canTradeLocked()
}

func (g *Governor) canTradeLocked() (bool, string) {
	if g.state.KillSwitchActive {
		return false, "kill switch active: " + g.state.KillSwitchReason
	}
	if g.state.DailyPnL.LessThan(g.cfg.DailyLossLimitUSD.Neg()) {
		return false, "daily loss limit exceeded"
	}
	if g.state.CurrentDrawdown().GreaterThan(g.cfg.MaxDrawdownUSD) {
		return false, "max drawdown exceeded"
	}
	if g.cfg.MaxTradesPerDay > 0 && g.state.TradeCount >= g.cfg.MaxTradesPerDay {
		return false, "max trades per day reached"
	}
	return true, "OK"
}

// CheckTradeRisk evaluates a specific proposed trade: general admission,
// the per-symbol contract cap, and, when both prices are non-zero, the
// per-trade USD risk ceiling computed as |entry-stop| / tickSize * tickValue * qty.
func (g *Governor) CheckTradeRisk(symbol string, qty int, entryPrice, stopPrice decimal.Decimal) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ok, reason := g.canTradeLocked(); !ok {
		return false, reason
	}

	limit, ok := g.limits[symbol]
	if !ok {
		return false, fmt.Sprintf("unknown symbol for risk checks: %s", symbol)
	}
	if limit.MaxContracts > 0 && qty > limit.MaxContracts {
		return false, fmt.Sprintf("size %d exceeds max %d for %s", qty, limit.MaxContracts, symbol)
	}

	if !entryPrice.IsZero() && !stopPrice.IsZero() {
		ticks := entryPrice.Sub(stopPrice).Abs().Div(limit.TickSize)
		riskUSD := ticks.Mul(limit.TickValue).Mul(decimal.NewFromInt(int64(qty)))
		if riskUSD.GreaterThan(g.cfg.MaxRiskPerTradeUSD) {
			return false, fmt.Sprintf("risk $%s exceeds limit $%s",
				riskUSD.StringFixed(2), g.cfg.MaxRiskPerTradeUSD.StringFixed(2))
		}
	}
	return true, "OK"
}

// Snapshot returns a copy of the current risk state for reporting.
func (g *Governor) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
