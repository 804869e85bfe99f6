package risk

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"futures-exec-go/metrics"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLimits() map[string]SymbolLimit {
	return map[string]SymbolLimit{
		"ES": {MaxContracts: 2, TickSize: d("0.25"), TickValue: d("12.50")},
	}
}

func testConfig() Config {
	return Config{
		DailyLossLimitUSD:  d("500"),
		MaxDrawdownUSD:     d("1000"),
		MaxRiskPerTradeUSD: d("200"),
		MaxTradesPerDay:    3,
	}
}

func TestCanTradeDefault(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)
	if ok, reason := g.CanTrade(); !ok {
		t.Fatalf("expected trading allowed, got %q", reason)
	}
}

func TestKillSwitchSticky(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)
	g.TripKillSwitch("manual stop")

	// State churn must not clear the switch.
	g.UpdateAccountStatus(d("100000"), d("250"))
	g.RecordTradeExecution()
	g.UpdateAccountStatus(d("100500"), d("750"))

	ok, reason := g.CanTrade()
	if ok {
		t.Fatal("expected kill switch to block trading")
	}
	if !strings.Contains(reason, "manual stop") {
		t.Fatalf("expected original reason, got %q", reason)
	}

	// Idempotent: a second trip keeps the first reason.
	g.TripKillSwitch("another reason")
	if _, reason := g.CanTrade(); !strings.Contains(reason, "manual stop") {
		t.Fatalf("expected first reason preserved, got %q", reason)
	}

	g.ResetKillSwitch()
	if ok, reason := g.CanTrade(); !ok {
		t.Fatalf("expected trading after reset, got %q", reason)
	}
}

func TestResetDailyKeepsKillSwitch(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)
	g.UpdateAccountStatus(d("100000"), d("-600")) // trips daily loss breaker

	if ok, _ := g.CanTrade(); ok {
		t.Fatal("expected daily loss to block trading")
	}

	bal := d("100000")
	g.ResetDaily(&bal)

	snap := g.Snapshot()
	if snap.TradeCount != 0 || !snap.DailyPnL.IsZero() {
		t.Fatalf("expected daily counters cleared, got %+v", snap)
	}
	if !snap.KillSwitchActive {
		t.Fatal("reset_daily must not clear the kill switch")
	}
}

func TestDrawdownBreaker(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)
	g.UpdateAccountStatus(d("101500"), decimal.Zero)
	g.UpdateAccountStatus(d("100400"), decimal.Zero) // drawdown 1100 > 1000

	ok, reason := g.CanTrade()
	if ok {
		t.Fatal("expected drawdown breaker to trip")
	}
	if !strings.Contains(reason, "kill switch") {
		t.Fatalf("expected kill switch reason, got %q", reason)
	}
}

func TestHighWaterMarkMonotone(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)
	g.UpdateAccountStatus(d("100000"), decimal.Zero)
	g.UpdateAccountStatus(d("100900"), decimal.Zero)
	g.UpdateAccountStatus(d("100200"), decimal.Zero)

	snap := g.Snapshot()
	if !snap.HighWaterMark.Equal(d("100900")) {
		t.Fatalf("expected hwm 100900, got %s", snap.HighWaterMark)
	}
	if !snap.CurrentDrawdown().Equal(d("700")) {
		t.Fatalf("expected drawdown 700, got %s", snap.CurrentDrawdown())
	}
}

func TestMaxTradesSoftStop(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)
	for i := 0; i < 3; i++ {
		g.RecordTradeExecution()
	}

	ok, reason := g.CanTrade()
	if ok {
		t.Fatal("expected trade cap to block new entries")
	}
	if !strings.Contains(reason, "max trades") {
		t.Fatalf("unexpected reason %q", reason)
	}
	// Soft stop: the kill switch must not be tripped.
	if g.Snapshot().KillSwitchActive {
		t.Fatal("trade cap must not trip the kill switch")
	}
}

func TestCheckTradeRiskCeiling(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)

	// 20 ticks * $12.50 = $250 > $200 ceiling.
	entry := d("5000.00")
	stop := d("4995.00")
	if ok, reason := g.CheckTradeRisk("ES", 1, entry, stop); ok {
		t.Fatal("expected risk ceiling rejection")
	} else if !strings.Contains(reason, "exceeds limit") {
		t.Fatalf("unexpected reason %q", reason)
	}

	// 12 ticks * $12.50 = $150 <= $200.
	stop = d("4997.00")
	if ok, reason := g.CheckTradeRisk("ES", 1, entry, stop); !ok {
		t.Fatalf("expected acceptance, got %q", reason)
	}
}

func TestCheckTradeRiskContractsAndSymbol(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)

	if ok, _ := g.CheckTradeRisk("ES", 3, decimal.Zero, decimal.Zero); ok {
		t.Fatal("expected contract cap rejection")
	}
	if ok, _ := g.CheckTradeRisk("CL", 1, decimal.Zero, decimal.Zero); ok {
		t.Fatal("expected unknown symbol rejection")
	}
	// Prices optional: with only qty supplied the ceiling is skipped.
	if ok, reason := g.CheckTradeRisk("ES", 2, decimal.Zero, decimal.Zero); !ok {
		t.Fatalf("expected acceptance, got %q", reason)
	}
}

func TestKillSwitchOnBoot(t *testing.T) {
	cfg := testConfig()
	cfg.KillSwitchOnBoot = true
	g := NewGovernor(cfg, testLimits(), nil)
	if ok, _ := g.CanTrade(); ok {
		t.Fatal("expected boot kill switch to block trading")
	}
}

func TestKillSwitchGaugeTracksState(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)
	if got := testutil.ToFloat64(metrics.KillSwitchActive); got != 0 {
		t.Fatalf("expected gauge 0 on a clean boot, got %f", got)
	}

	g.TripKillSwitch("manual stop")
	if got := testutil.ToFloat64(metrics.KillSwitchActive); got != 1 {
		t.Fatalf("expected gauge 1 after trip, got %f", got)
	}

	g.ResetKillSwitch()
	if got := testutil.ToFloat64(metrics.KillSwitchActive); got != 0 {
		t.Fatalf("expected gauge back to 0 after reset, got %f", got)
	}
}

func TestUpdateConfig(t *testing.T) {
	g := NewGovernor(testConfig(), testLimits(), nil)

	// 20 ticks * $12.50 = $250 risk, above the $200 ceiling.
	if ok, _ := g.CheckTradeRisk("ES", 1, d("5000.00"), d("4995.00")); ok {
		t.Fatal("expected rejection under the original ceiling")
	}

	cfg := testConfig()
	cfg.MaxRiskPerTradeUSD = d("300")
	g.UpdateConfig(cfg, nil)

	if ok, reason := g.CheckTradeRisk("ES", 1, d("5000.00"), d("4995.00")); !ok {
		t.Fatalf("expected acceptance under the raised ceiling, got %q", reason)
	}

	// A reload never clears a tripped kill switch.
	g.TripKillSwitch("manual")
	g.UpdateConfig(cfg, testLimits())
	if ok, _ := g.CanTrade(); ok {
		t.Fatal("config update must not clear the kill switch")
	}
}
