package broker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func esSpecs() map[string]SymbolSpec {
	return map[string]SymbolSpec{
		"ES": {TickSize: d("0.25"), TickValue: d("12.50"), Multiplier: d("50")},
	}
}

func newTestBroker(slippageTicks int, commission string) *SimBroker {
	return NewSimBroker(SimConfig{
		InitialBalance:    d("100000"),
		SlippageTicks:     slippageTicks,
		CommissionPerSide: d(commission),
	}, esSpecs(), nil)
}

func tick(price string) Tick {
	return Tick{Symbol: "ES", Price: d(price), Volume: 1, Timestamp: time.Now()}
}

func collectFills(b *SimBroker) *[]Fill {
	var fills []Fill
	b.AddFillCallback(func(f Fill) { fills = append(fills, f) })
	return &fills
}

func TestMarketOrderSlippage(t *testing.T) {
	b := newTestBroker(2, "0")
	fills := collectFills(b)
	b.ProcessTick(tick("5000.00"))

	// Buy pays more: 5000 + 2*0.25.
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(*fills) != 1 || !(*fills)[0].Price.Equal(d("5000.50")) {
		t.Fatalf("expected buy fill at 5000.50, got %+v", *fills)
	}

	// Sell receives less: 5000 - 2*0.25.
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideSell, Qty: 1, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(*fills) != 2 || !(*fills)[1].Price.Equal(d("4999.50")) {
		t.Fatalf("expected sell fill at 4999.50, got %+v", *fills)
	}
}

func TestLimitOrderPessimisticFill(t *testing.T) {
	b := newTestBroker(0, "0")
	fills := collectFills(b)

	order, err := b.PlaceOrder(OrderRequest{
		Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeLimit, LimitPrice: d("4999.00"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != StatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}

	b.ProcessTick(tick("4999.50")) // not crossed
	if len(*fills) != 0 {
		t.Fatal("limit must not fill before the price crosses it")
	}

	b.ProcessTick(tick("4998.50")) // gapped through: fill at limit, no improvement
	if len(*fills) != 1 || !(*fills)[0].Price.Equal(d("4999.00")) {
		t.Fatalf("expected fill at limit 4999.00, got %+v", *fills)
	}
}

func TestStopOrderGapThrough(t *testing.T) {
	b := newTestBroker(0, "0")
	fills := collectFills(b)

	// Protective sell-stop at 4995 with no intermediate tick at the level.
	if _, err := b.PlaceOrder(OrderRequest{
		Symbol: "ES", Side: SideSell, Qty: 1, Type: TypeStop, StopPrice: d("4995.00"),
	}); err != nil {
		t.Fatalf("place: %v", err)
	}

	b.ProcessTick(tick("5000.00"))
	if len(*fills) != 0 {
		t.Fatal("stop must not trigger above the level")
	}
	b.ProcessTick(tick("4990.00"))
	if len(*fills) != 1 {
		t.Fatal("stop must trigger on a gap through the level")
	}
	if !(*fills)[0].Price.Equal(d("4995.00")) {
		t.Fatalf("gap-through stop must fill at the stop price, got %s", (*fills)[0].Price)
	}
}

func TestStopBoundaryInclusive(t *testing.T) {
	b := newTestBroker(0, "0")
	fills := collectFills(b)
	if _, err := b.PlaceOrder(OrderRequest{
		Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeStop, StopPrice: d("5005.00"),
	}); err != nil {
		t.Fatalf("place: %v", err)
	}
	b.ProcessTick(tick("5005.00"))
	if len(*fills) != 1 || !(*fills)[0].Price.Equal(d("5005.00")) {
		t.Fatalf("buy-stop must trigger at the boundary, got %+v", *fills)
	}
}

func TestCommissionDeduction(t *testing.T) {
	b := newTestBroker(0, "1.40")
	b.ProcessTick(tick("5000.00"))
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 2, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if !b.GetAccountBalance().Equal(d("99997.20")) {
		t.Fatalf("expected 2x per-side commission deducted, balance %s", b.GetAccountBalance())
	}
}

func TestPositionOpenCloseRealizesPnL(t *testing.T) {
	b := newTestBroker(0, "0")
	b.ProcessTick(tick("5000.00"))

	// Open long 1 @ 5000.
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}
	pos := b.GetPosition("ES")
	if pos.Qty != 1 || !pos.AvgPrice.Equal(d("5000.00")) {
		t.Fatalf("unexpected position %+v", pos)
	}

	// Close 1 @ 5004: (5004-5000) * 50 * 1 = $200.
	b.ProcessTick(tick("5004.00"))
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideSell, Qty: 1, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}
	pos = b.GetPosition("ES")
	if pos.Qty != 0 {
		t.Fatalf("expected flat, got qty %d", pos.Qty)
	}
	if !pos.RealizedPnL.Equal(d("200")) {
		t.Fatalf("expected realized 200, got %s", pos.RealizedPnL)
	}
	if !pos.AvgPrice.IsZero() {
		t.Fatalf("avg price must reset when flat, got %s", pos.AvgPrice)
	}
	if !b.GetAccountBalance().Equal(d("100200")) {
		t.Fatalf("realized pnl must hit the balance, got %s", b.GetAccountBalance())
	}
}

func TestPositionWeightedAverage(t *testing.T) {
	b := newTestBroker(0, "0")
	b.ProcessTick(tick("5000.00"))
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}
	b.ProcessTick(tick("5002.00"))
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}

	pos := b.GetPosition("ES")
	if pos.Qty != 2 || !pos.AvgPrice.Equal(d("5001.00")) {
		t.Fatalf("expected qty 2 avg 5001, got %+v", pos)
	}
}

func TestPositionSignFlip(t *testing.T) {
	b := newTestBroker(0, "0")
	b.ProcessTick(tick("5000.00"))
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 2, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}

	// Sell 3 @ 5002: closes 2 for (5002-5000)*50*2 = $200, opens short 1 @ 5002.
	b.ProcessTick(tick("5002.00"))
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideSell, Qty: 3, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}

	pos := b.GetPosition("ES")
	if pos.Qty != -1 {
		t.Fatalf("expected short 1, got %d", pos.Qty)
	}
	if !pos.AvgPrice.Equal(d("5002.00")) {
		t.Fatalf("flipped remainder must carry the fill price, got %s", pos.AvgPrice)
	}
	if !pos.RealizedPnL.Equal(d("200")) {
		t.Fatalf("expected realized 200 on the closed portion, got %s", pos.RealizedPnL)
	}
}

func TestNetQtyIsRunningSumOfSignedFills(t *testing.T) {
	b := newTestBroker(0, "0")
	b.ProcessTick(tick("5000.00"))

	steps := []struct {
		side Side
		qty  int
	}{
		{SideBuy, 2}, {SideSell, 1}, {SideSell, 3}, {SideBuy, 1}, {SideBuy, 1},
	}
	want := 0
	for _, s := range steps {
		if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: s.side, Qty: s.qty, Type: TypeMarket}); err != nil {
			t.Fatalf("place: %v", err)
		}
		want += s.side.Sign() * s.qty
		pos := b.GetPosition("ES")
		if pos.Qty != want {
			t.Fatalf("after %s %d: expected net %d, got %d", s.side, s.qty, want, pos.Qty)
		}
		if want == 0 && !pos.AvgPrice.IsZero() {
			t.Fatalf("avg price must be zero while flat, got %s", pos.AvgPrice)
		}
	}
}

func TestCancelIdempotent(t *testing.T) {
	b := newTestBroker(0, "0")
	order, err := b.PlaceOrder(OrderRequest{
		Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeLimit, LimitPrice: d("4990.00"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if err := b.CancelOrder(order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Cancelling a terminal or unknown order is a no-op.
	if err := b.CancelOrder(order.ID); err != nil {
		t.Fatalf("second cancel must be a no-op: %v", err)
	}
	if err := b.CancelOrder("no-such-order"); err != nil {
		t.Fatalf("unknown cancel must be a no-op: %v", err)
	}

	got, ok := b.GetOrder(order.ID)
	if !ok || got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %+v", got)
	}

	// A cancelled order never matches again.
	fills := collectFills(b)
	b.ProcessTick(tick("4980.00"))
	if len(*fills) != 0 {
		t.Fatal("cancelled order must not fill")
	}
}

func TestRestingOrderStaysPending(t *testing.T) {
	b := newTestBroker(0, "0")
	order, err := b.PlaceOrder(OrderRequest{
		Symbol: "ES", Side: SideSell, Qty: 1, Type: TypeLimit, LimitPrice: d("5010.00"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	b.ProcessTick(tick("5001.00"))
	b.ProcessTick(tick("5002.00"))

	got, _ := b.GetOrder(order.ID)
	if got.Status != StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if open := b.GetOpenOrders(); len(open) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(open))
	}
}

func TestCallbackRegistrationOrder(t *testing.T) {
	b := newTestBroker(0, "0")
	var seen []int
	b.AddFillCallback(func(Fill) { seen = append(seen, 1) })
	b.AddFillCallback(func(Fill) { seen = append(seen, 2) })

	b.ProcessTick(tick("5000.00"))
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("callbacks must run in registration order, got %v", seen)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	b := newTestBroker(0, "0")
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 0, Type: TypeMarket}); err == nil {
		t.Fatal("expected qty validation error")
	}
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeStop}); err == nil {
		t.Fatal("expected missing stop price error")
	}
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "NQ", Side: SideBuy, Qty: 1, Type: TypeMarket}); err == nil {
		t.Fatal("expected unknown symbol error")
	}
}

func TestUnrealizedPnLAdvisory(t *testing.T) {
	b := newTestBroker(0, "0")
	b.ProcessTick(tick("5000.00"))
	if _, err := b.PlaceOrder(OrderRequest{Symbol: "ES", Side: SideBuy, Qty: 1, Type: TypeMarket}); err != nil {
		t.Fatalf("place: %v", err)
	}
	b.ProcessTick(tick("5003.00"))
	pos := b.GetPosition("ES")
	if !pos.UnrealizedPnL.Equal(d("150")) {
		t.Fatalf("expected unrealized 150, got %s", pos.UnrealizedPnL)
	}
}
