package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimConfig configures the simulated matching engine.
type SimConfig struct {
	InitialBalance decimal.Decimal
	// SlippageTicks is applied unfavorably to market orders: buys pay more,
	// sells receive less.
	SlippageTicks int
	// CommissionPerSide is charged per contract on every fill.
	CommissionPerSide decimal.Decimal
}

// SimBroker fills orders against a tick stream. It is the reference
// implementation of the Broker contract: every other component is tested
// against its matching and PnL rules.
//
// Matching rules, applied on each tick to every resting order of that symbol:
//   - MARKET fills immediately at tick price +/- slippage.
//   - LIMIT fills at the limit price once the tick has crossed it in the
//     order's favor (pessimistic, no price improvement).
//   - STOP triggers once the tick has crossed the stop level, inclusive of
//     the boundary and of gaps through it, and fills at the stop price.
//
// Each match produces one Fill for the order's full remaining quantity.
type SimBroker struct {
	mu        sync.Mutex
	cfg       SimConfig
	specs     map[string]SymbolSpec
	balance   decimal.Decimal
	orders    map[string]*Order
	orderSeq  []string // resting-order iteration order
	positions map[string]*Position
	lastTicks map[string]Tick

	fillCbs []FillCallback
	tickCbs []TickCallback

	log *zap.Logger
}

// NewSimBroker creates a simulated broker for the given symbol specs.
func NewSimBroker(cfg SimConfig, specs map[string]SymbolSpec, log *zap.Logger) *SimBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &SimBroker{
		cfg:       cfg,
		specs:     specs,
		balance:   cfg.InitialBalance,
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		lastTicks: make(map[string]Tick),
		log:       log,
	}
}

func (b *SimBroker) Connect() error {
	b.log.Info("sim broker connected", zap.String("balance", b.GetAccountBalance().String()))
	return nil
}

func (b *SimBroker) Disconnect() error {
	b.log.Info("sim broker disconnected")
	return nil
}

func (b *SimBroker) Subscribe(symbol string) error {
	if _, ok := b.specs[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	b.log.Info("subscribed", zap.String("symbol", symbol))
	return nil
}

// AddFillCallback registers a fill listener.
func (b *SimBroker) AddFillCallback(cb FillCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillCbs = append(b.fillCbs, cb)
}

// AddTickCallback registers a tick listener.
func (b *SimBroker) AddTickCallback(cb TickCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickCbs = append(b.tickCbs, cb)
}

// PlaceOrder registers the order and attempts an immediate match against the
// last seen tick. The returned snapshot is the pending state; any resulting
// fill is delivered through the fill callbacks after this call registers it.
func (b *SimBroker) PlaceOrder(req OrderRequest) (Order, error) {
	if err := validateRequest(req); err != nil {
		return Order{}, err
	}
	if _, ok := b.specs[req.Symbol]; !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, req.Symbol)
	}

	now := time.Now()
	order := &Order{
		ID:        NewID(),
		Request:   req,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	b.mu.Lock()
	b.orders[order.ID] = order
	b.orderSeq = append(b.orderSeq, order.ID)
	snapshot := *order

	var fills []Fill
	if tick, ok := b.lastTicks[req.Symbol]; ok {
		if fill, matched := b.tryMatch(order, tick); matched {
			fills = append(fills, fill)
		}
	}
	b.mu.Unlock()

	b.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.Int("qty", req.Qty))

	b.emitFills(fills)
	return snapshot, nil
}

func validateRequest(req OrderRequest) error {
	if req.Qty <= 0 {
		return fmt.Errorf("%w: qty must be > 0", ErrInvalidOrder)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("%w: bad side %q", ErrInvalidOrder, req.Side)
	}
	switch req.Type {
	case TypeMarket:
	case TypeLimit:
		if req.LimitPrice.IsZero() {
			return fmt.Errorf("%w: limit order without limit price", ErrInvalidOrder)
		}
	case TypeStop:
		if req.StopPrice.IsZero() {
			return fmt.Errorf("%w: stop order without stop price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: bad type %q", ErrInvalidOrder, req.Type)
	}
	return nil
}

// CancelOrder marks a resting order cancelled. Cancelling an unknown or
// already-terminal order is a no-op: the venue may have filled it
// concurrently and that race is expected.
func (b *SimBroker) CancelOrder(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok || order.IsDone() {
		return nil
	}
	order.Status = StatusCancelled
	order.UpdatedAt = time.Now()
	b.log.Info("order cancelled", zap.String("order_id", orderID))
	return nil
}

// GetPosition returns the position for symbol, zero value if none.
func (b *SimBroker) GetPosition(symbol string) Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[symbol]; ok {
		return *pos
	}
	return Position{Symbol: symbol}
}

func (b *SimBroker) GetAccountBalance() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// GetOpenOrders returns snapshots of all non-terminal orders.
func (b *SimBroker) GetOpenOrders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var open []Order
	for _, id := range b.orderSeq {
		if o := b.orders[id]; !o.IsDone() {
			open = append(open, *o)
		}
	}
	return open
}

// GetOrder returns a snapshot of the order with the given id.
func (b *SimBroker) GetOrder(orderID string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.orders[orderID]; ok {
		return *o, true
	}
	return Order{}, false
}

// ProcessTick is the external driver's entry point: it matches every resting
// order of the tick's symbol, then forwards the tick to tick listeners.
// Fill callbacks are invoked after internal state is settled, outside the
// broker lock.
func (b *SimBroker) ProcessTick(tick Tick) {
	b.mu.Lock()
	b.lastTicks[tick.Symbol] = tick

	var fills []Fill
	for _, id := range b.orderSeq {
		order := b.orders[id]
		if order.IsDone() || order.Request.Symbol != tick.Symbol {
			continue
		}
		if fill, matched := b.tryMatch(order, tick); matched {
			fills = append(fills, fill)
		}
	}
	b.updateUnrealized(tick)
	tickCbs := make([]TickCallback, len(b.tickCbs))
	copy(tickCbs, b.tickCbs)
	b.mu.Unlock()

	b.emitFills(fills)
	for _, cb := range tickCbs {
		cb(tick)
	}
}

// tryMatch applies the matching rules; caller holds the lock.
func (b *SimBroker) tryMatch(order *Order, tick Tick) (Fill, bool) {
	req := order.Request
	spec := b.specs[req.Symbol]

	var fillPrice decimal.Decimal
	matched := false

	switch req.Type {
	case TypeMarket:
		slip := spec.TickSize.Mul(decimal.NewFromInt(int64(b.cfg.SlippageTicks)))
		if req.Side == SideBuy {
			fillPrice = tick.Price.Add(slip)
		} else {
			fillPrice = tick.Price.Sub(slip)
		}
		matched = true
	case TypeLimit:
		if req.Side == SideBuy && tick.Price.LessThanOrEqual(req.LimitPrice) {
			fillPrice, matched = req.LimitPrice, true
		} else if req.Side == SideSell && tick.Price.GreaterThanOrEqual(req.LimitPrice) {
			fillPrice, matched = req.LimitPrice, true
		}
	case TypeStop:
		// Inclusive of the boundary and of gaps through the level: the order
		// fills at the stop price no matter how far the tick gapped past it.
		if req.Side == SideSell && tick.Price.LessThanOrEqual(req.StopPrice) {
			fillPrice, matched = req.StopPrice, true
		} else if req.Side == SideBuy && tick.Price.GreaterThanOrEqual(req.StopPrice) {
			fillPrice, matched = req.StopPrice, true
		}
	}
	if !matched {
		return Fill{}, false
	}

	qty := order.RemainingQty()
	fill := Fill{
		ID:        NewID(),
		OrderID:   order.ID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Qty:       qty,
		Price:     fillPrice,
		Timestamp: tick.Timestamp,
	}

	order.Status = StatusFilled
	order.FilledQty = req.Qty
	order.AvgFillPrice = fillPrice
	order.UpdatedAt = tick.Timestamp

	commission := b.cfg.CommissionPerSide.Mul(decimal.NewFromInt(int64(qty)))
	b.balance = b.balance.Sub(commission)

	b.applyFill(fill, spec)
	return fill, true
}

// applyFill updates the position and realizes PnL; caller holds the lock.
func (b *SimBroker) applyFill(fill Fill, spec SymbolSpec) {
	pos, ok := b.positions[fill.Symbol]
	if !ok {
		pos = &Position{Symbol: fill.Symbol}
		b.positions[fill.Symbol] = pos
	}

	signed := fill.SignedQty()

	// Closing portion realizes PnL against the current average price.
	if (pos.Qty > 0 && signed < 0) || (pos.Qty < 0 && signed > 0) {
		closing := min(abs(pos.Qty), abs(signed))
		closingDec := decimal.NewFromInt(int64(closing))
		var pnl decimal.Decimal
		if pos.Qty > 0 {
			pnl = fill.Price.Sub(pos.AvgPrice).Mul(spec.Multiplier).Mul(closingDec)
		} else {
			pnl = pos.AvgPrice.Sub(fill.Price).Mul(spec.Multiplier).Mul(closingDec)
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		b.balance = b.balance.Add(pnl)
	}

	newQty := pos.Qty + signed
	switch {
	case newQty == 0:
		pos.AvgPrice = decimal.Zero
	case pos.Qty == 0 || (pos.Qty > 0) == (signed > 0):
		// Opening or increasing: quantity-weighted blend.
		oldVal := pos.AvgPrice.Mul(decimal.NewFromInt(int64(abs(pos.Qty))))
		addVal := fill.Price.Mul(decimal.NewFromInt(int64(abs(signed))))
		pos.AvgPrice = oldVal.Add(addVal).Div(decimal.NewFromInt(int64(abs(newQty))))
	case (pos.Qty > 0) != (newQty > 0):
		// Sign flip: the reopened remainder carries the fill price.
		pos.AvgPrice = fill.Price
	}
	pos.Qty = newQty
}

// updateUnrealized refreshes advisory unrealized PnL from the latest tick;
// caller holds the lock.
func (b *SimBroker) updateUnrealized(tick Tick) {
	pos, ok := b.positions[tick.Symbol]
	if !ok || pos.Qty == 0 {
		if ok {
			pos.UnrealizedPnL = decimal.Zero
		}
		return
	}
	spec := b.specs[tick.Symbol]
	qty := decimal.NewFromInt(int64(pos.Qty))
	pos.UnrealizedPnL = tick.Price.Sub(pos.AvgPrice).Mul(spec.Multiplier).Mul(qty)
}

func (b *SimBroker) emitFills(fills []Fill) {
	for _, fill := range fills {
		b.log.Debug("fill",
			zap.String("order_id", fill.OrderID),
			zap.String("side", string(fill.Side)),
			zap.Int("qty", fill.Qty),
			zap.String("price", fill.Price.String()))
		b.mu.Lock()
		cbs := make([]FillCallback, len(b.fillCbs))
		copy(cbs, b.fillCbs)
		b.mu.Unlock()
		for _, cb := range cbs {
			cb(fill)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
