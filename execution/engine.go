package execution

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-exec-go/broker"
	"futures-exec-go/metrics"
	"futures-exec-go/risk"
)

// Session gates new entries on the trading calendar.
type Session interface {
	TradingAllowed() bool
}

// Journal receives order, fill, and completed-trade records for persistence.
type Journal interface {
	LogOrder(broker.Order)
	LogFill(broker.Fill)
	LogTrade(TradeResult)
}

// TradeListener is notified when a trade closes.
type TradeListener func(TradeResult)

// Engine consumes trade signals, asks the risk governor for admission, drives
// the broker, and owns the bracket / one-cancels-other state machine together
// with the emergency-flatten safety net.
//
// All order and context mutations happen on a single event-loop goroutine.
// External callbacks (broker fills, signal sources) are marshalled into the
// loop through the events channel, so handlers never need locks.
type Engine struct {
	broker   broker.Broker
	governor *risk.Governor
	session  Session
	journal  Journal
	specs    map[string]broker.SymbolSpec
	log      *zap.Logger

	// contexts maps every order id the engine manages (entry, stop, target,
	// flatten) back to its owning trade context.
	contexts map[string]*TradeContext

	listeners []TradeListener

	events   chan func()
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewEngine wires the engine to its collaborators. session and journal may be
// nil; a nil session means always allowed.
func NewEngine(b broker.Broker, governor *risk.Governor, session Session, journal Journal, specs map[string]broker.SymbolSpec, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		broker:   b,
		governor: governor,
		session:  session,
		journal:  journal,
		specs:    specs,
		log:      log,
		contexts: make(map[string]*TradeContext),
		events:   make(chan func(), 256),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// AddTradeListener registers a trade-completion listener.
func (e *Engine) AddTradeListener(fn TradeListener) {
	e.listeners = append(e.listeners, fn)
}

// Start launches the event loop and subscribes to broker fills.
func (e *Engine) Start() {
	e.broker.AddFillCallback(e.OnFill)
	go e.run()
	e.log.Info("execution engine started")
}

// Stop shuts the event loop down and waits for it to drain.
func (e *Engine) Stop() {
	close(e.stopChan)
	<-e.doneChan
	e.log.Info("execution engine stopped")
}

func (e *Engine) run() {
	defer close(e.doneChan)
	for {
		select {
		case fn := <-e.events:
			fn()
		case <-e.stopChan:
			return
		}
	}
}

// enqueue marshals fn into the event loop. Events arriving after Stop are
// dropped.
func (e *Engine) enqueue(fn func()) {
	select {
	case e.events <- fn:
	case <-e.stopChan:
		e.log.Warn("event dropped, engine stopping")
	}
}

// ProcessSignal submits a signal to the event loop.
func (e *Engine) ProcessSignal(sig Signal) {
	e.enqueue(func() { e.processSignal(sig) })
}

// OnFill is the broker fill callback; safe to call from any goroutine.
func (e *Engine) OnFill(fill broker.Fill) {
	e.enqueue(func() { e.handleFill(fill) })
}

// FlattenAll closes every open position at market and cancels every resting
// order the engine manages. Used at session flatten time and on shutdown.
func (e *Engine) FlattenAll(reason string) {
	e.enqueue(func() { e.flattenAll(reason) })
}

func (e *Engine) processSignal(sig Signal) {
	if err := sig.Validate(); err != nil {
		e.log.Warn("signal rejected", zap.Error(err))
		return
	}
	spec, ok := e.specs[sig.Symbol]
	if !ok {
		e.log.Warn("signal rejected, unknown symbol", zap.String("symbol", sig.Symbol))
		return
	}

	if e.session != nil && !e.session.TradingAllowed() {
		e.log.Info("signal rejected, outside trading session", zap.String("symbol", sig.Symbol))
		metrics.RiskRejections.Inc()
		return
	}

	if ok, reason := e.governor.CanTrade(); !ok {
		e.log.Warn("signal rejected by governor",
			zap.String("symbol", sig.Symbol),
			zap.String("reason", reason))
		metrics.RiskRejections.Inc()
		return
	}

	// With a limit entry the risk of the planned trade is known up front and
	// is checked against the per-trade ceiling. Market entries can only be
	// checked for the contract cap; their entry price is unknown until fill.
	var entryPrice, stopPrice decimal.Decimal
	if sig.EntryType == broker.TypeLimit {
		entryPrice = sig.LimitPrice
		stopDist := spec.TickSize.Mul(decimal.NewFromInt(int64(sig.StopTicks)))
		if sig.Side == broker.SideBuy {
			stopPrice = entryPrice.Sub(stopDist)
		} else {
			stopPrice = entryPrice.Add(stopDist)
		}
	}
	if ok, reason := e.governor.CheckTradeRisk(sig.Symbol, sig.Qty, entryPrice, stopPrice); !ok {
		e.log.Warn("signal rejected by trade risk check",
			zap.String("symbol", sig.Symbol),
			zap.String("reason", reason))
		metrics.RiskRejections.Inc()
		return
	}

	order, err := e.broker.PlaceOrder(broker.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Qty:        sig.Qty,
		Type:       sig.EntryType,
		LimitPrice: sig.LimitPrice,
	})
	if err != nil {
		// No position exists yet, so the attempt is simply discarded.
		e.log.Error("entry order submission failed",
			zap.String("symbol", sig.Symbol),
			zap.Error(err))
		return
	}
	e.governor.RecordTradeExecution()
	metrics.OrdersPlaced.WithLabelValues(sig.Symbol, string(sig.EntryType)).Inc()

	ctx := &TradeContext{
		EntryOrderID: order.ID,
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Qty:          sig.Qty,
		StopTicks:    sig.StopTicks,
		TargetTicks:  sig.TargetTicks,
		Reason:       sig.Reason,
		EntryTime:    time.Now(),
	}
	e.contexts[order.ID] = ctx

	if e.journal != nil {
		e.journal.LogOrder(order)
	}
	e.log.Info("entry order placed",
		zap.String("order_id", order.ID),
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(sig.Side)),
		zap.Int("qty", sig.Qty),
		zap.String("reason", sig.Reason))
}

func (e *Engine) handleFill(fill broker.Fill) {
	if e.journal != nil {
		e.journal.LogFill(fill)
	}
	metrics.FillsReceived.Inc()

	ctx, ok := e.contexts[fill.OrderID]
	if !ok {
		e.log.Debug("fill for unmanaged order", zap.String("order_id", fill.OrderID))
		return
	}

	switch fill.OrderID {
	case ctx.EntryOrderID:
		ctx.FilledQty += fill.Qty
		ctx.EntryPrice = fill.Price
		e.log.Info("entry fill",
			zap.String("symbol", ctx.Symbol),
			zap.Int("filled", ctx.FilledQty),
			zap.Int("requested", ctx.Qty),
			zap.String("price", fill.Price.String()))
		if ctx.EntryFilled() && !ctx.bracketPlaced {
			e.placeBracket(ctx)
		}
	case ctx.StopOrderID:
		e.handleExitFill(ctx, fill, "stop")
	case ctx.TargetOrderID:
		e.handleExitFill(ctx, fill, "target")
	case ctx.FlattenOrderID:
		e.handleExitFill(ctx, fill, "flatten")
	}
}

// handleExitFill accumulates exit-side quantity. The venue may split an exit
// into partial fills; until they cover the whole position the context stays
// registered and the surviving bracket leg keeps resting.
func (e *Engine) handleExitFill(ctx *TradeContext, fill broker.Fill, exitReason string) {
	ctx.ExitQty += fill.Qty
	if ctx.ExitQty < ctx.FilledQty {
		e.log.Info("partial exit fill",
			zap.String("symbol", ctx.Symbol),
			zap.Int("exit_filled", ctx.ExitQty),
			zap.Int("position", ctx.FilledQty),
			zap.String("price", fill.Price.String()))
		return
	}
	e.closeTrade(ctx, fill, exitReason)
}

// placeBracket submits the protective stop and the profit target for a fully
// filled entry. The stop goes first: until it is resting, the position is
// unprotected and a stop failure escalates to an emergency flatten.
func (e *Engine) placeBracket(ctx *TradeContext) {
	ctx.bracketPlaced = true
	spec := e.specs[ctx.Symbol]

	stopDist := spec.TickSize.Mul(decimal.NewFromInt(int64(ctx.StopTicks)))
	targetDist := spec.TickSize.Mul(decimal.NewFromInt(int64(ctx.TargetTicks)))
	var stopPrice, targetPrice decimal.Decimal
	if ctx.Side == broker.SideBuy {
		stopPrice = ctx.EntryPrice.Sub(stopDist)
		targetPrice = ctx.EntryPrice.Add(targetDist)
	} else {
		stopPrice = ctx.EntryPrice.Add(stopDist)
		targetPrice = ctx.EntryPrice.Sub(targetDist)
	}
	exitSide := ctx.ExitSide()

	stopOrder, err := e.broker.PlaceOrder(broker.OrderRequest{
		Symbol:    ctx.Symbol,
		Side:      exitSide,
		Qty:       ctx.Qty,
		Type:      broker.TypeStop,
		StopPrice: stopPrice,
	})
	if err != nil {
		e.emergencyFlatten(ctx, err)
		return
	}
	ctx.StopOrderID = stopOrder.ID
	e.contexts[stopOrder.ID] = ctx
	metrics.OrdersPlaced.WithLabelValues(ctx.Symbol, string(broker.TypeStop)).Inc()
	if e.journal != nil {
		e.journal.LogOrder(stopOrder)
	}
	e.log.Info("stop placed",
		zap.String("order_id", stopOrder.ID),
		zap.String("symbol", ctx.Symbol),
		zap.String("price", stopPrice.String()))

	targetOrder, err := e.broker.PlaceOrder(broker.OrderRequest{
		Symbol:     ctx.Symbol,
		Side:       exitSide,
		Qty:        ctx.Qty,
		Type:       broker.TypeLimit,
		LimitPrice: targetPrice,
	})
	if err != nil {
		// The position is still protected by the stop, so this is not
		// safety-critical. The trade will exit at the stop or at flatten time.
		e.log.Error("target order submission failed",
			zap.String("symbol", ctx.Symbol),
			zap.Error(err))
		return
	}
	ctx.TargetOrderID = targetOrder.ID
	e.contexts[targetOrder.ID] = ctx
	metrics.OrdersPlaced.WithLabelValues(ctx.Symbol, string(broker.TypeLimit)).Inc()
	if e.journal != nil {
		e.journal.LogOrder(targetOrder)
	}
	e.log.Info("target placed",
		zap.String("order_id", targetOrder.ID),
		zap.String("symbol", ctx.Symbol),
		zap.String("price", targetPrice.String()))
}

// emergencyFlatten handles the unprotected-position path: the stop could not
// be placed, so the position is closed at market and the kill switch trips
// with the triggering error. The target order is never placed.
func (e *Engine) emergencyFlatten(ctx *TradeContext, cause error) {
	e.log.Error("stop placement failed, flattening position",
		zap.String("symbol", ctx.Symbol),
		zap.Error(cause))
	metrics.EmergencyFlattens.Inc()

	flattenOrder, err := e.broker.PlaceOrder(broker.OrderRequest{
		Symbol: ctx.Symbol,
		Side:   ctx.ExitSide(),
		Qty:    ctx.FilledQty,
		Type:   broker.TypeMarket,
	})
	if err != nil {
		// Naked position. No automatic retry: a failing order path while a
		// position sits unprotected requires out-of-band intervention.
		e.log.Error("FATAL: emergency flatten failed, naked position",
			zap.String("symbol", ctx.Symbol),
			zap.Int("qty", ctx.FilledQty),
			zap.Error(err))
	} else {
		ctx.FlattenOrderID = flattenOrder.ID
		e.contexts[flattenOrder.ID] = ctx
	}
	e.governor.TripKillSwitch(cause.Error())
}

// closeTrade finishes a trade after a stop, target, or flatten fill: the
// surviving bracket leg is cancelled and a completion record is emitted.
func (e *Engine) closeTrade(ctx *TradeContext, fill broker.Fill, exitReason string) {
	// OCO cleanup is best-effort: the venue may have filled the other leg
	// concurrently, and cancelling a terminal order is a no-op.
	for _, id := range []string{ctx.StopOrderID, ctx.TargetOrderID} {
		if id == "" || id == fill.OrderID {
			continue
		}
		if err := e.broker.CancelOrder(id); err != nil {
			e.log.Debug("oco cancel raced", zap.String("order_id", id), zap.Error(err))
		}
	}

	spec := e.specs[ctx.Symbol]
	var ticks decimal.Decimal
	if ctx.Side == broker.SideBuy {
		ticks = fill.Price.Sub(ctx.EntryPrice).Div(spec.TickSize)
	} else {
		ticks = ctx.EntryPrice.Sub(fill.Price).Div(spec.TickSize)
	}
	// FilledQty is the size actually closed: on the flatten path the entry
	// may have filled for less than the requested quantity.
	closedQty := ctx.FilledQty
	result := TradeResult{
		Symbol:     ctx.Symbol,
		Side:       ctx.Side,
		Qty:        closedQty,
		EntryPrice: ctx.EntryPrice,
		ExitPrice:  fill.Price,
		PnLTicks:   ticks,
		PnLUSD:     ticks.Mul(spec.TickValue).Mul(decimal.NewFromInt(int64(closedQty))),
		ExitReason: exitReason,
		Reason:     ctx.Reason,
		EntryTime:  ctx.EntryTime,
		ClosedAt:   fill.Timestamp,
	}

	for _, id := range []string{ctx.EntryOrderID, ctx.StopOrderID, ctx.TargetOrderID, ctx.FlattenOrderID} {
		if id != "" {
			delete(e.contexts, id)
		}
	}

	metrics.TradesClosed.WithLabelValues(exitReason).Inc()
	if e.journal != nil {
		e.journal.LogTrade(result)
	}
	for _, fn := range e.listeners {
		fn(result)
	}
	e.log.Info("trade closed",
		zap.String("symbol", ctx.Symbol),
		zap.String("exit_reason", exitReason),
		zap.String("entry", ctx.EntryPrice.String()),
		zap.String("exit", fill.Price.String()),
		zap.String("pnl_usd", result.PnLUSD.String()))
}

// flattenAll closes every managed position at market and cancels every
// resting order, including unfilled entries.
func (e *Engine) flattenAll(reason string) {
	seen := make(map[*TradeContext]bool)
	for _, ctx := range e.contexts {
		if seen[ctx] {
			continue
		}
		seen[ctx] = true

		if ctx.FilledQty == 0 {
			// No position: just abandon the entry.
			if err := e.broker.CancelOrder(ctx.EntryOrderID); err != nil {
				e.log.Debug("entry cancel raced", zap.String("order_id", ctx.EntryOrderID), zap.Error(err))
			}
			delete(e.contexts, ctx.EntryOrderID)
			continue
		}
		if ctx.FlattenOrderID != "" {
			continue // flatten already in flight
		}

		for _, id := range []string{ctx.EntryOrderID, ctx.StopOrderID, ctx.TargetOrderID} {
			if id == "" {
				continue
			}
			if err := e.broker.CancelOrder(id); err != nil {
				e.log.Debug("cancel raced", zap.String("order_id", id), zap.Error(err))
			}
		}
		flattenOrder, err := e.broker.PlaceOrder(broker.OrderRequest{
			Symbol: ctx.Symbol,
			Side:   ctx.ExitSide(),
			Qty:    ctx.FilledQty,
			Type:   broker.TypeMarket,
		})
		if err != nil {
			e.log.Error("FATAL: flatten order failed, naked position",
				zap.String("symbol", ctx.Symbol),
				zap.Int("qty", ctx.FilledQty),
				zap.Error(err))
			continue
		}
		ctx.FlattenOrderID = flattenOrder.ID
		e.contexts[flattenOrder.ID] = ctx
		e.log.Info("position flattened",
			zap.String("symbol", ctx.Symbol),
			zap.String("order_id", flattenOrder.ID),
			zap.String("reason", reason))
	}
}
