// Package metrics provides Prometheus metrics for the trading core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_orders_placed_total",
		Help: "Orders submitted to the broker, by symbol and order type",
	}, []string{"symbol", "type"})

	FillsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_fills_received_total",
		Help: "Fill events received from the broker",
	})

	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_risk_rejections_total",
		Help: "Signals rejected by the session gate or the risk governor",
	})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_trades_closed_total",
		Help: "Completed trades by exit reason (stop, target, flatten)",
	}, []string{"exit_reason"})

	EmergencyFlattens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_emergency_flattens_total",
		Help: "Emergency flatten attempts after a failed stop placement",
	})

	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_kill_switch_active",
		Help: "1 while the risk kill switch is tripped",
	})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_daily_pnl_usd",
		Help: "Realized PnL for the current session in USD",
	})

	AccountBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_account_balance_usd",
		Help: "Current account balance in USD",
	})

	PositionQty = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exec_position_qty",
		Help: "Net position in contracts, by symbol",
	}, []string{"symbol"})
)

// StartMetricsServer serves the Prometheus scrape endpoint.
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
