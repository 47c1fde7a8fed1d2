// Package metrics exposes Prometheus instrumentation for the trading
// engine. All collectors are registered at init time via promauto and
// served on the HTTP API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalsTotal counts admission decisions by outcome.
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "guardrails",
		Name:      "signals_total",
		Help:      "Total trade signals by admission outcome",
	},
	[]string{"symbol", "outcome"}, // outcome: admitted or a rejection reason
)

// TradesTotal counts trades by terminal result.
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "trading",
		Name:      "trades_total",
		Help:      "Total completed trades by result",
	},
	[]string{"symbol", "result"}, // result: closed, stopped, cancelled
)

// RealizedPnl accumulates realized profit and loss in quote currency.
// A gauge rather than a counter because losses move it down.
var RealizedPnl = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "trading",
		Name:      "realized_pnl_usdt",
		Help:      "Cumulative realized PnL in USDT",
	},
)

// OpenTrades tracks currently open positions.
var OpenTrades = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "trading",
		Name:      "open_trades",
		Help:      "Current number of open trades",
	},
)

// BreakerActive is 1 while the daily circuit breaker is tripped.
var BreakerActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "breaker_active",
		Help:      "Daily circuit breaker state (1=tripped, 0=clear)",
	},
)

// OrderLatency measures order round-trip time against the exchange.
var OrderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scalper",
		Subsystem: "exchange",
		Name:      "order_latency_seconds",
		Help:      "Order execution latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"symbol", "side"},
)

// MonitorErrors counts per-symbol failures inside the position monitor.
var MonitorErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "monitor",
		Name:      "errors_total",
		Help:      "Monitor cycle errors by symbol",
	},
	[]string{"symbol"},
)

// RecordSignal records one admission decision.
func RecordSignal(symbol, outcome string) {
	SignalsTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordTradeResult records a terminal trade and its realized PnL.
func RecordTradeResult(symbol, result string, pnl float64) {
	TradesTotal.WithLabelValues(symbol, result).Inc()
	RealizedPnl.Add(pnl)
}

// SetBreaker flips the breaker gauge.
func SetBreaker(active bool) {
	if active {
		BreakerActive.Set(1)
	} else {
		BreakerActive.Set(0)
	}
}
