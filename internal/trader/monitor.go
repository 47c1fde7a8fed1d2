package trader

import (
	"context"
	"sync"
	"time"

	"binance-scalper-go/internal/binance"
	"binance-scalper-go/internal/metrics"
	"binance-scalper-go/internal/models"
	"binance-scalper-go/internal/store"
	"go.uber.org/zap"
)

// priceSource resolves the latest price for a symbol. The monitor
// prefers the websocket snapshot and falls back to REST.
type priceSource interface {
	Price(symbol string) (float64, bool)
}

// Monitor polls open trades and triggers exit transitions when the
// price crosses a trade's bracket. Each symbol is evaluated by at most
// one goroutine at a time; a slow or failing symbol never blocks the
// others, and overlapping ticks skip symbols still in flight.
type Monitor struct {
	store     store.Store
	exchange  binance.Client
	lifecycle *Lifecycle
	stream    priceSource
	interval  time.Duration
	cleanup   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewMonitor builds the monitor. stream may be nil, in which case all
// prices come from the REST client.
func NewMonitor(st store.Store, exchange binance.Client, lc *Lifecycle, stream priceSource, interval, cleanup time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:     st,
		exchange:  exchange,
		lifecycle: lc,
		stream:    stream,
		interval:  interval,
		cleanup:   cleanup,
		logger:    logger,
		inFlight:  make(map[string]bool),
	}
}

// Run executes monitor ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(m.cleanup)
	defer cleanupTicker.Stop()

	m.logger.Info("Starting position monitor", zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping position monitor")
			return
		case <-ticker.C:
			m.Tick(ctx)
		case <-cleanupTicker.C:
			m.purgeStaleBuckets()
		}
	}
}

// Tick runs one monitor pass: load open trades, group by symbol, and
// dispatch one evaluation goroutine per symbol not already in flight.
func (m *Monitor) Tick(ctx context.Context) {
	trades, err := m.store.OpenTrades()
	if err != nil {
		m.logger.Error("Failed to load open trades", zap.Error(err))
		return
	}
	if len(trades) == 0 {
		return
	}

	bySymbol := make(map[string][]models.Trade)
	for _, t := range trades {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	for symbol, symbolTrades := range bySymbol {
		if !m.claim(symbol) {
			continue
		}
		go func(symbol string, trades []models.Trade) {
			defer m.release(symbol)
			m.evaluateSymbol(ctx, symbol, trades)
		}(symbol, symbolTrades)
	}
}

func (m *Monitor) claim(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[symbol] {
		return false
	}
	m.inFlight[symbol] = true
	return true
}

func (m *Monitor) release(symbol string) {
	m.mu.Lock()
	delete(m.inFlight, symbol)
	m.mu.Unlock()
}

// evaluateSymbol checks every open trade for one symbol against the
// latest price. A price fetch failure affects only this symbol and is
// retried on the next tick.
func (m *Monitor) evaluateSymbol(ctx context.Context, symbol string, trades []models.Trade) {
	price, err := m.currentPrice(ctx, symbol)
	if err != nil {
		metrics.MonitorErrors.WithLabelValues(symbol).Inc()
		m.logger.Warn("Price fetch failed, will retry next tick",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return
	}

	for i := range trades {
		trade := &trades[i]

		var exitReason string
		switch {
		case price >= trade.TargetPrice:
			exitReason = models.ExitTakeProfit
		case price <= trade.StopLossPrice:
			exitReason = models.ExitStopLoss
		default:
			continue
		}

		if _, err := m.lifecycle.CloseTrade(ctx, trade, exitReason); err != nil {
			metrics.MonitorErrors.WithLabelValues(symbol).Inc()
			m.logger.Error("Failed to close trade",
				zap.Uint("trade_id", trade.ID),
				zap.String("symbol", symbol),
				zap.String("exit_reason", exitReason),
				zap.Error(err),
			)
		}
	}
}

func (m *Monitor) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if m.stream != nil {
		if price, ok := m.stream.Price(symbol); ok {
			return price, nil
		}
	}
	return m.exchange.GetPrice(ctx, symbol)
}

// purgeStaleBuckets drops rate-limit buckets older than the current
// minute. Pure storage hygiene; admission never reads old buckets.
func (m *Monitor) purgeStaleBuckets() {
	before := store.MinuteOf(time.Now().Add(-time.Hour))
	if err := m.store.PurgeRateBuckets(before); err != nil {
		m.logger.Warn("Rate bucket cleanup failed", zap.Error(err))
	}
}
