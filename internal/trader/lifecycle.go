package trader

import (
	"context"
	"fmt"
	"time"

	"binance-scalper-go/internal/binance"
	"binance-scalper-go/internal/clock"
	"binance-scalper-go/internal/config"
	"binance-scalper-go/internal/indicators"
	"binance-scalper-go/internal/metrics"
	"binance-scalper-go/internal/models"
	"binance-scalper-go/internal/notify"
	"binance-scalper-go/internal/store"
	"go.uber.org/zap"
)

const (
	orderTimeout = 15 * time.Second
	// Attempts at recording the Open transition after a fill. Exhausting
	// them cancels the row and flags the position for manual attention.
	markOpenAttempts = 3
)

// Lifecycle owns every trade state transition. A trade is created
// Pending, moved to Open once the entry order fills, and reaches exactly
// one terminal status afterwards. Terminal trades are immutable; the
// store enforces that with conditional updates.
type Lifecycle struct {
	store    store.Store
	exchange binance.Client
	notifier notify.Notifier
	clock    clock.Clock
	cfg      *config.Trading
	guards   *config.Guardrails
	cooldown time.Duration
	logger   *zap.Logger
}

func NewLifecycle(st store.Store, exchange binance.Client, notifier notify.Notifier, clk clock.Clock, cfg *config.Trading, guards *config.Guardrails, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		store:    st,
		exchange: exchange,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		guards:   guards,
		cooldown: time.Duration(guards.CooldownSeconds) * time.Second,
		logger:   logger,
	}
}

// tradeMode reports the mode stamped onto new trades.
func (l *Lifecycle) tradeMode() string {
	if l.cfg.Mode == "live" {
		return models.ModeLive
	}
	return models.ModeSimulated
}

// OpenTrade executes the admitted entry. It persists a Pending row
// first so a crash between order placement and the Open transition
// leaves an inspectable record, then places the market order and either
// opens or cancels the trade. The symbol's cooldown window starts at
// admission regardless of order outcome. Non-zero fields on the
// whitelist row override the global leverage, profit target and
// position cap; coin may be nil.
func (l *Lifecycle) OpenTrade(ctx context.Context, symbol, entryReason string, snap *indicators.Snapshot, coin *models.CoinConfig) (*models.Trade, error) {
	now := l.clock.Now()

	if err := l.store.UpsertCooldown(symbol, now, now.Add(l.cooldown)); err != nil {
		return nil, fmt.Errorf("failed to start cooldown for %s: %w", symbol, err)
	}

	price, err := l.exchange.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to price entry for %s: %w", symbol, err)
	}

	leverage := l.symbolLeverage(coin)
	minProfit := l.symbolMinProfit(coin)
	quantity := l.positionQuantity(price, leverage, coin)
	trade := &models.Trade{
		Symbol:        symbol,
		Side:          models.SideBuy,
		EntryPrice:    price,
		Quantity:      quantity,
		Leverage:      leverage,
		TargetPrice:   price * (1 + minProfit),
		StopLossPrice: l.stopLossPrice(price, snap),
		Status:        models.StatusPending,
		EntryReason:   entryReason,
		Mode:          l.tradeMode(),
		EntryTime:     now,
	}
	if err := l.store.CreateTrade(trade); err != nil {
		return nil, fmt.Errorf("failed to persist trade for %s: %w", symbol, err)
	}

	orderCtx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	started := time.Now()
	result, err := l.exchange.PlaceOrder(orderCtx, symbol, models.SideBuy, quantity, leverage)
	metrics.OrderLatency.WithLabelValues(symbol, models.SideBuy).Observe(time.Since(started).Seconds())
	if err != nil {
		l.logger.Error("Entry order failed, cancelling trade",
			zap.Uint("trade_id", trade.ID),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		if cErr := l.store.CancelTrade(trade.ID, models.ExitOrderFailed, l.clock.Now()); cErr != nil {
			l.logger.Error("Failed to cancel trade after order failure",
				zap.Uint("trade_id", trade.ID), zap.Error(cErr))
		}
		metrics.RecordTradeResult(symbol, "cancelled", 0)
		return nil, fmt.Errorf("entry order for %s failed: %w", symbol, err)
	}

	// Recompute the bracket from the actual fill when it differs from
	// the quoted price.
	if result.AvgPrice > 0 && result.AvgPrice != trade.EntryPrice {
		trade.EntryPrice = result.AvgPrice
		trade.TargetPrice = result.AvgPrice * (1 + minProfit)
		trade.StopLossPrice = l.stopLossPrice(result.AvgPrice, snap)
	}
	if result.ExecutedQty > 0 {
		trade.Quantity = result.ExecutedQty
	}

	var openErr error
	for attempt := 1; attempt <= markOpenAttempts; attempt++ {
		if openErr = l.store.MarkTradeOpen(trade.ID, result.OrderRef); openErr == nil {
			break
		}
		l.logger.Warn("Open transition failed, retrying",
			zap.Uint("trade_id", trade.ID),
			zap.Int("attempt", attempt),
			zap.Error(openErr),
		)
	}
	if openErr != nil {
		// The entry order filled but the store refuses the transition.
		// Leaving the row Pending would hide the position from the
		// monitor forever, so cancel it and escalate.
		l.logger.Error("Could not record filled entry, cancelling trade. The exchange position is untracked and needs manual attention.",
			zap.Uint("trade_id", trade.ID),
			zap.String("symbol", symbol),
			zap.String("order_ref", result.OrderRef),
			zap.Error(openErr),
		)
		if cErr := l.store.CancelTrade(trade.ID, models.ExitRecordFailed, l.clock.Now()); cErr != nil {
			l.logger.Error("Failed to cancel unrecorded trade",
				zap.Uint("trade_id", trade.ID), zap.Error(cErr))
		}
		metrics.RecordTradeResult(symbol, "cancelled", 0)
		l.notifier.Send(fmt.Sprintf("⚠️ %s entry filled (ref %s) but could not be recorded. Close the position manually.",
			symbol, result.OrderRef))
		return nil, fmt.Errorf("failed to open trade %d: %w", trade.ID, openErr)
	}
	trade.Status = models.StatusOpen
	trade.EntryOrderRef = result.OrderRef

	metrics.OpenTrades.Inc()
	l.logger.Info("Trade opened",
		zap.Uint("trade_id", trade.ID),
		zap.String("symbol", symbol),
		zap.Float64("entry_price", trade.EntryPrice),
		zap.Float64("quantity", trade.Quantity),
		zap.Float64("target_price", trade.TargetPrice),
		zap.Float64("stop_loss_price", trade.StopLossPrice),
		zap.String("mode", trade.Mode),
	)
	l.notifier.Send(fmt.Sprintf("🟢 OPENED %s @ %.4f (target %.4f, stop %.4f)",
		symbol, trade.EntryPrice, trade.TargetPrice, trade.StopLossPrice))

	return trade, nil
}

// CloseTrade finalizes an Open trade at the given exit reason. The exit
// order is placed first; the terminal transition and the DailyPnL fold
// happen in one store transaction.
func (l *Lifecycle) CloseTrade(ctx context.Context, trade *models.Trade, exitReason string) (*models.Trade, error) {
	orderCtx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	started := time.Now()
	result, err := l.exchange.ClosePosition(orderCtx, trade.Symbol, trade.Quantity)
	metrics.OrderLatency.WithLabelValues(trade.Symbol, models.SideSell).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, fmt.Errorf("close order for trade %d failed: %w", trade.ID, err)
	}

	exitPrice := result.AvgPrice
	pnl := (exitPrice - trade.EntryPrice) * trade.Quantity
	pnlFraction := 0.0
	if trade.EntryPrice > 0 {
		pnlFraction = (exitPrice - trade.EntryPrice) / trade.EntryPrice
	}

	status := models.StatusClosed
	if exitReason == models.ExitStopLoss {
		status = models.StatusStopped
	}

	updated, daily, err := l.store.FinalizeTrade(trade.ID, store.TradeExit{
		Status:      status,
		Price:       exitPrice,
		Time:        l.clock.Now(),
		Reason:      exitReason,
		OrderRef:    result.OrderRef,
		Pnl:         pnl,
		PnlFraction: pnlFraction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize trade %d: %w", trade.ID, err)
	}

	metrics.OpenTrades.Dec()
	result2 := "closed"
	if status == models.StatusStopped {
		result2 = "stopped"
	}
	metrics.RecordTradeResult(trade.Symbol, result2, pnl)

	l.logger.Info("Trade finalized",
		zap.Uint("trade_id", updated.ID),
		zap.String("symbol", updated.Symbol),
		zap.String("status", updated.Status),
		zap.String("exit_reason", exitReason),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", pnl),
		zap.Float64("daily_pnl", daily.TotalPnl),
	)

	emoji := "✅"
	if pnl < 0 {
		emoji = "🔴"
	}
	l.notifier.Send(fmt.Sprintf("%s %s %s @ %.4f, pnl %.2f USDT (day: %.2f)",
		emoji, updated.Status, updated.Symbol, exitPrice, pnl, daily.TotalPnl))

	l.maybeTripBreaker(daily)
	return updated, nil
}

// maybeTripBreaker re-evaluates the daily loss threshold after a
// terminal transition.
func (l *Lifecycle) maybeTripBreaker(daily *models.DailyPnL) {
	if daily.BreakerActive {
		metrics.SetBreaker(true)
		return
	}
	if l.cfg.ReferenceCapital <= 0 {
		return
	}
	if daily.TotalPnl/l.cfg.ReferenceCapital > -l.guards.MaxDailyLossFraction {
		return
	}

	tripped, err := l.store.TripDailyBreaker(daily.Date, l.clock.Now())
	if err != nil {
		l.logger.Error("Failed to trip daily breaker", zap.String("date", daily.Date), zap.Error(err))
		return
	}
	if tripped {
		metrics.SetBreaker(true)
		l.logger.Warn("Daily loss limit reached, trading halted for the day",
			zap.String("date", daily.Date),
			zap.Float64("total_pnl", daily.TotalPnl),
		)
		l.notifier.Send(fmt.Sprintf("🛑 Daily loss limit reached (%.2f USDT). No new trades today.", daily.TotalPnl))
	}
}

// positionQuantity sizes the position from the reference capital, the
// configured fraction and leverage. MaxPositionSize caps the margin
// committed to the symbol in quote currency, before leverage.
func (l *Lifecycle) positionQuantity(price float64, leverage int, coin *models.CoinConfig) float64 {
	if price <= 0 {
		return 0
	}
	margin := l.cfg.ReferenceCapital * l.cfg.PositionSizeFraction
	if coin != nil && coin.MaxPositionSize > 0 && margin > coin.MaxPositionSize {
		margin = coin.MaxPositionSize
	}
	return margin * float64(leverage) / price
}

func (l *Lifecycle) symbolLeverage(coin *models.CoinConfig) int {
	if coin != nil && coin.Leverage > 0 {
		return coin.Leverage
	}
	return l.cfg.Leverage
}

func (l *Lifecycle) symbolMinProfit(coin *models.CoinConfig) float64 {
	if coin != nil && coin.MinProfitFraction > 0 {
		return coin.MinProfitFraction
	}
	return l.cfg.MinProfitFraction
}

// stopLossPrice derives the stop from volatility when an ATR value is
// available, otherwise from the fixed fallback fraction.
func (l *Lifecycle) stopLossPrice(entry float64, snap *indicators.Snapshot) float64 {
	if snap != nil && snap.ATR > 0 {
		stop := entry - l.cfg.StopLossAtrMultiple*snap.ATR
		if stop > 0 {
			return stop
		}
	}
	return entry * (1 - l.cfg.FallbackStopFraction)
}
