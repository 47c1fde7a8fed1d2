package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"binance-scalper-go/internal/binance"
	"binance-scalper-go/internal/clock"
	"binance-scalper-go/internal/config"
	"binance-scalper-go/internal/indicators"
	"binance-scalper-go/internal/metrics"
	"binance-scalper-go/internal/models"
	"binance-scalper-go/internal/store"
	"go.uber.org/zap"
)

// klineWindow is sized so the longest indicator (the 200-period EMA)
// has enough closed candles.
const klineWindow = 250

// SignalResult is the outcome of one submitted trade signal.
type SignalResult struct {
	Admitted bool         `json:"admitted"`
	Reason   RejectReason `json:"reason,omitempty"`
	TradeID  uint         `json:"trade_id,omitempty"`
}

// DailyStats aggregates recent daily PnL rows.
type DailyStats struct {
	Days          []models.DailyPnL `json:"days"`
	TotalPnl      float64           `json:"total_pnl"`
	TotalTrades   int               `json:"total_trades"`
	WinningTrades int               `json:"winning_trades"`
	LosingTrades  int               `json:"losing_trades"`
	WinRate       float64           `json:"win_rate"`
}

// Engine is the facade every transport goes through. It wires the
// guardrail evaluator, the trade lifecycle and the store behind a small
// surface, and serializes admissions per symbol so two concurrent
// signals for one symbol cannot interleave between the cooldown check
// and the cooldown write.
type Engine struct {
	logger     *zap.Logger
	cfg        *config.Config
	store      store.Store
	exchange   binance.Client
	clock      clock.Clock
	guardrails *Guardrails
	lifecycle  *Lifecycle

	symLocks sync.Map // symbol -> *sync.Mutex
}

// NewEngine builds the engine facade.
func NewEngine(logger *zap.Logger, cfg *config.Config, st store.Store, exchange binance.Client, clk clock.Clock, guardrails *Guardrails, lifecycle *Lifecycle) *Engine {
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		store:      st,
		exchange:   exchange,
		clock:      clk,
		guardrails: guardrails,
		lifecycle:  lifecycle,
	}
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	v, _ := e.symLocks.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// SubmitSignal runs a candidate trade through the entry gate and the
// guardrails, and opens the position when admitted. Rejections are
// expected outcomes, not errors; the error return covers execution
// failures after admission.
func (e *Engine) SubmitSignal(ctx context.Context, symbol, source string) (*SignalResult, error) {
	return e.submit(ctx, symbol, source, true)
}

// SubmitManual opens an operator-requested trade. The indicator gate is
// skipped; the guardrails still apply in full.
func (e *Engine) SubmitManual(ctx context.Context, symbol string) (*SignalResult, error) {
	return e.submit(ctx, symbol, "manual", false)
}

func (e *Engine) submit(ctx context.Context, symbol, source string, gated bool) (*SignalResult, error) {
	l := e.logger.With(zap.String("symbol", symbol), zap.String("source", source))

	var snap *indicators.Snapshot
	if gated {
		gateSnap, gateDecision := e.entryGate(ctx, symbol, l)
		if gateDecision != nil {
			metrics.RecordSignal(symbol, string(gateDecision.Reason))
			return &SignalResult{Reason: gateDecision.Reason}, nil
		}
		snap = gateSnap
	} else if candles, err := e.exchange.GetKlines(ctx, symbol, e.cfg.Trading.Timeframe, klineWindow); err == nil {
		if price, err := e.exchange.GetPrice(ctx, symbol); err == nil {
			s := indicators.Evaluate(candles, price)
			snap = &s
		}
	}

	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	decision := e.guardrails.Evaluate(symbol)
	if !decision.Admitted {
		metrics.RecordSignal(symbol, string(decision.Reason))
		l.Info("Signal rejected", zap.String("reason", string(decision.Reason)))
		return &SignalResult{Reason: decision.Reason}, nil
	}
	metrics.RecordSignal(symbol, "admitted")

	entryReason := fmt.Sprintf("signal:%s", source)
	trade, err := e.lifecycle.OpenTrade(ctx, symbol, entryReason, snap, decision.Coin)
	if err != nil {
		return nil, err
	}

	return &SignalResult{Admitted: true, TradeID: trade.ID}, nil
}

// entryGate evaluates the indicator-based entry conditions. Returns a
// snapshot for stop-loss sizing and, when the gate rejects, a decision.
// Candle fetch failures only disable the ATR stop unless the gate is
// required, in which case they fail closed.
func (e *Engine) entryGate(ctx context.Context, symbol string, l *zap.Logger) (*indicators.Snapshot, *Decision) {
	candles, err := e.exchange.GetKlines(ctx, symbol, e.cfg.Trading.Timeframe, klineWindow)
	if err != nil {
		if e.cfg.Trading.RequireEntrySignal {
			l.Warn("Candle fetch failed, rejecting signal", zap.Error(err))
			d := reject(ReasonStateUnavailable)
			return nil, &d
		}
		l.Warn("Candle fetch failed, falling back to fixed stop", zap.Error(err))
		return nil, nil
	}

	price, err := e.exchange.GetPrice(ctx, symbol)
	if err != nil {
		if e.cfg.Trading.RequireEntrySignal {
			l.Warn("Price fetch failed, rejecting signal", zap.Error(err))
			d := reject(ReasonStateUnavailable)
			return nil, &d
		}
		return nil, nil
	}

	snap := indicators.Evaluate(candles, price)
	if e.cfg.Trading.RequireEntrySignal && !snap.EntrySignal() {
		l.Info("No entry signal",
			zap.Float64("rsi", snap.RSI),
			zap.Float64("bb_lower", snap.BBLower),
			zap.Float64("ema", snap.EMA),
			zap.Float64("price", snap.Price),
		)
		d := reject(ReasonNoEntrySignal)
		return nil, &d
	}
	return &snap, nil
}

// GetOpenTrades returns all currently open trades.
func (e *Engine) GetOpenTrades() ([]models.Trade, error) {
	return e.store.OpenTrades()
}

// GetTrade returns one trade by id.
func (e *Engine) GetTrade(id uint) (*models.Trade, error) {
	return e.store.GetTrade(id)
}

// CloseTrade manually closes an open trade at the current market price.
func (e *Engine) CloseTrade(ctx context.Context, id uint) (*models.Trade, error) {
	trade, err := e.store.GetTrade(id)
	if err != nil {
		return nil, err
	}
	if trade.Status != models.StatusOpen {
		return nil, fmt.Errorf("trade %d is %s: %w", id, trade.Status, store.ErrInvalidTransition)
	}
	return e.lifecycle.CloseTrade(ctx, trade, models.ExitManual)
}

// GetDailyStats aggregates the last days of daily PnL.
func (e *Engine) GetDailyStats(days int) (*DailyStats, error) {
	rows, err := e.store.RecentDailyPnL(days)
	if err != nil {
		return nil, err
	}

	stats := &DailyStats{Days: rows}
	for _, d := range rows {
		stats.TotalPnl += d.TotalPnl
		stats.TotalTrades += d.TotalTrades
		stats.WinningTrades += d.WinningTrades
		stats.LosingTrades += d.LosingTrades
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	return stats, nil
}

// ResetDailyBreaker clears today's circuit breaker. Operator action,
// always audited.
func (e *Engine) ResetDailyBreaker(actor, reason string) error {
	date := models.TradeDate(e.clock.Now())
	if err := e.store.ResetDailyBreaker(date, actor, reason, e.clock.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to reset breaker for %s: %w", date, err)
	}
	metrics.SetBreaker(false)
	e.logger.Warn("Daily circuit breaker reset",
		zap.String("date", date),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return nil
}

// SetKillSwitch flips the global trading switch. Active=false halts all
// admissions immediately.
func (e *Engine) SetKillSwitch(active bool, actor, reason string) error {
	if err := e.store.SetBreakerActive(active, actor, reason, e.clock.Now()); err != nil {
		return fmt.Errorf("failed to set kill switch: %w", err)
	}
	e.logger.Warn("Kill switch changed",
		zap.Bool("trading_enabled", active),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return nil
}

// SetCoinActive enables or disables a symbol in the whitelist.
func (e *Engine) SetCoinActive(symbol string, active bool) error {
	return e.store.SetCoinActive(symbol, active)
}

// ListCoins returns the whitelist with per-symbol settings.
func (e *Engine) ListCoins() ([]models.CoinConfig, error) {
	return e.store.ListCoinConfigs()
}
