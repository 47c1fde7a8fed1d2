package trader

import (
	"errors"

	"binance-scalper-go/internal/clock"
	"binance-scalper-go/internal/config"
	"binance-scalper-go/internal/models"
	"binance-scalper-go/internal/store"
	"go.uber.org/zap"
)

// Guardrails evaluates whether a candidate trade may be admitted.
// Checks run in a fixed order and short-circuit on the first failure,
// so a rejection reason always identifies the first rule that tripped.
// Every check reads the durable store directly; nothing is cached
// between evaluations.
type Guardrails struct {
	store  store.Store
	clock  clock.Clock
	cfg    *config.Guardrails
	refCap float64
	logger *zap.Logger
}

// NewGuardrails builds the evaluator. referenceCapital is the fixed
// capital base the daily loss fraction is measured against.
func NewGuardrails(st store.Store, clk clock.Clock, cfg *config.Guardrails, referenceCapital float64, logger *zap.Logger) *Guardrails {
	return &Guardrails{
		store:  st,
		clock:  clk,
		cfg:    cfg,
		refCap: referenceCapital,
		logger: logger,
	}
}

// Evaluate runs every admission rule for the symbol. On an admitted
// decision the current minute's rate bucket has already been durably
// incremented, so the caller must proceed with the trade (or accept
// burning one slot of the minute's budget).
//
// Any store failure rejects the candidate. Capital protection fails
// closed, never open.
func (g *Guardrails) Evaluate(symbol string) Decision {
	now := g.clock.Now()

	// 1. Global kill switch
	breaker, err := g.store.GetBreakerState()
	if err != nil {
		return g.failClosed(symbol, "breaker state read failed", err)
	}
	if !breaker.Active {
		return reject(ReasonSystemHalted)
	}

	// 2. Symbol whitelist
	coin, err := g.store.GetCoinConfig(symbol)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return g.failClosed(symbol, "coin config read failed", err)
	}
	if coin == nil || !coin.Active {
		return reject(ReasonSymbolNotAllowed)
	}

	// 3. Daily circuit breaker
	date := models.TradeDate(now)
	daily, err := g.store.GetDailyPnL(date)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return g.failClosed(symbol, "daily pnl read failed", err)
	}
	if daily != nil {
		if daily.BreakerActive {
			return reject(ReasonDailyLossLimit)
		}
		// The threshold only trips the flag on its first crossing.
		// After an operator reset (flag cleared, activation timestamp
		// kept) admissions resume until a further losing close re-trips.
		if daily.BreakerActivatedAt == nil && g.refCap > 0 && daily.TotalPnl/g.refCap <= -g.cfg.MaxDailyLossFraction {
			// First crossing trips the flag for the rest of the day.
			if _, err := g.store.TripDailyBreaker(date, now); err != nil {
				return g.failClosed(symbol, "breaker trip failed", err)
			}
			g.logger.Warn("Daily circuit breaker tripped",
				zap.String("date", date),
				zap.Float64("total_pnl", daily.TotalPnl),
				zap.Float64("max_daily_loss_fraction", g.cfg.MaxDailyLossFraction),
			)
			return reject(ReasonDailyLossLimit)
		}
	}

	// 4. Max concurrent positions
	open, err := g.store.CountOpenTrades()
	if err != nil {
		return g.failClosed(symbol, "open trade count failed", err)
	}
	if open >= g.cfg.MaxOpenTrades {
		return reject(ReasonTooManyOpen)
	}

	// 5. Per-symbol cooldown. Checked before the one-per-symbol guard
	// so a repeat signal inside the window reports the cooldown, not
	// the position it opened.
	cd, err := g.store.GetCooldown(symbol)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return g.failClosed(symbol, "cooldown read failed", err)
	}
	if cd != nil && now.Before(cd.CooldownUntil) {
		return reject(ReasonSymbolOnCooldown)
	}

	// One position per symbol, however many the global cap allows.
	openSym, err := g.store.CountOpenTradesBySymbol(symbol)
	if err != nil {
		return g.failClosed(symbol, "open trade count failed", err)
	}
	if openSym >= 1 {
		return reject(ReasonTooManyOpen)
	}

	// 6. Rate limit. The increment is the decision: a successful
	// test-and-increment both checks and consumes the slot, so two
	// concurrent signals can never share one.
	allowed, err := g.store.IncrementRateBucket(store.MinuteOf(now), g.cfg.MaxOrdersPerMinute)
	if err != nil {
		return g.failClosed(symbol, "rate bucket increment failed", err)
	}
	if !allowed {
		return reject(ReasonRateLimited)
	}

	return admit(coin)
}

func (g *Guardrails) failClosed(symbol, what string, err error) Decision {
	g.logger.Error("Guardrail check failed, rejecting signal",
		zap.String("symbol", symbol),
		zap.String("check", what),
		zap.Error(err),
	)
	return reject(ReasonStateUnavailable)
}
