package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"binance-scalper-go/internal/binance"
	"binance-scalper-go/internal/models"
	"binance-scalper-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSubmitSignalAdmitted(t *testing.T) {
	env := newTestEnv(t)
	env.expectEntry("BTCUSDT", 50000)

	result, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	assert.True(t, result.Admitted)
	require.NotZero(t, result.TradeID)

	trade, err := env.store.GetTrade(result.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, trade.Status)
	assert.Equal(t, "signal:webhook", trade.EntryReason)
}

func TestSubmitSignalWhitelistRejected(t *testing.T) {
	env := newTestEnv(t)
	// Candle failure degrades to the fixed stop; the whitelist still
	// rejects before any order is placed.
	env.exchange.On("GetKlines", "ADAUSDT", "1m", klineWindow).
		Return(nil, errors.New("bad symbol"))

	result, err := env.engine.SubmitSignal(context.Background(), "ADAUSDT", "webhook")
	require.NoError(t, err)
	assert.False(t, result.Admitted)
	assert.Equal(t, ReasonSymbolNotAllowed, result.Reason)
	env.exchange.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitSignalCooldownAfterFailedEntry(t *testing.T) {
	env := newTestEnv(t)
	env.exchange.On("GetKlines", "BTCUSDT", "1m", klineWindow).Return([]binance.Kline{}, nil)
	env.exchange.On("GetPrice", "BTCUSDT").Return(50000.0, nil)
	env.exchange.On("PlaceOrder", "BTCUSDT", models.SideBuy, mock.Anything, 10).
		Return(nil, errors.New("margin is insufficient"))

	_, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.Error(t, err)

	// The admission consumed the cooldown even though the order failed.
	env.clock.Advance(time.Second)
	result, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	assert.Equal(t, ReasonSymbolOnCooldown, result.Reason)
}

func TestSubmitSignalCooldownWithOpenPosition(t *testing.T) {
	env := newTestEnv(t)
	env.expectEntry("BTCUSDT", 50000)

	first, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	require.True(t, first.Admitted)

	// One second later the position is open AND the cooldown is live.
	// The cooldown is the rule that tripped first.
	env.clock.Advance(time.Second)
	second, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	assert.Equal(t, ReasonSymbolOnCooldown, second.Reason)
}

func TestSubmitSignalUsesSymbolSettings(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedCoin(models.CoinConfig{Symbol: "BTCUSDT", Active: true, Leverage: 20, MinProfitFraction: 0.01})
	env.exchange.On("GetKlines", "BTCUSDT", "1m", klineWindow).Return([]binance.Kline{}, nil)
	env.exchange.On("GetPrice", "BTCUSDT").Return(50000.0, nil)
	env.exchange.On("PlaceOrder", "BTCUSDT", models.SideBuy, mock.Anything, 20).
		Return(&binance.OrderResult{OrderRef: "ord-1", AvgPrice: 50000}, nil)

	result, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	require.True(t, result.Admitted)

	trade, err := env.store.GetTrade(result.TradeID)
	require.NoError(t, err)
	assert.Equal(t, 20, trade.Leverage)
	assert.InDelta(t, 50500.0, trade.TargetPrice, 1e-9)
}

func TestSubmitSignalOnePositionPerSymbol(t *testing.T) {
	env := newTestEnv(t)
	env.expectEntry("BTCUSDT", 50000)

	first, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	require.True(t, first.Admitted)

	// Past the cooldown, the open position still blocks a second entry.
	env.clock.Advance(301 * time.Second)
	second, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	assert.Equal(t, ReasonTooManyOpen, second.Reason)
}

func TestSubmitSignalRequiresEntryConditions(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Trading.RequireEntrySignal = true
	// An empty candle window yields neutral indicators, so the oversold
	// gate cannot fire.
	env.exchange.On("GetKlines", "BTCUSDT", "1m", klineWindow).Return([]binance.Kline{}, nil)
	env.exchange.On("GetPrice", "BTCUSDT").Return(50000.0, nil)

	result, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	assert.Equal(t, ReasonNoEntrySignal, result.Reason)
	env.exchange.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitManualBypassesEntryGate(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Trading.RequireEntrySignal = true
	// Neutral indicators would reject a webhook signal; a manual trade
	// goes straight to the guardrails.
	env.expectEntry("BTCUSDT", 50000)

	result, err := env.engine.SubmitManual(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, result.Admitted)

	trade, err := env.store.GetTrade(result.TradeID)
	require.NoError(t, err)
	assert.Equal(t, "signal:manual", trade.EntryReason)
}

func TestSubmitSignalGateFailsClosedWhenRequired(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Trading.RequireEntrySignal = true
	env.exchange.On("GetKlines", "BTCUSDT", "1m", klineWindow).
		Return(nil, errors.New("exchange down"))

	result, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)
	assert.Equal(t, ReasonStateUnavailable, result.Reason)
}

func TestManualCloseTrade(t *testing.T) {
	env := newTestEnv(t)
	env.expectEntry("BTCUSDT", 50000)
	env.exchange.On("ClosePosition", "BTCUSDT", mock.Anything).
		Return(&binance.OrderResult{OrderRef: "exit", AvgPrice: 50100}, nil)

	result, err := env.engine.SubmitSignal(context.Background(), "BTCUSDT", "webhook")
	require.NoError(t, err)

	closed, err := env.engine.CloseTrade(context.Background(), result.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.Equal(t, models.ExitManual, closed.ExitReason)

	// Terminal trades cannot be closed again.
	_, err = env.engine.CloseTrade(context.Background(), result.TradeID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestGetDailyStatsAggregation(t *testing.T) {
	env := newTestEnv(t)

	win := env.openTradeAt(t, "BTCUSDT", 50000, 50300, 49850)
	_, _, err := env.store.FinalizeTrade(win.ID, store.TradeExit{
		Status: models.StatusClosed, Price: 50300, Time: testTime,
		Reason: models.ExitTakeProfit, Pnl: 30, PnlFraction: 0.006,
	})
	require.NoError(t, err)

	loss := env.openTradeAt(t, "ETHUSDT", 3000, 3018, 2991)
	_, _, err = env.store.FinalizeTrade(loss.ID, store.TradeExit{
		Status: models.StatusStopped, Price: 2991, Time: testTime.Add(24 * time.Hour),
		Reason: models.ExitStopLoss, Pnl: -10, PnlFraction: -0.003,
	})
	require.NoError(t, err)

	stats, err := env.engine.GetDailyStats(7)
	require.NoError(t, err)
	assert.Len(t, stats.Days, 2)
	assert.InDelta(t, 20.0, stats.TotalPnl, 1e-9)
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
}

func TestKillSwitchRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.engine.SetKillSwitch(false, "ops", "maintenance"))
	assert.Equal(t, ReasonSystemHalted, env.guards.Evaluate("BTCUSDT").Reason)

	require.NoError(t, env.engine.SetKillSwitch(true, "ops", "maintenance done"))
	env.clock.Advance(time.Minute)
	assert.True(t, env.guards.Evaluate("BTCUSDT").Admitted)
}

func TestResetDailyBreaker(t *testing.T) {
	env := newTestEnv(t)

	trade := env.openTradeAt(t, "BTCUSDT", 50000, 50300, 49850)
	_, _, err := env.store.FinalizeTrade(trade.ID, store.TradeExit{
		Status: models.StatusStopped, Price: 49000, Time: testTime,
		Reason: models.ExitStopLoss, Pnl: -400, PnlFraction: -0.02,
	})
	require.NoError(t, err)

	date := models.TradeDate(testTime)
	tripped, err := env.store.TripDailyBreaker(date, testTime)
	require.NoError(t, err)
	require.True(t, tripped)
	assert.Equal(t, ReasonDailyLossLimit, env.guards.Evaluate("BTCUSDT").Reason)

	require.NoError(t, env.engine.ResetDailyBreaker("ops", "fat finger"))
	env.clock.Advance(time.Minute)
	assert.True(t, env.guards.Evaluate("BTCUSDT").Admitted)
}
