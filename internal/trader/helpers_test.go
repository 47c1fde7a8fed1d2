package trader

import (
	"context"
	"testing"
	"time"

	"binance-scalper-go/internal/binance"
	"binance-scalper-go/internal/clock"
	"binance-scalper-go/internal/config"
	"binance-scalper-go/internal/models"
	"binance-scalper-go/internal/store"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockExchange is a mock implementation of the binance.Client interface.
type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	args := m.Called(symbol, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]binance.Kline), args.Error(1)
}

func (m *MockExchange) PlaceOrder(ctx context.Context, symbol, side string, quantity float64, leverage int) (*binance.OrderResult, error) {
	args := m.Called(symbol, side, quantity, leverage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.OrderResult), args.Error(1)
}

func (m *MockExchange) ClosePosition(ctx context.Context, symbol string, quantity float64) (*binance.OrderResult, error) {
	args := m.Called(symbol, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.OrderResult), args.Error(1)
}

// noopNotifier keeps lifecycle tests silent.
type noopNotifier struct{}

func (noopNotifier) Send(string) {}

var testTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.Trading{
			Mode:                 "simulated",
			Symbols:              []string{"BTCUSDT", "ETHUSDT"},
			MinProfitFraction:    0.006,
			StopLossAtrMultiple:  1.5,
			FallbackStopFraction: 0.008,
			Leverage:             10,
			PositionSizeFraction: 0.20,
			ReferenceCapital:     10000,
			Timeframe:            "1m",
			RequireEntrySignal:   false,
		},
		Guardrails: config.Guardrails{
			MaxOpenTrades:        3,
			CooldownSeconds:      300,
			MaxOrdersPerMinute:   5,
			MaxDailyLossFraction: 0.03,
		},
		Server: config.Server{Port: 0},
	}
}

// testEnv bundles everything the trader tests compose.
type testEnv struct {
	store    *store.MemoryStore
	exchange *MockExchange
	clock    *clock.Manual
	cfg      *config.Config
	engine   *Engine
	life     *Lifecycle
	guards   *Guardrails
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	st := store.NewMemoryStore()
	st.SeedCoin(models.CoinConfig{Symbol: "BTCUSDT", Active: true, Leverage: 10})
	st.SeedCoin(models.CoinConfig{Symbol: "ETHUSDT", Active: true, Leverage: 10})
	st.SeedCoin(models.CoinConfig{Symbol: "ADAUSDT", Active: false, Leverage: 10})

	exchange := new(MockExchange)
	clk := clock.NewManual(testTime)
	logger := zap.NewNop()

	guards := NewGuardrails(st, clk, &cfg.Guardrails, cfg.Trading.ReferenceCapital, logger)
	life := NewLifecycle(st, exchange, noopNotifier{}, clk, &cfg.Trading, &cfg.Guardrails, logger)
	engine := NewEngine(logger, cfg, st, exchange, clk, guards, life)

	return &testEnv{
		store:    st,
		exchange: exchange,
		clock:    clk,
		cfg:      cfg,
		engine:   engine,
		life:     life,
		guards:   guards,
	}
}

// expectEntry wires the market-data and order calls for one admitted
// entry at the given price.
func (env *testEnv) expectEntry(symbol string, price float64) {
	env.exchange.On("GetKlines", symbol, "1m", mock.Anything).Return([]binance.Kline{}, nil)
	env.exchange.On("GetPrice", symbol).Return(price, nil)
	env.exchange.On("PlaceOrder", symbol, models.SideBuy, mock.Anything, 10).
		Return(&binance.OrderResult{OrderRef: "entry-" + symbol, AvgPrice: price}, nil)
}
