package trader

import (
	"context"
	"testing"
	"time"

	"binance-scalper-go/internal/binance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (env *testEnv) newScanner() *Scanner {
	return NewScanner(env.engine, env.store, time.Minute, zap.NewNop())
}

func TestScannerSubmitsActiveSymbols(t *testing.T) {
	env := newTestEnv(t)
	env.expectEntry("BTCUSDT", 50000)
	env.expectEntry("ETHUSDT", 3000)

	env.newScanner().Scan(context.Background())

	trades, err := env.store.OpenTrades()
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, trade := range trades {
		assert.Equal(t, "signal:scanner", trade.EntryReason)
	}

	// Inactive symbols are never even evaluated.
	env.exchange.AssertNotCalled(t, "GetKlines", "ADAUSDT", mock.Anything, mock.Anything)
}

func TestScannerHonorsEntryGate(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Trading.RequireEntrySignal = true
	// Neutral indicators on every symbol: nothing qualifies.
	env.exchange.On("GetKlines", mock.Anything, "1m", klineWindow).Return([]binance.Kline{}, nil)
	env.exchange.On("GetPrice", mock.Anything).Return(50000.0, nil)

	env.newScanner().Scan(context.Background())

	trades, err := env.store.OpenTrades()
	require.NoError(t, err)
	assert.Empty(t, trades)
	env.exchange.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestScannerHonorsGuardrails(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Guardrails.MaxOpenTrades = 1
	env.expectEntry("BTCUSDT", 50000)
	env.expectEntry("ETHUSDT", 3000)

	env.newScanner().Scan(context.Background())

	// The global cap admits exactly one of the two candidates.
	trades, err := env.store.OpenTrades()
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestScannerRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	sc := NewScanner(env.engine, env.store, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sc.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop on context cancellation")
	}
}
