package trader

import (
	"context"
	"time"

	"binance-scalper-go/internal/store"
	"go.uber.org/zap"
)

// Scanner periodically walks the active whitelist and submits each
// symbol as a scanner-sourced signal. Every candidate goes through the
// full entry gate and guardrail pipeline; the scanner itself holds no
// admission logic.
type Scanner struct {
	engine   *Engine
	store    store.Store
	interval time.Duration
	logger   *zap.Logger
}

func NewScanner(engine *Engine, st store.Store, interval time.Duration, logger *zap.Logger) *Scanner {
	return &Scanner{
		engine:   engine,
		store:    st,
		interval: interval,
		logger:   logger,
	}
}

// Run executes scan passes until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting market scanner", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping market scanner")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs one pass over the active symbols. Rejections are the normal
// outcome of a scan; only execution failures after admission are logged
// as errors.
func (s *Scanner) Scan(ctx context.Context) {
	coins, err := s.store.ListCoinConfigs()
	if err != nil {
		s.logger.Error("Failed to load whitelist for scan", zap.Error(err))
		return
	}

	for _, coin := range coins {
		if !coin.Active {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		result, err := s.engine.SubmitSignal(ctx, coin.Symbol, "scanner")
		if err != nil {
			s.logger.Error("Scanner entry failed",
				zap.String("symbol", coin.Symbol), zap.Error(err))
			continue
		}
		if result.Admitted {
			s.logger.Info("Scanner opened trade",
				zap.String("symbol", coin.Symbol),
				zap.Uint("trade_id", result.TradeID),
			)
		} else {
			s.logger.Debug("Scanner candidate rejected",
				zap.String("symbol", coin.Symbol),
				zap.String("reason", string(result.Reason)),
			)
		}
	}
}
