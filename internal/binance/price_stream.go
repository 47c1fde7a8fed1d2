package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamBaseURL        = "wss://fstream.binance.com/stream"
	testnetStreamBaseURL = "wss://stream.binancefuture.com/stream"

	streamInitialDelay = 2 * time.Second
	streamMaxDelay     = 16 * time.Second
	streamReadTimeout  = 90 * time.Second
)

// tickerEvent is the miniTicker payload inside a combined-stream frame.
type tickerEvent struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

type streamFrame struct {
	Stream string      `json:"stream"`
	Data   tickerEvent `json:"data"`
}

// PriceStream keeps a live snapshot of mark prices via the miniTicker
// websocket stream. Reads never block on the connection; a stale snapshot
// is returned until the stream recovers.
type PriceStream struct {
	url    string
	logger *zap.Logger

	mu     sync.RWMutex
	prices map[string]float64
	asOf   map[string]time.Time
}

// NewPriceStream builds a stream for the given symbols.
func NewPriceStream(symbols []string, testnet bool, logger *zap.Logger) *PriceStream {
	base := streamBaseURL
	if testnet {
		base = testnetStreamBaseURL
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@miniTicker")
	}

	return &PriceStream{
		url:    fmt.Sprintf("%s?streams=%s", base, strings.Join(streams, "/")),
		logger: logger,
		prices: make(map[string]float64),
		asOf:   make(map[string]time.Time),
	}
}

// Run connects and consumes ticker events until ctx is cancelled,
// reconnecting with exponential backoff on failure.
func (p *PriceStream) Run(ctx context.Context) {
	delay := streamInitialDelay
	for {
		if err := p.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("Price stream disconnected",
				zap.Error(err),
				zap.Duration("reconnect_in", delay),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > streamMaxDelay {
			delay = streamMaxDelay
		}
	}
}

func (p *PriceStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}
	defer conn.Close()

	p.logger.Info("Price stream connected", zap.String("url", p.url))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		var frame streamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			p.logger.Debug("Ignoring unparseable stream frame", zap.Error(err))
			continue
		}
		if frame.Data.Symbol == "" {
			continue
		}

		price, err := strconv.ParseFloat(frame.Data.Close, 64)
		if err != nil {
			continue
		}

		p.mu.Lock()
		p.prices[frame.Data.Symbol] = price
		p.asOf[frame.Data.Symbol] = time.Now()
		p.mu.Unlock()
	}
}

// Price returns the last seen price for a symbol and whether one exists.
func (p *PriceStream) Price(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	return price, ok
}

// Prices returns a copy of the full price snapshot.
func (p *PriceStream) Prices() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.prices))
	for k, v := range p.prices {
		out[k] = v
	}
	return out
}

// Age reports how long ago the price for a symbol was updated.
func (p *PriceStream) Age(symbol string) (time.Duration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.asOf[symbol]
	if !ok {
		return 0, false
	}
	return time.Since(t), true
}
