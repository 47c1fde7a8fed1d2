package binance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SimClient executes orders against live market data without touching the
// exchange account. Fills happen instantly at the current ticker price.
type SimClient struct {
	market Client
	logger *zap.Logger
}

var _ Client = (*SimClient)(nil)

// NewSimClient wraps a real client, delegating market-data reads to it and
// simulating all order endpoints.
func NewSimClient(market Client, logger *zap.Logger) *SimClient {
	return &SimClient{market: market, logger: logger}
}

func (c *SimClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return c.market.GetPrice(ctx, symbol)
}

func (c *SimClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return c.market.GetKlines(ctx, symbol, interval, limit)
}

func (c *SimClient) PlaceOrder(ctx context.Context, symbol, side string, quantity float64, leverage int) (*OrderResult, error) {
	price, err := c.market.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("simulated order needs a fill price: %w", err)
	}

	ref := "sim-" + uuid.NewString()
	c.logger.Info("Simulated order filled",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
		zap.Int("leverage", leverage),
		zap.String("order_ref", ref),
	)

	return &OrderResult{
		OrderRef:    ref,
		AvgPrice:    price,
		ExecutedQty: quantity,
	}, nil
}

func (c *SimClient) ClosePosition(ctx context.Context, symbol string, quantity float64) (*OrderResult, error) {
	price, err := c.market.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("simulated close needs a fill price: %w", err)
	}

	ref := "sim-" + uuid.NewString()
	c.logger.Info("Simulated position closed",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
		zap.String("order_ref", ref),
	)

	return &OrderResult{
		OrderRef:    ref,
		AvgPrice:    price,
		ExecutedQty: quantity,
	}, nil
}
