package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"binance-scalper-go/internal/config"
	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://fapi.binance.com/fapi/v1"
	testnetBaseURL = "https://testnet.binancefuture.com/fapi/v1"
	recvWindow     = "5000" // How long a request is valid in milliseconds

	OrderTypeMarket = "MARKET"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kline is a single closed candle.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// OrderResult is the engine-facing view of an executed order.
type OrderResult struct {
	OrderRef    string
	AvgPrice    float64
	ExecutedQty float64
}

// Client defines the exchange operations the engine consumes.
type Client interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	PlaceOrder(ctx context.Context, symbol, side string, quantity float64, leverage int) (*OrderResult, error)
	ClosePosition(ctx context.Context, symbol string, quantity float64) (*OrderResult, error)
}

// RestClient is a client for the Binance Futures REST API.
// It implements the Client interface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter

	rulesMu  sync.RWMutex
	lotSteps map[string]string // symbol -> LOT_SIZE stepSize
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// NewRestClient creates a new Binance Futures REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Futures Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Futures Production API")
	}

	client := resty.New().SetBaseURL(url)
	if cfg.OrderTimeout > 0 {
		client.SetTimeout(time.Duration(cfg.OrderTimeout) * time.Second)
	}

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice fetches the latest mark price for one symbol.
func (c *RestClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker TickerPrice

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&ticker).
		SetHeader("Content-Type", "application/json")

	_, err := c.doRequest(ctx, "GET", "/ticker/price", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q for %s: %w", ticker.Price, symbol, err)
	}
	return price, nil
}

// GetKlines fetches closed candles for a symbol.
// Binance encodes each kline as a heterogeneous JSON array.
func (c *RestClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	var raw [][]interface{}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode klines for %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		k := Kline{
			OpenTime:  int64(asFloat(row[0])),
			Open:      parsePrice(row[1]),
			High:      parsePrice(row[2]),
			Low:       parsePrice(row[3]),
			Close:     parsePrice(row[4]),
			Volume:    parsePrice(row[5]),
			CloseTime: int64(asFloat(row[6])),
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func parsePrice(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return asFloat(v)
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// exchangeInfoResponse carries the per-symbol trading rules from the
// /exchangeInfo endpoint. Only the LOT_SIZE filter is consumed.
type exchangeInfoResponse struct {
	Symbols []exchangeSymbol `json:"symbols"`
}

type exchangeSymbol struct {
	Symbol  string           `json:"symbol"`
	Filters []exchangeFilter `json:"filters"`
}

type exchangeFilter struct {
	FilterType string `json:"filterType"`
	StepSize   string `json:"stepSize"`
}

// LoadExchangeFilters fetches and caches the LOT_SIZE step for every
// symbol. Call it once at startup; until it succeeds, order quantities
// are sent unrounded.
func (c *RestClient) LoadExchangeFilters(ctx context.Context) error {
	var info exchangeInfoResponse
	req := c.client.R().
		SetResult(&info).
		SetHeader("Content-Type", "application/json")

	if _, err := c.doRequest(ctx, "GET", "/exchangeInfo", req); err != nil {
		return fmt.Errorf("failed to load exchange filters: %w", err)
	}

	steps := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" && f.StepSize != "" {
				steps[s.Symbol] = f.StepSize
			}
		}
	}

	c.rulesMu.Lock()
	c.lotSteps = steps
	c.rulesMu.Unlock()

	c.logger.Info("Cached exchange lot filters", zap.Int("symbols", len(steps)))
	return nil
}

// quantizeQty floors the quantity to the symbol's LOT_SIZE step so the
// exchange does not reject the order with a precision error.
func (c *RestClient) quantizeQty(symbol string, quantity float64) float64 {
	c.rulesMu.RLock()
	step := c.lotSteps[symbol]
	c.rulesMu.RUnlock()

	precision := stepPrecision(step)
	if precision < 0 {
		return quantity
	}
	m := math.Pow(10, float64(precision))
	return math.Floor(quantity*m) / m
}

// stepPrecision derives the decimal precision from a stepSize string
// like "0.001" (3) or "1" (0). Returns -1 for an unknown step.
func stepPrecision(step string) int {
	if step == "" {
		return -1
	}
	dot := strings.IndexByte(step, '.')
	if dot == -1 {
		return 0
	}
	for i := len(step) - 1; i > dot; i-- {
		if step[i] != '0' {
			return i - dot
		}
	}
	return 0
}

// createOrderResponse represents the response from creating a new order.
type createOrderResponse struct {
	Symbol           string `json:"symbol"`
	OrderID          int64  `json:"orderId"`
	ClientOrderID    string `json:"clientOrderId"`
	AvgPrice         string `json:"avgPrice"`
	ExecutedQuantity string `json:"executedQty"`
	Status           string `json:"status"`
	Side             string `json:"side"`
}

// PlaceOrder sets leverage for the symbol and submits a MARKET order.
func (c *RestClient) PlaceOrder(ctx context.Context, symbol, side string, quantity float64, leverage int) (*OrderResult, error) {
	if err := c.setLeverage(ctx, symbol, leverage); err != nil {
		return nil, err
	}
	return c.marketOrder(ctx, symbol, side, quantity)
}

// ClosePosition submits a reduce-only MARKET order on the opposite side.
func (c *RestClient) ClosePosition(ctx context.Context, symbol string, quantity float64) (*OrderResult, error) {
	params := url.Values{}
	params.Set("reduceOnly", "true")
	return c.marketOrderWith(ctx, symbol, OrderSideSell, quantity, params)
}

func (c *RestClient) setLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", c.sign(queryString))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode())

	if _, err := c.doRequest(ctx, "POST", "/leverage", req); err != nil {
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	return nil
}

func (c *RestClient) marketOrder(ctx context.Context, symbol, side string, quantity float64) (*OrderResult, error) {
	return c.marketOrderWith(ctx, symbol, side, quantity, url.Values{})
}

func (c *RestClient) marketOrderWith(ctx context.Context, symbol, side string, quantity float64, extra url.Values) (*OrderResult, error) {
	quantity = c.quantizeQty(symbol, quantity)

	params := url.Values{}
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("newOrderRespType", "RESULT") // include avgPrice in the ack
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", c.sign(queryString))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&createOrderResponse{})

	resp, err := c.doRequest(ctx, "POST", "/order", req)
	if err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", symbol),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*createOrderResponse)
	avgPrice, _ := strconv.ParseFloat(result.AvgPrice, 64)
	executedQty, _ := strconv.ParseFloat(result.ExecutedQuantity, 64)

	c.logger.Info("Order executed",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Int64("order_id", result.OrderID),
		zap.Float64("avg_price", avgPrice),
	)

	return &OrderResult{
		OrderRef:    strconv.FormatInt(result.OrderID, 10),
		AvgPrice:    avgPrice,
		ExecutedQty: executedQty,
	}, nil
}
