package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"binance-scalper-go/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	client := resty.New().SetBaseURL(server.URL)
	logger := zap.NewNop() // Use a no-op logger for tests

	rc := &RestClient{
		client:    client,
		apiKey:    "test_api_key",
		secretKey: "test_secret_key",
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}

	return rc, server
}

func TestGetPrice(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ticker/price", r.URL.Path)
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"50123.45"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		price, err := rc.GetPrice(context.Background(), "BTCUSDT")

		assert.NoError(t, err)
		assert.Equal(t, 50123.45, price)
	})

	t.Run("APIError", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": -1121, "msg": "Invalid symbol."}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		price, err := rc.GetPrice(context.Background(), "NOPEUSDT")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get price")
		assert.Equal(t, 0.0, price)
	})
}

func TestGetKlines(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/klines", r.URL.Path)
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","105.0","99.0","104.0","1234.5",1700000059999,"0",1,"0","0","0"],
			[1700000060000,"104.0","106.0","103.0","105.5","987.6",1700000119999,"0",1,"0","0","0"]
		]`))
	})

	rc, server := setupTestServer(handler)
	defer server.Close()

	klines, err := rc.GetKlines(context.Background(), "BTCUSDT", "1m", 2)

	assert.NoError(t, err)
	assert.Len(t, klines, 2)
	assert.Equal(t, 100.0, klines[0].Open)
	assert.Equal(t, 104.0, klines[0].Close)
	assert.Equal(t, 106.0, klines[1].High)
	assert.Equal(t, int64(1700000060000), klines[1].OpenTime)
}

func TestPlaceOrder(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var leverageSet atomic.Bool
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/leverage":
				assert.Equal(t, "test_api_key", r.Header.Get("X-MBX-APIKEY"))
				leverageSet.Store(true)
				_, _ = w.Write([]byte(`{"leverage":5,"symbol":"BTCUSDT"}`))
			case "/order":
				assert.True(t, leverageSet.Load(), "leverage must be set before the order")
				assert.Equal(t, "test_api_key", r.Header.Get("X-MBX-APIKEY"))
				_, _ = w.Write([]byte(`{
					"symbol":"BTCUSDT","orderId":12345,"clientOrderId":"abc",
					"avgPrice":"50200.00","executedQty":"0.100","status":"FILLED","side":"BUY"
				}`))
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		result, err := rc.PlaceOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.1, 5)

		assert.NoError(t, err)
		assert.Equal(t, "12345", result.OrderRef)
		assert.Equal(t, 50200.0, result.AvgPrice)
		assert.Equal(t, 0.1, result.ExecutedQty)
	})

	t.Run("OrderRejected", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/leverage" {
				_, _ = w.Write([]byte(`{"leverage":5}`))
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		result, err := rc.PlaceOrder(context.Background(), "BTCUSDT", OrderSideBuy, 100, 5)

		assert.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "failed to create order")
	})
}

func TestClosePosition(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, OrderSideSell, r.PostForm.Get("side"))
		assert.Equal(t, "true", r.PostForm.Get("reduceOnly"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"symbol":"BTCUSDT","orderId":777,"avgPrice":"50300.00",
			"executedQty":"0.100","status":"FILLED","side":"SELL"
		}`))
	})

	rc, server := setupTestServer(handler)
	defer server.Close()

	result, err := rc.ClosePosition(context.Background(), "BTCUSDT", 0.1)

	assert.NoError(t, err)
	assert.Equal(t, "777", result.OrderRef)
	assert.Equal(t, 50300.0, result.AvgPrice)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"100.0"}`))
	})

	rc, server := setupTestServer(handler)
	defer server.Close()

	price, err := rc.GetPrice(context.Background(), "BTCUSDT")

	assert.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewRestClient(t *testing.T) {
	t.Run("Testnet", func(t *testing.T) {
		cfg := &config.Binance{Testnet: true, RateLimit: 10, RateLimitBurst: 5}
		rc := NewRestClient(cfg, zap.NewNop())
		assert.NotNil(t, rc)
		assert.Equal(t, cfg.ApiKey, rc.apiKey)
		assert.Equal(t, cfg.SecretKey, rc.secretKey)
	})

	t.Run("Production", func(t *testing.T) {
		cfg := &config.Binance{Testnet: false, RateLimit: 10, RateLimitBurst: 5}
		rc := NewRestClient(cfg, zap.NewNop())
		assert.NotNil(t, rc)
		assert.Equal(t, cfg.ApiKey, rc.apiKey)
		assert.Equal(t, cfg.SecretKey, rc.secretKey)
	})
}

func TestLoadExchangeFilters(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchangeInfo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}
			]},
			{"symbol":"ETHUSDT","filters":[{"filterType":"LOT_SIZE","stepSize":"0.01","minQty":"0.01"}]}
		]}`))
	})

	rc, server := setupTestServer(handler)
	defer server.Close()

	assert.NoError(t, rc.LoadExchangeFilters(context.Background()))
	assert.Equal(t, "0.001", rc.lotSteps["BTCUSDT"])
	assert.Equal(t, "0.01", rc.lotSteps["ETHUSDT"])
}

func TestPlaceOrderRoundsToLotStep(t *testing.T) {
	var quantity atomic.Value
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/exchangeInfo":
			_, _ = w.Write([]byte(`{"symbols":[
				{"symbol":"BTCUSDT","filters":[{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}]}
			]}`))
		case "/leverage":
			_, _ = w.Write([]byte(`{"leverage":5,"symbol":"BTCUSDT"}`))
		case "/order":
			assert.NoError(t, r.ParseForm())
			quantity.Store(r.PostForm.Get("quantity"))
			_, _ = w.Write([]byte(`{
				"symbol":"BTCUSDT","orderId":12345,"avgPrice":"50200.00",
				"executedQty":"0.013","status":"FILLED","side":"BUY"
			}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	rc, server := setupTestServer(handler)
	defer server.Close()
	assert.NoError(t, rc.LoadExchangeFilters(context.Background()))

	// An unrounded sizing quotient must reach the wire floored to the
	// symbol's step.
	_, err := rc.PlaceOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.013333333333333334, 5)
	assert.NoError(t, err)
	assert.Equal(t, "0.013", quantity.Load())
}

func TestStepPrecision(t *testing.T) {
	assert.Equal(t, 3, stepPrecision("0.001"))
	assert.Equal(t, 2, stepPrecision("0.010"))
	assert.Equal(t, 0, stepPrecision("1"))
	assert.Equal(t, 0, stepPrecision("1.000"))
	assert.Equal(t, -1, stepPrecision(""))
}
