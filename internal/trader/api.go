package trader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"binance-scalper-go/internal/store"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIServer exposes the engine over HTTP: signal webhook, trade
// queries, daily stats, admin operations and Prometheus metrics.
type APIServer struct {
	server        *http.Server
	engine        *Engine
	webhookSecret string
	startTime     time.Time
	logger        *zap.Logger
}

// NewAPIServer wires the routes and returns an unstarted server.
func NewAPIServer(engine *Engine, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine:        engine,
		webhookSecret: engine.cfg.Server.WebhookSecret,
		startTime:     time.Now(),
		logger:        logger.Named("api-server"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/webhook", s.requireSecret(s.webhookHandler)).Methods(http.MethodPost)
	r.HandleFunc("/trades/manual", s.requireSecret(s.manualTradeHandler)).Methods(http.MethodPost)
	r.HandleFunc("/trades/open", s.openTradesHandler).Methods(http.MethodGet)
	r.HandleFunc("/trades/{id:[0-9]+}", s.getTradeHandler).Methods(http.MethodGet)
	r.HandleFunc("/trades/{id:[0-9]+}/close", s.requireSecret(s.closeTradeHandler)).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)

	r.HandleFunc("/admin/breaker/reset", s.requireSecret(s.resetBreakerHandler)).Methods(http.MethodPost)
	r.HandleFunc("/admin/killswitch", s.requireSecret(s.killSwitchHandler)).Methods(http.MethodPost)
	r.HandleFunc("/admin/coins", s.listCoinsHandler).Methods(http.MethodGet)
	r.HandleFunc("/admin/coins/{symbol}/toggle", s.requireSecret(s.toggleCoinHandler)).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", engine.cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// requireSecret guards mutating endpoints with a shared-secret header.
// An empty configured secret disables the check (local development).
func (s *APIServer) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.webhookSecret != "" && r.Header.Get("X-Webhook-Secret") != s.webhookSecret {
			s.writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
		next(w, r)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, _ *http.Request) {
	breaker, err := s.engine.store.GetBreakerState()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read breaker state")
		return
	}
	open, err := s.engine.store.CountOpenTrades()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count open trades")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":            s.engine.cfg.Trading.Mode,
		"trading_enabled": breaker.Active,
		"open_trades":     open,
		"start_time":      s.startTime.Format(time.RFC3339),
		"uptime":          time.Since(s.startTime).String(),
	})
}

type signalRequest struct {
	Symbol string `json:"symbol"`
	Source string `json:"source"`
}

func (s *APIServer) webhookHandler(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Source == "" {
		req.Source = "webhook"
	}

	result, err := s.engine.SubmitSignal(r.Context(), req.Symbol, req.Source)
	if err != nil {
		s.logger.Error("Signal execution failed",
			zap.String("symbol", req.Symbol),
			zap.Error(err),
		)
		s.writeError(w, http.StatusBadGateway, "trade execution failed")
		return
	}

	status := http.StatusOK
	if !result.Admitted {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, result)
}

func (s *APIServer) manualTradeHandler(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	result, err := s.engine.SubmitManual(r.Context(), req.Symbol)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "trade execution failed")
		return
	}

	status := http.StatusOK
	if !result.Admitted {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, result)
}

func (s *APIServer) openTradesHandler(w http.ResponseWriter, _ *http.Request) {
	trades, err := s.engine.GetOpenTrades()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load open trades")
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *APIServer) getTradeHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	trade, err := s.engine.GetTrade(uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *APIServer) closeTradeHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	trade, err := s.engine.CloseTrade(r.Context(), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "trade not found")
		case errors.Is(err, store.ErrInvalidTransition):
			s.writeError(w, http.StatusConflict, "trade is not open")
		default:
			s.logger.Error("Manual close failed", zap.Uint64("trade_id", id), zap.Error(err))
			s.writeError(w, http.StatusBadGateway, "close order failed")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *APIServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 365 {
			s.writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = parsed
	}

	stats, err := s.engine.GetDailyStats(days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type adminRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
	Active *bool  `json:"active,omitempty"`
}

func (s *APIServer) resetBreakerHandler(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" {
		s.writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	if err := s.engine.ResetDailyBreaker(req.Actor, req.Reason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no daily record for today")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to reset breaker")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *APIServer) killSwitchHandler(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" || req.Active == nil {
		s.writeError(w, http.StatusBadRequest, "actor and active are required")
		return
	}

	if err := s.engine.SetKillSwitch(*req.Active, req.Actor, req.Reason); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to set kill switch")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"trading_enabled": *req.Active})
}

func (s *APIServer) listCoinsHandler(w http.ResponseWriter, _ *http.Request) {
	coins, err := s.engine.ListCoins()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load coins")
		return
	}
	s.writeJSON(w, http.StatusOK, coins)
}

type toggleRequest struct {
	Active bool `json:"active"`
}

func (s *APIServer) toggleCoinHandler(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.SetCoinActive(symbol, req.Active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown symbol")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to update coin")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "active": req.Active})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
