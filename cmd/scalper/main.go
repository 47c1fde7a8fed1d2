package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-scalper-go/internal/binance"
	"binance-scalper-go/internal/clock"
	"binance-scalper-go/internal/config"
	"binance-scalper-go/internal/database"
	"binance-scalper-go/internal/logger"
	"binance-scalper-go/internal/notify"
	"binance-scalper-go/internal/store"
	"binance-scalper-go/internal/trader"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}
	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("mode", cfg.Trading.Mode))

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db, &cfg); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	st := store.NewGormStore(db)
	clk := clock.Real()

	// Exchange clients. Simulated mode reads live market data but
	// never places a real order.
	restClient := binance.NewRestClient(&cfg.Binance, log)
	var exchange binance.Client = restClient
	if cfg.Trading.Mode != "live" {
		exchange = binance.NewSimClient(restClient, log)
		log.Warn("Running in simulated mode. No real orders will be placed.")
	}

	// Verify exchange connectivity before trading.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if len(cfg.Trading.Symbols) > 0 {
		if _, err := exchange.GetPrice(startupCtx, cfg.Trading.Symbols[0]); err != nil {
			log.Fatal("Failed to connect to Binance API", zap.Error(err))
		}
	}
	if err := restClient.LoadExchangeFilters(startupCtx); err != nil {
		log.Warn("Order quantities will not be lot-size rounded", zap.Error(err))
	}
	startupCancel()
	log.Info("Successfully connected to Binance API.")

	notifier := notify.NewTelegramNotifier(&cfg.Telegram, log)

	guardrails := trader.NewGuardrails(st, clk, &cfg.Guardrails, cfg.Trading.ReferenceCapital, log)
	lifecycle := trader.NewLifecycle(st, exchange, notifier, clk, &cfg.Trading, &cfg.Guardrails, log)
	engine := trader.NewEngine(log, &cfg, st, exchange, clk, guardrails, lifecycle)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Autonomous entry scanner over the active whitelist.
	if cfg.Scanner.Enabled {
		scanner := trader.NewScanner(engine, st,
			time.Duration(cfg.Scanner.Interval)*time.Second, log)
		go scanner.Run(ctx)
	}

	// Optional live price feed for the monitor.
	var stream *binance.PriceStream
	if cfg.Monitor.UsePriceFeed {
		stream = binance.NewPriceStream(cfg.Trading.Symbols, cfg.Binance.Testnet, log)
		go stream.Run(ctx)
	}

	var source interface{ Price(string) (float64, bool) }
	if stream != nil {
		source = stream
	}
	monitor := trader.NewMonitor(st, exchange, lifecycle, source,
		time.Duration(cfg.Monitor.PollInterval)*time.Second,
		time.Duration(cfg.Monitor.CleanupPeriod)*time.Minute,
		log,
	)
	go monitor.Run(ctx)

	apiServer := trader.NewAPIServer(engine, log)
	apiServer.Start()

	notifier.Send(fmt.Sprintf("🚀 Scalper started (%s mode, %d symbols)",
		cfg.Trading.Mode, len(cfg.Trading.Symbols)))

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
