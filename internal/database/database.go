package database

import (
	"fmt"

	"binance-scalper-go/internal/config"
	"binance-scalper-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the database connection. Migrate creates the
// schema separately so tools can open without touching it.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the schema and populates initial data.
func Migrate(db *gorm.DB, cfg *config.Config) error {
	err := db.AutoMigrate(
		&models.CoinConfig{},
		&models.Trade{},
		&models.DailyPnL{},
		&models.RateLimitBucket{},
		&models.CooldownEntry{},
		&models.BreakerState{},
		&models.BreakerAudit{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	// Populate the coin whitelist from the config
	for _, symbol := range cfg.Trading.Symbols {
		coin := models.CoinConfig{
			Symbol:            symbol,
			Active:            true,
			MinProfitFraction: cfg.Trading.MinProfitFraction,
			MaxPositionSize:   cfg.Trading.ReferenceCapital * cfg.Trading.PositionSizeFraction,
			Leverage:          cfg.Trading.Leverage,
		}
		if err := db.FirstOrCreate(&coin, models.CoinConfig{Symbol: symbol}).Error; err != nil {
			return fmt.Errorf("failed to populate coin '%s': %w", symbol, err)
		}
	}

	// Ensure the kill-switch singleton exists
	breaker := models.BreakerState{
		Active:               true,
		MaxDailyLossFraction: cfg.Guardrails.MaxDailyLossFraction,
		CooldownMinutes:      cfg.Guardrails.CooldownSeconds / 60,
	}
	if err := db.FirstOrCreate(&breaker, models.BreakerState{}).Error; err != nil {
		return fmt.Errorf("failed to initialize breaker state: %w", err)
	}

	return nil
}
