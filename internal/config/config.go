package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance    Binance    `mapstructure:"binance"`
	Trading    Trading    `mapstructure:"trading"`
	Scanner    Scanner    `mapstructure:"scanner"`
	Guardrails Guardrails `mapstructure:"guardrails"`
	Monitor    Monitor    `mapstructure:"monitor"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Telegram   Telegram   `mapstructure:"telegram"`
	Logger     Logger     `mapstructure:"logger"`
}

// Binance holds the configuration for the Binance Futures API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	OrderTimeout   int     `mapstructure:"order_timeout"` // seconds
}

// Trading holds the configuration for position entry and exit.
type Trading struct {
	Mode                 string   `mapstructure:"mode"` // "simulated" or "live"
	Symbols              []string `mapstructure:"symbols"`
	MinProfitFraction    float64  `mapstructure:"min_profit_fraction"`
	StopLossAtrMultiple  float64  `mapstructure:"stop_loss_atr_multiple"`
	FallbackStopFraction float64  `mapstructure:"fallback_stop_fraction"`
	Leverage             int      `mapstructure:"leverage"`
	PositionSizeFraction float64  `mapstructure:"position_size_fraction"`
	ReferenceCapital     float64  `mapstructure:"reference_capital"`
	Timeframe            string   `mapstructure:"timeframe"`
	RequireEntrySignal   bool     `mapstructure:"require_entry_signal"`
}

// Scanner holds the configuration for the autonomous market scanner.
type Scanner struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval"` // seconds
}

// Guardrails holds the capital-protection limits.
type Guardrails struct {
	MaxOpenTrades        int     `mapstructure:"max_open_trades"`
	CooldownSeconds      int     `mapstructure:"cooldown_seconds"`
	MaxOrdersPerMinute   int     `mapstructure:"max_orders_per_minute"`
	MaxDailyLossFraction float64 `mapstructure:"max_daily_loss_fraction"`
}

// Monitor holds the configuration for the open-position monitor.
type Monitor struct {
	PollInterval  int  `mapstructure:"poll_interval"` // seconds
	UsePriceFeed  bool `mapstructure:"use_price_feed"`
	CleanupPeriod int  `mapstructure:"cleanup_period"` // minutes, stale rate buckets
}

// Server holds the configuration for the webhook/API server.
type Server struct {
	Port          int    `mapstructure:"port"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Telegram holds the configuration for trade notifications.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("binance.order_timeout", 10)
	viper.SetDefault("trading.mode", "simulated")
	viper.SetDefault("trading.min_profit_fraction", 0.006)
	viper.SetDefault("trading.stop_loss_atr_multiple", 1.5)
	viper.SetDefault("trading.fallback_stop_fraction", 0.008)
	viper.SetDefault("trading.leverage", 5)
	viper.SetDefault("trading.position_size_fraction", 0.20)
	viper.SetDefault("trading.reference_capital", 10000)
	viper.SetDefault("trading.timeframe", "1m")
	viper.SetDefault("trading.require_entry_signal", true)
	viper.SetDefault("scanner.enabled", true)
	viper.SetDefault("scanner.interval", 60)
	viper.SetDefault("guardrails.max_open_trades", 1)
	viper.SetDefault("guardrails.cooldown_seconds", 900)
	viper.SetDefault("guardrails.max_orders_per_minute", 10)
	viper.SetDefault("guardrails.max_daily_loss_fraction", 0.03)
	viper.SetDefault("monitor.poll_interval", 5)
	viper.SetDefault("monitor.use_price_feed", true)
	viper.SetDefault("monitor.cleanup_period", 60)
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("database.dsn", "scalper.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	err = config.Validate()
	return
}

// Validate rejects configurations the engine cannot safely run with.
func (c *Config) Validate() error {
	if c.Trading.Mode != "simulated" && c.Trading.Mode != "live" {
		return fmt.Errorf("trading.mode must be \"simulated\" or \"live\", got %q", c.Trading.Mode)
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		return fmt.Errorf("trading.leverage must be between 1 and 125, got %d", c.Trading.Leverage)
	}
	if c.Guardrails.MaxOpenTrades < 1 {
		return fmt.Errorf("guardrails.max_open_trades must be at least 1, got %d", c.Guardrails.MaxOpenTrades)
	}
	if c.Guardrails.MaxOrdersPerMinute < 1 {
		return fmt.Errorf("guardrails.max_orders_per_minute must be at least 1, got %d", c.Guardrails.MaxOrdersPerMinute)
	}
	if c.Guardrails.MaxDailyLossFraction <= 0 || c.Guardrails.MaxDailyLossFraction > 0.5 {
		return fmt.Errorf("guardrails.max_daily_loss_fraction must be in (0, 0.5], got %f", c.Guardrails.MaxDailyLossFraction)
	}
	if c.Scanner.Enabled && c.Scanner.Interval < 1 {
		return fmt.Errorf("scanner.interval must be at least 1 second, got %d", c.Scanner.Interval)
	}
	if c.Trading.ReferenceCapital <= 0 {
		return fmt.Errorf("trading.reference_capital must be positive, got %f", c.Trading.ReferenceCapital)
	}
	return nil
}
