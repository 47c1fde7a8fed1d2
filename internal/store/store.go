package store

import (
	"errors"
	"time"

	"binance-scalper-go/internal/models"
)

// Store errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a trade mutation targets a
	// status the trade is no longer in (terminal trades are immutable).
	ErrInvalidTransition = errors.New("invalid trade state transition")
)

// TradeExit carries the fields written on a terminal Closed/Stopped
// transition. Pnl and PnlFraction are computed by the caller.
type TradeExit struct {
	Status      string // models.StatusClosed or models.StatusStopped
	Price       float64
	Time        time.Time
	Reason      string
	OrderRef    string
	Pnl         float64
	PnlFraction float64
}

// Store is the adapter over the durable tables backing every guardrail
// and lifecycle decision. Implementations must make IncrementRateBucket,
// UpsertCooldown, TripDailyBreaker and FinalizeTrade atomic: two
// concurrent callers must never both pass a conditional check that only
// one of them should.
type Store interface {
	// Coin whitelist
	GetCoinConfig(symbol string) (*models.CoinConfig, error)
	ListCoinConfigs() ([]models.CoinConfig, error)
	SetCoinActive(symbol string, active bool) error

	// Trades
	CreateTrade(t *models.Trade) error
	GetTrade(id uint) (*models.Trade, error)
	OpenTrades() ([]models.Trade, error)
	CountOpenTrades() (int, error)
	CountOpenTradesBySymbol(symbol string) (int, error)
	// MarkTradeOpen moves a Pending trade to Open, recording the entry
	// order reference. Fails with ErrInvalidTransition otherwise.
	MarkTradeOpen(id uint, orderRef string) error
	// CancelTrade terminates a Pending or Open trade with no PnL impact.
	CancelTrade(id uint, reason string, at time.Time) error
	// FinalizeTrade atomically applies a Closed/Stopped transition and
	// folds the result into the exit date's DailyPnL row. Returns the
	// updated trade and daily aggregate.
	FinalizeTrade(id uint, exit TradeExit) (*models.Trade, *models.DailyPnL, error)

	// Daily PnL / circuit breaker
	GetDailyPnL(date string) (*models.DailyPnL, error)
	RecentDailyPnL(days int) ([]models.DailyPnL, error)
	// TripDailyBreaker flips the date's breaker flag false→true and
	// reports whether this call performed the flip.
	TripDailyBreaker(date string, at time.Time) (bool, error)
	// ResetDailyBreaker clears the date's breaker flag and writes an
	// audit record naming the actor. The activation timestamp is kept
	// so admission does not re-trip on the same losses.
	ResetDailyBreaker(date, actor, reason string, at time.Time) error

	// Global kill switch
	GetBreakerState() (*models.BreakerState, error)
	SetBreakerActive(active bool, actor, reason string, at time.Time) error

	// Per-symbol cooldown
	GetCooldown(symbol string) (*models.CooldownEntry, error)
	UpsertCooldown(symbol string, lastTrade, until time.Time) error

	// Rate limiting: atomic test-and-increment of the minute's bucket.
	// Returns false when the increment would exceed max.
	IncrementRateBucket(minute int64, max int) (bool, error)
	// PurgeRateBuckets removes buckets older than the given minute.
	// Storage hygiene only; correctness never depends on it running.
	PurgeRateBuckets(before int64) error
}

// MinuteOf truncates a timestamp to its rate-limit bucket key.
func MinuteOf(t time.Time) int64 {
	return t.UTC().Truncate(time.Minute).Unix()
}
