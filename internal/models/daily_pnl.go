package models

import (
	"time"

	"gorm.io/gorm"
)

// DailyPnL aggregates trade results for one calendar trade-date and is
// the single authoritative input to the daily circuit breaker.
type DailyPnL struct {
	gorm.Model
	Date               string     `gorm:"uniqueIndex;not null" json:"date"` // YYYY-MM-DD
	TotalPnl           float64    `json:"total_pnl"`
	TotalTrades        int        `json:"total_trades"`
	WinningTrades      int        `json:"winning_trades"`
	LosingTrades       int        `json:"losing_trades"`
	BreakerActive      bool       `json:"circuit_breaker_active"`
	BreakerActivatedAt *time.Time `json:"circuit_breaker_activated_at,omitempty"`
}

// TradeDate formats a timestamp as the daily aggregation key.
func TradeDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
