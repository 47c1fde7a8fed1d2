package models

import (
	"time"

	"gorm.io/gorm"
)

// CooldownEntry blocks repeat admissions on a symbol until CooldownUntil.
// One row per symbol, upserted on every admission.
type CooldownEntry struct {
	gorm.Model
	Symbol        string    `gorm:"uniqueIndex;not null" json:"symbol"`
	LastTradeTime time.Time `json:"last_trade_time"`
	CooldownUntil time.Time `json:"cooldown_until"`
}
