package models

import (
	"time"

	"gorm.io/gorm"
)

// BreakerState is the process-wide kill-switch singleton. There is
// exactly one row; when Active is false every admission is rejected.
type BreakerState struct {
	gorm.Model
	Active               bool    `gorm:"default:true" json:"active"`
	MaxDailyLossFraction float64 `json:"max_daily_loss_fraction"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

// Breaker audit actions.
const (
	BreakerActionTrip  = "TRIP"
	BreakerActionReset = "RESET"
	BreakerActionHalt  = "HALT"
)

// BreakerAudit records every operator or automatic mutation of the
// circuit breaker, so resets are never silent state edits.
type BreakerAudit struct {
	gorm.Model
	Action   string    `gorm:"not null" json:"action"`
	Date     string    `json:"date,omitempty"` // daily breaker date, empty for the global switch
	Actor    string    `json:"actor"`          // "engine", "cli", "api"
	Reason   string    `json:"reason"`
	ActionAt time.Time `json:"action_at"`
}
