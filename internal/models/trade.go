package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade statuses. Closed, Stopped and Cancelled are terminal.
const (
	StatusPending   = "PENDING"
	StatusOpen      = "OPEN"
	StatusClosed    = "CLOSED"
	StatusStopped   = "STOPPED"
	StatusCancelled = "CANCELLED"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Execution modes.
const (
	ModeSimulated = "SIMULATED"
	ModeLive      = "LIVE"
)

// Exit reasons recorded on terminal transitions.
const (
	ExitTakeProfit  = "TAKE_PROFIT"
	ExitStopLoss    = "STOP_LOSS"
	ExitManual      = "MANUAL"
	ExitOrderFailed = "ORDER_FAILED"
	// ExitRecordFailed marks a filled entry whose Open transition could
	// not be written. The exchange position is untracked at that point.
	ExitRecordFailed = "RECORD_FAILED"
)

// Trade is a single position tracked from admission to closure.
type Trade struct {
	gorm.Model
	Symbol        string     `gorm:"index;not null" json:"symbol"`
	Side          string     `json:"side"`
	EntryPrice    float64    `json:"entry_price"`
	ExitPrice     *float64   `json:"exit_price,omitempty"`
	Quantity      float64    `json:"quantity"`
	Leverage      int        `json:"leverage"`
	TargetPrice   float64    `json:"target_price"`
	StopLossPrice float64    `json:"stop_loss_price"`
	Pnl           float64    `json:"pnl"`
	PnlFraction   float64    `json:"pnl_fraction"`
	Status        string     `gorm:"index;not null" json:"status"`
	EntryReason   string     `json:"entry_reason"`
	ExitReason    string     `json:"exit_reason,omitempty"`
	EntryOrderRef string     `json:"entry_order_ref,omitempty"`
	ExitOrderRef  string     `json:"exit_order_ref,omitempty"`
	Mode          string     `json:"mode"`
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
}

// IsTerminal reports whether the trade has reached a final status.
func (t *Trade) IsTerminal() bool {
	return t.Status == StatusClosed || t.Status == StatusStopped || t.Status == StatusCancelled
}
