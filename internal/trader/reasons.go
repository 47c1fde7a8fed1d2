package trader

import "binance-scalper-go/internal/models"

// RejectReason is a machine-readable admission rejection code.
type RejectReason string

const (
	ReasonSystemHalted     RejectReason = "SYSTEM_HALTED"
	ReasonSymbolNotAllowed RejectReason = "SYMBOL_NOT_ALLOWED"
	ReasonDailyLossLimit   RejectReason = "DAILY_LOSS_LIMIT_REACHED"
	ReasonTooManyOpen      RejectReason = "TOO_MANY_OPEN_TRADES"
	ReasonSymbolOnCooldown RejectReason = "SYMBOL_ON_COOLDOWN"
	ReasonRateLimited      RejectReason = "RATE_LIMITED"
	ReasonNoEntrySignal    RejectReason = "NO_ENTRY_SIGNAL"
	// ReasonStateUnavailable covers a failed store read during any
	// guardrail check. Evaluation fails closed rather than open.
	ReasonStateUnavailable RejectReason = "STATE_UNAVAILABLE"
)

// Decision is the outcome of a guardrail evaluation. Admitted decisions
// carry the whitelist row so the lifecycle applies the symbol's
// operator-set leverage, profit target and position cap.
type Decision struct {
	Admitted bool
	Reason   RejectReason
	Coin     *models.CoinConfig
}

func admit(coin *models.CoinConfig) Decision {
	return Decision{Admitted: true, Coin: coin}
}

func reject(reason RejectReason) Decision {
	return Decision{Reason: reason}
}
