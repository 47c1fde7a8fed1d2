// Package indicators provides the technical indicators used by the entry
// signal gate. All functions are pure and operate on closed candles only.
package indicators

import (
	"math"

	"binance-scalper-go/internal/binance"
)

// Defaults for the 1m scalping setup. The short RSI reacts within a
// few candles; the 200-period EMA filters the overall trend.
const (
	DefaultRSIPeriod   = 7
	DefaultBBPeriod    = 20
	DefaultBBStdDev    = 2.0
	DefaultEMAPeriod   = 200
	DefaultATRPeriod   = 14
	DefaultRSIOversold = 30.0
)

// Snapshot holds one evaluation of all indicators over a candle window.
type Snapshot struct {
	RSI      float64
	BBUpper  float64
	BBMiddle float64
	BBLower  float64
	EMA      float64
	ATR      float64
	Price    float64
}

// ewm computes an exponentially weighted mean with span semantics,
// seeding with the first value (adjust=false).
func ewm(values []float64, span int) float64 {
	if len(values) == 0 {
		return 0
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := values[0]
	for _, v := range values[1:] {
		out = alpha*v + (1-alpha)*out
	}
	return out
}

// RSI computes the Relative Strength Index over closing prices.
// Returns the neutral value 50 when there is not enough data.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}

	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains = append(gains, delta)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -delta)
		}
	}

	avgGain := ewm(gains, period)
	avgLoss := ewm(losses, period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Bollinger computes the Bollinger bands over the most recent period of
// closing prices. Falls back to the last price for all three bands when
// there is not enough data.
func Bollinger(closes []float64, period int, stdDev float64) (upper, middle, lower float64) {
	if len(closes) < period {
		last := 0.0
		if len(closes) > 0 {
			last = closes[len(closes)-1]
		}
		return last, last, last
	}

	window := closes[len(closes)-period:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(period)

	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))

	return mean + stdDev*std, mean, mean - stdDev*std
}

// EMA computes the exponential moving average over the whole series.
// Falls back to the last price when there is not enough data.
func EMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		return closes[len(closes)-1]
	}
	return ewm(closes, period)
}

// ATR computes the Average True Range as a simple mean of the true range
// over the last period candles. Returns 0 when there is not enough data.
func ATR(candles []binance.Kline, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		hl := candles[i].High - candles[i].Low
		hpc := math.Abs(candles[i].High - prevClose)
		lpc := math.Abs(candles[i].Low - prevClose)
		trs = append(trs, math.Max(hl, math.Max(hpc, lpc)))
	}

	window := trs[len(trs)-period:]
	var sum float64
	for _, tr := range window {
		sum += tr
	}
	return sum / float64(period)
}

// Evaluate computes a full indicator snapshot from closed candles and the
// current price.
func Evaluate(candles []binance.Kline, price float64) Snapshot {
	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}

	upper, middle, lower := Bollinger(closes, DefaultBBPeriod, DefaultBBStdDev)
	return Snapshot{
		RSI:      RSI(closes, DefaultRSIPeriod),
		BBUpper:  upper,
		BBMiddle: middle,
		BBLower:  lower,
		EMA:      EMA(closes, DefaultEMAPeriod),
		ATR:      ATR(candles, DefaultATRPeriod),
		Price:    price,
	}
}

// EntrySignal reports whether the snapshot satisfies the long-only scalp
// entry: oversold RSI, price at or below the lower band, and price above
// the long EMA trend filter.
func (s Snapshot) EntrySignal() bool {
	if s.Price < s.EMA {
		return false
	}
	if s.Price > s.BBLower {
		return false
	}
	return s.RSI <= DefaultRSIOversold
}
