// Package indicator implements the indicator pipeline (spec §4.1): pure
// functions mapping an ordered candle sequence to a named scalar or
// composite value. Every function reports "not computable" via its bool
// return rather than erroring or returning a placeholder zero.
package indicator

import (
	"math"

	"ai-trading-core/internal/model"
)

func closes(candles []model.Candlestick) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		f, _ := c.Close.Float64()
		out[i] = f
	}
	return out
}

// SMARequiredWindow is requiredWindow(period) for SMA.
func SMARequiredWindow(period int) int { return period }

// SMA computes the simple moving average of the last `period` closes.
func SMA(candles []model.Candlestick, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	c := closes(candles)
	sum := 0.0
	for _, v := range c[len(c)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMARequiredWindow is requiredWindow(period) for EMA.
func EMARequiredWindow(period int) int { return period }

// emaSeries computes the EMA value at every index >= period-1, seeded by the
// SMA of the first `period` values (spec §4.1 treats EMA as a pure function
// of the whole candle sequence, so the seed is always the earliest window).
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	seed := sum / float64(period)
	out[period-1] = seed
	mult := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(values); i++ {
		ema = values[i]*mult + ema*(1-mult)
		out[i] = ema
	}
	return out
}

// EMA computes the exponential moving average over the full candle
// sequence, seeded by the SMA of the earliest `period` closes.
func EMA(candles []model.Candlestick, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	series := emaSeries(closes(candles), period)
	return series[len(series)-1], true
}

// RSIRequiredWindow is requiredWindow(period) for RSI: one extra candle is
// needed to form `period` deltas.
func RSIRequiredWindow(period int) int { return period + 1 }

// RSI computes the Relative Strength Index over the trailing `period`
// deltas. All-equal prices (avgLoss=0) yield RSI=100 exactly, per spec §4.1.
func RSI(candles []model.Candlestick, period int) (float64, bool) {
	if period <= 0 || len(candles) < RSIRequiredWindow(period) {
		return 0, false
	}
	c := closes(candles)
	start := len(c) - period
	var gains, losses float64
	for i := start; i < len(c); i++ {
		change := c[i] - c[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// MACDRequiredWindow is requiredWindow(fast,slow,signal) for MACD: enough
// candles to seed the slow EMA, plus enough subsequent MACD values to seed
// the signal EMA.
func MACDRequiredWindow(fast, slow, signalPeriod int) int {
	return slow + signalPeriod
}

// MACD computes the MACD line (fastEMA - slowEMA), a properly-maintained
// EMA-of-MACD signal line, and the histogram.
func MACD(candles []model.Candlestick, fast, slow, signalPeriod int) (model.MACDValue, bool) {
	if fast <= 0 || slow <= 0 || signalPeriod <= 0 || fast >= slow {
		return model.MACDValue{}, false
	}
	if len(candles) < MACDRequiredWindow(fast, slow, signalPeriod) {
		return model.MACDValue{}, false
	}
	c := closes(candles)
	fastSeries := emaSeries(c, fast)
	slowSeries := emaSeries(c, slow)

	// MACD line is only defined from the point the slow EMA is seeded.
	macdLine := make([]float64, 0, len(c)-slow+1)
	for i := slow - 1; i < len(c); i++ {
		macdLine = append(macdLine, fastSeries[i]-slowSeries[i])
	}
	if len(macdLine) < signalPeriod {
		return model.MACDValue{}, false
	}
	signalSeries := emaSeries(macdLine, signalPeriod)
	line := macdLine[len(macdLine)-1]
	signal := signalSeries[len(signalSeries)-1]
	return model.MACDValue{Line: line, Signal: signal, Histogram: line - signal}, true
}

// BollingerBandsRequiredWindow is requiredWindow(period) for Bollinger Bands.
func BollingerBandsRequiredWindow(period int) int { return period }

// BollingerBands computes the SMA middle band and the stdDevMultiplier-wide
// upper/lower bands.
func BollingerBands(candles []model.Candlestick, period int, stdDevMultiplier float64) (upper, middle, lower float64, ok bool) {
	if period <= 0 || len(candles) < period {
		return 0, 0, 0, false
	}
	middle, _ = SMA(candles, period)
	c := closes(candles)
	window := c[len(c)-period:]
	variance := 0.0
	for _, v := range window {
		diff := v - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))
	upper = middle + stdDev*stdDevMultiplier
	lower = middle - stdDev*stdDevMultiplier
	return upper, middle, lower, true
}

// BandwidthPercent is (upper-lower)/middle, used by MeanReversion/Breakout
// squeeze detection (spec §4.2). Not computable when middle is zero.
func BandwidthPercent(upper, middle, lower float64) (float64, bool) {
	if middle == 0 {
		return 0, false
	}
	return (upper - lower) / middle, true
}
