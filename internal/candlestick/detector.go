// Package candlestick detects a small set of three-bar reversal formations
// on recent OHLCV history, grounded on the teacher's
// internal/patterns/detector.go (isMorningStar/isEveningStar), trimmed to
// the two formations the Pattern Store's relevance scoring confirms against
// (SPEC_FULL.md's "candlestick pattern confirmation" supplement).
package candlestick

import (
	"ai-trading-core/internal/model"

	"github.com/shopspring/decimal"
)

// bodyRatio is the minimum fraction of a candle's high-low range its body
// must occupy to count as "long", matching the teacher's 0.6 threshold.
const bodyRatio = 0.6

// doorBodyFraction is the maximum fraction of the first candle's body the
// middle candle's body may occupy to count as "small" (indecision),
// matching the teacher's 0.4 threshold.
const doorBodyFraction = 0.4

// Detect inspects the last three candles of history (oldest first) and
// returns the formation found, or "" if none of the known patterns match.
// Fewer than three candles always returns "".
func Detect(history []model.Candlestick) model.CandlestickPatternName {
	n := len(history)
	if n < 3 {
		return ""
	}
	c1, c2, c3 := history[n-3], history[n-2], history[n-1]

	if isMorningStar(c1, c2, c3) {
		return model.PatternMorningStar
	}
	if isEveningStar(c1, c2, c3) {
		return model.PatternEveningStar
	}
	return ""
}

func body(c model.Candlestick) decimal.Decimal {
	return c.Open.Sub(c.Close).Abs()
}

func candleRange(c model.Candlestick) decimal.Decimal {
	return c.High.Sub(c.Low)
}

func isLongBody(c model.Candlestick) bool {
	r := candleRange(c)
	if r.IsZero() {
		return false
	}
	return body(c).GreaterThanOrEqual(r.Mul(decimal.NewFromFloat(bodyRatio)))
}

// isMorningStar: long bearish candle, small-bodied middle candle, then a
// long bullish candle closing above the first candle's midpoint.
func isMorningStar(c1, c2, c3 model.Candlestick) bool {
	if !c1.Close.LessThan(c1.Open) || !isLongBody(c1) {
		return false
	}
	if body(c2).GreaterThan(body(c1).Mul(decimal.NewFromFloat(doorBodyFraction))) {
		return false
	}
	if !c3.Close.GreaterThan(c3.Open) || !isLongBody(c3) {
		return false
	}
	midpoint := c1.Open.Add(c1.Close).Div(decimal.NewFromInt(2))
	return c3.Close.GreaterThanOrEqual(midpoint)
}

// isEveningStar: long bullish candle, small-bodied middle candle, then a
// long bearish candle closing below the first candle's midpoint.
func isEveningStar(c1, c2, c3 model.Candlestick) bool {
	if !c1.Close.GreaterThan(c1.Open) || !isLongBody(c1) {
		return false
	}
	if body(c2).GreaterThan(body(c1).Mul(decimal.NewFromFloat(doorBodyFraction))) {
		return false
	}
	if !c3.Close.LessThan(c3.Open) || !isLongBody(c3) {
		return false
	}
	midpoint := c1.Open.Add(c1.Close).Div(decimal.NewFromInt(2))
	return c3.Close.LessThanOrEqual(midpoint)
}
