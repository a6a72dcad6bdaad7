package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Candlestick is one OHLCV bar (spec §3).
type Candlestick struct {
	OpenTime  int64 // unix millis
	CloseTime int64 // unix millis
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Validate enforces the single-candle OHLC invariant from spec §3:
// low <= min(open,close) <= max(open,close) <= high, closeTime > openTime.
func (c Candlestick) Validate() error {
	if c.CloseTime <= c.OpenTime {
		return fmt.Errorf("candle closeTime %d must be after openTime %d", c.CloseTime, c.OpenTime)
	}
	lo := decimal.Min(c.Open, c.Close)
	hi := decimal.Max(c.Open, c.Close)
	if c.Low.GreaterThan(lo) {
		return fmt.Errorf("candle low %s exceeds min(open,close) %s", c.Low, lo)
	}
	if hi.GreaterThan(c.High) {
		return fmt.Errorf("candle max(open,close) %s exceeds high %s", hi, c.High)
	}
	return nil
}

// ValidateSequence checks strict monotonicity of openTime across an ordered
// candle sequence (spec §3, §4.5 step 2).
func ValidateSequence(candles []Candlestick) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candle[%d]: %w", i, err)
		}
		if i > 0 && c.OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("candle[%d] openTime %d is not strictly after candle[%d] openTime %d",
				i, c.OpenTime, i-1, candles[i-1].OpenTime)
		}
	}
	return nil
}
