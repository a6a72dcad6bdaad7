package candlestick

import (
	"testing"

	"ai-trading-core/internal/model"

	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func candle(open, high, low, close float64) model.Candlestick {
	return model.Candlestick{Open: d(open), High: d(high), Low: d(low), Close: d(close)}
}

func TestDetectMorningStar(t *testing.T) {
	history := []model.Candlestick{
		candle(100, 101, 90, 91),  // long bearish
		candle(90, 92, 88, 91),    // small indecision body
		candle(92, 103, 91, 102),  // long bullish, closes above c1 midpoint (95.5)
	}
	if got := Detect(history); got != model.PatternMorningStar {
		t.Fatalf("expected morning star, got %q", got)
	}
}

func TestDetectEveningStar(t *testing.T) {
	history := []model.Candlestick{
		candle(90, 101, 89, 100), // long bullish
		candle(100, 102, 99, 100.5), // small indecision body
		candle(99, 100, 88, 89),  // long bearish, closes below c1 midpoint (95)
	}
	if got := Detect(history); got != model.PatternEveningStar {
		t.Fatalf("expected evening star, got %q", got)
	}
}

func TestDetectNoneWithInsufficientHistory(t *testing.T) {
	if got := Detect([]model.Candlestick{candle(1, 2, 0, 1)}); got != "" {
		t.Fatalf("expected no pattern with fewer than three candles, got %q", got)
	}
}

func TestDetectNoneWhenCandlesDoNotMatch(t *testing.T) {
	history := []model.Candlestick{
		candle(100, 101, 99, 100.5),
		candle(100.5, 101, 100, 100.8),
		candle(100.8, 101, 100.5, 100.9),
	}
	if got := Detect(history); got != "" {
		t.Fatalf("expected no pattern for flat/indecisive candles, got %q", got)
	}
}
