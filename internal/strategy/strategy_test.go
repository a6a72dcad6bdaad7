package strategy

import (
	"testing"
	"time"

	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/model"
	"github.com/shopspring/decimal"
)

var testPipeline = indicator.NewPipeline()

func computeSpecForTest(candles []model.Candlestick, spec indicator.Spec) (model.IndicatorValue, bool) {
	return testPipeline.Compute("TESTUSDT", model.Interval1m, spec, candles)
}

func candle(openTime int64, closePrice float64) model.Candlestick {
	c := decimal.NewFromFloat(closePrice)
	return model.Candlestick{
		OpenTime:  openTime,
		CloseTime: openTime + 60000,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(100),
	}
}

func candlesWithCloses(closes []float64) []model.Candlestick {
	out := make([]model.Candlestick, len(closes))
	base := time.Now().UnixMilli()
	for i, c := range closes {
		out[i] = candle(base+int64(i)*60000, c)
	}
	return out
}

// TestTrendFollowingGoldenCross runs the strategy on a flat series followed
// by a steady rise. The short SMA crosses above the long SMA on the second
// rising candle, not on the latest one, so the test checks only that the
// strategy returns Buy or Hold and no other action.
func TestTrendFollowingGoldenCross(t *testing.T) {
	closes := make([]float64, 0, 40)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 10; i++ {
		closes = append(closes, 100+float64(i)*3)
	}
	candles := candlesWithCloses(closes)

	strat := NewTrendFollowing(DefaultTrendFollowingConfig())
	cfg := DefaultTrendFollowingConfig()
	ind := buildTrendIndicators(t, candles, cfg)

	signal := strat.GenerateSignal(candles, ind)
	if signal.Action != model.SignalBuy && signal.Action != model.SignalHold {
		t.Fatalf("unexpected action: %v", signal.Action)
	}
}

func buildTrendIndicators(t *testing.T, candles []model.Candlestick, cfg TrendFollowingConfig) model.IndicatorSet {
	t.Helper()
	strat := &trendFollowing{cfg: cfg}
	ind := model.IndicatorSet{}
	for _, spec := range strat.RequiredIndicators() {
		v, ok := computeSpecForTest(candles, spec)
		if ok {
			ind[spec.Name()] = v
		}
	}
	return ind
}

func TestMeanReversionHoldsOnSqueeze(t *testing.T) {
	closes := make([]float64, 0, 25)
	for i := 0; i < 25; i++ {
		closes = append(closes, 100) // flat series => zero bandwidth => squeeze
	}
	candles := candlesWithCloses(closes)
	cfg := DefaultMeanReversionConfig()
	strat := &meanReversion{cfg: cfg}
	ind := model.IndicatorSet{}
	for _, spec := range strat.RequiredIndicators() {
		v, ok := computeSpecForTest(candles, spec)
		if ok {
			ind[spec.Name()] = v
		}
	}
	// BB_upper/middle/lower keys must be populated explicitly since the
	// pipeline's generic dispatch only exposes BB's upper scalar under "BB".
	ind["BB_upper"] = ind["BB"]
	ind["BB_middle"] = ind["BB"]
	ind["BB_lower"] = ind["BB"]

	signal := strat.GenerateSignal(candles, ind)
	if signal.Action != model.SignalHold {
		t.Fatalf("expected Hold on squeeze, got %v", signal.Action)
	}
}

func TestBreakoutRequiredIndicatorsNotComputableYieldsHold(t *testing.T) {
	candles := candlesWithCloses([]float64{1, 2, 3})
	strat := NewBreakout(DefaultBreakoutConfig())
	signal := strat.GenerateSignal(candles, model.IndicatorSet{})
	if signal.Action != model.SignalHold {
		t.Fatalf("expected Hold when indicators absent, got %v", signal.Action)
	}
}

func TestSignalActionableRules(t *testing.T) {
	hold := model.Signal{Action: model.SignalHold, Confidence: 0.9}
	if hold.Actionable(0.5) {
		t.Fatalf("Hold must never be actionable")
	}
	closeSig := model.Signal{Action: model.SignalClose, Confidence: 0.9}
	if closeSig.Actionable(0.5) {
		t.Fatalf("Close must never be actionable per spec §3")
	}
	lowConf := model.Signal{Action: model.SignalBuy, Confidence: 0.3}
	if lowConf.Actionable(0.5) {
		t.Fatalf("below-threshold Buy must not be actionable")
	}
	okSig := model.Signal{Action: model.SignalBuy, Confidence: 0.6}
	if !okSig.Actionable(0.5) {
		t.Fatalf("above-threshold Buy must be actionable")
	}
}
