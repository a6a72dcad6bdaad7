// Package strategy implements the pluggable Strategy variant (spec §4.2):
// TrendFollowing, MeanReversion, and Breakout, each mapping
// (candles, indicators) to a model.Signal. Every strategy emits Hold rather
// than failing when its required indicators are not computable.
package strategy

import (
	"time"

	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/model"
)

// Strategy is the pluggable signal-generation interface (spec §4.2).
type Strategy interface {
	Name() model.StrategyKind
	RequiredIndicators() []indicator.Spec
	GenerateSignal(candles []model.Candlestick, indicators model.IndicatorSet) model.Signal
}

// hold builds the universal non-actionable signal every strategy falls back
// to when its indicators are not computable or no entry condition fires.
// The caller (Market Data Processor / Signal Generator) stamps Symbol.
func hold(reason string, snapshot model.IndicatorSet) model.Signal {
	return model.Signal{
		Action:            model.SignalHold,
		Confidence:        0,
		Reason:            reason,
		Timestamp:         time.Now().UTC(),
		IndicatorSnapshot: snapshot,
	}
}
