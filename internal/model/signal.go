package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction is the directive a Strategy/Signal Generator emits (spec §3).
type SignalAction string

const (
	SignalBuy   SignalAction = "BUY"
	SignalSell  SignalAction = "SELL"
	SignalHold  SignalAction = "HOLD"
	SignalClose SignalAction = "CLOSE"
)

// Signal is the unit of output from strategy evaluation and signal
// generation (spec §3).
type Signal struct {
	Symbol            string
	Action            SignalAction
	Confidence        float64 // [0,1]
	Reason            string
	Timestamp         time.Time
	IndicatorSnapshot IndicatorSet
	MatchedPatternID  string // optional, "" when no pattern contributed

	Strategy   StrategyKind
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Actionable reports whether a signal carries enough information to open or
// close a position (spec §3: Hold/Close are never actionable; an actionable
// signal additionally requires confidence >= the configured threshold).
func (s Signal) Actionable(confidenceThreshold float64) bool {
	if s.Action == SignalHold || s.Action == SignalClose {
		return false
	}
	return s.Confidence >= confidenceThreshold
}
