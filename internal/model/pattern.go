package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingPattern is a persisted historical winning setup (spec §3, §4.3).
type TradingPattern struct {
	ID         string
	Exchange   Exchange
	Symbol     string
	Timeframe  CandlestickInterval
	Action     SignalAction
	Conditions map[string]float64 // indicator snapshot at entry
	Confidence float64            // initial, [0,1]
	Tags       []string
	CreatedAt  time.Time
	LastUsedAt time.Time
	UsageCount   int
	SuccessCount int
	AverageReturn decimal.Decimal

	// Price at which the pattern was recorded, used for priceProximity
	// scoring (§4.3). Zero value means "no price carried".
	RefPrice decimal.Decimal

	// CandlestickPattern is an optional detected candlestick formation name
	// (e.g. "morning_star", "bullish_engulfing") recorded alongside the
	// indicator snapshot. Empty means none was detected for this entry.
	CandlestickPattern CandlestickPatternName
}

// CandlestickPatternName identifies a detected candlestick formation,
// mirroring the teacher's internal/patterns.PatternType taxonomy.
type CandlestickPatternName string

const (
	PatternMorningStar      CandlestickPatternName = "morning_star"
	PatternEveningStar      CandlestickPatternName = "evening_star"
	PatternBullishEngulfing CandlestickPatternName = "bullish_engulfing"
	PatternBearishEngulfing CandlestickPatternName = "bearish_engulfing"
	PatternHammer           CandlestickPatternName = "hammer"
	PatternShootingStar     CandlestickPatternName = "shooting_star"
)

// SuccessRate is derived, never stored independently, to avoid drift
// (spec §3). It is defined only when UsageCount > 0.
func (p TradingPattern) SuccessRate() (rate float64, defined bool) {
	if p.UsageCount <= 0 {
		return 0, false
	}
	return float64(p.SuccessCount) / float64(p.UsageCount), true
}

// Validate enforces the store() invariants from spec §4.3.
func (p TradingPattern) Validate() error {
	if p.ID == "" {
		return &InvalidConfigError{Field: "id", Reason: "must not be blank"}
	}
	if p.Symbol == "" {
		return &InvalidConfigError{Field: "symbol", Reason: "must not be blank"}
	}
	if p.Timeframe == "" {
		return &InvalidConfigError{Field: "timeframe", Reason: "must not be blank"}
	}
	if p.UsageCount < 0 {
		return &InvalidConfigError{Field: "usageCount", Reason: "must be >= 0"}
	}
	if p.SuccessCount < 0 {
		return &InvalidConfigError{Field: "successCount", Reason: "must be >= 0"}
	}
	if p.SuccessCount > p.UsageCount {
		return &InvalidConfigError{Field: "successCount", Reason: "must be <= usageCount"}
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return &InvalidConfigError{Field: "confidence", Reason: "must be in [0,1]"}
	}
	if len(p.Conditions) == 0 {
		return &InvalidConfigError{Field: "conditions", Reason: "must contain at least one indicator"}
	}
	return nil
}

// TradeOutcome feeds updatePerformance (spec §4.3).
type TradeOutcome struct {
	Success bool
	Return  decimal.Decimal
}

// ApplyOutcome returns the updated (usageCount, successCount, averageReturn)
// after incorporating outcome, per the incremental-mean formula in spec §4.3:
// avg_new = (avg_old * (usageCount-1) + return) / usageCount, where usageCount
// is the count AFTER incrementing.
func (p TradingPattern) ApplyOutcome(outcome TradeOutcome) (usageCount, successCount int, averageReturn decimal.Decimal) {
	usageCount = p.UsageCount + 1
	successCount = p.SuccessCount
	if outcome.Success {
		successCount++
	}
	prevTotal := p.AverageReturn.Mul(decimal.NewFromInt(int64(p.UsageCount)))
	averageReturn = prevTotal.Add(outcome.Return).Div(decimal.NewFromInt(int64(usageCount)))
	return
}

// MarketConditions is the current indicator/price snapshot passed to match().
type MarketConditions struct {
	Exchange   Exchange
	Symbol     string
	Timeframe  CandlestickInterval
	Indicators map[string]float64
	Price      decimal.Decimal
	Now        time.Time

	// CandlestickPattern is the formation (if any) detected on the current
	// candle; it confirms or disagrees with a stored pattern's own
	// CandlestickPattern during relevance scoring.
	CandlestickPattern CandlestickPatternName
}

// PatternQuery constrains query() results (spec §4.3).
type PatternQuery struct {
	Exchange      *Exchange
	Symbol        *string
	Timeframe     *CandlestickInterval
	Action        *SignalAction
	MinSuccessRate *float64
	MinUsageCount *int
	MinConfidence *float64
	MaxAge        *time.Duration
	AnyOfTags     []string
}

// PruneCriteria constrains prune() (spec §4.3).
type PruneCriteria struct {
	MaxAge           *time.Duration
	MinSuccessRate   *float64 // only applied when usageCount >= MinSampleSize
	MinSampleSize    int
	MinUsageCount    *int
	MaxPatternsToKeep *int
}

// MatchedPattern is the result of match() (spec §4.3).
type MatchedPattern struct {
	Pattern        TradingPattern
	Relevance      float64
	FinalConfidence float64
}
