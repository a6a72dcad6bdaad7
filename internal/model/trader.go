package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the venue a trader connects to.
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeBitget  Exchange = "BITGET"
)

// Strategy identifies which pluggable strategy a trader runs.
type StrategyKind string

const (
	StrategyTrendFollowing StrategyKind = "TREND_FOLLOWING"
	StrategyMeanReversion  StrategyKind = "MEAN_REVERSION"
	StrategyBreakout       StrategyKind = "BREAKOUT"
)

// CandlestickInterval is an enumerated timeframe.
type CandlestickInterval string

const (
	Interval1m  CandlestickInterval = "1m"
	Interval5m  CandlestickInterval = "5m"
	Interval15m CandlestickInterval = "15m"
	Interval1h  CandlestickInterval = "1h"
	Interval4h  CandlestickInterval = "4h"
	Interval1d  CandlestickInterval = "1d"
)

// TraderConfig is immutable after construction; updates replace it wholesale
// (spec §3, §4.6 updateConfig, §4.9 updateTrader).
type TraderConfig struct {
	ID                  string
	Name                string
	Exchange            Exchange
	Symbol              string
	VirtualMoney        bool // always true in v1.0
	MaxStakeAmount      decimal.Decimal
	MaxRiskLevel        int // [1,10]
	MaxTradingDuration  time.Duration
	MinReturnPercent    decimal.Decimal // >= 0
	Strategy            StrategyKind
	CandlestickInterval CandlestickInterval
	ConfidenceThreshold float64 // hot-swappable
}

// Validate enforces the TraderConfig invariants from spec §3.
func (c TraderConfig) Validate() error {
	if c.ID == "" {
		return &InvalidConfigError{Field: "id", Reason: "must not be blank"}
	}
	if c.Name == "" {
		return &InvalidConfigError{Field: "name", Reason: "must not be blank"}
	}
	if c.Exchange != ExchangeBinance && c.Exchange != ExchangeBitget {
		return &InvalidConfigError{Field: "exchange", Reason: "must be BINANCE or BITGET"}
	}
	if c.Symbol == "" {
		return &InvalidConfigError{Field: "symbol", Reason: "must not be blank"}
	}
	if !c.VirtualMoney {
		return &InvalidConfigError{Field: "virtualMoney", Reason: "real-money trading is not supported in v1.0"}
	}
	if c.MaxStakeAmount.LessThanOrEqual(decimal.Zero) {
		return &InvalidConfigError{Field: "maxStakeAmount", Reason: "must be > 0"}
	}
	if c.MaxRiskLevel < 1 || c.MaxRiskLevel > 10 {
		return &InvalidConfigError{Field: "maxRiskLevel", Reason: "must be in [1,10]"}
	}
	if c.MaxTradingDuration <= 0 {
		return &InvalidConfigError{Field: "maxTradingDuration", Reason: "must be > 0"}
	}
	if c.MinReturnPercent.LessThan(decimal.Zero) {
		return &InvalidConfigError{Field: "minReturnPercent", Reason: "must be >= 0"}
	}
	switch c.Strategy {
	case StrategyTrendFollowing, StrategyMeanReversion, StrategyBreakout:
	default:
		return &InvalidConfigError{Field: "strategy", Reason: "must be a known strategy"}
	}
	if c.CandlestickInterval == "" {
		return &InvalidConfigError{Field: "candlestickInterval", Reason: "must not be blank"}
	}
	return nil
}

// HotSwap applies only the fields spec §4.6 identifies as hot-swappable
// (minReturnPercent, maxRiskLevel, confidence threshold). It returns a new
// TraderConfig; the caller replaces its stored config wholesale, consistent
// with "immutable after construction".
func (c TraderConfig) HotSwap(minReturnPercent decimal.Decimal, maxRiskLevel int, confidenceThreshold float64) TraderConfig {
	next := c
	next.MinReturnPercent = minReturnPercent
	next.MaxRiskLevel = maxRiskLevel
	next.ConfidenceThreshold = confidenceThreshold
	return next
}

// HotSwappableDiff reports whether two configs differ only in the
// hot-swappable fields (true) or touch anything else (false, meaning the
// trader manager must stop/start rather than hot-swap).
func HotSwappableDiff(old, new TraderConfig) bool {
	a, b := old, new
	// Decimals compare by value, not by their internal pointer.
	if !a.MaxStakeAmount.Equal(b.MaxStakeAmount) {
		return false
	}
	a.MaxStakeAmount, b.MaxStakeAmount = decimal.Zero, decimal.Zero
	a.MinReturnPercent, b.MinReturnPercent = decimal.Zero, decimal.Zero
	a.MaxRiskLevel, b.MaxRiskLevel = 0, 0
	a.ConfidenceThreshold, b.ConfidenceThreshold = 0, 0
	return a == b
}

// TraderState is the AI Trader lifecycle state machine (spec §3).
type TraderState string

const (
	TraderStateIdle     TraderState = "IDLE"
	TraderStateStarting TraderState = "STARTING"
	TraderStateRunning  TraderState = "RUNNING"
	TraderStatePaused   TraderState = "PAUSED"
	TraderStateStopping TraderState = "STOPPING"
	TraderStateStopped  TraderState = "STOPPED"
	TraderStateError    TraderState = "ERROR"
)

// legalTransitions enumerates the allowed TraderState graph from spec §3.
var legalTransitions = map[TraderState]map[TraderState]bool{
	TraderStateIdle:     {TraderStateStarting: true},
	TraderStateStarting: {TraderStateRunning: true},
	TraderStateRunning:  {TraderStatePaused: true, TraderStateStopping: true},
	TraderStatePaused:   {TraderStateRunning: true, TraderStateStopping: true},
	TraderStateStopping: {TraderStateStopped: true},
	TraderStateStopped:  {TraderStateStarting: true},
	TraderStateError:    {TraderStateRunning: true},
}

// CanTransition reports whether from->to is a legal TraderState transition.
// Any non-terminal state may transition to TraderStateError.
func CanTransition(from, to TraderState) bool {
	if to == TraderStateError {
		return from != TraderStateStopped && from != TraderStateError
	}
	return legalTransitions[from][to]
}
