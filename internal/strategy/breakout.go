package strategy

import (
	"time"

	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/model"
)

// BreakoutConfig parameterizes the Breakout strategy (spec §4.2).
type BreakoutConfig struct {
	BBPeriod           int
	BBStdDevMultiplier float64
	BreakoutPct        float64 // e.g. 0.005 for 0.5%
	MACDFast           int
	MACDSlow           int
	MACDSignal         int
	SqueezeThreshold   float64
	Confidence         float64
}

// DefaultBreakoutConfig matches the teacher's conventional defaults.
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{
		BBPeriod:           20,
		BBStdDevMultiplier: 2.0,
		BreakoutPct:        0.005,
		MACDFast:           12,
		MACDSlow:           26,
		MACDSignal:         9,
		SqueezeThreshold:   0.02,
		Confidence:         0.65,
	}
}

type breakout struct {
	cfg BreakoutConfig
}

// NewBreakout builds a Breakout Strategy.
func NewBreakout(cfg BreakoutConfig) Strategy {
	return &breakout{cfg: cfg}
}

func (s *breakout) Name() model.StrategyKind { return model.StrategyBreakout }

func (s *breakout) RequiredIndicators() []indicator.Spec {
	return []indicator.Spec{
		{Kind: indicator.KindBB, Params: []int{s.cfg.BBPeriod}, StdDevMultiplier: s.cfg.BBStdDevMultiplier},
		{Kind: indicator.KindMACD, Params: []int{s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal}},
	}
}

// GenerateSignal implements spec §4.2 Breakout: Buy iff close >
// BB_upper*(1+breakoutPct) AND MACD.line > MACD.signal; symmetric for Sell.
// Suppressed during a squeeze.
func (s *breakout) GenerateSignal(candles []model.Candlestick, ind model.IndicatorSet) model.Signal {
	upper, ok1 := ind.Get("BB_upper")
	middle, ok2 := ind.Get("BB_middle")
	lower, ok3 := ind.Get("BB_lower")
	macd, ok4 := ind.GetMACD("MACD")
	if !ok1 || !ok2 || !ok3 || !ok4 || len(candles) == 0 {
		return hold("required indicators not computable", ind)
	}

	bandwidth, bwOK := indicator.BandwidthPercent(upper, middle, lower)
	if bwOK && bandwidth < s.cfg.SqueezeThreshold {
		return hold("bollinger squeeze detected", ind)
	}

	close, _ := candles[len(candles)-1].Close.Float64()

	switch {
	case close > upper*(1+s.cfg.BreakoutPct) && macd.Line > macd.Signal:
		return model.Signal{
			Action:            model.SignalBuy,
			Confidence:        s.cfg.Confidence,
			Reason:            "breakout above upper band with MACD confirmation",
			Timestamp:         time.Now().UTC(),
			IndicatorSnapshot: ind,
			Strategy:          model.StrategyBreakout,
		}
	case close < lower*(1-s.cfg.BreakoutPct) && macd.Line < macd.Signal:
		return model.Signal{
			Action:            model.SignalSell,
			Confidence:        s.cfg.Confidence,
			Reason:            "breakdown below lower band with MACD confirmation",
			Timestamp:         time.Now().UTC(),
			IndicatorSnapshot: ind,
			Strategy:          model.StrategyBreakout,
		}
	default:
		return hold("no confirmed breakout", ind)
	}
}
