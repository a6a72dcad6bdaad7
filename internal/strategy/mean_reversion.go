package strategy

import (
	"time"

	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/model"
)

// MeanReversionConfig parameterizes the MeanReversion strategy (spec §4.2).
type MeanReversionConfig struct {
	BBPeriod           int
	BBStdDevMultiplier float64
	RSIPeriod          int
	Overbought         float64
	Oversold           float64
	SqueezeThreshold   float64 // bandwidth below this suppresses entries
	Confidence         float64
}

// DefaultMeanReversionConfig matches the teacher's conventional defaults.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		BBPeriod:           20,
		BBStdDevMultiplier: 2.0,
		RSIPeriod:          14,
		Overbought:         70,
		Oversold:           30,
		SqueezeThreshold:   0.02,
		Confidence:         0.65,
	}
}

type meanReversion struct {
	cfg MeanReversionConfig
}

// NewMeanReversion builds a MeanReversion Strategy.
func NewMeanReversion(cfg MeanReversionConfig) Strategy {
	return &meanReversion{cfg: cfg}
}

func (s *meanReversion) Name() model.StrategyKind { return model.StrategyMeanReversion }

func (s *meanReversion) RequiredIndicators() []indicator.Spec {
	return []indicator.Spec{
		{Kind: indicator.KindBB, Params: []int{s.cfg.BBPeriod}, StdDevMultiplier: s.cfg.BBStdDevMultiplier},
		{Kind: indicator.KindRSI, Params: []int{s.cfg.RSIPeriod}},
	}
}

// GenerateSignal implements spec §4.2 MeanReversion: Buy iff close <=
// BB_lower AND RSI < oversold; Sell iff close >= BB_upper AND RSI >
// overbought. A detected squeeze (bandwidth below threshold) forces Hold.
func (s *meanReversion) GenerateSignal(candles []model.Candlestick, ind model.IndicatorSet) model.Signal {
	upper, ok1 := ind.Get("BB_upper")
	middle, ok2 := ind.Get("BB_middle")
	lower, ok3 := ind.Get("BB_lower")
	rsi, ok4 := ind.Get("RSI")
	if !ok1 || !ok2 || !ok3 || !ok4 || len(candles) == 0 {
		return hold("required indicators not computable", ind)
	}

	bandwidth, bwOK := indicator.BandwidthPercent(upper, middle, lower)
	if bwOK && bandwidth < s.cfg.SqueezeThreshold {
		return hold("bollinger squeeze detected", ind)
	}

	close, _ := candles[len(candles)-1].Close.Float64()

	switch {
	case close <= lower && rsi < s.cfg.Oversold:
		return model.Signal{
			Action:            model.SignalBuy,
			Confidence:        s.cfg.Confidence,
			Reason:            "close at/below lower band with oversold RSI",
			Timestamp:         time.Now().UTC(),
			IndicatorSnapshot: ind,
			Strategy:          model.StrategyMeanReversion,
		}
	case close >= upper && rsi > s.cfg.Overbought:
		return model.Signal{
			Action:            model.SignalSell,
			Confidence:        s.cfg.Confidence,
			Reason:            "close at/above upper band with overbought RSI",
			Timestamp:         time.Now().UTC(),
			IndicatorSnapshot: ind,
			Strategy:          model.StrategyMeanReversion,
		}
	default:
		return hold("no mean-reversion extreme", ind)
	}
}
