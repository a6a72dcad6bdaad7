package strategy

import (
	"time"

	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/model"
)

// TrendFollowingConfig parameterizes the TrendFollowing strategy (spec §4.2).
type TrendFollowingConfig struct {
	SMAShortPeriod int
	SMALongPeriod  int
	RSIPeriod      int
	Overbought     float64
	Oversold       float64
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
}

// DefaultTrendFollowingConfig matches the teacher's conventional defaults.
func DefaultTrendFollowingConfig() TrendFollowingConfig {
	return TrendFollowingConfig{
		SMAShortPeriod: 9,
		SMALongPeriod:  21,
		RSIPeriod:      14,
		Overbought:     70,
		Oversold:       30,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
	}
}

type trendFollowing struct {
	cfg TrendFollowingConfig
}

// NewTrendFollowing builds a TrendFollowing Strategy.
func NewTrendFollowing(cfg TrendFollowingConfig) Strategy {
	return &trendFollowing{cfg: cfg}
}

func (s *trendFollowing) Name() model.StrategyKind { return model.StrategyTrendFollowing }

func (s *trendFollowing) RequiredIndicators() []indicator.Spec {
	return []indicator.Spec{
		{Kind: indicator.KindSMA, Params: []int{s.cfg.SMAShortPeriod}},
		{Kind: indicator.KindSMA, Params: []int{s.cfg.SMALongPeriod}},
		{Kind: indicator.KindRSI, Params: []int{s.cfg.RSIPeriod}},
		{Kind: indicator.KindMACD, Params: []int{s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal}},
	}
}

// GenerateSignal implements spec §4.2 TrendFollowing: Buy iff SMA_short
// crossed above SMA_long on the latest candle AND RSI < overbought AND
// MACD.line > MACD.signal; symmetric for Sell. Cross detection only looks
// at the previous and current candle.
func (s *trendFollowing) GenerateSignal(candles []model.Candlestick, ind model.IndicatorSet) model.Signal {
	shortName := indicator.Spec{Kind: indicator.KindSMA, Params: []int{s.cfg.SMAShortPeriod}}.Name()
	longName := indicator.Spec{Kind: indicator.KindSMA, Params: []int{s.cfg.SMALongPeriod}}.Name()

	smaShort, ok1 := ind.Get(shortName)
	smaLong, ok2 := ind.Get(longName)
	rsi, ok3 := ind.Get("RSI")
	macd, ok4 := ind.GetMACD("MACD")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return hold("required indicators not computable", ind)
	}

	// Cross detection needs the prior candle's SMAs too; recompute on the
	// window excluding the latest candle.
	if len(candles) < 2 {
		return hold("insufficient history for cross detection", ind)
	}
	prevWindow := candles[:len(candles)-1]
	prevShort, okp1 := indicator.SMA(prevWindow, s.cfg.SMAShortPeriod)
	prevLong, okp2 := indicator.SMA(prevWindow, s.cfg.SMALongPeriod)
	if !okp1 || !okp2 {
		return hold("insufficient history for cross detection", ind)
	}

	crossedUp := prevShort <= prevLong && smaShort > smaLong
	crossedDown := prevShort >= prevLong && smaShort < smaLong

	confirmations := func(extra ...bool) float64 {
		confidence := 0.6
		for _, ok := range extra {
			if ok {
				confidence += 0.1
			}
		}
		if confidence > 0.85 {
			confidence = 0.85
		}
		return confidence
	}

	switch {
	case crossedUp && rsi < s.cfg.Overbought && macd.Line > macd.Signal:
		return model.Signal{
			Action:            model.SignalBuy,
			Confidence:        confirmations(rsi < s.cfg.Overbought, macd.Line > macd.Signal),
			Reason:            "SMA golden cross with RSI and MACD confirmation",
			Timestamp:         time.Now().UTC(),
			IndicatorSnapshot: ind,
			Strategy:          model.StrategyTrendFollowing,
		}
	case crossedDown && rsi > s.cfg.Oversold && macd.Line < macd.Signal:
		return model.Signal{
			Action:            model.SignalSell,
			Confidence:        confirmations(rsi > s.cfg.Oversold, macd.Line < macd.Signal),
			Reason:            "SMA death cross with RSI and MACD confirmation",
			Timestamp:         time.Now().UTC(),
			IndicatorSnapshot: ind,
			Strategy:          model.StrategyTrendFollowing,
		}
	default:
		return hold("no confirmed SMA cross", ind)
	}
}
