package indicator

import (
	"fmt"
	"sync"

	"ai-trading-core/internal/logging"
	"ai-trading-core/internal/model"
)

// Kind names one of the indicator pipeline's pure functions.
type Kind string

const (
	KindSMA  Kind = "SMA"
	KindEMA  Kind = "EMA"
	KindRSI  Kind = "RSI"
	KindMACD Kind = "MACD"
	KindBB   Kind = "BB"
)

// Spec names an indicator and its parameters, e.g. {SMA, [20]} or
// {MACD, [12,26,9]}. Name is the canonical map key used in an
// model.IndicatorSet ("SMA_20", "RSI", "MACD"); for KindBB it is "BB", and
// ComputeAll stores the bands under "BB_upper"/"BB_middle"/"BB_lower".
type Spec struct {
	Kind   Kind
	Params []int
	// StdDevMultiplier is only meaningful for KindBB.
	StdDevMultiplier float64
}

// Name is the canonical indicator-set key for this spec.
func (s Spec) Name() string {
	switch s.Kind {
	case KindSMA:
		return fmt.Sprintf("SMA_%d", s.Params[0])
	case KindEMA:
		return fmt.Sprintf("EMA_%d", s.Params[0])
	case KindRSI:
		return "RSI"
	case KindMACD:
		return "MACD"
	case KindBB:
		return "BB"
	default:
		return string(s.Kind)
	}
}

// RequiredWindow is the minimum candle count this spec needs.
func (s Spec) RequiredWindow() int {
	switch s.Kind {
	case KindSMA:
		return SMARequiredWindow(s.Params[0])
	case KindEMA:
		return EMARequiredWindow(s.Params[0])
	case KindRSI:
		return RSIRequiredWindow(s.Params[0])
	case KindMACD:
		return MACDRequiredWindow(s.Params[0], s.Params[1], s.Params[2])
	case KindBB:
		return BollingerBandsRequiredWindow(s.Params[0])
	default:
		return 0
	}
}

func (s Spec) specKey() string {
	return fmt.Sprintf("%s|%v|%g", s.Kind, s.Params, s.StdDevMultiplier)
}

func seriesKey(symbol string, interval model.CandlestickInterval) string {
	return symbol + "|" + string(interval)
}

type cacheEntry struct {
	value model.IndicatorValue
	ok    bool
}

// seriesBucket holds every indicator memoized for one (symbol, interval)
// against a single lastCandleCloseTime. A new candle close replaces the
// bucket wholesale rather than adding to it, which is what bounds cache size
// per series — superseded closeTimes are dropped instead of accumulating.
type seriesBucket struct {
	lastClose int64
	entries   map[string]cacheEntry
}

// Pipeline memoizes indicator computations keyed on
// (symbol, interval, indicator, params), scoped per lastCandleCloseTime;
// invalidation evicts the whole prior closeTime's entries for that series
// rather than letting them accumulate (spec §4.1).
type Pipeline struct {
	mu     sync.RWMutex
	series map[string]*seriesBucket
	log    *logging.Logger
}

// NewPipeline builds an empty, ready-to-use Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		series: make(map[string]*seriesBucket),
		log:    logging.Default().WithComponent("indicator"),
	}
}

// Compute returns the indicator value for spec against candles, consulting
// the memoization cache first. The bool return is false when "not
// computable" (insufficient window or a degenerate parameterization) —
// callers must treat that as absence, never as a zero value.
func (p *Pipeline) Compute(symbol string, interval model.CandlestickInterval, spec Spec, candles []model.Candlestick) (model.IndicatorValue, bool) {
	if len(candles) == 0 {
		return model.IndicatorValue{}, false
	}
	lastClose := candles[len(candles)-1].CloseTime
	sk := seriesKey(symbol, interval)
	ek := spec.specKey()

	p.mu.Lock()
	bucket, ok := p.series[sk]
	if !ok || bucket.lastClose != lastClose {
		bucket = &seriesBucket{lastClose: lastClose, entries: make(map[string]cacheEntry)}
		p.series[sk] = bucket
	}
	if entry, hit := bucket.entries[ek]; hit {
		p.mu.Unlock()
		return entry.value, entry.ok
	}
	p.mu.Unlock()

	value, ok := p.computeFresh(spec, candles)

	p.mu.Lock()
	if bucket = p.series[sk]; bucket != nil && bucket.lastClose == lastClose {
		bucket.entries[ek] = cacheEntry{value: value, ok: ok}
	}
	p.mu.Unlock()

	if !ok {
		p.log.Debug("indicator not computable", "indicator", spec.Name(), "symbol", symbol, "candles", len(candles))
	}
	return value, ok
}

func (p *Pipeline) computeFresh(spec Spec, candles []model.Candlestick) (model.IndicatorValue, bool) {
	switch spec.Kind {
	case KindSMA:
		v, ok := SMA(candles, spec.Params[0])
		return model.ScalarValue(v), ok
	case KindEMA:
		v, ok := EMA(candles, spec.Params[0])
		return model.ScalarValue(v), ok
	case KindRSI:
		v, ok := RSI(candles, spec.Params[0])
		return model.ScalarValue(v), ok
	case KindMACD:
		v, ok := MACD(candles, spec.Params[0], spec.Params[1], spec.Params[2])
		if !ok {
			return model.IndicatorValue{}, false
		}
		return model.MACDCompositeValue(v), true
	case KindBB:
		upper, _, _, ok := BollingerBands(candles, spec.Params[0], spec.StdDevMultiplier)
		return model.ScalarValue(upper), ok
	default:
		return model.IndicatorValue{}, false
	}
}

// MaxRequiredWindow returns the largest RequiredWindow among specs, the N
// the Market Data Processor must fetch (spec §4.5 step 1).
func MaxRequiredWindow(specs []Spec) int {
	max := 0
	for _, s := range specs {
		if w := s.RequiredWindow(); w > max {
			max = w
		}
	}
	return max
}

// ComputeAll evaluates every spec and returns a populated model.IndicatorSet
// plus the full Bollinger Bands triple (upper/middle/lower), which the
// generic Compute dispatch collapses to its upper value alone.
func (p *Pipeline) ComputeAll(symbol string, interval model.CandlestickInterval, specs []Spec, candles []model.Candlestick) model.IndicatorSet {
	out := make(model.IndicatorSet, len(specs))
	for _, spec := range specs {
		if spec.Kind == KindBB {
			if len(candles) < spec.RequiredWindow() {
				continue
			}
			upper, middle, lower, ok := BollingerBands(candles, spec.Params[0], spec.StdDevMultiplier)
			if !ok {
				continue
			}
			out["BB_upper"] = model.ScalarValue(upper)
			out["BB_middle"] = model.ScalarValue(middle)
			out["BB_lower"] = model.ScalarValue(lower)
			continue
		}
		v, ok := p.Compute(symbol, interval, spec, candles)
		if !ok {
			continue
		}
		out[spec.Name()] = v
	}
	return out
}
