package model

// MACDValue is the composite result of the MACD indicator (spec §3).
type MACDValue struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// IndicatorValue is either a plain scalar or a composite (MACD). Exactly one
// of the two is set; Scalar is used when Composite is nil.
type IndicatorValue struct {
	Scalar    float64
	Composite *MACDValue
}

// ScalarValue wraps a plain numeric indicator result.
func ScalarValue(v float64) IndicatorValue { return IndicatorValue{Scalar: v} }

// MACDCompositeValue wraps a MACD result.
func MACDCompositeValue(v MACDValue) IndicatorValue { return IndicatorValue{Composite: &v} }

// IndicatorSet maps indicator name ("RSI", "MACD", "SMA_20", "EMA_50",
// "BB_upper", "BB_middle", "BB_lower", ...) to its computed value for one
// (symbol, interval) snapshot. An indicator absent from the map means "not
// computable" for the current window (spec §3, §4.1) — never a zero value.
type IndicatorSet map[string]IndicatorValue

// Get returns the scalar value for name and whether it is present.
func (s IndicatorSet) Get(name string) (float64, bool) {
	v, ok := s[name]
	if !ok {
		return 0, false
	}
	if v.Composite != nil {
		return v.Composite.Line, true
	}
	return v.Scalar, true
}

// GetMACD returns the MACD composite for name and whether it is present.
func (s IndicatorSet) GetMACD(name string) (MACDValue, bool) {
	v, ok := s[name]
	if !ok || v.Composite == nil {
		return MACDValue{}, false
	}
	return *v.Composite, true
}

// Clone returns a shallow copy, used when a Signal snapshots the indicator
// values that produced it (spec §3 Signal.indicatorSnapshot).
func (s IndicatorSet) Clone() IndicatorSet {
	out := make(IndicatorSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
