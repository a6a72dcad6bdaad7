package indicator

import (
	"testing"
	"time"

	"ai-trading-core/internal/model"
	"github.com/shopspring/decimal"
)

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

func TestSMANotComputableBelowWindow(t *testing.T) {
	candles := candlesWithCloses([]float64{1, 2, 3})
	if _, ok := SMA(candles, 5); ok {
		t.Fatalf("expected not computable with insufficient candles")
	}
}

func TestSMA(t *testing.T) {
	candles := candlesWithCloses([]float64{1, 2, 3, 4, 5})
	v, ok := SMA(candles, 5)
	if !ok {
		t.Fatalf("expected computable")
	}
	if v != 3 {
		t.Fatalf("expected SMA=3, got %v", v)
	}
}

func TestRSIAllEqualPricesYields100(t *testing.T) {
	closes := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	candles := candlesWithCloses(closes)
	v, ok := RSI(candles, 14)
	if !ok {
		t.Fatalf("expected computable")
	}
	if v != 100 {
		t.Fatalf("expected RSI=100 for all-equal prices, got %v", v)
	}
}

func TestRSINotComputableBelowWindow(t *testing.T) {
	candles := candlesWithCloses([]float64{1, 2, 3})
	if _, ok := RSI(candles, 14); ok {
		t.Fatalf("expected not computable")
	}
}

func TestMACDRequiresEnoughHistoryForSignalLine(t *testing.T) {
	closes := make([]float64, 0, 35)
	for i := 0; i < 35; i++ {
		closes = append(closes, float64(100+i))
	}
	candles := candlesWithCloses(closes)
	v, ok := MACD(candles, 12, 26, 9)
	if !ok {
		t.Fatalf("expected computable with 35 candles")
	}
	if v.Histogram != v.Line-v.Signal {
		t.Fatalf("histogram must equal line-signal")
	}
}

func TestMACDNotComputableBelowWindow(t *testing.T) {
	closes := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	candles := candlesWithCloses(closes)
	if _, ok := MACD(candles, 12, 26, 9); ok {
		t.Fatalf("expected not computable with only 20 candles")
	}
}

func TestBollingerBandsFlatSeriesCollapsesBands(t *testing.T) {
	closes := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, 50)
	}
	candles := candlesWithCloses(closes)
	upper, middle, lower, ok := BollingerBands(candles, 20, 2.0)
	if !ok {
		t.Fatalf("expected computable")
	}
	if upper != middle || lower != middle {
		t.Fatalf("expected zero-width bands on flat series, got upper=%v middle=%v lower=%v", upper, middle, lower)
	}
}

func TestPipelineMemoizesUntilCloseTimeAdvances(t *testing.T) {
	p := NewPipeline()
	candles := candlesWithCloses([]float64{1, 2, 3, 4, 5})
	spec := Spec{Kind: KindSMA, Params: []int{5}}

	v1, ok1 := p.Compute("BTCUSDT", model.Interval1m, spec, candles)
	if !ok1 {
		t.Fatalf("expected computable")
	}

	// Mutate the underlying slice's last close without advancing closeTime;
	// the cached value must still be served since lastCandleCloseTime
	// hasn't changed.
	candles[4].Close = decimal.NewFromInt(999)
	v2, ok2 := p.Compute("BTCUSDT", model.Interval1m, spec, candles)
	if !ok2 || v2.Scalar != v1.Scalar {
		t.Fatalf("expected cached value to be served: v1=%v v2=%v", v1, v2)
	}

	advanced := append(append([]model.Candlestick{}, candles...), candle(candles[len(candles)-1].CloseTime+60000, 10))
	v3, ok3 := p.Compute("BTCUSDT", model.Interval1m, spec, advanced[1:])
	if !ok3 {
		t.Fatalf("expected computable after advance")
	}
	if v3.Scalar == v1.Scalar {
		t.Fatalf("expected recomputation after lastCandleCloseTime advanced")
	}
}
