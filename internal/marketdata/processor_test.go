package marketdata

import (
	"context"
	"testing"
	"time"

	"ai-trading-core/internal/exchange"
	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/model"

	"github.com/shopspring/decimal"
)

type fakeConnector struct {
	exchange.Connector
	candles []model.Candlestick
	err     error
}

func (f *fakeConnector) GetCandles(ctx context.Context, symbol string, interval model.CandlestickInterval, limit int) ([]model.Candlestick, error) {
	return f.candles, f.err
}

func makeCandles(n int) []model.Candlestick {
	out := make([]model.Candlestick, n)
	base := time.Now().UnixMilli()
	for i := 0; i < n; i++ {
		c := decimal.NewFromFloat(100 + float64(i))
		out[i] = model.Candlestick{
			OpenTime: base + int64(i)*60000, CloseTime: base + int64(i)*60000 + 60000,
			Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(10),
		}
	}
	return out
}

func TestProcessReturnsNoNewDataWhenCloseTimeUnchanged(t *testing.T) {
	candles := makeCandles(10)
	conn := &fakeConnector{candles: candles}
	p := New(conn, indicator.NewPipeline())

	specs := []indicator.Spec{{Kind: indicator.KindSMA, Params: []int{5}}}
	if _, err := p.Process(context.Background(), "BTCUSDT", model.Interval1m, specs, 10); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if _, err := p.Process(context.Background(), "BTCUSDT", model.Interval1m, specs, 10); err != ErrNoNewData {
		t.Fatalf("expected ErrNoNewData on unchanged close time, got %v", err)
	}
}

func TestProcessRejectsNonMonotonicCandles(t *testing.T) {
	candles := makeCandles(5)
	candles[2], candles[3] = candles[3], candles[2]
	conn := &fakeConnector{candles: candles}
	p := New(conn, indicator.NewPipeline())
	specs := []indicator.Spec{{Kind: indicator.KindSMA, Params: []int{3}}}
	if _, err := p.Process(context.Background(), "BTCUSDT", model.Interval1m, specs, 5); err == nil {
		t.Fatalf("expected validation error for non-monotonic candles")
	}
}
