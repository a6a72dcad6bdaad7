// Package marketdata implements the Market Data Processor (spec §4.5): it
// fetches and validates candles, drives the indicator pipeline for the
// active strategy's required indicators, and produces a ProcessedMarketData
// snapshot per tick.
package marketdata

import (
	"context"
	"fmt"

	"ai-trading-core/internal/exchange"
	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/model"

	"github.com/shopspring/decimal"
)

// ProcessedMarketData is the per-tick output (spec §4.5 step 4).
type ProcessedMarketData struct {
	Candles     []model.Candlestick
	Indicators  model.IndicatorSet
	LatestPrice decimal.Decimal
	Timestamp   int64 // latest candle's closeTime
}

// ErrNoNewData signals the "no new data" non-error path (spec §4.5 step 2):
// the latest candle's closeTime has not advanced since the last tick.
var ErrNoNewData = fmt.Errorf("no new data")

// Processor is the Market Data Processor.
type Processor struct {
	connector exchange.Connector
	pipeline  *indicator.Pipeline

	lastCloseTime map[string]int64 // key: symbol|interval
}

// New builds a Processor.
func New(connector exchange.Connector, pipeline *indicator.Pipeline) *Processor {
	return &Processor{
		connector:     connector,
		pipeline:      pipeline,
		lastCloseTime: make(map[string]int64),
	}
}

// Process performs one tick of spec §4.5: fetch, validate, compute
// indicators, produce the snapshot. specs is the active strategy's required
// indicator set; minCandles is >= the max required window among them.
func (p *Processor) Process(ctx context.Context, symbol string, interval model.CandlestickInterval, specs []indicator.Spec, minCandles int) (ProcessedMarketData, error) {
	candles, err := p.connector.GetCandles(ctx, symbol, interval, minCandles)
	if err != nil {
		return ProcessedMarketData{}, err
	}
	if len(candles) == 0 {
		return ProcessedMarketData{}, ErrNoNewData
	}
	if err := model.ValidateSequence(candles); err != nil {
		return ProcessedMarketData{}, fmt.Errorf("candle validation failed: %w", err)
	}

	key := symbol + "|" + string(interval)
	latest := candles[len(candles)-1]
	if last, ok := p.lastCloseTime[key]; ok && latest.CloseTime <= last {
		return ProcessedMarketData{}, ErrNoNewData
	}
	p.lastCloseTime[key] = latest.CloseTime

	indicators := p.pipeline.ComputeAll(symbol, interval, specs, candles)

	return ProcessedMarketData{
		Candles:     candles,
		Indicators:  indicators,
		LatestPrice: latest.Close,
		Timestamp:   latest.CloseTime,
	}, nil
}
