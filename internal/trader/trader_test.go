package trader

import (
	"context"
	"testing"
	"time"

	"ai-trading-core/internal/exchange"
	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/marketdata"
	"ai-trading-core/internal/model"
	"ai-trading-core/internal/pattern"
	"ai-trading-core/internal/signalgen"

	"github.com/shopspring/decimal"
)

type stubConnector struct {
	connected bool
	candles   []model.Candlestick
}

func (c *stubConnector) Connect(ctx context.Context) error    { c.connected = true; return nil }
func (c *stubConnector) Disconnect(ctx context.Context) error { c.connected = false; return nil }
func (c *stubConnector) IsConnected() bool                    { return c.connected }
func (c *stubConnector) GetCandles(ctx context.Context, symbol string, interval model.CandlestickInterval, limit int) ([]model.Candlestick, error) {
	return c.candles, nil
}
func (c *stubConnector) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return exchange.Ticker{Symbol: symbol, LastPrice: decimal.NewFromInt(100)}, nil
}
func (c *stubConnector) GetBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	return nil, nil
}
func (c *stubConnector) GetPositions(ctx context.Context) ([]exchange.ExchangePosition, error) {
	return nil, nil
}
func (c *stubConnector) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	return exchange.SymbolInfo{StepSize: decimal.NewFromFloat(0.001), MinQuantity: decimal.NewFromFloat(0.001)}, nil
}
func (c *stubConnector) PlaceOrder(ctx context.Context, symbol string, side exchange.OrderSide, typ exchange.OrderType, quantity, price decimal.Decimal) (exchange.Order, error) {
	return exchange.Order{ID: "o1", FilledQty: quantity, Quantity: quantity}, nil
}
func (c *stubConnector) CancelOrder(ctx context.Context, id, symbol string) (exchange.Order, error) {
	return exchange.Order{}, nil
}
func (c *stubConnector) GetOrder(ctx context.Context, id, symbol string) (exchange.Order, error) {
	return exchange.Order{}, nil
}
func (c *stubConnector) SubscribeCandlesticks(symbol string, interval model.CandlestickInterval, cb exchange.CandlestickCallback) (string, error) {
	return "", nil
}
func (c *stubConnector) SubscribeTicker(symbol string, cb exchange.TickerCallback) (string, error) {
	return "", nil
}
func (c *stubConnector) SubscribeOrderUpdates(cb exchange.OrderUpdateCallback) (string, error) {
	return "", nil
}
func (c *stubConnector) Unsubscribe(subscriptionID string) error { return nil }

// stubStrategy always emits the same signal, sidestepping real indicator math.
type stubStrategy struct {
	signal model.Signal
}

func (s stubStrategy) Name() model.StrategyKind { return model.StrategyTrendFollowing }
func (s stubStrategy) RequiredIndicators() []indicator.Spec {
	return []indicator.Spec{{Kind: indicator.KindSMA, Params: []int{3}}}
}
func (s stubStrategy) GenerateSignal(candles []model.Candlestick, indicators model.IndicatorSet) model.Signal {
	return s.signal
}

type fakePositionOpener struct {
	opened int
}

func (f *fakePositionOpener) OpenPosition(ctx context.Context, signal model.Signal, traderID string, ex model.Exchange, symbol string, confidenceThreshold float64, stopLoss, takeProfit, sizeOverride *decimal.Decimal, maxStake decimal.Decimal) (model.Position, error) {
	f.opened++
	return model.Position{ID: "p1"}, nil
}
func (f *fakePositionOpener) HasOpenPosition(traderID, symbol string, side model.PositionSide) bool {
	return false
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

func testConfig() model.TraderConfig {
	return model.TraderConfig{
		ID:                  "t1",
		Name:                "test-trader",
		Exchange:            model.ExchangeBinance,
		Symbol:              "BTCUSDT",
		VirtualMoney:        true,
		MaxStakeAmount:      decimal.NewFromInt(100),
		MaxRiskLevel:        5,
		MaxTradingDuration:  time.Hour,
		MinReturnPercent:    decimal.Zero,
		Strategy:            model.StrategyTrendFollowing,
		CandlestickInterval: model.Interval1m,
		ConfidenceThreshold: 0.5,
	}
}

func newTestTrader(strat stubStrategy, opener *fakePositionOpener, conn *stubConnector) *Trader {
	processor := marketdata.New(conn, indicator.NewPipeline())
	store := pattern.NewStore(pattern.DefaultConfig(), nil)
	gen := signalgen.New(signalgen.DefaultConfig(), store, opener)
	return New(testConfig(), conn, processor, strat, gen, opener)
}

func TestStartTransitionsToRunningAndConnects(t *testing.T) {
	conn := &stubConnector{candles: makeCandles(30)}
	opener := &fakePositionOpener{}
	tr := newTestTrader(stubStrategy{signal: model.Signal{Action: model.SignalHold}}, opener, conn)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if tr.State() != model.TraderStateRunning {
		t.Fatalf("expected Running, got %s", tr.State())
	}
	if !conn.connected {
		t.Fatalf("expected connector to be connected")
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestStartIllegalFromRunning(t *testing.T) {
	conn := &stubConnector{candles: makeCandles(30)}
	opener := &fakePositionOpener{}
	tr := newTestTrader(stubStrategy{signal: model.Signal{Action: model.SignalHold}}, opener, conn)

	_ = tr.Start(context.Background())
	defer tr.Stop()

	if err := tr.Start(context.Background()); err == nil {
		t.Fatalf("expected illegal start from Running to fail")
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	conn := &stubConnector{candles: makeCandles(30)}
	opener := &fakePositionOpener{}
	tr := newTestTrader(stubStrategy{signal: model.Signal{Action: model.SignalHold}}, opener, conn)
	_ = tr.Start(context.Background())
	defer tr.Stop()

	if err := tr.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if tr.State() != model.TraderStatePaused {
		t.Fatalf("expected Paused, got %s", tr.State())
	}
	if err := tr.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if tr.State() != model.TraderStateRunning {
		t.Fatalf("expected Running after resume, got %s", tr.State())
	}
}

func TestStopIsIllegalFromIdle(t *testing.T) {
	conn := &stubConnector{candles: makeCandles(30)}
	opener := &fakePositionOpener{}
	tr := newTestTrader(stubStrategy{signal: model.Signal{Action: model.SignalHold}}, opener, conn)

	if err := tr.Stop(); err == nil {
		t.Fatalf("expected stop from Idle to be illegal")
	}
}

func TestCancellationPurityStopNeverLeavesErrorState(t *testing.T) {
	conn := &stubConnector{candles: makeCandles(30)}
	opener := &fakePositionOpener{}
	tr := newTestTrader(stubStrategy{signal: model.Signal{Action: model.SignalHold}}, opener, conn)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if tr.State() != model.TraderStateStopped {
		t.Fatalf("expected Stopped after a clean stop, got %s", tr.State())
	}
}

func TestTickOpensPositionOnActionableBuySignal(t *testing.T) {
	conn := &stubConnector{candles: makeCandles(30)}
	opener := &fakePositionOpener{}
	tr := newTestTrader(stubStrategy{signal: model.Signal{Action: model.SignalBuy, Confidence: 0.9, Symbol: "BTCUSDT"}}, opener, conn)

	if !tr.tick(context.Background()) {
		t.Fatalf("expected tick to succeed")
	}
	if opener.opened != 1 {
		t.Fatalf("expected one openPosition call, got %d", opener.opened)
	}
}

func TestTickDoesNotOpenPositionOnHold(t *testing.T) {
	conn := &stubConnector{candles: makeCandles(30)}
	opener := &fakePositionOpener{}
	tr := newTestTrader(stubStrategy{signal: model.Signal{Action: model.SignalHold}}, opener, conn)

	if !tr.tick(context.Background()) {
		t.Fatalf("expected tick to succeed")
	}
	if opener.opened != 0 {
		t.Fatalf("expected no openPosition calls for Hold, got %d", opener.opened)
	}
}

func TestTickRecoversFromErrorToRunning(t *testing.T) {
	conn := &stubConnector{candles: makeCandles(30)}
	opener := &fakePositionOpener{}
	tr := newTestTrader(stubStrategy{signal: model.Signal{Action: model.SignalHold}}, opener, conn)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer tr.Stop()

	tr.mu.Lock()
	if err := tr.transition(model.TraderStateError); err != nil {
		tr.mu.Unlock()
		t.Fatalf("transition to Error failed: %v", err)
	}
	tr.mu.Unlock()

	if !tr.tick(context.Background()) {
		t.Fatalf("expected tick to succeed")
	}
	if tr.State() != model.TraderStateRunning {
		t.Fatalf("expected tick to recover from Error to Running, got %s", tr.State())
	}
}

func TestLoopCadenceClampedToBounds(t *testing.T) {
	if got := loopCadence(model.Interval1m); got != time.Minute {
		t.Fatalf("expected 1m interval to stay at one minute, inside the bounds, got %v", got)
	}
	if got := loopCadence(model.Interval1d); got != maxLoopInterval {
		t.Fatalf("expected 1d interval to clamp to maxLoopInterval, got %v", got)
	}
}
