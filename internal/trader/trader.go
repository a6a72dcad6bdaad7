// Package trader implements the AI Trader (spec §4.6): the per-instance
// lifecycle state machine and trading loop. The stop-channel/WaitGroup
// lifecycle idiom and panic-safe loop restart are grounded on the teacher's
// internal/autopilot/ginie_autopilot.go (runMainLoop/Start/Stop).
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-trading-core/internal/candlestick"
	"ai-trading-core/internal/exchange"
	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/logging"
	"ai-trading-core/internal/marketdata"
	"ai-trading-core/internal/model"
	"ai-trading-core/internal/signalgen"
	"ai-trading-core/internal/strategy"

	"github.com/shopspring/decimal"
)

// minLoopInterval/maxLoopInterval bound the trading-loop cadence regardless
// of candlestickInterval (spec §4.6).
const (
	minLoopInterval = 5 * time.Second
	maxLoopInterval = 300 * time.Second
	maxLoopRetries  = 3
)

// PositionOpener is the trader's view into the Position Manager.
type PositionOpener interface {
	OpenPosition(ctx context.Context, signal model.Signal, traderID string, ex model.Exchange, symbol string, confidenceThreshold float64, stopLoss, takeProfit, sizeOverride *decimal.Decimal, maxStake decimal.Decimal) (model.Position, error)
	HasOpenPosition(traderID, symbol string, side model.PositionSide) bool
}

// intervalToDuration maps a candlestick interval to its nominal duration.
func intervalToDuration(i model.CandlestickInterval) time.Duration {
	switch i {
	case model.Interval1m:
		return time.Minute
	case model.Interval5m:
		return 5 * time.Minute
	case model.Interval15m:
		return 15 * time.Minute
	case model.Interval1h:
		return time.Hour
	case model.Interval4h:
		return 4 * time.Hour
	case model.Interval1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// loopCadence clamps the candlestick-derived interval to [5s, 300s] (spec §4.6).
func loopCadence(i model.CandlestickInterval) time.Duration {
	d := intervalToDuration(i)
	if d < minLoopInterval {
		return minLoopInterval
	}
	if d > maxLoopInterval {
		return maxLoopInterval
	}
	return d
}

// Trader is one AI Trader instance.
type Trader struct {
	mu     sync.Mutex
	cfg    model.TraderConfig
	state  model.TraderState

	connector  exchange.Connector
	processor  *marketdata.Processor
	strategy   strategy.Strategy
	generator  *signalgen.Generator
	positions  PositionOpener
	log        *logging.Logger

	errorCount   int
	lastUpdate   time.Time
	retriesUsed  int

	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Trader in the Idle state.
func New(cfg model.TraderConfig, connector exchange.Connector, processor *marketdata.Processor, strat strategy.Strategy, generator *signalgen.Generator, positions PositionOpener) *Trader {
	return &Trader{
		cfg:       cfg,
		state:     model.TraderStateIdle,
		connector: connector,
		processor: processor,
		strategy:  strat,
		generator: generator,
		positions: positions,
		log:       logging.Default().WithComponent("trader").WithField("traderId", cfg.ID),
	}
}

// State returns the current lifecycle state.
func (t *Trader) State() model.TraderState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Config returns the current configuration.
func (t *Trader) Config() model.TraderConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

func (t *Trader) transition(to model.TraderState) error {
	if !model.CanTransition(t.state, to) {
		return fmt.Errorf("illegal trader state transition %s -> %s", t.state, to)
	}
	t.state = to
	return nil
}

// Start implements spec §4.6 start(): legal only from {Idle, Stopped}.
func (t *Trader) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != model.TraderStateIdle && t.state != model.TraderStateStopped {
		t.mu.Unlock()
		return fmt.Errorf("start: illegal from state %s", t.state)
	}
	if err := t.transition(model.TraderStateStarting); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	if err := t.connector.Connect(ctx); err != nil {
		t.mu.Lock()
		_ = t.transition(model.TraderStateError)
		t.mu.Unlock()
		return fmt.Errorf("start: connector connectivity check failed: %w", err)
	}

	t.mu.Lock()
	if err := t.transition(model.TraderStateRunning); err != nil {
		t.mu.Unlock()
		return err
	}
	t.stopCh = make(chan struct{})
	t.retriesUsed = 0
	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.runLoop(loopCtx)
	t.log.Info("trader started")
	return nil
}

// Pause implements spec §4.6 pause(): legal only from Running.
func (t *Trader) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != model.TraderStateRunning {
		return fmt.Errorf("pause: illegal from state %s", t.state)
	}
	t.state = model.TraderStatePaused
	return nil
}

// Resume implements spec §4.6 resume(): legal only from Paused.
func (t *Trader) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != model.TraderStatePaused {
		return fmt.Errorf("resume: illegal from state %s", t.state)
	}
	t.state = model.TraderStateRunning
	return nil
}

// Stop implements spec §4.6 stop(): legal from {Starting, Running, Paused}.
// Cancels the loop; never auto-closes positions (operator decision).
func (t *Trader) Stop() error {
	t.mu.Lock()
	switch t.state {
	case model.TraderStateStarting, model.TraderStateRunning, model.TraderStatePaused:
	default:
		t.mu.Unlock()
		return fmt.Errorf("stop: illegal from state %s", t.state)
	}
	if err := t.transition(model.TraderStateStopping); err != nil {
		t.mu.Unlock()
		return err
	}
	stopCh := t.stopCh
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	t.wg.Wait()

	t.mu.Lock()
	_ = t.transition(model.TraderStateStopped)
	t.mu.Unlock()
	t.log.Info("trader stopped")
	return nil
}

// Cleanup is a synchronous final release, safe from any terminal state
// (spec §4.6 cleanup()).
func (t *Trader) Cleanup(ctx context.Context) error {
	return t.connector.Disconnect(ctx)
}

// UpdateConfig applies only the hot-swappable fields (spec §4.6
// updateConfig): minReturnPercent, maxRiskLevel, confidenceThreshold.
// Other field changes must go through the Trader Manager's stop/start path.
func (t *Trader) UpdateConfig(minReturnPercent decimal.Decimal, maxRiskLevel int, confidenceThreshold float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = t.cfg.HotSwap(minReturnPercent, maxRiskLevel, confidenceThreshold)
}

// ReplaceConfig swaps the entire configuration, used by the Trader Manager
// when non-hot-swappable fields changed (requires the trader be stopped).
func (t *Trader) ReplaceConfig(cfg model.TraderConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
}

// LastUpdate reports when the loop last completed a tick, used by
// checkTraderHealth staleness detection (spec §4.9).
func (t *Trader) LastUpdate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUpdate
}

// ErrorCount reports the cumulative count of loop exceptions.
func (t *Trader) ErrorCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorCount
}

// runLoop drives the trading loop (spec §4.6). It restarts itself after a
// panic the way the teacher's runMainLoop does, but never restarts past a
// Stop.
func (t *Trader) runLoop(ctx context.Context) {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("panic in trading loop", "panic", r)
			t.mu.Lock()
			_ = t.transition(model.TraderStateError)
			t.mu.Unlock()
			if ctx.Err() == nil {
				// Added before this goroutine's Done, so Stop's Wait covers the new loop.
				t.wg.Add(1)
				go t.runLoop(ctx)
			}
		}
	}()

	cadence := loopCadence(t.Config().CandlestickInterval)
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			paused := t.state == model.TraderStatePaused
			t.mu.Unlock()
			if paused {
				continue
			}
			if !t.tick(ctx) {
				return // cancellation or unrecoverable: loop has exited cleanly
			}
		}
	}
}

// tick runs a single iteration (spec §4.6 steps 1-6). It returns false when
// the loop should exit (a stop request raced the tick).
func (t *Trader) tick(ctx context.Context) bool {
	cfg := t.Config()
	strat := t.strategy

	data, err := t.processor.Process(ctx, cfg.Symbol, cfg.CandlestickInterval, strat.RequiredIndicators(), maxRequiredWindow(strat.RequiredIndicators()))
	if err != nil {
		if err == marketdata.ErrNoNewData {
			return true
		}
		if errors.Is(err, context.Canceled) {
			return false
		}
		return t.handleLoopError(ctx, err)
	}

	strategySignal := strat.GenerateSignal(data.Candles, data.Indicators)
	strategySignal.Symbol = cfg.Symbol
	strategySignal.Strategy = cfg.Strategy

	mc := model.MarketConditions{
		Exchange:           cfg.Exchange,
		Symbol:             cfg.Symbol,
		Timeframe:          cfg.CandlestickInterval,
		Indicators:         toFloatMap(data.Indicators),
		Price:              data.LatestPrice,
		Now:                time.Now().UTC(),
		CandlestickPattern: candlestick.Detect(data.Candles),
	}
	finalSignal := t.generator.Generate(cfg.ID, strategySignal, mc)

	if finalSignal.Actionable(cfg.ConfidenceThreshold) {
		if _, err := t.positions.OpenPosition(ctx, finalSignal, cfg.ID, cfg.Exchange, cfg.Symbol, cfg.ConfidenceThreshold, nil, nil, nil, cfg.MaxStakeAmount); err != nil {
			t.log.Warn("openPosition rejected", "traderId", cfg.ID, "error", err)
		}
	}

	t.mu.Lock()
	t.lastUpdate = time.Now().UTC()
	if t.state == model.TraderStateError {
		// returning from a transient error back to Running (spec §4.6).
		_ = t.transition(model.TraderStateRunning)
	}
	t.mu.Unlock()
	return true
}

// handleLoopError implements spec §4.6's loop exception policy: log with
// context, transition to Error, back off, retry up to maxLoopRetries before
// remaining in Error.
func (t *Trader) handleLoopError(ctx context.Context, err error) bool {
	t.log.Error("trading loop iteration failed", "error", err)

	t.mu.Lock()
	t.errorCount++
	_ = t.transition(model.TraderStateError)
	t.retriesUsed++
	retries := t.retriesUsed
	t.mu.Unlock()

	if retries > maxLoopRetries {
		t.log.Error("trading loop exhausted retry budget, remaining in Error", "retries", retries)
		return true
	}

	backoff := time.Duration(retries) * time.Second
	select {
	case <-t.stopCh:
		return false
	case <-time.After(backoff):
	}

	t.mu.Lock()
	_ = t.transition(model.TraderStateRunning)
	t.mu.Unlock()
	return true
}

func toFloatMap(indicators model.IndicatorSet) map[string]float64 {
	out := make(map[string]float64, len(indicators))
	for name := range indicators {
		if v, ok := indicators.Get(name); ok {
			out[name] = v
		}
	}
	return out
}

func maxRequiredWindow(specs []indicator.Spec) int {
	return indicator.MaxRequiredWindow(specs)
}
