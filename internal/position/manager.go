// Package position implements the Position Manager (spec §4.7): opens,
// updates, and closes positions; runs the stop-loss/take-profit monitoring
// loop; reconciles with the exchange on recovery.
package position

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"ai-trading-core/internal/exchange"
	"ai-trading-core/internal/logging"
	"ai-trading-core/internal/model"
	"ai-trading-core/internal/persistence"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RiskGate is the non-owning capability handle Position Manager holds into
// the Risk Manager (spec §9: "Position Manager holds a plain interface
// reference to Risk Manager").
type RiskGate interface {
	CanOpenPosition(ctx context.Context, traderID string, notional, leverage decimal.Decimal) error
	RecordTradeOutcome(traderID string, realizedPnL decimal.Decimal)
}

// Config parameterizes the Position Manager.
type Config struct {
	MonitoringIntervalSeconds int
	MinFillRatio              decimal.Decimal
	DefaultStopLossPercentage decimal.Decimal
}

// DefaultConfig matches the teacher's conventional defaults.
func DefaultConfig() Config {
	return Config{
		MonitoringIntervalSeconds: 5,
		MinFillRatio:              decimal.NewFromFloat(0.95),
		DefaultStopLossPercentage: decimal.NewFromFloat(0.02),
	}
}

// Manager is the Position Manager. A single exclusive lock serializes all
// mutations to activePositions (spec §5); the monitoring loop iterates a
// snapshot of ids and never holds the lock across network calls.
type Manager struct {
	cfg       Config
	log       *logging.Logger
	lifecycle zerolog.Logger
	connector map[model.Exchange]exchange.Connector
	risk      RiskGate
	trades    persistence.TradeRepository

	mu              sync.Mutex
	activePositions map[string]model.Position
	closing         map[string]model.Position

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Manager. connectors maps exchange -> connector handle
// (connectors are shared across traders on the same exchange, spec §5).
// Position lifecycle transitions get a second, structured zerolog event
// stream alongside the hand-rolled *logging.Logger, mirroring the teacher's
// internal/orders/position_tracker.go (one zerolog.Logger per tracked
// entity, scoped with .With().Str("component", ...)).
func New(cfg Config, connectors map[model.Exchange]exchange.Connector, risk RiskGate, trades persistence.TradeRepository) *Manager {
	return &Manager{
		cfg:             cfg,
		log:             logging.Default().WithComponent("position"),
		lifecycle:       zerolog.New(os.Stdout).With().Timestamp().Str("component", "PositionManager").Logger(),
		connector:       connectors,
		risk:            risk,
		trades:          trades,
		activePositions: make(map[string]model.Position),
		closing:         make(map[string]model.Position),
		stopCh:          make(chan struct{}),
	}
}

// AttachRiskGate wires the Risk Manager after both are constructed (spec §9
// two-phase construction to avoid circular initialization).
func (m *Manager) AttachRiskGate(risk RiskGate) { m.risk = risk }

func (m *Manager) connectorFor(ex model.Exchange) (exchange.Connector, error) {
	c, ok := m.connector[ex]
	if !ok {
		return nil, fmt.Errorf("no connector registered for exchange %s", ex)
	}
	return c, nil
}

// OpenPosition implements spec §4.7 openPosition.
func (m *Manager) OpenPosition(ctx context.Context, signal model.Signal, traderID string, ex model.Exchange, symbol string, confidenceThreshold float64, stopLoss, takeProfit, sizeOverride *decimal.Decimal, maxStake decimal.Decimal) (model.Position, error) {
	if !signal.Actionable(confidenceThreshold) {
		return model.Position{}, &model.PositionError{Op: "open", Reason: "signal is not actionable"}
	}

	conn, err := m.connectorFor(ex)
	if err != nil {
		return model.Position{}, &model.PositionError{Op: "open", Reason: err.Error()}
	}

	ticker, err := conn.GetTicker(ctx, symbol)
	if err != nil {
		return model.Position{}, err
	}
	price := ticker.LastPrice
	if price.IsZero() {
		price = signal.EntryPrice
	}
	if price.IsZero() {
		return model.Position{}, &model.PositionError{Op: "open", Reason: "no price available"}
	}

	info, err := conn.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return model.Position{}, err
	}

	var size decimal.Decimal
	if sizeOverride != nil {
		size = *sizeOverride
	} else {
		size = maxStake.Mul(decimal.NewFromFloat(signal.Confidence)).Div(price)
	}
	size = roundToStep(size, info.StepSize)
	if size.LessThan(info.MinQuantity) {
		return model.Position{}, &model.PositionError{Op: "open", Reason: "computed size below connector minimum"}
	}

	notional := size.Mul(price)
	if m.risk != nil {
		if err := m.risk.CanOpenPosition(ctx, traderID, notional, decimal.NewFromInt(1)); err != nil {
			return model.Position{}, err
		}
	}

	side := exchange.OrderSideBuy
	positionSide := model.PositionLong
	if signal.Action == model.SignalSell {
		side = exchange.OrderSideSell
		positionSide = model.PositionShort
	}

	order, err := conn.PlaceOrder(ctx, symbol, side, exchange.OrderTypeMarket, size, decimal.Zero)
	if err != nil {
		return model.Position{}, err
	}
	if order.FillRatio().LessThan(m.cfg.MinFillRatio) {
		return model.Position{}, &model.PositionError{Op: "open", Reason: "partial fill below minimum ratio"}
	}

	sl := stopLoss
	if sl == nil {
		defaultSL := defaultStopLoss(price, positionSide, m.cfg.DefaultStopLossPercentage)
		sl = &defaultSL
	}

	pos := model.Position{
		ID:              uuid.New().String(),
		TraderID:        traderID,
		Exchange:        ex,
		Symbol:          symbol,
		Side:            positionSide,
		Status:          model.PositionOpen,
		EntryPrice:      price,
		Quantity:        order.FilledQty,
		CurrentPrice:    price,
		StopLossPrice:   sl,
		TakeProfitPrice: takeProfit,
		OpenedAt:        time.Now().UTC(),
		LastUpdated:     time.Now().UTC(),
	}

	if m.trades != nil {
		if err := m.trades.Create(ctx, pos); err != nil {
			return model.Position{}, err
		}
	}

	m.mu.Lock()
	m.activePositions[pos.ID] = pos
	m.mu.Unlock()

	m.log.Info("position opened", "positionId", pos.ID, "traderId", traderID, "symbol", symbol, "side", string(positionSide))
	m.lifecycle.Info().
		Str("position_id", pos.ID).
		Str("trader_id", traderID).
		Str("symbol", symbol).
		Str("side", string(positionSide)).
		Str("entry_price", price.String()).
		Str("quantity", pos.Quantity.String()).
		Msg("position opened")
	return pos, nil
}

func defaultStopLoss(entry decimal.Decimal, side model.PositionSide, pct decimal.Decimal) decimal.Decimal {
	delta := entry.Mul(pct)
	if side == model.PositionLong {
		return entry.Sub(delta)
	}
	return entry.Add(delta)
}

func roundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// UpdatePosition refreshes price (or uses the provided one), recomputes
// unrealized P&L, and touches lastUpdated (spec §4.7).
func (m *Manager) UpdatePosition(ctx context.Context, id string, currentPrice *decimal.Decimal) (model.Position, error) {
	m.mu.Lock()
	pos, ok := m.activePositions[id]
	m.mu.Unlock()
	if !ok {
		return model.Position{}, &model.PositionNotFoundError{ID: id}
	}

	price := pos.CurrentPrice
	if currentPrice != nil {
		price = *currentPrice
	} else {
		conn, err := m.connectorFor(exchangeOf(pos))
		if err == nil {
			if t, terr := conn.GetTicker(ctx, pos.Symbol); terr == nil {
				price = t.LastPrice
			}
		}
	}

	pos.CurrentPrice = price
	pos.UnrealizedPnL = pos.UnrealizedPnLAt(price)
	pos.LastUpdated = time.Now().UTC()

	m.mu.Lock()
	m.activePositions[id] = pos
	m.mu.Unlock()

	if m.trades != nil {
		_ = m.trades.Update(ctx, pos)
	}
	return pos, nil
}

// exchangeOf returns the venue a position was opened on. Positions
// recovered from a persistence layer that predates the Exchange column
// fall back to Binance, the teacher's sole venue, rather than failing
// reconciliation outright.
func exchangeOf(pos model.Position) model.Exchange {
	if pos.Exchange != "" {
		return pos.Exchange
	}
	return model.ExchangeBinance
}

// RefreshPosition pulls the authoritative exchange view and reconciles
// quantity, entry price, and current price (spec §4.7).
func (m *Manager) RefreshPosition(ctx context.Context, id string) (model.Position, error) {
	m.mu.Lock()
	pos, ok := m.activePositions[id]
	m.mu.Unlock()
	if !ok {
		return model.Position{}, &model.PositionNotFoundError{ID: id}
	}

	conn, err := m.connectorFor(exchangeOf(pos))
	if err != nil {
		return pos, err
	}
	exPositions, err := conn.GetPositions(ctx)
	if err != nil {
		return pos, err
	}
	for _, ep := range exPositions {
		if ep.Symbol == pos.Symbol && ep.Side == pos.Side {
			pos.Quantity = ep.Quantity
			pos.EntryPrice = ep.EntryPrice
			pos.CurrentPrice = ep.MarkPrice
			pos.UnrealizedPnL = pos.UnrealizedPnLAt(ep.MarkPrice)
			pos.LastUpdated = time.Now().UTC()
			m.mu.Lock()
			m.activePositions[id] = pos
			m.mu.Unlock()
			return pos, nil
		}
	}
	return pos, nil
}

// ClosePosition submits an opposing market order, computes realized P&L,
// persists the closure, and moves the position out of activePositions
// (spec §4.7).
func (m *Manager) ClosePosition(ctx context.Context, id string, reason model.ExitReason) (model.Position, error) {
	m.mu.Lock()
	if closingPos, alreadyClosing := m.closing[id]; alreadyClosing {
		m.mu.Unlock()
		return closingPos, nil
	}
	pos, ok := m.activePositions[id]
	if !ok {
		m.mu.Unlock()
		return model.Position{}, &model.PositionNotFoundError{ID: id}
	}
	// claim the position under the lock so a racing caller (the stop-loss
	// monitor and an EmergencyStop closure, say) sees it in m.closing rather
	// than in m.activePositions and bails out above instead of placing a
	// second opposing order (spec §5: position lifecycle events are totally
	// ordered).
	delete(m.activePositions, id)
	m.closing[id] = pos
	m.mu.Unlock()

	conn, err := m.connectorFor(exchangeOf(pos))
	var exitPrice decimal.Decimal
	if err == nil {
		side := exchange.OrderSideSell
		if pos.Side == model.PositionShort {
			side = exchange.OrderSideBuy
		}
		order, oerr := conn.PlaceOrder(ctx, pos.Symbol, side, exchange.OrderTypeMarket, pos.Quantity, decimal.Zero)
		if oerr == nil {
			if t, terr := conn.GetTicker(ctx, pos.Symbol); terr == nil {
				exitPrice = t.LastPrice
			} else {
				exitPrice = order.Price
			}
		}
	}
	if exitPrice.IsZero() {
		exitPrice = pos.CurrentPrice
	}

	now := time.Now().UTC()
	pos.Status = model.PositionClosed
	pos.CurrentPrice = exitPrice
	pos.RealizedPnL = pos.RealizedPnLAt(exitPrice)
	pos.ExitReason = reason
	pos.ClosedAt = &now
	pos.LastUpdated = now

	if m.trades != nil {
		if err := m.trades.Close(ctx, pos); err != nil {
			// persistence failed: give the position back to activePositions
			// so a later close attempt can retry, rather than leaving it
			// stranded in m.closing forever.
			m.mu.Lock()
			delete(m.closing, id)
			m.activePositions[id] = pos
			m.mu.Unlock()
			return model.Position{}, err
		}
	}

	m.mu.Lock()
	delete(m.closing, id)
	m.mu.Unlock()

	m.log.Info("position closed", "positionId", id, "reason", string(reason), "realizedPnL", pos.RealizedPnL.String())
	m.lifecycle.Info().
		Str("position_id", id).
		Str("trader_id", pos.TraderID).
		Str("reason", string(reason)).
		Str("exit_price", exitPrice.String()).
		Str("realized_pnl", pos.RealizedPnL.String()).
		Msg("position closed")
	if m.risk != nil {
		m.risk.RecordTradeOutcome(pos.TraderID, pos.RealizedPnL)
	}
	return pos, nil
}

// UpdateStopLoss updates the stop-loss price in memory and persists it
// atomically (spec §4.7).
func (m *Manager) UpdateStopLoss(ctx context.Context, id string, price decimal.Decimal, trailingActivated bool) error {
	m.mu.Lock()
	pos, ok := m.activePositions[id]
	if !ok {
		m.mu.Unlock()
		return &model.PositionNotFoundError{ID: id}
	}
	pos.StopLossPrice = &price
	pos.TrailingActive = trailingActivated
	m.activePositions[id] = pos
	m.mu.Unlock()

	if m.trades != nil {
		return m.trades.UpdateStopLoss(ctx, id, price, trailingActivated)
	}
	return nil
}

// UpdateTakeProfit updates the take-profit price in memory and persists it
// atomically (spec §4.7).
func (m *Manager) UpdateTakeProfit(ctx context.Context, id string, price decimal.Decimal) error {
	m.mu.Lock()
	pos, ok := m.activePositions[id]
	if !ok {
		m.mu.Unlock()
		return &model.PositionNotFoundError{ID: id}
	}
	pos.TakeProfitPrice = &price
	m.activePositions[id] = pos
	m.mu.Unlock()

	if m.trades != nil {
		return m.trades.UpdateTakeProfit(ctx, id, price)
	}
	return nil
}

// RecoverPositions loads all open trades; for each, queries the exchange;
// if present, rebuilds the ManagedPosition; if missing, closes in
// persistence with reason Orphaned (spec §4.7).
func (m *Manager) RecoverPositions(ctx context.Context) error {
	if m.trades == nil {
		return nil
	}
	open, err := m.trades.FindOpen(ctx)
	if err != nil {
		return err
	}

	for _, pos := range open {
		conn, err := m.connectorFor(exchangeOf(pos))
		found := false
		if err == nil {
			if exPositions, perr := conn.GetPositions(ctx); perr == nil {
				for _, ep := range exPositions {
					if ep.Symbol == pos.Symbol && ep.Side == pos.Side {
						pos.Quantity = ep.Quantity
						pos.EntryPrice = ep.EntryPrice
						pos.CurrentPrice = ep.MarkPrice
						pos.UnrealizedPnL = pos.UnrealizedPnLAt(ep.MarkPrice)
						found = true
						break
					}
				}
			}
		}
		if found {
			m.mu.Lock()
			m.activePositions[pos.ID] = pos
			m.mu.Unlock()
			continue
		}

		realized := pos.RealizedPnLAt(pos.CurrentPrice)
		if err := m.trades.CloseOrphaned(ctx, pos.ID, realized); err != nil {
			m.log.Error("failed closing orphaned position", "positionId", pos.ID, "error", err)
		}
	}
	return nil
}

// OpenNotionalForTrader sums notional (entryPrice*quantity) across a
// trader's open positions. Satisfies risk.RiskPositionProvider.
func (m *Manager) OpenNotionalForTrader(traderID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.activePositions {
		if p.TraderID == traderID && p.Status == model.PositionOpen {
			total = total.Add(p.EntryPrice.Mul(p.Quantity))
		}
	}
	return total
}

// OpenNotionalTotal sums notional across every open position.
// Satisfies risk.RiskPositionProvider.
func (m *Manager) OpenNotionalTotal() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.activePositions {
		if p.Status == model.PositionOpen {
			total = total.Add(p.EntryPrice.Mul(p.Quantity))
		}
	}
	return total
}

// HistoryMetrics satisfies risk.RiskPositionProvider by delegating to
// GetHistoryMetrics.
func (m *Manager) HistoryMetrics(ctx context.Context, traderID string) (model.HistoryMetrics, error) {
	return m.GetHistoryMetrics(ctx, traderID)
}

// ClosePositionsForTrader closes every open position owned by traderID.
// Satisfies risk.RiskPositionProvider.
func (m *Manager) ClosePositionsForTrader(ctx context.Context, traderID string, reason model.ExitReason) error {
	m.mu.Lock()
	ids := make([]string, 0)
	for id, p := range m.activePositions {
		if p.TraderID == traderID && p.Status == model.PositionOpen {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if _, err := m.ClosePosition(ctx, id, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClosePositionsAll closes every currently open position, across all
// traders. Satisfies risk.RiskPositionProvider.
func (m *Manager) ClosePositionsAll(ctx context.Context, reason model.ExitReason) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.activePositions))
	for id, p := range m.activePositions {
		if p.Status == model.PositionOpen {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if _, err := m.ClosePosition(ctx, id, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HasOpenPosition implements signalgen.OpenPositionChecker.
func (m *Manager) HasOpenPosition(traderID, symbol string, side model.PositionSide) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.activePositions {
		if p.TraderID == traderID && p.Symbol == symbol && p.Side == side && p.Status == model.PositionOpen {
			return true
		}
	}
	return false
}

// GetHistoryMetrics aggregates closed-position statistics for a trader
// (spec §4.7). It reads the trader's trades through the trade repository's
// FindByTrader and counts the closed ones over their whole history; with no
// repository attached it returns zero metrics.
func (m *Manager) GetHistoryMetrics(ctx context.Context, traderID string) (model.HistoryMetrics, error) {
	if m.trades == nil {
		return model.HistoryMetrics{}, nil
	}
	all, err := m.trades.FindByTrader(ctx, traderID)
	if err != nil {
		return model.HistoryMetrics{}, err
	}
	var metrics model.HistoryMetrics
	for _, p := range all {
		if p.Status != model.PositionClosed {
			continue
		}
		metrics.TotalTrades++
		metrics.TotalPnL = metrics.TotalPnL.Add(p.RealizedPnL)
		if p.RealizedPnL.IsPositive() {
			metrics.WinningTrades++
		}
	}
	return metrics, nil
}

// StartMonitoring launches the single background monitoring task (spec
// §4.7): at configured interval, iterate a snapshot of open-position ids,
// refresh, and trigger stop-loss/take-profit closures.
func (m *Manager) StartMonitoring(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		interval := time.Duration(m.cfg.MonitoringIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.monitorOnce(ctx)
			}
		}
	}()
}

// StopMonitoring signals the monitoring task to exit.
func (m *Manager) StopMonitoring() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
}

func (m *Manager) monitorOnce(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.activePositions))
	for id := range m.activePositions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.checkPosition(ctx, id); err != nil {
			m.log.Error("monitoring loop failed for position, continuing", "positionId", id, "error", err)
		}
	}
}

func (m *Manager) checkPosition(ctx context.Context, id string) error {
	pos, err := m.RefreshPosition(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	current, stillOpen := m.activePositions[id]
	m.mu.Unlock()
	if !stillOpen {
		// closed by the trading loop between refresh and this check.
		return nil
	}
	pos = current

	var reason model.ExitReason
	switch pos.Side {
	case model.PositionLong:
		if pos.StopLossPrice != nil && pos.CurrentPrice.LessThanOrEqual(*pos.StopLossPrice) {
			reason = model.ExitStopLoss
		} else if pos.TakeProfitPrice != nil && pos.CurrentPrice.GreaterThanOrEqual(*pos.TakeProfitPrice) {
			reason = model.ExitTakeProfit
		}
	case model.PositionShort:
		if pos.StopLossPrice != nil && pos.CurrentPrice.GreaterThanOrEqual(*pos.StopLossPrice) {
			reason = model.ExitStopLoss
		} else if pos.TakeProfitPrice != nil && pos.CurrentPrice.LessThanOrEqual(*pos.TakeProfitPrice) {
			reason = model.ExitTakeProfit
		}
	}

	if reason == "" {
		return nil
	}
	m.lifecycle.Warn().
		Str("position_id", id).
		Str("reason", string(reason)).
		Str("current_price", pos.CurrentPrice.String()).
		Msg("stop-loss/take-profit trigger detected, closing position")
	_, err = m.ClosePosition(ctx, id, reason)
	return err
}
