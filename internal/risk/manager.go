// Package risk implements the Risk Manager (spec §4.8): the pre-trade gate,
// continuous risk evaluation, and emergency-stop circuit-breaker state.
// The stop/trip callback idiom is grounded on the teacher's
// internal/circuit/breaker.go (onTrip/onReset); the stop-handler
// notification hook is grounded on the teacher's internal/notification
// package.
package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ai-trading-core/internal/logging"
	"ai-trading-core/internal/model"
	"ai-trading-core/internal/notification"

	"github.com/shopspring/decimal"
)

// RiskPositionProvider is the non-owning capability handle Risk Manager
// holds into Position Manager (spec §9): enough surface to evaluate
// exposure and to close positions during an emergency stop, without owning
// position lifecycle.
type RiskPositionProvider interface {
	OpenNotionalForTrader(traderID string) decimal.Decimal
	OpenNotionalTotal() decimal.Decimal
	HistoryMetrics(ctx context.Context, traderID string) (model.HistoryMetrics, error)
	ClosePositionsForTrader(ctx context.Context, traderID string, reason model.ExitReason) error
	ClosePositionsAll(ctx context.Context, reason model.ExitReason) error
}

// StopHandler is notified when an emergency stop fires, grounded on the
// teacher's notification.Notifier idiom (internal/notification/notification.go).
type StopHandler func(traderID string, reason string)

// traderLedger tracks per-trader leverage/budget bookkeeping, emergency
// flags, and circuit-breaker-style loss streak bookkeeping (teacher
// internal/circuit/breaker.go: consecutiveLosses, hourlyLoss, tripReason).
// Access is synchronized by Manager.mu.
type traderLedger struct {
	leverage      decimal.Decimal
	budgetUsed    decimal.Decimal
	emergencyStop bool

	consecutiveLosses int
	hourlyLoss        decimal.Decimal
	hourlyResetAt     time.Time
	tripReason        string
}

// Manager is the Risk Manager.
type Manager struct {
	cfg  model.RiskConfig
	log  *logging.Logger
	pos  RiskPositionProvider

	mu      sync.Mutex
	ledgers map[string]*traderLedger

	globalStop int32 // atomic bool

	traderStopHandler StopHandler
	globalStopHandler func(reason string)
	notifier          *notification.Manager

	stopOnce sync.Map // traderID -> *sync.Once, for idempotent targeted stops
	globalStopOnce sync.Once

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Manager. pos may be nil until AttachPositionProvider runs
// (spec §9 two-phase construction).
func New(cfg model.RiskConfig, pos RiskPositionProvider) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     logging.Default().WithComponent("risk"),
		pos:     pos,
		ledgers: make(map[string]*traderLedger),
		stopCh:  make(chan struct{}),
	}
}

// AttachPositionProvider wires the Position Manager handle after both sides
// are constructed.
func (m *Manager) AttachPositionProvider(pos RiskPositionProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
}

// SetTraderStopHandler registers the callback fired on a targeted emergency
// stop (spec §4.8).
func (m *Manager) SetTraderStopHandler(h StopHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traderStopHandler = h
}

// SetGlobalStopHandler registers the callback fired on a global emergency
// stop (spec §4.8).
func (m *Manager) SetGlobalStopHandler(h func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalStopHandler = h
}

// SetNotifier wires the notification fan-out used alongside the stop
// handlers above (spec's supplemented "notification hook").
func (m *Manager) SetNotifier(n *notification.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

func (m *Manager) ledgerFor(traderID string) *traderLedger {
	l, ok := m.ledgers[traderID]
	if !ok {
		l = &traderLedger{leverage: decimal.Zero, budgetUsed: decimal.Zero, hourlyResetAt: time.Now().UTC().Add(time.Hour)}
		m.ledgers[traderID] = l
	}
	return l
}

// RecordTradeOutcome implements position.RiskGate: it feeds a closed trade's
// realized PnL into the circuit-breaker-style bookkeeping the teacher's
// internal/circuit/breaker.go keeps (consecutiveLosses, hourlyLoss), and
// trips a targeted emergency stop once consecutiveLosses reaches
// cfg.MaxConsecutiveLosses.
func (m *Manager) RecordTradeOutcome(traderID string, realizedPnL decimal.Decimal) {
	m.mu.Lock()
	ledger := m.ledgerFor(traderID)
	now := time.Now().UTC()
	if now.After(ledger.hourlyResetAt) {
		ledger.hourlyLoss = decimal.Zero
		ledger.hourlyResetAt = now.Add(time.Hour)
	}

	var trip bool
	if realizedPnL.IsNegative() {
		ledger.consecutiveLosses++
		ledger.hourlyLoss = ledger.hourlyLoss.Add(realizedPnL.Neg())
		if m.cfg.MaxConsecutiveLosses > 0 && ledger.consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
			ledger.tripReason = fmt.Sprintf("%d consecutive losing trades (hourly loss %s)", ledger.consecutiveLosses, ledger.hourlyLoss.String())
			trip = true
		}
	} else {
		ledger.consecutiveLosses = 0
	}
	m.mu.Unlock()

	if trip {
		m.EmergencyStop(context.Background(), traderID, "circuit breaker: "+ledger.tripReason)
	}
}

// CanOpenPosition implements the pre-trade gate spec §4.8 describes:
// emergency-stop check, leverage validation, budget validation, else Allow.
// Satisfies position.RiskGate.
func (m *Manager) CanOpenPosition(ctx context.Context, traderID string, notional, leverage decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if atomic.LoadInt32(&m.globalStop) == 1 {
		return &model.RiskViolation{Kind: model.ViolationEmergencyStopActive}
	}
	ledger := m.ledgerFor(traderID)
	if ledger.emergencyStop {
		return &model.RiskViolation{Kind: model.ViolationEmergencyStopActive, TraderID: traderID, Detail: ledger.tripReason}
	}

	if err := m.validateLeverage(traderID, leverage); err != nil {
		return err
	}
	if err := m.validateBudget(traderID, notional, leverage); err != nil {
		return err
	}

	ledger.leverage = leverage
	ledger.budgetUsed = ledger.budgetUsed.Add(notional)
	return nil
}

func (m *Manager) validateLeverage(traderID string, leverage decimal.Decimal) error {
	if leverage.GreaterThan(m.cfg.MaxLeveragePerTrader) {
		return &model.RiskViolation{Kind: model.ViolationLeverageExceeded, TraderID: traderID, Requested: leverage, Max: m.cfg.MaxLeveragePerTrader}
	}
	total := leverage
	for id, l := range m.ledgers {
		if id == traderID {
			continue
		}
		total = total.Add(l.leverage)
	}
	if total.GreaterThan(m.cfg.MaxTotalLeverage) {
		return &model.RiskViolation{Kind: model.ViolationLeverageExceeded, Scope: "global", Requested: total, Max: m.cfg.MaxTotalLeverage}
	}
	return nil
}

func (m *Manager) validateBudget(traderID string, notional, leverage decimal.Decimal) error {
	var existingTraderExposure decimal.Decimal
	var globalExposure decimal.Decimal
	var totalBudgetUsed decimal.Decimal
	if m.pos != nil {
		existingTraderExposure = m.pos.OpenNotionalForTrader(traderID)
		globalExposure = m.pos.OpenNotionalTotal()
	}
	for _, l := range m.ledgers {
		totalBudgetUsed = totalBudgetUsed.Add(l.budgetUsed)
	}

	if existingTraderExposure.Add(notional).GreaterThan(m.cfg.MaxExposurePerTrader) {
		return &model.RiskViolation{Kind: model.ViolationExposureExceeded, TraderID: traderID, Scope: "trader", Requested: existingTraderExposure.Add(notional), Max: m.cfg.MaxExposurePerTrader}
	}
	if globalExposure.Add(notional).GreaterThan(m.cfg.MaxTotalExposure) {
		return &model.RiskViolation{Kind: model.ViolationExposureExceeded, TraderID: traderID, Scope: "global", Requested: globalExposure.Add(notional), Max: m.cfg.MaxTotalExposure}
	}
	if totalBudgetUsed.Add(notional).GreaterThan(m.cfg.MaxTotalBudget) {
		return &model.RiskViolation{Kind: model.ViolationBudgetExceeded, TraderID: traderID, Required: notional, Available: m.cfg.MaxTotalBudget.Sub(totalBudgetUsed)}
	}
	return nil
}

// ValidateTraderCreation checks that budget remains available for a new
// trader (spec §4.9 createTrader step 2): its maxStakeAmount must fit
// within the remaining global budget.
func (m *Manager) ValidateTraderCreation(cfg model.TraderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totalBudgetUsed decimal.Decimal
	for _, l := range m.ledgers {
		totalBudgetUsed = totalBudgetUsed.Add(l.budgetUsed)
	}
	if totalBudgetUsed.Add(cfg.MaxStakeAmount).GreaterThan(m.cfg.MaxTotalBudget) {
		return &model.RiskViolation{Kind: model.ViolationBudgetExceeded, TraderID: cfg.ID, Required: cfg.MaxStakeAmount, Available: m.cfg.MaxTotalBudget.Sub(totalBudgetUsed)}
	}
	return nil
}

// CheckRiskLimits implements the continuous-evaluation operation (spec
// §4.8): it rolls up the trader's loss and exposure into a RiskScore,
// recommending EmergencyStop when the loss exceeds maxDailyLoss. The loss
// is the negative TotalPnL from the provider's HistoryMetrics (the Position
// Manager sums the realized P&L of all the trader's closed trades); it is
// not limited to the trailing 24 hours and does not include the unrealized
// P&L of open positions.
func (m *Manager) CheckRiskLimits(ctx context.Context, traderID string) (model.RiskScore, error) {
	m.mu.Lock()
	ledger := m.ledgerFor(traderID)
	leverage := ledger.leverage
	budgetUsed := ledger.budgetUsed
	m.mu.Unlock()

	var rollingLoss decimal.Decimal
	var exposure decimal.Decimal
	if m.pos != nil {
		metrics, err := m.pos.HistoryMetrics(ctx, traderID)
		if err != nil {
			return model.RiskScore{}, err
		}
		if metrics.TotalPnL.IsNegative() {
			rollingLoss = metrics.TotalPnL.Neg()
		}
		exposure = m.pos.OpenNotionalForTrader(traderID)
	}

	score := model.RiskScore{
		BudgetScore:   ratioScore(budgetUsed, m.cfg.MaxTotalBudget),
		LeverageScore: ratioScore(leverage, m.cfg.MaxLeveragePerTrader),
		ExposureScore: ratioScore(exposure, m.cfg.MaxExposurePerTrader),
		PnLScore:      ratioScore(rollingLoss, m.cfg.MaxDailyLoss),
	}

	switch {
	case rollingLoss.GreaterThan(m.cfg.MaxDailyLoss):
		score.Recommendation = model.RecommendEmergencyStop
	case score.Composite() >= m.cfg.BlockThreshold:
		score.Recommendation = model.RecommendBlock
	case score.Composite() >= m.cfg.WarnThreshold:
		score.Recommendation = model.RecommendWarn
	default:
		score.Recommendation = model.RecommendAllow
	}
	return score, nil
}

// ratioScore maps used/max into [0,1], saturating at 1 when max is zero or
// used meets/exceeds max.
func ratioScore(used, max decimal.Decimal) float64 {
	if max.LessThanOrEqual(decimal.Zero) {
		if used.IsPositive() {
			return 1
		}
		return 0
	}
	ratio, _ := used.Div(max).Float64()
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// EmergencyStop implements spec §4.8: idempotent per target, closes
// positions without holding m.mu across the close, and notifies the
// registered stop-handler.
func (m *Manager) EmergencyStop(ctx context.Context, traderID string, reason string) {
	if traderID == "" {
		m.globalStopOnce.Do(func() {
			atomic.StoreInt32(&m.globalStop, 1)
			m.log.Info("global emergency stop engaged", "reason", reason)
			if m.pos != nil {
				if err := m.pos.ClosePositionsAll(ctx, model.ExitError); err != nil {
					m.log.Error("failed closing all positions during global emergency stop", "error", err)
				}
			}
			m.mu.Lock()
			handler := m.globalStopHandler
			notifier := m.notifier
			m.mu.Unlock()
			if handler != nil {
				handler(reason)
			}
			if notifier != nil {
				notifier.Notify(notification.Event{
					Kind:      notification.KindEmergencyStop,
					Message:   "global emergency stop engaged: " + reason,
					Timestamp: time.Now().UTC(),
				})
			}
		})
		return
	}

	onceVal, _ := m.stopOnce.LoadOrStore(traderID, &sync.Once{})
	once := onceVal.(*sync.Once)
	once.Do(func() {
		m.mu.Lock()
		m.ledgerFor(traderID).emergencyStop = true
		handler := m.traderStopHandler
		notifier := m.notifier
		m.mu.Unlock()

		m.log.Info("trader emergency stop engaged", "traderId", traderID, "reason", reason)
		if m.pos != nil {
			if err := m.pos.ClosePositionsForTrader(ctx, traderID, model.ExitError); err != nil {
				m.log.Error("failed closing positions during trader emergency stop", "traderId", traderID, "error", err)
			}
		}
		if handler != nil {
			handler(traderID, reason)
		}
		if notifier != nil {
			notifier.Notify(notification.Event{
				Kind:      notification.KindEmergencyStop,
				TraderID:  traderID,
				Message:   "trader emergency stop engaged: " + reason,
				Timestamp: time.Now().UTC(),
			})
		}
	})
}

// ClearGlobalStop lifts the global emergency-stop flag, allowing new
// positions to open again (spec §4.8: "no new positions may open until the
// flag is cleared").
func (m *Manager) ClearGlobalStop() {
	atomic.StoreInt32(&m.globalStop, 0)
	m.globalStopOnce = sync.Once{}
}

// ClearTraderStop lifts a targeted emergency-stop flag for one trader.
func (m *Manager) ClearTraderStop(traderID string) {
	m.mu.Lock()
	if l, ok := m.ledgers[traderID]; ok {
		l.emergencyStop = false
		l.consecutiveLosses = 0
		l.tripReason = ""
	}
	m.mu.Unlock()
	m.stopOnce.Delete(traderID)
}

// GlobalStopActive reports whether a global emergency stop is currently in
// effect.
func (m *Manager) GlobalStopActive() bool { return atomic.LoadInt32(&m.globalStop) == 1 }

// TraderStopActive reports whether a targeted emergency stop is active for
// traderID.
func (m *Manager) TraderStopActive(traderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[traderID]
	return ok && l.emergencyStop
}

// StartMonitoring launches the continuous-evaluation background task (spec
// §4.8): at monitoringIntervalSeconds, iterate known traders and escalate.
func (m *Manager) StartMonitoring(ctx context.Context, traderIDs func() []string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		interval := time.Duration(m.cfg.MonitoringIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
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
				for _, id := range traderIDs() {
					score, err := m.CheckRiskLimits(ctx, id)
					if err != nil {
						m.log.Error("risk monitoring failed for trader, continuing", "traderId", id, "error", err)
						continue
					}
					if score.Recommendation == model.RecommendEmergencyStop {
						m.EmergencyStop(ctx, id, "rolling daily loss exceeded maxDailyLoss")
					}
				}
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
