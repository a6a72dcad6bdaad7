// Package manager implements the Trader Manager (spec §4.9): creation,
// lifecycle operations, recovery, and health monitoring for the ceiling of
// concurrently active AI Traders. The mutex-guarded activeTraders map is
// grounded on the teacher's internal/autopilot/user_autopilot_manager.go
// (UserAutopilotManager); the parallel-fan-out idiom for recoverTraders and
// checkAllTradersHealth is grounded on the errgroup usage in the example
// pack (other_examples, polymarketbot app-modes).
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-trading-core/internal/exchange"
	"ai-trading-core/internal/exchange/binanceconn"
	"ai-trading-core/internal/exchange/bitgetconn"
	"ai-trading-core/internal/indicator"
	"ai-trading-core/internal/logging"
	"ai-trading-core/internal/marketdata"
	"ai-trading-core/internal/model"
	"ai-trading-core/internal/notification"
	"ai-trading-core/internal/pattern"
	"ai-trading-core/internal/persistence"
	"ai-trading-core/internal/position"
	"ai-trading-core/internal/signalgen"
	"ai-trading-core/internal/strategy"
	"ai-trading-core/internal/trader"

	"golang.org/x/sync/errgroup"
)

// RiskValidator is the Trader Manager's capability view into the Risk
// Manager (spec §4.9 createTrader step 2).
type RiskValidator interface {
	ValidateTraderCreation(cfg model.TraderConfig) error
}

// StaleThreshold is how long since a trader's last tick before
// checkTraderHealth flags it as stale (spec §4.9).
const StaleThreshold = 2 * time.Minute

// TraderHealth is the result of checkTraderHealth/checkAllTradersHealth
// (spec §4.9).
type TraderHealth struct {
	TraderID                 string
	IsHealthy                bool
	Status                   model.TraderState
	LastUpdate               time.Time
	ExchangeConnectorHealthy bool
	ErrorCount               int
	Issues                   []string
}

// entry is one managed trader plus the pieces needed to rebuild/restart it.
type entry struct {
	cfg      model.TraderConfig
	instance *trader.Trader
	strategy strategy.Strategy

	// errorNotified guards against re-firing the Error-state notification on
	// every health tick; it is cleared once the trader leaves Error.
	errorNotified bool
}

// Manager is the Trader Manager.
type Manager struct {
	mu sync.Mutex

	traders    map[string]*entry
	connectors map[model.Exchange]exchange.Connector

	risk      RiskValidator
	traderDB  persistence.TraderRepository
	positions *position.Manager
	patterns  *pattern.Store
	signalgen signalgen.Config

	log *logging.Logger

	notifier *notification.Manager

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetNotifier registers the notification fan-out the health-check loop
// calls when a trader is found in the Error state (SPEC_FULL.md
// notification-hook supplement, mirroring risk.Manager.SetNotifier).
func (m *Manager) SetNotifier(n *notification.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// New builds an empty Trader Manager.
func New(risk RiskValidator, traderDB persistence.TraderRepository, positions *position.Manager, patterns *pattern.Store, sgCfg signalgen.Config) *Manager {
	return &Manager{
		traders:    make(map[string]*entry),
		connectors: make(map[model.Exchange]exchange.Connector),
		risk:       risk,
		traderDB:   traderDB,
		positions:  positions,
		patterns:   patterns,
		signalgen:  sgCfg,
		log:        logging.Default().WithComponent("manager"),
		stopCh:     make(chan struct{}),
	}
}

func (m *Manager) connectorFor(ex model.Exchange) exchange.Connector {
	if c, ok := m.connectors[ex]; ok {
		return c
	}
	var c exchange.Connector
	switch ex {
	case model.ExchangeBitget:
		c = bitgetconn.New(bitgetconn.DefaultConfig())
	default:
		c = binanceconn.New(binanceconn.DefaultConfig())
	}
	m.connectors[ex] = c
	return c
}

func strategyFor(kind model.StrategyKind) strategy.Strategy {
	switch kind {
	case model.StrategyMeanReversion:
		return strategy.NewMeanReversion(strategy.DefaultMeanReversionConfig())
	case model.StrategyBreakout:
		return strategy.NewBreakout(strategy.DefaultBreakoutConfig())
	default:
		return strategy.NewTrendFollowing(strategy.DefaultTrendFollowingConfig())
	}
}

func (m *Manager) buildTrader(cfg model.TraderConfig) *entry {
	conn := m.connectorFor(cfg.Exchange)
	strat := strategyFor(cfg.Strategy)
	processor := marketdata.New(conn, indicator.NewPipeline())
	gen := signalgen.New(m.signalgen, m.patterns, m.positions)
	inst := trader.New(cfg, conn, processor, strat, gen, m.positions)
	return &entry{cfg: cfg, instance: inst, strategy: strat}
}

// CreateTrader implements spec §4.9 createTrader.
func (m *Manager) CreateTrader(ctx context.Context, cfg model.TraderConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.traders) >= model.MaxActiveTraders {
		return "", model.ErrMaxTradersExceeded
	}
	if m.risk != nil {
		if err := m.risk.ValidateTraderCreation(cfg); err != nil {
			return "", err
		}
	}

	e := m.buildTrader(cfg)
	if m.traderDB != nil {
		if err := m.traderDB.Create(ctx, cfg, model.TraderStateIdle); err != nil {
			return "", err
		}
	}
	m.traders[cfg.ID] = e
	m.log.Info("trader created", "traderId", cfg.ID)
	return cfg.ID, nil
}

// StartTrader implements spec §4.9 startTrader: requires state ∈ {Idle, Stopped}.
func (m *Manager) StartTrader(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.traders[id]
	m.mu.Unlock()
	if !ok {
		return &model.TraderNotFoundError{ID: id}
	}

	if err := e.instance.Start(ctx); err != nil {
		return err
	}
	if m.traderDB != nil {
		return m.traderDB.UpdateStatus(ctx, id, e.instance.State())
	}
	return nil
}

// StopTrader implements spec §4.9 stopTrader.
func (m *Manager) StopTrader(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.traders[id]
	m.mu.Unlock()
	if !ok {
		return &model.TraderNotFoundError{ID: id}
	}

	if err := e.instance.Stop(); err != nil {
		return err
	}
	if m.traderDB != nil {
		return m.traderDB.UpdateStatus(ctx, id, e.instance.State())
	}
	return nil
}

// UpdateTrader implements spec §4.9 updateTrader: if running, stop; apply
// updateConfig (or replace the instance if non-hot-swappable fields
// changed); persist; if it was running, restart.
func (m *Manager) UpdateTrader(ctx context.Context, id string, newCfg model.TraderConfig) error {
	if err := newCfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	e, ok := m.traders[id]
	m.mu.Unlock()
	if !ok {
		return &model.TraderNotFoundError{ID: id}
	}

	wasRunning := e.instance.State() == model.TraderStateRunning || e.instance.State() == model.TraderStatePaused
	if wasRunning {
		if err := e.instance.Stop(); err != nil {
			return err
		}
	}

	oldCfg := e.instance.Config()
	if model.HotSwappableDiff(oldCfg, newCfg) {
		e.instance.UpdateConfig(newCfg.MinReturnPercent, newCfg.MaxRiskLevel, newCfg.ConfidenceThreshold)
	} else {
		m.mu.Lock()
		rebuilt := m.buildTrader(newCfg)
		m.traders[id] = rebuilt
		e = rebuilt
		m.mu.Unlock()
	}

	if m.traderDB != nil {
		if err := m.traderDB.UpdateStatus(ctx, id, e.instance.State()); err != nil {
			return err
		}
	}

	if wasRunning {
		return e.instance.Start(ctx)
	}
	return nil
}

// DeleteTrader implements spec §4.9 deleteTrader: stop, cleanup, remove
// from map, delete persisted row.
func (m *Manager) DeleteTrader(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.traders[id]
	m.mu.Unlock()
	if !ok {
		return &model.TraderNotFoundError{ID: id}
	}

	state := e.instance.State()
	if state == model.TraderStateRunning || state == model.TraderStatePaused || state == model.TraderStateStarting {
		if err := e.instance.Stop(); err != nil {
			return err
		}
	}
	if err := e.instance.Cleanup(ctx); err != nil {
		m.log.Warn("cleanup failed during deleteTrader, continuing", "traderId", id, "error", err)
	}

	m.mu.Lock()
	delete(m.traders, id)
	m.mu.Unlock()

	if m.traderDB != nil {
		return m.traderDB.Delete(ctx, id)
	}
	return nil
}

// RecoverTraders implements spec §4.9 recoverTraders: load all persisted
// trader rows; rebuild each in Stopped state; recover positions; never
// auto-start. Fan-out across traders via errgroup (grounded on the errgroup
// idiom in the example pack); each rebuild takes the manager lock since
// rebuilds share the connector cache and the trader map.
func (m *Manager) RecoverTraders(ctx context.Context) error {
	if m.traderDB == nil {
		return nil
	}
	rows, err := m.traderDB.FindAll(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			m.mu.Lock()
			e := m.buildTrader(row.Config)
			e.instance.ReplaceConfig(row.Config)
			m.traders[row.Config.ID] = e
			m.mu.Unlock()

			if m.traderDB != nil {
				if err := m.traderDB.UpdateStatus(gctx, row.Config.ID, model.TraderStateStopped); err != nil {
					m.log.Error("failed persisting recovered trader status", "traderId", row.Config.ID, "error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if m.positions != nil {
		return m.positions.RecoverPositions(ctx)
	}
	return nil
}

// CheckTraderHealth implements spec §4.9 checkTraderHealth. It never
// mutates trader state — it only reports.
func (m *Manager) CheckTraderHealth(id string) (TraderHealth, error) {
	m.mu.Lock()
	e, ok := m.traders[id]
	m.mu.Unlock()
	if !ok {
		return TraderHealth{}, &model.TraderNotFoundError{ID: id}
	}
	return m.health(id, e), nil
}

func (m *Manager) health(id string, e *entry) TraderHealth {
	state := e.instance.State()
	h := TraderHealth{
		TraderID:                 id,
		Status:                   state,
		LastUpdate:               e.instance.LastUpdate(),
		ExchangeConnectorHealthy: true,
		ErrorCount:               e.instance.ErrorCount(),
		IsHealthy:                true,
	}

	if conn, ok := m.connectors[e.cfg.Exchange]; ok && !conn.IsConnected() && state == model.TraderStateRunning {
		h.ExchangeConnectorHealthy = false
		h.IsHealthy = false
		h.Issues = append(h.Issues, "exchange connector disconnected")
	}
	if state == model.TraderStateError {
		h.IsHealthy = false
		h.Issues = append(h.Issues, "trader is in Error state")

		m.mu.Lock()
		notifier := m.notifier
		alreadyNotified := e.errorNotified
		e.errorNotified = true
		m.mu.Unlock()

		if notifier != nil && !alreadyNotified {
			notifier.Notify(notification.Event{
				Kind:      notification.KindTraderError,
				TraderID:  id,
				Message:   "trader entered Error state",
				Timestamp: time.Now().UTC(),
			})
		}
	} else {
		m.mu.Lock()
		e.errorNotified = false
		m.mu.Unlock()
	}
	if state == model.TraderStateRunning && !h.LastUpdate.IsZero() && time.Since(h.LastUpdate) > StaleThreshold {
		h.IsHealthy = false
		h.Issues = append(h.Issues, fmt.Sprintf("no tick in over %s", StaleThreshold))
	}
	return h
}

// CheckAllTradersHealth implements spec §4.9 checkAllTradersHealth, fanning
// out across traders since each health check is independent.
func (m *Manager) CheckAllTradersHealth(ctx context.Context) []TraderHealth {
	m.mu.Lock()
	ids := make([]string, 0, len(m.traders))
	entries := make(map[string]*entry, len(m.traders))
	for id, e := range m.traders {
		ids = append(ids, id)
		entries[id] = e
	}
	m.mu.Unlock()

	results := make([]TraderHealth, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = m.health(id, entries[id])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ActiveTraderIDs returns a snapshot of currently managed trader ids, used
// by the Risk Manager's monitoring loop.
func (m *Manager) ActiveTraderIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.traders))
	for id := range m.traders {
		ids = append(ids, id)
	}
	return ids
}

// Count reports the number of currently managed traders.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.traders)
}

// StartHealthMonitoring runs checkAllTradersHealth on an interval as an
// optional background task (spec §4.9: "never mutates trader state — it
// only reports").
func (m *Manager) StartHealthMonitoring(ctx context.Context, interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				for _, h := range m.CheckAllTradersHealth(ctx) {
					if !h.IsHealthy {
						m.log.Warn("trader unhealthy", "traderId", h.TraderID, "issues", h.Issues)
					}
				}
			}
		}
	}()
}

// StopHealthMonitoring signals the health-monitoring task to exit.
func (m *Manager) StopHealthMonitoring() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
}
