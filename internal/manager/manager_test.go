package manager

import (
	"context"
	"testing"
	"time"

	"ai-trading-core/internal/model"
	"ai-trading-core/internal/pattern"
	"ai-trading-core/internal/persistence"
	"ai-trading-core/internal/signalgen"

	"github.com/shopspring/decimal"
)

type fakeTraderRepo struct {
	rows    map[string]persistenceRow
	deleted []string
}

type persistenceRow struct {
	cfg   model.TraderConfig
	state model.TraderState
}

func newFakeTraderRepo() *fakeTraderRepo { return &fakeTraderRepo{rows: make(map[string]persistenceRow)} }

func (r *fakeTraderRepo) Create(ctx context.Context, cfg model.TraderConfig, state model.TraderState) error {
	r.rows[cfg.ID] = persistenceRow{cfg: cfg, state: state}
	return nil
}
func (r *fakeTraderRepo) FindAll(ctx context.Context) ([]persistence.TraderRow, error) {
	out := make([]persistence.TraderRow, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, persistence.TraderRow{Config: row.cfg, State: row.state})
	}
	return out, nil
}
func (r *fakeTraderRepo) FindByID(ctx context.Context, id string) (persistence.TraderRow, error) {
	row, ok := r.rows[id]
	if !ok {
		return persistence.TraderRow{}, &model.TraderNotFoundError{ID: id}
	}
	return persistence.TraderRow{Config: row.cfg, State: row.state}, nil
}
func (r *fakeTraderRepo) UpdateStatus(ctx context.Context, id string, state model.TraderState) error {
	row := r.rows[id]
	row.state = state
	r.rows[id] = row
	return nil
}
func (r *fakeTraderRepo) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	return nil
}
func (r *fakeTraderRepo) Delete(ctx context.Context, id string) error {
	delete(r.rows, id)
	r.deleted = append(r.deleted, id)
	return nil
}

var _ persistence.TraderRepository = (*fakeTraderRepo)(nil)

type allowRisk struct{}

func (allowRisk) ValidateTraderCreation(cfg model.TraderConfig) error { return nil }

type denyRisk struct{ err error }

func (d denyRisk) ValidateTraderCreation(cfg model.TraderConfig) error { return d.err }

func testTraderConfig(id string) model.TraderConfig {
	return model.TraderConfig{
		ID:                  id,
		Name:                "trader-" + id,
		Exchange:            model.ExchangeBinance,
		Symbol:              "BTCUSDT",
		VirtualMoney:        true,
		MaxStakeAmount:      decimal.NewFromInt(100),
		MaxRiskLevel:        5,
		MaxTradingDuration:  time.Hour,
		MinReturnPercent:    decimal.Zero,
		Strategy:            model.StrategyTrendFollowing,
		CandlestickInterval: model.Interval1h,
		ConfidenceThreshold: 0.6,
	}
}

func TestCreateTraderEnforcesCeiling(t *testing.T) {
	repo := newFakeTraderRepo()
	m := New(allowRisk{}, repo, nil, pattern.NewStore(pattern.DefaultConfig(), nil), signalgen.DefaultConfig())

	for i := 0; i < model.MaxActiveTraders; i++ {
		id := string(rune('a' + i))
		if _, err := m.CreateTrader(context.Background(), testTraderConfig(id)); err != nil {
			t.Fatalf("unexpected error creating trader %d: %v", i, err)
		}
	}

	_, err := m.CreateTrader(context.Background(), testTraderConfig("overflow"))
	if err != model.ErrMaxTradersExceeded {
		t.Fatalf("expected ErrMaxTradersExceeded, got %v", err)
	}
}

func TestCreateTraderPropagatesRiskRejection(t *testing.T) {
	repo := newFakeTraderRepo()
	m := New(denyRisk{err: &model.RiskViolation{Kind: model.ViolationBudgetExceeded}}, repo, nil, pattern.NewStore(pattern.DefaultConfig(), nil), signalgen.DefaultConfig())

	_, err := m.CreateTrader(context.Background(), testTraderConfig("a"))
	if err == nil {
		t.Fatalf("expected risk validation rejection to propagate")
	}
	if m.Count() != 0 {
		t.Fatalf("expected no trader to be tracked after rejection")
	}
}

func TestCheckTraderHealthReportsIdleAsHealthy(t *testing.T) {
	repo := newFakeTraderRepo()
	m := New(allowRisk{}, repo, nil, pattern.NewStore(pattern.DefaultConfig(), nil), signalgen.DefaultConfig())
	id, _ := m.CreateTrader(context.Background(), testTraderConfig("a"))

	h, err := m.CheckTraderHealth(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.IsHealthy {
		t.Fatalf("expected a freshly-created idle trader to be healthy, got issues: %v", h.Issues)
	}
	if h.Status != model.TraderStateIdle {
		t.Fatalf("expected Idle status, got %s", h.Status)
	}
}

func TestCheckTraderHealthUnknownIDErrors(t *testing.T) {
	repo := newFakeTraderRepo()
	m := New(allowRisk{}, repo, nil, pattern.NewStore(pattern.DefaultConfig(), nil), signalgen.DefaultConfig())
	if _, err := m.CheckTraderHealth("unknown"); err == nil {
		t.Fatalf("expected TraderNotFoundError for unknown id")
	}
}

func TestDeleteTraderRemovesFromMapAndPersistence(t *testing.T) {
	repo := newFakeTraderRepo()
	m := New(allowRisk{}, repo, nil, pattern.NewStore(pattern.DefaultConfig(), nil), signalgen.DefaultConfig())
	id, _ := m.CreateTrader(context.Background(), testTraderConfig("a"))

	if err := m.DeleteTrader(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("expected trader map to be empty after delete")
	}
	if len(repo.deleted) != 1 {
		t.Fatalf("expected persisted row to be deleted")
	}
}

func TestUpdateTraderHotSwapsWithoutReplacingWhenIdle(t *testing.T) {
	repo := newFakeTraderRepo()
	m := New(allowRisk{}, repo, nil, pattern.NewStore(pattern.DefaultConfig(), nil), signalgen.DefaultConfig())
	id, _ := m.CreateTrader(context.Background(), testTraderConfig("a"))
	before := m.traders[id].instance

	cfg := testTraderConfig("a")
	cfg.ConfidenceThreshold = 0.9
	if err := m.UpdateTrader(context.Background(), id, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.traders[id].instance != before {
		t.Fatalf("expected a hot-swappable update to keep the existing trader instance")
	}

	h, _ := m.CheckTraderHealth(id)
	if h.Status != model.TraderStateIdle {
		t.Fatalf("expected trader to remain Idle across a hot-swap update, got %s", h.Status)
	}
}
