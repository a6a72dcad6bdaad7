package risk

import (
	"context"
	"testing"

	"ai-trading-core/internal/model"
	"ai-trading-core/internal/notification"

	"github.com/shopspring/decimal"
)

type fakeNotifier struct {
	enabled bool
	events  []notification.Event
}

func (f *fakeNotifier) Name() string    { return "fake" }
func (f *fakeNotifier) IsEnabled() bool { return f.enabled }
func (f *fakeNotifier) Send(event notification.Event) error {
	f.events = append(f.events, event)
	return nil
}

func testConfig() model.RiskConfig {
	return model.RiskConfig{
		MaxTotalBudget:            decimal.NewFromInt(10000),
		MaxLeveragePerTrader:      decimal.NewFromInt(3),
		MaxTotalLeverage:          decimal.NewFromInt(10),
		MaxExposurePerTrader:      decimal.NewFromInt(5000),
		MaxTotalExposure:          decimal.NewFromInt(8000),
		MaxDailyLoss:              decimal.NewFromInt(500),
		MonitoringIntervalSeconds: 30,
		WarnThreshold:             0.6,
		BlockThreshold:            0.85,
		MaxConsecutiveLosses:      5,
	}
}

type fakePositionProvider struct {
	traderExposure map[string]decimal.Decimal
	totalExposure  decimal.Decimal
	metrics        model.HistoryMetrics
	closedTraders  []string
	closedAll      bool
}

func (f *fakePositionProvider) OpenNotionalForTrader(traderID string) decimal.Decimal {
	return f.traderExposure[traderID]
}
func (f *fakePositionProvider) OpenNotionalTotal() decimal.Decimal { return f.totalExposure }
func (f *fakePositionProvider) HistoryMetrics(ctx context.Context, traderID string) (model.HistoryMetrics, error) {
	return f.metrics, nil
}
func (f *fakePositionProvider) ClosePositionsForTrader(ctx context.Context, traderID string, reason model.ExitReason) error {
	f.closedTraders = append(f.closedTraders, traderID)
	return nil
}
func (f *fakePositionProvider) ClosePositionsAll(ctx context.Context, reason model.ExitReason) error {
	f.closedAll = true
	return nil
}

func TestCanOpenPositionAllowsWithinBudget(t *testing.T) {
	m := New(testConfig(), &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}})
	err := m.CanOpenPosition(context.Background(), "trader1", decimal.NewFromInt(1000), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestCanOpenPositionDeniesExcessLeverage(t *testing.T) {
	m := New(testConfig(), &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}})
	err := m.CanOpenPosition(context.Background(), "trader1", decimal.NewFromInt(1000), decimal.NewFromInt(5))
	v, ok := err.(*model.RiskViolation)
	if !ok || v.Kind != model.ViolationLeverageExceeded {
		t.Fatalf("expected leverage violation, got %v", err)
	}
}

func TestCanOpenPositionDeniesExcessExposure(t *testing.T) {
	provider := &fakePositionProvider{traderExposure: map[string]decimal.Decimal{"trader1": decimal.NewFromInt(4900)}}
	m := New(testConfig(), provider)
	err := m.CanOpenPosition(context.Background(), "trader1", decimal.NewFromInt(500), decimal.NewFromInt(1))
	v, ok := err.(*model.RiskViolation)
	if !ok || v.Kind != model.ViolationExposureExceeded {
		t.Fatalf("expected exposure violation, got %v", err)
	}
}

func TestCanOpenPositionDeniesWhenEmergencyStopActive(t *testing.T) {
	provider := &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}}
	m := New(testConfig(), provider)
	m.EmergencyStop(context.Background(), "trader1", "manual test stop")

	err := m.CanOpenPosition(context.Background(), "trader1", decimal.NewFromInt(100), decimal.NewFromInt(1))
	v, ok := err.(*model.RiskViolation)
	if !ok || v.Kind != model.ViolationEmergencyStopActive {
		t.Fatalf("expected emergency stop violation, got %v", err)
	}
	if len(provider.closedTraders) != 1 || provider.closedTraders[0] != "trader1" {
		t.Fatalf("expected targeted close for trader1, got %v", provider.closedTraders)
	}
}

func TestEmergencyStopIsIdempotent(t *testing.T) {
	provider := &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}}
	m := New(testConfig(), provider)

	m.EmergencyStop(context.Background(), "trader1", "loss")
	m.EmergencyStop(context.Background(), "trader1", "loss again")
	m.EmergencyStop(context.Background(), "trader1", "loss yet again")

	if len(provider.closedTraders) != 1 {
		t.Fatalf("expected exactly one close sequence for repeated stop calls, got %d", len(provider.closedTraders))
	}
}

func TestEmergencyStopNotifiesRegisteredNotifier(t *testing.T) {
	provider := &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}}
	m := New(testConfig(), provider)

	n := &fakeNotifier{enabled: true}
	notifier := notification.NewManager()
	notifier.AddNotifier(n)
	m.SetNotifier(notifier)

	m.EmergencyStop(context.Background(), "trader1", "loss")
	if len(n.events) != 1 {
		t.Fatalf("expected exactly one notification for targeted stop, got %d", len(n.events))
	}
	if n.events[0].Kind != notification.KindEmergencyStop || n.events[0].TraderID != "trader1" {
		t.Fatalf("unexpected notification payload: %+v", n.events[0])
	}

	m.EmergencyStop(context.Background(), "", "global circuit trip")
	if len(n.events) != 2 {
		t.Fatalf("expected a second notification for global stop, got %d", len(n.events))
	}
	if n.events[1].TraderID != "" {
		t.Fatalf("expected empty trader id for global stop notification, got %q", n.events[1].TraderID)
	}
}

func TestRecordTradeOutcomeTripsEmergencyStopOnConsecutiveLosses(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveLosses = 3
	provider := &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}}
	m := New(cfg, provider)

	m.RecordTradeOutcome("trader1", decimal.NewFromInt(-10))
	m.RecordTradeOutcome("trader1", decimal.NewFromInt(-10))
	if m.TraderStopActive("trader1") {
		t.Fatalf("expected no trip before reaching MaxConsecutiveLosses")
	}

	m.RecordTradeOutcome("trader1", decimal.NewFromInt(-10))
	if !m.TraderStopActive("trader1") {
		t.Fatalf("expected emergency stop tripped after 3 consecutive losses")
	}
	if len(provider.closedTraders) != 1 || provider.closedTraders[0] != "trader1" {
		t.Fatalf("expected targeted close for trader1, got %v", provider.closedTraders)
	}
}

func TestRecordTradeOutcomeResetsStreakOnWin(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveLosses = 2
	provider := &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}}
	m := New(cfg, provider)

	m.RecordTradeOutcome("trader1", decimal.NewFromInt(-10))
	m.RecordTradeOutcome("trader1", decimal.NewFromInt(50))
	m.RecordTradeOutcome("trader1", decimal.NewFromInt(-10))
	if m.TraderStopActive("trader1") {
		t.Fatalf("expected win to reset the consecutive-loss streak")
	}
}

func TestGlobalEmergencyStopBlocksAllTradersUntilCleared(t *testing.T) {
	provider := &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}}
	m := New(testConfig(), provider)

	m.EmergencyStop(context.Background(), "", "global circuit trip")
	if !provider.closedAll {
		t.Fatalf("expected global stop to close all positions")
	}
	if err := m.CanOpenPosition(context.Background(), "trader2", decimal.NewFromInt(10), decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected global stop to block unrelated traders")
	}

	m.ClearGlobalStop()
	if err := m.CanOpenPosition(context.Background(), "trader2", decimal.NewFromInt(10), decimal.NewFromInt(1)); err != nil {
		t.Fatalf("expected allow after clearing global stop, got %v", err)
	}
}

func TestCheckRiskLimitsRecommendsEmergencyStopOnDailyLossBreach(t *testing.T) {
	provider := &fakePositionProvider{
		traderExposure: map[string]decimal.Decimal{},
		metrics:        model.HistoryMetrics{TotalPnL: decimal.NewFromInt(-600), TotalTrades: 10, WinningTrades: 2},
	}
	m := New(testConfig(), provider)
	score, err := m.CheckRiskLimits(context.Background(), "trader1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score.Recommendation != model.RecommendEmergencyStop {
		t.Fatalf("expected EmergencyStop recommendation, got %s", score.Recommendation)
	}
}

func TestValidateTraderCreationDeniesWhenBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	// Raise the exposure limits so the 9900 position is admitted and only
	// the budget limit is left to bind.
	cfg.MaxExposurePerTrader = decimal.NewFromInt(10000)
	cfg.MaxTotalExposure = decimal.NewFromInt(10000)
	m := New(cfg, &fakePositionProvider{traderExposure: map[string]decimal.Decimal{}})
	if err := m.CanOpenPosition(context.Background(), "trader1", decimal.NewFromInt(9900), decimal.NewFromInt(1)); err != nil {
		t.Fatalf("expected the 9900 position to be admitted, got %v", err)
	}

	err := m.ValidateTraderCreation(model.TraderConfig{ID: "trader2", MaxStakeAmount: decimal.NewFromInt(500)})
	v, ok := err.(*model.RiskViolation)
	if !ok || v.Kind != model.ViolationBudgetExceeded {
		t.Fatalf("expected budget violation for new trader, got %v", err)
	}
}
