package pattern

import (
	"context"
	"testing"
	"time"

	"ai-trading-core/internal/model"
	"github.com/shopspring/decimal"
)

type fakePatternRepository struct {
	rows             map[string]model.TradingPattern
	storeCalls       int
	updatePerfCalls  int
	pruneCalls       int
	lastPrunedIDs    []string
}

func newFakePatternRepository() *fakePatternRepository {
	return &fakePatternRepository{rows: make(map[string]model.TradingPattern)}
}

func (f *fakePatternRepository) Store(ctx context.Context, p model.TradingPattern) error {
	f.storeCalls++
	f.rows[p.ID] = p
	return nil
}

func (f *fakePatternRepository) Query(ctx context.Context, q model.PatternQuery) ([]model.TradingPattern, error) {
	out := make([]model.TradingPattern, 0, len(f.rows))
	for _, p := range f.rows {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePatternRepository) GetByID(ctx context.Context, id string) (model.TradingPattern, error) {
	return f.rows[id], nil
}

func (f *fakePatternRepository) UpdatePerformance(ctx context.Context, id string, usageCount, successCount int, averageReturn decimal.Decimal, lastUsedAt time.Time) error {
	f.updatePerfCalls++
	p := f.rows[id]
	p.UsageCount = usageCount
	p.SuccessCount = successCount
	p.AverageReturn = averageReturn
	f.rows[id] = p
	return nil
}

func (f *fakePatternRepository) Prune(ctx context.Context, ids []string) error {
	f.pruneCalls++
	f.lastPrunedIDs = ids
	for _, id := range ids {
		delete(f.rows, id)
	}
	return nil
}

func basePattern(id string) model.TradingPattern {
	return model.TradingPattern{
		ID:         id,
		Exchange:   model.ExchangeBinance,
		Symbol:     "BTCUSDT",
		Timeframe:  model.Interval1h,
		Action:     model.SignalBuy,
		Conditions: map[string]float64{"RSI": 28},
		Confidence: 0.7,
		CreatedAt:  time.Now().UTC(),
		UsageCount: 4,
		SuccessCount: 3,
		AverageReturn: decimal.NewFromFloat(10.00),
	}
}

func TestStoreRejectsPatternWithoutConditions(t *testing.T) {
	s := NewStore(DefaultConfig(), nil)
	p := basePattern("p1")
	p.Conditions = nil
	if _, err := s.Store(p); err == nil {
		t.Fatalf("expected validation error for empty conditions")
	}
}

// TestPatternPerformanceMath mirrors spec §8 scenario 6: usageCount=4,
// successCount=3, averageReturn=10.00, a winning trade with return 20.00
// yields usageCount=5, successCount=4, successRate=0.8, averageReturn=12.00.
func TestPatternPerformanceMath(t *testing.T) {
	s := NewStore(DefaultConfig(), nil)
	p := basePattern("p1")
	if _, err := s.Store(p); err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := s.UpdatePerformance("p1", model.TradeOutcome{Success: true, Return: decimal.NewFromFloat(20.00)}); err != nil {
		t.Fatalf("updatePerformance: %v", err)
	}

	s.mu.RLock()
	updated := s.patterns["p1"]
	s.mu.RUnlock()

	if updated.UsageCount != 5 || updated.SuccessCount != 4 {
		t.Fatalf("expected usageCount=5 successCount=4, got %d %d", updated.UsageCount, updated.SuccessCount)
	}
	rate, defined := updated.SuccessRate()
	if !defined || rate != 0.8 {
		t.Fatalf("expected successRate=0.8, got %v (defined=%v)", rate, defined)
	}
	if !updated.AverageReturn.Equal(decimal.NewFromFloat(12.00)) {
		t.Fatalf("expected averageReturn=12.00, got %v", updated.AverageReturn)
	}
}

func TestMatchFiltersByExactScope(t *testing.T) {
	s := NewStore(DefaultConfig(), nil)
	p := basePattern("p1")
	p.LastUsedAt = time.Now().UTC()
	s.Store(p)

	other := basePattern("p2")
	other.Symbol = "ETHUSDT"
	s.Store(other)

	matches := s.Match(model.MarketConditions{
		Exchange:   model.ExchangeBinance,
		Symbol:     "BTCUSDT",
		Timeframe:  model.Interval1h,
		Indicators: map[string]float64{"RSI": 30},
		Price:      decimal.NewFromInt(100),
		Now:        time.Now().UTC(),
	}, 0, 10)

	if len(matches) != 1 || matches[0].Pattern.ID != "p1" {
		t.Fatalf("expected only p1 to match, got %+v", matches)
	}
}

func TestMatchRanksConfirmingCandlestickPatternHigher(t *testing.T) {
	s := NewStore(DefaultConfig(), nil)

	confirming := basePattern("confirming")
	confirming.CandlestickPattern = model.PatternMorningStar
	s.Store(confirming)

	conflicting := basePattern("conflicting")
	conflicting.CandlestickPattern = model.PatternEveningStar
	s.Store(conflicting)

	matches := s.Match(model.MarketConditions{
		Exchange:           model.ExchangeBinance,
		Symbol:             "BTCUSDT",
		Timeframe:          model.Interval1h,
		Indicators:         map[string]float64{"RSI": 28},
		Price:              decimal.NewFromInt(100),
		Now:                time.Now().UTC(),
		CandlestickPattern: model.PatternMorningStar,
	}, 0, 10)

	if len(matches) != 2 {
		t.Fatalf("expected both patterns to match, got %+v", matches)
	}
	if matches[0].Pattern.ID != "confirming" {
		t.Fatalf("expected the confirming candlestick pattern to rank first, got %+v", matches)
	}
}

func TestPruneByMinUsageCount(t *testing.T) {
	s := NewStore(DefaultConfig(), nil)
	low := basePattern("low")
	low.UsageCount = 1
	low.SuccessCount = 0
	s.Store(low)
	high := basePattern("high")
	s.Store(high)

	min := 2
	removed := s.Prune(model.PruneCriteria{MinUsageCount: &min})
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := s.patterns["low"]; ok {
		t.Fatalf("expected low-usage pattern pruned")
	}
	if _, ok := s.patterns["high"]; !ok {
		t.Fatalf("expected high-usage pattern retained")
	}
}

func TestLoadFromRepositoryHydratesInMemoryIndex(t *testing.T) {
	repo := newFakePatternRepository()
	p := basePattern("fromDB")
	repo.rows["fromDB"] = p

	s := NewStore(DefaultConfig(), nil)
	s.AttachRepository(repo)
	if err := s.LoadFromRepository(context.Background()); err != nil {
		t.Fatalf("LoadFromRepository: %v", err)
	}

	s.mu.RLock()
	_, ok := s.patterns["fromDB"]
	s.mu.RUnlock()
	if !ok {
		t.Fatalf("expected pattern hydrated from repository, got %+v", s.patterns)
	}
}

func TestStorePersistsToRepositoryOnWrite(t *testing.T) {
	repo := newFakePatternRepository()
	s := NewStore(DefaultConfig(), nil)
	s.AttachRepository(repo)

	p := basePattern("p1")
	if _, err := s.Store(p); err != nil {
		t.Fatalf("store: %v", err)
	}
	if repo.storeCalls != 1 {
		t.Fatalf("expected one push-through store call, got %d", repo.storeCalls)
	}

	if err := s.UpdatePerformance("p1", model.TradeOutcome{Success: true, Return: decimal.NewFromFloat(20.00)}); err != nil {
		t.Fatalf("updatePerformance: %v", err)
	}
	if repo.updatePerfCalls != 1 {
		t.Fatalf("expected one push-through updatePerformance call, got %d", repo.updatePerfCalls)
	}

	min := 100
	s.Prune(model.PruneCriteria{MinUsageCount: &min})
	if repo.pruneCalls != 1 {
		t.Fatalf("expected one push-through prune call, got %d", repo.pruneCalls)
	}
	if len(repo.lastPrunedIDs) != 1 || repo.lastPrunedIDs[0] != "p1" {
		t.Fatalf("expected p1 pruned via repository, got %v", repo.lastPrunedIDs)
	}
}
