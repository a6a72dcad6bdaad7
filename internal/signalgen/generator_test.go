package signalgen

import (
	"testing"

	"ai-trading-core/internal/model"
	"ai-trading-core/internal/pattern"
)

type fakeChecker struct{ open bool }

func (f fakeChecker) HasOpenPosition(traderID, symbol string, side model.PositionSide) bool {
	return f.open
}

func TestGeneratePassesThroughHold(t *testing.T) {
	g := New(DefaultConfig(), pattern.NewStore(pattern.DefaultConfig(), nil), fakeChecker{})
	signal := model.Signal{Action: model.SignalHold, Symbol: "BTCUSDT"}
	out := g.Generate("trader-1", signal, model.MarketConditions{Symbol: "BTCUSDT"})
	if out.Action != model.SignalHold {
		t.Fatalf("expected Hold passthrough")
	}
}

func TestGenerateSuppressesDuplicateSide(t *testing.T) {
	g := New(DefaultConfig(), pattern.NewStore(pattern.DefaultConfig(), nil), fakeChecker{open: true})
	signal := model.Signal{Action: model.SignalBuy, Confidence: 0.9, Symbol: "BTCUSDT"}
	out := g.Generate("trader-1", signal, model.MarketConditions{Symbol: "BTCUSDT"})
	if out.Action != model.SignalHold {
		t.Fatalf("expected duplicate Buy downgraded to Hold, got %v", out.Action)
	}
	if out.Reason != "duplicate BUY suppressed: position already open (no stacking)" {
		t.Fatalf("expected suppression reason to name the original action, got %q", out.Reason)
	}
}

func TestGenerateAppliesConfidenceThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.8
	g := New(cfg, pattern.NewStore(pattern.DefaultConfig(), nil), fakeChecker{})
	signal := model.Signal{Action: model.SignalBuy, Confidence: 0.5, Symbol: "BTCUSDT"}
	out := g.Generate("trader-1", signal, model.MarketConditions{Symbol: "BTCUSDT"})
	if out.Action != model.SignalHold {
		t.Fatalf("expected below-threshold Buy downgraded to Hold, got %v", out.Action)
	}
}
