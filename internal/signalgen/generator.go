// Package signalgen implements the Signal Generator (spec §4.4): it
// composes a Strategy's raw signal with Pattern Store matches and
// live-position context to produce the final emitted Signal.
package signalgen

import (
	"ai-trading-core/internal/model"
	"ai-trading-core/internal/pattern"
)

// Config parameterizes composition (spec §4.4, §9 RelevanceScoring params).
type Config struct {
	MinRelevance               float64
	MaxPatternResults          int
	PatternDisagreementPenalty float64
	PatternWeight              float64
	ConfidenceThreshold        float64
}

// DefaultConfig matches the teacher's conventional defaults.
func DefaultConfig() Config {
	return Config{
		MinRelevance:               0.3,
		MaxPatternResults:          5,
		PatternDisagreementPenalty: 0.2,
		PatternWeight:              0.3,
		ConfidenceThreshold:        0.6,
	}
}

// OpenPositionChecker reports whether an open position already exists for
// (traderId, symbol, side), used for the position-awareness rule.
type OpenPositionChecker interface {
	HasOpenPosition(traderID, symbol string, side model.PositionSide) bool
}

// Generator composes Strategy output with Pattern Store matches.
type Generator struct {
	cfg       Config
	store     *pattern.Store
	positions OpenPositionChecker
}

// New builds a Generator.
func New(cfg Config, store *pattern.Store, positions OpenPositionChecker) *Generator {
	return &Generator{cfg: cfg, store: store, positions: positions}
}

// Generate composes the strategy signal with pattern matches and
// position-awareness per spec §4.4.
func (g *Generator) Generate(traderID string, strategySignal model.Signal, mc model.MarketConditions) model.Signal {
	signal := strategySignal

	if signal.Action == model.SignalHold || signal.Action == model.SignalClose {
		return signal
	}

	if g.store != nil {
		matches := g.store.Match(mc, g.cfg.MinRelevance, g.cfg.MaxPatternResults)
		if len(matches) > 0 {
			best := matches[0]
			if best.Pattern.Action != signal.Action {
				signal.Confidence -= g.cfg.PatternDisagreementPenalty
				if signal.Confidence < 0 {
					signal.Confidence = 0
				}
			} else {
				signal.Confidence = signal.Confidence*(1-g.cfg.PatternWeight) + best.FinalConfidence*g.cfg.PatternWeight
				signal.MatchedPatternID = best.Pattern.ID
			}
		}
	}

	if g.positions != nil {
		side := sideFor(signal.Action)
		if side != "" && g.positions.HasOpenPosition(traderID, signal.Symbol, side) {
			originalAction := signal.Action
			signal.Action = model.SignalHold
			signal.Reason = "duplicate " + string(originalAction) + " suppressed: position already open (no stacking)"
			return signal
		}
	}

	if signal.Confidence < g.cfg.ConfidenceThreshold {
		signal.Action = model.SignalHold
		signal.Reason = "below minimum confidence threshold"
	}

	return signal
}

func sideFor(action model.SignalAction) model.PositionSide {
	switch action {
	case model.SignalBuy:
		return model.PositionLong
	case model.SignalSell:
		return model.PositionShort
	default:
		return ""
	}
}
