package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// PositionStatus tracks the Position Manager lifecycle (spec §3).
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason records why a position was closed (spec §3).
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitManual     ExitReason = "MANUAL"
	ExitSignal     ExitReason = "SIGNAL"
	ExitOrphaned   ExitReason = "ORPHANED"
	ExitError      ExitReason = "ERROR"
)

// Position is a virtual-money holding opened and tracked by the Position
// Manager (spec §3, §4.7).
type Position struct {
	ID               string
	TraderID         string
	Exchange         Exchange
	Symbol           string
	Side             PositionSide
	Status           PositionStatus
	EntryPrice       decimal.Decimal // > 0
	Quantity         decimal.Decimal // > 0
	CurrentPrice     decimal.Decimal // >= 0
	UnrealizedPnL    decimal.Decimal
	RealizedPnL      decimal.Decimal
	StopLossPrice    *decimal.Decimal
	TakeProfitPrice  *decimal.Decimal
	TrailingActive   bool
	OpenedAt         time.Time
	ClosedAt         *time.Time
	ExitReason       ExitReason
	LastUpdated      time.Time
}

// UnrealizedPnLAt computes mark-to-market P&L for an OPEN position at the
// given mark price (spec §4.7 refreshPosition, P&L formulas).
func (p Position) UnrealizedPnLAt(mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.EntryPrice)
	if p.Side == PositionShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// RealizedPnLAt computes final P&L for a position closing at exitPrice
// using the actual close price (spec §4.7).
func (p Position) RealizedPnLAt(exitPrice decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(p.EntryPrice)
	if p.Side == PositionShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// IsComplete reports whether a closed position carries every field the
// lifecycle requires at close (spec §8 "position lifecycle completeness":
// open positions have no closedAt; closed positions carry realizedPnL and
// exitReason).
func (p Position) IsComplete() bool {
	if p.Status != PositionClosed {
		return false
	}
	return p.ClosedAt != nil && p.ExitReason != ""
}

// IsOpenInvariant reports whether an OPEN position respects "no closedAt".
func (p Position) IsOpenInvariant() bool {
	if p.Status != PositionOpen {
		return true
	}
	return p.ClosedAt == nil && p.ExitReason == ""
}

// HistoryMetrics aggregates closed-position statistics (spec §4.7).
type HistoryMetrics struct {
	TotalPnL      decimal.Decimal
	TotalTrades   int
	WinningTrades int
}

// WinRate is defined only when TotalTrades > 0, else 0 (spec §4.7).
func (h HistoryMetrics) WinRate() float64 {
	if h.TotalTrades == 0 {
		return 0
	}
	return float64(h.WinningTrades) / float64(h.TotalTrades)
}
