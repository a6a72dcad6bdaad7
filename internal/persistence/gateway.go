// Package persistence specifies the Persistence Gateway the core consumes
// (spec §6): a thin adapter surface for trade rows, pattern rows, and
// trader rows. The interfaces are the contract; Gateway is one concrete
// implementation backed by pgx/v5 (grounded on the teacher's
// internal/database/db.go + repository.go + models.go).
package persistence

import (
	"context"
	"time"

	"ai-trading-core/internal/model"

	"github.com/shopspring/decimal"
)

// TraderRepository is the trader-row surface of the Persistence Gateway.
type TraderRepository interface {
	Create(ctx context.Context, cfg model.TraderConfig, state model.TraderState) error
	FindAll(ctx context.Context) ([]TraderRow, error)
	FindByID(ctx context.Context, id string) (TraderRow, error)
	UpdateStatus(ctx context.Context, id string, state model.TraderState) error
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
	Delete(ctx context.Context, id string) error
}

// TraderRow is the persisted view of a trader (spec §6 "Persisted state layout").
type TraderRow struct {
	Config  model.TraderConfig
	State   model.TraderState
	Balance decimal.Decimal
}

// TradeRepository is the trade-row surface of the Persistence Gateway.
type TradeRepository interface {
	Create(ctx context.Context, p model.Position) error
	Update(ctx context.Context, p model.Position) error
	Close(ctx context.Context, p model.Position) error
	FindOpen(ctx context.Context) ([]model.Position, error)
	FindByTrader(ctx context.Context, traderID string) ([]model.Position, error)
	FindBySymbol(ctx context.Context, symbol string) ([]model.Position, error)
	FindByDateRange(ctx context.Context, from, to time.Time) ([]model.Position, error)
	UpdateStopLoss(ctx context.Context, id string, price decimal.Decimal, trailingActivated bool) error
	UpdateTakeProfit(ctx context.Context, id string, price decimal.Decimal) error
	CloseOrphaned(ctx context.Context, id string, realizedPnL decimal.Decimal) error
}

// PatternRepository is the pattern-row surface of the Persistence Gateway,
// mirroring the Pattern Store's own operations so patterns survive restart.
type PatternRepository interface {
	Store(ctx context.Context, p model.TradingPattern) error
	Query(ctx context.Context, q model.PatternQuery) ([]model.TradingPattern, error)
	GetByID(ctx context.Context, id string) (model.TradingPattern, error)
	UpdatePerformance(ctx context.Context, id string, usageCount, successCount int, averageReturn decimal.Decimal, lastUsedAt time.Time) error
	Prune(ctx context.Context, ids []string) error
}

// wrapErr wraps a non-nil error in the stable PersistenceError taxonomy
// type (spec §7); a nil error stays nil.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return &model.PersistenceError{Cause: err}
}
