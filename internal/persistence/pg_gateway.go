package persistence

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"ai-trading-core/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PGTraderRepository is a pgx-backed TraderRepository (grounded on the
// teacher's internal/database/repository.go CRUD style).
type PGTraderRepository struct{ db *DB }

// NewPGTraderRepository builds a PGTraderRepository.
func NewPGTraderRepository(db *DB) *PGTraderRepository { return &PGTraderRepository{db: db} }

var _ TraderRepository = (*PGTraderRepository)(nil)

func (r *PGTraderRepository) Create(ctx context.Context, cfg model.TraderConfig, state model.TraderState) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO traders (id, name, exchange, symbol, max_stake_amount, max_risk_level,
			max_trading_duration_seconds, min_return_percent, strategy, candlestick_interval,
			confidence_threshold, state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		cfg.ID, cfg.Name, string(cfg.Exchange), cfg.Symbol, cfg.MaxStakeAmount, cfg.MaxRiskLevel,
		int64(cfg.MaxTradingDuration.Seconds()), cfg.MinReturnPercent, string(cfg.Strategy), string(cfg.CandlestickInterval),
		cfg.ConfidenceThreshold, string(state))
	return wrapErr(err)
}

func (r *PGTraderRepository) scanRow(row pgx.Row) (TraderRow, error) {
	var (
		cfg             model.TraderConfig
		exchangeStr     string
		strategyStr     string
		intervalStr     string
		durationSeconds int64
		stateStr        string
		balance         decimal.Decimal
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &exchangeStr, &cfg.Symbol, &cfg.MaxStakeAmount, &cfg.MaxRiskLevel,
		&durationSeconds, &cfg.MinReturnPercent, &strategyStr, &intervalStr, &cfg.ConfidenceThreshold,
		&stateStr, &balance)
	if err != nil {
		return TraderRow{}, wrapErr(err)
	}
	cfg.Exchange = model.Exchange(exchangeStr)
	cfg.Strategy = model.StrategyKind(strategyStr)
	cfg.CandlestickInterval = model.CandlestickInterval(intervalStr)
	cfg.MaxTradingDuration = time.Duration(durationSeconds) * time.Second
	cfg.VirtualMoney = true
	return TraderRow{Config: cfg, State: model.TraderState(stateStr), Balance: balance}, nil
}

func (r *PGTraderRepository) FindAll(ctx context.Context) ([]TraderRow, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, exchange, symbol, max_stake_amount, max_risk_level,
			max_trading_duration_seconds, min_return_percent, strategy, candlestick_interval,
			confidence_threshold, state, balance
		FROM traders`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []TraderRow
	for rows.Next() {
		tr, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, wrapErr(rows.Err())
}

func (r *PGTraderRepository) FindByID(ctx context.Context, id string) (TraderRow, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, exchange, symbol, max_stake_amount, max_risk_level,
			max_trading_duration_seconds, min_return_percent, strategy, candlestick_interval,
			confidence_threshold, state, balance
		FROM traders WHERE id = $1`, id)
	return r.scanRow(row)
}

func (r *PGTraderRepository) UpdateStatus(ctx context.Context, id string, state model.TraderState) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE traders SET state = $2, updated_at = now() WHERE id = $1`, id, string(state))
	return wrapErr(err)
}

func (r *PGTraderRepository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE traders SET balance = $2, updated_at = now() WHERE id = $1`, id, balance)
	return wrapErr(err)
}

func (r *PGTraderRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM traders WHERE id = $1`, id)
	return wrapErr(err)
}

// PGTradeRepository is a pgx-backed TradeRepository.
type PGTradeRepository struct{ db *DB }

// NewPGTradeRepository builds a PGTradeRepository.
func NewPGTradeRepository(db *DB) *PGTradeRepository { return &PGTradeRepository{db: db} }

var _ TradeRepository = (*PGTradeRepository)(nil)

func (r *PGTradeRepository) Create(ctx context.Context, p model.Position) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trades (id, trader_id, exchange, symbol, side, status, entry_price, quantity,
			current_price, stop_loss_price, take_profit_price, trailing_active, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.TraderID, string(p.Exchange), p.Symbol, string(p.Side), string(p.Status), p.EntryPrice, p.Quantity,
		p.CurrentPrice, p.StopLossPrice, p.TakeProfitPrice, p.TrailingActive, p.OpenedAt)
	return wrapErr(err)
}

func (r *PGTradeRepository) Update(ctx context.Context, p model.Position) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET current_price = $2, unrealized_pnl = $3, stop_loss_price = $4,
			take_profit_price = $5, trailing_active = $6
		WHERE id = $1`,
		p.ID, p.CurrentPrice, p.UnrealizedPnL, p.StopLossPrice, p.TakeProfitPrice, p.TrailingActive)
	return wrapErr(err)
}

func (r *PGTradeRepository) Close(ctx context.Context, p model.Position) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET status = 'CLOSED', current_price = $2, realized_pnl = $3,
			exit_reason = $4, closed_at = $5
		WHERE id = $1`,
		p.ID, p.CurrentPrice, p.RealizedPnL, string(p.ExitReason), p.ClosedAt)
	return wrapErr(err)
}

func (r *PGTradeRepository) scan(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		var (
			p                    model.Position
			exitReasonStr        *string
			realizedPnL          *decimal.Decimal
			stopLoss, takeProfit *decimal.Decimal
			closedAt             *time.Time
			side, status, ex     string
		)
		if err := rows.Scan(&p.ID, &p.TraderID, &ex, &p.Symbol, &side, &status, &p.EntryPrice, &p.Quantity,
			&p.CurrentPrice, &stopLoss, &takeProfit, &p.TrailingActive, &p.UnrealizedPnL, &realizedPnL,
			&exitReasonStr, &p.OpenedAt, &closedAt); err != nil {
			return nil, wrapErr(err)
		}
		p.Exchange = model.Exchange(ex)
		p.Side = model.PositionSide(side)
		p.Status = model.PositionStatus(status)
		p.StopLossPrice = stopLoss
		p.TakeProfitPrice = takeProfit
		p.ClosedAt = closedAt
		if realizedPnL != nil {
			p.RealizedPnL = *realizedPnL
		}
		if exitReasonStr != nil {
			p.ExitReason = model.ExitReason(*exitReasonStr)
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

const tradeSelectColumns = `id, trader_id, exchange, symbol, side, status, entry_price, quantity,
	current_price, stop_loss_price, take_profit_price, trailing_active, unrealized_pnl, realized_pnl,
	exit_reason, opened_at, closed_at`

func (r *PGTradeRepository) FindOpen(ctx context.Context) ([]model.Position, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+tradeSelectColumns+` FROM trades WHERE status = 'OPEN'`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	return r.scan(rows)
}

func (r *PGTradeRepository) FindByTrader(ctx context.Context, traderID string) ([]model.Position, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+tradeSelectColumns+` FROM trades WHERE trader_id = $1`, traderID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	return r.scan(rows)
}

func (r *PGTradeRepository) FindBySymbol(ctx context.Context, symbol string) ([]model.Position, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+tradeSelectColumns+` FROM trades WHERE symbol = $1`, symbol)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	return r.scan(rows)
}

func (r *PGTradeRepository) FindByDateRange(ctx context.Context, from, to time.Time) ([]model.Position, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+tradeSelectColumns+` FROM trades WHERE opened_at BETWEEN $1 AND $2`, from, to)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	return r.scan(rows)
}

func (r *PGTradeRepository) UpdateStopLoss(ctx context.Context, id string, price decimal.Decimal, trailingActivated bool) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE trades SET stop_loss_price = $2, trailing_active = $3 WHERE id = $1`, id, price, trailingActivated)
	return wrapErr(err)
}

func (r *PGTradeRepository) UpdateTakeProfit(ctx context.Context, id string, price decimal.Decimal) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE trades SET take_profit_price = $2 WHERE id = $1`, id, price)
	return wrapErr(err)
}

func (r *PGTradeRepository) CloseOrphaned(ctx context.Context, id string, realizedPnL decimal.Decimal) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET status = 'CLOSED', exit_reason = 'ORPHANED', realized_pnl = $2, closed_at = now()
		WHERE id = $1`, id, realizedPnL)
	return wrapErr(err)
}

// PGPatternRepository is a pgx-backed PatternRepository.
type PGPatternRepository struct{ db *DB }

// NewPGPatternRepository builds a PGPatternRepository.
func NewPGPatternRepository(db *DB) *PGPatternRepository { return &PGPatternRepository{db: db} }

var _ PatternRepository = (*PGPatternRepository)(nil)

func (r *PGPatternRepository) Store(ctx context.Context, p model.TradingPattern) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return wrapErr(err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO patterns (id, exchange, symbol, timeframe, action, conditions, confidence, tags,
			usage_count, success_count, average_return, ref_price, created_at, last_used_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET usage_count = EXCLUDED.usage_count,
			success_count = EXCLUDED.success_count, average_return = EXCLUDED.average_return,
			last_used_at = EXCLUDED.last_used_at`,
		p.ID, string(p.Exchange), p.Symbol, string(p.Timeframe), string(p.Action), conditions, p.Confidence,
		strings.Join(p.Tags, ","), p.UsageCount, p.SuccessCount, p.AverageReturn, p.RefPrice, p.CreatedAt, p.LastUsedAt)
	return wrapErr(err)
}

func (r *PGPatternRepository) scanPattern(row pgx.Row) (model.TradingPattern, error) {
	var (
		p              model.TradingPattern
		exchangeStr    string
		timeframeStr   string
		actionStr      string
		conditionsJSON []byte
		tagsStr        string
	)
	err := row.Scan(&p.ID, &exchangeStr, &p.Symbol, &timeframeStr, &actionStr, &conditionsJSON, &p.Confidence,
		&tagsStr, &p.UsageCount, &p.SuccessCount, &p.AverageReturn, &p.RefPrice, &p.CreatedAt, &p.LastUsedAt)
	if err != nil {
		return model.TradingPattern{}, wrapErr(err)
	}
	p.Exchange = model.Exchange(exchangeStr)
	p.Timeframe = model.CandlestickInterval(timeframeStr)
	p.Action = model.SignalAction(actionStr)
	if tagsStr != "" {
		p.Tags = strings.Split(tagsStr, ",")
	}
	_ = json.Unmarshal(conditionsJSON, &p.Conditions)
	return p, nil
}

const patternSelectColumns = `id, exchange, symbol, timeframe, action, conditions, confidence, tags,
	usage_count, success_count, average_return, ref_price, created_at, last_used_at`

func (r *PGPatternRepository) GetByID(ctx context.Context, id string) (model.TradingPattern, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+patternSelectColumns+` FROM patterns WHERE id = $1`, id)
	return r.scanPattern(row)
}

func (r *PGPatternRepository) Query(ctx context.Context, q model.PatternQuery) ([]model.TradingPattern, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+patternSelectColumns+` FROM patterns`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []model.TradingPattern
	for rows.Next() {
		p, err := r.scanPatternRows(rows)
		if err != nil {
			return nil, err
		}
		if matchesQuery(p, q) {
			out = append(out, p)
		}
	}
	return out, wrapErr(rows.Err())
}

func (r *PGPatternRepository) scanPatternRows(rows pgx.Rows) (model.TradingPattern, error) {
	var (
		p              model.TradingPattern
		exchangeStr    string
		timeframeStr   string
		actionStr      string
		conditionsJSON []byte
		tagsStr        string
	)
	err := rows.Scan(&p.ID, &exchangeStr, &p.Symbol, &timeframeStr, &actionStr, &conditionsJSON, &p.Confidence,
		&tagsStr, &p.UsageCount, &p.SuccessCount, &p.AverageReturn, &p.RefPrice, &p.CreatedAt, &p.LastUsedAt)
	if err != nil {
		return model.TradingPattern{}, wrapErr(err)
	}
	p.Exchange = model.Exchange(exchangeStr)
	p.Timeframe = model.CandlestickInterval(timeframeStr)
	p.Action = model.SignalAction(actionStr)
	if tagsStr != "" {
		p.Tags = strings.Split(tagsStr, ",")
	}
	_ = json.Unmarshal(conditionsJSON, &p.Conditions)
	return p, nil
}

func matchesQuery(p model.TradingPattern, q model.PatternQuery) bool {
	if q.Exchange != nil && p.Exchange != *q.Exchange {
		return false
	}
	if q.Symbol != nil && p.Symbol != *q.Symbol {
		return false
	}
	if q.Timeframe != nil && p.Timeframe != *q.Timeframe {
		return false
	}
	if q.Action != nil && p.Action != *q.Action {
		return false
	}
	if q.MinUsageCount != nil && p.UsageCount < *q.MinUsageCount {
		return false
	}
	if q.MinConfidence != nil && p.Confidence < *q.MinConfidence {
		return false
	}
	return true
}

func (r *PGPatternRepository) UpdatePerformance(ctx context.Context, id string, usageCount, successCount int, averageReturn decimal.Decimal, lastUsedAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE patterns SET usage_count = $2, success_count = $3, average_return = $4, last_used_at = $5
		WHERE id = $1`, id, usageCount, successCount, averageReturn, lastUsedAt)
	return wrapErr(err)
}

func (r *PGPatternRepository) Prune(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM patterns WHERE id = ANY($1)`, ids)
	return wrapErr(err)
}
