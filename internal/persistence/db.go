package persistence

import (
	"context"
	"fmt"
	"time"

	"ai-trading-core/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBConfig configures the pgxpool connection (grounded on the teacher's
// internal/database/db.go Config).
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c DBConfig) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode)
}

// DB wraps a pgxpool.Pool, tuned the way the teacher tunes its pool.
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// NewDB parses cfg into a pool configuration, applies the teacher's
// connection-pool tuning, and opens the pool.
func NewDB(ctx context.Context, cfg DBConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	poolCfg.MaxConns = 25
	poolCfg.MinConns = 5
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	db := &DB{Pool: pool, log: logging.Default().WithComponent("persistence")}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// Ping verifies connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close releases the pool.
func (db *DB) Close() { db.Pool.Close() }

// RunMigrations applies the trade/trader/pattern schema DDL, enforcing the
// invariants spec §6 requires at the schema level: trader-count ceiling
// (defense in depth alongside the Trader Manager), non-negative counts, and
// closed-trade completeness.
func (db *DB) RunMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS traders (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			max_stake_amount DECIMAL(20,8) NOT NULL,
			max_risk_level INT NOT NULL CHECK (max_risk_level BETWEEN 1 AND 10),
			max_trading_duration_seconds BIGINT NOT NULL,
			min_return_percent DECIMAL(20,8) NOT NULL,
			strategy TEXT NOT NULL,
			candlestick_interval TEXT NOT NULL,
			confidence_threshold DOUBLE PRECISION NOT NULL,
			state TEXT NOT NULL,
			balance DECIMAL(20,8) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			trader_id TEXT NOT NULL REFERENCES traders(id),
			exchange TEXT NOT NULL DEFAULT 'BINANCE',
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			status TEXT NOT NULL,
			entry_price DECIMAL(20,8) NOT NULL,
			quantity DECIMAL(20,8) NOT NULL,
			current_price DECIMAL(20,8) NOT NULL DEFAULT 0,
			stop_loss_price DECIMAL(20,8),
			take_profit_price DECIMAL(20,8),
			trailing_active BOOLEAN NOT NULL DEFAULT FALSE,
			unrealized_pnl DECIMAL(20,8) NOT NULL DEFAULT 0,
			realized_pnl DECIMAL(20,8),
			exit_reason TEXT,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			CONSTRAINT closed_trade_complete CHECK (
				status <> 'CLOSED' OR (closed_at IS NOT NULL AND exit_reason IS NOT NULL AND realized_pnl IS NOT NULL)
			)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_trader ON trades(trader_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE OR REPLACE FUNCTION enforce_trader_ceiling() RETURNS TRIGGER AS $$
		BEGIN
			IF (SELECT COUNT(*) FROM traders) >= 3 THEN
				RAISE EXCEPTION 'trader ceiling of 3 exceeded';
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_trader_ceiling ON traders`,
		`CREATE TRIGGER trg_trader_ceiling
			BEFORE INSERT ON traders
			FOR EACH ROW EXECUTE FUNCTION enforce_trader_ceiling()`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			action TEXT NOT NULL,
			conditions JSONB NOT NULL,
			confidence DOUBLE PRECISION NOT NULL CHECK (confidence BETWEEN 0 AND 1),
			tags TEXT,
			usage_count INT NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			success_count INT NOT NULL DEFAULT 0 CHECK (success_count >= 0 AND success_count <= usage_count),
			average_return DECIMAL(20,8) NOT NULL DEFAULT 0,
			ref_price DECIMAL(20,8),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_scope ON patterns(exchange, symbol, timeframe)`,
	}

	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	db.log.Info("persistence migrations applied")
	return nil
}
