// Command core is the trading engine's entry point: it loads configuration,
// wires every package (persistence, pattern store, signal generation, risk,
// position, and trader management), recovers state from a prior run, and
// serves until an interrupt signal arrives -- grounded on the teacher's
// main.go wiring order and its signal.Notify-driven graceful shutdown.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-trading-core/config"
	"ai-trading-core/internal/exchange"
	"ai-trading-core/internal/exchange/binanceconn"
	"ai-trading-core/internal/exchange/bitgetconn"
	"ai-trading-core/internal/logging"
	"ai-trading-core/internal/manager"
	"ai-trading-core/internal/model"
	"ai-trading-core/internal/notification"
	"ai-trading-core/internal/pattern"
	"ai-trading-core/internal/persistence"
	"ai-trading-core/internal/position"
	"ai-trading-core/internal/risk"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := persistence.NewDB(ctx, persistence.DBConfig{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("failed to run migrations", "error", err)
	}

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
	}

	traderRepo := persistence.NewPGTraderRepository(db)
	tradeRepo := persistence.NewPGTradeRepository(db)
	patternRepo := persistence.NewPGPatternRepository(db)

	connectors := map[model.Exchange]exchange.Connector{
		model.ExchangeBinance: binanceconn.New(binanceconn.Config{
			BaseURL:     cfg.BinanceConfig.BaseURL,
			WSBaseURL:   cfg.BinanceConfig.WSBaseURL,
			APIKey:      cfg.BinanceConfig.APIKey,
			APISecret:   cfg.BinanceConfig.APISecret,
			HTTPTimeout: config.ParseHTTPTimeout(cfg.BinanceConfig.HTTPTimeout),
		}),
		model.ExchangeBitget: bitgetconn.New(bitgetconn.Config{
			BaseURL:     cfg.BitgetConfig.BaseURL,
			WSBaseURL:   cfg.BitgetConfig.WSBaseURL,
			APIKey:      cfg.BitgetConfig.APIKey,
			APISecret:   cfg.BitgetConfig.APISecret,
			Passphrase:  cfg.BitgetConfig.Passphrase,
			HTTPTimeout: config.ParseHTTPTimeout(cfg.BitgetConfig.HTTPTimeout),
		}),
	}

	patternStore := pattern.NewStore(cfg.PatternConfig.ToModel(), redisClient)
	patternStore.AttachRepository(patternRepo)
	if err := patternStore.LoadFromRepository(ctx); err != nil {
		logger.Error("failed to hydrate pattern store from repository", "error", err)
	}

	// Two-phase construction (spec §9): the Position Manager and Risk Manager
	// hold non-owning handles to each other. Build the Position Manager with
	// a nil gate first, then the Risk Manager against it, then attach.
	positionMgr := position.New(cfg.PositionConfig.ToModel(), connectors, nil, tradeRepo)
	riskMgr := risk.New(cfg.RiskConfig.ToModel(), positionMgr)
	positionMgr.AttachRiskGate(riskMgr)

	riskMgr.SetTraderStopHandler(func(traderID string, reason string) {
		logger.Warn("trader emergency-stopped", "traderId", traderID, "reason", reason)
	})
	riskMgr.SetGlobalStopHandler(func(reason string) {
		logger.Error("global emergency stop engaged", "reason", reason)
	})

	notifier := notification.NewManager()
	notifier.AddNotifier(notification.NewLoggingNotifier())
	riskMgr.SetNotifier(notifier)

	traderMgr := manager.New(riskMgr, traderRepo, positionMgr, patternStore, cfg.SignalConfig.ToModel())
	traderMgr.SetNotifier(notifier)

	logger.Info("recovering traders and positions from prior run")
	if err := traderMgr.RecoverTraders(ctx); err != nil {
		logger.Error("trader recovery encountered errors", "error", err)
	}

	for _, seed := range cfg.Traders {
		traderCfg, err := seed.ToModel()
		if err != nil {
			logger.Error("skipping invalid seeded trader", "traderId", seed.ID, "error", err)
			continue
		}
		if _, err := traderMgr.CreateTrader(ctx, traderCfg); err != nil {
			logger.Error("failed to seed trader", "traderId", seed.ID, "error", err)
			continue
		}
		if err := traderMgr.StartTrader(ctx, traderCfg.ID); err != nil {
			logger.Error("failed to start seeded trader", "traderId", traderCfg.ID, "error", err)
		}
	}

	positionMgr.StartMonitoring(ctx)
	riskMgr.StartMonitoring(ctx, traderMgr.ActiveTraderIDs)
	traderMgr.StartHealthMonitoring(ctx, 30*time.Second)

	logger.Info("core service started", "activeTraders", traderMgr.Count())

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping background loops")

	traderMgr.StopHealthMonitoring()
	riskMgr.StopMonitoring()
	positionMgr.StopMonitoring()

	for _, id := range traderMgr.ActiveTraderIDs() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := traderMgr.StopTrader(shutdownCtx, id); err != nil {
			logger.Error("failed to stop trader during shutdown", "traderId", id, "error", err)
		}
		cancel()
	}

	logger.Info("core service stopped")
}
