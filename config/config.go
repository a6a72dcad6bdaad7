// Package config loads the core service's configuration: a base config.json
// overlaid with environment variable overrides, the way the teacher's
// config/config.go layers its settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"ai-trading-core/internal/model"
	"ai-trading-core/internal/pattern"
	"ai-trading-core/internal/position"
	"ai-trading-core/internal/signalgen"

	"github.com/shopspring/decimal"
)

// Config aggregates every sub-config the core service wires at startup.
type Config struct {
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	RiskConfig     RiskConfig     `json:"risk"`
	PositionConfig PositionConfig `json:"position"`
	PatternConfig  PatternConfig  `json:"pattern"`
	SignalConfig   SignalConfig   `json:"signal"`
	BinanceConfig  ExchangeConfig `json:"binance"`
	BitgetConfig   ExchangeConfig `json:"bitget"`
	Traders        []TraderSeed   `json:"traders"`
}

// DatabaseConfig mirrors persistence.DBConfig with JSON tags so it can be
// loaded from config.json the way the teacher loads its database.Config.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

// RedisConfig holds Redis connection settings for the Pattern Store's
// active/standby cache (spec §4.5).
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig matches logging.Config field-for-field.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// RiskConfig is the JSON-friendly mirror of model.RiskConfig (decimals travel
// as strings so they round-trip exactly).
type RiskConfig struct {
	MaxTotalBudget            string  `json:"max_total_budget"`
	MaxLeveragePerTrader      string  `json:"max_leverage_per_trader"`
	MaxTotalLeverage          string  `json:"max_total_leverage"`
	MaxExposurePerTrader      string  `json:"max_exposure_per_trader"`
	MaxTotalExposure          string  `json:"max_total_exposure"`
	MaxDailyLoss              string  `json:"max_daily_loss"`
	StopLossPercentage        string  `json:"stop_loss_percentage"`
	MonitoringIntervalSeconds int     `json:"monitoring_interval_seconds"`
	WarnThreshold             float64 `json:"warn_threshold"`
	BlockThreshold            float64 `json:"block_threshold"`
	MaxConsecutiveLosses      int     `json:"max_consecutive_losses"`
}

// ToModel converts the JSON-friendly RiskConfig into model.RiskConfig,
// parsing decimal strings and falling back to sane defaults for blanks.
func (c RiskConfig) ToModel() model.RiskConfig {
	return model.RiskConfig{
		MaxTotalBudget:            decimalOrDefault(c.MaxTotalBudget, decimal.NewFromInt(10000)),
		MaxLeveragePerTrader:      decimalOrDefault(c.MaxLeveragePerTrader, decimal.NewFromInt(3)),
		MaxTotalLeverage:          decimalOrDefault(c.MaxTotalLeverage, decimal.NewFromInt(10)),
		MaxExposurePerTrader:      decimalOrDefault(c.MaxExposurePerTrader, decimal.NewFromInt(5000)),
		MaxTotalExposure:          decimalOrDefault(c.MaxTotalExposure, decimal.NewFromInt(8000)),
		MaxDailyLoss:              decimalOrDefault(c.MaxDailyLoss, decimal.NewFromInt(500)),
		StopLossPercentage:        decimalOrDefault(c.StopLossPercentage, decimal.NewFromFloat(0.02)),
		MonitoringIntervalSeconds: intOrDefault(c.MonitoringIntervalSeconds, 30),
		WarnThreshold:             floatOrDefault(c.WarnThreshold, 0.6),
		BlockThreshold:            floatOrDefault(c.BlockThreshold, 0.85),
		MaxConsecutiveLosses:      intOrDefault(c.MaxConsecutiveLosses, 5),
	}
}

// PositionConfig mirrors position.Config with JSON tags.
type PositionConfig struct {
	MonitoringIntervalSeconds int    `json:"monitoring_interval_seconds"`
	MinFillRatio              string `json:"min_fill_ratio"`
	DefaultStopLossPercentage string `json:"default_stop_loss_percentage"`
}

// ToModel converts to position.Config, falling back to position.DefaultConfig
// fields for blanks.
func (c PositionConfig) ToModel() position.Config {
	def := position.DefaultConfig()
	return position.Config{
		MonitoringIntervalSeconds: intOrDefault(c.MonitoringIntervalSeconds, def.MonitoringIntervalSeconds),
		MinFillRatio:              decimalOrDefault(c.MinFillRatio, def.MinFillRatio),
		DefaultStopLossPercentage: decimalOrDefault(c.DefaultStopLossPercentage, def.DefaultStopLossPercentage),
	}
}

// PatternConfig mirrors pattern.Config with JSON tags (spec §4.3).
type PatternConfig struct {
	RecencyHalfLifeDays float64 `json:"recency_half_life_days"`
}

// ToModel converts to pattern.Config.
func (c PatternConfig) ToModel() pattern.Config {
	return pattern.Config{RecencyHalfLifeDays: floatOrDefault(c.RecencyHalfLifeDays, pattern.DefaultConfig().RecencyHalfLifeDays)}
}

// SignalConfig mirrors signalgen.Config with JSON tags (spec §4.4).
type SignalConfig struct {
	MinRelevance               float64 `json:"min_relevance"`
	MaxPatternResults          int     `json:"max_pattern_results"`
	PatternDisagreementPenalty float64 `json:"pattern_disagreement_penalty"`
	PatternWeight              float64 `json:"pattern_weight"`
	ConfidenceThreshold        float64 `json:"confidence_threshold"`
}

// ToModel converts to signalgen.Config, falling back to
// signalgen.DefaultConfig fields for zero values.
func (c SignalConfig) ToModel() signalgen.Config {
	def := signalgen.DefaultConfig()
	return signalgen.Config{
		MinRelevance:               floatOrDefault(c.MinRelevance, def.MinRelevance),
		MaxPatternResults:          intOrDefault(c.MaxPatternResults, def.MaxPatternResults),
		PatternDisagreementPenalty: floatOrDefault(c.PatternDisagreementPenalty, def.PatternDisagreementPenalty),
		PatternWeight:              floatOrDefault(c.PatternWeight, def.PatternWeight),
		ConfidenceThreshold:        floatOrDefault(c.ConfidenceThreshold, def.ConfidenceThreshold),
	}
}

// ExchangeConfig holds exchange connector credentials and endpoints.
type ExchangeConfig struct {
	Enabled     bool   `json:"enabled"`
	BaseURL     string `json:"base_url"`
	WSBaseURL   string `json:"ws_base_url"`
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
	Passphrase  string `json:"passphrase"` // Bitget only
	HTTPTimeout string `json:"http_timeout"`
}

// TraderSeed describes a trader the core should create on startup, the way
// the teacher's autopilot config seeds its first autopilot instance.
type TraderSeed struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Exchange            string `json:"exchange"`
	Symbol              string `json:"symbol"`
	VirtualMoney        bool   `json:"virtual_money"`
	MaxStakeAmount      string `json:"max_stake_amount"`
	MaxRiskLevel        int    `json:"max_risk_level"`
	MaxTradingDuration  string `json:"max_trading_duration"`
	MinReturnPercent    string `json:"min_return_percent"`
	Strategy            string `json:"strategy"`
	CandlestickInterval string `json:"candlestick_interval"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// ToModel converts a TraderSeed into a model.TraderConfig, defaulting
// MaxTradingDuration to 24h and VirtualMoney to true (spec §3: real-money
// trading is not supported in v1.0).
func (s TraderSeed) ToModel() (model.TraderConfig, error) {
	stake, err := decimal.NewFromString(s.MaxStakeAmount)
	if err != nil {
		return model.TraderConfig{}, fmt.Errorf("trader %s: invalid max_stake_amount: %w", s.ID, err)
	}
	minReturn := decimalOrDefault(s.MinReturnPercent, decimal.Zero)

	duration := 24 * time.Hour
	if s.MaxTradingDuration != "" {
		d, err := time.ParseDuration(s.MaxTradingDuration)
		if err != nil {
			return model.TraderConfig{}, fmt.Errorf("trader %s: invalid max_trading_duration: %w", s.ID, err)
		}
		duration = d
	}

	return model.TraderConfig{
		ID:                  s.ID,
		Name:                s.Name,
		Exchange:            model.Exchange(s.Exchange),
		Symbol:              s.Symbol,
		VirtualMoney:        true,
		MaxStakeAmount:      stake,
		MaxRiskLevel:        s.MaxRiskLevel,
		MaxTradingDuration:  duration,
		MinReturnPercent:    minReturn,
		Strategy:            model.StrategyKind(s.Strategy),
		CandlestickInterval: model.CandlestickInterval(s.CandlestickInterval),
		ConfidenceThreshold: s.ConfidenceThreshold,
	}, nil
}

// Load reads config.json if present, then applies environment overrides,
// mirroring the teacher's Load()/applyEnvOverrides() split.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = defaultConfig()
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DatabaseConfig: DatabaseConfig{Host: "localhost", Port: 5432, User: "core", Database: "core", SSLMode: "disable"},
		RedisConfig:    RedisConfig{Address: "localhost:6379", PoolSize: 10},
		LoggingConfig:  LoggingConfig{Level: "INFO", Output: "stdout", JSONFormat: true},
		RiskConfig:     RiskConfig{MonitoringIntervalSeconds: 30, WarnThreshold: 0.6, BlockThreshold: 0.85},
		PositionConfig: PositionConfig{MonitoringIntervalSeconds: 5, MinFillRatio: "0.95", DefaultStopLossPercentage: "0.02"},
		PatternConfig:  PatternConfig{RecencyHalfLifeDays: 14},
		SignalConfig:   SignalConfig{MinRelevance: 0.3, MaxPatternResults: 5, PatternDisagreementPenalty: 0.2, PatternWeight: 0.3, ConfidenceThreshold: 0.5},
		BinanceConfig:  ExchangeConfig{BaseURL: "https://api.binance.com", WSBaseURL: "wss://stream.binance.com:9443", HTTPTimeout: "10s"},
		BitgetConfig:   ExchangeConfig{BaseURL: "https://api.bitget.com", WSBaseURL: "wss://ws.bitget.com/v2/ws/public", HTTPTimeout: "10s"},
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides, taking
// precedence over config.json the way the teacher's version does.
// Exchange credentials are overridable too: BINANCE_API_KEY,
// BINANCE_API_SECRET, BITGET_API_KEY, BITGET_API_SECRET and
// BITGET_PASSPHRASE replace the config.json values when set.
func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", boolString(cfg.LoggingConfig.IncludeFile)) == "true"

	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.APISecret = getEnvOrDefault("BINANCE_API_SECRET", cfg.BinanceConfig.APISecret)
	cfg.BitgetConfig.APIKey = getEnvOrDefault("BITGET_API_KEY", cfg.BitgetConfig.APIKey)
	cfg.BitgetConfig.APISecret = getEnvOrDefault("BITGET_API_SECRET", cfg.BitgetConfig.APISecret)
	cfg.BitgetConfig.Passphrase = getEnvOrDefault("BITGET_PASSPHRASE", cfg.BitgetConfig.Passphrase)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func decimalOrDefault(s string, def decimal.Decimal) decimal.Decimal {
	if s == "" {
		return def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return d
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func floatOrDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// ParseHTTPTimeout parses an exchange's HTTPTimeout string, defaulting to
// 10s on a blank or malformed value.
func ParseHTTPTimeout(s string) time.Duration {
	if s == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
