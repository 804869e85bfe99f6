package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"futures-exec-go/broker"
	"futures-exec-go/risk"
	"futures-exec-go/session"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                  `yaml:"env"`
	Broker  BrokerConfig            `yaml:"broker"`
	Risk    RiskConfig              `yaml:"risk"`
	Session session.Config          `yaml:"session"`
	Journal JournalConfig           `yaml:"journal"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Feed    FeedConfig              `yaml:"feed"`
	Symbols map[string]SymbolConfig `yaml:"symbols"`
}

type BrokerConfig struct {
	InitialBalance    float64 `yaml:"initialBalance"`
	SlippageTicks     int     `yaml:"slippageTicks"`
	CommissionPerSide float64 `yaml:"commissionPerSide"`
}

type RiskConfig struct {
	DailyLossLimitUSD  float64 `yaml:"dailyLossLimitUSD"`
	MaxDrawdownUSD     float64 `yaml:"maxDrawdownUSD"`
	MaxRiskPerTradeUSD float64 `yaml:"maxRiskPerTradeUSD"`
	MaxTradesPerDay    int     `yaml:"maxTradesPerDay"`
	KillSwitchOnBoot   bool    `yaml:"killSwitchOnBoot"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// FeedConfig selects the tick source: "replay" plays a recorded file, "ws"
// streams from a WebSocket endpoint.
type FeedConfig struct {
	Mode  string  `yaml:"mode"`
	URL   string  `yaml:"url"`
	File  string  `yaml:"file"`
	Speed float64 `yaml:"speed"`
}

// SymbolConfig holds contract economics and the per-symbol risk cap.
type SymbolConfig struct {
	TickSize     float64 `yaml:"tickSize"`
	TickValue    float64 `yaml:"tickValue"`
	Multiplier   float64 `yaml:"multiplier"`
	MaxContracts int     `yaml:"maxContracts"`
}

// Spec converts the configured economics into broker terms.
func (s SymbolConfig) Spec() broker.SymbolSpec {
	return broker.SymbolSpec{
		TickSize:   decimal.NewFromFloat(s.TickSize),
		TickValue:  decimal.NewFromFloat(s.TickValue),
		Multiplier: decimal.NewFromFloat(s.Multiplier),
	}
}

// Limit converts the symbol config into governor terms.
func (s SymbolConfig) Limit() risk.SymbolLimit {
	return risk.SymbolLimit{
		MaxContracts: s.MaxContracts,
		TickSize:     decimal.NewFromFloat(s.TickSize),
		TickValue:    decimal.NewFromFloat(s.TickValue),
	}
}

// SymbolSpecs returns broker specs for every configured symbol.
func (c AppConfig) SymbolSpecs() map[string]broker.SymbolSpec {
	specs := make(map[string]broker.SymbolSpec, len(c.Symbols))
	for sym, sc := range c.Symbols {
		specs[sym] = sc.Spec()
	}
	return specs
}

// SymbolLimits returns governor limits for every configured symbol.
func (c AppConfig) SymbolLimits() map[string]risk.SymbolLimit {
	limits := make(map[string]risk.SymbolLimit, len(c.Symbols))
	for sym, sc := range c.Symbols {
		limits[sym] = sc.Limit()
	}
	return limits
}

// RiskGovernorConfig converts the risk section into governor terms.
func (c AppConfig) RiskGovernorConfig() risk.Config {
	return risk.Config{
		DailyLossLimitUSD:  decimal.NewFromFloat(c.Risk.DailyLossLimitUSD),
		MaxDrawdownUSD:     decimal.NewFromFloat(c.Risk.MaxDrawdownUSD),
		MaxRiskPerTradeUSD: decimal.NewFromFloat(c.Risk.MaxRiskPerTradeUSD),
		MaxTradesPerDay:    c.Risk.MaxTradesPerDay,
		KillSwitchOnBoot:   c.Risk.KillSwitchOnBoot,
	}
}

// SimBrokerConfig converts the broker section into simulator terms.
func (c AppConfig) SimBrokerConfig() broker.SimConfig {
	return broker.SimConfig{
		InitialBalance:    decimal.NewFromFloat(c.Broker.InitialBalance),
		SlippageTicks:     c.Broker.SlippageTicks,
		CommissionPerSide: decimal.NewFromFloat(c.Broker.CommissionPerSide),
	}
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment-specific fields
// from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("EXEC_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("EXEC_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("EXEC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Broker.InitialBalance <= 0 {
		return errors.New("broker.initialBalance must be > 0")
	}
	if cfg.Broker.SlippageTicks < 0 {
		return errors.New("broker.slippageTicks must be >= 0")
	}
	if cfg.Broker.CommissionPerSide < 0 {
		return errors.New("broker.commissionPerSide must be >= 0")
	}
	if cfg.Risk.DailyLossLimitUSD <= 0 {
		return errors.New("risk.dailyLossLimitUSD must be > 0")
	}
	if cfg.Risk.MaxDrawdownUSD <= 0 {
		return errors.New("risk.maxDrawdownUSD must be > 0")
	}
	if cfg.Risk.MaxRiskPerTradeUSD <= 0 {
		return errors.New("risk.maxRiskPerTradeUSD must be > 0")
	}
	if cfg.Risk.MaxTradesPerDay <= 0 {
		return errors.New("risk.maxTradesPerDay must be > 0")
	}
	switch cfg.Feed.Mode {
	case "", "replay":
	case "ws":
		if cfg.Feed.URL == "" {
			return errors.New("feed.url is required in ws mode (or EXEC_FEED_URL)")
		}
	default:
		return fmt.Errorf("feed.mode must be replay or ws, got %q", cfg.Feed.Mode)
	}
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return errors.New("journal.path is required when journal is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols config is required")
	}
	for sym, sc := range cfg.Symbols {
		if sc.TickSize <= 0 {
			return fmt.Errorf("symbol %s tickSize must be > 0", sym)
		}
		if sc.TickValue <= 0 {
			return fmt.Errorf("symbol %s tickValue must be > 0", sym)
		}
		if sc.Multiplier <= 0 {
			return fmt.Errorf("symbol %s multiplier must be > 0", sym)
		}
		if sc.MaxContracts <= 0 {
			return fmt.Errorf("symbol %s maxContracts must be > 0", sym)
		}
	}
	return nil
}
