// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/alerting"
	"github.com/tathienbao/repricer/internal/broker"
	"github.com/tathienbao/repricer/internal/broker/paper"
	"github.com/tathienbao/repricer/internal/engine"
	"github.com/tathienbao/repricer/internal/execution"
	"github.com/tathienbao/repricer/internal/metrics"
	"github.com/tathienbao/repricer/internal/ticks"
	"github.com/tathienbao/repricer/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Paper       PaperConfig       `yaml:"paper"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Log         LogConfig         `yaml:"log"`
}

// InstrumentConfig identifies the traded instrument and account.
type InstrumentConfig struct {
	Symbol    string `yaml:"symbol"`
	Exchange  string `yaml:"exchange"`
	AccountID string `yaml:"account_id"`
}

// StrategyConfig holds entry and exit parameters.
type StrategyConfig struct {
	MaxVolume         int64   `yaml:"max_volume"`
	TargetReturn      float64 `yaml:"target_return"`
	EntryPriceCeiling float64 `yaml:"entry_price_ceiling"`
	PollIntervalMs    int     `yaml:"poll_interval_ms"`
	QuoteBackoffMs    int     `yaml:"quote_backoff_ms"`
	MaxQuoteAgeSec    int     `yaml:"max_quote_age_sec"`
}

// ExecutionConfig holds order executor settings.
type ExecutionConfig struct {
	FillWaitTimeoutSec    int `yaml:"fill_wait_timeout_sec"`
	RepriceIntervalMs     int `yaml:"reprice_interval_ms"`
	AbortCancelTimeoutSec int `yaml:"abort_cancel_timeout_sec"`
	RateLimitPerSecond    int `yaml:"rate_limit_per_second"`
}

// PaperConfig configures the in-memory venue and its quote feeder.
type PaperConfig struct {
	AccountID   string       `yaml:"account_id"`
	Currency    string       `yaml:"currency"`
	InitialCash float64      `yaml:"initial_cash"`
	LotSize     int64        `yaml:"lot_size"`
	PriceTick   float64      `yaml:"price_tick"`
	Name        string       `yaml:"name"`
	Feeder      FeederConfig `yaml:"feeder"`
}

// FeederConfig configures the synthetic quote stream.
type FeederConfig struct {
	StartPrice  float64 `yaml:"start_price"`
	SpreadTicks int     `yaml:"spread_ticks"`
	LevelSize   int64   `yaml:"level_size"`
	IntervalMs  int     `yaml:"interval_ms"`
	Seed        int64   `yaml:"seed"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type        string `yaml:"type"` // console | telegram
	BotToken    string `yaml:"bot_token"`
	ChatID      string `yaml:"chat_id"`
	MinSeverity string `yaml:"min_severity"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Instrument: InstrumentConfig{
			Symbol:    "00700",
			Exchange:  "SEHK",
			AccountID: "PAPER",
		},
		Strategy: StrategyConfig{
			MaxVolume:         2000,
			TargetReturn:      0.04,
			EntryPriceCeiling: 6.20,
			PollIntervalMs:    3000,
			QuoteBackoffMs:    2000,
		},
		Execution: ExecutionConfig{
			FillWaitTimeoutSec:    60,
			RepriceIntervalMs:     3000,
			AbortCancelTimeoutSec: 5,
			RateLimitPerSecond:    10,
		},
		Paper: PaperConfig{
			AccountID:   "PAPER",
			Currency:    "HKD",
			InitialCash: 1_000_000,
			LotSize:     100,
			PriceTick:   0.01,
			Feeder: FeederConfig{
				StartPrice:  6.20,
				SpreadTicks: 1,
				LevelSize:   1000,
				IntervalMs:  1000,
				Seed:        1,
			},
		},
		Persistence: PersistenceConfig{
			Path: "data/repricer.db",
		},
		Metrics: MetricsConfig{
			Host: "127.0.0.1",
			Port: 9090,
			Path: "/metrics",
		},
		Shutdown: ShutdownConfig{TimeoutSec: 75},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Instrument.Symbol == "" {
		errs = append(errs, "instrument.symbol is required")
	}

	// Strategy validation
	if c.Strategy.MaxVolume <= 0 {
		errs = append(errs, "strategy.max_volume must be positive")
	}
	if c.Strategy.TargetReturn <= 0 || c.Strategy.TargetReturn > 1 {
		errs = append(errs, "strategy.target_return must be between 0 and 1")
	}
	if c.Strategy.EntryPriceCeiling <= 0 {
		errs = append(errs, "strategy.entry_price_ceiling must be positive")
	}
	if c.Strategy.PollIntervalMs <= 0 {
		errs = append(errs, "strategy.poll_interval_ms must be positive")
	}
	if c.Strategy.QuoteBackoffMs <= 0 {
		errs = append(errs, "strategy.quote_backoff_ms must be positive")
	}
	if c.Strategy.MaxQuoteAgeSec < 0 {
		errs = append(errs, "strategy.max_quote_age_sec must not be negative")
	}

	// Execution validation
	if c.Execution.FillWaitTimeoutSec <= 0 {
		errs = append(errs, "execution.fill_wait_timeout_sec must be positive")
	}
	if c.Execution.RepriceIntervalMs <= 0 {
		errs = append(errs, "execution.reprice_interval_ms must be positive")
	}
	if c.Execution.RepriceIntervalMs > c.Execution.FillWaitTimeoutSec*1000 && c.Execution.FillWaitTimeoutSec > 0 {
		errs = append(errs, "execution.reprice_interval_ms must not exceed the fill wait timeout")
	}
	if c.Execution.RateLimitPerSecond < 0 {
		errs = append(errs, "execution.rate_limit_per_second must not be negative")
	}

	// Paper venue validation
	if c.Paper.LotSize <= 0 {
		errs = append(errs, "paper.lot_size must be positive")
	}
	if c.Paper.PriceTick <= 0 {
		errs = append(errs, "paper.price_tick must be positive")
	}
	if c.Paper.InitialCash <= 0 {
		errs = append(errs, "paper.initial_cash must be positive")
	}
	if c.Paper.Feeder.StartPrice <= 0 {
		errs = append(errs, "paper.feeder.start_price must be positive")
	}
	if c.Paper.Feeder.SpreadTicks <= 0 {
		errs = append(errs, "paper.feeder.spread_ticks must be positive")
	}
	if c.Paper.Feeder.IntervalMs <= 0 {
		errs = append(errs, "paper.feeder.interval_ms must be positive")
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	// Alerting validation
	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
				}
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].type '%s' is not supported", i, ch.Type))
			}
			if ch.MinSeverity != "" {
				if _, err := alerting.ParseSeverity(ch.MinSeverity); err != nil {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d].min_severity: %v", i, err))
				}
			}
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}

	if c.Shutdown.TimeoutSec <= 0 {
		errs = append(errs, "shutdown.timeout_sec must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level '%s' is not supported", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, "log.format must be 'json' or 'text'")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToEngineConfig converts to engine.Config.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		Symbol:            c.Instrument.Symbol,
		AccountID:         c.Instrument.AccountID,
		MaxVolume:         c.Strategy.MaxVolume,
		TargetReturn:      decimal.NewFromFloat(c.Strategy.TargetReturn),
		EntryPriceCeiling: decimal.NewFromFloat(c.Strategy.EntryPriceCeiling),
		FillWaitTimeout:   c.FillWaitTimeout(),
		RepriceInterval:   c.RepriceInterval(),
		PollInterval:      time.Duration(c.Strategy.PollIntervalMs) * time.Millisecond,
		QuoteBackoff:      time.Duration(c.Strategy.QuoteBackoffMs) * time.Millisecond,
	}
}

// ToExecutionConfig converts to execution.Config.
func (c *Config) ToExecutionConfig() execution.Config {
	return execution.Config{
		FillWaitTimeout:    c.FillWaitTimeout(),
		RepriceInterval:    c.RepriceInterval(),
		AbortCancelTimeout: time.Duration(c.Execution.AbortCancelTimeoutSec) * time.Second,
	}
}

// ToPollerConfig converts to ticks.Config.
func (c *Config) ToPollerConfig() ticks.Config {
	return ticks.Config{MaxQuoteAge: time.Duration(c.Strategy.MaxQuoteAgeSec) * time.Second}
}

// ToPaperConfig converts to paper.Config with the configured instrument as
// the only contract.
func (c *Config) ToPaperConfig() paper.Config {
	return paper.Config{
		AccountID:   c.Paper.AccountID,
		Currency:    c.Paper.Currency,
		InitialCash: decimal.NewFromFloat(c.Paper.InitialCash),
		Contracts: []broker.Contract{{
			Symbol:    c.Instrument.Symbol,
			Exchange:  c.Instrument.Exchange,
			Name:      c.Paper.Name,
			Product:   "EQUITY",
			Currency:  c.Paper.Currency,
			LotSize:   c.Paper.LotSize,
			PriceTick: decimal.NewFromFloat(c.Paper.PriceTick),
		}},
	}
}

// ToFeederConfig converts to paper.FeederConfig.
func (c *Config) ToFeederConfig() paper.FeederConfig {
	f := c.Paper.Feeder
	return paper.FeederConfig{
		Symbol:     c.Instrument.Symbol,
		Exchange:   c.Instrument.Exchange,
		StartPrice: decimal.NewFromFloat(f.StartPrice),
		Tick:       decimal.NewFromFloat(c.Paper.PriceTick),
		Spread:     f.SpreadTicks,
		LevelSize:  f.LevelSize,
		Interval:   time.Duration(f.IntervalMs) * time.Millisecond,
		Seed:       f.Seed,
	}
}

// ToServerConfig converts to metrics.ServerConfig.
func (c *Config) ToServerConfig() metrics.ServerConfig {
	cfg := metrics.DefaultServerConfig()
	cfg.Host = c.Metrics.Host
	cfg.Port = c.Metrics.Port
	if c.Metrics.Path != "" {
		cfg.MetricsPath = c.Metrics.Path
	}
	return cfg
}

// ToTelegramConfig converts a telegram channel to alerting.TelegramConfig.
func (ch ChannelConfig) ToTelegramConfig() alerting.TelegramConfig {
	// Validate has already rejected unknown severities.
	sev, _ := alerting.ParseSeverity(ch.MinSeverity)
	return alerting.TelegramConfig{
		BotToken:    ch.BotToken,
		ChatID:      ch.ChatID,
		Timeout:     time.Duration(ch.TimeoutSec) * time.Second,
		MinSeverity: sev,
	}
}

// FillWaitTimeout returns the per-cycle fill window.
func (c *Config) FillWaitTimeout() time.Duration {
	return time.Duration(c.Execution.FillWaitTimeoutSec) * time.Second
}

// RepriceInterval returns the delay between fill checks.
func (c *Config) RepriceInterval() time.Duration {
	return time.Duration(c.Execution.RepriceIntervalMs) * time.Millisecond
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
