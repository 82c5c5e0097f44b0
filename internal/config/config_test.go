package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/alerting"
	"github.com/tathienbao/repricer/internal/types"
)

const validYAML = `
instrument:
  symbol: "00700"
  exchange: "SEHK"
  account_id: "PAPER"

strategy:
  max_volume: 2000
  target_return: 0.04
  entry_price_ceiling: 6.20
  poll_interval_ms: 3000
  quote_backoff_ms: 2000

execution:
  fill_wait_timeout_sec: 60
  reprice_interval_ms: 3000
  rate_limit_per_second: 10

paper:
  lot_size: 100
  price_tick: 0.01
  feeder:
    start_price: 6.18
    interval_ms: 500

alerting:
  enabled: true
  channels:
    - type: console
    - type: telegram
      bot_token: "token"
      chat_id: "42"
      min_severity: high
  events:
    - order_terminated
    - submission_failed
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Instrument.Symbol != "00700" {
		t.Errorf("Symbol = %s, want 00700", cfg.Instrument.Symbol)
	}
	if cfg.Strategy.MaxVolume != 2000 {
		t.Errorf("MaxVolume = %d, want 2000", cfg.Strategy.MaxVolume)
	}
	if cfg.Paper.Feeder.StartPrice != 6.18 {
		t.Errorf("Feeder.StartPrice = %f, want 6.18", cfg.Paper.Feeder.StartPrice)
	}
	if len(cfg.Alerting.Channels) != 2 {
		t.Errorf("Channels = %d, want 2", len(cfg.Alerting.Channels))
	}

	// Keys absent from the file keep their defaults.
	if cfg.Paper.Feeder.LevelSize != 1000 {
		t.Errorf("Feeder.LevelSize = %d, want default 1000", cfg.Paper.Feeder.LevelSize)
	}
	if cfg.Shutdown.TimeoutSec != 75 {
		t.Errorf("Shutdown.TimeoutSec = %d, want default 75", cfg.Shutdown.TimeoutSec)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want default json", cfg.Log.Format)
	}
}

func TestLoadFromBytes_Empty(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	if err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Instrument.Symbol != "00700" {
		t.Errorf("Symbol = %s, want 00700", cfg.Instrument.Symbol)
	}
}

func TestLoadFromBytes_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing symbol",
			yaml:    "instrument:\n  symbol: \"\"\n",
			wantErr: "instrument.symbol",
		},
		{
			name:    "zero max volume",
			yaml:    "strategy:\n  max_volume: 0\n",
			wantErr: "strategy.max_volume",
		},
		{
			name:    "target return above one",
			yaml:    "strategy:\n  target_return: 1.5\n",
			wantErr: "strategy.target_return",
		},
		{
			name:    "negative ceiling",
			yaml:    "strategy:\n  entry_price_ceiling: -1\n",
			wantErr: "strategy.entry_price_ceiling",
		},
		{
			name:    "reprice slower than window",
			yaml:    "execution:\n  fill_wait_timeout_sec: 2\n  reprice_interval_ms: 3000\n",
			wantErr: "execution.reprice_interval_ms",
		},
		{
			name:    "zero lot size",
			yaml:    "paper:\n  lot_size: 0\n",
			wantErr: "paper.lot_size",
		},
		{
			name:    "persistence without path",
			yaml:    "persistence:\n  enabled: true\n  path: \"\"\n",
			wantErr: "persistence.path",
		},
		{
			name:    "telegram without token",
			yaml:    "alerting:\n  enabled: true\n  channels:\n    - type: telegram\n      chat_id: \"1\"\n",
			wantErr: "bot_token",
		},
		{
			name:    "unknown channel",
			yaml:    "alerting:\n  enabled: true\n  channels:\n    - type: pager\n",
			wantErr: "'pager' is not supported",
		},
		{
			name:    "bad severity",
			yaml:    "alerting:\n  enabled: true\n  channels:\n    - type: console\n      min_severity: loud\n",
			wantErr: "min_severity",
		},
		{
			name:    "bad log level",
			yaml:    "log:\n  level: trace\n",
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Strategy.MaxVolume = 0
	cfg.Paper.LotSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"strategy.max_volume", "paper.lot_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %v, missing %q", err, want)
		}
	}
}

func TestLoadFromBytes_ParseError(t *testing.T) {
	_, err := LoadFromBytes([]byte("strategy: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("error = %v, want parse error", err)
	}
}

func TestConfig_ToEngineConfig(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	ec := cfg.ToEngineConfig()
	if !ec.TargetReturn.Equal(decimal.RequireFromString("0.04")) {
		t.Errorf("TargetReturn = %s, want 0.04", ec.TargetReturn)
	}
	if !ec.EntryPriceCeiling.Equal(decimal.RequireFromString("6.2")) {
		t.Errorf("EntryPriceCeiling = %s, want 6.2", ec.EntryPriceCeiling)
	}
	if ec.PollInterval != 3*time.Second || ec.QuoteBackoff != 2*time.Second {
		t.Errorf("PollInterval = %s, QuoteBackoff = %s", ec.PollInterval, ec.QuoteBackoff)
	}
	if ec.FillWaitTimeout != 60*time.Second || ec.RepriceInterval != 3*time.Second {
		t.Errorf("FillWaitTimeout = %s, RepriceInterval = %s", ec.FillWaitTimeout, ec.RepriceInterval)
	}
	if ec.AccountID != "PAPER" {
		t.Errorf("AccountID = %s, want PAPER", ec.AccountID)
	}
}

func TestConfig_ToExecutionConfig(t *testing.T) {
	cfg := Default()
	xc := cfg.ToExecutionConfig()
	if xc.FillWaitTimeout != 60*time.Second || xc.RepriceInterval != 3*time.Second || xc.AbortCancelTimeout != 5*time.Second {
		t.Errorf("execution config = %+v", xc)
	}
}

func TestConfig_ToPaperConfig(t *testing.T) {
	cfg := Default()
	cfg.Paper.Name = "TENCENT"

	pc := cfg.ToPaperConfig()
	if len(pc.Contracts) != 1 {
		t.Fatalf("Contracts = %d, want 1", len(pc.Contracts))
	}
	c := pc.Contracts[0]
	if c.VTSymbol() != "00700.SEHK" || c.LotSize != 100 || !c.PriceTick.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("contract = %+v", c)
	}

	fc := cfg.ToFeederConfig()
	if fc.Symbol != "00700" || fc.Interval != time.Second || fc.Spread != 1 {
		t.Errorf("feeder config = %+v", fc)
	}
}

func TestConfig_ToServerConfig(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Port = 9191
	cfg.Metrics.Path = ""

	sc := cfg.ToServerConfig()
	if sc.Addr() != "127.0.0.1:9191" {
		t.Errorf("Addr() = %s", sc.Addr())
	}
	if sc.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath = %s, want /metrics", sc.MetricsPath)
	}
}

func TestChannelConfig_ToTelegramConfig(t *testing.T) {
	ch := ChannelConfig{Type: "telegram", BotToken: "t", ChatID: "1", MinSeverity: "high", TimeoutSec: 4}
	tc := ch.ToTelegramConfig()
	if tc.MinSeverity != alerting.SeverityHigh || tc.Timeout != 4*time.Second {
		t.Errorf("telegram config = %+v", tc)
	}
}

func TestConfig_IsAlertEventEnabled(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		events  []string
		event   string
		want    bool
	}{
		{"disabled", false, nil, "cycle_filled", false},
		{"all by default", true, nil, "cycle_filled", true},
		{"listed", true, []string{"order_terminated"}, "order_terminated", true},
		{"not listed", true, []string{"order_terminated"}, "cycle_filled", false},
		{"all keyword", true, []string{"all"}, "cycle_filled", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Alerting.Enabled = tt.enabled
			cfg.Alerting.Events = tt.events
			if got := cfg.IsAlertEventEnabled(tt.event); got != tt.want {
				t.Errorf("IsAlertEventEnabled(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Instrument.Exchange != "SEHK" {
		t.Errorf("Exchange = %s, want SEHK", cfg.Instrument.Exchange)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("REPRICER_TG_TOKEN", "secret-token")

	yaml := `
alerting:
  enabled: true
  channels:
    - type: telegram
      bot_token: "${REPRICER_TG_TOKEN}"
      chat_id: "7"
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if got := cfg.Alerting.Channels[0].BotToken; got != "secret-token" {
		t.Errorf("BotToken = %s, want secret-token", got)
	}
}
