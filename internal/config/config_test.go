package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestValidateConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":           func(c *Config) { c.Mode = "live" },
		"alpaca creds":   func(c *Config) { c.Mode = ModeAlpaca },
		"no symbols":     func(c *Config) { c.Symbols = nil },
		"duplicate":      func(c *Config) { c.Symbols = []string{"EURUSD", "EURUSD"} },
		"lot size":       func(c *Config) { c.LotSize = 0 },
		"min prob":       func(c *Config) { c.MinProbability = 99 },
		"daily cap":      func(c *Config) { c.MaxTradesPerDay = 0 },
		"ma windows":     func(c *Config) { c.MAFast = 60 },
		"trend bars":     func(c *Config) { c.TrendBars = 50 },
		"volume bars":    func(c *Config) { c.VolumeBars = 1 },
		"poll interval":  func(c *Config) { c.PollInterval = 0 },
		"spread default": func(c *Config) { c.MaxSpreadPips = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	if err := validate(Default()); err != nil {
		t.Fatalf("expected defaults to be valid, got %v", err)
	}
}

func TestDefaultsCooldown(t *testing.T) {
	if got := Default().Cooldown(); got != 300*time.Second {
		t.Fatalf("expected 300s cooldown, got %s", got)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	configContents := `mode: paper
symbols: [EURUSD, USDJPY]
tag: from-file
min_probability: 70
max_trades_per_day: 3
poll_interval: 30s
spread_pips:
  XAUUSD: 25
`
	if err := os.WriteFile(configPath, []byte(configContents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("FXBOT_SYMBOLS", "gbpusd, eurusd")
	t.Setenv("APCA_API_KEY_ID", "env-key")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--min-probability", "75", "--pip-values", "btcusd=1"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(configPath, fs)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.MinProbability != 75 {
		t.Fatalf("expected min probability from CLI, got %v", cfg.MinProbability)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "GBPUSD" || cfg.Symbols[1] != "EURUSD" {
		t.Fatalf("expected symbols from env, got %v", cfg.Symbols)
	}
	if cfg.Tag != "from-file" || cfg.MaxTradesPerDay != 3 || cfg.PollInterval != 30*time.Second {
		t.Fatalf("expected file values, got tag=%q cap=%d poll=%s", cfg.Tag, cfg.MaxTradesPerDay, cfg.PollInterval)
	}
	if cfg.SpreadPips["XAUUSD"] != 25 {
		t.Fatalf("expected per-symbol spread from file, got %v", cfg.SpreadPips)
	}
	if cfg.PipValues["BTCUSD"] != 1 {
		t.Fatalf("expected pip override from CLI, got %v", cfg.PipValues)
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("expected API key from env, got %q", cfg.APIKey)
	}
	if cfg.MASlow != 50 {
		t.Fatalf("unset values keep defaults, got ma-slow=%d", cfg.MASlow)
	}
}

func TestLoadConfigUnsetFlagsDoNotOverrideFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("lot_size: 0.05\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(configPath, fs)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LotSize != 0.05 {
		t.Fatalf("expected lot size from file, got %v", cfg.LotSize)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("lot_sise: 0.05\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(configPath, nil); err == nil {
		t.Fatalf("expected unknown key to fail")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
