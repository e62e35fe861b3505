package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModePaper  Mode = "paper"
	ModeAlpaca Mode = "alpaca"
)

type Config struct {
	Mode    Mode     `yaml:"mode"`
	Symbols []string `yaml:"symbols"`
	Tag     string   `yaml:"tag"`
	DryRun  bool     `yaml:"dry_run"`

	LotSize        float64 `yaml:"lot_size"`
	StopLossPips   float64 `yaml:"stop_loss_pips"`
	TakeProfitPips float64 `yaml:"take_profit_pips"`
	MinProbability float64 `yaml:"min_probability"`
	DecisionMargin float64 `yaml:"decision_margin"`
	MinBalance     float64 `yaml:"min_balance"`

	MinBarsBetweenTrades int                `yaml:"min_bars_between_trades"`
	MaxTradesPerDay      int                `yaml:"max_trades_per_day"`
	BarPeriod            time.Duration      `yaml:"bar_period"`
	MaxSpreadPips        float64            `yaml:"max_spread_pips"`
	SpreadPips           map[string]float64 `yaml:"spread_pips"`
	PipValues            map[string]float64 `yaml:"pip_values"`

	MAFast     int `yaml:"ma_fast"`
	MASlow     int `yaml:"ma_slow"`
	TrendBars  int `yaml:"trend_bars"`
	LevelBars  int `yaml:"level_bars"`
	VolumeBars int `yaml:"volume_bars"`

	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`

	DecisionsPath string `yaml:"decisions_path"`
	MetricsAddr   string `yaml:"metrics_addr"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`

	PaperBalance float64 `yaml:"paper_balance"`
	PaperSeed    int64   `yaml:"paper_seed"`

	AlpacaBaseURL string `yaml:"alpaca_base_url"`
	AlpacaFeed    string `yaml:"alpaca_feed"`
	APIKey        string `yaml:"-"`
	APISecret     string `yaml:"-"`
}

func Default() Config {
	return Config{
		Mode:                 ModePaper,
		Symbols:              []string{"XAUUSD", "USDJPY", "EURUSD", "BTCUSD", "GBPUSD"},
		Tag:                  "123456",
		LotSize:              0.01,
		StopLossPips:         30,
		TakeProfitPips:       60,
		MinProbability:       65,
		DecisionMargin:       10,
		MinBalance:           10,
		MinBarsBetweenTrades: 5,
		MaxTradesPerDay:      2,
		BarPeriod:            time.Minute,
		MaxSpreadPips:        2,
		MAFast:               14,
		MASlow:               50,
		TrendBars:            200,
		LevelBars:            50,
		VolumeBars:           11,
		PollInterval:         10 * time.Second,
		ErrorBackoff:         5 * time.Second,
		DecisionsPath:        "decisions.ndjson",
		LogLevel:             "info",
		LogFormat:            "text",
		PaperBalance:         100,
		AlpacaBaseURL:        "https://paper-api.alpaca.markets",
		AlpacaFeed:           "iex",
	}
}

// Load layers configuration: defaults, then the YAML file at path (optional),
// then environment, then any flags explicitly set on flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	loadDotEnvIfPresent(".env")

	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if flags != nil {
		if err := applyFlags(&cfg, flags); err != nil {
			return cfg, err
		}
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Cooldown() time.Duration {
	return time.Duration(c.MinBarsBetweenTrades) * c.BarPeriod
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func loadDotEnvIfPresent(path string) {
	if err := loadDotEnv(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
	}
}

// loadDotEnv never overrides variables already present in the environment.
func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.APISecret = v
	}
	if v := os.Getenv("FXBOT_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("FXBOT_SYMBOLS"); v != "" {
		cfg.Symbols = splitSymbols(v)
	}
}

func splitSymbols(value string) []string {
	var symbols []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func validate(cfg Config) error {
	if cfg.Mode != ModePaper && cfg.Mode != ModeAlpaca {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.Mode == ModeAlpaca && (cfg.APIKey == "" || cfg.APISecret == "") {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required in alpaca mode")
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if seen[s] {
			return fmt.Errorf("duplicate symbol: %s", s)
		}
		seen[s] = true
	}
	if cfg.Tag == "" {
		return fmt.Errorf("tag must not be empty")
	}
	if cfg.LotSize <= 0 {
		return fmt.Errorf("lot-size must be > 0")
	}
	if cfg.StopLossPips <= 0 || cfg.TakeProfitPips <= 0 {
		return fmt.Errorf("stop-loss-pips and take-profit-pips must be > 0")
	}
	if cfg.MinProbability < 5 || cfg.MinProbability > 95 {
		return fmt.Errorf("min-probability must be within [5, 95]")
	}
	if cfg.DecisionMargin < 0 {
		return fmt.Errorf("decision-margin must be >= 0")
	}
	if cfg.MinBalance < 0 {
		return fmt.Errorf("min-balance must be >= 0")
	}
	if cfg.MinBarsBetweenTrades < 0 {
		return fmt.Errorf("min-bars-between-trades must be >= 0")
	}
	if cfg.MaxTradesPerDay <= 0 {
		return fmt.Errorf("max-trades-per-day must be > 0")
	}
	if cfg.BarPeriod <= 0 {
		return fmt.Errorf("bar-period must be > 0")
	}
	if cfg.MaxSpreadPips <= 0 {
		return fmt.Errorf("max-spread-pips must be > 0")
	}
	if cfg.MAFast <= 1 || cfg.MASlow <= cfg.MAFast {
		return fmt.Errorf("ma windows must satisfy 1 < ma-fast < ma-slow")
	}
	if cfg.TrendBars <= cfg.MASlow {
		return fmt.Errorf("trend-bars must be > ma-slow")
	}
	if cfg.LevelBars <= 0 {
		return fmt.Errorf("level-bars must be > 0")
	}
	if cfg.VolumeBars < 2 {
		return fmt.Errorf("volume-bars must be >= 2")
	}
	if cfg.PollInterval <= 0 || cfg.ErrorBackoff <= 0 {
		return fmt.Errorf("poll-interval and error-backoff must be > 0")
	}
	return nil
}
