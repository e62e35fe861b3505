package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// RegisterFlags declares every tunable on fs. Defaults mirror Default(); only
// flags the user actually sets override file and environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("mode", string(d.Mode), "broker mode: paper or alpaca")
	fs.StringSlice("symbols", d.Symbols, "symbols to trade")
	fs.String("tag", d.Tag, "tag identifying this bot's orders and positions")
	fs.Bool("dry-run", d.DryRun, "evaluate and log orders without submitting them")
	fs.Float64("lot-size", d.LotSize, "fixed lot size per order")
	fs.Float64("stop-loss-pips", d.StopLossPips, "stop-loss distance in pips")
	fs.Float64("take-profit-pips", d.TakeProfitPips, "take-profit distance in pips")
	fs.Float64("min-probability", d.MinProbability, "minimum probability score to open a trade")
	fs.Float64("decision-margin", d.DecisionMargin, "required lead of one side's score over the other")
	fs.Float64("min-balance", d.MinBalance, "balance floor below which no lot is sized")
	fs.Int("min-bars-between-trades", d.MinBarsBetweenTrades, "cooldown per symbol, in bars")
	fs.Int("max-trades-per-day", d.MaxTradesPerDay, "trades per symbol per UTC day")
	fs.Duration("bar-period", d.BarPeriod, "bar timeframe")
	fs.Float64("max-spread-pips", d.MaxSpreadPips, "default spread limit in pips")
	fs.StringToString("spread-pips", nil, "per-symbol spread limits in pips, e.g. XAUUSD=30")
	fs.StringToString("pip-values", nil, "per-symbol pip value overrides, e.g. BTCUSD=1")
	fs.Int("ma-fast", d.MAFast, "fast moving average window")
	fs.Int("ma-slow", d.MASlow, "slow moving average window")
	fs.Int("trend-bars", d.TrendBars, "bars fetched for the trend signal")
	fs.Int("level-bars", d.LevelBars, "bars fetched for support and resistance")
	fs.Int("volume-bars", d.VolumeBars, "bars fetched for the volume signal")
	fs.Duration("poll-interval", d.PollInterval, "sleep between passes")
	fs.Duration("error-backoff", d.ErrorBackoff, "sleep after a failed pass")
	fs.String("decisions-path", d.DecisionsPath, "NDJSON decision log path (empty disables)")
	fs.String("metrics-addr", d.MetricsAddr, "Prometheus listen address (empty disables)")
	fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "text or json")
	fs.Float64("paper-balance", d.PaperBalance, "starting balance of the paper broker")
	fs.Int64("paper-seed", d.PaperSeed, "random seed of the paper broker")
	fs.String("alpaca-base-url", d.AlpacaBaseURL, "Alpaca trading API base URL")
	fs.String("alpaca-feed", d.AlpacaFeed, "Alpaca market data feed: iex or sip")
}

func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var errs []error
	fs.Visit(func(f *pflag.Flag) {
		if err := applyFlag(cfg, fs, f.Name); err != nil {
			errs = append(errs, fmt.Errorf("flag --%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func applyFlag(cfg *Config, fs *pflag.FlagSet, name string) error {
	var err error
	switch name {
	case "mode":
		var v string
		v, err = fs.GetString(name)
		cfg.Mode = Mode(v)
	case "symbols":
		var v []string
		v, err = fs.GetStringSlice(name)
		cfg.Symbols = splitSymbols(strings.Join(v, ","))
	case "tag":
		cfg.Tag, err = fs.GetString(name)
	case "dry-run":
		cfg.DryRun, err = fs.GetBool(name)
	case "lot-size":
		cfg.LotSize, err = fs.GetFloat64(name)
	case "stop-loss-pips":
		cfg.StopLossPips, err = fs.GetFloat64(name)
	case "take-profit-pips":
		cfg.TakeProfitPips, err = fs.GetFloat64(name)
	case "min-probability":
		cfg.MinProbability, err = fs.GetFloat64(name)
	case "decision-margin":
		cfg.DecisionMargin, err = fs.GetFloat64(name)
	case "min-balance":
		cfg.MinBalance, err = fs.GetFloat64(name)
	case "min-bars-between-trades":
		cfg.MinBarsBetweenTrades, err = fs.GetInt(name)
	case "max-trades-per-day":
		cfg.MaxTradesPerDay, err = fs.GetInt(name)
	case "bar-period":
		cfg.BarPeriod, err = fs.GetDuration(name)
	case "max-spread-pips":
		cfg.MaxSpreadPips, err = fs.GetFloat64(name)
	case "spread-pips":
		cfg.SpreadPips, err = floatMap(fs, name)
	case "pip-values":
		cfg.PipValues, err = floatMap(fs, name)
	case "ma-fast":
		cfg.MAFast, err = fs.GetInt(name)
	case "ma-slow":
		cfg.MASlow, err = fs.GetInt(name)
	case "trend-bars":
		cfg.TrendBars, err = fs.GetInt(name)
	case "level-bars":
		cfg.LevelBars, err = fs.GetInt(name)
	case "volume-bars":
		cfg.VolumeBars, err = fs.GetInt(name)
	case "poll-interval":
		cfg.PollInterval, err = fs.GetDuration(name)
	case "error-backoff":
		cfg.ErrorBackoff, err = fs.GetDuration(name)
	case "decisions-path":
		cfg.DecisionsPath, err = fs.GetString(name)
	case "metrics-addr":
		cfg.MetricsAddr, err = fs.GetString(name)
	case "log-level":
		cfg.LogLevel, err = fs.GetString(name)
	case "log-format":
		cfg.LogFormat, err = fs.GetString(name)
	case "paper-balance":
		cfg.PaperBalance, err = fs.GetFloat64(name)
	case "paper-seed":
		cfg.PaperSeed, err = fs.GetInt64(name)
	case "alpaca-base-url":
		cfg.AlpacaBaseURL, err = fs.GetString(name)
	case "alpaca-feed":
		cfg.AlpacaFeed, err = fs.GetString(name)
	}
	return err
}

func floatMap(fs *pflag.FlagSet, name string) (map[string]float64, error) {
	raw, err := fs.GetStringToString(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[strings.ToUpper(k)] = f
	}
	return out, nil
}
