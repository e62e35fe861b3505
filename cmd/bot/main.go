package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fxbot/internal/broker"
	"fxbot/internal/config"
	"fxbot/internal/engine"
	"fxbot/internal/metrics"
	"fxbot/internal/state"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fxbot",
		Short:        "Polling FX trading bot with probability scoring and a safety gate",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(), newEvaluateCmd(), newConfigCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runBot(cmd.Context(), cfg)
		},
	}
}

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate [SYMBOL...]",
		Short: "Score symbols once and print the decision without placing orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			symbols := cfg.Symbols
			if len(args) > 0 {
				symbols = make([]string, 0, len(args))
				for _, a := range args {
					symbols = append(symbols, strings.ToUpper(a))
				}
			}
			return evaluate(cmd.Context(), cmd.OutOrStdout(), cfg, symbols)
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func runBot(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := generateRunID()
	var decisions *engine.DecisionLogger
	if cfg.DecisionsPath != "" {
		var err error
		decisions, err = engine.NewDecisionLogger(cfg.DecisionsPath, runID)
		if err != nil {
			return fmt.Errorf("decision logger error: %w", err)
		}
		defer func() {
			if err := decisions.Close(); err != nil {
				slog.Error("failed to close decision logger", "error", err)
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	client := newClient(cfg)
	tracker := state.NewTracker(cfg.Symbols, time.Now())
	eng := engine.New(cfg, client, tracker, decisions, time.Now)

	slog.Info("starting bot", "run_id", runID, "mode", cfg.Mode, "symbols", cfg.Symbols, "tag", cfg.Tag)
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("bot shutdown complete", "run_id", runID)
	return nil
}

func evaluate(ctx context.Context, w io.Writer, cfg config.Config, symbols []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client := newClient(cfg)
	eng := engine.New(cfg, client, state.NewTracker(symbols, time.Now()), nil, time.Now)
	for _, symbol := range symbols {
		intent, err := eng.Scorer().Evaluate(ctx, symbol)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", symbol, err)
		}
		fmt.Fprintf(w, "%-8s %-4s buy=%5.1f sell=%5.1f (trend %+d, levels %+.0f, price action %+.0f, volume %+.0f)\n",
			symbol, intent.Action, intent.Buy.Total, intent.Sell.Total,
			intent.Buy.Trend, intent.Buy.Levels, intent.Buy.PriceAction, intent.Buy.Volume)
	}
	return nil
}

func newClient(cfg config.Config) broker.Client {
	pips := broker.PipValues(cfg.PipValues)
	if cfg.Mode == config.ModeAlpaca {
		return broker.NewAlpaca(broker.AlpacaOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.AlpacaBaseURL,
			Feed:      cfg.AlpacaFeed,
			Tag:       cfg.Tag,
			PipValues: pips,
		})
	}
	return broker.NewPaper(broker.PaperOpts{
		Balance:   cfg.PaperBalance,
		BarPeriod: cfg.BarPeriod,
		Seed:      cfg.PaperSeed,
		PipValues: pips,
	})
}

func setupLogger(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	return timestamp + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}
