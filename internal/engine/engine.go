package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fxbot/internal/broker"
	"fxbot/internal/config"
	"fxbot/internal/metrics"
	"fxbot/internal/risk"
	"fxbot/internal/state"
	"fxbot/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	Opened   Kind = "opened"
	Skipped  Kind = "skipped"
	Rejected Kind = "rejected"
	DryRun   Kind = "dry_run"
)

const (
	ReasonOpenPosition   = "open_position"
	ReasonNoSignal       = "no_signal"
	ReasonBelowThreshold = "probability_below_threshold"
	ReasonZeroLot        = "zero_lot"
	ReasonOrderRejected  = "order_rejected"
	ReasonOrderSubmitted = "order_submitted"
	ReasonOrderNotSent   = "dry_run"
)

// Outcome is the result of evaluating or attempting one symbol. Every path that
// does not open a trade still produces one, with Reason naming why.
type Outcome struct {
	Kind          Kind
	Reason        string
	Symbol        string
	Side          broker.Side
	Probability   float64
	Lot           decimal.Decimal
	Entry         decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	OrderID       string
	ClientOrderID string
}

type Engine struct {
	cfg       config.Config
	client    broker.Client
	scorer    *strategy.Scorer
	gate      *risk.Gate
	sizer     risk.Sizer
	state     *state.Tracker
	decisions *DecisionLogger
	runID     string
	now       func() time.Time
}

// New wires the scorer, gate and sizer from cfg. decisions may be nil.
func New(cfg config.Config, client broker.Client, tracker *state.Tracker, decisions *DecisionLogger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	runID := uuid.NewString()
	if decisions != nil {
		runID = decisions.RunID()
	}
	return &Engine{
		cfg:    cfg,
		client: client,
		scorer: strategy.NewScorer(client, StrategyParams(cfg)),
		gate:   risk.NewGate(Limits(cfg), tracker, client, now),
		sizer: risk.Sizer{
			Source:     client,
			MinBalance: cfg.MinBalance,
			Lot:        decimal.NewFromFloat(cfg.LotSize),
		},
		state:     tracker,
		decisions: decisions,
		runID:     runID,
		now:       now,
	}
}

func StrategyParams(cfg config.Config) strategy.Params {
	return strategy.Params{
		FastWindow:     cfg.MAFast,
		SlowWindow:     cfg.MASlow,
		TrendBars:      cfg.TrendBars,
		LevelBars:      cfg.LevelBars,
		VolumeBars:     cfg.VolumeBars,
		BarPeriod:      cfg.BarPeriod,
		MinProbability: cfg.MinProbability,
		Margin:         cfg.DecisionMargin,
	}
}

func Limits(cfg config.Config) risk.Limits {
	return risk.Limits{
		MaxTradesPerDay:      cfg.MaxTradesPerDay,
		MinBarsBetweenTrades: cfg.MinBarsBetweenTrades,
		BarPeriod:            cfg.BarPeriod,
		MaxSpreadPips:        cfg.MaxSpreadPips,
		SpreadPips:           cfg.SpreadPips,
	}
}

func (e *Engine) Scorer() *strategy.Scorer {
	return e.scorer
}

// EvaluateSymbol runs one symbol through the decision rule and, when a side wins,
// through AttemptOpen. positions is the account view fetched for this pass.
func (e *Engine) EvaluateSymbol(ctx context.Context, symbol string, positions []broker.Position) (Outcome, error) {
	if broker.HasTaggedPosition(positions, symbol, e.cfg.Tag) {
		out := Outcome{Kind: Skipped, Reason: ReasonOpenPosition, Symbol: symbol}
		e.record(strategy.TradeIntent{Action: strategy.Hold, Reason: ReasonOpenPosition}, out)
		return out, nil
	}

	intent, err := e.scorer.Evaluate(ctx, symbol)
	if err != nil {
		return Outcome{}, err
	}
	metrics.Probability.WithLabelValues(symbol, string(broker.Buy)).Set(intent.Buy.Total)
	metrics.Probability.WithLabelValues(symbol, string(broker.Sell)).Set(intent.Sell.Total)

	var out Outcome
	switch intent.Action {
	case strategy.Buy, strategy.Sell:
		out, err = e.AttemptOpen(ctx, symbol, intent.Action)
		if err != nil {
			return out, err
		}
	default:
		out = Outcome{Kind: Skipped, Reason: ReasonNoSignal, Symbol: symbol}
	}
	e.record(intent, out)
	return out, nil
}

// AttemptOpen gates, scores, sizes and submits a market order for symbol. A
// collaborator failure is returned as an error; every other stop is an Outcome.
func (e *Engine) AttemptOpen(ctx context.Context, symbol string, action strategy.Action) (Outcome, error) {
	isBuy := action == strategy.Buy
	side := broker.Sell
	if isBuy {
		side = broker.Buy
	}
	out := Outcome{Symbol: symbol, Side: side}

	if err := e.gate.Evaluate(ctx, symbol); err != nil {
		reason, ok := risk.RejectionReason(err)
		if !ok {
			return out, err
		}
		out.Kind, out.Reason = Skipped, reason
		return out, nil
	}

	score, err := e.scorer.TradeProbability(ctx, symbol, isBuy)
	if err != nil {
		return out, err
	}
	out.Probability = score.Total
	if score.Total < e.cfg.MinProbability {
		out.Kind, out.Reason = Skipped, ReasonBelowThreshold
		return out, nil
	}

	lot, err := e.sizer.LotSize(ctx)
	if err != nil {
		return out, err
	}
	if !lot.IsPositive() {
		out.Kind, out.Reason = Skipped, ReasonZeroLot
		return out, nil
	}
	out.Lot = lot

	quote, err := e.client.Quote(ctx, symbol)
	if err != nil {
		return out, fmt.Errorf("entry quote %s: %w", symbol, err)
	}
	pip := decimal.NewFromFloat(e.client.PipValue(symbol))
	stopOffset := pip.Mul(decimal.NewFromFloat(e.cfg.StopLossPips))
	targetOffset := pip.Mul(decimal.NewFromFloat(e.cfg.TakeProfitPips))
	if isBuy {
		out.Entry = decimal.NewFromFloat(quote.Ask)
		out.StopLoss = out.Entry.Sub(stopOffset)
		out.TakeProfit = out.Entry.Add(targetOffset)
	} else {
		out.Entry = decimal.NewFromFloat(quote.Bid)
		out.StopLoss = out.Entry.Add(stopOffset)
		out.TakeProfit = out.Entry.Sub(targetOffset)
	}
	out.ClientOrderID = fmt.Sprintf("%s-%s", e.cfg.Tag, uuid.NewString())

	if e.cfg.DryRun {
		out.Kind, out.Reason = DryRun, ReasonOrderNotSent
		return out, nil
	}

	result, err := e.client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Volume:        lot,
		StopLoss:      out.StopLoss,
		TakeProfit:    out.TakeProfit,
		Tag:           e.cfg.Tag,
		ClientOrderID: out.ClientOrderID,
	})
	if err != nil {
		return out, err
	}
	if !result.Success {
		out.Kind, out.Reason = Rejected, ReasonOrderRejected
		if result.Message != "" {
			out.Reason = result.Message
		}
		return out, nil
	}

	e.state.RecordTrade(symbol, e.now())
	metrics.OrdersTotal.WithLabelValues(symbol, string(side)).Inc()
	out.Kind, out.Reason, out.OrderID = Opened, ReasonOrderSubmitted, result.OrderID
	return out, nil
}

// RunPass evaluates every configured symbol once, in order. The first
// collaborator error ends the pass; a panic is converted into an error.
func (e *Engine) RunPass(ctx context.Context) (err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v", r)
		}
		metrics.PassDuration.Observe(time.Since(started).Seconds())
	}()

	view, err := e.reconcile(ctx)
	if err != nil {
		return err
	}
	for _, symbol := range e.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.EvaluateSymbol(ctx, symbol, view.positions); err != nil {
			return fmt.Errorf("evaluate %s: %w", symbol, err)
		}
	}
	for symbol, st := range e.state.Snapshot() {
		metrics.TradesToday.WithLabelValues(symbol).Set(float64(st.TradesToday))
	}
	return nil
}

// Run polls until ctx is cancelled. A failed pass is logged and retried after
// the error backoff; Run itself only returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("trading loop started", "run_id", e.runID, "symbols", e.cfg.Symbols, "poll_interval", e.cfg.PollInterval, "dry_run", e.cfg.DryRun)
	for {
		delay := e.cfg.PollInterval
		if err := e.RunPass(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.PassErrorsTotal.Inc()
			slog.Error("pass failed", "error", err, "backoff", e.cfg.ErrorBackoff)
			delay = e.cfg.ErrorBackoff
		}
		if err := broker.WaitForContext(ctx, delay); err != nil {
			slog.Info("trading loop stopped", "run_id", e.runID)
			return err
		}
	}
}

func (e *Engine) record(intent strategy.TradeIntent, out Outcome) {
	metrics.OutcomesTotal.WithLabelValues(out.Symbol, string(out.Kind), out.Reason).Inc()
	slog.Info("outcome",
		"symbol", out.Symbol,
		"kind", out.Kind,
		"reason", out.Reason,
		"intent", intent.Action,
		"buy_prob", intent.Buy.Total,
		"sell_prob", intent.Sell.Total,
		"order_id", out.OrderID,
	)
	if e.decisions == nil {
		return
	}
	e.decisions.Append(Decision{
		RunID:         e.runID,
		Timestamp:     e.now().UTC(),
		Symbol:        out.Symbol,
		Intent:        intent.Action,
		Buy:           intent.Buy,
		Sell:          intent.Sell,
		Result:        out.Kind,
		Reason:        out.Reason,
		Side:          out.Side,
		Probability:   out.Probability,
		Lot:           out.Lot,
		Entry:         out.Entry,
		StopLoss:      out.StopLoss,
		TakeProfit:    out.TakeProfit,
		OrderID:       out.OrderID,
		ClientOrderID: out.ClientOrderID,
	})
}
