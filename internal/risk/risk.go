// Package risk decides whether a symbol may be traded right now and how large the order is.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fxbot/internal/broker"
	"fxbot/internal/state"

	"github.com/shopspring/decimal"
)

const (
	ReasonDailyCap      = "daily_cap_reached"
	ReasonCooldown      = "cooldown_active"
	ReasonSpreadTooWide = "spread_too_wide"
)

// spreadEpsilon absorbs float noise so a spread equal to the limit is allowed.
const spreadEpsilon = 1e-12

var ErrUnsafe = errors.New("unsafe to trade")

// Rejection is returned when a safety rule blocks a trade. It matches ErrUnsafe
// under errors.Is; collaborator failures never do.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func (r *Rejection) Is(target error) bool { return target == ErrUnsafe }

func RejectionReason(err error) (string, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

type Limits struct {
	MaxTradesPerDay      int
	MinBarsBetweenTrades int
	BarPeriod            time.Duration
	MaxSpreadPips        float64
	SpreadPips           map[string]float64
}

func (l Limits) Cooldown() time.Duration {
	return time.Duration(l.MinBarsBetweenTrades) * l.BarPeriod
}

// SpreadLimit converts the symbol's pip budget into price units.
func (l Limits) SpreadLimit(symbol string, pipValue float64) float64 {
	pips := l.MaxSpreadPips
	if override, ok := l.SpreadPips[symbol]; ok && override > 0 {
		pips = override
	}
	return pips * pipValue
}

type Gate struct {
	limits  Limits
	tracker *state.Tracker
	data    broker.MarketData
	now     func() time.Time
}

func NewGate(limits Limits, tracker *state.Tracker, data broker.MarketData, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{limits: limits, tracker: tracker, data: data, now: now}
}

// Evaluate returns nil when symbol is safe to trade. The day rollover runs first
// and applies to every symbol.
func (g *Gate) Evaluate(ctx context.Context, symbol string) error {
	now := g.now().UTC()
	if g.tracker.Rollover(now) {
		slog.Info("daily trade counters reset", "day", g.tracker.LastDay().Format(time.DateOnly))
	}

	st := g.tracker.Get(symbol)
	if st.TradesToday >= g.limits.MaxTradesPerDay {
		slog.Info("risk rejected", "symbol", symbol, "reason", ReasonDailyCap, "trades_today", st.TradesToday, "max", g.limits.MaxTradesPerDay)
		return &Rejection{Reason: ReasonDailyCap}
	}

	cooldown := g.limits.Cooldown()
	if elapsed := now.Sub(st.LastTradeTime); elapsed < cooldown {
		slog.Info("risk rejected", "symbol", symbol, "reason", ReasonCooldown, "remaining", cooldown-elapsed)
		return &Rejection{Reason: ReasonCooldown}
	}

	quote, err := g.data.Quote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("spread quote %s: %w", symbol, err)
	}
	limit := g.limits.SpreadLimit(symbol, g.data.PipValue(symbol))
	if spread := quote.Spread(); spread > limit+spreadEpsilon {
		slog.Info("risk rejected", "symbol", symbol, "reason", ReasonSpreadTooWide, "spread", spread, "max", limit)
		return &Rejection{Reason: ReasonSpreadTooWide}
	}

	slog.Debug("risk approved", "symbol", symbol, "trades_today", st.TradesToday)
	return nil
}

type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

// Sizer hands out a fixed lot while the account holds at least MinBalance.
type Sizer struct {
	Source     BalanceSource
	MinBalance float64
	Lot        decimal.Decimal
}

// LotSize returns zero when the balance is below the floor.
func (s Sizer) LotSize(ctx context.Context) (decimal.Decimal, error) {
	balance, err := s.Source.Balance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: %w", err)
	}
	if balance < s.MinBalance {
		slog.Info("lot size zero", "balance", balance, "min_balance", s.MinBalance)
		return decimal.Zero, nil
	}
	return s.Lot, nil
}
