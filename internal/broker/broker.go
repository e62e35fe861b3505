// Package broker defines the collaborator contract the trading loop consumes and
// the adapters that satisfy it.
package broker

import (
	"context"
	"strings"
	"time"

	"fxbot/internal/md"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderRequest struct {
	Symbol        string
	Side          Side
	Volume        decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	Tag           string
	ClientOrderID string
}

// OrderResult reports whether the venue accepted the order. A rejected order is
// not an error: Success is false and Message carries the venue's reason.
type OrderResult struct {
	Success bool
	OrderID string
	Message string
}

type Position struct {
	Symbol   string
	Tag      string
	Qty      float64
	AvgEntry float64
}

// MarketData is the read side of the collaborator.
//
// History must return at most count bars ordered oldest first. Callers treat the
// last element as the most recent completed bar.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (md.Quote, error)
	History(ctx context.Context, symbol string, timeframe time.Duration, count int) ([]md.Bar, error)
	PipValue(symbol string) float64
}

type Client interface {
	MarketData
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Positions(ctx context.Context) ([]Position, error)
	Balance(ctx context.Context) (float64, error)
}

// PipValues resolves the price-unit granularity per symbol, falling back to
// DefaultPipValue when no override is configured.
type PipValues map[string]float64

func (p PipValues) For(symbol string) float64 {
	if v, ok := p[symbol]; ok && v > 0 {
		return v
	}
	return DefaultPipValue(symbol)
}

func DefaultPipValue(symbol string) float64 {
	upper := strings.ToUpper(symbol)
	if strings.Contains(upper, "XAU") || strings.Contains(upper, "JPY") {
		return 0.01
	}
	return 0.0001
}

// HasTaggedPosition reports whether positions contains an entry for symbol opened under tag.
func HasTaggedPosition(positions []Position, symbol, tag string) bool {
	for _, p := range positions {
		if p.Symbol == symbol && p.Tag == tag {
			return true
		}
	}
	return false
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
