package engine

import (
	"context"
	"fmt"
	"log/slog"

	"fxbot/internal/broker"
	"fxbot/internal/metrics"
)

type accountView struct {
	positions []broker.Position
	balance   float64
}

// reconcile syncs the account view once per pass. A positions failure aborts
// the pass; the balance is informational here and only logged on failure.
func (e *Engine) reconcile(ctx context.Context) (accountView, error) {
	positions, err := e.client.Positions(ctx)
	if err != nil {
		return accountView{}, fmt.Errorf("reconcile positions: %w", err)
	}
	view := accountView{positions: positions}

	tagged := 0
	for _, p := range positions {
		if p.Tag == e.cfg.Tag {
			tagged++
		}
	}
	metrics.OpenPositions.Set(float64(tagged))

	balance, err := e.client.Balance(ctx)
	if err != nil {
		slog.Warn("reconcile balance failed", "error", err)
		return view, nil
	}
	view.balance = balance
	metrics.AccountBalance.Set(balance)
	slog.Debug("account reconciled", "balance", balance, "open_positions", tagged)
	return view, nil
}
