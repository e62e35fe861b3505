package engine

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"fxbot/internal/broker"
	"fxbot/internal/strategy"

	"github.com/shopspring/decimal"
)

// Decision is one NDJSON line of the decision log.
type Decision struct {
	RunID         string          `json:"run_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Symbol        string          `json:"symbol"`
	Intent        strategy.Action `json:"intent"`
	Buy           strategy.Score  `json:"buy"`
	Sell          strategy.Score  `json:"sell"`
	Result        Kind            `json:"result"`
	Reason        string          `json:"reason"`
	Side          broker.Side     `json:"side,omitempty"`
	Probability   float64         `json:"probability,omitempty"`
	Lot           decimal.Decimal `json:"lot"`
	Entry         decimal.Decimal `json:"entry"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	OrderID       string          `json:"order_id,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewDecisionLogger(path string, runID string) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

// Append writes and flushes one line. Failures are logged, never returned: the
// decision log must not stop trading.
func (d *DecisionLogger) Append(decision Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, err := json.Marshal(decision)
	if err != nil {
		slog.Error("marshal decision failed", "symbol", decision.Symbol, "error", err)
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		slog.Error("write decision failed", "symbol", decision.Symbol, "error", err)
		return
	}
	if err := d.writer.Flush(); err != nil {
		slog.Error("flush decision log failed", "error", err)
	}
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
