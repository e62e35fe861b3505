package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fxbot/internal/broker"
	"fxbot/internal/config"
	"fxbot/internal/md"
	"fxbot/internal/risk"
	"fxbot/internal/state"
	"fxbot/internal/strategy"

	"github.com/shopspring/decimal"
)

type fakeClient struct {
	bars       []md.Bar
	quote      md.Quote
	positions  []broker.Position
	balance    float64
	result     broker.OrderResult
	historyErr error
	posErr     error
	panicky    bool

	orders        []broker.OrderRequest
	positionCalls int
}

func (f *fakeClient) Quote(ctx context.Context, symbol string) (md.Quote, error) {
	return f.quote, nil
}

func (f *fakeClient) History(ctx context.Context, symbol string, timeframe time.Duration, count int) ([]md.Bar, error) {
	if f.panicky {
		panic("history exploded")
	}
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if count < len(f.bars) {
		return f.bars[len(f.bars)-count:], nil
	}
	return f.bars, nil
}

func (f *fakeClient) PipValue(symbol string) float64 {
	return 0.0001
}

func (f *fakeClient) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	f.orders = append(f.orders, req)
	return f.result, nil
}

func (f *fakeClient) Positions(ctx context.Context) ([]broker.Position, error) {
	f.positionCalls++
	return f.positions, f.posErr
}

func (f *fakeClient) Balance(ctx context.Context) (float64, error) {
	return f.balance, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Symbols = []string{"EURUSD"}
	cfg.DecisionsPath = ""
	return cfg
}

// uptrendClient yields a clear BUY: sustained fast-over-slow cross, price near the
// bottom of the level window, a bullish last candle and a volume surge.
func uptrendClient() *fakeClient {
	bars := make([]md.Bar, 200)
	for i := range bars {
		c := 100 + float64(i)*0.01
		bars[i] = md.Bar{Open: c - 0.001, High: c + 0.005, Low: c - 0.005, Close: c, Volume: 1000}
	}
	bars[len(bars)-1].Volume = 5000
	mid := bars[len(bars)-50].Low + 0.01
	return &fakeClient{
		bars:    bars,
		quote:   md.Quote{Symbol: "EURUSD", Bid: mid - 0.00005, Ask: mid + 0.00005, Mid: mid},
		balance: 100,
		result:  broker.OrderResult{Success: true, OrderID: "ord-1"},
	}
}

func flatClient() *fakeClient {
	bars := make([]md.Bar, 200)
	for i := range bars {
		bars[i] = md.Bar{Open: 99.999, High: 100.005, Low: 99.995, Close: 100, Volume: 1000}
	}
	return &fakeClient{
		bars:    bars,
		quote:   md.Quote{Symbol: "EURUSD", Bid: 99.99995, Ask: 100.00005, Mid: 100},
		balance: 100,
		result:  broker.OrderResult{Success: true, OrderID: "ord-1"},
	}
}

func newEngine(t *testing.T, cfg config.Config, client *fakeClient, decisions *DecisionLogger) (*Engine, *state.Tracker, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
	tracker := state.NewTracker(cfg.Symbols, c.now)
	return New(cfg, client, tracker, decisions, c.Now), tracker, c
}

func TestEvaluateSymbolOpensAndRecordsTrade(t *testing.T) {
	client := uptrendClient()
	eng, tracker, c := newEngine(t, testConfig(), client, nil)

	out, err := eng.EvaluateSymbol(context.Background(), "EURUSD", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Kind != Opened || out.OrderID != "ord-1" {
		t.Fatalf("expected opened outcome, got %+v", out)
	}
	if len(client.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(client.orders))
	}
	order := client.orders[0]
	if order.Side != broker.Buy || order.Tag != "123456" {
		t.Fatalf("unexpected order %+v", order)
	}
	if !order.Volume.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected 0.01 lot, got %s", order.Volume)
	}
	entry := decimal.NewFromFloat(client.quote.Ask)
	if !order.StopLoss.Equal(entry.Sub(decimal.RequireFromString("0.003"))) {
		t.Fatalf("expected stop 30 pips below ask, got %s (entry %s)", order.StopLoss, entry)
	}
	if !order.TakeProfit.Equal(entry.Add(decimal.RequireFromString("0.006"))) {
		t.Fatalf("expected target 60 pips above ask, got %s (entry %s)", order.TakeProfit, entry)
	}
	if !strings.HasPrefix(order.ClientOrderID, "123456-") {
		t.Fatalf("expected tagged client order id, got %q", order.ClientOrderID)
	}

	st := tracker.Get("EURUSD")
	if st.TradesToday != 1 || !st.LastTradeTime.Equal(c.now) {
		t.Fatalf("expected trade recorded at %v, got %+v", c.now, st)
	}
}

func TestAttemptOpenRejectedOrderLeavesStateUntouched(t *testing.T) {
	client := uptrendClient()
	client.result = broker.OrderResult{Success: false, Message: "market closed"}
	eng, tracker, _ := newEngine(t, testConfig(), client, nil)

	out, err := eng.AttemptOpen(context.Background(), "EURUSD", strategy.Buy)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if out.Kind != Rejected || out.Reason != "market closed" {
		t.Fatalf("expected rejected outcome, got %+v", out)
	}
	if st := tracker.Get("EURUSD"); st.TradesToday != 0 || !st.LastTradeTime.IsZero() {
		t.Fatalf("rejected order must not touch state, got %+v", st)
	}
}

func TestAttemptOpenSkipsDuringCooldown(t *testing.T) {
	client := uptrendClient()
	eng, tracker, c := newEngine(t, testConfig(), client, nil)
	tracker.RecordTrade("EURUSD", c.now.Add(-time.Minute))

	out, err := eng.AttemptOpen(context.Background(), "EURUSD", strategy.Buy)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if out.Kind != Skipped || out.Reason != risk.ReasonCooldown {
		t.Fatalf("expected cooldown skip, got %+v", out)
	}
	if len(client.orders) != 0 {
		t.Fatalf("expected no order during cooldown")
	}
}

func TestAttemptOpenSkipsBelowThreshold(t *testing.T) {
	client := uptrendClient()
	eng, _, _ := newEngine(t, testConfig(), client, nil)

	out, err := eng.AttemptOpen(context.Background(), "EURUSD", strategy.Sell)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if out.Kind != Skipped || out.Reason != ReasonBelowThreshold {
		t.Fatalf("expected threshold skip for a sell into an uptrend, got %+v", out)
	}
	if out.Probability >= 65 {
		t.Fatalf("expected probability under 65, got %v", out.Probability)
	}
}

func TestAttemptOpenSkipsZeroLot(t *testing.T) {
	client := uptrendClient()
	client.balance = 9.5
	eng, _, _ := newEngine(t, testConfig(), client, nil)

	out, err := eng.AttemptOpen(context.Background(), "EURUSD", strategy.Buy)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if out.Kind != Skipped || out.Reason != ReasonZeroLot {
		t.Fatalf("expected zero lot skip, got %+v", out)
	}
	if len(client.orders) != 0 {
		t.Fatalf("expected no order below the balance floor")
	}
}

func TestAttemptOpenDryRunSubmitsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	client := uptrendClient()
	eng, tracker, _ := newEngine(t, cfg, client, nil)

	out, err := eng.AttemptOpen(context.Background(), "EURUSD", strategy.Buy)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if out.Kind != DryRun || out.StopLoss.IsZero() || out.ClientOrderID == "" {
		t.Fatalf("expected priced dry run outcome, got %+v", out)
	}
	if len(client.orders) != 0 || tracker.Get("EURUSD").TradesToday != 0 {
		t.Fatalf("dry run must not submit or record")
	}
}

func TestEvaluateSymbolSkipsTaggedPosition(t *testing.T) {
	client := uptrendClient()
	eng, _, _ := newEngine(t, testConfig(), client, nil)
	positions := []broker.Position{
		{Symbol: "EURUSD", Tag: "other"},
		{Symbol: "EURUSD", Tag: "123456", Qty: 1000},
	}

	out, err := eng.EvaluateSymbol(context.Background(), "EURUSD", positions)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Kind != Skipped || out.Reason != ReasonOpenPosition {
		t.Fatalf("expected open position skip, got %+v", out)
	}
	if len(client.orders) != 0 {
		t.Fatalf("expected no order while a tagged position is open")
	}
}

func TestEvaluateSymbolNoSignal(t *testing.T) {
	client := flatClient()
	eng, _, _ := newEngine(t, testConfig(), client, nil)

	out, err := eng.EvaluateSymbol(context.Background(), "EURUSD", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Kind != Skipped || out.Reason != ReasonNoSignal {
		t.Fatalf("expected no signal, got %+v", out)
	}
}

func TestRunPassPropagatesCollaboratorError(t *testing.T) {
	boom := errors.New("history unavailable")
	client := uptrendClient()
	client.historyErr = boom
	eng, _, _ := newEngine(t, testConfig(), client, nil)

	if err := eng.RunPass(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped history error, got %v", err)
	}

	client.historyErr = nil
	client.posErr = errors.New("positions unavailable")
	if err := eng.RunPass(context.Background()); err == nil {
		t.Fatalf("expected positions error to abort the pass")
	}
}

func TestRunPassRecoversPanic(t *testing.T) {
	client := uptrendClient()
	client.panicky = true
	eng, _, _ := newEngine(t, testConfig(), client, nil)

	err := eng.RunPass(context.Background())
	if err == nil || !strings.Contains(err.Error(), "history exploded") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
}

func TestRunBacksOffAndStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	cfg.ErrorBackoff = 5 * time.Millisecond
	client := uptrendClient()
	client.posErr = errors.New("positions unavailable")
	eng, _, _ := newEngine(t, cfg, client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := eng.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
	if client.positionCalls < 2 {
		t.Fatalf("expected retries after the error backoff, got %d passes", client.positionCalls)
	}
}

func TestDecisionLogRecordsOutcome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.ndjson")
	decisions, err := NewDecisionLogger(path, "run-1")
	if err != nil {
		t.Fatalf("open decision log: %v", err)
	}
	client := uptrendClient()
	eng, _, _ := newEngine(t, testConfig(), client, decisions)

	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if err := decisions.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	var lines []Decision
	for scanner.Scan() {
		var d Decision
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		lines = append(lines, d)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one decision, got %d", len(lines))
	}
	d := lines[0]
	if d.RunID != "run-1" || d.Symbol != "EURUSD" || d.Result != Opened || d.Intent != strategy.Buy {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.OrderID != "ord-1" || d.Buy.Total <= d.Sell.Total {
		t.Fatalf("expected order id and buy edge, got %+v", d)
	}
}
