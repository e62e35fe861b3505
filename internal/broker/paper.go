package broker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"fxbot/internal/md"

	"github.com/google/uuid"
)

// lotUnits converts a lot size into base units for paper PnL.
const lotUnits = 100000

type PaperOpts struct {
	Balance    float64
	SpreadPips float64
	BarPeriod  time.Duration
	HistoryLen int
	Seed       int64
	PipValues  PipValues
	Now        func() time.Time
}

// Paper simulates a venue in process: random-walk prices, synthetic bars kept in a
// ring buffer per symbol, and bracket positions closed when a bar crosses their
// stop-loss or take-profit.
type Paper struct {
	mu        sync.Mutex
	rng       *rand.Rand
	now       func() time.Time
	period    time.Duration
	histLen   int
	spread    float64
	pips      PipValues
	balance   float64
	series    map[string]*paperSeries
	positions []paperPosition
}

type paperSeries struct {
	bars *md.RingBuffer[md.Bar]
	last float64
}

type paperPosition struct {
	Position
	side       Side
	stopLoss   float64
	takeProfit float64
}

func NewPaper(opts PaperOpts) *Paper {
	if opts.BarPeriod <= 0 {
		opts.BarPeriod = time.Minute
	}
	if opts.HistoryLen <= 0 {
		opts.HistoryLen = 500
	}
	if opts.SpreadPips <= 0 {
		opts.SpreadPips = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Paper{
		rng:     rand.New(rand.NewSource(opts.Seed)),
		now:     opts.Now,
		period:  opts.BarPeriod,
		histLen: opts.HistoryLen,
		spread:  opts.SpreadPips,
		pips:    opts.PipValues,
		balance: opts.Balance,
		series:  make(map[string]*paperSeries),
	}
}

func (p *Paper) Quote(ctx context.Context, symbol string) (md.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.advance(symbol)
	half := p.spread * p.pips.For(symbol) / 2
	newest, _ := s.bars.Newest()
	return md.Quote{
		Symbol: symbol,
		Bid:    s.last - half,
		Ask:    s.last + half,
		Mid:    s.last,
		Volume: newest.Volume,
		Time:   p.now().UTC(),
	}, nil
}

// History ignores timeframe; the paper venue produces bars at its configured period only.
func (p *Paper) History(ctx context.Context, symbol string, timeframe time.Duration, count int) ([]md.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advance(symbol).bars.Last(count), nil
}

func (p *Paper) PipValue(symbol string) float64 {
	return p.pips.For(symbol)
}

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if !req.Volume.IsPositive() {
		return OrderResult{Success: false, Message: "volume must be positive"}, nil
	}
	if req.Side != Buy && req.Side != Sell {
		return OrderResult{}, errors.New("unknown order side")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.advance(req.Symbol)
	half := p.spread * p.pips.For(req.Symbol) / 2
	fill := s.last + half
	if req.Side == Sell {
		fill = s.last - half
	}

	p.positions = append(p.positions, paperPosition{
		Position: Position{
			Symbol:   req.Symbol,
			Tag:      req.Tag,
			Qty:      req.Volume.InexactFloat64(),
			AvgEntry: fill,
		},
		side:       req.Side,
		stopLoss:   req.StopLoss.InexactFloat64(),
		takeProfit: req.TakeProfit.InexactFloat64(),
	})
	id := uuid.NewString()
	slog.Info("paper order filled", "order_id", id, "client_order_id", req.ClientOrderID, "symbol", req.Symbol, "side", req.Side, "qty", req.Volume.String(), "fill", fill)
	return OrderResult{Success: true, OrderID: id}, nil
}

func (p *Paper) Positions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for symbol := range p.series {
		p.advance(symbol)
	}
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos.Position)
	}
	return out, nil
}

func (p *Paper) Balance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// advance seeds the series on first use and appends one bar per elapsed period.
func (p *Paper) advance(symbol string) *paperSeries {
	now := p.now().UTC().Truncate(p.period)
	s, ok := p.series[symbol]
	if !ok {
		s = &paperSeries{
			bars: md.NewRingBuffer[md.Bar](p.histLen),
			last: basePrice(symbol),
		}
		p.series[symbol] = s
		start := now.Add(-p.period * time.Duration(p.histLen-1))
		for i := 0; i < p.histLen; i++ {
			p.appendBar(symbol, s, start.Add(p.period*time.Duration(i)))
		}
		return s
	}

	newest, _ := s.bars.Newest()
	for ts := newest.Timestamp.Add(p.period); !ts.After(now); ts = ts.Add(p.period) {
		bar := p.appendBar(symbol, s, ts)
		p.settle(symbol, bar)
	}
	return s
}

func (p *Paper) appendBar(symbol string, s *paperSeries, ts time.Time) md.Bar {
	step := p.pips.For(symbol) * 5
	open := s.last
	last := math.Max(step, open+p.rng.NormFloat64()*step)
	high := math.Max(open, last) + p.rng.Float64()*step
	low := math.Min(open, last) - p.rng.Float64()*step
	bar := md.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     last,
		Volume:    float64(500 + p.rng.Intn(1000)),
	}
	s.bars.Add(bar)
	s.last = last
	return bar
}

// settle closes positions whose bracket levels were touched by bar.
func (p *Paper) settle(symbol string, bar md.Bar) {
	kept := p.positions[:0]
	for _, pos := range p.positions {
		if pos.Symbol != symbol {
			kept = append(kept, pos)
			continue
		}
		exit, closed := bracketExit(pos, bar)
		if !closed {
			kept = append(kept, pos)
			continue
		}
		pnl := (exit - pos.AvgEntry) * pos.Qty * lotUnits
		if pos.side == Sell {
			pnl = -pnl
		}
		p.balance += pnl
		slog.Info("paper position closed", "symbol", symbol, "side", pos.side, "entry", pos.AvgEntry, "exit", exit, "pnl", pnl)
	}
	p.positions = kept
}

// bracketExit checks the stop first so a bar spanning both levels books the loss.
func bracketExit(pos paperPosition, bar md.Bar) (float64, bool) {
	if pos.side == Buy {
		if pos.stopLoss > 0 && bar.Low <= pos.stopLoss {
			return pos.stopLoss, true
		}
		if pos.takeProfit > 0 && bar.High >= pos.takeProfit {
			return pos.takeProfit, true
		}
		return 0, false
	}
	if pos.stopLoss > 0 && bar.High >= pos.stopLoss {
		return pos.stopLoss, true
	}
	if pos.takeProfit > 0 && bar.Low <= pos.takeProfit {
		return pos.takeProfit, true
	}
	return 0, false
}

func basePrice(symbol string) float64 {
	upper := strings.ToUpper(symbol)
	switch {
	case strings.Contains(upper, "XAU"):
		return 2300
	case strings.Contains(upper, "BTC"):
		return 60000
	case strings.Contains(upper, "JPY"):
		return 150
	default:
		return 1.1
	}
}
