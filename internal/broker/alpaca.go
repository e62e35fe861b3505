package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fxbot/internal/md"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

type AlpacaOpts struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
	Tag       string
	PipValues PipValues
}

// Alpaca talks to the Alpaca trading and market data APIs. Alpaca positions carry
// no client tag, so every position in the account is reported under the
// configured tag; run the bot against a dedicated account.
type Alpaca struct {
	trading *alpaca.Client
	data    *marketdata.Client
	feed    marketdata.Feed
	tag     string
	pips    PipValues
}

func NewAlpaca(opts AlpacaOpts) *Alpaca {
	return &Alpaca{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
		}),
		feed: parseFeed(opts.Feed),
		tag:  opts.Tag,
		pips: opts.PipValues,
	}
}

func (a *Alpaca) Quote(ctx context.Context, symbol string) (md.Quote, error) {
	q, err := a.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{Feed: a.feed})
	if err != nil {
		slog.Error("fetch quote failed", "symbol", symbol, "error", err)
		return md.Quote{}, fmt.Errorf("latest quote %s: %w", symbol, err)
	}
	return md.Quote{
		Symbol: symbol,
		Bid:    q.BidPrice,
		Ask:    q.AskPrice,
		Mid:    (q.BidPrice + q.AskPrice) / 2,
		Volume: float64(q.BidSize) + float64(q.AskSize),
		Time:   q.Timestamp,
	}, nil
}

// History requests a window wide enough to cover market gaps and keeps the newest count bars.
func (a *Alpaca) History(ctx context.Context, symbol string, timeframe time.Duration, count int) ([]md.Bar, error) {
	if count <= 0 {
		return nil, nil
	}
	end := time.Now().UTC()
	start := end.Add(-timeframe * time.Duration(count) * 4)
	bars, err := a.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: toTimeFrame(timeframe),
		Feed:      a.feed,
		Start:     start,
		End:       end,
	})
	if err != nil {
		slog.Error("fetch bars failed", "symbol", symbol, "count", count, "error", err)
		return nil, fmt.Errorf("bars %s: %w", symbol, err)
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]md.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, md.Bar{
			Symbol:    symbol,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	return out, nil
}

func (a *Alpaca) PipValue(symbol string) float64 {
	return a.pips.For(symbol)
}

// PlaceOrder submits a bracket market order. 403 and 422 responses are venue
// rejections and come back as an unsuccessful result rather than an error.
func (a *Alpaca) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	qty := req.Volume
	// Alpaca rejects sub-penny prices on bracket legs.
	stopPrice := req.StopLoss.Round(2)
	limitPrice := req.TakeProfit.Round(2)
	side := alpaca.Buy
	if req.Side == Sell {
		side = alpaca.Sell
	}

	order, err := a.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: req.ClientOrderID,
		OrderClass:    alpaca.Bracket,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: &limitPrice},
		StopLoss:      &alpaca.StopLoss{StopPrice: &stopPrice},
	})
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusUnprocessableEntity) {
			slog.Warn("place order rejected", "side", req.Side, "symbol", req.Symbol, "qty", req.Volume.String(), "status", apiErr.StatusCode, "message", apiErr.Message)
			return OrderResult{Success: false, Message: apiErr.Message}, nil
		}
		slog.Error("place order failed", "side", req.Side, "symbol", req.Symbol, "qty", req.Volume.String(), "error", err)
		return OrderResult{}, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}

	slog.Info("place order success", "order_id", order.ID, "client_order_id", order.ClientOrderID, "side", req.Side, "symbol", req.Symbol, "qty", req.Volume.String(), "status", order.Status)
	return OrderResult{Success: true, OrderID: order.ID}, nil
}

func (a *Alpaca) Positions(ctx context.Context) ([]Position, error) {
	positions, err := a.trading.GetPositions()
	if err != nil {
		slog.Error("fetch positions failed", "error", err)
		return nil, fmt.Errorf("positions: %w", err)
	}
	out := make([]Position, 0, len(positions))
	for _, p := range positions {
		qty, _ := p.Qty.Float64()
		avgEntry, _ := p.AvgEntryPrice.Float64()
		out = append(out, Position{
			Symbol:   p.Symbol,
			Tag:      a.tag,
			Qty:      qty,
			AvgEntry: avgEntry,
		})
	}
	slog.Debug("positions fetched", "count", len(out))
	return out, nil
}

func (a *Alpaca) Balance(ctx context.Context) (float64, error) {
	acct, err := a.trading.GetAccount()
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return 0, fmt.Errorf("account: %w", err)
	}
	equity, _ := acct.Equity.Float64()
	slog.Debug("account fetched", "equity", equity)
	return equity, nil
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}

func toTimeFrame(d time.Duration) marketdata.TimeFrame {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(d/(24*time.Hour)), marketdata.Day)
	case d >= time.Hour && d%time.Hour == 0:
		return marketdata.NewTimeFrame(int(d/time.Hour), marketdata.Hour)
	case d >= time.Minute:
		return marketdata.NewTimeFrame(int(d/time.Minute), marketdata.Min)
	default:
		return marketdata.OneMin
	}
}
