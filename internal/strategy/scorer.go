package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"fxbot/internal/broker"
	"fxbot/internal/md"
)

// Scorer fetches the bars each signal needs and combines them into a Score.
type Scorer struct {
	data   broker.MarketData
	params Params
}

func NewScorer(data broker.MarketData, params Params) *Scorer {
	return &Scorer{data: data, params: params}
}

func (s *Scorer) Params() Params {
	return s.params
}

func (s *Scorer) TrendStrength(ctx context.Context, symbol string) (int, error) {
	bars, err := s.data.History(ctx, symbol, s.params.BarPeriod, s.params.TrendBars)
	if err != nil {
		return 0, fmt.Errorf("trend history %s: %w", symbol, err)
	}
	return Trend(md.Closes(bars), s.params.FastWindow, s.params.SlowWindow), nil
}

func (s *Scorer) SupportResistanceBias(ctx context.Context, symbol string, isBuy bool) (float64, error) {
	bars, err := s.data.History(ctx, symbol, s.params.BarPeriod, s.params.LevelBars)
	if err != nil {
		return 0, fmt.Errorf("level history %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return 0, nil
	}
	quote, err := s.data.Quote(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("level quote %s: %w", symbol, err)
	}
	return SupportResistance(bars, quote.Mid, isBuy), nil
}

func (s *Scorer) PriceActionBias(ctx context.Context, symbol string, isBuy bool) (float64, error) {
	bars, err := s.data.History(ctx, symbol, s.params.BarPeriod, 1)
	if err != nil {
		return 0, fmt.Errorf("price action history %s: %w", symbol, err)
	}
	return PriceAction(bars, isBuy), nil
}

func (s *Scorer) VolumeBias(ctx context.Context, symbol string) (float64, error) {
	bars, err := s.data.History(ctx, symbol, s.params.BarPeriod, s.params.VolumeBars)
	if err != nil {
		return 0, fmt.Errorf("volume history %s: %w", symbol, err)
	}
	return Volume(bars), nil
}

func (s *Scorer) TradeProbability(ctx context.Context, symbol string, isBuy bool) (Score, error) {
	trend, err := s.TrendStrength(ctx, symbol)
	if err != nil {
		return Score{}, err
	}
	levels, err := s.SupportResistanceBias(ctx, symbol, isBuy)
	if err != nil {
		return Score{}, err
	}
	action, err := s.PriceActionBias(ctx, symbol, isBuy)
	if err != nil {
		return Score{}, err
	}
	volume, err := s.VolumeBias(ctx, symbol)
	if err != nil {
		return Score{}, err
	}
	score := Probability(trend, isBuy, levels, action, volume)
	slog.Debug("trade probability", "symbol", symbol, "buy", isBuy, "total", score.Total, "trend", trend, "levels", levels, "price_action", action, "volume", volume)
	return score, nil
}

// Evaluate scores both sides and applies Decide.
func (s *Scorer) Evaluate(ctx context.Context, symbol string) (TradeIntent, error) {
	buy, err := s.TradeProbability(ctx, symbol, true)
	if err != nil {
		return TradeIntent{}, err
	}
	sell, err := s.TradeProbability(ctx, symbol, false)
	if err != nil {
		return TradeIntent{}, err
	}
	action := Decide(buy.Total, sell.Total, s.params)
	reason := "no_signal"
	switch action {
	case Buy:
		reason = "buy_edge"
	case Sell:
		reason = "sell_edge"
	}
	return TradeIntent{Action: action, Buy: buy, Sell: sell, Reason: reason}, nil
}
