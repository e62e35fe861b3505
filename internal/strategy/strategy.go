// Package strategy scores long and short entries from recent bars and picks a side.
package strategy

import "time"

type Action string

const (
	Hold Action = "HOLD"
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

const (
	BaseProbability = 50.0
	MinScore        = 5.0
	MaxScore        = 95.0
	TrendAgreeBonus = 15.0
	TrendPenalty    = 10.0
	LevelBias       = 10.0
	PriceActionBias = 5.0
	VolumeBias      = 5.0
	VolumeSurge     = 1.2
)

type Params struct {
	FastWindow     int
	SlowWindow     int
	TrendBars      int
	LevelBars      int
	VolumeBars     int
	BarPeriod      time.Duration
	MinProbability float64
	Margin         float64
}

func DefaultParams() Params {
	return Params{
		FastWindow:     14,
		SlowWindow:     50,
		TrendBars:      200,
		LevelBars:      50,
		VolumeBars:     11,
		BarPeriod:      time.Minute,
		MinProbability: 65,
		Margin:         10,
	}
}

// TradeIntent is the side picked for a symbol along with both scores.
type TradeIntent struct {
	Action Action
	Buy    Score
	Sell   Score
	Reason string
}

// Decide picks the stronger side when it beats the other by more than the margin
// and clears the minimum probability on its own.
func Decide(buy, sell float64, p Params) Action {
	if buy > sell+p.Margin && buy >= p.MinProbability {
		return Buy
	}
	if sell > buy+p.Margin && sell >= p.MinProbability {
		return Sell
	}
	return Hold
}
