package strategy

import (
	"math"

	"fxbot/internal/md"
)

// Score is a bounded confidence for one direction plus the parts it was built from.
type Score struct {
	Total       float64 `json:"total"`
	Trend       int     `json:"trend"`
	Levels      float64 `json:"levels"`
	PriceAction float64 `json:"price_action"`
	Volume      float64 `json:"volume"`
}

// Trend compares fast and slow moving averages on the latest close and on the one
// before it. Only a cross held on both yields a direction.
func Trend(closes []float64, fast, slow int) int {
	fastNow, err := md.SMA(closes, fast)
	if err != nil {
		return 0
	}
	slowNow, err := md.SMA(closes, slow)
	if err != nil {
		return 0
	}
	fastPrev, slowPrev := fastNow, slowNow
	if len(closes) > 1 {
		prior := closes[:len(closes)-1]
		if fastPrev, err = md.SMA(prior, fast); err != nil {
			return 0
		}
		if slowPrev, err = md.SMA(prior, slow); err != nil {
			return 0
		}
	}
	switch {
	case fastNow > slowNow && fastPrev > slowPrev:
		return 1
	case fastNow < slowNow && fastPrev < slowPrev:
		return -1
	default:
		return 0
	}
}

// SupportResistance rewards entries near the level that backs the trade and
// penalises entries pressed against the opposing one.
func SupportResistance(bars []md.Bar, mid float64, isBuy bool) float64 {
	if len(bars) == 0 {
		return 0
	}
	high, low := bars[0].High, bars[0].Low
	for _, bar := range bars[1:] {
		high = math.Max(high, bar.High)
		low = math.Min(low, bar.Low)
	}
	toResistance := high - mid
	toSupport := mid - low

	near, far := toSupport, toResistance
	if !isBuy {
		near, far = toResistance, toSupport
	}
	switch {
	case near < far*0.5:
		return LevelBias
	case near > far*2:
		return -LevelBias
	default:
		return 0
	}
}

func PriceAction(bars []md.Bar, isBuy bool) float64 {
	if len(bars) == 0 {
		return 0
	}
	last := bars[len(bars)-1]
	if isBuy && last.Close > last.Open {
		return PriceActionBias
	}
	if !isBuy && last.Close < last.Open {
		return PriceActionBias
	}
	return 0
}

// Volume flags a surge of the newest bar over the mean of the bars before it.
func Volume(bars []md.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	current := bars[len(bars)-1].Volume
	sum := 0.0
	for _, bar := range bars[:len(bars)-1] {
		sum += bar.Volume
	}
	avg := sum / float64(len(bars)-1)
	if avg == 0 {
		return 0
	}
	if current > avg*VolumeSurge {
		return VolumeBias
	}
	return 0
}

func Probability(trend int, isBuy bool, levels, priceAction, volume float64) Score {
	total := BaseProbability
	if (isBuy && trend > 0) || (!isBuy && trend < 0) {
		total += TrendAgreeBonus
	} else {
		total -= TrendPenalty
	}
	total += levels + priceAction + volume
	return Score{
		Total:       Clamp(total),
		Trend:       trend,
		Levels:      levels,
		PriceAction: priceAction,
		Volume:      volume,
	}
}

// Clamp bounds v to [MinScore, MaxScore]. NaN maps to MinScore.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}
