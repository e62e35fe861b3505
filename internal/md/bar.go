// Package md holds the market data shapes shared by the broker adapters and the scoring code.
package md

import (
	"errors"
	"time"
)

// Bar is one OHLCV candle. History slices are always ordered oldest first.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Quote is a point-in-time price for a symbol.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Mid    float64
	Volume float64
	Time   time.Time
}

func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

var ErrInsufficientData = errors.New("not enough data for SMA")

func Closes(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	return closes
}

// SMA averages the last window values. It fails when fewer than window values exist.
func SMA(values []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}
	if len(values) < window {
		return 0, ErrInsufficientData
	}
	start := len(values) - window
	sum := 0.0
	for _, v := range values[start:] {
		sum += v
	}
	return sum / float64(window), nil
}
