// Package state tracks per-symbol trading activity for the loop: when each symbol
// last traded and how many trades it opened on the current UTC day.
package state

import (
	"sync"
	"time"
)

type TradeState struct {
	LastTradeTime time.Time
	TradesToday   int
}

// Tracker owns every symbol's TradeState plus the process-wide day marker.
// Construct one per engine; instances share nothing.
type Tracker struct {
	mu      sync.RWMutex
	symbols map[string]TradeState
	lastDay time.Time
}

func NewTracker(symbols []string, now time.Time) *Tracker {
	states := make(map[string]TradeState, len(symbols))
	for _, symbol := range symbols {
		states[symbol] = TradeState{}
	}
	return &Tracker{
		symbols: states,
		lastDay: utcDay(now),
	}
}

// Rollover zeroes every daily counter when now falls on a later UTC date than the
// last one checked. It returns true only on the call that performed the reset.
func (t *Tracker) Rollover(now time.Time) bool {
	day := utcDay(now)
	t.mu.Lock()
	defer t.mu.Unlock()
	if day.Equal(t.lastDay) {
		return false
	}
	t.lastDay = day
	for symbol, st := range t.symbols {
		st.TradesToday = 0
		t.symbols[symbol] = st
	}
	return true
}

// RecordTrade must only be called for orders the venue confirmed.
func (t *Tracker) RecordTrade(symbol string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.symbols[symbol]
	st.LastTradeTime = at.UTC()
	st.TradesToday++
	t.symbols[symbol] = st
}

func (t *Tracker) Get(symbol string) TradeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.symbols[symbol]
}

func (t *Tracker) LastDay() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastDay
}

func (t *Tracker) Snapshot() map[string]TradeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]TradeState, len(t.symbols))
	for k, v := range t.symbols {
		out[k] = v
	}
	return out
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
