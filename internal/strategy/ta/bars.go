// Package ta holds the technical-analysis primitives shared by strategies:
// bar aggregation, moving averages, ATR and pivots.
package ta

import (
	"math"
	"time"
)

// Bar is one OHLC candle.
type Bar struct {
	Start time.Time `json:"start"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
	Ticks int       `json:"ticks"`
}

func (b Bar) Range() float64      { return b.High - b.Low }
func (b Bar) Body() float64       { return math.Abs(b.Close - b.Open) }
func (b Bar) Bullish() bool       { return b.Close > b.Open }
func (b Bar) Bearish() bool       { return b.Close < b.Open }
func (b Bar) BodyTop() float64    { return math.Max(b.Open, b.Close) }
func (b Bar) BodyBottom() float64 { return math.Min(b.Open, b.Close) }
func (b Bar) UpperWick() float64  { return b.High - b.BodyTop() }
func (b Bar) LowerWick() float64  { return b.BodyBottom() - b.Low }

func newBar(start time.Time, price float64) Bar {
	return Bar{Start: start, Open: price, High: price, Low: price, Close: price, Ticks: 1}
}

func (b *Bar) add(price float64) {
	b.High = math.Max(b.High, price)
	b.Low = math.Min(b.Low, price)
	b.Close = price
	b.Ticks++
}

// DefaultMaxBars bounds the closed-bar history of an aggregator.
const DefaultMaxBars = 300

// Aggregator builds bars from ticks. Bars close either on a time boundary
// (period > 0) or after a fixed tick count (ticksPerBar > 0).
type Aggregator struct {
	period      time.Duration
	ticksPerBar int
	maxBars     int
	bars        []Bar
	current     *Bar
	closedCount int
}

// NewTimeAggregator closes a bar whenever a tick falls in a new period.
func NewTimeAggregator(period time.Duration, maxBars int) *Aggregator {
	if period <= 0 {
		period = time.Minute
	}
	return &Aggregator{period: period, maxBars: boundMax(maxBars)}
}

// NewTickAggregator closes a bar every n ticks.
func NewTickAggregator(n, maxBars int) *Aggregator {
	if n < 1 {
		n = 1
	}
	return &Aggregator{ticksPerBar: n, maxBars: boundMax(maxBars)}
}

func boundMax(n int) int {
	if n < 10 {
		return DefaultMaxBars
	}
	return n
}

// Add feeds one tick and reports whether it closed a bar. The closing tick
// opens the next bar.
func (a *Aggregator) Add(t time.Time, price float64) bool {
	if a.current == nil {
		b := newBar(a.bucket(t), price)
		a.current = &b
		return a.ticksPerBar == 1 && a.closeCurrent(nil)
	}

	if a.period > 0 {
		start := a.bucket(t)
		if start.After(a.current.Start) {
			next := newBar(start, price)
			return a.closeCurrent(&next)
		}
		a.current.add(price)
		return false
	}

	a.current.add(price)
	if a.current.Ticks >= a.ticksPerBar {
		return a.closeCurrent(nil)
	}
	return false
}

func (a *Aggregator) bucket(t time.Time) time.Time {
	if a.period > 0 {
		return t.Truncate(a.period)
	}
	return t
}

func (a *Aggregator) closeCurrent(next *Bar) bool {
	a.bars = append(a.bars, *a.current)
	if len(a.bars) > a.maxBars {
		a.bars = append(a.bars[:0], a.bars[len(a.bars)-a.maxBars:]...)
	}
	a.closedCount++
	a.current = next
	return true
}

// Bars returns the closed bars, oldest first. The slice is shared; callers
// must not modify it.
func (a *Aggregator) Bars() []Bar { return a.bars }

// Current returns the forming bar.
func (a *Aggregator) Current() (Bar, bool) {
	if a.current == nil {
		return Bar{}, false
	}
	return *a.current, true
}

// Last returns the most recent closed bar.
func (a *Aggregator) Last() (Bar, bool) {
	if len(a.bars) == 0 {
		return Bar{}, false
	}
	return a.bars[len(a.bars)-1], true
}

// ClosedCount is the number of bars closed since creation, including
// those evicted from history. It serves as a monotonically increasing bar
// index.
func (a *Aggregator) ClosedCount() int { return a.closedCount }

// Closes returns the close prices of the closed bars.
func (a *Aggregator) Closes() []float64 {
	out := make([]float64, len(a.bars))
	for i, b := range a.bars {
		out[i] = b.Close
	}
	return out
}

// BarsFromQuotes groups quotes into bars of n consecutive quotes, aligned so
// that the last bar ends on the last quote. A leading remainder is dropped.
func BarsFromQuotes(quotes []float64, n int) []Bar {
	if n < 1 || len(quotes) < n {
		return nil
	}
	start := len(quotes) % n
	out := make([]Bar, 0, len(quotes)/n)
	for i := start; i+n <= len(quotes); i += n {
		b := newBar(time.Time{}, quotes[i])
		for _, q := range quotes[i+1 : i+n] {
			b.add(q)
		}
		out = append(out, b)
	}
	return out
}
