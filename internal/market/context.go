package market

import (
	"math"

	"github.com/nexus-trading/pulse/internal/bus"
)

// DefaultCapacity is the number of ticks a RollingContext keeps by default.
const DefaultCapacity = 200

// RollingContext holds a bounded, time-ordered tick history for one symbol
// and derives window statistics from it. It is not safe for concurrent use;
// the owner serializes access.
type RollingContext struct {
	symbol   string
	capacity int
	ticks    []bus.Tick // ring buffer
	head     int        // next write position
	count    int
}

// NewRollingContext creates a context for symbol. A capacity below 2 falls
// back to DefaultCapacity.
func NewRollingContext(symbol string, capacity int) *RollingContext {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &RollingContext{
		symbol:   symbol,
		capacity: capacity,
		ticks:    make([]bus.Tick, capacity),
	}
}

func (c *RollingContext) Symbol() string { return c.symbol }
func (c *RollingContext) Capacity() int  { return c.capacity }
func (c *RollingContext) Len() int       { return c.count }

// AddTick appends a tick, evicting the oldest one once the buffer is full.
func (c *RollingContext) AddTick(t bus.Tick) {
	c.ticks[c.head] = t
	c.head = (c.head + 1) % c.capacity
	if c.count < c.capacity {
		c.count++
	}
}

// LastTick returns the most recent tick.
func (c *RollingContext) LastTick() (bus.Tick, bool) {
	if c.count == 0 {
		return bus.Tick{}, false
	}
	return c.ticks[(c.head-1+c.capacity)%c.capacity], true
}

// LastTicks returns up to n most recent ticks, oldest first.
func (c *RollingContext) LastTicks(n int) []bus.Tick {
	if n > c.count {
		n = c.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]bus.Tick, n)
	start := (c.head - n + c.capacity) % c.capacity
	for i := 0; i < n; i++ {
		out[i] = c.ticks[(start+i)%c.capacity]
	}
	return out
}

// LastQuotes returns up to n most recent quotes, oldest first. It returns
// fewer than n when history is short and never fails.
func (c *RollingContext) LastQuotes(n int) []float64 {
	if n > c.count {
		n = c.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	start := (c.head - n + c.capacity) % c.capacity
	for i := 0; i < n; i++ {
		out[i] = c.ticks[(start+i)%c.capacity].Quote
	}
	return out
}

// SMA is the simple moving average of the last n quotes.
func (c *RollingContext) SMA(n int) (float64, bool) {
	q := c.LastQuotes(n)
	if len(q) < 2 {
		return 0, false
	}
	return Mean(q), true
}

// StdDev is the population standard deviation of the last n quotes.
func (c *RollingContext) StdDev(n int) (float64, bool) {
	q := c.LastQuotes(n)
	if len(q) < 2 {
		return 0, false
	}
	return StdDev(q), true
}

// TrendSlope is the least-squares slope of the last n quotes against their
// index 0..n-1.
func (c *RollingContext) TrendSlope(n int) (float64, bool) {
	q := c.LastQuotes(n)
	if len(q) < 2 {
		return 0, false
	}
	return Slope(q), true
}

// Reset drops all history.
func (c *RollingContext) Reset() {
	c.head = 0
	c.count = 0
}

// --- Series helpers ---

// Mean returns the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Slope returns the OLS slope of xs regressed on 0..len-1.
func Slope(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range xs {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

// Range returns max-min of xs.
func Range(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return hi - lo
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
