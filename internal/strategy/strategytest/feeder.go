// Package strategytest provides helpers for driving strategies with
// synthetic tick series in tests.
package strategytest

import (
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
)

// Start is the default first tick time.
var Start = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// Feeder turns quotes into strategy inputs for one symbol, maintaining a
// rolling context and baseline diagnostics the way the engine does.
type Feeder struct {
	Symbol string
	Ctx    *market.RollingContext
	Now    time.Time
	Step   time.Duration
	cfg    market.AnalysisConfig
}

// NewFeeder creates a feeder whose ticks are step apart.
func NewFeeder(symbol string, step time.Duration) *Feeder {
	return &Feeder{
		Symbol: symbol,
		Ctx:    market.NewRollingContext(symbol, market.DefaultCapacity),
		Now:    Start,
		Step:   step,
		cfg:    market.DefaultAnalysisConfig(),
	}
}

// Next appends one quote and returns the resulting input.
func (f *Feeder) Next(q float64) strategy.Input {
	tick := bus.Tick{Symbol: f.Symbol, Quote: q, Time: f.Now}
	f.Now = f.Now.Add(f.Step)
	f.Ctx.AddTick(tick)
	diag := f.Ctx.AnalyzeRegime(f.cfg)
	return strategy.Input{Tick: tick, Context: f.Ctx, Diagnostics: diag, Heat: market.Heat(diag)}
}

// Run feeds quotes through s and returns every trade decision.
func (f *Feeder) Run(s strategy.Strategy, quotes []float64) []strategy.Decision {
	var out []strategy.Decision
	for _, q := range quotes {
		if d := s.Evaluate(f.Next(q)); d.IsTrade() {
			out = append(out, d)
		}
	}
	return out
}

// Linear returns n quotes from start moving by step each tick.
func Linear(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Repeat returns n copies of q.
func Repeat(q float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = q
	}
	return out
}

// Concat joins quote series.
func Concat(series ...[]float64) []float64 {
	var out []float64
	for _, s := range series {
		out = append(out, s...)
	}
	return out
}
