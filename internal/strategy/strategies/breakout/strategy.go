package breakout

import (
	"fmt"
	"math"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
)

const (
	ParamWindow        = "window"
	ParamBufferStd     = "buffer_std"
	ParamDurationTicks = "duration_ticks"
)

const (
	DefaultWindow        = 30
	DefaultBufferStd     = 0.25
	DefaultDurationTicks = 5
)

const Name = "Breakout"

// RangeBreakout trades the current quote leaving the high/low of the
// preceding window by more than a fraction of its standard deviation.
type RangeBreakout struct {
	window        int
	bufferStd     float64
	durationTicks int
}

func New(cfg strategy.Config) *RangeBreakout {
	return &RangeBreakout{
		window:        cfg.Int(ParamWindow, DefaultWindow),
		bufferStd:     cfg.Float(ParamBufferStd, DefaultBufferStd),
		durationTicks: cfg.Int(ParamDurationTicks, DefaultDurationTicks),
	}
}

func (s *RangeBreakout) Name() string { return Name }

func (s *RangeBreakout) DefaultDuration() (int, bus.DurationUnit) {
	return s.durationTicks, bus.UnitTicks
}

func (s *RangeBreakout) Profile() strategy.Profile {
	return strategy.Profile{
		PreferredRegimes: []market.Regime{market.RegimeTrendingUp, market.RegimeTrendingDown, market.RegimeRangingHighVol},
		AvoidRegimes:     []market.Regime{market.RegimeRangingLowVol},
		MinHeat:          40,
		RegimeBias:       10,
		FitBias:          8,
	}
}

func (s *RangeBreakout) PreferredRegimes() []market.Regime { return s.Profile().PreferredRegimes }

func (s *RangeBreakout) Evaluate(in strategy.Input) strategy.Decision {
	if in.Context == nil {
		return strategy.NoSignal(Name, "no context")
	}
	quotes := in.Context.LastQuotes(s.window + 1)
	if len(quotes) < s.window+1 {
		return strategy.NoSignal(Name, "warming up")
	}

	prior, last := quotes[:s.window], quotes[s.window]
	hi, lo := prior[0], prior[0]
	for _, q := range prior[1:] {
		hi = math.Max(hi, q)
		lo = math.Min(lo, q)
	}
	std := market.StdDev(prior)
	buf := s.bufferStd * std

	var sig strategy.Signal
	var excess float64
	switch {
	case last > hi+buf:
		sig, excess = strategy.SignalBuy, last-hi
	case last < lo-buf:
		sig, excess = strategy.SignalSell, lo-last
	default:
		return strategy.NoSignal(Name, "inside range")
	}

	conf := 0.6
	if std > 0 {
		conf += math.Min(0.1*excess/std, 0.25)
	}
	return strategy.Decision{
		StrategyName: Name,
		Signal:       sig,
		Confidence:   conf,
		Duration:     s.durationTicks,
		DurationUnit: bus.UnitTicks,
		Reason:       fmt.Sprintf("range %.5f-%.5f", lo, hi),
	}
}
