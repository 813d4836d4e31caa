package rangetrading

import (
	"fmt"
	"math"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
)

// Parameter keys used in strategy.Config.Params.
const (
	ParamWindow        = "window"
	ParamEntryZ        = "entry_z"
	ParamDurationTicks = "duration_ticks"
)

// Default parameter values.
const (
	DefaultWindow        = 30
	DefaultEntryZ        = 2.0
	DefaultDurationTicks = 5
)

const Name = "RangeTrading"

// MeanReversion fades stretched quotes back toward the window mean: a
// z-score above +EntryZ sells, below -EntryZ buys.
//
// Rules:
//   - Stateless: reads only the rolling context.
//   - A flat window (zero deviation) never trades.
type MeanReversion struct {
	window        int
	entryZ        float64
	durationTicks int
}

// New creates the strategy with parameters resolved from cfg.
func New(cfg strategy.Config) *MeanReversion {
	return &MeanReversion{
		window:        cfg.Int(ParamWindow, DefaultWindow),
		entryZ:        cfg.Float(ParamEntryZ, DefaultEntryZ),
		durationTicks: cfg.Int(ParamDurationTicks, DefaultDurationTicks),
	}
}

func (s *MeanReversion) Name() string { return Name }

func (s *MeanReversion) DefaultDuration() (int, bus.DurationUnit) {
	return s.durationTicks, bus.UnitTicks
}

func (s *MeanReversion) Profile() strategy.Profile {
	return strategy.Profile{
		PreferredRegimes: []market.Regime{market.RegimeRangingLowVol, market.RegimeRangingHighVol},
		AvoidRegimes:     []market.Regime{market.RegimeTrendingUp, market.RegimeTrendingDown},
		MaxHeat:          70,
		RegimeBias:       12,
		FitBias:          10,
	}
}

func (s *MeanReversion) PreferredRegimes() []market.Regime { return s.Profile().PreferredRegimes }

func (s *MeanReversion) Evaluate(in strategy.Input) strategy.Decision {
	if in.Context == nil {
		return strategy.NoSignal(Name, "no context")
	}
	quotes := in.Context.LastQuotes(s.window)
	if len(quotes) < s.window {
		return strategy.NoSignal(Name, "warming up")
	}
	std := market.StdDev(quotes)
	if std <= 0 {
		return strategy.NoSignal(Name, "flat window")
	}

	z := (quotes[len(quotes)-1] - market.Mean(quotes)) / std
	var sig strategy.Signal
	switch {
	case z >= s.entryZ:
		sig = strategy.SignalSell
	case z <= -s.entryZ:
		sig = strategy.SignalBuy
	default:
		return strategy.NoSignal(Name, "inside band")
	}

	return strategy.Decision{
		StrategyName: Name,
		Signal:       sig,
		Confidence:   math.Min(0.55+0.1*(math.Abs(z)-s.entryZ), 0.85),
		Duration:     s.durationTicks,
		DurationUnit: bus.UnitTicks,
		Reason:       fmt.Sprintf("z=%.2f", z),
	}
}
