// Package priceaction reads engulfing and pin-bar patterns off micro-bars
// built from the most recent quotes.
package priceaction

import (
	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/strategy/ta"
)

const (
	ParamTicksPerBar   = "ticks_per_bar"
	ParamPinWickBody   = "pin_wick_body"
	ParamPinWickRange  = "pin_wick_range"
	ParamDurationTicks = "duration_ticks"
)

const (
	DefaultTicksPerBar   = 5
	DefaultPinWickBody   = 2.0
	DefaultPinWickRange  = 0.6
	DefaultDurationTicks = 5
)

const Name = "AdvancedPriceAction"

// Pattern is a recognized two-bar or single-bar formation.
type Pattern string

const (
	PatternNone             Pattern = ""
	PatternBullishEngulfing Pattern = "bullish_engulfing"
	PatternBearishEngulfing Pattern = "bearish_engulfing"
	PatternBullishPin       Pattern = "bullish_pin"
	PatternBearishPin       Pattern = "bearish_pin"
)

type PriceAction struct {
	ticksPerBar   int
	pinWickBody   float64
	pinWickRange  float64
	durationTicks int
}

func New(cfg strategy.Config) *PriceAction {
	return &PriceAction{
		ticksPerBar:   cfg.Int(ParamTicksPerBar, DefaultTicksPerBar),
		pinWickBody:   cfg.Float(ParamPinWickBody, DefaultPinWickBody),
		pinWickRange:  cfg.Float(ParamPinWickRange, DefaultPinWickRange),
		durationTicks: cfg.Int(ParamDurationTicks, DefaultDurationTicks),
	}
}

func (s *PriceAction) Name() string { return Name }

func (s *PriceAction) DefaultDuration() (int, bus.DurationUnit) {
	return s.durationTicks, bus.UnitTicks
}

func (s *PriceAction) Profile() strategy.Profile {
	return strategy.Profile{
		AvoidRegimes: []market.Regime{market.RegimeVolatileChoppy},
		MinHeat:      15,
		RegimeBias:   5,
		FitBias:      5,
	}
}

// Detect classifies the last two bars. Engulfing takes precedence over pins.
func (s *PriceAction) Detect(bars []ta.Bar) Pattern {
	if len(bars) < 2 {
		return PatternNone
	}
	prev, last := bars[len(bars)-2], bars[len(bars)-1]

	switch {
	case prev.Bearish() && last.Bullish() && last.Open <= prev.Close && last.Close > prev.Open:
		return PatternBullishEngulfing
	case prev.Bullish() && last.Bearish() && last.Open >= prev.Close && last.Close < prev.Open:
		return PatternBearishEngulfing
	}

	rng := last.Range()
	if rng <= 0 {
		return PatternNone
	}
	body := last.Body()
	switch {
	case last.LowerWick() >= s.pinWickBody*body && last.LowerWick() >= s.pinWickRange*rng:
		return PatternBullishPin
	case last.UpperWick() >= s.pinWickBody*body && last.UpperWick() >= s.pinWickRange*rng:
		return PatternBearishPin
	}
	return PatternNone
}

func (s *PriceAction) Evaluate(in strategy.Input) strategy.Decision {
	if in.Context == nil {
		return strategy.NoSignal(Name, "no context")
	}
	quotes := in.Context.LastQuotes(2 * s.ticksPerBar)
	if len(quotes) < 2*s.ticksPerBar {
		return strategy.NoSignal(Name, "warming up")
	}

	p := s.Detect(ta.BarsFromQuotes(quotes, s.ticksPerBar))
	d := strategy.Decision{
		StrategyName: Name,
		Duration:     s.durationTicks,
		DurationUnit: bus.UnitTicks,
		Reason:       string(p),
	}
	switch p {
	case PatternBullishEngulfing:
		d.Signal, d.Confidence = strategy.SignalBuy, 0.65
	case PatternBearishEngulfing:
		d.Signal, d.Confidence = strategy.SignalSell, 0.65
	case PatternBullishPin:
		d.Signal, d.Confidence = strategy.SignalBuy, 0.6
	case PatternBearishPin:
		d.Signal, d.Confidence = strategy.SignalSell, 0.6
	default:
		return strategy.NoSignal(Name, "no pattern")
	}
	return d
}
