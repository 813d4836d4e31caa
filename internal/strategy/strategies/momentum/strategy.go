package momentum

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
)

// Parameter keys used in strategy.Config.Params.
const (
	ParamMomentumThreshold = "momentum_threshold"
	ParamMaxRelVolatility  = "max_rel_volatility"
	ParamLookbackTicks     = "lookback_ticks"
	ParamCooldownSeconds   = "cooldown_seconds"
	ParamDurationTicks     = "duration_ticks"
)

// Default parameter values.
const (
	DefaultMomentumThreshold = 2e-4
	DefaultMaxRelVolatility  = 5e-3
	DefaultLookbackTicks     = 10
	DefaultCooldownSeconds   = 30
	DefaultDurationTicks     = 5
)

// Name is the strategy's display name.
const Name = "Momentum"

// SimpleMomentum trades in the direction of a strong short-term rate of
// change that agrees with the window trend slope.
//
// Rules:
//   - Deterministic: same inputs produce same outputs.
//   - No I/O: does not call time.Now(), network, or disk. Uses tick timestamps.
//   - All parameters come from config, not hardcoded magic numbers.
type SimpleMomentum struct {
	mu         sync.Mutex
	lastSignal map[string]time.Time

	momentumThreshold float64
	maxRelVolatility  float64
	lookback          int
	cooldown          time.Duration
	durationTicks     int
}

// New creates a SimpleMomentum strategy with parameters resolved from cfg.
func New(cfg strategy.Config) *SimpleMomentum {
	return &SimpleMomentum{
		lastSignal:        make(map[string]time.Time),
		momentumThreshold: cfg.Float(ParamMomentumThreshold, DefaultMomentumThreshold),
		maxRelVolatility:  cfg.Float(ParamMaxRelVolatility, DefaultMaxRelVolatility),
		lookback:          cfg.Int(ParamLookbackTicks, DefaultLookbackTicks),
		cooldown:          time.Duration(cfg.Float(ParamCooldownSeconds, DefaultCooldownSeconds) * float64(time.Second)),
		durationTicks:     cfg.Int(ParamDurationTicks, DefaultDurationTicks),
	}
}

func (s *SimpleMomentum) Name() string { return Name }

func (s *SimpleMomentum) DefaultDuration() (int, bus.DurationUnit) {
	return s.durationTicks, bus.UnitTicks
}

func (s *SimpleMomentum) Profile() strategy.Profile {
	return strategy.Profile{
		PreferredRegimes: []market.Regime{market.RegimeTrendingUp, market.RegimeTrendingDown},
		AvoidRegimes:     []market.Regime{market.RegimeVolatileChoppy, market.RegimeRangingLowVol},
		MinHeat:          35,
		RegimeBias:       15,
		FitBias:          10,
	}
}

func (s *SimpleMomentum) PreferredRegimes() []market.Regime { return s.Profile().PreferredRegimes }

// Evaluate runs the momentum decision logic for the tick's symbol.
func (s *SimpleMomentum) Evaluate(in strategy.Input) strategy.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol := in.Tick.Symbol
	if in.Context == nil {
		return strategy.NoSignal(Name, "no context")
	}
	quotes := in.Context.LastQuotes(s.lookback + 1)
	if len(quotes) < s.lookback+1 || quotes[0] <= 0 {
		return strategy.NoSignal(Name, "warming up")
	}

	now := in.Tick.Time
	if last, ok := s.lastSignal[symbol]; ok && now.Sub(last) < s.cooldown {
		return strategy.NoSignal(Name, "cooldown")
	}

	last := quotes[len(quotes)-1]
	if s.maxRelVolatility > 0 && in.Diagnostics.Volatility/last >= s.maxRelVolatility {
		return strategy.NoSignal(Name, "volatility too high")
	}

	roc := (last - quotes[0]) / quotes[0]
	slope := in.Diagnostics.TrendSlope

	var sig strategy.Signal
	switch {
	case roc > s.momentumThreshold && slope > 0:
		sig = strategy.SignalBuy
	case roc < -s.momentumThreshold && slope < 0:
		sig = strategy.SignalSell
	default:
		return strategy.NoSignal(Name, "no momentum")
	}

	s.lastSignal[symbol] = now

	strength := math.Abs(roc) / s.momentumThreshold
	return strategy.Decision{
		StrategyName: Name,
		Signal:       sig,
		Confidence:   math.Min(0.5+0.1*strength, 0.95),
		Duration:     s.durationTicks,
		DurationUnit: bus.UnitTicks,
		Reason:       fmt.Sprintf("roc=%.5f", roc),
	}
}

// Reset clears the cooldown for symbol.
func (s *SimpleMomentum) Reset(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastSignal, symbol)
}
