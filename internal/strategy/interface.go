package strategy

import (
	"fmt"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/market"
)

// Signal is the trade direction a strategy asks for.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "none"
	}
}

// Direction maps a Signal to a contract direction. SignalNone has none.
func (s Signal) Direction() (bus.Direction, bool) {
	switch s {
	case SignalBuy:
		return bus.DirectionBuy, true
	case SignalSell:
		return bus.DirectionSell, true
	default:
		return "", false
	}
}

// Input is everything a strategy sees on one tick. Context belongs to the
// caller; strategies must not mutate it.
type Input struct {
	Tick        bus.Tick
	Context     *market.RollingContext
	Diagnostics market.Diagnostics
	Heat        float64
}

// Decision is one strategy's answer for one tick. It is created fresh per
// tick; only the selector adjusts Confidence and QualityScore afterwards.
type Decision struct {
	StrategyName    string           `json:"strategy_name"`
	Signal          Signal           `json:"signal"`
	Confidence      float64          `json:"confidence"`
	Duration        int              `json:"duration"`
	DurationUnit    bus.DurationUnit `json:"duration_unit"`
	EdgeProbability *float64         `json:"edge_probability,omitempty"`
	QualityScore    float64          `json:"quality_score"`
	Reason          string           `json:"reason,omitempty"`
}

// NoSignal returns an explicit "no trade" decision.
func NoSignal(name, reason string) Decision {
	return Decision{StrategyName: name, Signal: SignalNone, Reason: reason}
}

// IsTrade reports whether d asks for a trade.
func (d Decision) IsTrade() bool { return d.Signal != SignalNone }

func (d Decision) String() string {
	return fmt.Sprintf("%s %s conf=%.2f dur=%d%s", d.StrategyName, d.Signal, d.Confidence, d.Duration, d.DurationUnit)
}

// Strategy produces a decision from a tick.
//
// Rules:
//   - Deterministic: same inputs produce same outputs.
//   - No I/O: does not call time.Now(), network, or disk. Uses tick timestamps.
//   - Any per-symbol state is owned by the strategy and keyed by symbol.
type Strategy interface {
	Name() string
	Evaluate(in Input) Decision
}

// RegimePreferrer is implemented by strategies that only trade in some
// regimes.
type RegimePreferrer interface {
	PreferredRegimes() []market.Regime
}

// DurationProvider supplies the contract duration used when a decision
// leaves it unset.
type DurationProvider interface {
	DefaultDuration() (int, bus.DurationUnit)
}

// Observer is implemented by strategies whose per-symbol state must follow
// every tick. Observe advances bars, indicators and setup expiry but never
// fires a signal, so a setup survives ticks on which the strategy may not
// trade.
type Observer interface {
	Observe(in Input)
}

// Resetter is implemented by strategies with per-symbol state.
type Resetter interface {
	Reset(symbol string)
}

// ProfileProvider exposes a registered market-fit profile.
type ProfileProvider interface {
	Profile() Profile
}

// Config holds tunable strategy parameters. Unknown keys are ignored.
type Config struct {
	Params map[string]interface{} `json:"params" yaml:"params"`
}

// Float returns a numeric parameter or def.
func (c Config) Float(key string, def float64) float64 {
	if c.Params == nil {
		return def
	}
	v, ok := c.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// Int returns an integer parameter or def.
func (c Config) Int(key string, def int) int {
	return int(c.Float(key, float64(def)))
}
