// Package selector picks one decision out of the strategy candidates for a
// tick.
package selector

import (
	"math"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/features"
	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
)

// Confidence bounds applied to the selected decision.
const (
	MinConfidence = 0.5
	MaxConfidence = 0.99
)

// NoCandidates is the reason stamped on the empty selection.
const NoCandidates = "no candidates"

// Request carries everything a selector may use for one tick.
type Request struct {
	Tick        bus.Tick
	Diagnostics market.Diagnostics
	Features    features.Vector
	Heat        float64
	Stats       map[string]strategy.Stats
	Candidates  []strategy.Decision
}

// Selector returns exactly one decision per request. An empty candidate set
// yields a SignalNone decision, not an error. An error means the selector
// could not score the candidates and a fallback should be used.
type Selector interface {
	Select(req Request) (strategy.Decision, error)
}

// ProfileSource resolves a strategy's market-fit profile by name.
type ProfileSource interface {
	ProfileFor(name string) strategy.Profile
}

// ProfileFunc adapts a function to ProfileSource.
type ProfileFunc func(name string) strategy.Profile

func (f ProfileFunc) ProfileFor(name string) strategy.Profile { return f(name) }

// tradeable drops SignalNone and non-positive confidence candidates.
func tradeable(cands []strategy.Decision) []strategy.Decision {
	out := make([]strategy.Decision, 0, len(cands))
	for _, d := range cands {
		if d.IsTrade() && d.Confidence > 0 {
			out = append(out, d)
		}
	}
	return out
}

// finish stamps the winning score and bounds confidence.
func finish(d strategy.Decision, score float64) strategy.Decision {
	d.QualityScore = score
	d.Confidence = math.Max(MinConfidence, math.Min(MaxConfidence, d.Confidence))
	return d
}

func none() strategy.Decision { return strategy.NoSignal("", NoCandidates) }
