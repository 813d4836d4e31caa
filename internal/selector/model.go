package selector

import (
	"errors"
	"fmt"
	"math"

	"github.com/nexus-trading/pulse/internal/mlmodel"
	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/rs/zerolog/log"
)

// ErrNoFeatures is returned when the request has no feature vector.
var ErrNoFeatures = errors.New("selector: no features")

// DefaultEdgeWeight scales (edge - 0.5) into score points.
const DefaultEdgeWeight = 120.0

// EdgeScorer estimates the win probability of a strategy's trade.
type EdgeScorer interface {
	Probability(strategy string, v map[string]float64) (float64, mlmodel.EdgeSource, error)
}

// Model adds an edge-probability term to the rule score.
type Model struct {
	rule       *Rule
	edge       EdgeScorer
	edgeWeight float64
}

// NewModel creates a model-backed selector on top of rule.
func NewModel(rule *Rule, edge EdgeScorer) *Model {
	return &Model{rule: rule, edge: edge, edgeWeight: DefaultEdgeWeight}
}

// Select scores every candidate with its edge probability. Any scoring
// failure aborts the whole selection.
func (m *Model) Select(req Request) (strategy.Decision, error) {
	cands := tradeable(req.Candidates)
	if len(cands) == 0 {
		return none(), nil
	}
	if m.edge == nil {
		return strategy.Decision{}, mlmodel.ErrNoEdgeModel
	}
	if len(req.Features) == 0 {
		return strategy.Decision{}, ErrNoFeatures
	}

	best, bestScore := -1, math.Inf(-1)
	var bestEdge float64
	for i, d := range cands {
		p, src, err := m.edge.Probability(d.StrategyName, req.Features)
		if err != nil {
			return strategy.Decision{}, fmt.Errorf("edge for %s: %w", d.StrategyName, err)
		}
		b := m.rule.Score(req, d)
		b.Edge = (p - 0.5) * m.edgeWeight
		total := b.Total + b.Edge

		log.Debug().
			Str("strategy", d.StrategyName).
			Float64("edge", p).
			Str("source", string(src)).
			Float64("score", total).
			Msg("edge scored")

		if total > bestScore {
			best, bestScore, bestEdge = i, total, p
		}
	}

	out := finish(cands[best], bestScore)
	edge := bestEdge
	out.EdgeProbability = &edge
	return out, nil
}

// WithFallback returns a selector that answers with fallback whenever
// primary errors or panics. A nil primary returns fallback.
func WithFallback(primary, fallback Selector) Selector {
	if primary == nil {
		return fallback
	}
	return &fallbackSelector{primary: primary, fallback: fallback}
}

type fallbackSelector struct {
	primary  Selector
	fallback Selector
}

func (f *fallbackSelector) Select(req Request) (strategy.Decision, error) {
	d, err := f.try(req)
	if err == nil {
		return d, nil
	}
	log.Debug().Err(err).Msg("selector fallback")
	return f.fallback.Select(req)
}

func (f *fallbackSelector) try(req Request) (d strategy.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("selector panic: %v", r)
		}
	}()
	return f.primary.Select(req)
}
