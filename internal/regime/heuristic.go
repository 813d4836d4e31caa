package regime

import (
	"math"

	"github.com/nexus-trading/pulse/internal/market"
)

// HeuristicConfig holds the rule thresholds.
type HeuristicConfig struct {
	// MinPrices: fewer quotes than this classify as Unknown with score 0.
	MinPrices int
	// ChoppyFlipRatio/ChoppyVol: reversal ratio and volatility above which
	// price action is VolatileChoppy.
	ChoppyFlipRatio float64
	ChoppyVol       float64
	// TrendBias/TrendSlope/TrendMinVol gate a clean trend.
	TrendBias   float64
	TrendSlope  float64
	TrendMinVol float64
	// BreakoutVol/BreakoutSlope gate a breakout; BreakoutBias decides
	// whether it reads as a trend or as high-volatility ranging.
	BreakoutVol   float64
	BreakoutSlope float64
	BreakoutBias  float64
	// RangeBias: |bias| below this is ranging; RangeVolSplit separates
	// low from high volatility ranging.
	RangeBias     float64
	RangeVolSplit float64
	// WeakSlope: fallback trend slope.
	WeakSlope float64
}

// DefaultHeuristicConfig returns the standard thresholds.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		MinPrices:       10,
		ChoppyFlipRatio: 0.4,
		ChoppyVol:       0.15,
		TrendBias:       0.5,
		TrendSlope:      4e-4,
		TrendMinVol:     0.03,
		BreakoutVol:     0.08,
		BreakoutSlope:   5e-4,
		BreakoutBias:    0.3,
		RangeBias:       0.2,
		RangeVolSplit:   0.08,
		WeakSlope:       2e-4,
	}
}

// Heuristic is a deterministic rule-based classifier. It holds no state and
// is safe for concurrent use.
type Heuristic struct {
	cfg HeuristicConfig
}

// NewHeuristic creates a rule-based classifier.
func NewHeuristic(cfg HeuristicConfig) *Heuristic {
	if cfg.MinPrices < 3 {
		cfg.MinPrices = 3
	}
	return &Heuristic{cfg: cfg}
}

// Shape summarizes a price path for classification.
type Shape struct {
	Net       float64 // last - first
	Range     float64 // max - min
	Bias      float64 // Net / Range, 0 when Range is 0
	FlipRatio float64 // share of adjacent direction reversals
}

// MeasureShape computes the directional shape of prices.
func MeasureShape(prices []float64) Shape {
	var s Shape
	if len(prices) < 2 {
		return s
	}
	s.Net = prices[len(prices)-1] - prices[0]
	s.Range = market.Range(prices)
	if s.Range > 0 {
		s.Bias = s.Net / s.Range
	}
	if len(prices) < 3 {
		return s
	}
	flips := 0
	for i := 2; i < len(prices); i++ {
		d1 := prices[i-1] - prices[i-2]
		d2 := prices[i] - prices[i-1]
		if d1*d2 < 0 {
			flips++
		}
	}
	s.FlipRatio = float64(flips) / float64(len(prices)-2)
	return s
}

func byDirection(up bool) market.Regime {
	if up {
		return market.RegimeTrendingUp
	}
	return market.RegimeTrendingDown
}

// Classify applies the rules in order; the first match wins. It never
// returns an error.
func (h *Heuristic) Classify(in Input) (Result, error) {
	r := Result{Regime: market.RegimeUnknown, Source: "heuristic"}
	if len(in.Prices) < h.cfg.MinPrices {
		return r, nil
	}

	c := h.cfg
	s := MeasureShape(in.Prices)
	vol := in.Volatility
	absSlope := math.Abs(in.Slope)
	absBias := math.Abs(s.Bias)

	switch {
	case s.FlipRatio > c.ChoppyFlipRatio && vol > c.ChoppyVol:
		r.Regime = market.RegimeVolatileChoppy
		r.Score = clampScore(0.5 + (s.FlipRatio - c.ChoppyFlipRatio))

	case absBias > c.TrendBias && absSlope > c.TrendSlope && vol > c.TrendMinVol:
		r.Regime = byDirection(s.Net > 0)
		r.Score = clampScore(0.5 + 0.3*absBias + 0.2*math.Min(absSlope/c.TrendSlope-1, 1))

	case s.Range > 0 && vol > c.BreakoutVol && absSlope > c.BreakoutSlope:
		if absBias > c.BreakoutBias {
			r.Regime = byDirection(s.Net > 0)
			r.Score = 0.65
		} else {
			r.Regime = market.RegimeRangingHighVol
			r.Score = 0.55
		}

	case absBias < c.RangeBias:
		if vol < c.RangeVolSplit {
			r.Regime = market.RegimeRangingLowVol
		} else {
			r.Regime = market.RegimeRangingHighVol
		}
		r.Score = clampScore(0.6 + 0.2*(1-absBias/c.RangeBias))

	case absSlope > c.WeakSlope:
		r.Regime = byDirection(in.Slope > 0)
		r.Score = 0.45

	case vol > c.ChoppyVol:
		r.Regime = market.RegimeVolatileChoppy
		r.Score = 0.4

	default:
		r.Score = 0.3
	}
	return r, nil
}
