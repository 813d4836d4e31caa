package selector

import (
	"math"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
)

// RuleConfig tunes the rule-based score.
type RuleConfig struct {
	TierMinTrades  int     `yaml:"tier_min_trades"` // default 12
	MaxRegimeBias  float64 `yaml:"max_regime_bias"` // default 20
	BandBias       float64 `yaml:"band_bias"`       // default 10, per band
	NetPLWeight    float64 `yaml:"net_pl_weight"`   // default 0.1
	ConfidenceUnit float64 `yaml:"confidence_unit"` // default 100
}

// DefaultRuleConfig returns the standard weights.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		TierMinTrades:  12,
		MaxRegimeBias:  20,
		BandBias:       10,
		NetPLWeight:    0.1,
		ConfidenceUnit: 100,
	}
}

// Breakdown itemizes a candidate score.
type Breakdown struct {
	Base       float64 `json:"base"`
	Tier       float64 `json:"tier"`
	RegimeBias float64 `json:"regime_bias"`
	FitBias    float64 `json:"fit_bias"`
	Edge       float64 `json:"edge"`
	Total      float64 `json:"total"`
}

// Rule scores candidates from confidence, live stats and profile fit.
type Rule struct {
	config   RuleConfig
	profiles ProfileSource
}

// NewRule creates a rule-based selector. A nil profiles source falls back to
// name-based default profiles.
func NewRule(config RuleConfig, profiles ProfileSource) *Rule {
	if profiles == nil {
		profiles = ProfileFunc(strategy.DefaultProfileFor)
	}
	return &Rule{config: config, profiles: profiles}
}

// Score computes the rule score of one candidate.
func (r *Rule) Score(req Request, d strategy.Decision) Breakdown {
	st := req.Stats[d.StrategyName]
	b := Breakdown{
		Base: r.config.ConfidenceUnit*d.Confidence + st.WinRate() + r.config.NetPLWeight*st.NetPL,
	}

	if st.Trades() >= r.config.TierMinTrades {
		b.Tier = tierBonus(st.WinRate())
	}

	p := r.profiles.ProfileFor(d.StrategyName)
	b.RegimeBias = r.regimeBias(p, req.Diagnostics.Regime)
	b.FitBias = r.fitBias(p, req.Heat, req.Diagnostics.Volatility)

	b.Total = b.Base + b.Tier + b.RegimeBias + b.FitBias
	return b
}

func tierBonus(winRate float64) float64 {
	switch {
	case winRate >= 60:
		return 15
	case winRate >= 55:
		return 8
	case winRate < 40:
		return -20
	case winRate < 45:
		return -10
	default:
		return 0
	}
}

func (r *Rule) regimeBias(p strategy.Profile, regime market.Regime) float64 {
	if regime == market.RegimeUnknown || regime == "" {
		return 0
	}
	w := math.Min(math.Abs(p.RegimeBias), r.config.MaxRegimeBias)
	switch {
	case p.Prefers(regime):
		return w
	case p.Avoids(regime):
		return -w
	default:
		return 0
	}
}

func (r *Rule) fitBias(p strategy.Profile, heat, vol float64) float64 {
	w := r.config.BandBias
	if p.FitBias > 0 {
		w = math.Min(p.FitBias, r.config.BandBias)
	}
	var bias float64
	if p.HasHeatBand() {
		if p.InHeatBand(heat) {
			bias += w
		} else {
			bias -= w
		}
	}
	if p.HasVolBand() {
		if p.InVolBand(vol) {
			bias += w
		} else {
			bias -= w
		}
	}
	return bias
}

// Select returns the highest scoring candidate. Ties keep the first.
func (r *Rule) Select(req Request) (strategy.Decision, error) {
	cands := tradeable(req.Candidates)
	if len(cands) == 0 {
		return none(), nil
	}

	best, bestScore := 0, math.Inf(-1)
	for i, d := range cands {
		if s := r.Score(req, d).Total; s > bestScore {
			best, bestScore = i, s
		}
	}
	return finish(cands[best], bestScore), nil
}
