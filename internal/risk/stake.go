package risk

import (
	"math"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/shopspring/decimal"
)

// StakeInput is the context for dynamic sizing.
type StakeInput struct {
	Balance         float64
	Confidence      float64
	EdgeProbability *float64
	Regime          market.Regime
	RegimeScore     float64
	Heat            float64
	StrategyTrades  int
	StrategyWinRate float64   // percent
	RecentProfits   []float64 // most recent last; only the last 5 count
}

// Factor is one named multiplier applied during dynamic sizing.
type Factor struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Sizing is a computed stake and how it was reached.
type Sizing struct {
	Base    float64         `json:"base"`
	Stake   decimal.Decimal `json:"stake"`
	Factors []Factor        `json:"factors,omitempty"`
}

// Quality thresholds for the composite quality multiplier.
const (
	lowQuality  = 0.45
	highQuality = 0.70
)

// truncCents truncates toward zero to two decimals.
func truncCents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Truncate(2)
}

func (s Settings) baseStake(balance float64) float64 {
	return math.Max(s.MinStake, math.Min(s.MaxStake, balance*s.RiskPerTradeFraction))
}

// ComputeStake returns clamp(balance × fraction, MinStake, MaxStake).
func (s Settings) ComputeStake(balance float64) decimal.Decimal {
	return truncCents(s.baseStake(balance))
}

// ComputeDynamicStake scales the base stake by confidence, regime, quality,
// alignment, win-rate and recent P/L multipliers, then applies the
// balance-fraction cap and the minimum stake.
func (s Settings) ComputeDynamicStake(in StakeInput) Sizing {
	base := s.baseStake(in.Balance)
	out := Sizing{Base: base}
	if !s.DynamicSizing {
		out.Stake = truncCents(math.Max(base, s.MinStake))
		return out
	}

	stake := base
	apply := func(name string, m float64) {
		if m != 1 {
			stake *= m
			out.Factors = append(out.Factors, Factor{Name: name, Value: m})
		}
	}

	apply("confidence", confidenceTier(in.Confidence))
	apply("regime", regimeFactor(in.Regime))
	apply("quality", qualityFactor(Quality(in)))
	apply("alignment", alignmentFactor(in.RegimeScore, in.Heat))
	if in.StrategyTrades >= 10 {
		apply("win_rate", winRateTier(in.StrategyWinRate))
	}
	apply("recent_pl", recentFactor(in.RecentProfits))

	stake = math.Min(stake, s.MaxStake)
	if in.Balance > 0 {
		stake = math.Min(stake, in.Balance*s.MaxStakeAsBalanceFraction)
	}
	stake = math.Max(stake, s.MinStake)
	out.Stake = truncCents(stake)
	return out
}

func confidenceTier(c float64) float64 {
	switch {
	case c < 0.55:
		return 0.5
	case c > 0.75:
		return 1.25
	default:
		return 1
	}
}

func regimeFactor(r market.Regime) float64 {
	switch {
	case r.IsTrending():
		return 1.10
	case r == market.RegimeVolatileChoppy:
		return 0.7
	default:
		return 1
	}
}

// Quality blends confidence, edge, regime certainty and how centered heat
// is, in [0,1]. A missing edge counts as neutral.
func Quality(in StakeInput) float64 {
	edge := 0.5
	if in.EdgeProbability != nil {
		edge = *in.EdgeProbability
	}
	centered := 1 - math.Abs(in.Heat-50)/50
	return market.Clamp01(0.35*market.Clamp01(in.Confidence) +
		0.25*market.Clamp01(edge) +
		0.2*market.Clamp01(in.RegimeScore) +
		0.2*market.Clamp01(centered))
}

func qualityFactor(q float64) float64 {
	switch {
	case q < lowQuality:
		return 0.55
	case q > highQuality:
		return 1.30
	default:
		return 1
	}
}

func alignmentFactor(regimeScore, heat float64) float64 {
	switch {
	case regimeScore < 0.4 || heat > 85:
		return 0.8
	case regimeScore >= 0.6 && heat >= 40 && heat <= 75:
		return 1.10
	default:
		return 1
	}
}

func winRateTier(wr float64) float64 {
	switch {
	case wr < 45:
		return 0.5
	case wr > 60:
		return 1.20
	default:
		return 1
	}
}

func recentFactor(profits []float64) float64 {
	if len(profits) == 0 {
		return 1
	}
	if len(profits) > 5 {
		profits = profits[len(profits)-5:]
	}
	var sum float64
	for _, p := range profits {
		sum += p
	}
	switch {
	case sum < -10:
		return 0.5
	case sum > 10:
		return 1.15
	default:
		return 1
	}
}
