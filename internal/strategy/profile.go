package strategy

import (
	"strings"

	"github.com/nexus-trading/pulse/internal/market"
)

// Profile describes the market conditions a strategy is built for. The
// selector uses it for regime and fit bias; the engine for eligibility.
type Profile struct {
	PreferredRegimes []market.Regime `json:"preferred_regimes"`
	AvoidRegimes     []market.Regime `json:"avoid_regimes"`
	MinHeat          float64         `json:"min_heat"`
	MaxHeat          float64         `json:"max_heat"` // 0 means no upper band
	MinVol           float64         `json:"min_vol"`
	MaxVol           float64         `json:"max_vol"` // 0 means no upper band
	RegimeBias       float64         `json:"regime_bias"`
	FitBias          float64         `json:"fit_bias"`
}

// Prefers reports whether r is a preferred regime.
func (p Profile) Prefers(r market.Regime) bool { return containsRegime(p.PreferredRegimes, r) }

// Avoids reports whether r is an avoided regime.
func (p Profile) Avoids(r market.Regime) bool { return containsRegime(p.AvoidRegimes, r) }

// HasHeatBand reports whether a heat band is defined.
func (p Profile) HasHeatBand() bool { return p.MinHeat > 0 || p.MaxHeat > 0 }

// HasVolBand reports whether a volatility band is defined.
func (p Profile) HasVolBand() bool { return p.MinVol > 0 || p.MaxVol > 0 }

// InHeatBand reports whether heat lies inside the profile's heat band.
func (p Profile) InHeatBand(heat float64) bool {
	return heat >= p.MinHeat && (p.MaxHeat == 0 || heat <= p.MaxHeat)
}

// InVolBand reports whether vol lies inside the profile's volatility band.
func (p Profile) InVolBand(vol float64) bool {
	return vol >= p.MinVol && (p.MaxVol == 0 || vol <= p.MaxVol)
}

func containsRegime(list []market.Regime, r market.Regime) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}

var (
	trendRegimes = []market.Regime{market.RegimeTrendingUp, market.RegimeTrendingDown}
	rangeRegimes = []market.Regime{market.RegimeRangingLowVol, market.RegimeRangingHighVol}
)

// DefaultProfileFor guesses a profile from a strategy name. It is a last
// resort for strategies without a registered profile and only ever yields
// mild, neutral-leaning biases.
func DefaultProfileFor(name string) Profile {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "trend"), strings.Contains(n, "momentum"), strings.Contains(n, "breakout"):
		return Profile{PreferredRegimes: trendRegimes, AvoidRegimes: []market.Regime{market.RegimeVolatileChoppy}, RegimeBias: 10}
	case strings.Contains(n, "range"), strings.Contains(n, "revers"):
		return Profile{PreferredRegimes: rangeRegimes, AvoidRegimes: trendRegimes, RegimeBias: 10}
	default:
		return Profile{}
	}
}

// ProfileOf returns the registered profile of s, or the name-based default.
func ProfileOf(s Strategy) (Profile, bool) {
	if pp, ok := s.(ProfileProvider); ok {
		return pp.Profile(), true
	}
	return DefaultProfileFor(s.Name()), false
}

// Eligible reports whether s may trade in regime r. Strategies declaring
// preferred regimes trade only in those; otherwise only avoided regimes
// are excluded.
func Eligible(s Strategy, r market.Regime) bool {
	if rp, ok := s.(RegimePreferrer); ok {
		if pref := rp.PreferredRegimes(); len(pref) > 0 {
			return containsRegime(pref, r)
		}
	}
	p, _ := ProfileOf(s)
	return !p.Avoids(r)
}
