package market

import (
	"math"
	"strings"
	"time"
)

// Regime is a coarse classification of current price action.
type Regime string

const (
	RegimeUnknown        Regime = "Unknown"
	RegimeTrendingUp     Regime = "TrendingUp"
	RegimeTrendingDown   Regime = "TrendingDown"
	RegimeRangingLowVol  Regime = "RangingLowVol"
	RegimeRangingHighVol Regime = "RangingHighVol"
	RegimeVolatileChoppy Regime = "VolatileChoppy"
)

// AllRegimes lists every regime, Unknown first.
var AllRegimes = []Regime{
	RegimeUnknown,
	RegimeTrendingUp,
	RegimeTrendingDown,
	RegimeRangingLowVol,
	RegimeRangingHighVol,
	RegimeVolatileChoppy,
}

// ParseRegime maps a label to a Regime. Matching ignores case, underscores
// and spaces; unknown labels map to RegimeUnknown with ok=false.
func ParseRegime(label string) (Regime, bool) {
	norm := strings.ToLower(strings.NewReplacer("_", "", " ", "", "-", "").Replace(label))
	for _, r := range AllRegimes {
		if strings.ToLower(string(r)) == norm {
			return r, true
		}
	}
	return RegimeUnknown, false
}

func (r Regime) IsTrending() bool { return r == RegimeTrendingUp || r == RegimeTrendingDown }
func (r Regime) IsRanging() bool  { return r == RegimeRangingLowVol || r == RegimeRangingHighVol }

// Diagnostics is the per-tick market read for one symbol.
type Diagnostics struct {
	Regime      Regime    `json:"regime"`
	Volatility  float64   `json:"volatility"`
	TrendSlope  float64   `json:"trend_slope"`
	RegimeScore float64   `json:"regime_score"`
	Timestamp   time.Time `json:"ts"`
}

// AnalysisConfig holds the baseline regime thresholds.
type AnalysisConfig struct {
	Window         int
	SlopeThreshold float64
	LowVol         float64
	HighVol        float64
}

// DefaultAnalysisConfig returns the baseline thresholds.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Window:         50,
		SlopeThreshold: 5e-4,
		LowVol:         0.03,
		HighVol:        0.15,
	}
}

// AnalyzeRegime derives baseline diagnostics from slope and volatility
// bands. It is the fallback read used before any classifier runs.
func (c *RollingContext) AnalyzeRegime(cfg AnalysisConfig) Diagnostics {
	d := Diagnostics{Regime: RegimeUnknown}
	if last, ok := c.LastTick(); ok {
		d.Timestamp = last.Time
	}

	vol, okVol := c.StdDev(cfg.Window)
	slope, okSlope := c.TrendSlope(cfg.Window)
	if !okVol || !okSlope {
		return d
	}
	d.Volatility = vol
	d.TrendSlope = slope

	switch {
	case slope > cfg.SlopeThreshold:
		d.Regime, d.RegimeScore = RegimeTrendingUp, 0.7
	case slope < -cfg.SlopeThreshold:
		d.Regime, d.RegimeScore = RegimeTrendingDown, 0.7
	case vol < cfg.LowVol:
		d.Regime, d.RegimeScore = RegimeRangingLowVol, 0.6
	case vol > cfg.HighVol:
		d.Regime, d.RegimeScore = RegimeVolatileChoppy, 0.5
	default:
		d.Regime, d.RegimeScore = RegimeRangingHighVol, 0.6
	}
	return d
}

// Heat band and weights for the market heat index.
const (
	heatSlopeRef  = 1e-3
	heatVolLow    = 0.02
	heatVolHigh   = 0.2
	heatWRegime   = 0.4
	heatWTrend    = 0.35
	heatWVolFit   = 0.25
	heatChoppyMul = 0.7
	heatUnkMul    = 0.5
)

// Heat scores how favorable conditions are for trading, 0..100.
func Heat(d Diagnostics) float64 {
	trend := math.Min(math.Abs(d.TrendSlope)/heatSlopeRef, 1)

	volFit := 1.0
	switch {
	case d.Volatility < heatVolLow:
		volFit = d.Volatility / heatVolLow
	case d.Volatility > heatVolHigh:
		volFit = 1 - (d.Volatility-heatVolHigh)/heatVolHigh
	}
	volFit = Clamp01(volFit)

	h := Clamp01(heatWRegime*Clamp01(d.RegimeScore) + heatWTrend*trend + heatWVolFit*volFit)
	switch d.Regime {
	case RegimeVolatileChoppy:
		h *= heatChoppyMul
	case RegimeUnknown:
		h *= heatUnkMul
	}
	return 100 * h
}
