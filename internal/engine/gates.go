package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
)

// minHistoryForExpectancy is the trade count below which a history term
// does not contribute to the expected-profit score.
const minHistoryForExpectancy = 5

// spike describes one quote that broke the sigma band.
type spike struct {
	Index     int
	Quote     float64
	Deviation float64
	Sigma     float64
}

// detectSpike checks each of the last lookback quotes against the mean and
// standard deviation of the rest of the window (leave-one-out). A zero
// sigma makes any deviation a spike.
func detectSpike(window []float64, lookback int, k float64) (spike, bool) {
	n := len(window)
	if n < 3 || lookback <= 0 {
		return spike{}, false
	}
	if lookback > n {
		lookback = n
	}

	rest := make([]float64, 0, n-1)
	for i := n - lookback; i < n; i++ {
		rest = rest[:0]
		rest = append(rest, window[:i]...)
		rest = append(rest, window[i+1:]...)

		mean := market.Mean(rest)
		sd := market.StdDev(rest)
		dev := math.Abs(window[i] - mean)
		if (sd == 0 && dev > 0) || (sd > 0 && dev > k*sd) {
			return spike{Index: i, Quote: window[i], Deviation: dev, Sigma: sd}, true
		}
	}
	return spike{}, false
}

// expectancyInput is the history the expected-profit score is built from.
type expectancyInput struct {
	Strategy      strategy.Stats
	StrategyStake float64 // total stake of the strategy's settled trades
	Global        strategy.Stats
	Profile       strategy.Profile
	Regime        market.Regime
}

// expectedProfit scores how likely a trade is to pay, roughly in [-0.55, 0.55].
//
// Rules:
//   - 0.5 × (strategy win rate − 0.5), with ≥5 strategy trades.
//   - 0.3 × (global win rate − 0.5), with ≥5 global trades.
//   - 0.2 × clamp(strategy net P/L per unit stake, −1, 1), with ≥5 strategy trades.
//   - +0.1 when the strategy prefers the regime, −0.1 when it avoids it.
func expectedProfit(in expectancyInput) float64 {
	var score float64
	if in.Strategy.Trades() >= minHistoryForExpectancy {
		score += 0.5 * (in.Strategy.WinRate()/100 - 0.5)
		if in.StrategyStake > 0 {
			score += 0.2 * math.Max(-1, math.Min(1, in.Strategy.NetPL/in.StrategyStake))
		}
	}
	if in.Global.Trades() >= minHistoryForExpectancy {
		score += 0.3 * (in.Global.WinRate()/100 - 0.5)
	}
	switch {
	case in.Profile.Prefers(in.Regime):
		score += 0.1
	case in.Profile.Avoids(in.Regime):
		score -= 0.1
	}
	return score
}

// envCheck is one environment gate result.
type envCheck struct {
	Code      SkipCode
	Message   string
	Relaxable bool
}

// checkEnvironment re-validates market conditions right before sizing and
// returns every failing check in order. Relaxable failures are downgraded
// to warnings by the caller in testing mode.
func checkEnvironment(r Rules, diag market.Diagnostics, heat float64, window []float64) []envCheck {
	var out []envCheck
	if diag.Regime == market.RegimeUnknown {
		out = append(out, envCheck{SkipRegimeUnknown, "regime unknown", true})
	}
	if heat < r.MinHeat || heat > r.MaxHeat {
		out = append(out, envCheck{SkipHeatBand, fmt.Sprintf("heat %.1f outside [%.0f, %.0f]", heat, r.MinHeat, r.MaxHeat), true})
	}
	if diag.RegimeScore < r.MinRegimeScore {
		out = append(out, envCheck{SkipRegimeConfidence, fmt.Sprintf("regime score %.2f < %.2f", diag.RegimeScore, r.MinRegimeScore), true})
	}
	if diag.Volatility < r.MinVolatility || diag.Volatility > r.MaxVolatility {
		out = append(out, envCheck{SkipVolatilityBand, fmt.Sprintf("volatility %.5f outside [%g, %g]", diag.Volatility, r.MinVolatility, r.MaxVolatility), true})
	}
	if math.Abs(diag.TrendSlope) > r.MaxAbsSlope {
		out = append(out, envCheck{SkipExtremeSlope, fmt.Sprintf("slope %.5f beyond ±%g", diag.TrendSlope, r.MaxAbsSlope), false})
	}
	if s, ok := detectSpike(window, r.SpikeLookback, r.SpikeSigma); ok {
		out = append(out, envCheck{SkipSpike, fmt.Sprintf("quote %.5f deviates %.5f (σ=%.5f)", s.Quote, s.Deviation, s.Sigma), false})
	}
	return out
}

// probation decides whether a strategy's trailing outcomes earn it a
// timeout. recent holds profits, most recent last.
//
// Rules:
//   - At least ProbationMinTrades in the trailing window and a win rate
//     below ProbationWinRate: ProbationDuration.
//   - Otherwise the last LossStreakProbation outcomes all lost:
//     LossStreakProbationTime.
func probation(r Rules, recent []float64) (string, time.Duration, bool) {
	if len(recent) > r.ProbationWindow {
		recent = recent[len(recent)-r.ProbationWindow:]
	}
	if len(recent) >= r.ProbationMinTrades {
		if wr := winRate(recent); wr < r.ProbationWinRate {
			return fmt.Sprintf("win rate %.1f%% over %d trades", wr, len(recent)), r.ProbationDuration, true
		}
	}
	if n := r.LossStreakProbation; n > 0 && len(recent) >= n {
		for _, p := range recent[len(recent)-n:] {
			if p > 0 {
				return "", 0, false
			}
		}
		return fmt.Sprintf("last %d trades lost", n), r.LossStreakProbationTime, true
	}
	return "", 0, false
}
