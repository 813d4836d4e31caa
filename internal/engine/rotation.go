package engine

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// rotationScore ranks a symbol for trading. The win rate is taken over the
// symbol's trailing window; a symbol without trades counts as 50%.
func (c *Controller) rotationScore(symbol string, st *symbolState) float64 {
	wr := 50.0
	if len(st.recent) > 0 {
		wr = winRate(st.recent)
	}
	return 0.5*st.heat + 0.25*wr + 0.25*st.diag.RegimeScore*100 + c.rules.familyBias(symbol)
}

// winRate is the percentage of positive profits.
func winRate(profits []float64) float64 {
	if len(profits) == 0 {
		return 0
	}
	var wins int
	for _, p := range profits {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(profits)) * 100
}

// rotationCandidates returns warmed-up, enabled symbols in name order.
func (c *Controller) rotationCandidates() []string {
	out := make([]string, 0, len(c.symbols))
	for name, st := range c.symbols {
		if st.disabled || st.ctx.Len() < c.rules.WarmupTicks {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// maybeRotate switches the active symbol when a candidate clearly beats the
// incumbent.
//
// Rules:
//   - No active symbol yet: adopt the best candidate.
//   - force (incumbent disabled): switch to the best candidate at once.
//   - Otherwise RotationInterval must have passed since the last switch and
//     the candidate must beat the incumbent by RotationMarginTrending while
//     the incumbent trends, RotationMargin otherwise.
func (c *Controller) maybeRotate(now time.Time, force bool) {
	if !c.rules.AutoRotate && !force && c.active != "" {
		return
	}
	cands := c.rotationCandidates()
	if len(cands) == 0 {
		return
	}

	best, bestScore := "", 0.0
	for _, name := range cands {
		if s := c.rotationScore(name, c.symbols[name]); best == "" || s > bestScore {
			best, bestScore = name, s
		}
	}
	if best == c.active {
		return
	}

	inc, ok := c.symbols[c.active]
	switch {
	case c.active == "" || !ok:
	case force || inc.disabled:
	default:
		if !c.lastRotation.IsZero() && now.Sub(c.lastRotation) < c.rules.RotationInterval {
			return
		}
		margin := c.rules.RotationMargin
		if inc.diag.Regime.IsTrending() {
			margin = c.rules.RotationMarginTrending
		}
		if bestScore <= c.rotationScore(c.active, inc)+margin {
			return
		}
	}

	log.Info().
		Str("from", c.active).
		Str("to", best).
		Float64("score", bestScore).
		Bool("forced", force).
		Msg("active symbol rotated")
	c.active = best
	c.lastRotation = now
}
