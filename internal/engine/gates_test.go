package engine

import (
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSpike(t *testing.T) {
	window := append(calm(25), 100.3, 100.005, 99.7, 99.995, 100.3)
	s, ok := detectSpike(window, 5, 3)
	require.True(t, ok)
	assert.Equal(t, 25, s.Index)
	assert.InDelta(t, 0.2998, s.Deviation, 1e-3)
	assert.InDelta(t, 0.0789, s.Sigma, 1e-3)

	_, ok = detectSpike(calm(30), 5, 3)
	assert.False(t, ok)

	// A spike older than the lookback is not reported.
	old := append(calm(10), 100.3)
	old = append(old, calm(19)...)
	_, ok = detectSpike(old, 5, 3)
	assert.False(t, ok)
}

func TestDetectSpike_ZeroSigma(t *testing.T) {
	flat := []float64{100, 100, 100, 100, 100, 100}
	_, ok := detectSpike(flat, 5, 3)
	assert.False(t, ok)

	s, ok := detectSpike(append(flat, 100.0001), 5, 3)
	require.True(t, ok)
	assert.Zero(t, s.Sigma)
}

func TestExpectedProfit(t *testing.T) {
	trend := strategy.Profile{PreferredRegimes: []market.Regime{market.RegimeTrendingUp}, AvoidRegimes: []market.Regime{market.RegimeVolatileChoppy}}

	// No history: only the alignment term counts.
	assert.InDelta(t, 0.1, expectedProfit(expectancyInput{Profile: trend, Regime: market.RegimeTrendingUp}), 1e-9)
	assert.InDelta(t, -0.1, expectedProfit(expectancyInput{Profile: trend, Regime: market.RegimeVolatileChoppy}), 1e-9)
	assert.Zero(t, expectedProfit(expectancyInput{Strategy: strategy.Stats{Wins: 4}, Regime: market.RegimeRangingLowVol}))

	// 2 wins, 6 losses, net -4.1 on 8 stake; global 5/10.
	in := expectancyInput{
		Strategy:      strategy.Stats{Wins: 2, Losses: 6, NetPL: -4.1},
		StrategyStake: 8,
		Global:        strategy.Stats{Wins: 5, Losses: 5},
		Regime:        market.RegimeRangingLowVol,
	}
	want := 0.5*(0.25-0.5) + 0.2*(-4.1/8)
	assert.InDelta(t, want, expectedProfit(in), 1e-9)
}

func TestCheckEnvironment(t *testing.T) {
	r := DefaultRules()
	good := market.Diagnostics{Regime: market.RegimeRangingLowVol, RegimeScore: 0.9, Volatility: 0.005}
	assert.Empty(t, checkEnvironment(r, good, 43, calm(30)))

	bad := market.Diagnostics{Regime: market.RegimeUnknown, RegimeScore: 0.1, Volatility: 5, TrendSlope: 0.02}
	var codes []SkipCode
	for _, c := range checkEnvironment(r, bad, 99, calm(30)) {
		codes = append(codes, c.Code)
		assert.Equal(t, c.Code != SkipExtremeSlope, c.Relaxable, c.Code)
	}
	assert.Equal(t, []SkipCode{SkipRegimeUnknown, SkipHeatBand, SkipRegimeConfidence, SkipVolatilityBand, SkipExtremeSlope}, codes)
}

func TestCooldown(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, 30*time.Second, r.Cooldown(0))
	assert.Equal(t, 45*time.Second, r.Cooldown(1))
	assert.Equal(t, 5*time.Minute, r.Cooldown(20))
}

func TestFamilyBias(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, 3.0, r.familyBias("1HZ100V"))
	assert.Equal(t, 2.0, r.familyBias("R_100"))
	assert.Equal(t, -10.0, r.familyBias("BOOM1000"))
	assert.Zero(t, r.familyBias("frxEURUSD"))

	r.FamilyBias["R_10"] = 7
	assert.Equal(t, 7.0, r.familyBias("R_100"))
}

func TestSkipLog_AggregatesQuietCodes(t *testing.T) {
	l := newSkipLog(3)
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

	assert.True(t, l.add(SkipReason{Time: at, Symbol: "R_100", Code: SkipCooldown}))
	assert.False(t, l.add(SkipReason{Time: at.Add(time.Second), Symbol: "R_100", Code: SkipCooldown}))
	assert.True(t, l.add(SkipReason{Time: at, Symbol: "R_50", Code: SkipCooldown}))
	assert.True(t, l.add(SkipReason{Time: at, Symbol: "R_50", Code: SkipSpike}))
	assert.True(t, l.add(SkipReason{Time: at, Symbol: "R_50", Code: SkipSpike}))

	got := l.last(0)
	require.Len(t, got, 3)
	assert.Equal(t, "R_50", got[0].Symbol)
	assert.Equal(t, SkipCooldown, got[0].Code)
	assert.Equal(t, 1, got[2].Repeat)

	require.Len(t, l.last(1), 1)
	assert.Equal(t, SkipSpike, l.last(1)[0].Code)
}

func TestRunState_TransitionTable(t *testing.T) {
	next, ok := StateAutoPaused.next(evStart)
	assert.False(t, ok)
	assert.Empty(t, next)

	next, ok = StateManuallyStopped.next(evAutoPause)
	require.True(t, ok)
	assert.Equal(t, StateAutoPaused, next)

	next, ok = StateAutoPaused.next(evStop)
	require.True(t, ok)
	assert.Equal(t, StateAutoPaused, next)

	_, ok = StateRunning.next(evClear)
	assert.False(t, ok)
}
