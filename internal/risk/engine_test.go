package risk

import (
	"testing"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

// --- Settings ---

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 0.01, s.RiskPerTradeFraction)
	assert.Equal(t, 0.35, s.MinStake)
	assert.Equal(t, 50.0, s.MaxStake)
	assert.Equal(t, 0.05, s.MaxStakeAsBalanceFraction)
	assert.True(t, s.DynamicSizing)
	assert.Equal(t, 10.0, s.DailyDrawdownPercent)
	assert.Equal(t, 50.0, s.MaxDailyLoss)
	assert.Zero(t, s.DailyProfitTargetPercent)
	assert.Zero(t, s.DailyProfitAmount)
	assert.Equal(t, 5, s.MaxConsecutiveLosses)
	assert.Equal(t, 35.0, s.MinWinRatePercent)
	assert.Equal(t, 20, s.MinTradesForWinRate)
	assert.Equal(t, 1, s.MaxOpenTrades)
	require.NoError(t, s.Validate())
}

func TestSettings_ValidateRejects(t *testing.T) {
	s := DefaultSettings()
	s.MaxStake = 0.1
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.RiskPerTradeFraction = 0
	assert.Error(t, s.Validate())
}

// --- Static stake ---

func TestComputeStake(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "10.00", s.ComputeStake(1000).StringFixed(2))
	assert.Equal(t, "0.35", s.ComputeStake(10).StringFixed(2), "min stake")
	assert.Equal(t, "50.00", s.ComputeStake(100000).StringFixed(2), "max stake")
	assert.Equal(t, "1.23", s.ComputeStake(123.456).StringFixed(2), "truncated to cents")
}

// --- Dynamic stake ---

func TestDynamicStake_ConfidenceAndTrendCompound(t *testing.T) {
	s := DefaultSettings()
	in := StakeInput{Balance: 1000, Confidence: 0.8, Regime: market.RegimeTrendingUp, RegimeScore: 0.8, Heat: 60}

	sz := s.ComputeDynamicStake(in)
	assert.Equal(t, 10.0, sz.Base)
	require.GreaterOrEqual(t, len(sz.Factors), 2)
	assert.Equal(t, Factor{"confidence", 1.25}, sz.Factors[0])
	assert.Equal(t, Factor{"regime", 1.10}, sz.Factors[1])
	assert.Equal(t, "19.66", sz.Stake.StringFixed(2))
	assert.True(t, sz.Stake.GreaterThanOrEqual(s.ComputeStake(0)))
}

func TestDynamicStake_LowQualityShrinks(t *testing.T) {
	s := DefaultSettings()
	sz := s.ComputeDynamicStake(StakeInput{Balance: 1000, Confidence: 0.5, Regime: market.RegimeVolatileChoppy, RegimeScore: 0.3, Heat: 95})
	// 10 × 0.5 × 0.7 × 0.55 × 0.8
	assert.Equal(t, "1.54", sz.Stake.StringFixed(2))
}

func TestDynamicStake_FloorsAndCaps(t *testing.T) {
	s := DefaultSettings()

	tiny := s.ComputeDynamicStake(StakeInput{Balance: 20, Confidence: 0.1, Regime: market.RegimeVolatileChoppy})
	assert.Equal(t, "0.35", tiny.Stake.StringFixed(2))

	s.MaxStakeAsBalanceFraction = 0.011
	capped := s.ComputeDynamicStake(StakeInput{Balance: 1000, Confidence: 0.9, Regime: market.RegimeTrendingUp, RegimeScore: 0.9, Heat: 50})
	assert.Equal(t, "11.00", capped.Stake.StringFixed(2))
}

func TestDynamicStake_Disabled(t *testing.T) {
	s := DefaultSettings()
	s.DynamicSizing = false
	sz := s.ComputeDynamicStake(StakeInput{Balance: 1000, Confidence: 0.99, Regime: market.RegimeTrendingUp})
	assert.Equal(t, "10.00", sz.Stake.StringFixed(2))
	assert.Empty(t, sz.Factors)
}

func TestDynamicStake_MonotoneInConfidence(t *testing.T) {
	s := DefaultSettings()
	prev := 0.0
	for c := 0.0; c <= 1.0; c += 0.01 {
		in := StakeInput{Balance: 1000, Confidence: c, Regime: market.RegimeRangingHighVol, RegimeScore: 0.6, Heat: 55, EdgeProbability: ptr(0.6)}
		v := s.ComputeDynamicStake(in).Stake.InexactFloat64()
		assert.GreaterOrEqual(t, v, prev, "confidence %.2f", c)
		assert.GreaterOrEqual(t, v, s.MinStake)
		assert.LessOrEqual(t, v, 50.0)
		prev = v
	}
}

func TestDynamicStake_MonotoneInWinRate(t *testing.T) {
	s := DefaultSettings()
	prev := 0.0
	for wr := 0.0; wr <= 100; wr += 2.5 {
		in := StakeInput{Balance: 1000, Confidence: 0.7, StrategyTrades: 15, StrategyWinRate: wr, RegimeScore: 0.5, Heat: 50}
		v := s.ComputeDynamicStake(in).Stake.InexactFloat64()
		assert.GreaterOrEqual(t, v, prev, "win rate %.1f", wr)
		prev = v
	}
}

func TestDynamicStake_RecentPL(t *testing.T) {
	assert.Equal(t, 0.5, recentFactor([]float64{-5, -5, -1}))
	assert.Equal(t, 1.15, recentFactor([]float64{-100, 5, 5, 5, 5, 5}), "only the last five count")
	assert.Equal(t, 1.0, recentFactor(nil))
}

// --- Limits ---

func TestCheckLimits(t *testing.T) {
	s := DefaultSettings()

	tests := []struct {
		name  string
		state DailyState
		code  string
	}{
		{"clean", DailyState{StartBalance: 1000, DailyPL: -5, Trades: 3, Wins: 2}, ""},
		{"drawdown", DailyState{StartBalance: 300, DailyPL: -30}, BreachDailyDrawdown},
		{"daily loss", DailyState{StartBalance: 10000, DailyPL: -50}, BreachDailyLoss},
		{"loss streak", DailyState{StartBalance: 1000, DailyPL: -10, ConsecutiveLosses: 5}, BreachConsecutiveLosses},
		{"win rate floor", DailyState{StartBalance: 1000, Trades: 20, Wins: 6}, BreachWinRateFloor},
		{"win rate needs trades", DailyState{StartBalance: 1000, Trades: 19, Wins: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := s.CheckLimits(tt.state)
			assert.Equal(t, tt.code != "", ok)
			assert.Equal(t, tt.code, b.Code)
		})
	}
}

func TestCheckLimits_ProfitTargets(t *testing.T) {
	s := DefaultSettings()
	_, ok := s.CheckLimits(DailyState{StartBalance: 1000, DailyPL: 500})
	assert.False(t, ok, "profit limits are off by default")

	s.DailyProfitTargetPercent = 5
	b, ok := s.CheckLimits(DailyState{StartBalance: 1000, DailyPL: 50})
	require.True(t, ok)
	assert.Equal(t, BreachProfitTarget, b.Code)

	s.DailyProfitTargetPercent = 0
	s.DailyProfitAmount = 20
	b, _ = s.CheckLimits(DailyState{StartBalance: 1000, DailyPL: 20})
	assert.Equal(t, BreachProfitAmount, b.Code)
}

// --- Engine ---

func TestEngine_SwapAndCount(t *testing.T) {
	e := New(DefaultSettings())
	assert.Equal(t, "10.00", e.BaseStake(1000).StringFixed(2))

	bad := DefaultSettings()
	bad.MinStake = 0
	assert.Error(t, e.SetSettings(bad))
	assert.Equal(t, 0.35, e.Settings().MinStake, "rejected settings are not applied")

	next := DefaultSettings()
	next.RiskPerTradeFraction = 0.02
	require.NoError(t, e.SetSettings(next))
	assert.Equal(t, "20.00", e.BaseStake(1000).StringFixed(2))

	e.Stake(StakeInput{Balance: 1000, Confidence: 0.6})
	_, ok := e.Check(DailyState{StartBalance: 1000, ConsecutiveLosses: 9})
	assert.True(t, ok)

	m := e.Metrics()
	assert.Equal(t, int64(1), m["stakes_sized"])
	assert.Equal(t, int64(1), m["breaches_total"])
}
