package supplydemand

import (
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/strategy/strategytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ohlc struct{ o, h, l, c float64 }

// ticks renders each bar as five one-second ticks.
func ticks(bars ...[]ohlc) []float64 {
	var out []float64
	for _, group := range bars {
		for _, b := range group {
			out = append(out, b.o, b.h, b.l, b.c, b.c)
		}
	}
	return out
}

func mirror(quotes []float64) []float64 {
	out := make([]float64, len(quotes))
	for i, q := range quotes {
		out[i] = 200 - q
	}
	return out
}

// Swing high at bar 4, lower high at bar 11, then three bars down.
var lowerHigh = []ohlc{
	{100, 100.6, 99.9, 100.5}, {100.5, 101.1, 100.4, 101}, {101, 101.6, 100.9, 101.5}, {101.5, 102.1, 101.4, 102},
	{102, 103, 101.9, 102.5}, {102.5, 102.6, 101.5, 101.6}, {101.6, 101.7, 100.6, 100.7}, {100.7, 100.8, 99.7, 99.8},
	{99.8, 99.9, 99, 99.5}, {99.5, 100.6, 99.4, 100.5}, {100.5, 101.6, 100.4, 101.5}, {101.5, 102.5, 101.4, 102.0},
	{102, 102.1, 101.1, 101.2}, {101.2, 101.3, 100.3, 100.4}, {100.4, 100.5, 99.5, 99.6},
}

// Rally back into the zone ending in a long upper wick.
var rejection = []ohlc{{99.6, 100.6, 99.5, 100.5}, {100.5, 101.6, 100.4, 101.5}, {101.5, 102.3, 101.3, 101.4}}

var breakdown = []ohlc{{101.4, 101.45, 101.2, 101.0}}

func testConfig() strategy.Config {
	return strategy.Config{Params: map[string]interface{}{ParamBarSeconds: 5}}
}

// --- Zone detection ---

func TestSupplyDemand_LowerHighArmsSupplyZone(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_50", time.Second)

	assert.Empty(t, f.Run(s, ticks(lowerHigh)))
	assert.Equal(t, "None", s.Phase("R_50"), "last pivot bar not confirmed yet")

	assert.Empty(t, f.Run(s, []float64{99.6}))
	assert.Equal(t, "BearArmed", s.Phase("R_50"))
	zone, ok := s.ActiveZone("R_50")
	require.True(t, ok)
	assert.True(t, zone.Supply)
	assert.InDelta(t, 102.0, zone.Low, 1e-9)
	assert.InDelta(t, 102.5, zone.High, 1e-9)
	assert.Equal(t, 11, zone.PivotBar)
}

// --- Entries ---

func TestSupplyDemand_RejectionThenBreakSells(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_50", time.Second)

	quotes := ticks(lowerHigh, rejection, breakdown)
	var fired []int
	for i, q := range quotes {
		d := s.Evaluate(f.Next(q))
		if d.IsTrade() {
			fired = append(fired, i)
			assert.Equal(t, strategy.SignalSell, d.Signal)
			assert.Equal(t, Name, d.StrategyName)
			assert.Equal(t, 3, d.Duration)
		}
		if i == 90 {
			assert.Equal(t, "BearWaitingForBreak", s.Phase("R_50"))
		}
	}
	assert.Equal(t, []int{92}, fired)
	assert.Equal(t, "None", s.Phase("R_50"))
}

func TestSupplyDemand_ObserveKeepsSetupUnfired(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_50", time.Second)

	quotes := ticks(lowerHigh, rejection, breakdown)
	for _, q := range quotes[:93] {
		s.Observe(f.Next(q))
	}
	assert.Equal(t, "BearWaitingForBreak", s.Phase("R_50"))

	d := s.Evaluate(f.Next(quotes[93]))
	require.True(t, d.IsTrade())
	assert.Equal(t, strategy.SignalSell, d.Signal)
}

func TestSupplyDemand_DemandMirrorBuys(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_50", time.Second)

	out := f.Run(s, mirror(ticks(lowerHigh, rejection, breakdown)))
	require.Len(t, out, 1)
	assert.Equal(t, strategy.SignalBuy, out[0].Signal)
}

// --- Invalidation ---

func TestSupplyDemand_CloseThroughZoneDisarms(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_50", time.Second)

	rally := []ohlc{{99.6, 103.2, 99.5, 103.1}, {103.1, 103.3, 103, 103.2}}
	assert.Empty(t, f.Run(s, ticks(lowerHigh, rally)))
	assert.Equal(t, "None", s.Phase("R_50"))
	_, ok := s.ActiveZone("R_50")
	assert.False(t, ok)
}

func TestSupplyDemand_TriggerWindowExpiresBackToArmed(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_50", time.Second)

	drift := make([]ohlc, 7)
	for i := range drift {
		drift[i] = ohlc{101.4, 101.6, 101.35, 101.5}
	}
	assert.Empty(t, f.Run(s, ticks(lowerHigh, rejection, drift)))
	assert.Equal(t, "BearArmed", s.Phase("R_50"))
}

func TestSupplyDemand_ResetAndIsolation(t *testing.T) {
	s := New(testConfig())
	a := strategytest.NewFeeder("R_50", time.Second)
	b := strategytest.NewFeeder("R_75", time.Second)

	a.Run(s, ticks(lowerHigh, []ohlc{{99.6, 99.7, 99.5, 99.6}}))
	b.Run(s, strategytest.Repeat(100, 50))
	assert.Equal(t, "BearArmed", s.Phase("R_50"))
	assert.Equal(t, "None", s.Phase("R_75"))

	s.Reset("R_50")
	assert.Equal(t, "None", s.Phase("R_50"))
}

func TestSupplyDemand_Defaults(t *testing.T) {
	s := New(strategy.Config{})
	assert.Equal(t, time.Minute, s.barPeriod)
	assert.Equal(t, 3, s.pivotLookback)
	assert.Equal(t, 60, s.zoneMaxAge)
	n, unit := s.DefaultDuration()
	assert.Equal(t, 3, n)
	assert.Equal(t, "m", string(unit))
	assert.Equal(t, market.RegimeVolatileChoppy, s.Profile().AvoidRegimes[0])
}
