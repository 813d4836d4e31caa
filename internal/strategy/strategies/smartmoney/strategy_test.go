package smartmoney

import (
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/strategy/strategytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ohlc struct{ o, h, l, c float64 }

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

// Equal highs at bars 2 and 8 (101.50 / 101.52) with a swing low of 100.0 at
// bar 10 confirmed by bar 12.
var equalHighs = []ohlc{
	{100, 100.5, 99.8, 100.3}, {100.3, 100.8, 100.2, 100.7}, {100.7, 101.5, 100.6, 101.0}, {101, 101.1, 100.4, 100.5},
	{100.5, 100.6, 99.9, 100.0}, {100, 100.1, 99.5, 99.8}, {99.8, 100.6, 99.7, 100.5}, {100.5, 101.0, 100.4, 100.9},
	{100.9, 101.52, 100.8, 101.1}, {101.1, 101.2, 100.5, 100.6}, {100.6, 100.7, 100.0, 100.2}, {100.2, 100.8, 100.1, 100.7},
	{100.7, 101.3, 100.6, 101.2},
}

var sweep = []ohlc{{101.2, 101.8, 101.1, 101.3}}

var choch = []ohlc{{101.3, 101.35, 100.5, 100.6}, {100.6, 100.65, 99.8, 99.9}}

var reentry = []float64{99.9, 99.95, 100.05, 100.1, 100.2}

func testConfig() strategy.Config {
	return strategy.Config{Params: map[string]interface{}{ParamBarSeconds: 5}}
}

func TestSmartMoney_SweepOfEqualHighs(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_10", time.Second)

	assert.Empty(t, f.Run(s, ticks(equalHighs, sweep)))
	assert.Equal(t, "Searching", s.Phase("R_10"))

	f.Run(s, []float64{101.3})
	assert.Equal(t, "LiquidityTaken", s.Phase("R_10"))
	su, ok := s.ActiveSetup("R_10")
	require.True(t, ok)
	assert.True(t, su.Bearish)
	assert.InDelta(t, 101.52, su.Pool, 1e-9)
	assert.InDelta(t, 101.8, su.SweepExtreme, 1e-9)
	assert.InDelta(t, 100.0, su.Structure, 1e-9)
}

func TestSmartMoney_ChochThenReentrySells(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_10", time.Second)

	quotes := strategytest.Concat(ticks(equalHighs, sweep, choch), reentry)
	var fired []int
	for i, q := range quotes {
		d := s.Evaluate(f.Next(q))
		if i == 80 {
			assert.Equal(t, "WaitingEntry", s.Phase("R_10"))
		}
		if d.IsTrade() {
			fired = append(fired, i)
			assert.Equal(t, strategy.SignalSell, d.Signal)
			assert.Equal(t, 0.7, d.Confidence)
		}
	}
	assert.Equal(t, []int{82}, fired)
	assert.Equal(t, "Searching", s.Phase("R_10"))
}

func TestSmartMoney_EqualLowsMirrorBuys(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_10", time.Second)

	out := f.Run(s, mirror(strategytest.Concat(ticks(equalHighs, sweep, choch), reentry)))
	require.Len(t, out, 1)
	assert.Equal(t, strategy.SignalBuy, out[0].Signal)
}

func TestSmartMoney_CloseBeyondSweepInvalidates(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_10", time.Second)

	breakout := []ohlc{{101.3, 102.0, 101.2, 101.9}, {101.9, 102, 101.8, 101.9}}
	assert.Empty(t, f.Run(s, ticks(equalHighs, sweep, breakout)))
	assert.Equal(t, "Searching", s.Phase("R_10"))
}

func TestSmartMoney_TimeoutReturnsToSearching(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_10", time.Second)

	stall := make([]ohlc, 22)
	for i := range stall {
		stall[i] = ohlc{101.3, 101.4, 101.2, 101.3}
	}
	quotes := ticks(equalHighs, sweep, stall)
	assert.Empty(t, f.Run(s, quotes[:175]))
	assert.Equal(t, "LiquidityTaken", s.Phase("R_10"))
	f.Run(s, quotes[175:176])
	assert.Equal(t, "Searching", s.Phase("R_10"))
}

func TestSmartMoney_PoolIsUsedOnce(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_10", time.Second)

	breakout := []ohlc{{101.3, 102.0, 101.2, 101.9}, {101.9, 102, 101.8, 101.9}}
	f.Run(s, ticks(equalHighs, sweep, breakout, sweep, sweep))
	assert.Equal(t, "Searching", s.Phase("R_10"))
}

func TestSmartMoney_Reset(t *testing.T) {
	s := New(testConfig())
	f := strategytest.NewFeeder("R_10", time.Second)
	f.Run(s, strategytest.Concat(ticks(equalHighs, sweep), []float64{101.3}))
	require.Equal(t, "LiquidityTaken", s.Phase("R_10"))

	s.Reset("R_10")
	assert.Equal(t, "Searching", s.Phase("R_10"))
	_, ok := s.ActiveSetup("R_10")
	assert.False(t, ok)
}
