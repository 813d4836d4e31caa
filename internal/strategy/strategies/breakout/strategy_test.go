package breakout

import (
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/strategy/strategytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zigzag(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 0.1*float64(i%2)
	}
	return out
}

func TestBreakout_UpThenDown(t *testing.T) {
	s := New(strategy.Config{})
	f := strategytest.NewFeeder("R_75", time.Second)

	assert.Empty(t, f.Run(s, zigzag(30)))

	out := f.Run(s, []float64{101})
	require.Len(t, out, 1)
	assert.Equal(t, strategy.SignalBuy, out[0].Signal)
	assert.Greater(t, out[0].Confidence, 0.6)
	assert.LessOrEqual(t, out[0].Confidence, 0.85)

	out = f.Run(s, []float64{99})
	require.Len(t, out, 1)
	assert.Equal(t, strategy.SignalSell, out[0].Signal)
}

func TestBreakout_BufferFiltersMarginalMoves(t *testing.T) {
	s := New(strategy.Config{})
	f := strategytest.NewFeeder("R_75", time.Second)

	// Buffer is 0.25 * 0.05 above the 100.1 high.
	assert.Empty(t, f.Run(s, strategytest.Concat(zigzag(30), []float64{100.11})))
}

func TestBreakout_FlatNeverTrades(t *testing.T) {
	s := New(strategy.Config{})
	f := strategytest.NewFeeder("R_75", time.Second)
	assert.Empty(t, f.Run(s, strategytest.Repeat(100, 60)))
}

func TestBreakout_CustomWindow(t *testing.T) {
	s := New(strategy.Config{Params: map[string]interface{}{ParamWindow: 10}})
	f := strategytest.NewFeeder("R_75", time.Second)
	out := f.Run(s, strategytest.Concat(zigzag(10), []float64{100.5}))
	require.Len(t, out, 1)
	assert.Equal(t, strategy.SignalBuy, out[0].Signal)
	assert.Equal(t, Name, out[0].StrategyName)
}
