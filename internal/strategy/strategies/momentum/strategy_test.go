package momentum

import (
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/strategy/strategytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() strategy.Config {
	return strategy.Config{Params: map[string]interface{}{
		ParamMomentumThreshold: 0.001,
		ParamCooldownSeconds:   60.0,
		ParamLookbackTicks:     5,
	}}
}

func TestMomentum_Defaults(t *testing.T) {
	s := New(strategy.Config{})
	assert.Equal(t, "Momentum", s.Name())
	assert.Equal(t, DefaultMomentumThreshold, s.momentumThreshold)
	assert.Equal(t, DefaultLookbackTicks, s.lookback)
	assert.Equal(t, DefaultCooldownSeconds*time.Second, s.cooldown)
	n, unit := s.DefaultDuration()
	assert.Equal(t, DefaultDurationTicks, n)
	assert.Equal(t, bus.UnitTicks, unit)
}

func TestMomentum_BuysStrongRise(t *testing.T) {
	s := New(defaultConfig())
	f := strategytest.NewFeeder("R_100", time.Second)

	out := f.Run(s, strategytest.Linear(1000, 0.5, 20))
	require.NotEmpty(t, out)
	assert.Equal(t, strategy.SignalBuy, out[0].Signal)
	assert.Greater(t, out[0].Confidence, 0.5)
	assert.LessOrEqual(t, out[0].Confidence, 0.95)
	assert.Len(t, out, 1, "cooldown suppresses repeats within 60s")
}

func TestMomentum_SellsStrongFall(t *testing.T) {
	s := New(defaultConfig())
	f := strategytest.NewFeeder("R_100", time.Second)
	out := f.Run(s, strategytest.Linear(1000, -0.5, 20))
	require.NotEmpty(t, out)
	assert.Equal(t, strategy.SignalSell, out[0].Signal)
}

func TestMomentum_FlatIsQuiet(t *testing.T) {
	s := New(defaultConfig())
	f := strategytest.NewFeeder("R_100", time.Second)
	assert.Empty(t, f.Run(s, strategytest.Repeat(1000, 30)))
}

func TestMomentum_CooldownIsPerSymbol(t *testing.T) {
	s := New(defaultConfig())
	a := strategytest.NewFeeder("R_100", time.Second)
	b := strategytest.NewFeeder("R_50", time.Second)

	require.Len(t, a.Run(s, strategytest.Linear(1000, 0.5, 10)), 1)
	require.Len(t, b.Run(s, strategytest.Linear(1000, 0.5, 10)), 1)

	s.Reset("R_100")
	assert.Len(t, a.Run(s, strategytest.Linear(1005, 0.5, 3)), 1, "reset clears the cooldown")
}

func TestMomentum_SignalsResumeAfterCooldown(t *testing.T) {
	s := New(defaultConfig())
	f := strategytest.NewFeeder("R_100", 61*time.Second)
	assert.Len(t, f.Run(s, strategytest.Linear(1000, 0.5, 10)), 5)
}
