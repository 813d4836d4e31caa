package priceaction

import (
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/strategy/strategytest"
	"github.com/nexus-trading/pulse/internal/strategy/ta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bars(quotes ...float64) []ta.Bar { return ta.BarsFromQuotes(quotes, 5) }

func TestDetect(t *testing.T) {
	s := New(strategy.Config{})

	tests := []struct {
		name   string
		quotes []float64
		want   Pattern
	}{
		{"bullish engulfing", []float64{101, 101.1, 100.5, 100.6, 100.5, 100.4, 100.8, 101.0, 101.2, 101.3}, PatternBullishEngulfing},
		{"bearish engulfing", []float64{99, 98.9, 99.5, 99.4, 99.5, 99.6, 99.2, 99.0, 98.8, 98.7}, PatternBearishEngulfing},
		{"bullish pin", []float64{100, 100.1, 100.2, 100.3, 100.4, 100.4, 99.6, 100.3, 100.45, 100.5}, PatternBullishPin},
		{"bearish pin", []float64{100, 99.9, 99.8, 99.7, 99.6, 99.6, 100.4, 99.7, 99.55, 99.5}, PatternBearishPin},
		{"steady rise", []float64{100, 100.1, 100.2, 100.3, 100.4, 100.5, 100.6, 100.7, 100.8, 100.9}, PatternNone},
		{"flat", []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}, PatternNone},
		{"one bar", []float64{100, 101, 99, 100, 100}, PatternNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Detect(bars(tt.quotes...)))
		})
	}
}

func TestPriceAction_EvaluateEngulfing(t *testing.T) {
	s := New(strategy.Config{})
	f := strategytest.NewFeeder("R_100", time.Second)

	out := f.Run(s, []float64{101, 101.1, 100.5, 100.6, 100.5, 100.4, 100.8, 101.0, 101.2, 101.3})
	require.Len(t, out, 1)
	assert.Equal(t, strategy.SignalBuy, out[0].Signal)
	assert.Equal(t, 0.65, out[0].Confidence)
	assert.Equal(t, string(PatternBullishEngulfing), out[0].Reason)
}

func TestPriceAction_WarmUp(t *testing.T) {
	s := New(strategy.Config{})
	f := strategytest.NewFeeder("R_100", time.Second)
	assert.Empty(t, f.Run(s, []float64{101, 101.1, 100.5, 100.6, 100.5, 100.4, 100.8, 101.0, 101.2}))
}
