package regime

import (
	"errors"
	"testing"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/mlmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func input(prices []float64) Input {
	return Input{Prices: prices, Volatility: market.StdDev(prices), Slope: market.Slope(prices)}
}

func rising(n int, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)*step
	}
	return out
}

type panicky struct{}

func (panicky) Classify(Input) (Result, error) { panic("boom") }

type failing struct{ err error }

func (f failing) Classify(Input) (Result, error) { return Result{}, f.err }

func regimeModel(t *testing.T, body string) *mlmodel.RegimeModel {
	t.Helper()
	m, err := mlmodel.ParseRegimeModel([]byte(body))
	require.NoError(t, err)
	return m
}

// --- Heuristic ---

func TestHeuristic_RisingSeriesIsConfidentTrendUp(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	prices := rising(174, 0.001) // slope 0.001, std ~0.05
	in := input(prices)
	require.InDelta(t, 0.05, in.Volatility, 0.005)

	res, err := h.Classify(in)
	require.NoError(t, err)
	assert.Equal(t, market.RegimeTrendingUp, res.Regime)
	assert.GreaterOrEqual(t, res.Score, 0.8)
}

func TestHeuristic_FallingSeriesIsTrendDown(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	res, _ := h.Classify(input(rising(174, -0.001)))
	assert.Equal(t, market.RegimeTrendingDown, res.Regime)
}

func TestHeuristic_Deterministic(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	prices := []float64{100, 100.3, 99.8, 100.4, 99.7, 100.2, 99.9, 100.5, 99.6, 100.1, 100.0, 100.3}
	in := input(prices)
	first, _ := h.Classify(in)
	for i := 0; i < 20; i++ {
		again, _ := h.Classify(in)
		assert.Equal(t, first, again)
	}
}

func TestHeuristic_Choppy(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	prices := make([]float64, 40)
	for i := range prices {
		if i%2 == 0 {
			prices[i] = 100.4
		} else {
			prices[i] = 99.6
		}
	}
	res, _ := h.Classify(input(prices))
	assert.Equal(t, market.RegimeVolatileChoppy, res.Regime)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
}

func TestHeuristic_QuietRange(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	prices := []float64{100, 100.01, 100, 100.01, 100, 100.01, 100, 100.01, 100, 100.01, 100, 100}
	res, _ := h.Classify(input(prices))
	assert.Equal(t, market.RegimeRangingLowVol, res.Regime)
	assert.Greater(t, res.Score, 0.6)
}

func TestHeuristic_TooFewPrices(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	res, err := h.Classify(input([]float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, market.RegimeUnknown, res.Regime)
	assert.Equal(t, 0.0, res.Score)
}

func TestHeuristic_UnknownFallback(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	// Moderate bias, flat slope, quiet volatility: nothing matches.
	prices := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100.03, 100.03, 100.03, 100.01}
	res, _ := h.Classify(Input{Prices: prices, Volatility: 0.01, Slope: 0})
	assert.Equal(t, market.RegimeUnknown, res.Regime)
	assert.InDelta(t, 0.3, res.Score, 1e-9)
}

func TestMeasureShape(t *testing.T) {
	s := MeasureShape([]float64{1, 2, 1, 2})
	assert.InDelta(t, 1.0, s.Bias, 1e-9)
	assert.InDelta(t, 1.0, s.FlipRatio, 1e-9)
	assert.Equal(t, Shape{}, MeasureShape(nil))
}

// --- Model + fallback ---

const upModel = `{
	"feature_names": ["trend_slope"],
	"classes": ["TrendingUp", "RangingLowVol"],
	"coef": [[10000], [0]]
}`

func TestModelClassifier_Confident(t *testing.T) {
	c := NewModelClassifier(regimeModel(t, upModel), 0)
	res, err := c.Classify(Input{Features: map[string]float64{"trend_slope": 0.001}})
	require.NoError(t, err)
	assert.Equal(t, market.RegimeTrendingUp, res.Regime)
	assert.Equal(t, "model", res.Source)
}

func TestModelClassifier_Errors(t *testing.T) {
	c := NewModelClassifier(regimeModel(t, upModel), 0.9)

	_, err := c.Classify(Input{})
	assert.ErrorIs(t, err, ErrInsufficientFeatures)

	_, err = c.Classify(Input{Features: map[string]float64{"heat": 1}})
	assert.ErrorIs(t, err, ErrInsufficientFeatures)

	_, err = c.Classify(Input{Features: map[string]float64{"trend_slope": 0.00001}})
	assert.ErrorIs(t, err, ErrLowConfidence)

	unk := NewModelClassifier(regimeModel(t, `{"feature_names":["heat"],"classes":["Unknown","Sideways"],"coef":[[1],[0]]}`), 0)
	_, err = unk.Classify(Input{Features: map[string]float64{"heat": 50}})
	assert.ErrorIs(t, err, ErrUnknownRegime)
}

func TestWithFallback(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())
	in := input(rising(174, 0.001))
	want, _ := h.Classify(in)

	for name, primary := range map[string]Classifier{
		"panic":  panicky{},
		"error":  failing{err: errors.New("x")},
		"nofeat": NewModelClassifier(regimeModel(t, upModel), 0),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := WithFallback(primary, h).Classify(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	assert.Same(t, h, WithFallback(nil, h))
}
