package mlmodel

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec() map[string]float64 {
	return map[string]float64{
		"price": 100, "mean": 99, "std": 0.1, "range": 0.5,
		"volatility": 0.1, "trend_slope": 0.001, "regime_score": 0.7, "heat": 60,
	}
}

// --- Math ---

func TestSoftmax_StableForLargeInputs(t *testing.T) {
	p := Softmax([]float64{1000, 1001, 999})
	sum := 0.0
	for _, x := range p {
		assert.False(t, math.IsNaN(x))
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Greater(t, p[1], p[0])
	assert.Nil(t, Softmax(nil))
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, Sigmoid(800), 1e-12)
	assert.InDelta(t, 0.0, Sigmoid(-800), 1e-12)
	assert.False(t, math.IsNaN(Sigmoid(-800)))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, NormalizeName("TrendSlope"), NormalizeName("trend_slope"))
	assert.Equal(t, "regimescore", NormalizeName("Regime_Score"))
}

// --- Regime model ---

func TestParseRegimeModel_Valid(t *testing.T) {
	m, err := ParseRegimeModel([]byte(`{
		"model_type": "multinomial_logistic_regression",
		"feature_names": ["TrendSlope", "Volatility"],
		"classes": ["TrendingUp", "TrendingDown", "RangingLowVol"],
		"coefficients": [[1000, 0], [-1000, 0], [0, -10]],
		"intercepts": [0, 0, 0]
	}`))
	require.NoError(t, err)

	pred, err := m.Predict(vec())
	require.NoError(t, err)
	assert.Equal(t, "TrendingUp", pred.Label)
	assert.Greater(t, pred.Probability, 0.5)
	assert.Len(t, pred.Probabilities, 3)
}

func TestParseRegimeModel_ShortSpellingAndDefaults(t *testing.T) {
	m, err := ParseRegimeModel([]byte(`{
		"classes": ["A", "B"],
		"coef": [[0, 0], [0, 0]]
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "mean"}, m.FeatureNames)

	pred, err := m.Predict(vec())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pred.Probability, 1e-12)
	assert.Equal(t, "A", pred.Label, "ties keep the first class")
}

func TestParseRegimeModel_BinaryExpansion(t *testing.T) {
	m, err := ParseRegimeModel([]byte(`{
		"feature_names": ["heat"],
		"classes": ["Cold", "Hot"],
		"coef": [[0.1]],
		"intercept": [-5]
	}`))
	require.NoError(t, err)
	pred, err := m.Predict(map[string]float64{"heat": 60})
	require.NoError(t, err)
	assert.Equal(t, "Hot", pred.Label)
	assert.InDelta(t, Sigmoid(1), pred.Probability, 1e-12)
}

func TestParseRegimeModel_StructuralErrors(t *testing.T) {
	cases := map[string]string{
		"bad json":         `{`,
		"no classes":       `{"coef": [[1]]}`,
		"no coefficients":  `{"classes": ["A"]}`,
		"row mismatch":     `{"classes": ["A","B","C"], "coef": [[1],[2]]}`,
		"empty row":        `{"classes": ["A","B"], "coef": [[],[]]}`,
		"ragged":           `{"classes": ["A","B"], "coef": [[1,2],[3]]}`,
		"intercepts":       `{"classes": ["A","B"], "coef": [[1],[2]], "intercepts": [1,2,3]}`,
		"names mismatch":   `{"feature_names": ["a","b"], "classes": ["A"], "coef": [[1]]}`,
		"means mismatch":   `{"classes": ["A"], "coef": [[1]], "means": [1,2]}`,
		"too wide unnamed": `{"classes": ["A"], "coef": [[1,1,1,1,1,1,1,1,1]]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegimeModel([]byte(body))
			assert.ErrorIs(t, err, ErrStructure)
		})
	}
}

func TestRegimeModel_StandardizationAndMissingFeature(t *testing.T) {
	m, err := ParseRegimeModel([]byte(`{
		"feature_names": ["heat"],
		"classes": ["Low", "High"],
		"coef": [[-1], [1]],
		"means": [50],
		"stds": [0]
	}`))
	require.NoError(t, err)

	pred, err := m.Predict(map[string]float64{"heat": 50})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pred.Probability, 1e-12, "centered input is neutral; zero std acts as 1")

	_, err = m.Predict(map[string]float64{"price": 1})
	assert.ErrorIs(t, err, ErrMissingFeature)

	_, err = m.Predict(map[string]float64{"heat": math.NaN()})
	assert.ErrorIs(t, err, ErrMissingFeature)
}

func TestLoadRegimeModel_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regime.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"classes":["A"],"coef":[[1]]}`), 0o644))

	_, err := LoadRegimeModel(path)
	require.NoError(t, err)

	_, err = LoadRegimeModel(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStructure)
}

// --- Edge model ---

func TestEdgeModel_PreferenceOrder(t *testing.T) {
	m, err := ParseEdgeModel([]byte(`{
		"model_type": "per_strategy_logistic_regression",
		"feature_names": ["heat"],
		"strategies": {"Scalping": {"coef": [0.1], "intercept": -6}},
		"global": {"coef": [0], "intercept": 0},
		"coef": [[0]],
		"intercept": [2]
	}`))
	require.NoError(t, err)

	p, src, err := m.Probability("Scalping", vec())
	require.NoError(t, err)
	assert.Equal(t, EdgePerStrategy, src)
	assert.InDelta(t, Sigmoid(0), p, 1e-12)

	p, src, err = m.Probability("Breakout", vec())
	require.NoError(t, err)
	assert.Equal(t, EdgeGlobal, src)
	assert.InDelta(t, 0.5, p, 1e-12)

	m.Global = nil
	p, src, err = m.Probability("Breakout", vec())
	require.NoError(t, err)
	assert.Equal(t, EdgeLegacy, src)
	assert.InDelta(t, Sigmoid(2), p, 1e-12)

	m.Legacy = nil
	_, _, err = m.Probability("Breakout", vec())
	assert.ErrorIs(t, err, ErrNoEdgeModel)
}

func TestEdgeModel_LegacyDefaultsFeatureNames(t *testing.T) {
	m, err := ParseEdgeModel([]byte(`{"coef": [[0.01, 1, 100]], "intercept": [-1]}`))
	require.NoError(t, err)
	require.NotNil(t, m.Legacy)
	assert.Equal(t, LegacyFeatureNames, m.Legacy.FeatureNames)

	p, _, err := m.Probability("any", vec())
	require.NoError(t, err)
	assert.InDelta(t, Sigmoid(0.01*100+0.1+0.1-1), p, 1e-12)
}

func TestParseEdgeModel_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          `{"strategies": {}}`,
		"empty coef":     `{"strategies": {"S": {"coef": []}}}`,
		"two rows":       `{"coef": [[1],[2]]}`,
		"two intercepts": `{"coef": [1], "intercept": [1, 2]}`,
		"names mismatch": `{"feature_names": ["a"], "global": {"coef": [1, 2]}}`,
		"bad coef":       `{"global": {"coef": "x"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEdgeModel([]byte(body))
			assert.ErrorIs(t, err, ErrStructure)
		})
	}
}
