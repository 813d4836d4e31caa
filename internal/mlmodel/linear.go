// Package mlmodel loads externally trained linear models (multinomial
// regime classifier and logistic edge estimators) from their JSON export
// and evaluates them against named feature vectors.
package mlmodel

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrStructure marks a malformed model file. Load fails fast on it.
var ErrStructure = errors.New("invalid model structure")

// ErrMissingFeature is returned when a vector lacks a feature the model needs.
var ErrMissingFeature = errors.New("missing model feature")

// DefaultFeatureNames is the feature dictionary order assumed when a model
// file does not name its inputs.
var DefaultFeatureNames = []string{
	"price", "mean", "std", "range", "volatility", "trend_slope", "regime_score", "heat",
}

// LegacyFeatureNames is the input order of the first-generation edge model.
var LegacyFeatureNames = []string{"Price", "Volatility", "TrendSlope"}

// NormalizeName folds a feature name so that "TrendSlope", "trend_slope"
// and "trendslope" compare equal.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// normalizedVector re-keys a feature vector by NormalizeName.
func normalizedVector(v map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(v))
	for k, x := range v {
		out[NormalizeName(k)] = x
	}
	return out
}

// scaler standardizes inputs by stored means/stds. Missing parameters mean
// no scaling; a zero std is treated as 1.
type scaler struct {
	means []float64
	stds  []float64
}

func newScaler(means, stds []float64, width int) (scaler, error) {
	if len(means) != 0 && len(means) != width {
		return scaler{}, fmt.Errorf("%w: %d means for %d features", ErrStructure, len(means), width)
	}
	if len(stds) != 0 && len(stds) != width {
		return scaler{}, fmt.Errorf("%w: %d stds for %d features", ErrStructure, len(stds), width)
	}
	return scaler{means: means, stds: stds}, nil
}

func (s scaler) apply(i int, x float64) float64 {
	if len(s.means) > i {
		x -= s.means[i]
	}
	if len(s.stds) > i && s.stds[i] != 0 {
		x /= s.stds[i]
	}
	return x
}

// inputs resolves names against v in order, scaling each value.
func inputs(names []string, v map[string]float64, sc scaler) ([]float64, error) {
	nv := normalizedVector(v)
	out := make([]float64, len(names))
	for i, name := range names {
		x, ok := nv[NormalizeName(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeature, name)
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: %s is not finite", ErrMissingFeature, name)
		}
		out[i] = sc.apply(i, x)
	}
	return out, nil
}

func dot(w, x []float64) float64 {
	s := 0.0
	for i := range w {
		s += w[i] * x[i]
	}
	return s
}

// Softmax is a numerically stable softmax.
func Softmax(z []float64) []float64 {
	if len(z) == 0 {
		return nil
	}
	hi := z[0]
	for _, v := range z[1:] {
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(z))
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Sigmoid is a numerically stable logistic function.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// featureNames picks the model's input names: explicit names when present,
// otherwise the first width entries of fallback.
func featureNames(explicit []string, fallback []string, width int) ([]string, error) {
	if len(explicit) > 0 {
		if len(explicit) != width {
			return nil, fmt.Errorf("%w: %d feature names for %d coefficients", ErrStructure, len(explicit), width)
		}
		return explicit, nil
	}
	if width > len(fallback) {
		return nil, fmt.Errorf("%w: %d coefficients but no feature names", ErrStructure, width)
	}
	return fallback[:width], nil
}
