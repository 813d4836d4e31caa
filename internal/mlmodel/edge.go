package mlmodel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoEdgeModel is returned when no sub-model applies to a strategy.
var ErrNoEdgeModel = errors.New("no edge model for strategy")

type linearFile struct {
	Coef      json.RawMessage `json:"coef"`
	Intercept json.RawMessage `json:"intercept"`
	Means     []float64       `json:"means"`
	Stds      []float64       `json:"stds"`
}

type edgeFile struct {
	ModelType    string                `json:"model_type"`
	FeatureNames []string              `json:"feature_names"`
	Strategies   map[string]linearFile `json:"strategies"`
	Global       *linearFile           `json:"global"`
	linearFile
}

// Logistic is one binary logistic regression.
type Logistic struct {
	FeatureNames []string
	weights      []float64
	intercept    float64
	scale        scaler
}

// Probability returns P(win | v).
func (l *Logistic) Probability(v map[string]float64) (float64, error) {
	x, err := inputs(l.FeatureNames, v, l.scale)
	if err != nil {
		return 0, err
	}
	return Sigmoid(dot(l.weights, x) + l.intercept), nil
}

// EdgeSource tells which sub-model produced an estimate.
type EdgeSource string

const (
	EdgePerStrategy EdgeSource = "strategy"
	EdgeGlobal      EdgeSource = "global"
	EdgeLegacy      EdgeSource = "legacy"
)

// EdgeModel estimates the win probability of a candidate decision. Lookup
// prefers the strategy's own model, then the global one, then the legacy
// single-model weights.
type EdgeModel struct {
	ModelType  string
	Strategies map[string]*Logistic
	Global     *Logistic
	Legacy     *Logistic
}

// LoadEdgeModel reads and validates an edge model file.
func LoadEdgeModel(path string) (*EdgeModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read edge model %s: %w", path, err)
	}
	return ParseEdgeModel(data)
}

// ParseEdgeModel decodes and validates an edge model.
func ParseEdgeModel(data []byte) (*EdgeModel, error) {
	var f edgeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructure, err)
	}

	m := &EdgeModel{ModelType: f.ModelType, Strategies: make(map[string]*Logistic, len(f.Strategies))}
	for name, lf := range f.Strategies {
		l, err := buildLogistic(lf, f.FeatureNames, DefaultFeatureNames)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", name, err)
		}
		m.Strategies[name] = l
	}
	if f.Global != nil {
		l, err := buildLogistic(*f.Global, f.FeatureNames, DefaultFeatureNames)
		if err != nil {
			return nil, fmt.Errorf("global: %w", err)
		}
		m.Global = l
	}
	if len(bytes.TrimSpace(f.Coef)) > 0 && !isNull(f.Coef) {
		l, err := buildLogistic(f.linearFile, f.FeatureNames, LegacyFeatureNames)
		if err != nil {
			return nil, fmt.Errorf("legacy: %w", err)
		}
		m.Legacy = l
	}

	if len(m.Strategies) == 0 && m.Global == nil && m.Legacy == nil {
		return nil, fmt.Errorf("%w: no usable edge model", ErrStructure)
	}
	return m, nil
}

// Probability returns the win probability for strategy and the sub-model
// that produced it.
func (m *EdgeModel) Probability(strategy string, v map[string]float64) (float64, EdgeSource, error) {
	if l, ok := m.Strategies[strategy]; ok {
		p, err := l.Probability(v)
		return p, EdgePerStrategy, err
	}
	if m.Global != nil {
		p, err := m.Global.Probability(v)
		return p, EdgeGlobal, err
	}
	if m.Legacy != nil {
		p, err := m.Legacy.Probability(v)
		return p, EdgeLegacy, err
	}
	return 0, "", fmt.Errorf("%w: %s", ErrNoEdgeModel, strategy)
}

func buildLogistic(lf linearFile, names, fallback []string) (*Logistic, error) {
	w, err := decodeCoef(lf.Coef)
	if err != nil {
		return nil, err
	}
	if len(w) == 0 {
		return nil, fmt.Errorf("%w: empty coefficients", ErrStructure)
	}
	b, err := decodeIntercept(lf.Intercept)
	if err != nil {
		return nil, err
	}
	fn, err := featureNames(names, fallback, len(w))
	if err != nil {
		return nil, err
	}
	sc, err := newScaler(lf.Means, lf.Stds, len(w))
	if err != nil {
		return nil, err
	}
	return &Logistic{FeatureNames: fn, weights: w, intercept: b, scale: sc}, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeCoef accepts a flat vector or a single-row matrix.
func decodeCoef(raw json.RawMessage) ([]float64, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, fmt.Errorf("%w: missing coef", ErrStructure)
	}
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var matrix [][]float64
	if err := json.Unmarshal(raw, &matrix); err != nil {
		return nil, fmt.Errorf("%w: coef: %v", ErrStructure, err)
	}
	if len(matrix) != 1 {
		return nil, fmt.Errorf("%w: binary coef must have one row, got %d", ErrStructure, len(matrix))
	}
	return matrix[0], nil
}

// decodeIntercept accepts a number or a one-element array. Missing means 0.
func decodeIntercept(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || isNull(raw) {
		return 0, nil
	}
	var x float64
	if err := json.Unmarshal(raw, &x); err == nil {
		return x, nil
	}
	var xs []float64
	if err := json.Unmarshal(raw, &xs); err != nil {
		return 0, fmt.Errorf("%w: intercept: %v", ErrStructure, err)
	}
	switch len(xs) {
	case 0:
		return 0, nil
	case 1:
		return xs[0], nil
	default:
		return 0, fmt.Errorf("%w: binary intercept must have one value, got %d", ErrStructure, len(xs))
	}
}
