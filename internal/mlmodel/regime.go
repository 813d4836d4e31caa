package mlmodel

import (
	"encoding/json"
	"fmt"
	"os"
)

type regimeFile struct {
	ModelType    string      `json:"model_type"`
	FeatureNames []string    `json:"feature_names"`
	Classes      []string    `json:"classes"`
	Coefficients [][]float64 `json:"coefficients"`
	Coef         [][]float64 `json:"coef"`
	Intercepts   []float64   `json:"intercepts"`
	Intercept    []float64   `json:"intercept"`
	Means        []float64   `json:"means"`
	Stds         []float64   `json:"stds"`
}

// RegimeModel is a multinomial linear classifier over named features.
// It is immutable after load and safe for concurrent use.
type RegimeModel struct {
	ModelType    string
	FeatureNames []string
	Classes      []string
	weights      [][]float64
	intercepts   []float64
	scale        scaler
}

// RegimePrediction is the most likely class with its probability.
type RegimePrediction struct {
	Label         string
	Probability   float64
	Probabilities map[string]float64
}

// LoadRegimeModel reads and validates a regime model file.
func LoadRegimeModel(path string) (*RegimeModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regime model %s: %w", path, err)
	}
	return ParseRegimeModel(data)
}

// ParseRegimeModel decodes and validates a regime model. Both the
// "coefficients"/"intercepts" and the shorter "coef"/"intercept" spellings
// are accepted. A two-class export with a single row is expanded to the
// equivalent softmax form.
func ParseRegimeModel(data []byte) (*RegimeModel, error) {
	var f regimeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructure, err)
	}

	rows := f.Coefficients
	if len(rows) == 0 {
		rows = f.Coef
	}
	icpt := f.Intercepts
	if len(icpt) == 0 {
		icpt = f.Intercept
	}

	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrStructure)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no coefficients", ErrStructure)
	}

	if len(f.Classes) == 2 && len(rows) == 1 {
		zero := make([]float64, len(rows[0]))
		rows = [][]float64{zero, rows[0]}
		if len(icpt) == 1 {
			icpt = []float64{0, icpt[0]}
		}
	}

	if len(rows) != len(f.Classes) {
		return nil, fmt.Errorf("%w: %d coefficient rows for %d classes", ErrStructure, len(rows), len(f.Classes))
	}
	width := len(rows[0])
	for i, r := range rows {
		if len(r) == 0 {
			return nil, fmt.Errorf("%w: empty coefficient row for class %s", ErrStructure, f.Classes[i])
		}
		if len(r) != width {
			return nil, fmt.Errorf("%w: ragged coefficient rows (%d vs %d)", ErrStructure, len(r), width)
		}
	}
	if len(icpt) == 0 {
		icpt = make([]float64, len(rows))
	}
	if len(icpt) != len(rows) {
		return nil, fmt.Errorf("%w: %d intercepts for %d classes", ErrStructure, len(icpt), len(rows))
	}

	names, err := featureNames(f.FeatureNames, DefaultFeatureNames, width)
	if err != nil {
		return nil, err
	}
	sc, err := newScaler(f.Means, f.Stds, width)
	if err != nil {
		return nil, err
	}

	return &RegimeModel{
		ModelType:    f.ModelType,
		FeatureNames: names,
		Classes:      f.Classes,
		weights:      rows,
		intercepts:   icpt,
		scale:        sc,
	}, nil
}

// Predict returns the most probable class for v.
func (m *RegimeModel) Predict(v map[string]float64) (RegimePrediction, error) {
	x, err := inputs(m.FeatureNames, v, m.scale)
	if err != nil {
		return RegimePrediction{}, err
	}
	z := make([]float64, len(m.weights))
	for i, w := range m.weights {
		z[i] = dot(w, x) + m.intercepts[i]
	}
	p := Softmax(z)

	best := 0
	probs := make(map[string]float64, len(p))
	for i, pi := range p {
		probs[m.Classes[i]] = pi
		if pi > p[best] {
			best = i
		}
	}
	return RegimePrediction{Label: m.Classes[best], Probability: p[best], Probabilities: probs}, nil
}
