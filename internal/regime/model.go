package regime

import (
	"errors"
	"fmt"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/mlmodel"
)

var (
	ErrUnknownRegime        = errors.New("model predicted unknown regime")
	ErrLowConfidence        = errors.New("model confidence below floor")
	ErrInsufficientFeatures = errors.New("insufficient features for model")
)

// DefaultConfidenceFloor is the minimum class probability a model answer
// must reach to be used.
const DefaultConfidenceFloor = 0.55

// ModelClassifier classifies with a trained multinomial model. It returns
// an error whenever its answer should not be trusted; wrap it with
// WithFallback.
type ModelClassifier struct {
	model *mlmodel.RegimeModel
	floor float64
}

// NewModelClassifier creates a model-backed classifier. A floor outside
// (0, 1) uses DefaultConfidenceFloor.
func NewModelClassifier(model *mlmodel.RegimeModel, floor float64) *ModelClassifier {
	if floor <= 0 || floor >= 1 {
		floor = DefaultConfidenceFloor
	}
	return &ModelClassifier{model: model, floor: floor}
}

func (m *ModelClassifier) Classify(in Input) (Result, error) {
	if m.model == nil {
		return Result{}, fmt.Errorf("%w: no model loaded", ErrInsufficientFeatures)
	}
	if len(in.Features) == 0 {
		return Result{}, ErrInsufficientFeatures
	}
	pred, err := m.model.Predict(in.Features)
	if err != nil {
		if errors.Is(err, mlmodel.ErrMissingFeature) {
			return Result{}, fmt.Errorf("%w: %v", ErrInsufficientFeatures, err)
		}
		return Result{}, err
	}
	reg, ok := market.ParseRegime(pred.Label)
	if !ok || reg == market.RegimeUnknown {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownRegime, pred.Label)
	}
	if pred.Probability < m.floor {
		return Result{}, fmt.Errorf("%w: %.3f < %.3f", ErrLowConfidence, pred.Probability, m.floor)
	}
	return Result{Regime: reg, Score: clampScore(pred.Probability), Source: "model"}, nil
}
