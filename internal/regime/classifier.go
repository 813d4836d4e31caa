// Package regime classifies recent price action into a market regime with
// a confidence score.
package regime

import (
	"github.com/nexus-trading/pulse/internal/market"
)

// Input is what a classifier sees for one symbol on one tick.
type Input struct {
	Prices     []float64          // recent quotes, oldest first
	Volatility float64            // std-dev of the analysis window
	Slope      float64            // OLS slope of the analysis window
	Features   map[string]float64 // optional, used by model-backed classifiers
}

// Result is a regime with the confidence the classifier places in it.
// Callers must never act on Regime without looking at Score.
type Result struct {
	Regime market.Regime `json:"regime"`
	Score  float64       `json:"score"`
	Source string        `json:"source"`
}

// Classifier maps an Input to a Result. An error means the classifier could
// not produce a trustworthy answer; decorators turn it into a fallback.
type Classifier interface {
	Classify(in Input) (Result, error)
}

func clampScore(v float64) float64 {
	return market.Clamp01(v)
}
