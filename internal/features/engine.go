package features

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nexus-trading/pulse/internal/market"
)

// Feature names of the model dictionary.
const (
	Price       = "price"
	Mean        = "mean"
	Std         = "std"
	Range       = "range"
	Volatility  = "volatility"
	TrendSlope  = "trend_slope"
	RegimeScore = "regime_score"
	Heat        = "heat"

	Momentum      = "momentum"
	LogVolatility = "log_volatility"
	ZScore        = "zscore"
)

// ErrInsufficientData is returned when the context is too short to produce
// a feature vector.
var ErrInsufficientData = errors.New("insufficient data for features")

// Vector is a named feature snapshot. Treat it as immutable once returned;
// use Clone before handing it to code that may mutate it.
type Vector map[string]float64

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Input bundles everything a calculator may read.
type Input struct {
	Context     *market.RollingContext
	Diagnostics market.Diagnostics
	Heat        float64
	Quotes      []float64 // last Window quotes, oldest first
}

// Calculator computes one named feature. Calculators are pure: they must not
// retain or mutate Input.
type Calculator interface {
	Name() string
	Compute(in Input) (float64, error)
}

// CalculatorFunc adapts a function to Calculator.
type CalculatorFunc struct {
	FeatureName string
	Fn          func(in Input) (float64, error)
}

func (c CalculatorFunc) Name() string                      { return c.FeatureName }
func (c CalculatorFunc) Compute(in Input) (float64, error) { return c.Fn(in) }

// Extractor builds feature vectors from the rolling context. It is safe for
// concurrent use; registration and extraction may interleave.
type Extractor struct {
	window      int
	calculators []Calculator
	calcByName  map[string]Calculator
	mu          sync.RWMutex
}

// DefaultWindow is the quote window used for window statistics.
const DefaultWindow = 50

// NewExtractor creates an extractor with all built-in calculators.
func NewExtractor(window int) *Extractor {
	if window < 2 {
		window = DefaultWindow
	}
	e := &Extractor{
		window:     window,
		calcByName: make(map[string]Calculator),
	}

	calcs := []Calculator{
		CalculatorFunc{Price, func(in Input) (float64, error) { return in.Quotes[len(in.Quotes)-1], nil }},
		CalculatorFunc{Mean, func(in Input) (float64, error) { return market.Mean(in.Quotes), nil }},
		CalculatorFunc{Std, func(in Input) (float64, error) { return market.StdDev(in.Quotes), nil }},
		CalculatorFunc{Range, func(in Input) (float64, error) { return market.Range(in.Quotes), nil }},
		CalculatorFunc{Volatility, func(in Input) (float64, error) { return in.Diagnostics.Volatility, nil }},
		CalculatorFunc{TrendSlope, func(in Input) (float64, error) { return in.Diagnostics.TrendSlope, nil }},
		CalculatorFunc{RegimeScore, func(in Input) (float64, error) { return in.Diagnostics.RegimeScore, nil }},
		CalculatorFunc{Heat, func(in Input) (float64, error) { return in.Heat, nil }},
		NewMomentum(10),
		NewLogVolatility(),
		CalculatorFunc{ZScore, zscore},
	}
	for _, c := range calcs {
		e.calculators = append(e.calculators, c)
		e.calcByName[c.Name()] = c
	}
	return e
}

// RegisterCalculator adds or replaces a calculator by name.
func (e *Extractor) RegisterCalculator(c Calculator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.calcByName[c.Name()]; exists {
		for i, old := range e.calculators {
			if old.Name() == c.Name() {
				e.calculators[i] = c
			}
		}
	} else {
		e.calculators = append(e.calculators, c)
	}
	e.calcByName[c.Name()] = c
}

// Names returns the registered feature names in registration order.
func (e *Extractor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.calculators))
	for i, c := range e.calculators {
		out[i] = c.Name()
	}
	return out
}

// Extract computes every registered feature. A failing calculator yields
// an error for the whole vector; callers treat that as "no features".
func (e *Extractor) Extract(ctx *market.RollingContext, diag market.Diagnostics, heat float64) (v Vector, err error) {
	if ctx == nil || ctx.Len() < 2 {
		return nil, ErrInsufficientData
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("feature extraction panic: %v", r)
		}
	}()

	in := Input{
		Context:     ctx,
		Diagnostics: diag,
		Heat:        heat,
		Quotes:      ctx.LastQuotes(e.window),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v = make(Vector, len(e.calculators))
	for _, c := range e.calculators {
		x, cerr := c.Compute(in)
		if cerr != nil {
			return nil, fmt.Errorf("feature %s: %w", c.Name(), cerr)
		}
		v[c.Name()] = x
	}
	return v, nil
}

func zscore(in Input) (float64, error) {
	sd := market.StdDev(in.Quotes)
	if sd == 0 {
		return 0, nil
	}
	return (in.Quotes[len(in.Quotes)-1] - market.Mean(in.Quotes)) / sd, nil
}
