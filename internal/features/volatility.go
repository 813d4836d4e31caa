package features

import "math"

// LogReturnVol is the population standard deviation of log-returns over
// the extractor window, per tick and unscaled. Non-positive prices are
// skipped.
type LogReturnVol struct{}

func NewLogVolatility() LogReturnVol { return LogReturnVol{} }

func (LogReturnVol) Name() string { return LogVolatility }

func (LogReturnVol) Compute(in Input) (float64, error) {
	returns := make([]float64, 0, len(in.Quotes))
	for i := 1; i < len(in.Quotes); i++ {
		prev, cur := in.Quotes[i-1], in.Quotes[i]
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0, nil
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(returns))), nil
}
