package features

// RateOfChange calculates price rate of change over a tick lookback.
//
// Formula: ROC = (price_now - price_N_ago) / price_N_ago
//
// With fewer than lookback+1 quotes the oldest available quote is used.
type RateOfChange struct {
	lookback int
}

// NewMomentum creates the "momentum" calculator over lookback ticks.
func NewMomentum(lookback int) *RateOfChange {
	if lookback < 1 {
		lookback = 1
	}
	return &RateOfChange{lookback: lookback}
}

func (m *RateOfChange) Name() string { return Momentum }

func (m *RateOfChange) Compute(in Input) (float64, error) {
	q := in.Quotes
	if len(q) < 2 {
		return 0, nil
	}
	from := len(q) - 1 - m.lookback
	if from < 0 {
		from = 0
	}
	base := q[from]
	if base == 0 {
		return 0, nil
	}
	return (q[len(q)-1] - base) / base, nil
}
