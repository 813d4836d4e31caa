package ta

// EMA is an incrementally updated exponential moving average seeded with
// the simple average of its first period values.
type EMA struct {
	period int
	alpha  float64
	value  float64
	prev   float64
	n      int
	seed   float64
}

// NewEMA creates an EMA over period samples.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period, alpha: 2 / float64(period+1)}
}

// Update feeds one value and returns the current average.
func (e *EMA) Update(x float64) float64 {
	e.n++
	e.prev = e.value
	if e.n <= e.period {
		e.seed += x
		e.value = e.seed / float64(e.n)
		return e.value
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}

// Value is the current average.
func (e *EMA) Value() float64 { return e.value }

// Prev is the average before the last update.
func (e *EMA) Prev() float64 { return e.prev }

// Ready reports whether a full period has been seen.
func (e *EMA) Ready() bool { return e.n >= e.period }

// EMASeries computes the EMA of xs.
func EMASeries(xs []float64, period int) []float64 {
	e := NewEMA(period)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = e.Update(x)
	}
	return out
}

// TrueRange of b given the previous close.
func TrueRange(b Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if d := b.High - prevClose; d > tr {
		tr = d
	}
	if d := prevClose - b.Low; d > tr {
		tr = d
	}
	return tr
}

// ATR is the simple average true range of the last period bars. With fewer
// bars it averages what is available; without bars it returns 0.
func ATR(bars []Bar, period int) float64 {
	if len(bars) == 0 || period < 1 {
		return 0
	}
	from := len(bars) - period
	if from < 0 {
		from = 0
	}
	sum := 0.0
	n := 0
	for i := from; i < len(bars); i++ {
		if i == 0 {
			sum += bars[0].Range()
		} else {
			sum += TrueRange(bars[i], bars[i-1].Close)
		}
		n++
	}
	return sum / float64(n)
}

// Pivot is a confirmed local extreme.
type Pivot struct {
	Index int     // index into the bar slice it was found in
	Price float64 // bar high for a pivot high, bar low for a pivot low
	High  bool
}

// FindPivots returns confirmed pivots, oldest first. Bar i is a pivot high
// when its high is strictly above the highs of the lookback bars on each
// side; a pivot needs lookback bars after it to be confirmed.
func FindPivots(bars []Bar, lookback int) []Pivot {
	if lookback < 1 {
		lookback = 1
	}
	var out []Pivot
	for i := lookback; i+lookback < len(bars); i++ {
		isHigh, isLow := true, true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				isHigh = false
			}
			if bars[j].Low <= bars[i].Low {
				isLow = false
			}
		}
		if isHigh {
			out = append(out, Pivot{Index: i, Price: bars[i].High, High: true})
		}
		if isLow {
			out = append(out, Pivot{Index: i, Price: bars[i].Low})
		}
	}
	return out
}

// LastPivots returns the most recent pivot high and pivot low, if any.
func LastPivots(pivots []Pivot) (high, low *Pivot) {
	for i := len(pivots) - 1; i >= 0 && (high == nil || low == nil); i-- {
		p := pivots[i]
		if p.High && high == nil {
			high = &p
		}
		if !p.High && low == nil {
			low = &p
		}
	}
	return high, low
}
