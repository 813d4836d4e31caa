package ta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func bar(o, h, l, c float64) Bar { return Bar{Open: o, High: h, Low: l, Close: c} }

func TestTimeAggregator_ClosesOnBoundary(t *testing.T) {
	a := NewTimeAggregator(time.Minute, 0)
	assert.False(t, a.Add(t0, 10))
	assert.False(t, a.Add(t0.Add(20*time.Second), 12))
	assert.False(t, a.Add(t0.Add(40*time.Second), 9))
	assert.True(t, a.Add(t0.Add(61*time.Second), 11))

	last, ok := a.Last()
	require.True(t, ok)
	assert.Equal(t, Bar{Start: t0, Open: 10, High: 12, Low: 9, Close: 9, Ticks: 3}, last)

	cur, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, 11.0, cur.Open)
	assert.Equal(t, 1, a.ClosedCount())
}

func TestTickAggregator(t *testing.T) {
	a := NewTickAggregator(3, 0)
	closed := 0
	for i := 0; i < 10; i++ {
		if a.Add(t0.Add(time.Duration(i)*time.Second), float64(i)) {
			closed++
		}
	}
	assert.Equal(t, 3, closed)
	assert.Equal(t, []float64{2, 5, 8}, a.Closes())
}

func TestAggregator_BoundedHistory(t *testing.T) {
	a := NewTickAggregator(1, 10)
	for i := 0; i < 25; i++ {
		a.Add(t0, float64(i))
	}
	assert.Len(t, a.Bars(), 10)
	assert.Equal(t, 25, a.ClosedCount())
	assert.Equal(t, 15.0, a.Bars()[0].Close)
}

func TestBarsFromQuotes_AlignsToEnd(t *testing.T) {
	bars := BarsFromQuotes([]float64{1, 2, 3, 4, 5, 6, 7}, 3)
	require.Len(t, bars, 2)
	assert.Equal(t, bar(2, 4, 2, 4), Bar{Open: bars[0].Open, High: bars[0].High, Low: bars[0].Low, Close: bars[0].Close})
	assert.Equal(t, 7.0, bars[1].Close)
	assert.Nil(t, BarsFromQuotes([]float64{1}, 3))
}

func TestEMA(t *testing.T) {
	e := NewEMA(3)
	e.Update(1)
	e.Update(2)
	assert.False(t, e.Ready())
	assert.InDelta(t, 2.0, e.Update(3), 1e-9, "seeded with SMA")
	assert.True(t, e.Ready())
	assert.InDelta(t, 3.0, e.Update(4), 1e-9)
	assert.InDelta(t, 2.0, e.Prev(), 1e-9)

	s := EMASeries([]float64{5, 5, 5, 5}, 2)
	assert.Equal(t, []float64{5, 5, 5, 5}, s)
}

func TestATR(t *testing.T) {
	bars := []Bar{bar(10, 11, 9, 10), bar(10, 12, 10, 11), bar(11, 11, 8, 9)}
	// TR: 2, max(2, 2, 0)=2, max(3, 0, 3)=3
	assert.InDelta(t, 7.0/3.0, ATR(bars, 14), 1e-9)
	assert.InDelta(t, 2.5, ATR(bars, 2), 1e-9)
	assert.Equal(t, 0.0, ATR(nil, 14))
}

func TestBarAnatomy(t *testing.T) {
	b := bar(10, 15, 8, 12)
	assert.Equal(t, 2.0, b.Body())
	assert.Equal(t, 3.0, b.UpperWick())
	assert.Equal(t, 2.0, b.LowerWick())
	assert.True(t, b.Bullish())
	assert.False(t, b.Bearish())
}

func TestFindPivots_Symmetric(t *testing.T) {
	highs := []float64{1, 2, 5, 2, 1, 0.5, 3, 1}
	bars := make([]Bar, len(highs))
	for i, h := range highs {
		bars[i] = Bar{High: h, Low: h - 0.1, Open: h, Close: h}
	}
	piv := FindPivots(bars, 2)

	var highIdx []int
	for _, p := range piv {
		if p.High {
			highIdx = append(highIdx, p.Index)
		}
	}
	// index 6 is a local high but lacks two confirming bars on the right.
	assert.Equal(t, []int{2}, highIdx)

	hi, lo := LastPivots(piv)
	require.NotNil(t, hi)
	assert.Equal(t, 5.0, hi.Price)
	require.NotNil(t, lo)
	assert.Equal(t, 5, lo.Index)
}
