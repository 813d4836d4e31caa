package quality

import (
	"math"
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// fixedClock returns a monitor whose wall clock is controlled by the test.
func fixedClock(cfg Config) (*Monitor, *time.Time) {
	m := NewMonitor(cfg)
	now := t0
	m.SetClock(func() time.Time { return now })
	return m, &now
}

func tick(sym string, q float64, at time.Time) bus.Tick {
	return bus.Tick{Symbol: sym, Quote: q, Time: at}
}

func TestAccept_UpdatesStats(t *testing.T) {
	m, _ := fixedClock(Config{})

	assert.True(t, m.Accept(tick("R_100", 100, t0)))
	assert.True(t, m.Accept(tick("R_100", 100.1, t0.Add(time.Second))))
	assert.True(t, m.Accept(tick("R_50", 50, t0)))

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(2), snap["R_100"].TickCount)
	assert.Equal(t, t0.Add(time.Second), snap["R_100"].LastTickTime)
	assert.Equal(t, int64(1), snap["R_50"].TickCount)
}

func TestAccept_DropsOutOfOrder(t *testing.T) {
	m, _ := fixedClock(Config{})

	require.True(t, m.Accept(tick("R_100", 100, t0.Add(2*time.Second))))
	assert.False(t, m.Accept(tick("R_100", 99, t0.Add(time.Second))))
	assert.True(t, m.Accept(tick("R_100", 101, t0.Add(2*time.Second))), "equal time is accepted")
	assert.True(t, m.Accept(tick("R_50", 50, t0)), "other symbols are independent")

	s := m.Snapshot()["R_100"]
	assert.Equal(t, int64(1), s.OutOfOrder)
	assert.Equal(t, int64(2), s.TickCount)
}

func TestAccept_DropsInvalidQuotes(t *testing.T) {
	m, _ := fixedClock(Config{})

	for _, q := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.False(t, m.Accept(tick("R_100", q, t0)))
	}
	s := m.Snapshot()["R_100"]
	assert.Equal(t, int64(4), s.Invalid)
	assert.Equal(t, int64(0), s.TickCount)
}

func TestAccept_CountsGaps(t *testing.T) {
	m, _ := fixedClock(Config{GapThreshold: 5 * time.Second})

	m.Accept(tick("R_100", 100, t0))
	m.Accept(tick("R_100", 100, t0.Add(3*time.Second)))
	m.Accept(tick("R_100", 100, t0.Add(15*time.Second)))

	s := m.Snapshot()["R_100"]
	assert.Equal(t, int64(1), s.GapCount)
	assert.Equal(t, 12.0, s.MaxGapSeconds)

	select {
	case a := <-m.Alerts():
		assert.Equal(t, "warn", a.Level)
		assert.Equal(t, "R_100", a.Symbol)
		assert.Contains(t, a.Message, "tick gap")
	default:
		t.Fatal("expected a gap alert")
	}
}

func TestAccept_Lag(t *testing.T) {
	m, now := fixedClock(Config{LagThreshold: 100 * time.Millisecond})
	*now = t0.Add(250 * time.Millisecond)

	m.Accept(tick("R_100", 100, t0))

	s := m.Snapshot()["R_100"]
	assert.Equal(t, 250.0, s.MaxLagMs)
	assert.Equal(t, 250.0, s.AvgLagMs)

	select {
	case a := <-m.Alerts():
		assert.Contains(t, a.Message, "feed lag")
	default:
		t.Fatal("expected a lag alert")
	}
}

func TestAccept_NoAlertUnderThresholds(t *testing.T) {
	m, _ := fixedClock(Config{LagThreshold: time.Second})
	m.Accept(tick("R_100", 100, t0))
	m.Accept(tick("R_100", 100, t0.Add(time.Second)))

	select {
	case a := <-m.Alerts():
		t.Fatalf("did not expect an alert: %+v", a)
	default:
	}
}

func TestStale(t *testing.T) {
	m, now := fixedClock(Config{StaleTimeout: 30 * time.Second})

	m.Accept(tick("R_100", 100, t0))
	*now = t0.Add(20 * time.Second)
	m.Accept(tick("R_50", 50, *now))

	*now = t0.Add(40 * time.Second)
	assert.Equal(t, []string{"R_100"}, m.Stale())
	assert.Equal(t, t0.Add(20*time.Second), m.LastSeen())

	m.checkStale()
	select {
	case a := <-m.Alerts():
		assert.Equal(t, "critical", a.Level)
		assert.Equal(t, "R_100", a.Symbol)
		assert.Contains(t, a.Message, "feed stale")
	default:
		t.Fatal("expected a stale alert")
	}
}

func TestSnapshot_ReturnsCopy(t *testing.T) {
	m, _ := fixedClock(Config{})
	m.Accept(tick("R_100", 100, t0))

	snap1 := m.Snapshot()
	m.Accept(tick("R_100", 100, t0.Add(time.Second)))

	assert.Equal(t, int64(1), snap1["R_100"].TickCount)
	assert.Equal(t, int64(2), m.Snapshot()["R_100"].TickCount)
}
