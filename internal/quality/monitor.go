package quality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/rs/zerolog/log"
)

// Defaults for NewMonitor.
const (
	DefaultGapThreshold = 10 * time.Second
	DefaultStaleTimeout = 30 * time.Second
)

// FeedStats tracks data quality for one symbol's tick stream.
type FeedStats struct {
	Symbol        string    `json:"symbol"`
	LastTickTime  time.Time `json:"last_tick_time"`
	LastSeen      time.Time `json:"last_seen"`
	TickCount     int64     `json:"tick_count"`
	OutOfOrder    int64     `json:"out_of_order"`
	Invalid       int64     `json:"invalid"`
	GapCount      int64     `json:"gap_count"`
	MaxGapSeconds float64   `json:"max_gap_seconds"`
	MaxLagMs      float64   `json:"max_lag_ms"`
	AvgLagMs      float64   `json:"avg_lag_ms"`

	totalLagMs float64
}

// Alert is a data quality alert for one symbol.
type Alert struct {
	Level   string    `json:"level"` // warn|critical
	Symbol  string    `json:"symbol"`
	Message string    `json:"message"`
	Ts      time.Time `json:"ts"`
}

// Config tunes a Monitor.
type Config struct {
	GapThreshold time.Duration
	StaleTimeout time.Duration
	LagThreshold time.Duration // 0 disables lag alerts
}

// Monitor sits in front of the engine and filters the tick feed. It drops
// ticks that are out of order or carry an unusable quote, and tracks gaps,
// lag and stale symbols.
//
// Rules:
//   - A tick older than the last accepted tick of its symbol is dropped.
//   - Equal timestamps are accepted.
//   - Gaps are measured in tick time; lag and staleness in wall time.
type Monitor struct {
	mu      sync.RWMutex
	stats   map[string]*FeedStats
	alertCh chan Alert
	cfg     Config
	now     func() time.Time
}

// NewMonitor creates a monitor. Zero durations take the defaults.
func NewMonitor(cfg Config) *Monitor {
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = DefaultGapThreshold
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	return &Monitor{
		stats:   make(map[string]*FeedStats),
		alertCh: make(chan Alert, 256),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock replaces the wall clock.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// getOrCreate must be called with m.mu held for writing.
func (m *Monitor) getOrCreate(symbol string) *FeedStats {
	s, ok := m.stats[symbol]
	if !ok {
		s = &FeedStats{Symbol: symbol}
		m.stats[symbol] = s
	}
	return s
}

// Accept records t and reports whether it should be processed.
func (m *Monitor) Accept(t bus.Tick) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(t.Symbol)
	now := m.now()

	if math.IsNaN(t.Quote) || math.IsInf(t.Quote, 0) || t.Quote <= 0 {
		s.Invalid++
		log.Debug().Str("symbol", t.Symbol).Float64("quote", t.Quote).Msg("quality: invalid quote dropped")
		return false
	}
	if !s.LastTickTime.IsZero() && t.Time.Before(s.LastTickTime) {
		s.OutOfOrder++
		log.Debug().
			Str("symbol", t.Symbol).
			Time("tick_time", t.Time).
			Time("last_time", s.LastTickTime).
			Msg("quality: out-of-order tick dropped")
		return false
	}

	if !s.LastTickTime.IsZero() {
		gap := t.Time.Sub(s.LastTickTime)
		if gap > m.cfg.GapThreshold {
			s.GapCount++
			if gap.Seconds() > s.MaxGapSeconds {
				s.MaxGapSeconds = gap.Seconds()
			}
			m.emitAlert(Alert{
				Level:   "warn",
				Symbol:  t.Symbol,
				Message: fmt.Sprintf("tick gap %.1fs (total gaps: %d)", gap.Seconds(), s.GapCount),
				Ts:      now,
			})
		}
	}

	lagMs := float64(now.Sub(t.Time).Milliseconds())
	if lagMs < 0 {
		lagMs = 0
	}
	s.TickCount++
	s.totalLagMs += lagMs
	s.AvgLagMs = s.totalLagMs / float64(s.TickCount)
	if lagMs > s.MaxLagMs {
		s.MaxLagMs = lagMs
	}
	if m.cfg.LagThreshold > 0 && lagMs > float64(m.cfg.LagThreshold.Milliseconds()) {
		m.emitAlert(Alert{
			Level:   "warn",
			Symbol:  t.Symbol,
			Message: fmt.Sprintf("feed lag %.0fms exceeds %s", lagMs, m.cfg.LagThreshold),
			Ts:      now,
		})
	}

	s.LastTickTime = t.Time
	s.LastSeen = now
	return true
}

// Alerts returns the read-only alert channel.
func (m *Monitor) Alerts() <-chan Alert {
	return m.alertCh
}

// Snapshot returns a copy of all feed stats keyed by symbol.
func (m *Monitor) Snapshot() map[string]FeedStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(map[string]FeedStats, len(m.stats))
	for k, v := range m.stats {
		snap[k] = *v
	}
	return snap
}

// Stale lists symbols with no accepted tick for longer than the stale
// timeout, sorted.
func (m *Monitor) Stale() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var out []string
	for sym, s := range m.stats {
		if s.LastSeen.IsZero() {
			continue
		}
		if now.Sub(s.LastSeen) > m.cfg.StaleTimeout {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// LastSeen returns the wall time of the most recent accepted tick on any
// symbol, or zero.
func (m *Monitor) LastSeen() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	for _, s := range m.stats {
		if s.LastSeen.After(last) {
			last = s.LastSeen
		}
	}
	return last
}

// Start checks for stale symbols every interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("gap_threshold", m.cfg.GapThreshold).
		Dur("stale_timeout", m.cfg.StaleTimeout).
		Msg("quality monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("quality monitor stopped")
			return
		case <-ticker.C:
			m.checkStale()
		}
	}
}

func (m *Monitor) checkStale() {
	stale := m.Stale()
	if len(stale) == 0 {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	for _, sym := range stale {
		m.emitAlert(Alert{
			Level:   "critical",
			Symbol:  sym,
			Message: fmt.Sprintf("feed stale for %.0fs", now.Sub(m.stats[sym].LastSeen).Seconds()),
			Ts:      now,
		})
	}
}

// emitAlert sends without blocking; a full channel drops the alert.
func (m *Monitor) emitAlert(alert Alert) {
	select {
	case m.alertCh <- alert:
	default:
		log.Warn().
			Str("symbol", alert.Symbol).
			Str("level", alert.Level).
			Str("message", alert.Message).
			Msg("alert channel full, dropping alert")
	}
}
