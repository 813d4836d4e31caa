package tradelog

import (
	"context"
	"sort"
	"sync"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/rs/zerolog/log"
)

// Trail keeps recent entries in memory grouped by day and publishes every
// entry to bus.TopicTradeLog. The buffer is capped at maxBuf entries in
// total; when full the oldest day loses its oldest entry first.
type Trail struct {
	mu       sync.Mutex
	producer bus.Producer
	days     map[string][]Entry
	order    []string // days, oldest first
	size     int
	maxBuf   int
}

var _ Logger = (*Trail)(nil)

// NewTrail creates a trail. A nil producer keeps entries in memory only;
// a maxBuf of 0 keeps nothing in memory.
func NewTrail(producer bus.Producer, maxBuf int) *Trail {
	if maxBuf < 0 {
		maxBuf = 0
	}
	return &Trail{
		producer: producer,
		days:     make(map[string][]Entry),
		maxBuf:   maxBuf,
	}
}

// Log appends e. Publishing failures are logged and returned; the entry
// stays in the buffer either way.
func (t *Trail) Log(ctx context.Context, e Entry) error {
	t.mu.Lock()
	if t.maxBuf > 0 {
		if _, ok := t.days[e.Day]; !ok {
			t.order = append(t.order, e.Day)
			sort.Strings(t.order)
		}
		t.days[e.Day] = append(t.days[e.Day], e)
		t.size++
		for t.size > t.maxBuf {
			t.evictOldest()
		}
	}
	t.mu.Unlock()

	if t.producer == nil {
		return nil
	}
	if err := t.producer.PublishJSON(ctx, bus.TopicTradeLog, e.Day, e); err != nil {
		log.Error().Err(err).
			Str("day", e.Day).
			Str("strategy", e.Strategy).
			Msg("failed to publish trade log entry")
		return err
	}
	return nil
}

// evictOldest must be called while holding t.mu.
func (t *Trail) evictOldest() {
	day := t.order[0]
	rest := t.days[day][1:]
	t.size--
	if len(rest) == 0 {
		delete(t.days, day)
		t.order = t.order[1:]
		return
	}
	t.days[day] = rest
}

// Day returns a copy of the buffered entries for one day.
func (t *Trail) Day(day string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.days[day]))
	copy(out, t.days[day])
	return out
}

// Days lists the buffered days, oldest first.
func (t *Trail) Days() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Entries returns every buffered entry, oldest day first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, t.size)
	for _, d := range t.order {
		out = append(out, t.days[d]...)
	}
	return out
}

// Len returns the number of buffered entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Performance summarizes the buffered entries.
func (t *Trail) Performance() []Performance {
	return Summarize(t.Entries())
}

// PerformanceView serves the summary over HTTP.
func (t *Trail) PerformanceView() any { return t.Performance() }
