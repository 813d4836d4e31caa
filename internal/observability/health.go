package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ComponentStatus is the health of one component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck reports the health of one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Details     map[string]any  `json:"details,omitempty"`
}

// SystemHealth aggregates every component; Status is the worst one.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     string                     `json:"uptime"`
}

// HealthMonitor runs registered checks on demand or periodically. Status
// transitions are logged.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	results   map[string]ComponentHealth
	startTime time.Time
	now       func() time.Time
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Register adds a named check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every check and returns the aggregate.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.runChecks(ctx)
	return m.snapshot()
}

// Start runs the checks every interval until ctx is cancelled.
func (m *HealthMonitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.runChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

func (m *HealthMonitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	fresh := make(map[string]ComponentHealth, len(checks))
	for name, fn := range checks {
		res := fn(ctx)
		res.Name = name
		res.LastChecked = m.now()
		fresh[name] = res
	}

	m.mu.Lock()
	prev := m.results
	m.results = fresh
	m.mu.Unlock()

	for name, cur := range fresh {
		old, seen := prev[name]
		if seen && old.Status == cur.Status {
			continue
		}
		ev := log.Info()
		switch cur.Status {
		case StatusDegraded:
			ev = log.Warn()
		case StatusUnhealthy:
			ev = log.Error()
		}
		ev.Str("component", name).Str("status", string(cur.Status)).Str("message", cur.Message).Msg("health status changed")
	}
}

func (m *HealthMonitor) snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.results))
	worst := StatusHealthy
	for name, h := range m.results {
		components[name] = h
		if severity(h.Status) > severity(worst) {
			worst = h.Status
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  m.now(),
		Uptime:     m.now().Sub(m.startTime).Truncate(time.Second).String(),
	}
}

func severity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// FeedSource is the view of the tick feed a FeedCheck needs.
type FeedSource interface {
	LastSeen() time.Time
	Stale() []string
}

// FeedCheck reports the feed unhealthy when no tick arrived within maxAge,
// and degraded when some symbols are stale.
func FeedCheck(src FeedSource, maxAge time.Duration, now func() time.Time) HealthCheck {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) ComponentHealth {
		last := src.LastSeen()
		if last.IsZero() {
			return ComponentHealth{Status: StatusUnhealthy, Message: "no ticks received"}
		}
		age := now().Sub(last)
		if age > maxAge {
			return ComponentHealth{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("last tick %s ago", age.Truncate(time.Second)),
			}
		}
		if stale := src.Stale(); len(stale) > 0 {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: "stale symbols: " + strings.Join(stale, ","),
				Details: map[string]any{"stale": stale},
			}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// RunStateCheck maps the engine run state onto health: running is healthy,
// auto-paused is degraded, anything else unhealthy.
func RunStateCheck(state func() (name, reason string)) HealthCheck {
	return func(context.Context) ComponentHealth {
		name, reason := state()
		switch name {
		case "running":
			return ComponentHealth{Status: StatusHealthy, Message: name}
		case "auto_paused":
			return ComponentHealth{Status: StatusDegraded, Message: "auto-paused: " + reason}
		default:
			return ComponentHealth{Status: StatusUnhealthy, Message: name}
		}
	}
}
