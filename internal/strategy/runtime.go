package strategy

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/rs/zerolog/log"
)

// registeredStrategy wraps a strategy with its runtime counters.
type registeredStrategy struct {
	strategy    Strategy
	enabled     bool
	signalCount int64
	errorCount  int64
}

// RuntimeStats exposes per-strategy runtime statistics.
type RuntimeStats struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	SignalCount int64  `json:"signal_count"`
	ErrorCount  int64  `json:"error_count"`
}

// Runtime hosts strategies in registration order and evaluates each one in
// isolation: a panic in one strategy never aborts the others.
type Runtime struct {
	mu         sync.RWMutex
	order      []string
	strategies map[string]*registeredStrategy
}

// NewRuntime creates an empty runtime.
func NewRuntime() *Runtime {
	return &Runtime{strategies: make(map[string]*registeredStrategy)}
}

// Register adds a strategy. Names must be unique.
func (r *Runtime) Register(s Strategy) error {
	name := s.Name()
	if name == "" {
		return fmt.Errorf("strategy must have a non-empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.strategies[name] = &registeredStrategy{strategy: s, enabled: true}
	r.order = append(r.order, name)

	_, hasProfile := s.(ProfileProvider)
	log.Info().Str("strategy", name).Bool("profile", hasProfile).Msg("strategy registered")
	return nil
}

// Enable enables a previously disabled strategy.
func (r *Runtime) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable disables a strategy without removing it.
func (r *Runtime) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Runtime) setEnabled(name string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.strategies[name]
	if !ok {
		return fmt.Errorf("strategy %q not registered", name)
	}
	reg.enabled = on
	return nil
}

// Enabled reports whether name is registered and enabled.
func (r *Runtime) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.strategies[name]
	return ok && reg.enabled
}

// Get returns a registered strategy.
func (r *Runtime) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.strategies[name]
	if !ok {
		return nil, false
	}
	return reg.strategy, true
}

// Strategies returns all registered strategies in registration order.
func (r *Runtime) Strategies() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.strategies[name].strategy)
	}
	return out
}

// Evaluate asks every enabled strategy that allow accepts (nil accepts all)
// for a decision and returns the ones that want to trade, in registration
// order. Enabled strategies that allow rejects are observed instead.
// Decisions are normalized: the strategy name is stamped, confidence is
// clamped to [0, 1] and a missing duration is filled from the strategy's
// default.
func (r *Runtime) Evaluate(in Input, allow func(Strategy) bool) []Decision {
	r.mu.RLock()
	targets := make([]*registeredStrategy, 0, len(r.order))
	var observed []*registeredStrategy
	for _, name := range r.order {
		reg := r.strategies[name]
		if !reg.enabled {
			continue
		}
		if allow != nil && !allow(reg.strategy) {
			observed = append(observed, reg)
			continue
		}
		targets = append(targets, reg)
	}
	r.mu.RUnlock()

	for _, reg := range observed {
		r.observe(reg, in)
	}

	out := make([]Decision, 0, len(targets))
	for _, reg := range targets {
		d, err := evaluateIsolated(reg.strategy, in)
		if err != nil {
			atomic.AddInt64(&reg.errorCount, 1)
			log.Error().Err(err).
				Str("strategy", reg.strategy.Name()).
				Str("symbol", in.Tick.Symbol).
				Msg("strategy evaluation failed")
			continue
		}
		if !d.IsTrade() || d.Confidence <= 0 {
			continue
		}
		atomic.AddInt64(&reg.signalCount, 1)
		out = append(out, normalize(reg.strategy, d))
	}
	return out
}

// Observe feeds a tick to every enabled strategy without asking for
// decisions.
func (r *Runtime) Observe(in Input) {
	r.Evaluate(in, func(Strategy) bool { return false })
}

func (r *Runtime) observe(reg *registeredStrategy, in Input) {
	obs, ok := reg.strategy.(Observer)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			atomic.AddInt64(&reg.errorCount, 1)
			log.Error().
				Str("strategy", reg.strategy.Name()).
				Str("symbol", in.Tick.Symbol).
				Interface("panic", rec).
				Msg("strategy observe failed")
		}
	}()
	obs.Observe(in)
}

func evaluateIsolated(s Strategy, in Input) (d Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d, err = Decision{}, fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.Evaluate(in), nil
}

func normalize(s Strategy, d Decision) Decision {
	d.StrategyName = s.Name()
	d.Confidence = market.Clamp01(d.Confidence)
	if d.Duration <= 0 {
		if dp, ok := s.(DurationProvider); ok {
			d.Duration, d.DurationUnit = dp.DefaultDuration()
		}
	}
	return d
}

// ResetSymbol clears every strategy's state for symbol.
func (r *Runtime) ResetSymbol(symbol string) {
	for _, s := range r.Strategies() {
		if rs, ok := s.(Resetter); ok {
			rs.Reset(symbol)
		}
	}
}

// Stats returns runtime statistics for all registered strategies.
func (r *Runtime) Stats() []RuntimeStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RuntimeStats, 0, len(r.order))
	for _, name := range r.order {
		reg := r.strategies[name]
		out = append(out, RuntimeStats{
			Name:        name,
			Enabled:     reg.enabled,
			SignalCount: atomic.LoadInt64(&reg.signalCount),
			ErrorCount:  atomic.LoadInt64(&reg.errorCount),
		})
	}
	return out
}

// ProfileFor returns the profile of the named strategy. Unknown names get
// the name-based default.
func (r *Runtime) ProfileFor(name string) Profile {
	if s, ok := r.Get(name); ok {
		p, _ := ProfileOf(s)
		return p
	}
	return DefaultProfileFor(name)
}
