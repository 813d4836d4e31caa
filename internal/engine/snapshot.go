package engine

import (
	"sort"
	"time"

	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/risk"
	"github.com/nexus-trading/pulse/internal/strategy"
)

// SymbolView is the read-only state of one watched symbol.
type SymbolView struct {
	Symbol         string             `json:"symbol"`
	Active         bool               `json:"active"`
	Ticks          int                `json:"ticks"`
	Diagnostics    market.Diagnostics `json:"diagnostics"`
	Heat           float64            `json:"heat"`
	RotationScore  float64            `json:"rotation_score"`
	Stats          strategy.Stats     `json:"stats"`
	Disabled       bool               `json:"disabled"`
	DisabledReason string             `json:"disabled_reason,omitempty"`
}

// Snapshot is a deep copy of the controller state. Nothing in it aliases
// controller memory.
type Snapshot struct {
	RunState     RunState                  `json:"run_state"`
	PauseCode    string                    `json:"pause_code,omitempty"`
	PauseReason  string                    `json:"pause_reason,omitempty"`
	ActiveSymbol string                    `json:"active_symbol"`
	LastTick     time.Time                 `json:"last_tick"`
	Balance      float64                   `json:"balance"`
	Daily        risk.DailyState           `json:"daily"`
	Global       strategy.Stats            `json:"global"`
	Strategies   map[string]strategy.Stats `json:"strategies"`
	Symbols      []SymbolView              `json:"symbols"`
	OpenTrades   []TradeRecord             `json:"open_trades"`
	Probations   []Probation               `json:"probations"`
	Skips        []SkipReason              `json:"skips"`
}

// Snapshot copies the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		RunState:     c.state,
		PauseCode:    c.pauseCode,
		PauseReason:  c.pauseReason,
		ActiveSymbol: c.active,
		LastTick:     c.lastTick,
		Balance:      c.balance,
		Daily:        c.daily,
		Global:       c.global,
		Strategies:   make(map[string]strategy.Stats, len(c.stratStats)),
		Symbols:      make([]SymbolView, 0, len(c.symbols)),
		OpenTrades:   make([]TradeRecord, 0, len(c.open)),
		Probations:   make([]Probation, 0, len(c.probations)),
		Skips:        c.skips.last(0),
	}
	for name, st := range c.stratStats {
		s.Strategies[name] = st
	}
	for name, st := range c.symbols {
		s.Symbols = append(s.Symbols, SymbolView{
			Symbol:         name,
			Active:         name == c.active,
			Ticks:          st.ctx.Len(),
			Diagnostics:    st.diag,
			Heat:           st.heat,
			RotationScore:  c.rotationScore(name, st),
			Stats:          st.stats,
			Disabled:       st.disabled,
			DisabledReason: st.disabledReason,
		})
	}
	sort.Slice(s.Symbols, func(i, j int) bool { return s.Symbols[i].Symbol < s.Symbols[j].Symbol })

	for _, rec := range c.open {
		s.OpenTrades = append(s.OpenTrades, rec.clone())
	}
	sort.Slice(s.OpenTrades, func(i, j int) bool { return s.OpenTrades[i].OpenedAt.Before(s.OpenTrades[j].OpenedAt) })

	for _, p := range c.probations {
		s.Probations = append(s.Probations, p)
	}
	sort.Slice(s.Probations, func(i, j int) bool { return s.Probations[i].Strategy < s.Probations[j].Strategy })
	return s
}

// Skips returns up to limit of the newest skip reasons, oldest first.
func (c *Controller) Skips(limit int) []SkipReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skips.last(limit)
}

// StatusView serves the snapshot over HTTP.
func (c *Controller) StatusView() any { return c.Snapshot() }

// SkipsView serves the skip log over HTTP.
func (c *Controller) SkipsView(limit int) any { return c.Skips(limit) }
