// Package supplydemand trades rejections from supply and demand zones built
// on confirmed lower-high / higher-low pivots.
package supplydemand

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/strategy/ta"
)

const Name = "SupplyDemandPullback"

// Parameter keys used in strategy.Config.Params.
const (
	ParamBarSeconds      = "bar_seconds"
	ParamPivotLookback   = "pivot_lookback"
	ParamZoneMaxAge      = "zone_max_age_bars"
	ParamBreakBufferATR  = "break_buffer_atr"
	ParamWickBodyRatio   = "wick_body_ratio"
	ParamMinWickATR      = "min_wick_atr"
	ParamMinBarsBetween  = "min_bars_between_trades"
	ParamTriggerBars     = "trigger_bars"
	ParamDurationMinutes = "duration_minutes"
)

type phase int

const (
	phaseNone phase = iota
	phaseBearArmed
	phaseBullArmed
	phaseBearWaitingForBreak
	phaseBullWaitingForBreak
)

func (p phase) String() string {
	return [...]string{"None", "BearArmed", "BullArmed", "BearWaitingForBreak", "BullWaitingForBreak"}[p]
}

func (p phase) bear() bool { return p == phaseBearArmed || p == phaseBearWaitingForBreak }

// Zone is a supply (bear) or demand (bull) price band.
type Zone struct {
	Low, High float64
	Supply    bool
	PivotBar  int // absolute bar index of the founding pivot
}

type symbolState struct {
	bars         *ta.Aggregator
	phase        phase
	zone         Zone
	lastPivotBar int
	trigger      float64
	waitBars     int
	lastTradeBar int
}

// Strategy is the supply/demand pullback FSM.
type Strategy struct {
	mu     sync.Mutex
	states map[string]*symbolState

	barPeriod       time.Duration
	pivotLookback   int
	zoneMaxAge      int
	breakBufferATR  float64
	wickBodyRatio   float64
	minWickATR      float64
	minBarsBetween  int
	triggerBars     int
	durationMinutes int
}

// New creates the strategy with parameters resolved from cfg.
func New(cfg strategy.Config) *Strategy {
	return &Strategy{
		states:          make(map[string]*symbolState),
		barPeriod:       time.Duration(cfg.Float(ParamBarSeconds, 60) * float64(time.Second)),
		pivotLookback:   cfg.Int(ParamPivotLookback, 3),
		zoneMaxAge:      cfg.Int(ParamZoneMaxAge, 60),
		breakBufferATR:  cfg.Float(ParamBreakBufferATR, 0.1),
		wickBodyRatio:   cfg.Float(ParamWickBodyRatio, 1.5),
		minWickATR:      cfg.Float(ParamMinWickATR, 0.3),
		minBarsBetween:  cfg.Int(ParamMinBarsBetween, 5),
		triggerBars:     cfg.Int(ParamTriggerBars, 5),
		durationMinutes: cfg.Int(ParamDurationMinutes, 3),
	}
}

func (s *Strategy) Name() string { return Name }

func (s *Strategy) DefaultDuration() (int, bus.DurationUnit) { return s.durationMinutes, bus.UnitMinutes }

func (s *Strategy) Profile() strategy.Profile {
	return strategy.Profile{
		PreferredRegimes: []market.Regime{market.RegimeRangingHighVol, market.RegimeRangingLowVol, market.RegimeTrendingUp, market.RegimeTrendingDown},
		AvoidRegimes:     []market.Regime{market.RegimeVolatileChoppy},
		MinHeat:          25,
		RegimeBias:       8,
		FitBias:          6,
	}
}

func (s *Strategy) PreferredRegimes() []market.Regime { return s.Profile().PreferredRegimes }

func (s *Strategy) Reset(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, symbol)
}

// Phase reports the FSM state for symbol.
func (s *Strategy) Phase(symbol string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[symbol]; ok {
		return st.phase.String()
	}
	return phaseNone.String()
}

// ActiveZone returns the zone the symbol is armed on.
func (s *Strategy) ActiveZone(symbol string) (Zone, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[symbol]
	if !ok || st.phase == phaseNone {
		return Zone{}, false
	}
	return st.zone, true
}

func (s *Strategy) state(symbol string) *symbolState {
	st, ok := s.states[symbol]
	if !ok {
		st = &symbolState{
			bars:         ta.NewTimeAggregator(s.barPeriod, 0),
			lastPivotBar: -1,
			lastTradeBar: math.MinInt32,
		}
		s.states[symbol] = st
	}
	return st
}

func (st *symbolState) clear() {
	st.phase = phaseNone
	st.zone = Zone{}
	st.trigger = 0
	st.waitBars = 0
}

// Observe keeps zones and their expiry current without checking the
// trigger.
func (s *Strategy) Observe(in strategy.Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(in)
}

func (s *Strategy) advance(in strategy.Input) *symbolState {
	st := s.state(in.Tick.Symbol)
	if st.bars.Add(in.Tick.Time, in.Tick.Quote) {
		s.onBarClose(st)
	}
	return st
}

func (s *Strategy) Evaluate(in strategy.Input) strategy.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.advance(in)

	switch st.phase {
	case phaseBearWaitingForBreak, phaseBullWaitingForBreak:
		return s.checkTrigger(st, in.Tick.Quote)
	}
	return strategy.NoSignal(Name, st.phase.String())
}

func (s *Strategy) onBarClose(st *symbolState) {
	bars := st.bars.Bars()
	last := bars[len(bars)-1]
	lastIdx := st.bars.ClosedCount() - 1
	atr := ta.ATR(bars, 14)

	if st.phase != phaseNone {
		buffer := s.breakBufferATR * atr
		broken := (st.zone.Supply && last.Close > st.zone.High+buffer) ||
			(!st.zone.Supply && last.Close < st.zone.Low-buffer)
		if lastIdx-st.zone.PivotBar > s.zoneMaxAge || broken {
			st.clear()
		}
	}

	if st.phase == phaseNone {
		s.scanZones(st, bars)
		return
	}

	switch st.phase {
	case phaseBearArmed:
		if last.High >= st.zone.Low && s.rejection(bars, atr, true) {
			st.phase = phaseBearWaitingForBreak
			st.trigger = last.Low
			st.waitBars = 0
		}
	case phaseBullArmed:
		if last.Low <= st.zone.High && s.rejection(bars, atr, false) {
			st.phase = phaseBullWaitingForBreak
			st.trigger = last.High
			st.waitBars = 0
		}
	case phaseBearWaitingForBreak, phaseBullWaitingForBreak:
		st.waitBars++
		if st.waitBars > s.triggerBars {
			if st.phase.bear() {
				st.phase = phaseBearArmed
			} else {
				st.phase = phaseBullArmed
			}
		}
	}
}

// scanZones arms on the newest confirmed pivot that forms a lower high or a
// higher low against the previous pivot of the same kind.
func (s *Strategy) scanZones(st *symbolState, bars []ta.Bar) {
	pivots := ta.FindPivots(bars, s.pivotLookback)
	offset := st.bars.ClosedCount() - len(bars)

	var prevHigh, prevLow *ta.Pivot
	var candidate *Zone
	for i := range pivots {
		p := pivots[i]
		abs := offset + p.Index
		b := bars[p.Index]
		if p.High {
			if prevHigh != nil && p.Price < prevHigh.Price && abs > st.lastPivotBar {
				candidate = &Zone{Low: b.BodyTop(), High: b.High, Supply: true, PivotBar: abs}
			}
			prevHigh = &pivots[i]
		} else {
			if prevLow != nil && p.Price > prevLow.Price && abs > st.lastPivotBar {
				candidate = &Zone{Low: b.Low, High: b.BodyBottom(), PivotBar: abs}
			}
			prevLow = &pivots[i]
		}
	}
	if candidate == nil || candidate.High <= candidate.Low {
		return
	}
	last := bars[len(bars)-1]
	if candidate.Supply && last.Close > candidate.High || !candidate.Supply && last.Close < candidate.Low {
		return
	}

	st.zone = *candidate
	st.lastPivotBar = candidate.PivotBar
	if candidate.Supply {
		st.phase = phaseBearArmed
	} else {
		st.phase = phaseBullArmed
	}
}

// rejection checks the last bar for a wick rejection or an engulfing bar
// against the zone direction.
func (s *Strategy) rejection(bars []ta.Bar, atr float64, bear bool) bool {
	last := bars[len(bars)-1]
	body := math.Max(last.Body(), 1e-12)
	if bear {
		if last.UpperWick()/body >= s.wickBodyRatio && last.UpperWick() >= s.minWickATR*atr {
			return true
		}
	} else if last.LowerWick()/body >= s.wickBodyRatio && last.LowerWick() >= s.minWickATR*atr {
		return true
	}
	if len(bars) < 2 {
		return false
	}
	prev := bars[len(bars)-2]
	if bear {
		return prev.Bullish() && last.Bearish() && last.Open >= prev.Close && last.Close <= prev.Open
	}
	return prev.Bearish() && last.Bullish() && last.Open <= prev.Close && last.Close >= prev.Open
}

func (s *Strategy) checkTrigger(st *symbolState, price float64) strategy.Decision {
	bear := st.phase.bear()
	if bear && price >= st.trigger || !bear && price <= st.trigger {
		return strategy.NoSignal(Name, "waiting for trigger break")
	}

	barIdx := st.bars.ClosedCount()
	if barIdx-st.lastTradeBar < s.minBarsBetween {
		st.clear()
		return strategy.NoSignal(Name, "trade spacing")
	}

	zone := st.zone
	st.lastTradeBar = barIdx
	st.clear()

	sig := strategy.SignalBuy
	if bear {
		sig = strategy.SignalSell
	}
	return strategy.Decision{
		StrategyName: Name,
		Signal:       sig,
		Confidence:   0.68,
		Duration:     s.durationMinutes,
		DurationUnit: bus.UnitMinutes,
		Reason:       fmt.Sprintf("zone %.5f-%.5f", zone.Low, zone.High),
	}
}
