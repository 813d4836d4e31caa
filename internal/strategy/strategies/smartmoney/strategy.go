// Package smartmoney trades liquidity sweeps of equal highs and lows that are
// followed by a change of character.
package smartmoney

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

const Name = "SmartMoneySweep"

// Parameter keys used in strategy.Config.Params.
const (
	ParamBarSeconds      = "bar_seconds"
	ParamPivotLookback   = "pivot_lookback"
	ParamATRPeriod       = "atr_period"
	ParamEqualTolATR     = "equal_tolerance_atr"
	ParamTimeoutBars     = "timeout_bars"
	ParamDurationMinutes = "duration_minutes"
)

const (
	DefaultBarSeconds      = 60
	DefaultPivotLookback   = 2
	DefaultATRPeriod       = 14
	DefaultEqualTolATR     = 0.1
	DefaultTimeoutBars     = 20
	DefaultDurationMinutes = 3
)

type phase int

const (
	phaseSearching phase = iota
	phaseLiquidityTaken
	phaseWaitingEntry
)

func (p phase) String() string {
	switch p {
	case phaseLiquidityTaken:
		return "LiquidityTaken"
	case phaseWaitingEntry:
		return "WaitingEntry"
	default:
		return "Searching"
	}
}

// Setup describes a swept pool. Bearish setups sweep equal highs and sell.
type Setup struct {
	Bearish      bool
	Pool         float64 // equal high/low level
	SweepExtreme float64
	Structure    float64 // pre-sweep swing the CHoCH must close through
}

type symbolState struct {
	bars      *ta.Aggregator
	phase     phase
	setup     Setup
	bars0     int // closed count when the phase was entered
	usedPivot int // absolute index of the newest pivot already used in a pool
}

// Strategy is the liquidity sweep FSM.
type Strategy struct {
	mu     sync.Mutex
	states map[string]*symbolState

	barPeriod       time.Duration
	pivotLookback   int
	atrPeriod       int
	equalTolATR     float64
	timeoutBars     int
	durationMinutes int
}

// New creates the strategy with parameters resolved from cfg.
func New(cfg strategy.Config) *Strategy {
	return &Strategy{
		states:          make(map[string]*symbolState),
		barPeriod:       time.Duration(cfg.Float(ParamBarSeconds, DefaultBarSeconds) * float64(time.Second)),
		pivotLookback:   cfg.Int(ParamPivotLookback, DefaultPivotLookback),
		atrPeriod:       cfg.Int(ParamATRPeriod, DefaultATRPeriod),
		equalTolATR:     cfg.Float(ParamEqualTolATR, DefaultEqualTolATR),
		timeoutBars:     cfg.Int(ParamTimeoutBars, DefaultTimeoutBars),
		durationMinutes: cfg.Int(ParamDurationMinutes, DefaultDurationMinutes),
	}
}

func (s *Strategy) Name() string { return Name }

func (s *Strategy) DefaultDuration() (int, bus.DurationUnit) { return s.durationMinutes, bus.UnitMinutes }

func (s *Strategy) Profile() strategy.Profile {
	return strategy.Profile{
		PreferredRegimes: []market.Regime{market.RegimeRangingHighVol, market.RegimeRangingLowVol, market.RegimeVolatileChoppy},
		AvoidRegimes:     []market.Regime{market.RegimeUnknown},
		MinHeat:          20,
		MaxHeat:          90,
		RegimeBias:       8,
		FitBias:          8,
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
	return phaseSearching.String()
}

// ActiveSetup returns the sweep being tracked for symbol.
func (s *Strategy) ActiveSetup(symbol string) (Setup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[symbol]
	if !ok || st.phase == phaseSearching {
		return Setup{}, false
	}
	return st.setup, true
}

func (s *Strategy) state(symbol string) *symbolState {
	st, ok := s.states[symbol]
	if !ok {
		st = &symbolState{bars: ta.NewTimeAggregator(s.barPeriod, 0), usedPivot: -1}
		s.states[symbol] = st
	}
	return st
}

func (st *symbolState) enter(p phase) {
	st.phase = p
	st.bars0 = st.bars.ClosedCount()
	if p == phaseSearching {
		st.setup = Setup{}
	}
}

// Observe advances the sweep search on bar closes; an armed setup waits
// for the next Evaluate.
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
	if st.phase != phaseWaitingEntry {
		return strategy.NoSignal(Name, st.phase.String())
	}

	price := in.Tick.Quote
	su := st.setup
	lo, hi := math.Min(su.Structure, su.SweepExtreme), math.Max(su.Structure, su.SweepExtreme)
	if price < lo || price > hi {
		return strategy.NoSignal(Name, "waiting for re-entry")
	}

	st.enter(phaseSearching)
	sig := strategy.SignalBuy
	if su.Bearish {
		sig = strategy.SignalSell
	}
	return strategy.Decision{
		StrategyName: Name,
		Signal:       sig,
		Confidence:   0.7,
		Duration:     s.durationMinutes,
		DurationUnit: bus.UnitMinutes,
		Reason:       fmt.Sprintf("sweep of %.5f, choch %.5f", su.Pool, su.Structure),
	}
}

func (s *Strategy) onBarClose(st *symbolState) {
	bars := st.bars.Bars()
	last := bars[len(bars)-1]

	if st.phase != phaseSearching {
		su := st.setup
		invalid := (su.Bearish && last.Close > su.SweepExtreme) || (!su.Bearish && last.Close < su.SweepExtreme)
		if invalid || st.bars.ClosedCount()-st.bars0 > s.timeoutBars {
			st.enter(phaseSearching)
			return
		}
	}

	switch st.phase {
	case phaseSearching:
		s.searchSweep(st, bars)
	case phaseLiquidityTaken:
		su := st.setup
		if (su.Bearish && last.Close < su.Structure) || (!su.Bearish && last.Close > su.Structure) {
			st.enter(phaseWaitingEntry)
		}
	}
}

// searchSweep looks for the last bar wicking through an equal-high or
// equal-low pool and closing back inside it.
func (s *Strategy) searchSweep(st *symbolState, bars []ta.Bar) {
	pivots := ta.FindPivots(bars, s.pivotLookback)
	if len(pivots) < 3 {
		return
	}
	offset := st.bars.ClosedCount() - len(bars)
	tol := s.equalTolATR * ta.ATR(bars, s.atrPeriod)
	last := bars[len(bars)-1]

	var highs, lows []ta.Pivot
	for _, p := range pivots {
		if offset+p.Index <= st.usedPivot {
			continue
		}
		if p.High {
			highs = append(highs, p)
		} else {
			lows = append(lows, p)
		}
	}

	if pool, newest, ok := equalPair(highs, tol); ok && last.High > pool && last.Close < pool && len(lows) > 0 {
		st.setup = Setup{Bearish: true, Pool: pool, SweepExtreme: last.High, Structure: lows[len(lows)-1].Price}
		st.usedPivot = offset + newest
		st.enter(phaseLiquidityTaken)
		return
	}
	if pool, newest, ok := equalPair(lows, tol); ok && last.Low < pool && last.Close > pool && len(highs) > 0 {
		st.setup = Setup{Pool: pool, SweepExtreme: last.Low, Structure: highs[len(highs)-1].Price}
		st.usedPivot = offset + newest
		st.enter(phaseLiquidityTaken)
	}
}

// equalPair reports whether the two most recent pivots are within tol and
// returns the outer level of the pair.
func equalPair(ps []ta.Pivot, tol float64) (float64, int, bool) {
	if len(ps) < 2 || tol <= 0 {
		return 0, 0, false
	}
	a, b := ps[len(ps)-2], ps[len(ps)-1]
	if math.Abs(a.Price-b.Price) > tol {
		return 0, 0, false
	}
	if a.High {
		return math.Max(a.Price, b.Price), b.Index, true
	}
	return math.Min(a.Price, b.Price), b.Index, true
}
