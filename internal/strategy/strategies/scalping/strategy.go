// Package scalping trades retests of the fast EMA after an impulse bar in
// the direction of the EMA trend.
package scalping

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

const Name = "Scalping"

// Parameter keys used in strategy.Config.Params.
const (
	ParamBarSeconds    = "bar_seconds"
	ParamEMAFast       = "ema_fast"
	ParamEMASlow       = "ema_slow"
	ParamATRPeriod     = "atr_period"
	ParamImpulseATR    = "impulse_atr"
	ParamRetestBars    = "retest_bars"
	ParamMaxStopATR    = "max_stop_atr"
	ParamMinRR         = "min_rr"
	ParamSwingBars     = "swing_bars"
	ParamStopBars      = "stop_bars"
	ParamDurationTicks = "duration_ticks"
)

type phase int

const (
	phaseNone phase = iota
	phaseLongRetest
	phaseShortRetest
)

func (p phase) String() string {
	switch p {
	case phaseLongRetest:
		return "WaitingForLongRetest"
	case phaseShortRetest:
		return "WaitingForShortRetest"
	default:
		return "None"
	}
}

// symbolState is the per-symbol arena; nothing in it is shared.
type symbolState struct {
	bars   *ta.Aggregator
	fast   *ta.EMA
	slow   *ta.EMA
	phase  phase
	waited int
	target float64 // swing extreme the trade aims for
}

// Strategy is the EMA impulse/retest scalper.
type Strategy struct {
	mu     sync.Mutex
	states map[string]*symbolState

	barPeriod     time.Duration
	emaFast       int
	emaSlow       int
	atrPeriod     int
	impulseATR    float64
	retestBars    int
	maxStopATR    float64
	minRR         float64
	swingBars     int
	stopBars      int
	durationTicks int
}

// New creates the strategy with parameters resolved from cfg.
func New(cfg strategy.Config) *Strategy {
	return &Strategy{
		states:        make(map[string]*symbolState),
		barPeriod:     time.Duration(cfg.Float(ParamBarSeconds, 15) * float64(time.Second)),
		emaFast:       cfg.Int(ParamEMAFast, 9),
		emaSlow:       cfg.Int(ParamEMASlow, 19),
		atrPeriod:     cfg.Int(ParamATRPeriod, 14),
		impulseATR:    cfg.Float(ParamImpulseATR, 1.0),
		retestBars:    cfg.Int(ParamRetestBars, 5),
		maxStopATR:    cfg.Float(ParamMaxStopATR, 1.5),
		minRR:         cfg.Float(ParamMinRR, 1.2),
		swingBars:     cfg.Int(ParamSwingBars, 10),
		stopBars:      cfg.Int(ParamStopBars, 5),
		durationTicks: cfg.Int(ParamDurationTicks, 5),
	}
}

func (s *Strategy) Name() string { return Name }

func (s *Strategy) DefaultDuration() (int, bus.DurationUnit) { return s.durationTicks, bus.UnitTicks }

func (s *Strategy) Profile() strategy.Profile {
	return strategy.Profile{
		PreferredRegimes: []market.Regime{market.RegimeTrendingUp, market.RegimeTrendingDown, market.RegimeRangingHighVol},
		AvoidRegimes:     []market.Regime{market.RegimeVolatileChoppy},
		MinHeat:          40,
		MaxHeat:          85,
		RegimeBias:       12,
		FitBias:          8,
	}
}

func (s *Strategy) PreferredRegimes() []market.Regime { return s.Profile().PreferredRegimes }

func (s *Strategy) Reset(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, symbol)
}

func (s *Strategy) state(symbol string) *symbolState {
	st, ok := s.states[symbol]
	if !ok {
		st = &symbolState{
			bars: ta.NewTimeAggregator(s.barPeriod, 0),
			fast: ta.NewEMA(s.emaFast),
			slow: ta.NewEMA(s.emaSlow),
		}
		s.states[symbol] = st
	}
	return st
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

// Observe folds the tick into the bars without checking for a retest.
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
	if st.phase == phaseNone {
		return strategy.NoSignal(Name, "no setup")
	}
	return s.checkRetest(st, in.Tick.Quote)
}

func (st *symbolState) reset() {
	st.phase = phaseNone
	st.waited = 0
	st.target = 0
}

func (s *Strategy) onBarClose(st *symbolState) {
	bars := st.bars.Bars()
	last := bars[len(bars)-1]
	fast := st.fast.Update(last.Close)
	slow := st.slow.Update(last.Close)
	if !st.slow.Ready() {
		return
	}
	atr := ta.ATR(bars, s.atrPeriod)
	if atr <= 0 {
		return
	}

	switch st.phase {
	case phaseNone:
		impulse := last.Body() > s.impulseATR*atr
		switch {
		case impulse && last.Bullish() && fast > slow && last.Close > fast:
			st.phase = phaseLongRetest
			st.waited = 0
			st.target = swingHigh(bars, s.swingBars)
		case impulse && last.Bearish() && fast < slow && last.Close < fast:
			st.phase = phaseShortRetest
			st.waited = 0
			st.target = swingLow(bars, s.swingBars)
		}
	case phaseLongRetest:
		st.waited++
		st.target = math.Max(st.target, last.High)
		if st.waited > s.retestBars || fast <= slow {
			st.reset()
		}
	case phaseShortRetest:
		st.waited++
		st.target = math.Min(st.target, last.Low)
		if st.waited > s.retestBars || fast >= slow {
			st.reset()
		}
	}
}

func (s *Strategy) checkRetest(st *symbolState, price float64) strategy.Decision {
	fast, slow := st.fast.Value(), st.slow.Value()
	bars := st.bars.Bars()
	atr := ta.ATR(bars, s.atrPeriod)
	long := st.phase == phaseLongRetest

	if long {
		if price > fast {
			return strategy.NoSignal(Name, "waiting for retest")
		}
		if price <= slow {
			st.reset()
			return strategy.NoSignal(Name, "retest broke slow ema")
		}
	} else {
		if price < fast {
			return strategy.NoSignal(Name, "waiting for retest")
		}
		if price >= slow {
			st.reset()
			return strategy.NoSignal(Name, "retest broke slow ema")
		}
	}

	var stop, width, reward float64
	if long {
		stop = swingLow(bars, s.stopBars)
		width = price - stop
		reward = st.target - price
	} else {
		stop = swingHigh(bars, s.stopBars)
		width = stop - price
		reward = price - st.target
	}
	if width <= 0 || width > s.maxStopATR*atr {
		st.reset()
		return strategy.NoSignal(Name, "stop width out of range")
	}
	rr := reward / width
	if rr < s.minRR {
		return strategy.NoSignal(Name, "reward:risk too low")
	}

	sig := strategy.SignalSell
	if long {
		sig = strategy.SignalBuy
	}
	st.reset()
	return strategy.Decision{
		StrategyName: Name,
		Signal:       sig,
		Confidence:   math.Min(0.6+0.1*(rr-s.minRR), 0.9),
		Duration:     s.durationTicks,
		DurationUnit: bus.UnitTicks,
		Reason:       fmt.Sprintf("retest rr=%.2f stop=%.5f", rr, stop),
	}
}

func swingHigh(bars []ta.Bar, n int) float64 {
	from := len(bars) - n
	if from < 0 {
		from = 0
	}
	hi := math.Inf(-1)
	for _, b := range bars[from:] {
		hi = math.Max(hi, b.High)
	}
	return hi
}

func swingLow(bars []ta.Bar, n int) float64 {
	from := len(bars) - n
	if from < 0 {
		from = 0
	}
	lo := math.Inf(1)
	for _, b := range bars[from:] {
		lo = math.Min(lo, b.Low)
	}
	return lo
}
