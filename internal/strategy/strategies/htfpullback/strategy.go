// Package htfpullback trades a higher-timeframe trend: H1 EMA bias, an M15
// pullback into the EMA value zone, then an M5 break of structure.
package htfpullback

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

const Name = "HTFPullbackBOS"

// Parameter keys used in strategy.Config.Params.
const (
	ParamHTFSeconds      = "htf_seconds"
	ParamMTFSeconds      = "mtf_seconds"
	ParamLTFSeconds      = "ltf_seconds"
	ParamBiasFast        = "bias_ema_fast"
	ParamBiasSlow        = "bias_ema_slow"
	ParamZoneFast        = "zone_ema_fast"
	ParamZoneSlow        = "zone_ema_slow"
	ParamPivotLookback   = "pivot_lookback"
	ParamBOSBufferATR    = "bos_buffer_atr"
	ParamMinBodyRatio    = "min_body_ratio"
	ParamPullbackBars    = "pullback_bars"
	ParamArmedBars       = "armed_bars"
	ParamCooldownSeconds = "cooldown_seconds"
	ParamDurationMinutes = "duration_minutes"
)

type phase int

const (
	phaseIdle phase = iota
	phaseBiasOk
	phasePullback
	phaseArmed
	phaseCooldown
)

func (p phase) String() string {
	return [...]string{"Idle", "BiasOk", "Pullback", "Armed", "Cooldown"}[p]
}

type symbolState struct {
	htf, mtf, ltf      *ta.Aggregator
	biasFast, biasSlow *ta.EMA
	zoneFast, zoneSlow *ta.EMA

	phase         phase
	bias          int // +1 long, -1 short, 0 none
	setupBias     int
	pullbackBars  int
	armedBars     int
	pivotLevel    float64
	cooldownUntil time.Time
}

// Strategy is the multi-timeframe pullback / break-of-structure FSM.
type Strategy struct {
	mu     sync.Mutex
	states map[string]*symbolState

	htf, mtf, ltf   time.Duration
	biasFast        int
	biasSlow        int
	zoneFast        int
	zoneSlow        int
	pivotLookback   int
	bosBufferATR    float64
	minBodyRatio    float64
	pullbackBars    int
	armedBars       int
	cooldown        time.Duration
	durationMinutes int
}

func seconds(cfg strategy.Config, key string, def float64) time.Duration {
	return time.Duration(cfg.Float(key, def) * float64(time.Second))
}

// New creates the strategy with parameters resolved from cfg.
func New(cfg strategy.Config) *Strategy {
	return &Strategy{
		states:          make(map[string]*symbolState),
		htf:             seconds(cfg, ParamHTFSeconds, 3600),
		mtf:             seconds(cfg, ParamMTFSeconds, 900),
		ltf:             seconds(cfg, ParamLTFSeconds, 300),
		biasFast:        cfg.Int(ParamBiasFast, 50),
		biasSlow:        cfg.Int(ParamBiasSlow, 200),
		zoneFast:        cfg.Int(ParamZoneFast, 20),
		zoneSlow:        cfg.Int(ParamZoneSlow, 50),
		pivotLookback:   cfg.Int(ParamPivotLookback, 2),
		bosBufferATR:    cfg.Float(ParamBOSBufferATR, 0.1),
		minBodyRatio:    cfg.Float(ParamMinBodyRatio, 0.5),
		pullbackBars:    cfg.Int(ParamPullbackBars, 8),
		armedBars:       cfg.Int(ParamArmedBars, 12),
		cooldown:        seconds(cfg, ParamCooldownSeconds, 1800),
		durationMinutes: cfg.Int(ParamDurationMinutes, 5),
	}
}

func (s *Strategy) Name() string { return Name }

func (s *Strategy) DefaultDuration() (int, bus.DurationUnit) { return s.durationMinutes, bus.UnitMinutes }

func (s *Strategy) Profile() strategy.Profile {
	return strategy.Profile{
		PreferredRegimes: []market.Regime{market.RegimeTrendingUp, market.RegimeTrendingDown, market.RegimeRangingHighVol},
		AvoidRegimes:     []market.Regime{market.RegimeVolatileChoppy},
		MinHeat:          30,
		MaxHeat:          90,
		RegimeBias:       18,
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
	return phaseIdle.String()
}

func (s *Strategy) state(symbol string) *symbolState {
	st, ok := s.states[symbol]
	if !ok {
		st = &symbolState{
			htf:      ta.NewTimeAggregator(s.htf, 0),
			mtf:      ta.NewTimeAggregator(s.mtf, 0),
			ltf:      ta.NewTimeAggregator(s.ltf, 0),
			biasFast: ta.NewEMA(s.biasFast),
			biasSlow: ta.NewEMA(s.biasSlow),
			zoneFast: ta.NewEMA(s.zoneFast),
			zoneSlow: ta.NewEMA(s.zoneSlow),
		}
		s.states[symbol] = st
	}
	return st
}

func (st *symbolState) toIdle() {
	st.phase = phaseIdle
	st.setupBias = 0
	st.pullbackBars = 0
	st.armedBars = 0
	st.pivotLevel = 0
}

func (s *Strategy) Evaluate(in strategy.Input) strategy.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step(in, true)
}

// Observe runs the FSM without firing: an armed setup still ages out but
// the break is not checked.
func (s *Strategy) Observe(in strategy.Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step(in, false)
}

func (s *Strategy) step(in strategy.Input, emit bool) strategy.Decision {
	t, p := in.Tick.Time, in.Tick.Quote
	st := s.state(in.Tick.Symbol)

	if st.htf.Add(t, p) {
		s.updateBias(st)
	}
	mtfClosed := st.mtf.Add(t, p)
	if mtfClosed {
		last, _ := st.mtf.Last()
		st.zoneFast.Update(last.Close)
		st.zoneSlow.Update(last.Close)
	}
	ltfClosed := st.ltf.Add(t, p)

	if st.phase == phaseCooldown {
		if t.Before(st.cooldownUntil) {
			return strategy.NoSignal(Name, "cooldown")
		}
		st.toIdle()
	}

	if st.phase != phaseIdle && st.bias != st.setupBias {
		st.toIdle()
	}

	switch st.phase {
	case phaseIdle:
		if st.bias != 0 {
			st.phase = phaseBiasOk
			st.setupBias = st.bias
		}
	case phaseBiasOk:
		if mtfClosed && s.pullbackConfirmed(st) {
			st.phase = phasePullback
			st.pullbackBars = 0
		}
	case phasePullback:
		if mtfClosed {
			st.pullbackBars++
			if st.pullbackBars > s.pullbackBars || s.pullbackFailed(st) {
				st.toIdle()
				break
			}
		}
		if ltfClosed {
			if level, ok := s.structureLevel(st); ok {
				st.phase = phaseArmed
				st.pivotLevel = level
				st.armedBars = 0
			}
		}
	case phaseArmed:
		if !ltfClosed {
			break
		}
		if emit {
			if d, fired := s.checkBreak(st, t); fired {
				return d
			}
		}
		st.armedBars++
		if st.armedBars > s.armedBars {
			st.toIdle()
		}
	}
	return strategy.NoSignal(Name, st.phase.String())
}

func (s *Strategy) updateBias(st *symbolState) {
	last, _ := st.htf.Last()
	fast := st.biasFast.Update(last.Close)
	slow := st.biasSlow.Update(last.Close)
	st.bias = 0
	if !st.biasSlow.Ready() {
		return
	}
	rising := fast > st.biasFast.Prev()
	switch {
	case fast > slow && rising:
		st.bias = 1
	case fast < slow && fast < st.biasFast.Prev():
		st.bias = -1
	}
}

func (s *Strategy) zone(st *symbolState) (lo, hi float64, ok bool) {
	if !st.zoneSlow.Ready() {
		return 0, 0, false
	}
	a, b := st.zoneFast.Value(), st.zoneSlow.Value()
	return math.Min(a, b), math.Max(a, b), true
}

// pullbackConfirmed: the last M15 bar reached into the value zone without
// closing through it, and its range contracted against the previous bar.
func (s *Strategy) pullbackConfirmed(st *symbolState) bool {
	lo, hi, ok := s.zone(st)
	bars := st.mtf.Bars()
	if !ok || len(bars) < 2 {
		return false
	}
	last, prev := bars[len(bars)-1], bars[len(bars)-2]
	decel := last.Range() < prev.Range()
	if st.setupBias > 0 {
		return last.Low <= hi && last.Close >= lo && decel
	}
	return last.High >= lo && last.Close <= hi && decel
}

func (s *Strategy) pullbackFailed(st *symbolState) bool {
	lo, hi, ok := s.zone(st)
	last, _ := st.mtf.Last()
	if !ok {
		return true
	}
	if st.setupBias > 0 {
		return last.Close < lo
	}
	return last.Close > hi
}

// structureLevel is the latest confirmed M5 pivot opposite the pullback:
// the last pivot high for a long, the last pivot low for a short.
func (s *Strategy) structureLevel(st *symbolState) (float64, bool) {
	high, low := ta.LastPivots(ta.FindPivots(st.ltf.Bars(), s.pivotLookback))
	if st.setupBias > 0 && high != nil {
		return high.Price, true
	}
	if st.setupBias < 0 && low != nil {
		return low.Price, true
	}
	return 0, false
}

func (s *Strategy) checkBreak(st *symbolState, t time.Time) (strategy.Decision, bool) {
	bars := st.ltf.Bars()
	last := bars[len(bars)-1]
	buffer := s.bosBufferATR * ta.ATR(bars, 14)
	strong := last.Range() > 0 && last.Body() >= s.minBodyRatio*last.Range()

	var sig strategy.Signal
	switch {
	case st.setupBias > 0 && last.Bullish() && strong && last.Close > st.pivotLevel+buffer:
		sig = strategy.SignalBuy
	case st.setupBias < 0 && last.Bearish() && strong && last.Close < st.pivotLevel-buffer:
		sig = strategy.SignalSell
	default:
		return strategy.Decision{}, false
	}

	level := st.pivotLevel
	st.toIdle()
	st.phase = phaseCooldown
	st.cooldownUntil = t.Add(s.cooldown)

	return strategy.Decision{
		StrategyName: Name,
		Signal:       sig,
		Confidence:   0.72,
		Duration:     s.durationMinutes,
		DurationUnit: bus.UnitMinutes,
		Reason:       fmt.Sprintf("bos through %.5f", level),
	}, true
}
