// Package engine is the trading orchestrator. A Controller consumes ticks,
// keeps per-symbol analytics for every watched symbol, runs the gated
// decision pipeline for the active symbol and books trade outcomes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/execution"
	"github.com/nexus-trading/pulse/internal/features"
	"github.com/nexus-trading/pulse/internal/market"
	"github.com/nexus-trading/pulse/internal/observability"
	"github.com/nexus-trading/pulse/internal/regime"
	"github.com/nexus-trading/pulse/internal/risk"
	"github.com/nexus-trading/pulse/internal/selector"
	"github.com/nexus-trading/pulse/internal/strategy"
	"github.com/nexus-trading/pulse/internal/tradelog"
	"github.com/rs/zerolog/log"
)

const (
	producerName   = "pulse-engine"
	schemaVersion  = "1"
	publishTimeout = 5 * time.Second
	recentProfitsN = 5
)

// Deps are the collaborators a Controller drives. Runtime, RuleSelector,
// Risk and Dispatcher are required; the rest may be nil.
type Deps struct {
	Runtime      *strategy.Runtime
	Classifier   regime.Classifier
	Extractor    *features.Extractor
	RuleSelector selector.Selector
	MLSelector   selector.Selector
	Risk         *risk.Engine
	Dispatcher   execution.Dispatcher
	Producer     bus.Producer
	TradeLog     tradelog.Logger
	Recorder     *observability.Recorder
}

// TradeRecord is a dispatched trade awaiting its outcome. Features is the
// snapshot taken at dispatch and is never recomputed.
type TradeRecord struct {
	ClientTradeID   string           `json:"client_trade_id"`
	Symbol          string           `json:"symbol"`
	StrategyName    string           `json:"strategy_name"`
	Direction       bus.Direction    `json:"direction"`
	Stake           float64          `json:"stake"`
	Duration        int              `json:"duration"`
	DurationUnit    bus.DurationUnit `json:"duration_unit"`
	Confidence      float64          `json:"confidence"`
	EdgeProbability *float64         `json:"edge_probability,omitempty"`
	QualityScore    float64          `json:"quality_score"`
	Regime          market.Regime    `json:"regime"`
	RegimeScore     float64          `json:"regime_score"`
	Heat            float64          `json:"heat"`
	Features        features.Vector  `json:"features,omitempty"`
	OpenedAt        time.Time        `json:"opened_at"`
}

func (r TradeRecord) clone() TradeRecord {
	r.Features = r.Features.Clone()
	if r.EdgeProbability != nil {
		e := *r.EdgeProbability
		r.EdgeProbability = &e
	}
	return r
}

// Probation is a strategy timed out for poor recent results.
type Probation struct {
	Strategy string    `json:"strategy"`
	Reason   string    `json:"reason"`
	Until    time.Time `json:"until"`
}

// Result reports what one tick did.
type Result struct {
	Dispatched    bool
	ClientTradeID string
	Skip          *SkipReason
}

type symbolState struct {
	ctx            *market.RollingContext
	diag           market.Diagnostics
	heat           float64
	features       features.Vector
	stats          strategy.Stats
	recent         []float64 // trailing profits, ProbationWindow long
	lastTick       time.Time
	disabled       bool
	disabledReason string
}

// Controller owns all trading state behind one mutex. Published events and
// trade-log writes are queued while the lock is held and run after it is
// released.
type Controller struct {
	mu       sync.Mutex
	rules    Rules
	deps     Deps
	analysis market.AnalysisConfig

	state       RunState
	pauseCode   string
	pauseReason string

	watch        map[string]bool // nil watches every symbol
	symbols      map[string]*symbolState
	active       string
	lastRotation time.Time
	lastTick     time.Time

	balance float64
	day     string
	daily   risk.DailyState

	global        strategy.Stats
	stratStats    map[string]strategy.Stats
	stratStake    map[string]float64
	stratRecent   map[string][]float64
	recentProfits []float64
	probations    map[string]Probation

	open         map[string]*TradeRecord
	lastDispatch time.Time
	dispatches   []time.Time

	skips   *skipLog
	pending []func()
}

var _ execution.OutcomeSink = (*Controller)(nil)
var _ observability.StatusSource = (*Controller)(nil)

// NewController validates rules and deps and returns a stopped controller.
func NewController(rules Rules, deps Deps) (*Controller, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Runtime == nil:
		return nil, errors.New("engine: strategy runtime is required")
	case deps.RuleSelector == nil:
		return nil, errors.New("engine: rule selector is required")
	case deps.Risk == nil:
		return nil, errors.New("engine: risk engine is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("engine: dispatcher is required")
	}

	c := &Controller{
		rules:       rules,
		deps:        deps,
		analysis:    market.DefaultAnalysisConfig(),
		state:       StateNotRunning,
		symbols:     make(map[string]*symbolState),
		active:      rules.ActiveSymbol,
		balance:     rules.StartBalance,
		stratStats:  make(map[string]strategy.Stats),
		stratStake:  make(map[string]float64),
		stratRecent: make(map[string][]float64),
		probations:  make(map[string]Probation),
		open:        make(map[string]*TradeRecord),
		skips:       newSkipLog(DefaultSkipLogSize),
	}
	if len(rules.Symbols) > 0 {
		c.watch = make(map[string]bool, len(rules.Symbols))
		for _, s := range rules.Symbols {
			c.watch[s] = true
		}
	}
	c.daily = risk.DailyState{StartBalance: c.balance, Balance: c.balance}
	deps.Recorder.SetBalance(c.balance)
	return c, nil
}

// SetRules swaps the rules after validating them.
func (c *Controller) SetRules(r Rules) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.rules = r
	c.mu.Unlock()
	log.Info().Bool("relaxed", r.RelaxEnvironmentForTesting).Msg("engine rules updated")
	return nil
}

// ---------------------------------------------------------------------------
// Run state
// ---------------------------------------------------------------------------

// Start begins trading. An auto-pause is never left through Start.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAutoPaused {
		return ErrAutoPaused
	}
	c.state, _ = c.state.next(evStart)
	log.Info().Msg("engine started")
	return nil
}

// Stop halts trading. Analytics keep updating.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, _ = c.state.next(evStop)
	log.Info().Str("state", string(c.state)).Msg("engine stopped")
}

// ClearAutoPause resumes after an auto-pause and resets the loss streak.
// Daily limits that still breach pause the engine again on the next tick.
func (c *Controller) ClearAutoPause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, ok := c.state.next(evClear)
	if !ok {
		return ErrNotPaused
	}
	log.Info().Str("code", c.pauseCode).Msg("auto-pause cleared")
	c.state = next
	c.pauseCode, c.pauseReason = "", ""
	c.daily.ConsecutiveLosses = 0
	c.deps.Recorder.SetAutoPaused(false)
	return nil
}

// State returns the run-state name and the pause reason, if any.
func (c *Controller) State() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.state), c.pauseReason
}

func (c *Controller) autoPause(code, reason string) {
	if c.state == StateAutoPaused {
		return
	}
	c.state, _ = c.state.next(evAutoPause)
	c.pauseCode, c.pauseReason = code, reason
	log.Error().
		Str("code", code).
		Str("reason", reason).
		Float64("balance", c.balance).
		Float64("daily_pl", c.daily.DailyPL).
		Msg("engine auto-paused")
	c.deps.Recorder.SetAutoPaused(true)
	c.publish(bus.TopicAutoPause, code, bus.AutoPauseEvent{
		BaseEvent: bus.NewBaseEvent(producerName, schemaVersion),
		Code:      code,
		Reason:    reason,
		Balance:   c.balance,
		DailyPL:   c.daily.DailyPL,
	})
}

// checkGlobal pauses the engine on a safety-limit breach.
func (c *Controller) checkGlobal() bool {
	c.daily.Balance = c.balance
	if b, breached := c.deps.Risk.Check(c.daily); breached {
		c.autoPause(b.Code, b.Reason)
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Ticks
// ---------------------------------------------------------------------------

// HandleTick runs one tick through the pipeline. Ticks must not be handed
// in concurrently for the same symbol; the controller serializes anyway.
func (c *Controller) HandleTick(ctx context.Context, t bus.Tick) Result {
	start := time.Now()
	if c.watch != nil && !c.watch[t.Symbol] {
		return Result{}
	}

	c.mu.Lock()
	res := c.handleTick(ctx, t)
	out := c.drain()
	c.mu.Unlock()

	run(out)
	c.deps.Recorder.Tick(t.Symbol, time.Since(start))
	return res
}

func (c *Controller) handleTick(ctx context.Context, t bus.Tick) Result {
	if math.IsNaN(t.Quote) || math.IsInf(t.Quote, 0) || t.Quote <= 0 {
		if t.Symbol != c.active {
			return Result{}
		}
		return c.skip(t, SkipInvalidPrice, "quote %v", t.Quote)
	}
	st := c.symbol(t.Symbol)
	if t.Time.Before(st.lastTick) {
		log.Debug().Str("symbol", t.Symbol).Time("tick", t.Time).Time("last", st.lastTick).Msg("out-of-order tick dropped")
		return Result{}
	}
	st.lastTick = t.Time
	if t.Time.After(c.lastTick) {
		c.lastTick = t.Time
	}

	st.ctx.AddTick(t)
	c.analyze(t.Symbol, st)
	c.rollDay(t.Time)

	// Strategies see every tick; only ticks that pass the gates may fire.
	in := strategy.Input{
		Tick:        t,
		Context:     st.ctx,
		Diagnostics: st.diag,
		Heat:        st.heat,
	}
	c.maybeRotate(t.Time, false)
	if t.Symbol != c.active {
		c.deps.Runtime.Observe(in)
		return Result{}
	}
	if res, blocked := c.gate(t, st); blocked {
		c.deps.Runtime.Observe(in)
		return res
	}

	allowed := 0
	cands := c.deps.Runtime.Evaluate(in, func(s strategy.Strategy) bool {
		if !c.eligible(s, st.diag.Regime, t.Time) {
			return false
		}
		allowed++
		return true
	})
	if allowed == 0 {
		return c.skip(t, SkipNoEligible, "no strategy eligible in %s", st.diag.Regime)
	}
	if len(cands) == 0 {
		return c.skip(t, SkipNoSignal, "no strategy signalled")
	}

	d, ok := c.selectDecision(t, st, cands)
	if !ok {
		return c.skip(t, SkipNoSignal, "selector returned no trade")
	}
	c.deps.Recorder.Decision(d.StrategyName, d.Signal.String())

	if d.Confidence < c.rules.MinEnsembleConfidence {
		return c.skip(t, SkipLowConfidence, "%s confidence %.2f < %.2f", d.StrategyName, d.Confidence, c.rules.MinEnsembleConfidence)
	}

	ep := expectedProfit(expectancyInput{
		Strategy:      c.stratStats[d.StrategyName],
		StrategyStake: c.stratStake[d.StrategyName],
		Global:        c.global,
		Profile:       c.deps.Runtime.ProfileFor(d.StrategyName),
		Regime:        st.diag.Regime,
	})
	if ep < c.rules.ExpectedProfitFloor {
		if st.heat < c.rules.ColdHeat {
			return c.skip(t, SkipNegativeExpectancy, "expected profit %.3f with heat %.1f", ep, st.heat)
		}
		log.Warn().
			Str("strategy", d.StrategyName).
			Float64("expected_profit", ep).
			Float64("heat", st.heat).
			Msg("negative expectancy, proceeding on warm market")
	}

	for _, chk := range checkEnvironment(c.rules, st.diag, st.heat, st.ctx.LastQuotes(c.rules.SpikeWindow)) {
		if chk.Relaxable && c.rules.RelaxEnvironmentForTesting {
			log.Warn().Str("code", string(chk.Code)).Str("symbol", t.Symbol).Str("detail", chk.Message).Msg("environment check relaxed")
			continue
		}
		return c.skip(t, chk.Code, "%s", chk.Message)
	}

	return c.dispatch(ctx, t, st, d)
}

// gate runs the run-state, safety and pacing checks that come before any
// strategy may fire on the active symbol.
func (c *Controller) gate(t bus.Tick, st *symbolState) (Result, bool) {
	switch c.state {
	case StateAutoPaused:
		return c.skip(t, SkipAutoPaused, "auto-paused: %s", c.pauseReason), true
	case StateRunning:
	default:
		return c.skip(t, SkipNotRunning, "engine %s", c.state), true
	}
	if c.checkGlobal() {
		return c.skip(t, SkipAutoPaused, "auto-paused: %s", c.pauseReason), true
	}
	if st.disabled {
		return c.skip(t, SkipSymbolDisabled, "%s", st.disabledReason), true
	}
	if limit := c.deps.Risk.Settings().MaxOpenTrades; len(c.open) >= limit {
		return c.skip(t, SkipMaxOpenTrades, "%d open trades", len(c.open)), true
	}
	if !c.lastDispatch.IsZero() {
		cd := c.rules.Cooldown(c.daily.ConsecutiveLosses)
		if left := cd - t.Time.Sub(c.lastDispatch); left > 0 {
			return c.skip(t, SkipCooldown, "cooldown %s left", left.Round(time.Second)), true
		}
	}
	if c.rules.MaxTradesPerHour > 0 {
		c.pruneDispatches(t.Time)
		if len(c.dispatches) >= c.rules.MaxTradesPerHour {
			return c.skip(t, SkipHourlyCap, "%d trades in the last hour", len(c.dispatches)), true
		}
	}
	if n := st.ctx.Len(); n < c.rules.WarmupTicks {
		return c.skip(t, SkipWarmup, "%d/%d ticks", n, c.rules.WarmupTicks), true
	}
	return Result{}, false
}

// analyze refreshes diagnostics, heat and features for one symbol.
func (c *Controller) analyze(symbol string, st *symbolState) {
	diag := st.ctx.AnalyzeRegime(c.analysis)
	heat := market.Heat(diag)
	vec := c.extract(st, diag, heat)

	if c.deps.Classifier != nil && st.ctx.Len() >= 2 {
		res, err := c.deps.Classifier.Classify(regime.Input{
			Prices:     st.ctx.LastQuotes(c.rules.ClassifierWindow),
			Volatility: diag.Volatility,
			Slope:      diag.TrendSlope,
			Features:   vec,
		})
		if err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("classifier failed, keeping baseline regime")
		} else {
			diag.Regime, diag.RegimeScore = res.Regime, res.Score
			heat = market.Heat(diag)
			vec = c.extract(st, diag, heat)
		}
	}

	st.diag, st.heat, st.features = diag, heat, vec
	c.deps.Recorder.SetHeat(symbol, heat)
}

func (c *Controller) extract(st *symbolState, diag market.Diagnostics, heat float64) features.Vector {
	if c.deps.Extractor == nil {
		return nil
	}
	vec, err := c.deps.Extractor.Extract(st.ctx, diag, heat)
	if err != nil {
		if !errors.Is(err, features.ErrInsufficientData) {
			log.Debug().Err(err).Str("symbol", st.ctx.Symbol()).Msg("feature extraction failed")
		}
		return nil
	}
	return vec
}

func (c *Controller) symbol(name string) *symbolState {
	st, ok := c.symbols[name]
	if !ok {
		st = &symbolState{ctx: market.NewRollingContext(name, market.DefaultCapacity)}
		c.symbols[name] = st
	}
	return st
}

// rollDay resets the daily counters on a UTC day change. A pause survives.
func (c *Controller) rollDay(now time.Time) {
	day := now.UTC().Format(tradelog.DayLayout)
	if day == c.day {
		return
	}
	if c.day != "" {
		log.Info().
			Str("from", c.day).
			Str("to", day).
			Float64("daily_pl", c.daily.DailyPL).
			Int("trades", c.daily.Trades).
			Msg("trading day rolled over")
	}
	c.day = day
	c.daily = risk.DailyState{StartBalance: c.balance, Balance: c.balance}
}

func (c *Controller) pruneDispatches(now time.Time) {
	cut := now.Add(-time.Hour)
	i := 0
	for i < len(c.dispatches) && !c.dispatches[i].After(cut) {
		i++
	}
	c.dispatches = c.dispatches[i:]
}

// eligible reports whether s may fire in regime r at now: it must not
// avoid the regime or sit on probation.
func (c *Controller) eligible(s strategy.Strategy, r market.Regime, now time.Time) bool {
	if !strategy.Eligible(s, r) {
		return false
	}
	name := s.Name()
	p, on := c.probations[name]
	if !on {
		return true
	}
	if now.Before(p.Until) {
		return false
	}
	delete(c.probations, name)
	log.Info().Str("strategy", name).Msg("strategy probation ended")
	return true
}

// selectDecision uses the model selector once enough history exists and
// the rule selector otherwise or when the model path fails.
func (c *Controller) selectDecision(t bus.Tick, st *symbolState, cands []strategy.Decision) (strategy.Decision, bool) {
	stats := make(map[string]strategy.Stats, len(c.stratStats))
	for k, v := range c.stratStats {
		stats[k] = v
	}
	req := selector.Request{
		Tick:        t,
		Diagnostics: st.diag,
		Features:    st.features.Clone(),
		Heat:        st.heat,
		Stats:       stats,
		Candidates:  cands,
	}

	if c.deps.MLSelector != nil && c.global.Trades() >= c.rules.MLMinTrades {
		d, err := c.deps.MLSelector.Select(req)
		if err == nil {
			return d, d.IsTrade()
		}
		log.Debug().Err(err).Msg("model selector failed, using rules")
	}
	d, err := c.deps.RuleSelector.Select(req)
	if err != nil {
		log.Error().Err(err).Str("symbol", t.Symbol).Msg("rule selector failed")
		return strategy.Decision{}, false
	}
	return d, d.IsTrade()
}

func (c *Controller) dispatch(ctx context.Context, t bus.Tick, st *symbolState, d strategy.Decision) Result {
	dir, ok := d.Signal.Direction()
	if !ok {
		return c.skip(t, SkipNoSignal, "decision has no direction")
	}

	name := d.StrategyName
	ss := c.stratStats[name]
	sizing := c.deps.Risk.Stake(risk.StakeInput{
		Balance:         c.balance,
		Confidence:      d.Confidence,
		EdgeProbability: d.EdgeProbability,
		Regime:          st.diag.Regime,
		RegimeScore:     st.diag.RegimeScore,
		Heat:            st.heat,
		StrategyTrades:  ss.Trades(),
		StrategyWinRate: ss.WinRate(),
		RecentProfits:   append([]float64(nil), c.recentProfits...),
	})
	stake := sizing.Stake.InexactFloat64()
	if stake <= 0 || stake > c.balance {
		return c.skip(t, SkipStake, "stake %s against balance %.2f", sizing.Stake.StringFixed(2), c.balance)
	}

	dur, unit := d.Duration, d.DurationUnit
	if dur <= 0 {
		dur = c.rules.DefaultDuration
	}
	if unit == "" {
		unit = c.rules.DefaultDurationUnit
	}

	rec := &TradeRecord{
		ClientTradeID:   uuid.NewString(),
		Symbol:          t.Symbol,
		StrategyName:    name,
		Direction:       dir,
		Stake:           stake,
		Duration:        dur,
		DurationUnit:    unit,
		Confidence:      d.Confidence,
		EdgeProbability: d.EdgeProbability,
		QualityScore:    d.QualityScore,
		Regime:          st.diag.Regime,
		RegimeScore:     st.diag.RegimeScore,
		Heat:            st.heat,
		Features:        st.features.Clone(),
		OpenedAt:        t.Time,
	}
	req := bus.OrderRequest{
		BaseEvent:     bus.NewBaseEvent(producerName, schemaVersion),
		ClientTradeID: rec.ClientTradeID,
		Symbol:        t.Symbol,
		Stake:         sizing.Stake,
		Direction:     dir,
		StrategyName:  name,
		Duration:      dur,
		DurationUnit:  unit,
		Currency:      c.rules.Currency,
	}

	c.open[rec.ClientTradeID] = rec
	if err := c.deps.Dispatcher.Dispatch(ctx, req); err != nil {
		delete(c.open, rec.ClientTradeID)
		log.Error().Err(err).Str("symbol", t.Symbol).Str("strategy", name).Msg("dispatch failed")
		return c.skip(t, SkipDispatchFailed, "%v", err)
	}
	c.lastDispatch = t.Time
	c.dispatches = append(c.dispatches, t.Time)

	log.Info().
		Str("client_trade_id", rec.ClientTradeID).
		Str("symbol", t.Symbol).
		Str("strategy", name).
		Str("direction", string(dir)).
		Str("stake", sizing.Stake.StringFixed(2)).
		Float64("confidence", d.Confidence).
		Str("regime", string(st.diag.Regime)).
		Msg("trade dispatched")
	c.deps.Recorder.Dispatched(name, t.Symbol)
	c.deps.Recorder.SetOpenTrades(len(c.open))
	c.publishTrade("opened", rec, 0)
	return Result{Dispatched: true, ClientTradeID: rec.ClientTradeID}
}

// skip records a skip reason and returns it as the tick result.
func (c *Controller) skip(t bus.Tick, code SkipCode, format string, args ...any) Result {
	r := SkipReason{Time: t.Time, Symbol: t.Symbol, Code: code, Message: fmt.Sprintf(format, args...)}
	c.skips.add(r)
	c.deps.Recorder.Skip(string(code))
	log.Debug().Str("symbol", t.Symbol).Str("code", string(code)).Msg(r.Message)
	return Result{Skip: &r}
}

// ---------------------------------------------------------------------------
// Venue events
// ---------------------------------------------------------------------------

// HandleTradeOutcome books a settled trade. Unknown or repeated ids are
// ignored.
func (c *Controller) HandleTradeOutcome(o bus.TradeOutcome) {
	c.mu.Lock()
	c.settle(o)
	out := c.drain()
	c.mu.Unlock()
	run(out)
}

func (c *Controller) settle(o bus.TradeOutcome) {
	rec, ok := c.open[o.ClientTradeID]
	if !ok {
		log.Warn().Str("client_trade_id", o.ClientTradeID).Str("strategy", o.StrategyName).Msg("outcome for unknown trade ignored")
		return
	}
	delete(c.open, o.ClientTradeID)

	name, profit := rec.StrategyName, o.Profit
	ss := c.stratStats[name]
	ss.Record(profit)
	c.stratStats[name] = ss
	c.stratStake[name] += rec.Stake
	c.stratRecent[name] = appendCapped(c.stratRecent[name], profit, c.rules.ProbationWindow)
	sym := c.symbol(rec.Symbol)
	sym.stats.Record(profit)
	sym.recent = appendCapped(sym.recent, profit, c.rules.ProbationWindow)
	c.global.Record(profit)
	c.recentProfits = appendCapped(c.recentProfits, profit, recentProfitsN)

	c.balance += profit
	c.daily.Balance = c.balance
	c.daily.DailyPL += profit
	c.daily.Trades++
	if profit > 0 {
		c.daily.Wins++
		c.daily.ConsecutiveLosses = 0
	} else {
		c.daily.ConsecutiveLosses++
	}

	settledAt := c.lastTick
	if settledAt.IsZero() {
		settledAt = rec.OpenedAt
	}
	log.Info().
		Str("client_trade_id", rec.ClientTradeID).
		Str("strategy", name).
		Float64("profit", profit).
		Float64("balance", c.balance).
		Msg("trade settled")

	c.logTrade(settledAt, rec, profit)
	c.publishTrade("settled", rec, profit)
	c.deps.Recorder.Outcome(name, profit)
	c.deps.Recorder.SetBalance(c.balance)
	c.deps.Recorder.SetOpenTrades(len(c.open))

	if reason, d, on := probation(c.rules, c.stratRecent[name]); on {
		p := Probation{Strategy: name, Reason: reason, Until: settledAt.Add(d)}
		c.probations[name] = p
		log.Warn().Str("strategy", name).Str("reason", reason).Time("until", p.Until).Msg("strategy on probation")
	}

	if c.state == StateRunning {
		c.checkGlobal()
	}
}

// HandleOrderRejected cancels the rejected trade. A symbol the venue does
// not offer is disabled for the session.
func (c *Controller) HandleOrderRejected(r bus.OrderRejected) {
	c.mu.Lock()
	c.reject(r)
	out := c.drain()
	c.mu.Unlock()
	run(out)
}

func (c *Controller) reject(r bus.OrderRejected) {
	symbol := r.Symbol
	if rec, ok := c.open[r.ClientTradeID]; ok {
		delete(c.open, r.ClientTradeID)
		if symbol == "" {
			symbol = rec.Symbol
		}
		c.publishTrade("cancelled", rec, 0)
		c.deps.Recorder.SetOpenTrades(len(c.open))
	}
	log.Warn().
		Str("symbol", symbol).
		Str("client_trade_id", r.ClientTradeID).
		Str("code", r.ErrorCode).
		Str("message", r.Message).
		Msg("order rejected")

	at := c.lastTick
	c.skips.add(SkipReason{Time: at, Symbol: symbol, Code: SkipVenueRejected, Message: r.ErrorCode + ": " + r.Message})
	c.deps.Recorder.Skip(string(SkipVenueRejected))

	if r.ErrorCode != bus.CodeSymbolNotOffered || symbol == "" {
		return
	}
	st := c.symbol(symbol)
	if st.disabled {
		return
	}
	st.disabled = true
	st.disabledReason = "not offered: " + r.Message
	c.deps.Runtime.ResetSymbol(symbol)
	log.Warn().Str("symbol", symbol).Msg("symbol disabled for session")
	if symbol == c.active {
		c.maybeRotate(at, true)
	}
}

// ---------------------------------------------------------------------------
// Deferred side effects
// ---------------------------------------------------------------------------

func (c *Controller) publishTrade(phase string, rec *TradeRecord, profit float64) {
	c.publish(bus.TopicTrades, rec.ClientTradeID, bus.TradeEvent{
		BaseEvent:     bus.NewBaseEvent(producerName, schemaVersion),
		Phase:         phase,
		ClientTradeID: rec.ClientTradeID,
		Symbol:        rec.Symbol,
		StrategyName:  rec.StrategyName,
		Direction:     rec.Direction,
		Stake:         rec.Stake,
		Profit:        profit,
		Confidence:    rec.Confidence,
		Regime:        string(rec.Regime),
	})
}

func (c *Controller) publish(topic, key string, v any) {
	p := c.deps.Producer
	if p == nil {
		return
	}
	c.pending = append(c.pending, func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.PublishJSON(ctx, topic, key, v); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("failed to publish engine event")
		}
	})
}

func (c *Controller) logTrade(at time.Time, rec *TradeRecord, profit float64) {
	l := c.deps.TradeLog
	if l == nil {
		return
	}
	e := tradelog.NewEntry(at, rec.Symbol, rec.StrategyName, rec.Direction, rec.Stake, profit, rec.Features)
	e.Regime = string(rec.Regime)
	e.Confidence = rec.Confidence
	if rec.EdgeProbability != nil {
		edge := *rec.EdgeProbability
		e.Edge = &edge
	}
	c.pending = append(c.pending, func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := l.Log(ctx, e); err != nil {
			log.Warn().Err(err).Str("strategy", e.Strategy).Msg("failed to log trade")
		}
	})
}

func (c *Controller) drain() []func() {
	out := c.pending
	c.pending = nil
	return out
}

func run(fns []func()) {
	for _, f := range fns {
		f()
	}
}

func appendCapped(xs []float64, v float64, n int) []float64 {
	xs = append(xs, v)
	if n > 0 && len(xs) > n {
		xs = append(xs[:0:0], xs[len(xs)-n:]...)
	}
	return xs
}
