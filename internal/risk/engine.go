package risk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Breach codes reported when a safety limit trips.
const (
	BreachDailyDrawdown     = "DAILY_DRAWDOWN"
	BreachDailyLoss         = "DAILY_LOSS"
	BreachProfitTarget      = "DAILY_PROFIT_TARGET"
	BreachProfitAmount      = "DAILY_PROFIT_AMOUNT"
	BreachConsecutiveLosses = "CONSECUTIVE_LOSSES"
	BreachWinRateFloor      = "WIN_RATE_FLOOR"
)

// DailyState is the session P/L picture the limits are checked against.
type DailyState struct {
	StartBalance      float64 `json:"start_balance"`
	Balance           float64 `json:"balance"`
	DailyPL           float64 `json:"daily_pl"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	Trades            int     `json:"trades"`
	Wins              int     `json:"wins"`
}

// WinRate is today's win percentage.
func (d DailyState) WinRate() float64 {
	if d.Trades == 0 {
		return 0
	}
	return float64(d.Wins) / float64(d.Trades) * 100
}

// Breach describes a tripped safety limit.
type Breach struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// CheckLimits returns the first breached limit, in a fixed order: drawdown,
// daily loss, profit target, profit amount, loss streak, win-rate floor.
func (s Settings) CheckLimits(d DailyState) (Breach, bool) {
	if s.DailyDrawdownPercent > 0 && d.StartBalance > 0 && d.DailyPL < 0 {
		if dd := -d.DailyPL / d.StartBalance * 100; dd >= s.DailyDrawdownPercent {
			return Breach{BreachDailyDrawdown, fmt.Sprintf("daily drawdown %.2f%% >= %.2f%%", dd, s.DailyDrawdownPercent)}, true
		}
	}
	if s.MaxDailyLoss > 0 && -d.DailyPL >= s.MaxDailyLoss {
		return Breach{BreachDailyLoss, fmt.Sprintf("daily loss %.2f >= %.2f", -d.DailyPL, s.MaxDailyLoss)}, true
	}
	if s.DailyProfitTargetPercent > 0 && d.StartBalance > 0 {
		if gain := d.DailyPL / d.StartBalance * 100; gain >= s.DailyProfitTargetPercent {
			return Breach{BreachProfitTarget, fmt.Sprintf("daily profit %.2f%% reached target %.2f%%", gain, s.DailyProfitTargetPercent)}, true
		}
	}
	if s.DailyProfitAmount > 0 && d.DailyPL >= s.DailyProfitAmount {
		return Breach{BreachProfitAmount, fmt.Sprintf("daily profit %.2f reached %.2f", d.DailyPL, s.DailyProfitAmount)}, true
	}
	if s.MaxConsecutiveLosses > 0 && d.ConsecutiveLosses >= s.MaxConsecutiveLosses {
		return Breach{BreachConsecutiveLosses, fmt.Sprintf("%d consecutive losses", d.ConsecutiveLosses)}, true
	}
	if s.MinWinRatePercent > 0 && d.Trades >= s.MinTradesForWinRate && d.WinRate() < s.MinWinRatePercent {
		return Breach{BreachWinRateFloor, fmt.Sprintf("win rate %.1f%% < %.1f%% after %d trades", d.WinRate(), s.MinWinRatePercent, d.Trades)}, true
	}
	return Breach{}, false
}

// Engine holds the active Settings and counts sizing and limit decisions.
// Settings are replaced wholesale, so a decision never sees a mix of old and
// new values.
type Engine struct {
	mu       sync.RWMutex
	settings Settings

	sized    atomic.Int64
	breaches atomic.Int64
}

// New creates a risk engine.
func New(s Settings) *Engine {
	return &Engine{settings: s}
}

// Settings returns a copy of the active settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// SetSettings swaps the settings after validating them.
func (e *Engine) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	log.Info().Float64("risk_fraction", s.RiskPerTradeFraction).Bool("dynamic", s.DynamicSizing).Msg("risk settings updated")
	return nil
}

// Stake sizes one trade.
func (e *Engine) Stake(in StakeInput) Sizing {
	sz := e.Settings().ComputeDynamicStake(in)
	e.sized.Add(1)
	log.Debug().
		Float64("base", sz.Base).
		Str("stake", sz.Stake.StringFixed(2)).
		Int("factors", len(sz.Factors)).
		Msg("stake sized")
	return sz
}

// BaseStake is the static stake for balance.
func (e *Engine) BaseStake(balance float64) decimal.Decimal {
	return e.Settings().ComputeStake(balance)
}

// Check evaluates the safety limits against d.
func (e *Engine) Check(d DailyState) (Breach, bool) {
	b, ok := e.Settings().CheckLimits(d)
	if ok {
		e.breaches.Add(1)
		log.Warn().Str("code", b.Code).Str("reason", b.Reason).Msg("risk limit breached")
	}
	return b, ok
}

// Metrics returns risk engine counters.
func (e *Engine) Metrics() map[string]interface{} {
	s := e.Settings()
	return map[string]interface{}{
		"stakes_sized":   e.sized.Load(),
		"breaches_total": e.breaches.Load(),
		"dynamic_sizing": s.DynamicSizing,
		"max_open":       s.MaxOpenTrades,
	}
}
