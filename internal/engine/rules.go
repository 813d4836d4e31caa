package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/nexus-trading/pulse/internal/bus"
)

// Rules are the orchestrator's gating and scheduling parameters. They are
// swapped as a whole between sessions.
type Rules struct {
	Symbols      []string `yaml:"symbols"` // empty watches every symbol seen
	ActiveSymbol string   `yaml:"active_symbol"`
	Currency     string   `yaml:"currency" default:"USD" validate:"required"`
	StartBalance float64  `yaml:"start_balance" default:"1000" validate:"gte=0"`

	DefaultDuration     int              `yaml:"default_duration" default:"5" validate:"gte=1"`
	DefaultDurationUnit bus.DurationUnit `yaml:"default_duration_unit" default:"t" validate:"oneof=t s m h"`

	WarmupTicks      int `yaml:"warmup_ticks" default:"30" validate:"gte=2"`
	ClassifierWindow int `yaml:"classifier_window" default:"50" validate:"gte=10"`

	// Symbol rotation.
	AutoRotate             bool               `yaml:"auto_rotate" default:"true"`
	RotationInterval       time.Duration      `yaml:"rotation_interval" default:"5m"`
	RotationMarginTrending float64            `yaml:"rotation_margin_trending" default:"15" validate:"gte=0"`
	RotationMargin         float64            `yaml:"rotation_margin" default:"5" validate:"gte=0"`
	FamilyBias             map[string]float64 `yaml:"family_bias" default:"{\"1HZ\":3,\"R_\":2,\"BOOM\":-10,\"CRASH\":-10}"`

	// Trade pacing.
	CooldownBase       time.Duration `yaml:"cooldown_base" default:"30s"`
	CooldownMultiplier float64       `yaml:"cooldown_multiplier" default:"1.5" validate:"gte=1"`
	CooldownMax        time.Duration `yaml:"cooldown_max" default:"5m"`
	MaxTradesPerHour   int           `yaml:"max_trades_per_hour" default:"20" validate:"gte=0"` // 0 = unlimited

	// Selection.
	MinEnsembleConfidence float64 `yaml:"min_ensemble_confidence" default:"0.55" validate:"gte=0,lte=1"`
	MLMinTrades           int     `yaml:"ml_min_trades" default:"30" validate:"gte=0"`

	// Expected profit.
	ExpectedProfitFloor float64 `yaml:"expected_profit_floor" default:"-0.05"`
	ColdHeat            float64 `yaml:"cold_heat" default:"35" validate:"gte=0,lte=100"`

	// Environment.
	RelaxEnvironmentForTesting bool    `yaml:"relax_environment_for_testing"`
	MinHeat                    float64 `yaml:"min_heat" default:"20" validate:"gte=0,lte=100"`
	MaxHeat                    float64 `yaml:"max_heat" default:"95" validate:"gtefield=MinHeat,lte=100"`
	MinRegimeScore             float64 `yaml:"min_regime_score" default:"0.4" validate:"gte=0,lte=1"`
	MinVolatility              float64 `yaml:"min_volatility" default:"0.001" validate:"gte=0"`
	MaxVolatility              float64 `yaml:"max_volatility" default:"2" validate:"gtefield=MinVolatility"`
	MaxAbsSlope                float64 `yaml:"max_abs_slope" default:"0.01" validate:"gt=0"`
	SpikeWindow                int     `yaml:"spike_window" default:"30" validate:"gte=6"`
	SpikeLookback              int     `yaml:"spike_lookback" default:"5" validate:"gte=1"`
	SpikeSigma                 float64 `yaml:"spike_sigma" default:"3" validate:"gt=0"`

	// Strategy probation.
	ProbationWindow         int           `yaml:"probation_window" default:"20" validate:"gte=3"`
	ProbationMinTrades      int           `yaml:"probation_min_trades" default:"10" validate:"gte=1"`
	ProbationWinRate        float64       `yaml:"probation_win_rate" default:"40" validate:"gte=0,lte=100"`
	ProbationDuration       time.Duration `yaml:"probation_duration" default:"30m"`
	LossStreakProbation     int           `yaml:"loss_streak_probation" default:"3" validate:"gte=1"`
	LossStreakProbationTime time.Duration `yaml:"loss_streak_probation_time" default:"10m"`
}

// DefaultRules returns Rules with every default applied.
func DefaultRules() Rules {
	var r Rules
	if err := defaults.Set(&r); err != nil {
		panic(fmt.Sprintf("engine rules defaults: %v", err))
	}
	return r
}

// Validate checks field constraints.
func (r Rules) Validate() error {
	if err := validator.New().Struct(r); err != nil {
		return fmt.Errorf("invalid engine rules: %w", err)
	}
	return nil
}

// Cooldown is the pause after a trade: base × multiplier^losses, capped.
func (r Rules) Cooldown(consecutiveLosses int) time.Duration {
	d := float64(r.CooldownBase) * math.Pow(r.CooldownMultiplier, float64(consecutiveLosses))
	if r.CooldownMax > 0 && d > float64(r.CooldownMax) {
		return r.CooldownMax
	}
	return time.Duration(d)
}

// familyBias returns the bias of the longest matching symbol prefix.
func (r Rules) familyBias(symbol string) float64 {
	best, bias := -1, 0.0
	for prefix, b := range r.FamilyBias {
		if strings.HasPrefix(symbol, prefix) && len(prefix) > best {
			best, bias = len(prefix), b
		}
	}
	return bias
}
