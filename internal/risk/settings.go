package risk

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Settings are the sizing and safety-limit parameters. They are swapped as a
// whole through Engine.SetSettings, never edited field by field.
type Settings struct {
	RiskPerTradeFraction      float64 `yaml:"risk_per_trade_fraction" default:"0.01" validate:"gt=0,lte=1"`
	MinStake                  float64 `yaml:"min_stake" default:"0.35" validate:"gt=0"`
	MaxStake                  float64 `yaml:"max_stake" default:"50" validate:"gtefield=MinStake"`
	MaxStakeAsBalanceFraction float64 `yaml:"max_stake_as_balance_fraction" default:"0.05" validate:"gt=0,lte=1"`
	DynamicSizing             bool    `yaml:"dynamic_sizing" default:"true"`

	DailyDrawdownPercent     float64 `yaml:"daily_drawdown_percent" default:"10" validate:"gte=0,lte=100"`
	MaxDailyLoss             float64 `yaml:"max_daily_loss" default:"50" validate:"gte=0"`
	DailyProfitTargetPercent float64 `yaml:"daily_profit_target_percent" validate:"gte=0"` // 0 = off
	DailyProfitAmount        float64 `yaml:"daily_profit_amount" validate:"gte=0"`         // 0 = off
	MaxConsecutiveLosses     int     `yaml:"max_consecutive_losses" default:"5" validate:"gte=0"`
	MinWinRatePercent        float64 `yaml:"min_win_rate_percent" default:"35" validate:"gte=0,lte=100"`
	MinTradesForWinRate      int     `yaml:"min_trades_for_win_rate" default:"20" validate:"gte=1"`
	MaxOpenTrades            int     `yaml:"max_open_trades" default:"1" validate:"gte=1"`
}

// DefaultSettings returns Settings with every default applied.
func DefaultSettings() Settings {
	var s Settings
	if err := defaults.Set(&s); err != nil {
		panic(fmt.Sprintf("risk defaults: %v", err))
	}
	return s
}

// Validate checks field constraints.
func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid risk settings: %w", err)
	}
	return nil
}
