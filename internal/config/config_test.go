package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "pulse-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(body)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  log_level: "debug"
  auto_start: false

engine:
  symbols: ["R_100", "1HZ100V"]
  active_symbol: "R_100"
  cooldown_base: 45s
  relax_environment_for_testing: true
  family_bias:
    JD: 1

risk:
  risk_per_trade_fraction: 0.02
  max_consecutive_losses: 3

strategies:
  scalping:
    disabled: true
  momentum:
    params:
      lookback: 12

models:
  regime_path: "/models/regime.json"

feed:
  deriv:
    app_id: "4242"
  gap_threshold: 10s

kafka:
  enabled: true
  brokers:
    - "localhost:19092"

clickhouse:
  enabled: true
  dsn: "clickhouse://localhost:9000/pulse_test"
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.False(t, cfg.General.AutoStart)
	assert.Equal(t, []string{"R_100", "1HZ100V"}, cfg.Engine.Symbols)
	assert.Equal(t, 45*time.Second, cfg.Engine.CooldownBase)
	assert.True(t, cfg.Engine.RelaxEnvironmentForTesting)
	assert.Equal(t, 1.0, cfg.Engine.FamilyBias["JD"])
	assert.Equal(t, 3.0, cfg.Engine.FamilyBias["1HZ"])
	assert.Equal(t, 0.02, cfg.Risk.RiskPerTradeFraction)
	assert.Equal(t, 3, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, 0.35, cfg.Risk.MinStake)
	assert.True(t, cfg.Strategies["scalping"].Disabled)
	assert.Equal(t, 12, cfg.Strategies.For("momentum").Int("lookback", 5))
	assert.Equal(t, 5, cfg.Strategies.For("breakout").Int("lookback", 5))
	assert.Equal(t, "/models/regime.json", cfg.Models.RegimePath)
	assert.Equal(t, "4242", cfg.Feed.Deriv.AppID)
	assert.Equal(t, "wss://ws.derivws.com/websockets/v3", cfg.Feed.Deriv.URL)
	assert.Equal(t, 10*time.Second, cfg.Feed.GapThreshold)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "clickhouse://localhost:9000/pulse_test", cfg.ClickHouse.DSN)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "general:\n  log_format: text\n"))
	require.NoError(t, err)

	assert.Equal(t, "pulse-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "text", cfg.General.LogFormat)
	assert.True(t, cfg.General.AutoStart)
	assert.Equal(t, "USD", cfg.Engine.Currency)
	assert.Equal(t, 30, cfg.Engine.WarmupTicks)
	assert.Equal(t, 5*time.Minute, cfg.Engine.RotationInterval)
	assert.Equal(t, 0.01, cfg.Risk.RiskPerTradeFraction)
	assert.Equal(t, 0.55, cfg.Models.ConfidenceFloor)
	assert.True(t, cfg.Paper.Enabled)
	assert.Equal(t, 0.95, cfg.Paper.PayoutRatio)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 500, cfg.ClickHouse.BatchSize)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, time.Minute, cfg.Feed.MaxSilence)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_PULSE_INSTANCE", "env-node")
	t.Setenv("TEST_PULSE_TOKEN", "secret")

	yaml := `
general:
  instance_id: "${TEST_PULSE_INSTANCE}"
feed:
  deriv:
    token: "${TEST_PULSE_TOKEN}"
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "env-node", cfg.General.InstanceID)
	assert.Equal(t, "secret", cfg.Feed.Deriv.Token)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "general:\n  log_level: loud\n"},
		{"engine rules", "engine:\n  min_heat: 80\n  max_heat: 50\n"},
		{"risk settings", "risk:\n  min_stake: 10\n  max_stake: 5\n"},
		{"live without token", "paper:\n  enabled: false\n"},
		{"kafka without brokers", "kafka:\n  enabled: true\n  brokers: []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/pulse.yaml")
	assert.Error(t, err)
}
