package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 1000, cfg.Advisor.HistoryCapacity)
	assert.Equal(t, 0.5, cfg.Advisor.HybridWeight)
	assert.Equal(t, 100, cfg.Advisor.TrialBudget)
	assert.Equal(t, 15, cfg.Advisor.WarmupTrials)
	assert.Equal(t, 50, cfg.Advisor.DefaultNData)
	assert.Equal(t, 5, cfg.Advisor.MinSnapshots)
	assert.Equal(t, time.Duration(0), cfg.Advisor.ScheduleInterval)
	assert.Equal(t, "Clinkerization", cfg.Advisor.Segment)
	assert.Equal(t, "matern52", cfg.Advisor.Kernel)
	assert.Equal(t, 0.01, cfg.Advisor.ExplorationXi)
	assert.Equal(t, 1e-4, cfg.Advisor.GPNoise)
	assert.Empty(t, cfg.Redis.Addr)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadDevelopmentDebugLevel(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADVISOR_HYBRID_WEIGHT", "0.8")
	t.Setenv("ADVISOR_SCHEDULE_INTERVAL", "5m")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("ADVISOR_KERNEL", "rbf")
	t.Setenv("ADVISOR_EI_XI", "0.05")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Advisor.HybridWeight)
	assert.Equal(t, 5*time.Minute, cfg.Advisor.ScheduleInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "rbf", cfg.Advisor.Kernel)
	assert.Equal(t, 0.05, cfg.Advisor.ExplorationXi)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"weight above one", "ADVISOR_HYBRID_WEIGHT", "1.5"},
		{"negative weight", "ADVISOR_HYBRID_WEIGHT", "-0.1"},
		{"budget not above warmup", "ADVISOR_TRIAL_BUDGET", "15"},
		{"zero capacity", "ADVISOR_HISTORY_CAPACITY", "0"},
		{"zero min snapshots", "ADVISOR_MIN_SNAPSHOTS", "0"},
		{"bad port", "HTTP_PORT", "70000"},
		{"unparseable duration", "ADVISOR_SCHEDULE_INTERVAL", "soon"},
		{"unknown kernel", "ADVISOR_KERNEL", "periodic"},
		{"negative xi", "ADVISOR_EI_XI", "-0.01"},
		{"zero noise", "ADVISOR_GP_NOISE", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
