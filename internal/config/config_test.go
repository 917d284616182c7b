package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	cfg := loaded.Config
	assert.Equal(t, "https://api.mexc.com", cfg.Mexc.BaseURL)
	assert.InDelta(t, 5.0, cfg.Mexc.MaxRPS, 1e-9)
	assert.Equal(t, 4, cfg.Mexc.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.Sampling.Spread.Duration.D())
	assert.Equal(t, "USDT", cfg.Universe.QuoteAsset)
	assert.Equal(t, "warn", cfg.Pipeline.TimeoutPolicy)
	assert.True(t, cfg.Pipeline.FailFast)
	assert.NotEmpty(t, loaded.Hash())
}

func TestLoadOverridesFromFile(t *testing.T) {
	loaded, err := Load(writeConfig(t, `
mexc:
  max_rps: 2
  max_retries: 1
sampling:
  spread:
    duration: 2m
    interval: 5s
thresholds:
  spread:
    median_max_bps: 25
pipeline:
  timeout_policy: fail
  stage_timeouts:
    spread: 5m
`))
	require.NoError(t, err)

	cfg := loaded.Config
	assert.InDelta(t, 2.0, cfg.Mexc.MaxRPS, 1e-9)
	assert.Equal(t, 1, cfg.Mexc.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Sampling.Spread.Duration.D())
	assert.Equal(t, 5*time.Second, cfg.Sampling.Spread.Interval.D())
	assert.InDelta(t, 25.0, cfg.Thresholds.Spread.MedianMaxBps, 1e-9)
	assert.Equal(t, "fail", cfg.Pipeline.TimeoutPolicy)
	assert.Equal(t, 5*time.Minute, cfg.StageTimeout("spread"))
	assert.Zero(t, cfg.StageTimeout("depth"), "unset stage timeout is zero")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MEXSCAN_MEXC_MAX_RPS", "3.5")
	t.Setenv("MEXSCAN_OBS_LOG_LEVEL", "debug")

	loaded, err := Load(writeConfig(t, "mexc:\n  max_rps: 2\n"))
	require.NoError(t, err)

	assert.InDelta(t, 3.5, loaded.Config.Mexc.MaxRPS, 1e-9, "env wins over file")
	assert.Equal(t, "debug", loaded.Config.Obs.LogLevel)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "mexc:\n  maks_rps: 2\n"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"non-positive rps", "mexc:\n  max_rps: 0\n"},
		{"negative retries", "mexc:\n  max_retries: -1\n"},
		{"bad log level", "obs:\n  log_level: loud\n"},
		{"uptime above one", "thresholds:\n  uptime_min: 1.5\n"},
		{"bad timeout policy", "pipeline:\n  timeout_policy: maybe\n"},
		{"median corridor inverted", "thresholds:\n  spread:\n    median_min_bps: 50\n    median_max_bps: 10\n"},
		{"zero stage timeout", "pipeline:\n  stage_timeouts:\n    spread: 0s\n"},
		{"backoff max below base", "mexc:\n  backoff_base: 10s\n  backoff_max: 1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDurationYAMLForms(t *testing.T) {
	loaded, err := Parse([]byte("sampling:\n  spread:\n    duration: 90\n    interval: 10s\n"))
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, loaded.Config.Sampling.Spread.Duration.D(), "bare numbers are seconds")
	assert.Equal(t, 10*time.Second, loaded.Config.Sampling.Spread.Interval.D())
}

func TestHashStableAcrossLoads(t *testing.T) {
	path := writeConfig(t, "mexc:\n  max_rps: 2\n")
	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, first.Hash(), second.Hash())
}
