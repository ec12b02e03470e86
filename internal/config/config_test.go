package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sources.yaml", cfg.Registry.CatalogPath)
	assert.Equal(t, 8, cfg.Executor.MaxConcurrent)
	assert.Equal(t, 2, cfg.Executor.RetryAttempts)
	assert.Equal(t, 30, cfg.Executor.StageTimeoutSecs)
	assert.Equal(t, 300, cfg.Executor.OverallTimeoutSecs)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60, cfg.Breaker.CoolDownSecs)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.InDelta(t, 2.5, cfg.Anomaly.DeviationSigma, 0.001)
	assert.InDelta(t, 0.70, cfg.Anomaly.ConcentrationShare, 0.001)
	assert.InDelta(t, 0.05, cfg.Anomaly.BenfordAlpha, 0.001)
	assert.Equal(t, 30, cfg.Anomaly.BenfordMinSample)
	assert.InDelta(t, 0.85, cfg.Anomaly.DuplicateSimilarity, 0.001)
	assert.Equal(t, 3, cfg.Fraud.CartelMinMembers)
	assert.InDelta(t, 10000, cfg.Fraud.ReportingThreshold, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
cache:
  backend: sqlite
  path: /tmp/probe.db
log:
  level: debug
  format: console
server:
  port: 9090
executor:
  max_concurrent: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, "/tmp/probe.db", cfg.Cache.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Executor.MaxConcurrent)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
cache:
  backend: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FEDPROBE_CACHE_BACKEND", "postgres")
	t.Setenv("FEDPROBE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Cache.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("FEDPROBE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Executor.MaxConcurrent = 8
	cfg.Executor.StageTimeoutSecs = 30
	cfg.Executor.OverallTimeoutSecs = 300
	cfg.Breaker.FailureThreshold = 5
	cfg.Anomaly.ConcentrationShare = 0.70
	cfg.Anomaly.BenfordAlpha = 0.05
	cfg.Cache.Backend = "memory"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateInvestigate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("investigate"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Executor.MaxConcurrent = 0
	err := cfg.Validate("investigate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent must be between 1 and 64")

	cfg.Executor.MaxConcurrent = 65
	err = cfg.Validate("investigate")
	assert.Error(t, err)

	cfg.Executor.MaxConcurrent = 64
	assert.NoError(t, cfg.Validate("investigate"))
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Backend = "postgres"

	err := cfg.Validate("investigate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.database_url is required")

	cfg.Cache.DatabaseURL = "postgres://localhost/fedprobe"
	assert.NoError(t, cfg.Validate("investigate"))
}

func TestValidateThresholdRanges(t *testing.T) {
	cfg := validDefaults()

	cfg.Anomaly.ConcentrationShare = 1.2
	err := cfg.Validate("investigate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "concentration_share")

	cfg.Anomaly.ConcentrationShare = 0.7
	cfg.Anomaly.BenfordAlpha = 0
	err = cfg.Validate("investigate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "benford_alpha")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
