package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Sheet.URL)
	assert.Equal(t, "csv", cfg.Sheet.Format)
	assert.Equal(t, 5000, cfg.Sheet.PollIntervalMs)
	assert.Equal(t, 0, cfg.Sheet.TimeoutSecs)
	assert.Equal(t, 3, cfg.Sheet.MaxRetries)
	assert.Equal(t, 168, cfg.Store.RetentionHours)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.False(t, cfg.Store.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "townmap:updates", cfg.Publish.RedisChannel)
	assert.False(t, cfg.Archive.Enabled())
	assert.Equal(t, 3, cfg.Monitoring.ConsecutiveFailures)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
sheet:
  url: https://docs.google.com/spreadsheets/d/e/abc/pub?output=csv
  poll_interval_ms: 10000
store:
  driver: sqlite
  database_url: townmap.db
log:
  level: debug
  format: console
server:
  port: 9090
publish:
  kafka_brokers: [k1:9092, k2:9092]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://docs.google.com/spreadsheets/d/e/abc/pub?output=csv", cfg.Sheet.URL)
	assert.Equal(t, 10000, cfg.Sheet.PollIntervalMs)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.True(t, cfg.Store.Enabled())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Publish.KafkaBrokers)
	// Defaults still apply for unset values
	assert.Equal(t, "csv", cfg.Sheet.Format)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TOWNMAP_STORE_DRIVER", "postgres")
	t.Setenv("TOWNMAP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("TOWNMAP_SERVER_PORT", "3000")
	t.Setenv("TOWNMAP_SHEET_FORMAT", "xlsx")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "xlsx", cfg.Sheet.Format)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOWNMAP_SHEET_URL=https://example.test/towns.csv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("TOWNMAP_SHEET_URL") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/towns.csv", cfg.Sheet.URL)
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Sheet.URL = "https://example.test/towns.csv"
	cfg.Sheet.Format = "csv"
	cfg.Sheet.PollIntervalMs = 5000
	cfg.Store.Driver = "none"
	cfg.Server.Port = 8080
	cfg.Monitoring.ConsecutiveFailures = 3
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
	assert.NoError(t, validDefaults().Validate("sync"))
}

func TestValidateServe_MissingURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Sheet.URL = ""
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet.url")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")

	// sync does not listen.
	assert.NoError(t, cfg.Validate("sync"))
}

func TestValidate_BadFormat(t *testing.T) {
	cfg := validDefaults()
	cfg.Sheet.Format = "ods"
	err := cfg.Validate("sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet.format")
}

func TestValidate_NegativeTimeout(t *testing.T) {
	cfg := validDefaults()
	cfg.Sheet.TimeoutSecs = -1
	assert.Error(t, cfg.Validate("sync"))
}

func TestValidate_NegativeMaxRetries(t *testing.T) {
	cfg := validDefaults()
	cfg.Sheet.MaxRetries = -1
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet.max_retries")

	cfg.Sheet.MaxRetries = 0
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_Retention(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.LookbackWindowHours = 24

	cfg.Store.RetentionHours = -1
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.retention_hours")

	cfg.Store.RetentionHours = 12
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookback_window_hours")

	cfg.Store.RetentionHours = 0
	assert.NoError(t, cfg.Validate("serve"))
	cfg.Store.RetentionHours = 168
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_StoreNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	cfg.Store.Driver = "cassandra"
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store.driver")
}

func TestValidateHistory(t *testing.T) {
	cfg := validDefaults()
	assert.Error(t, cfg.Validate("history"))

	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "townmap.db"
	assert.NoError(t, cfg.Validate("history"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}
