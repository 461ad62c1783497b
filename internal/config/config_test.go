package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/shortrun/internal/ledger"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DEEPSEEK_API_KEY", "HTTP_PORT", "PG_DSN", "PG_ENABLED", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shortrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50.0, cfg.Ledger.MaxShortPercentage)
	assert.Equal(t, ledger.RiskMedium, cfg.Ledger.RiskTolerance)
	assert.Equal(t, time.Hour, cfg.Cycle.Interval)
	assert.Equal(t, 5*time.Second, cfg.Cycle.RetryDelay)
	assert.Equal(t, 5.0, cfg.Market.MinExpectedDecline)
	assert.Equal(t, "deepseek-chat", cfg.Advisory.Model)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.NoError(t, cfg.ValidateCore())
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
ledger:
  max_short_percentage: 30
  risk_tolerance: low
advisory:
  api_key: sk-test
  timeout: 45s
cycle:
  interval: 15m
market:
  fixture: fixtures/market.yaml
  top: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.Ledger.MaxShortPercentage)
	assert.Equal(t, ledger.RiskLow, cfg.Ledger.RiskTolerance)
	assert.Equal(t, 45*time.Second, cfg.Advisory.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Cycle.Interval)
	assert.Equal(t, 5*time.Second, cfg.Cycle.RetryDelay)
	assert.Equal(t, "fixtures/market.yaml", cfg.Market.Fixture)
	assert.Equal(t, 3, cfg.Market.Top)
	assert.Equal(t, 2048, cfg.Advisory.MaxTokens)
	assert.Equal(t, uint32(3), cfg.Advisory.Circuit.ConsecutiveFailures)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-env")
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("PG_DSN", "postgres://localhost/shortrun")
	t.Setenv("REDIS_ADDR", "localhost:6390")

	cfg, err := Load(writeConfig(t, "advisory:\n  api_key: sk-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.Advisory.APIKey)
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres://localhost/shortrun", cfg.Database.DSN)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6390", cfg.Redis.Addr)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "ledger: [unclosed"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"percentage_over_100", func(c *Config) { c.Ledger.MaxShortPercentage = 150 }},
		{"unknown_tolerance", func(c *Config) { c.Ledger.RiskTolerance = "reckless" }},
		{"zero_interval", func(c *Config) { c.Cycle.Interval = 0 }},
		{"retry_longer_than_interval", func(c *Config) { c.Cycle.RetryDelay = 2 * time.Hour }},
		{"negative_min_decline", func(c *Config) { c.Market.MinExpectedDecline = -1 }},
		{"bad_port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"bad_log_format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero_burst", func(c *Config) { c.Advisory.Burst = 0 }},
		{"db_without_dsn", func(c *Config) { c.Database.Enabled = true }},
		{"redis_without_addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Advisory.APIKey = "sk-test"
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrMissingAPIKey))
		})
	}
}

func TestValidate_LedgerErrorIsSentinel(t *testing.T) {
	cfg := Default()
	cfg.Ledger.MaxShortPercentage = -5

	assert.ErrorIs(t, cfg.ValidateCore(), ledger.ErrInvalidConfig)
}

func TestAdvisoryConfig_ClientOptions(t *testing.T) {
	a := DefaultAdvisoryConfig()
	assert.NoError(t, a.Validate())
	assert.Len(t, a.ClientOptions(), 6)
}

func TestLoad_ExampleConfigMatchesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join("..", "..", "config", "shortrun.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateCore())

	d := Default()
	assert.Equal(t, d.Ledger, cfg.Ledger)
	assert.Equal(t, d.Advisory, cfg.Advisory)
	assert.Equal(t, d.Market, cfg.Market)
	assert.Equal(t, d.Cycle, cfg.Cycle)
	assert.Equal(t, d.HTTP, cfg.HTTP)
	assert.Equal(t, d.Database, cfg.Database)
	assert.False(t, cfg.Redis.Enabled)
}
