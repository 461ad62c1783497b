// Package config loads the shortrun YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/shortrun/internal/infrastructure/db"
	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/persistence/redisstore"
	"github.com/sawpanic/shortrun/internal/providers/deepseek"
	"github.com/sawpanic/shortrun/internal/sink"
)

// ErrMissingAPIKey is returned by Validate when no decision service key is configured
var ErrMissingAPIKey = errors.New("advisory api_key is required (set " + deepseek.APIKeyEnv + ")")

// Config is the complete application configuration
type Config struct {
	Ledger   ledger.Config     `yaml:"ledger"`
	Advisory AdvisoryConfig    `yaml:"advisory"`
	Market   MarketConfig      `yaml:"market"`
	Cycle    CycleConfig       `yaml:"cycle"`
	Sink     SinkConfig        `yaml:"sink"`
	Database db.Config         `yaml:"database"`
	Redis    redisstore.Config `yaml:"redis"`
	HTTP     HTTPConfig        `yaml:"http"`
	Log      LogConfig         `yaml:"log"`
}

// MarketConfig selects the market data source and scoring filters
type MarketConfig struct {
	Fixture            string  `yaml:"fixture"` // empty uses the built-in sample set
	MinExpectedDecline float64 `yaml:"min_expected_decline"`
	Top                int     `yaml:"top"`
}

// CycleConfig controls the polling runner
type CycleConfig struct {
	Interval   time.Duration `yaml:"interval"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// SinkConfig controls where decision records go
type SinkConfig struct {
	JSONLPath string `yaml:"jsonl_path"`
	Postgres  bool   `yaml:"postgres"` // also write to the database when enabled
}

// HTTPConfig configures the read-only API server
type HTTPConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig controls zerolog output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console or json
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Ledger:   ledger.DefaultConfig(),
		Advisory: DefaultAdvisoryConfig(),
		Market: MarketConfig{
			MinExpectedDecline: 5.0,
			Top:                5,
		},
		Cycle: CycleConfig{
			Interval:   time.Hour,
			RetryDelay: 5 * time.Second,
		},
		Sink: SinkConfig{
			JSONLPath: sink.DefaultJSONLPath,
			Postgres:  true,
		},
		Database: db.DefaultConfig(),
		Redis:    redisstore.DefaultConfig(),
		HTTP: HTTPConfig{
			Host:           "127.0.0.1",
			Port:           8090,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.ApplyEnvOverrides()
	return &cfg, nil
}

// applyDefaults fills zero values a partial file may leave behind
func (c *Config) applyDefaults() {
	d := Default()
	if c.Ledger.RiskTolerance == "" {
		c.Ledger.RiskTolerance = d.Ledger.RiskTolerance
	}
	if c.Advisory.BaseURL == "" {
		c.Advisory.BaseURL = d.Advisory.BaseURL
	}
	if c.Advisory.Model == "" {
		c.Advisory.Model = d.Advisory.Model
	}
	if c.Advisory.MaxTokens == 0 {
		c.Advisory.MaxTokens = d.Advisory.MaxTokens
	}
	if c.Advisory.Timeout == 0 {
		c.Advisory.Timeout = d.Advisory.Timeout
	}
	if c.Advisory.Burst == 0 {
		c.Advisory.Burst = d.Advisory.Burst
	}
	if c.Cycle.Interval == 0 {
		c.Cycle.Interval = d.Cycle.Interval
	}
	if c.Cycle.RetryDelay == 0 {
		c.Cycle.RetryDelay = d.Cycle.RetryDelay
	}
	if c.Sink.JSONLPath == "" {
		c.Sink.JSONLPath = d.Sink.JSONLPath
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = d.HTTP.Port
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	c.Database.ApplyDefaults()
	if c.Redis.Name == "" {
		c.Redis.Name = d.Redis.Name
	}
}

// ApplyEnvOverrides applies DEEPSEEK_API_KEY, HTTP_PORT and the database
// and Redis variables
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv(deepseek.APIKeyEnv); key != "" {
		c.Advisory.APIKey = key
	}
	if port := os.Getenv("HTTP_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			c.HTTP.Port = val
		}
	}
	c.Database.ApplyEnvOverrides()
	c.Redis.ApplyEnvOverrides()
}

// ValidateCore checks everything except the decision service credentials
func (c *Config) ValidateCore() error {
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	if err := c.Advisory.Validate(); err != nil {
		return fmt.Errorf("advisory: %w", err)
	}
	if c.Market.MinExpectedDecline < 0 {
		return fmt.Errorf("market: min_expected_decline cannot be negative")
	}
	if c.Market.Top < 0 {
		return fmt.Errorf("market: top cannot be negative")
	}
	if c.Cycle.Interval <= 0 {
		return fmt.Errorf("cycle: interval must be positive")
	}
	if c.Cycle.RetryDelay <= 0 || c.Cycle.RetryDelay > c.Cycle.Interval {
		return fmt.Errorf("cycle: retry_delay must be positive and at most interval")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http: port %d out of range", c.HTTP.Port)
	}
	switch strings.ToLower(c.Log.Format) {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log: format must be auto, console or json, got %q", c.Log.Format)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis: addr is required when enabled")
	}
	return nil
}

// Validate checks the full configuration needed to run advisory cycles
func (c *Config) Validate() error {
	if err := c.ValidateCore(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Advisory.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}
