package config

import (
	"fmt"
	"time"

	"github.com/sawpanic/shortrun/internal/providers/deepseek"
)

// AdvisoryConfig configures the decision service provider
type AdvisoryConfig struct {
	APIKey      string                   `yaml:"api_key"`
	BaseURL     string                   `yaml:"base_url"`
	Model       string                   `yaml:"model"`
	MaxTokens   int                      `yaml:"max_tokens"`
	Temperature float64                  `yaml:"temperature"`
	Timeout     time.Duration            `yaml:"timeout"` // per cycle, enforced by the adapter
	RPS         float64                  `yaml:"rps"`     // requests per second
	Burst       int                      `yaml:"burst"`
	Circuit     deepseek.BreakerSettings `yaml:"circuit"`
}

// DefaultAdvisoryConfig matches the provider defaults
func DefaultAdvisoryConfig() AdvisoryConfig {
	return AdvisoryConfig{
		BaseURL:     deepseek.DefaultBaseURL,
		Model:       deepseek.DefaultModel,
		MaxTokens:   deepseek.DefaultMaxTokens,
		Temperature: deepseek.DefaultTemperature,
		Timeout:     60 * time.Second,
		RPS:         1,
		Burst:       1,
		Circuit:     deepseek.DefaultBreakerSettings(),
	}
}

// Validate ensures the provider settings are usable. The API key is checked
// separately so offline commands can run without one.
func (a *AdvisoryConfig) Validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if a.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if a.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", a.MaxTokens)
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", a.Temperature)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", a.Timeout)
	}
	if a.RPS < 0 {
		return fmt.Errorf("rps cannot be negative, got %f", a.RPS)
	}
	if a.Burst <= 0 {
		return fmt.Errorf("burst must be positive, got %d", a.Burst)
	}
	if a.Circuit.ConsecutiveFailures == 0 && a.Circuit.ErrorRateThreshold <= 0 {
		return fmt.Errorf("circuit needs consecutive_failures or error_rate_threshold")
	}
	return nil
}

// ClientOptions converts the settings into provider options
func (a *AdvisoryConfig) ClientOptions() []deepseek.Option {
	return []deepseek.Option{
		deepseek.WithBaseURL(a.BaseURL),
		deepseek.WithModel(a.Model),
		deepseek.WithMaxTokens(a.MaxTokens),
		deepseek.WithTemperature(a.Temperature),
		deepseek.WithRateLimit(a.RPS, a.Burst),
		deepseek.WithBreaker(a.Circuit),
	}
}
