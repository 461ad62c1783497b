package deepseek

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit around the advisory endpoint
type BreakerSettings struct {
	Name string `yaml:"name"`
	// MaxRequests is how many calls pass while half-open
	MaxRequests uint32 `yaml:"max_requests"`
	// Interval resets closed-state counts
	Interval time.Duration `yaml:"interval"`
	// Timeout is how long the breaker stays open before probing
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	// ErrorRateThreshold is a percentage, applied once 10 requests are counted
	ErrorRateThreshold float64 `yaml:"error_rate_threshold"`
}

// DefaultBreakerSettings trips after 3 straight failures and retries after a minute
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:                "deepseek",
		MaxRequests:         1,
		Interval:            10 * time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 3,
		ErrorRateThreshold:  60,
	}
}

func newBreaker(s BreakerSettings) *gobreaker.CircuitBreaker {
	if s.Name == "" {
		s.Name = "deepseek"
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if s.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= s.ConsecutiveFailures {
				return true
			}
			if s.ErrorRateThreshold > 0 && counts.Requests >= 10 {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				return errorRate >= s.ErrorRateThreshold
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Advisory circuit breaker state changed")
		},
	})
}
