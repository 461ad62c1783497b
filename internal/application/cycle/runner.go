package cycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/shortrun/internal/advisory"
)

// Once is the unit of work the runner repeats
type Once interface {
	RunOnce(ctx context.Context) (advisory.Result, error)
}

// Status reports runner progress
type Status struct {
	Running             bool      `json:"running"`
	Cycles              int       `json:"cycles"`
	Failures            int       `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastRun             time.Time `json:"last_run,omitempty"`
	NextRun             time.Time `json:"next_run,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// Runner repeats a cycle until its context is cancelled. A successful cycle
// waits Interval; a failed one waits RetryDelay doubled per consecutive
// failure, capped at Interval.
type Runner struct {
	cycle      Once
	interval   time.Duration
	retryDelay time.Duration
	wait       func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewRunner creates a runner. retryDelay is clamped to interval.
func NewRunner(c Once, interval, retryDelay time.Duration) (*Runner, error) {
	if c == nil {
		return nil, errors.New("runner requires a cycle")
	}
	if interval <= 0 {
		return nil, errors.New("runner interval must be positive")
	}
	if retryDelay <= 0 || retryDelay > interval {
		retryDelay = interval
	}
	return &Runner{
		cycle:      c,
		interval:   interval,
		retryDelay: retryDelay,
		wait:       sleepContext,
		now:        time.Now,
	}, nil
}

// Run blocks until ctx is done and returns ctx.Err()
func (r *Runner) Run(ctx context.Context) error {
	r.setRunning(true)
	defer r.setRunning(false)

	log.Info().Dur("interval", r.interval).Dur("retry_delay", r.retryDelay).Msg("Advisory runner started")

	for {
		result, err := r.cycle.RunOnce(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Advisory runner stopped")
			return ctx.Err()
		}

		failed := err != nil || result.Failed()
		delay := r.record(failed, err, result)

		if failed {
			log.Warn().Err(err).Str("advisory_error", result.Error).Dur("retry_in", delay).Msg("Advisory cycle failed")
		}

		if err := r.wait(ctx, delay); err != nil {
			log.Info().Msg("Advisory runner stopped")
			return err
		}
	}
}

// Status returns a copy of the current status
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// NextDelay is the wait after the given number of consecutive failures
func (r *Runner) NextDelay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return r.interval
	}
	delay := r.retryDelay
	for i := 1; i < consecutiveFailures && delay < r.interval; i++ {
		delay *= 2
	}
	if delay > r.interval {
		delay = r.interval
	}
	return delay
}

func (r *Runner) record(failed bool, err error, result advisory.Result) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.Cycles++
	r.status.LastRun = r.now()
	r.status.LastError = ""
	if failed {
		r.status.Failures++
		r.status.ConsecutiveFailures++
		if err != nil {
			r.status.LastError = err.Error()
		} else {
			r.status.LastError = result.Error
		}
	} else {
		r.status.ConsecutiveFailures = 0
	}

	delay := r.NextDelay(r.status.ConsecutiveFailures)
	r.status.NextRun = r.status.LastRun.Add(delay)
	return delay
}

func (r *Runner) setRunning(running bool) {
	r.mu.Lock()
	r.status.Running = running
	r.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
