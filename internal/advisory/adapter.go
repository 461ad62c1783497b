package advisory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/shortrun/internal/ledger"
)

// DefaultTimeout bounds one call to the decision service
const DefaultTimeout = 60 * time.Second

// Adapter mediates between the ledger and the decision service
type Adapter struct {
	service Service
	ledger  *ledger.Ledger
	timeout time.Duration
	now     func() time.Time
}

// Option configures an Adapter
type Option func(*Adapter)

// WithTimeout sets the per-call deadline for the decision service
func WithTimeout(timeout time.Duration) Option {
	return func(a *Adapter) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// NewAdapter wires a decision service to a ledger
func NewAdapter(service Service, l *ledger.Ledger, opts ...Option) (*Adapter, error) {
	if service == nil {
		return nil, errors.New("advisory service is required")
	}
	if l == nil {
		return nil, errors.New("ledger is required")
	}

	a := &Adapter{
		service: service,
		ledger:  l,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// BuildRequest assembles the service request from market input and the
// current ledger snapshot
func (a *Adapter) BuildRequest(in Input) (Request, error) {
	cfg := a.ledger.Config()
	req := Request{
		SystemPrompt:       SystemPrompt,
		MarketData:         in.MarketData,
		FundingRates:       in.FundingRates,
		Positions:          a.ledger.Snapshot(),
		PortfolioValue:     in.PortfolioValue,
		RiskTolerance:      cfg.RiskTolerance,
		MaxShortPercentage: cfg.MaxShortPercentage,
		Timestamp:          a.now(),
	}

	prompt, err := renderPrompt(req)
	if err != nil {
		return req, err
	}
	req.Prompt = prompt
	return req, nil
}

// Generate asks the decision service for actions, validates them and applies
// them to the ledger. It never returns an error: service and parse failures
// yield an empty action list with Error set.
func (a *Adapter) Generate(ctx context.Context, in Input) Result {
	req, err := a.BuildRequest(in)
	if err != nil {
		return a.failure(fmt.Errorf("failed to build request: %w", err))
	}

	content, err := a.call(ctx, req)
	if err != nil {
		return a.failure(err)
	}
	if strings.TrimSpace(content) == "" {
		return a.failure(errors.New("received empty content from advisory service"))
	}

	resp, err := parseResponse(content)
	if err != nil {
		return a.failure(fmt.Errorf("failed to parse advisory response: %w", err))
	}

	result := Result{
		Actions:        make([]ledger.Action, 0, len(resp.Actions)),
		Timestamp:      resp.Timestamp,
		MarketAnalysis: resp.MarketAnalysis,
		RiskAssessment: resp.RiskAssessment,
	}
	if result.Timestamp == "" {
		result.Timestamp = a.timestamp()
	}

	for i, raw := range resp.Actions {
		action, warnings := normalizeAction(raw, i)
		for _, w := range warnings {
			log.Warn().Str("symbol", action.Symbol).Msg(w)
		}
		result.Warnings = append(result.Warnings, warnings...)
		result.Actions = append(result.Actions, action)
	}

	report := a.ledger.ApplyActions(result.Actions, in.PortfolioValue)
	result.Report = &report
	for _, w := range report.Warnings {
		result.Warnings = append(result.Warnings, w.Message)
	}

	log.Info().
		Int("actions", len(result.Actions)).
		Int("opened", report.Opened).
		Int("closed", len(report.Closes)).
		Float64("short_notional", report.TotalShortNotional).
		Msg("Applied advisory actions")
	return result
}

// call invokes the service under the adapter timeout and converts a panic
// in the service into an error. The timeout holds even for a service that
// ignores ctx; its goroutine is abandoned and its late reply discarded.
func (a *Adapter) call(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type reply struct {
		content string
		err     error
	}
	done := make(chan reply, 1)

	go func() {
		var r reply
		defer func() {
			if p := recover(); p != nil {
				r = reply{err: fmt.Errorf("advisory service panicked: %v", p)}
			}
			done <- r
		}()
		r.content, r.err = a.service.GenerateActions(ctx, req)
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		r = reply{err: ctx.Err()}
	}

	if r.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("advisory service timed out after %s: %w", a.timeout, r.err)
		}
		return "", fmt.Errorf("advisory service call failed: %w", r.err)
	}
	return r.content, nil
}

func (a *Adapter) failure(err error) Result {
	log.Error().Err(err).Msg("Error generating shorting actions")
	return Result{
		Actions:   []ledger.Action{},
		Error:     err.Error(),
		Timestamp: a.timestamp(),
	}
}

func (a *Adapter) timestamp() string {
	return a.now().UTC().Format(time.RFC3339)
}
