// Package cycle runs advisory cycles: pull market data, score, ask the
// decision service, apply to the ledger and record the decision.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/shortrun/internal/advisory"
	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/market"
	"github.com/sawpanic/shortrun/internal/metrics"
	"github.com/sawpanic/shortrun/internal/score/shorting"
	"github.com/sawpanic/shortrun/internal/sink"
)

// ErrEmptyData means the source returned no market data or no funding rates.
// No decision is recorded and the runner retries after its retry delay.
var ErrEmptyData = errors.New("received empty market or funding data")

// StateStore persists the ledger snapshot after each cycle
type StateStore interface {
	Save(ctx context.Context, positions map[string]ledger.Position) error
}

// Cycle runs one advisory pass
type Cycle struct {
	source  market.Source
	adapter *advisory.Adapter
	ledger  *ledger.Ledger
	sink    sink.Sink

	state      StateStore
	metrics    *metrics.Registry
	minDecline float64
	top        int
	now        func() time.Time
}

// Option configures a Cycle
type Option func(*Cycle)

// WithStateStore saves the ledger after every recorded cycle
func WithStateStore(s StateStore) Option {
	return func(c *Cycle) {
		c.state = s
	}
}

// WithMetrics records cycle and ledger metrics
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Cycle) {
		c.metrics = m
	}
}

// WithScoring sets the opportunity filter used for logging and metrics
func WithScoring(minDecline float64, top int) Option {
	return func(c *Cycle) {
		c.minDecline = minDecline
		c.top = top
	}
}

// New wires a cycle. The adapter must wrap the same ledger.
func New(source market.Source, adapter *advisory.Adapter, l *ledger.Ledger, s sink.Sink, opts ...Option) (*Cycle, error) {
	if source == nil || adapter == nil || l == nil || s == nil {
		return nil, errors.New("cycle requires a source, adapter, ledger and sink")
	}
	c := &Cycle{
		source:  source,
		adapter: adapter,
		ledger:  l,
		sink:    s,
		top:     5,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunOnce runs a single cycle. A returned Result was recorded to the sink
// even when err reports a sink or state store failure.
func (c *Cycle) RunOnce(ctx context.Context) (advisory.Result, error) {
	id := uuid.NewString()
	logger := log.With().Str("cycle_id", id).Logger()

	in, err := c.collect(ctx)
	if err != nil {
		if errors.Is(err, ErrEmptyData) {
			c.recordCycle(metrics.CycleEmpty)
			logger.Warn().Msg("Received empty data")
		} else {
			c.recordCycle(metrics.CycleFailed)
			logger.Error().Err(err).Msg("Failed to collect market data")
		}
		return advisory.Result{}, err
	}

	opportunities := shorting.Top(shorting.FilterByDecline(shorting.Score(in.MarketData, in.FundingRates), c.minDecline), c.top)
	if c.metrics != nil {
		c.metrics.SetOpportunities(len(opportunities))
	}
	for i, opp := range opportunities {
		logger.Debug().Int("rank", i+1).Str("symbol", opp.Symbol).
			Float64("score", opp.Score).Float64("expected_decline", opp.ExpectedDeclinePct).
			Float64("target_price", opp.TargetPrice).Msg("Shorting opportunity")
	}

	start := c.now()
	result := c.adapter.Generate(ctx, in)
	if c.metrics != nil {
		c.metrics.ObserveAdvisory(c.now().Sub(start), result.Failed())
		if result.Report != nil {
			c.metrics.RecordReport(*result.Report)
		}
		c.metrics.SetLedgerState(c.ledger)
	}
	logActions(logger, result)

	var errs []error
	if err := c.sink.Append(ctx, result); err != nil {
		errs = append(errs, fmt.Errorf("failed to record decision: %w", err))
	}
	if c.state != nil {
		if err := c.state.Save(ctx, c.ledger.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("failed to save ledger state: %w", err))
		}
	}

	switch {
	case len(errs) > 0:
		c.recordCycle(metrics.CycleSinkError)
	case result.Failed():
		c.recordCycle(metrics.CycleFailed)
	default:
		c.recordCycle(metrics.CycleSuccess)
	}

	logger.Info().
		Int("actions", len(result.Actions)).
		Int("opportunities", len(opportunities)).
		Int("open_positions", len(c.ledger.Snapshot())).
		Str("timestamp", result.Timestamp).
		Bool("failed", result.Failed()).
		Msg("Advisory cycle complete")

	return result, errors.Join(errs...)
}

func (c *Cycle) collect(ctx context.Context) (advisory.Input, error) {
	records, err := c.source.MarketData(ctx)
	if err != nil {
		return advisory.Input{}, fmt.Errorf("market data: %w", err)
	}
	rates, err := c.source.FundingRates(ctx)
	if err != nil {
		return advisory.Input{}, fmt.Errorf("funding rates: %w", err)
	}
	if len(records) == 0 || len(rates) == 0 {
		return advisory.Input{}, ErrEmptyData
	}
	value, err := c.source.PortfolioValue(ctx)
	if err != nil {
		return advisory.Input{}, fmt.Errorf("portfolio value: %w", err)
	}
	return advisory.Input{MarketData: records, FundingRates: rates, PortfolioValue: value}, nil
}

func (c *Cycle) recordCycle(r metrics.CycleResult) {
	if c.metrics != nil {
		c.metrics.RecordCycle(r)
	}
}

func logActions(logger zerolog.Logger, result advisory.Result) {
	for _, a := range result.Actions {
		ev := logger.Info().Str("symbol", a.Symbol).Str("action", string(a.Type)).
			Float64("amount", a.Amount).Float64("current_price", a.CurrentPrice)
		if a.Type == ledger.ActionOpen {
			ev = ev.Float64("target_price", a.TargetPrice).Float64("expected_decline", a.ExpectedDecline)
		}
		ev.Msg("Shorting action")
	}
}
