package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/shortrun/internal/advisory"
	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/market"
	"github.com/sawpanic/shortrun/internal/metrics"
	"github.com/sawpanic/shortrun/internal/sink"
)

const solOpen = `{"actions":[{"symbol":"SOL","action_type":"borrow","amount":10,"current_price":120,"target_price":111.648,"funding_rate":0.015,"expected_decline":6.96,"reason":"overbought"}],"timestamp":"2025-03-01T10:00:00Z"}`

type onceFunc func(ctx context.Context) (advisory.Result, error)

func (f onceFunc) RunOnce(ctx context.Context) (advisory.Result, error) { return f(ctx) }

type recordingSink struct {
	records []advisory.Result
	err     error
}

func (s *recordingSink) Append(ctx context.Context, r advisory.Result) error {
	s.records = append(s.records, r)
	return s.err
}

type memoryState struct {
	saved map[string]ledger.Position
	saves int
}

func (m *memoryState) Save(ctx context.Context, positions map[string]ledger.Position) error {
	m.saved = positions
	m.saves++
	return nil
}

type fixture struct {
	cycle   *Cycle
	ledger  *ledger.Ledger
	sink    *recordingSink
	state   *memoryState
	metrics *metrics.Registry
}

func newFixture(t *testing.T, source market.Source, svc advisory.Service) fixture {
	t.Helper()
	l, err := ledger.New(ledger.DefaultConfig())
	require.NoError(t, err)
	adapter, err := advisory.NewAdapter(svc, l)
	require.NoError(t, err)

	f := fixture{ledger: l, sink: &recordingSink{}, state: &memoryState{}, metrics: metrics.NewRegistry(false)}
	f.cycle, err = New(source, adapter, l, f.sink,
		WithStateStore(f.state), WithMetrics(f.metrics), WithScoring(5, 5))
	require.NoError(t, err)
	return f
}

func staticService(content string) advisory.Service {
	return advisory.ServiceFunc(func(ctx context.Context, req advisory.Request) (string, error) {
		return content, nil
	})
}

func cycleCount(t *testing.T, r *metrics.Registry, result metrics.CycleResult) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, r.Cycles.WithLabelValues(string(result)).Write(m))
	return m.GetCounter().GetValue()
}

func TestRunOnce_RecordsOneDecisionAndSavesState(t *testing.T) {
	f := newFixture(t, market.NewStaticSource(market.Sample()), staticService(solOpen))

	result, err := f.cycle.RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Failed())
	require.Len(t, f.sink.records, 1)
	assert.Equal(t, "2025-03-01T10:00:00Z", f.sink.records[0].Timestamp)
	assert.Equal(t, 1, f.state.saves)
	assert.Contains(t, f.state.saved, "SOL")
	assert.Equal(t, 10.0, f.ledger.Snapshot()["SOL"].Amount)
	assert.Equal(t, 1.0, cycleCount(t, f.metrics, metrics.CycleSuccess))
}

func TestRunOnce_EmptyDataWritesNothing(t *testing.T) {
	calls := 0
	svc := advisory.ServiceFunc(func(ctx context.Context, req advisory.Request) (string, error) {
		calls++
		return solOpen, nil
	})
	snap := market.Sample()
	snap.FundingRates = market.FundingRates{}
	f := newFixture(t, market.NewStaticSource(snap), svc)

	_, err := f.cycle.RunOnce(context.Background())

	assert.ErrorIs(t, err, ErrEmptyData)
	assert.Empty(t, f.sink.records)
	assert.Equal(t, 0, f.state.saves)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1.0, cycleCount(t, f.metrics, metrics.CycleEmpty))
}

func TestRunOnce_AdvisoryFailureStillRecorded(t *testing.T) {
	svc := advisory.ServiceFunc(func(ctx context.Context, req advisory.Request) (string, error) {
		return "", errors.New("503 service unavailable")
	})
	f := newFixture(t, market.NewStaticSource(market.Sample()), svc)

	result, err := f.cycle.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Failed())
	require.Len(t, f.sink.records, 1)
	assert.Empty(t, f.sink.records[0].Actions)
	assert.Contains(t, f.sink.records[0].Error, "503")
	assert.Equal(t, 1.0, cycleCount(t, f.metrics, metrics.CycleFailed))
}

func TestRunOnce_SinkErrorReturnedWithResult(t *testing.T) {
	f := newFixture(t, market.NewStaticSource(market.Sample()), staticService(solOpen))
	f.sink.err = errors.New("disk full")

	result, err := f.cycle.RunOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, result.Actions, 1)
	assert.Equal(t, 1, f.state.saves)
	assert.Equal(t, 1.0, cycleCount(t, f.metrics, metrics.CycleSinkError))
}

type failingSource struct{ market.Source }

func (failingSource) MarketData(ctx context.Context) ([]market.Record, error) {
	return nil, errors.New("exchange down")
}

func TestRunOnce_SourceError(t *testing.T) {
	f := newFixture(t, failingSource{}, staticService(solOpen))

	_, err := f.cycle.RunOnce(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyData)
	assert.Empty(t, f.sink.records)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, sink.Multi{})
	assert.Error(t, err)
}

type scripted struct {
	outcomes []error
	calls    int
}

func (s *scripted) RunOnce(ctx context.Context) (advisory.Result, error) {
	err := s.outcomes[s.calls%len(s.outcomes)]
	s.calls++
	return advisory.Result{Timestamp: "t"}, err
}

func TestRunner_NextDelayBacksOffToInterval(t *testing.T) {
	r, err := NewRunner(&scripted{outcomes: []error{nil}}, time.Minute, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, r.NextDelay(0))
	assert.Equal(t, 5*time.Second, r.NextDelay(1))
	assert.Equal(t, 10*time.Second, r.NextDelay(2))
	assert.Equal(t, 20*time.Second, r.NextDelay(3))
	assert.Equal(t, 40*time.Second, r.NextDelay(4))
	assert.Equal(t, time.Minute, r.NextDelay(5))
	assert.Equal(t, time.Minute, r.NextDelay(50))
}

func TestRunner_RunWaitsPerOutcome(t *testing.T) {
	boom := errors.New("boom")
	once := &scripted{outcomes: []error{boom, ErrEmptyData, nil, boom}}
	r, err := NewRunner(once, time.Minute, 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	r.wait = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 4 {
			cancel()
		}
		return ctx.Err()
	}

	err = r.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, time.Minute, 5 * time.Second}, delays)

	status := r.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 4, status.Cycles)
	assert.Equal(t, 3, status.Failures)
	assert.Equal(t, 1, status.ConsecutiveFailures)
	assert.Equal(t, "boom", status.LastError)
}

func TestRunner_AdvisoryErrorCountsAsFailure(t *testing.T) {
	once := onceFunc(func(ctx context.Context) (advisory.Result, error) {
		return advisory.Result{Error: "timed out"}, nil
	})
	r, err := NewRunner(once, time.Minute, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r.wait = func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, time.Second, d)
		cancel()
		return ctx.Err()
	}

	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, "timed out", r.Status().LastError)
}

func TestRunner_RealTimerStopsOnCancel(t *testing.T) {
	r, err := NewRunner(&scripted{outcomes: []error{nil}}, time.Hour, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(nil, time.Minute, time.Second)
	assert.Error(t, err)
	_, err = NewRunner(&scripted{outcomes: []error{nil}}, 0, time.Second)
	assert.Error(t, err)

	r, err := NewRunner(&scripted{outcomes: []error{nil}}, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, r.NextDelay(1), "retry delay is clamped to interval")
}
