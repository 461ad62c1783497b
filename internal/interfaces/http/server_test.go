package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/shortrun/internal/application/cycle"
	"github.com/sawpanic/shortrun/internal/interfaces/http/handlers"
	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/market"
	"github.com/sawpanic/shortrun/internal/metrics"
	"github.com/sawpanic/shortrun/internal/persistence"
)

type fakeHealth struct{ healthy bool }

func (f fakeHealth) Health(ctx context.Context) persistence.HealthCheck {
	check := persistence.HealthCheck{Healthy: f.healthy, LastCheck: time.Now()}
	if !f.healthy {
		check.Errors = []string{"ping failed"}
	}
	return check
}

func (f fakeHealth) Ping(ctx context.Context) error {
	if f.healthy {
		return nil
	}
	return errors.New("ping failed")
}

func (f fakeHealth) Stats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"enabled": true}
}

type fakeRunner struct{ status cycle.Status }

func (f fakeRunner) Status() cycle.Status { return f.status }

type fakeDecisions struct {
	persistence.DecisionRepo
	latest   []persistence.Decision
	failures int64
	countErr error
	lastTR   *persistence.TimeRange
}

func (f fakeDecisions) ListRange(ctx context.Context, tr persistence.TimeRange) ([]persistence.Decision, error) {
	if f.lastTR != nil {
		*f.lastTR = tr
	}
	var out []persistence.Decision
	for _, d := range f.latest {
		if (tr.From.IsZero() || !d.Timestamp.Before(tr.From)) && (tr.To.IsZero() || !d.Timestamp.After(tr.To)) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f fakeDecisions) Get(ctx context.Context, id uuid.UUID) (*persistence.Decision, error) {
	for _, d := range f.latest {
		if d.ID == id {
			d := d
			return &d, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (f fakeDecisions) CountFailures(ctx context.Context, tr persistence.TimeRange) (int64, error) {
	if f.lastTR != nil {
		*f.lastTR = tr
	}
	return f.failures, f.countErr
}

func (f fakeDecisions) Latest(ctx context.Context, limit int) ([]persistence.Decision, error) {
	if limit < len(f.latest) {
		return f.latest[:limit], nil
	}
	return f.latest, nil
}

func newTestServer(t *testing.T, mutate func(*handlers.Deps)) (*Server, *ledger.Ledger, *metrics.Registry) {
	t.Helper()
	l, err := ledger.New(ledger.DefaultConfig())
	require.NoError(t, err)

	deps := handlers.Deps{
		Ledger:             l,
		Source:             market.NewStaticSource(market.Sample()),
		MinExpectedDecline: 5,
		Top:                5,
	}
	if mutate != nil {
		mutate(&deps)
	}

	reg := metrics.NewRegistry(false)
	s, err := NewServer(DefaultServerConfig(), deps, reg.Handler())
	require.NoError(t, err)
	return s, l, reg
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNewServer_RequiresLedger(t *testing.T) {
	_, err := NewServer(DefaultServerConfig(), handlers.Deps{}, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, l, _ := newTestServer(t, func(d *handlers.Deps) {
		d.Breaker = func() string { return "closed" }
		d.Runner = fakeRunner{status: cycle.Status{Running: true, Cycles: 3}}
		d.DBHealth = fakeHealth{healthy: true}
	})
	_, err := l.ApplyOpen("BTC", 0.5, 40000, 36000, 0.01)
	require.NoError(t, err)

	rec := get(t, s, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.OpenPositions)
	assert.Equal(t, "closed", resp.Breaker)
	require.NotNil(t, resp.Runner)
	assert.Equal(t, 3, resp.Runner.Cycles)
	require.NotNil(t, resp.Database)
	assert.True(t, resp.Database.Healthy)
}

func TestHealth_DegradedWhenBreakerOpenOrDatabaseDown(t *testing.T) {
	s, _, _ := newTestServer(t, func(d *handlers.Deps) {
		d.Breaker = func() string { return "open" }
	})
	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	s, _, _ = newTestServer(t, func(d *handlers.Deps) {
		d.DBHealth = fakeHealth{healthy: false}
	})
	rec = get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPositions(t *testing.T) {
	s, l, _ := newTestServer(t, nil)
	_, err := l.ApplyOpen("SOL", 10, 120, 111.6, 0.015)
	require.NoError(t, err)
	_, err = l.ApplyOpen("DOGE", 1000, 0.15, 0.13, 0.02)
	require.NoError(t, err)

	rec := get(t, s, "/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.PositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "DOGE", resp.Positions[0].Symbol)
	assert.Equal(t, "SOL", resp.Positions[1].Symbol)
	assert.InDelta(t, 1350.0, resp.TotalShortNotional, 1e-9)
	assert.Equal(t, 50.0, resp.Config.MaxShortPercentage)
}

func TestPositions_EmptyIsList(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := get(t, s, "/positions")

	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

func TestOpportunities(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := get(t, s, "/opportunities?min_decline=0&top=3")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.OpportunitiesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "SOL", resp.Opportunities[0].Symbol)
	for i := 1; i < len(resp.Opportunities); i++ {
		assert.GreaterOrEqual(t, resp.Opportunities[i-1].Score, resp.Opportunities[i].Score)
	}
	for _, opp := range resp.Opportunities {
		assert.NotContains(t, opp.Symbol, "USD")
	}
}

func TestOpportunities_BadQuery(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	for _, target := range []string{"/opportunities?min_decline=abc", "/opportunities?min_decline=-1", "/opportunities?top=x"} {
		rec := get(t, s, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)

		var resp handlers.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Code)
		assert.Len(t, resp.RequestID, 8)
	}
}

func TestOpportunities_NoSource(t *testing.T) {
	s, _, _ := newTestServer(t, func(d *handlers.Deps) { d.Source = nil })

	rec := get(t, s, "/opportunities")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDecisions(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := get(t, s, "/decisions")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	repo := fakeDecisions{latest: []persistence.Decision{
		{ID: uuid.New(), Actions: json.RawMessage(`[]`)},
		{ID: uuid.New(), Actions: json.RawMessage(`[]`), Error: "timeout"},
	}}
	s, _, _ = newTestServer(t, func(d *handlers.Deps) { d.Decisions = repo })

	rec = get(t, s, "/decisions?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.DecisionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestDecisions_Window(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := fakeDecisions{latest: []persistence.Decision{
		{ID: uuid.New(), Timestamp: base.Add(-2 * time.Hour), Actions: json.RawMessage(`[]`)},
		{ID: uuid.New(), Timestamp: base, Actions: json.RawMessage(`[]`)},
		{ID: uuid.New(), Timestamp: base.Add(time.Hour), Actions: json.RawMessage(`[]`)},
		{ID: uuid.New(), Timestamp: base.Add(2 * time.Hour), Actions: json.RawMessage(`[]`)},
	}}
	s, _, _ := newTestServer(t, func(d *handlers.Deps) { d.Decisions = repo })

	rec := get(t, s, "/decisions?since=2026-03-01T11:00:00Z&until=2026-03-01T13:30:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.DecisionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, repo.latest[1].ID, resp.Decisions[0].ID)

	rec = get(t, s, "/decisions?since=2026-03-01T11:00:00Z&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	for _, target := range []string{
		"/decisions?since=yesterday",
		"/decisions?until=2026-03-01",
		"/decisions?since=2026-03-02T00:00:00Z&until=2026-03-01T00:00:00Z",
	} {
		rec = get(t, s, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestDecisionByID(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := get(t, s, "/decisions/"+uuid.NewString())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	known := persistence.Decision{ID: uuid.New(), Actions: json.RawMessage(`[]`), Error: "timeout"}
	s, _, _ = newTestServer(t, func(d *handlers.Deps) {
		d.Decisions = fakeDecisions{latest: []persistence.Decision{known}}
	})

	rec = get(t, s, "/decisions/"+known.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var got persistence.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, known.ID, got.ID)
	assert.Equal(t, "timeout", got.Error)

	rec = get(t, s, "/decisions/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "decision_not_found")

	rec = get(t, s, "/decisions/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_ReportsRecentFailedDecisions(t *testing.T) {
	var tr persistence.TimeRange
	s, _, _ := newTestServer(t, func(d *handlers.Deps) {
		d.Decisions = fakeDecisions{failures: 4, lastTR: &tr}
	})

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.FailedDecisions24h)
	assert.Equal(t, int64(4), *resp.FailedDecisions24h)
	assert.WithinDuration(t, resp.Timestamp.Add(-24*time.Hour), tr.From, time.Second)
	assert.True(t, tr.To.IsZero())

	s, _, _ = newTestServer(t, func(d *handlers.Deps) {
		d.Decisions = fakeDecisions{countErr: errors.New("relation missing")}
	})
	rec = get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "failed_decisions_24h")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, reg := newTestServer(t, nil)
	reg.RecordCycle(metrics.CycleSuccess)

	rec := get(t, s, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shortrun_cycles_total")
}

func TestNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := get(t, s, "/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "endpoint_not_found")
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/positions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
