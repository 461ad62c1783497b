package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/shortrun/internal/persistence"
)

// failureWindow is the lookback for the failed decision count
const failureWindow = 24 * time.Hour

// Health handles GET /health. A failing database ping or an open advisory
// breaker reports degraded with 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:        "healthy",
		Timestamp:     h.now().UTC(),
		OpenPositions: len(h.deps.Ledger.Snapshot()),
	}

	if h.deps.Breaker != nil {
		response.Breaker = h.deps.Breaker()
		if response.Breaker == "open" {
			response.Status = "degraded"
		}
	}
	if h.deps.DBHealth != nil {
		check := h.deps.DBHealth.Health(r.Context())
		response.Database = &check
		if !check.Healthy {
			response.Status = "degraded"
		}
	}
	if h.deps.Decisions != nil {
		window := persistence.TimeRange{From: response.Timestamp.Add(-failureWindow)}
		if count, err := h.deps.Decisions.CountFailures(r.Context(), window); err != nil {
			log.Warn().Err(err).Msg("Failed to count recent failed decisions")
		} else {
			response.FailedDecisions24h = &count
		}
	}
	if h.deps.Runner != nil {
		status := h.deps.Runner.Status()
		response.Runner = &status
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, response)
}
