package handlers

import (
	"time"

	"github.com/sawpanic/shortrun/internal/application/cycle"
	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/persistence"
	"github.com/sawpanic/shortrun/internal/score/shorting"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status             string                   `json:"status"` // healthy or degraded
	Timestamp          time.Time                `json:"timestamp"`
	OpenPositions      int                      `json:"open_positions"`
	Breaker            string                   `json:"breaker,omitempty"`
	Database           *persistence.HealthCheck `json:"database,omitempty"`
	FailedDecisions24h *int64                   `json:"failed_decisions_24h,omitempty"` // errored decisions in the last day
	Runner             *cycle.Status            `json:"runner,omitempty"`
}

// PositionsResponse is returned by GET /positions
type PositionsResponse struct {
	Positions          []ledger.Position `json:"positions"`
	Count              int               `json:"count"`
	TotalShortNotional float64           `json:"total_short_notional"`
	Config             ledger.Config     `json:"config"`
	Timestamp          time.Time         `json:"timestamp"`
}

// OpportunitiesResponse is returned by GET /opportunities
type OpportunitiesResponse struct {
	Opportunities []shorting.Opportunity `json:"opportunities"`
	Count         int                    `json:"count"`
	MinDecline    float64                `json:"min_decline"`
	Generated     time.Time              `json:"generated"`
}

// DecisionsResponse is returned by GET /decisions
type DecisionsResponse struct {
	Decisions []persistence.Decision `json:"decisions"`
	Count     int                    `json:"count"`
}
