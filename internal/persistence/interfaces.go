package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no rows
var ErrNotFound = errors.New("record not found")

// TimeRange represents a time window for decision queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether ts falls inside the inclusive range. Zero bounds are open.
func (tr TimeRange) Contains(ts time.Time) bool {
	if !tr.From.IsZero() && ts.Before(tr.From) {
		return false
	}
	if !tr.To.IsZero() && ts.After(tr.To) {
		return false
	}
	return true
}

// Decision is one persisted advisory decision record
type Decision struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Timestamp      time.Time       `json:"ts" db:"ts"`
	Actions        json.RawMessage `json:"actions" db:"actions"`
	Error          string          `json:"error,omitempty" db:"error"`
	MarketAnalysis string          `json:"market_analysis,omitempty" db:"market_analysis"`
	RiskAssessment string          `json:"risk_assessment,omitempty" db:"risk_assessment"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Failed reports whether the decision carries an error instead of actions
func (d Decision) Failed() bool {
	return d.Error != ""
}

// DecisionRepo provides append-only persistence for decision records
type DecisionRepo interface {
	// Insert appends a decision. A zero ID is replaced with a fresh uuid.
	Insert(ctx context.Context, d *Decision) error

	// Latest returns the most recent decisions, newest first
	Latest(ctx context.Context, limit int) ([]Decision, error)

	// ListRange retrieves decisions within a time window, oldest first.
	// A zero bound is open.
	ListRange(ctx context.Context, tr TimeRange) ([]Decision, error)

	// Get finds a decision by id; ErrNotFound if absent
	Get(ctx context.Context, id uuid.UUID) (*Decision, error)

	// CountFailures counts decisions with an error inside the window
	CountFailures(ctx context.Context, tr TimeRange) (int64, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Decisions DecisionRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error

	// Stats returns connection pool statistics
	Stats(ctx context.Context) map[string]interface{}
}
