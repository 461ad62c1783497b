package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/shortrun/internal/advisory"
	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/persistence"
)

var emptyActions = []ledger.Action{}

// Postgres stores decisions through a DecisionRepo
type Postgres struct {
	repo persistence.DecisionRepo
	now  func() time.Time
}

// NewPostgres wraps repo
func NewPostgres(repo persistence.DecisionRepo) (*Postgres, error) {
	if repo == nil {
		return nil, errors.New("decision repository is required")
	}
	return &Postgres{repo: repo, now: time.Now}, nil
}

// Append inserts one row per record
func (p *Postgres) Append(ctx context.Context, result advisory.Result) error {
	d, err := ToDecision(result, p.now)
	if err != nil {
		return err
	}
	if err := p.repo.Insert(ctx, &d); err != nil {
		return fmt.Errorf("postgres sink: %w", err)
	}
	return nil
}

// ToDecision converts a record to a row. Timestamps that are not RFC3339
// fall back to now.
func ToDecision(result advisory.Result, now func() time.Time) (persistence.Decision, error) {
	actions := result.Actions
	if actions == nil {
		actions = emptyActions
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return persistence.Decision{}, fmt.Errorf("failed to marshal actions: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, result.Timestamp)
	if err != nil {
		ts = now()
	}

	return persistence.Decision{
		Timestamp:      ts.UTC(),
		Actions:        data,
		Error:          result.Error,
		MarketAnalysis: result.MarketAnalysis,
		RiskAssessment: result.RiskAssessment,
	}, nil
}
