package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/shortrun/internal/persistence"
)

// Schema creates the decision table. Applied by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS short_decisions (
	id              UUID PRIMARY KEY,
	ts              TIMESTAMPTZ NOT NULL,
	actions         JSONB NOT NULL DEFAULT '[]'::jsonb,
	error           TEXT,
	market_analysis TEXT,
	risk_assessment TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS short_decisions_ts_idx ON short_decisions (ts DESC);`

const decisionColumns = `id, ts, actions, error, market_analysis, risk_assessment, created_at`

// decisionsRepo implements DecisionRepo for PostgreSQL
type decisionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionsRepo creates a new PostgreSQL decision repository
func NewDecisionsRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionRepo {
	return &decisionsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Migrate applies Schema
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply decision schema: %w", err)
	}
	return nil
}

// Insert appends a decision record
func (r *decisionsRepo) Insert(ctx context.Context, d *persistence.Decision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	actions := d.Actions
	if len(actions) == 0 {
		actions = json.RawMessage(`[]`)
	}
	if !json.Valid(actions) {
		return fmt.Errorf("decision %s: actions are not valid JSON", d.ID)
	}

	query := `
		INSERT INTO short_decisions (id, ts, actions, error, market_analysis, risk_assessment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRowxContext(ctx, query,
		d.ID, d.Timestamp, []byte(actions),
		nullString(d.Error), nullString(d.MarketAnalysis), nullString(d.RiskAssessment)).
		Scan(&d.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate decision %s: %w", d.ID, err)
		}
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	return nil
}

// Latest returns the most recent decisions, newest first
func (r *decisionsRepo) Latest(ctx context.Context, limit int) ([]persistence.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 1
	}

	query := `
		SELECT ` + decisionColumns + `
		FROM short_decisions
		ORDER BY ts DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest decisions: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// ListRange retrieves decisions within a time window, oldest first. Zero
// bounds are open.
func (r *decisionsRepo) ListRange(ctx context.Context, tr persistence.TimeRange) ([]persistence.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + decisionColumns + `
		FROM short_decisions
		WHERE ` + rangeClause + `
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, nullTime(tr.From), nullTime(tr.To))
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions by range: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// Get finds a decision by id
func (r *decisionsRepo) Get(ctx context.Context, id uuid.UUID) (*persistence.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + decisionColumns + `
		FROM short_decisions
		WHERE id = $1`

	d, err := scanDecision(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get decision %s: %w", id, err)
	}

	return d, nil
}

// CountFailures counts decisions with an error inside the window. Zero
// bounds are open.
func (r *decisionsRepo) CountFailures(ctx context.Context, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM short_decisions
		WHERE ` + rangeClause + ` AND error IS NOT NULL`

	var count int64
	if err := r.db.QueryRowxContext(ctx, query, nullTime(tr.From), nullTime(tr.To)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed decisions: %w", err)
	}

	return count, nil
}

const rangeClause = `($1::timestamptz IS NULL OR ts >= $1) AND ($2::timestamptz IS NULL OR ts <= $2)`

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecisions(rows *sqlx.Rows) ([]persistence.Decision, error) {
	decisions := []persistence.Decision{}

	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return decisions, nil
}

func scanDecision(row rowScanner) (*persistence.Decision, error) {
	var d persistence.Decision
	var actions []byte
	var errText, analysis, risk sql.NullString

	err := row.Scan(&d.ID, &d.Timestamp, &actions, &errText, &analysis, &risk, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(actions) == 0 {
		actions = []byte(`[]`)
	}
	d.Actions = json.RawMessage(actions)
	d.Error = errText.String
	d.MarketAnalysis = analysis.String
	d.RiskAssessment = risk.String

	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
