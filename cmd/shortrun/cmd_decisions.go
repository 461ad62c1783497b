package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sawpanic/shortrun/internal/advisory"
	"github.com/sawpanic/shortrun/internal/persistence"
	"github.com/sawpanic/shortrun/internal/sink"
)

func newDecisionsCmd(opts *rootOptions) *cobra.Command {
	var (
		from   string
		limit  int
		asJSON bool
		query  decisionQuery
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show recorded decisions, newest first",
		Long: `Reads decision records from the JSONL sink (default) or from Postgres with --from postgres.
With Postgres, --since/--until select a window (oldest first), --id shows one decision
and --failures adds the count of errored decisions in the window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			switch from {
			case "jsonl":
				if query.since != "" || query.until != "" || query.id != "" || query.failures {
					return fmt.Errorf("--since, --until, --id and --failures need --from postgres")
				}
				results, err := sink.ReadJSONL(cfg.Sink.JSONLPath)
				if err != nil {
					return err
				}
				results = latestResults(results, limit)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), results)
				}
				for _, r := range results {
					printResult(cmd.OutOrStdout(), r)
				}
				return nil

			case "postgres":
				if err := query.parse(); err != nil {
					return err
				}
				if err := cfg.ValidateCore(); err != nil {
					return err
				}
				a, err := newApp(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer a.Close()

				repo := a.db.Repository()
				if repo == nil {
					return fmt.Errorf("postgres persistence disabled (set PG_DSN)")
				}
				query.limit = limit
				decisions, err := query.fetch(cmd.Context(), repo.Decisions)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), decisions)
				}
				printDecisions(cmd.OutOrStdout(), decisions)
				if query.failures {
					count, err := repo.Decisions.CountFailures(cmd.Context(), query.window)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Failed decisions in window: %d\n", count)
				}
				return nil

			default:
				return fmt.Errorf("unknown --from %q (jsonl|postgres)", from)
			}
		},
	}

	cmd.Flags().StringVar(&from, "from", "jsonl", "Decision store to read (jsonl|postgres)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().StringVar(&query.since, "since", "", "Window start, RFC3339 (postgres only)")
	cmd.Flags().StringVar(&query.until, "until", "", "Window end, RFC3339 (postgres only)")
	cmd.Flags().StringVar(&query.id, "id", "", "Show a single decision by id (postgres only)")
	cmd.Flags().BoolVar(&query.failures, "failures", false, "Also print the failed decision count for the window (postgres only)")
	return cmd
}

// decisionQuery selects decisions from the Postgres store
type decisionQuery struct {
	since, until string
	id           string
	failures     bool
	limit        int

	window persistence.TimeRange
	uid    uuid.UUID
}

// parse validates the flag values
func (q *decisionQuery) parse() error {
	for _, bound := range []struct {
		flag string
		raw  string
		dst  *time.Time
	}{{"--since", q.since, &q.window.From}, {"--until", q.until, &q.window.To}} {
		if bound.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, bound.raw)
		if err != nil {
			return fmt.Errorf("%s must be RFC3339: %w", bound.flag, err)
		}
		*bound.dst = t
	}
	if !q.window.From.IsZero() && !q.window.To.IsZero() && q.window.To.Before(q.window.From) {
		return fmt.Errorf("--until must not be before --since")
	}
	if q.id != "" {
		uid, err := uuid.Parse(q.id)
		if err != nil {
			return fmt.Errorf("--id must be a UUID: %w", err)
		}
		q.uid = uid
	}
	return nil
}

func (q *decisionQuery) hasWindow() bool {
	return !q.window.From.IsZero() || !q.window.To.IsZero()
}

// fetch runs the lookup the flags ask for: one id, a window, or the latest records
func (q *decisionQuery) fetch(ctx context.Context, repo persistence.DecisionRepo) ([]persistence.Decision, error) {
	switch {
	case q.uid != uuid.Nil:
		d, err := repo.Get(ctx, q.uid)
		if err != nil {
			return nil, fmt.Errorf("decision %s: %w", q.uid, err)
		}
		return []persistence.Decision{*d}, nil
	case q.hasWindow():
		decisions, err := repo.ListRange(ctx, q.window)
		if err != nil {
			return nil, err
		}
		if q.limit > 0 && len(decisions) > q.limit {
			decisions = decisions[:q.limit]
		}
		return decisions, nil
	default:
		return repo.Latest(ctx, q.limit)
	}
}

// latestResults returns the last n records, newest first
func latestResults(results []advisory.Result, n int) []advisory.Result {
	if n > len(results) {
		n = len(results)
	}
	out := make([]advisory.Result, 0, n)
	for i := len(results) - 1; i >= len(results)-n; i-- {
		out = append(out, results[i])
	}
	return out
}

func printDecisions(w io.Writer, decisions []persistence.Decision) {
	if len(decisions) == 0 {
		fmt.Fprintln(w, "No decisions recorded")
		return
	}
	for _, d := range decisions {
		status := "ok"
		if d.Failed() {
			status = "error: " + d.Error
		}
		fmt.Fprintf(w, "%s  %s  %s  %s\n", d.Timestamp.UTC().Format(time.RFC3339), d.ID, status, string(d.Actions))
	}
}
