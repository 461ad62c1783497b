package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/shortrun/internal/advisory"
	"github.com/sawpanic/shortrun/internal/application/cycle"
	"github.com/sawpanic/shortrun/internal/config"
	"github.com/sawpanic/shortrun/internal/infrastructure/db"
	httpserver "github.com/sawpanic/shortrun/internal/interfaces/http"
	"github.com/sawpanic/shortrun/internal/interfaces/http/handlers"
	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/market"
	"github.com/sawpanic/shortrun/internal/metrics"
	"github.com/sawpanic/shortrun/internal/persistence/redisstore"
	"github.com/sawpanic/shortrun/internal/providers/deepseek"
	"github.com/sawpanic/shortrun/internal/sink"
)

// app holds the wired components for one command invocation
type app struct {
	cfg     *config.Config
	ledger  *ledger.Ledger
	source  market.Source
	metrics *metrics.Registry
	db      *db.Manager
	state   *redisstore.Store

	// set by enableAdvisory
	client *deepseek.Client
	jsonl  *sink.JSONL
	cycle  *cycle.Cycle
}

// newApp wires the ledger, market source, metrics and the optional stores.
// A configured Redis snapshot is restored into the ledger.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	l, err := ledger.New(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	source, err := buildSource(cfg.Market)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		ledger:  l,
		source:  source,
		metrics: metrics.NewRegistry(true),
	}

	a.db, err = db.NewManager(cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		a.state, err = redisstore.New(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		if _, err := redisstore.RestoreInto(ctx, a.state, l); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to restore ledger: %w", err)
		}
	}

	a.metrics.SetLedgerState(l)
	return a, nil
}

// buildSource returns the fixture source when configured, otherwise the built-in sample
func buildSource(cfg config.MarketConfig) (market.Source, error) {
	if cfg.Fixture == "" {
		return market.NewStaticSource(market.Sample()), nil
	}
	snapshot, err := market.LoadFixture(cfg.Fixture)
	if err != nil {
		return nil, err
	}
	log.Info().Str("fixture", cfg.Fixture).Int("records", len(snapshot.Market)).Msg("Loaded market fixture")
	return market.NewStaticSource(snapshot), nil
}

// enableAdvisory wires the decision service client, adapter, sinks and cycle
func (a *app) enableAdvisory() error {
	var err error
	a.client, err = deepseek.New(a.cfg.Advisory.APIKey, a.cfg.Advisory.ClientOptions()...)
	if err != nil {
		return err
	}

	adapter, err := advisory.NewAdapter(a.client, a.ledger, advisory.WithTimeout(a.cfg.Advisory.Timeout))
	if err != nil {
		return err
	}

	a.jsonl, err = sink.NewJSONL(a.cfg.Sink.JSONLPath)
	if err != nil {
		return err
	}
	sinks := sink.Multi{a.jsonl}
	if repo := a.db.Repository(); repo != nil && a.cfg.Sink.Postgres {
		pg, err := sink.NewPostgres(repo.Decisions)
		if err != nil {
			return err
		}
		sinks = append(sinks, pg)
	}

	opts := []cycle.Option{
		cycle.WithMetrics(a.metrics),
		cycle.WithScoring(a.cfg.Market.MinExpectedDecline, a.cfg.Market.Top),
	}
	if a.state != nil {
		opts = append(opts, cycle.WithStateStore(a.state))
	}

	a.cycle, err = cycle.New(a.source, adapter, a.ledger, sinks, opts...)
	if err != nil {
		return err
	}

	log.Info().
		Str("model", a.cfg.Advisory.Model).
		Str("jsonl", a.jsonl.Path()).
		Int("sinks", len(sinks)).
		Bool("state_store", a.state != nil).
		Msg("Advisory pipeline ready")
	return nil
}

// handlerDeps builds the read-only API view. runner may be nil.
func (a *app) handlerDeps(runner handlers.RunnerStatus) handlers.Deps {
	deps := handlers.Deps{
		Ledger:             a.ledger,
		Source:             a.source,
		MinExpectedDecline: a.cfg.Market.MinExpectedDecline,
		Top:                a.cfg.Market.Top,
	}
	if runner != nil {
		deps.Runner = runner
	}
	if repo := a.db.Repository(); repo != nil {
		deps.Decisions = repo.Decisions
		deps.DBHealth = a.db.Health()
	}
	if a.client != nil {
		deps.Breaker = a.client.BreakerState
	}
	return deps
}

// newServer builds the HTTP server from the http config section
func (a *app) newServer(runner handlers.RunnerStatus) (*httpserver.Server, error) {
	serverCfg := httpserver.DefaultServerConfig()
	serverCfg.Host = a.cfg.HTTP.Host
	serverCfg.Port = a.cfg.HTTP.Port
	if a.cfg.HTTP.ReadTimeout > 0 {
		serverCfg.ReadTimeout = a.cfg.HTTP.ReadTimeout
	}
	if a.cfg.HTTP.WriteTimeout > 0 {
		serverCfg.WriteTimeout = a.cfg.HTTP.WriteTimeout
	}
	if a.cfg.HTTP.RequestTimeout > 0 {
		serverCfg.RequestTimeout = a.cfg.HTTP.RequestTimeout
	}
	return httpserver.NewServer(serverCfg, a.handlerDeps(runner), a.metrics.Handler())
}

// Close releases every store that was opened
func (a *app) Close() error {
	var errs []error
	if a.jsonl != nil {
		errs = append(errs, a.jsonl.Close())
	}
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
