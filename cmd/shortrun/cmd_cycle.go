package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/shortrun/internal/advisory"
	"github.com/sawpanic/shortrun/internal/application/cycle"
	"github.com/sawpanic/shortrun/internal/config"
)

const shutdownTimeout = 10 * time.Second

// advisoryApp loads config, requires an API key and wires the full pipeline
func advisoryApp(ctx context.Context, opts *rootOptions, scoring *scoringFlags, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	scoring.apply(cmd.Flags(), &cfg.Market)
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			return nil, fmt.Errorf("%w; offline commands: opportunities, positions, decisions, serve", err)
		}
		return nil, err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.enableAdvisory(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newCycleCmd(opts *rootOptions) *cobra.Command {
	var (
		scoring scoringFlags
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single advisory cycle",
		Long:  "Collects market data, requests actions from the decision service, applies them to the ledger and records the decision.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := advisoryApp(ctx, opts, &scoring, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.cycle.RunOnce(ctx)
			if err != nil && result.Timestamp == "" {
				return err
			}

			if asJSON {
				if encErr := writeJSON(cmd.OutOrStdout(), result); encErr != nil {
					return encErr
				}
			} else {
				printResult(cmd.OutOrStdout(), result)
			}

			if err != nil {
				return err
			}
			if result.Failed() {
				return fmt.Errorf("advisory failed: %s", result.Error)
			}
			return nil
		},
	}

	scoring.register(cmd.Flags())
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the decision record as JSON")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		scoring scoringFlags
		serve   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run advisory cycles on an interval until interrupted",
		Long:  "Runs a cycle every cycle.interval, retrying failures with backoff from cycle.retry_delay. --serve also starts the read-only HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := advisoryApp(ctx, opts, &scoring, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := cycle.NewRunner(a.cycle, a.cfg.Cycle.Interval, a.cfg.Cycle.RetryDelay)
			if err != nil {
				return err
			}

			serverErr := make(chan error, 1)
			if serve {
				srv, err := a.newServer(runner)
				if err != nil {
					return err
				}
				go func() { serverErr <- srv.Start() }()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						log.Warn().Err(err).Msg("HTTP server shutdown failed")
					}
				}()
			}

			runCtx, cancelRun := context.WithCancel(ctx)
			defer cancelRun()
			serverFailure := make(chan error, 1)
			go func() {
				select {
				case err := <-serverErr:
					if err == nil {
						err = errors.New("HTTP server stopped")
					}
					serverFailure <- err
					cancelRun()
				case <-runCtx.Done():
				}
			}()

			err = runner.Run(runCtx)
			status := runner.Status()
			log.Info().Int("cycles", status.Cycles).Int("failures", status.Failures).Msg("Runner finished")

			select {
			case srvErr := <-serverFailure:
				return fmt.Errorf("http server: %w", srvErr)
			default:
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	scoring.register(cmd.Flags())
	cmd.Flags().BoolVar(&serve, "serve", false, "Also serve the read-only HTTP API")
	return cmd
}

func printResult(w io.Writer, result advisory.Result) {
	fmt.Fprintf(w, "Decision at %s\n", result.Timestamp)
	if result.Failed() {
		fmt.Fprintf(w, "  error: %s\n", result.Error)
		return
	}
	if result.MarketAnalysis != "" {
		fmt.Fprintf(w, "  market: %s\n", result.MarketAnalysis)
	}
	if result.RiskAssessment != "" {
		fmt.Fprintf(w, "  risk:   %s\n", result.RiskAssessment)
	}
	if len(result.Actions) == 0 {
		fmt.Fprintln(w, "  no actions")
	}
	for _, a := range result.Actions {
		fmt.Fprintf(w, "  %-5s %-8s amount=%g price=%g target=%g reason=%q\n",
			a.Type, a.Symbol, a.Amount, a.CurrentPrice, a.TargetPrice, a.Reason)
	}
	if result.Report != nil {
		fmt.Fprintf(w, "  short notional %.2f / limit %.2f, realized pnl %.2f\n",
			result.Report.TotalShortNotional, result.Report.ExposureLimit, result.Report.RealizedPnL)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}
