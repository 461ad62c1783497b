package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	fileio "github.com/sawpanic/shortrun/internal/io"
	"github.com/sawpanic/shortrun/internal/ledger"
)

// positionsExport is the file written by positions --export
type positionsExport struct {
	Positions          []ledger.Position `json:"positions"`
	TotalShortNotional float64           `json:"total_short_notional"`
	Config             ledger.Config     `json:"config"`
}

func newPositionsCmd(opts *rootOptions) *cobra.Command {
	var (
		exportPath string
		asJSON     bool
		clearState bool
	)

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show open short positions from the ledger state store",
		Long:  "Restores the ledger snapshot from Redis (when enabled) and prints it. --export writes it atomically to a JSON file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
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

			if a.state == nil {
				log.Warn().Msg("Redis state store disabled; showing an empty ledger (set REDIS_ADDR)")
			}

			if clearState {
				if a.state == nil {
					return fmt.Errorf("--clear requires the Redis state store")
				}
				if err := a.state.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", a.state.Key())
				return nil
			}

			export := positionsExport{
				Positions:          a.ledger.Positions(),
				TotalShortNotional: a.ledger.TotalShortNotional(),
				Config:             a.ledger.Config(),
			}

			if exportPath != "" {
				if err := fileio.WriteJSONAtomic(exportPath, export); err != nil {
					return fmt.Errorf("failed to export positions: %w", err)
				}
				log.Info().Str("path", exportPath).Int("positions", len(export.Positions)).Msg("Positions exported")
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), export)
			}
			printPositions(cmd.OutOrStdout(), export)
			return nil
		},
	}

	cmd.Flags().StringVar(&exportPath, "export", "", "Also write positions to this JSON file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().BoolVar(&clearState, "clear", false, "Delete the stored ledger snapshot")
	return cmd
}

func printPositions(w io.Writer, export positionsExport) {
	if len(export.Positions) == 0 {
		fmt.Fprintln(w, "No open short positions")
		return
	}

	fmt.Fprintf(w, "%-8s %14s %12s %12s %9s %14s\n", "SYMBOL", "AMOUNT", "ENTRY", "TARGET", "FUNDING", "NOTIONAL")
	for _, p := range export.Positions {
		fmt.Fprintf(w, "%-8s %14.6f %12.4f %12.4f %9.4f %14.2f\n",
			p.Symbol, p.Amount, p.EntryPrice, p.TargetPrice, p.FundingRate, p.Notional())
	}
	fmt.Fprintf(w, "Total short notional: %.2f (max %.0f%% of portfolio, risk %s)\n",
		export.TotalShortNotional, export.Config.MaxShortPercentage, export.Config.RiskTolerance)
}
