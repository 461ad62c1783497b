package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/shortrun/internal/config"
	"github.com/sawpanic/shortrun/internal/score/shorting"
)

// scoringFlags override the market section of the config
type scoringFlags struct {
	minDecline float64
	top        int
	fixture    string
}

func (f *scoringFlags) register(fs *pflag.FlagSet) {
	fs.Float64Var(&f.minDecline, "min-decline", 5.0, "Minimum expected decline percent")
	fs.IntVar(&f.top, "top", 5, "Number of opportunities to keep (0 keeps all)")
	fs.StringVar(&f.fixture, "fixture", "", "Market fixture JSON (overrides market.fixture)")
}

// apply copies explicitly set flags into cfg
func (f *scoringFlags) apply(fs *pflag.FlagSet, cfg *config.MarketConfig) {
	if fs.Changed("min-decline") {
		cfg.MinExpectedDecline = f.minDecline
	}
	if fs.Changed("top") {
		cfg.Top = f.top
	}
	if fs.Changed("fixture") {
		cfg.Fixture = f.fixture
	}
}

func newOpportunitiesCmd(opts *rootOptions) *cobra.Command {
	var (
		scoring scoringFlags
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "opportunities",
		Short: "Score shorting opportunities from the current market snapshot",
		Long:  "Ranks assets by funding, volatility and momentum and prints the top candidates. No API key needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			scoring.apply(cmd.Flags(), &cfg.Market)
			if err := cfg.ValidateCore(); err != nil {
				return err
			}

			source, err := buildSource(cfg.Market)
			if err != nil {
				return err
			}
			records, err := source.MarketData(cmd.Context())
			if err != nil {
				return err
			}
			rates, err := source.FundingRates(cmd.Context())
			if err != nil {
				return err
			}

			opportunities := shorting.Top(shorting.FilterByDecline(shorting.Score(records, rates), cfg.Market.MinExpectedDecline), cfg.Market.Top)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), opportunities)
			}
			printOpportunities(cmd.OutOrStdout(), opportunities, cfg.Market.MinExpectedDecline)
			return nil
		},
	}

	scoring.register(cmd.Flags())
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printOpportunities(w io.Writer, opportunities []shorting.Opportunity, minDecline float64) {
	if len(opportunities) == 0 {
		fmt.Fprintf(w, "No shorting opportunities with expected decline >= %.1f%%\n", minDecline)
		return
	}

	fmt.Fprintf(w, "%-4s %-8s %12s %12s %9s %9s %7s %-6s\n", "#", "SYMBOL", "PRICE", "TARGET", "DECLINE", "FUNDING", "SCORE", "TIER")
	for i, opp := range opportunities {
		fmt.Fprintf(w, "%-4d %-8s %12.4f %12.4f %8.2f%% %9.4f %7.2f %-6s\n",
			i+1, opp.Symbol, opp.CurrentPrice, opp.TargetPrice, opp.ExpectedDeclinePct, opp.FundingRate, opp.Score, opp.Tier)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
