// Package advisory turns ledger and market state into a request for an
// external decision service, validates what comes back and applies the
// accepted actions to the ledger.
package advisory

import (
	"context"
	"time"

	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/market"
)

// Service is the external decision generator. It returns the raw response
// content; parsing and validation belong to the Adapter. Implementations
// should return once ctx is done; the Adapter stops waiting at its timeout
// either way.
type Service interface {
	GenerateActions(ctx context.Context, req Request) (string, error)
}

// ServiceFunc adapts a plain function to Service
type ServiceFunc func(ctx context.Context, req Request) (string, error)

// GenerateActions calls f
func (f ServiceFunc) GenerateActions(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Request is everything the decision service sees for one cycle
type Request struct {
	SystemPrompt       string                     `json:"-"`
	Prompt             string                     `json:"-"`
	MarketData         []market.Record            `json:"market_data"`
	FundingRates       market.FundingRates        `json:"funding_rates"`
	Positions          map[string]ledger.Position `json:"positions"`
	PortfolioValue     float64                    `json:"portfolio_value"`
	RiskTolerance      ledger.RiskTolerance       `json:"risk_tolerance"`
	MaxShortPercentage float64                    `json:"max_short_percentage"`
	Timestamp          time.Time                  `json:"timestamp"`
}

// Input is the per-cycle market state handed to Generate
type Input struct {
	MarketData     []market.Record
	FundingRates   market.FundingRates
	PortfolioValue float64
}

// Result is the decision record for one cycle. Callers always get a
// well-formed Result; failures show up in Error with an empty action list.
type Result struct {
	Actions        []ledger.Action `json:"actions"`
	Timestamp      string          `json:"timestamp"`
	Error          string          `json:"error,omitempty"`
	MarketAnalysis string          `json:"market_analysis,omitempty"`
	RiskAssessment string          `json:"risk_assessment,omitempty"`

	// Not persisted
	Warnings []string       `json:"-"`
	Report   *ledger.Report `json:"-"`
}

// Failed reports whether the service call or response parsing failed
func (r Result) Failed() bool {
	return r.Error != ""
}
