// Package shorting ranks assets by how attractive they are to short, from a
// market snapshot and current funding rates. Scoring is deterministic and
// holds no state between calls.
package shorting

import (
	"math"
	"sort"
	"strings"

	"github.com/sawpanic/shortrun/internal/market"
)

// Tier buckets a score into high / medium / low potential
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

const (
	minVolatility      = 0.5
	stablecoinMarker   = "USD"
	maxVolatilityPts   = 5.0
	maxFundingPts      = 5.0
	maxExpectedDecline = 20.0
	risingDeclineRatio = 0.8
	highTierFloor      = 10.0
	mediumTierFloor    = 7.0
)

// Opportunity is one ranked shorting candidate. Never persisted.
type Opportunity struct {
	Symbol             string  `json:"symbol"`
	CurrentPrice       float64 `json:"current_price"`
	TargetPrice        float64 `json:"target_price"`
	FundingRate        float64 `json:"funding_rate"`
	Volatility         float64 `json:"volatility"`
	PriceChange24h     float64 `json:"price_change_24h"`
	ExpectedDeclinePct float64 `json:"expected_decline"`
	Score              float64 `json:"shorting_score"`
	Tier               Tier    `json:"potential"`
}

// Score returns eligible records ranked by shorting score, highest first.
// Equal scores keep their input order. Records without a funding rate,
// stablecoin pairs, near-flat assets and non-finite inputs are left out.
func Score(records []market.Record, rates market.FundingRates) []Opportunity {
	opportunities := make([]Opportunity, 0, len(records))

	for _, rec := range records {
		fundingRate, ok := rates[rec.Symbol]
		if !ok || rec.Symbol == "" {
			continue
		}
		if strings.Contains(rec.Symbol, stablecoinMarker) || !(rec.Volatility >= minVolatility) {
			continue
		}
		if !finite(rec.Price, rec.Volatility, rec.PriceChange24h, fundingRate) {
			continue
		}

		score := FundingScore(fundingRate) + VolatilityScore(rec.Volatility) + MomentumScore(rec.PriceChange24h)
		decline := ExpectedDecline(rec.PriceChange24h, rec.Volatility)

		opportunities = append(opportunities, Opportunity{
			Symbol:             rec.Symbol,
			CurrentPrice:       rec.Price,
			TargetPrice:        rec.Price * (1 - decline/100),
			FundingRate:        fundingRate,
			Volatility:         rec.Volatility,
			PriceChange24h:     rec.PriceChange24h,
			ExpectedDeclinePct: decline,
			Score:              score,
			Tier:               TierFor(score),
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].Score > opportunities[j].Score
	})
	return opportunities
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FundingScore rewards cheap or negative funding
func FundingScore(fundingRate float64) float64 {
	return math.Max(0, maxFundingPts-fundingRate*100)
}

// VolatilityScore is volatility capped at 5
func VolatilityScore(volatility float64) float64 {
	return math.Min(maxVolatilityPts, volatility)
}

// MomentumScore favours assets that just rallied
func MomentumScore(priceChange24h float64) float64 {
	switch {
	case priceChange24h > 5:
		return 4
	case priceChange24h > 2:
		return 3
	case priceChange24h > 0:
		return 2
	default:
		return 0
	}
}

// ExpectedDecline is the percent pullback assumed for the target price.
// A flat or falling asset is expected to move by its volatility.
func ExpectedDecline(priceChange24h, volatility float64) float64 {
	if priceChange24h > 0 {
		return math.Min(priceChange24h*risingDeclineRatio, maxExpectedDecline)
	}
	return volatility
}

// TierFor maps a score to its tier; lower bounds are exclusive
func TierFor(score float64) Tier {
	switch {
	case score > highTierFloor:
		return TierHigh
	case score > mediumTierFloor:
		return TierMedium
	default:
		return TierLow
	}
}

// FilterByDecline keeps opportunities expecting at least minPct decline
func FilterByDecline(opportunities []Opportunity, minPct float64) []Opportunity {
	out := make([]Opportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if opp.ExpectedDeclinePct >= minPct {
			out = append(out, opp)
		}
	}
	return out
}

// Top returns at most n opportunities; n <= 0 returns all
func Top(opportunities []Opportunity, n int) []Opportunity {
	if n <= 0 || n >= len(opportunities) {
		return opportunities
	}
	return opportunities[:n]
}
