package market

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticSource serves a fixed snapshot on every call
type StaticSource struct {
	snapshot Snapshot
}

// NewStaticSource wraps a snapshot as a Source
func NewStaticSource(snapshot Snapshot) *StaticSource {
	return &StaticSource{snapshot: snapshot}
}

// MarketData returns a copy of the snapshot's records
func (s *StaticSource) MarketData(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Record, len(s.snapshot.Market))
	copy(out, s.snapshot.Market)
	return out, nil
}

// FundingRates returns a copy of the snapshot's funding rates
func (s *StaticSource) FundingRates(ctx context.Context) (FundingRates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(FundingRates, len(s.snapshot.FundingRates))
	for k, v := range s.snapshot.FundingRates {
		out[k] = v
	}
	return out, nil
}

// PortfolioValue returns the snapshot's portfolio value
func (s *StaticSource) PortfolioValue(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.snapshot.PortfolioValue, nil
}

type fixtureFile struct {
	Market         []map[string]any   `yaml:"market"`
	FundingRates   map[string]float64 `yaml:"funding_rates"`
	PortfolioValue float64            `yaml:"portfolio_value"`
}

// LoadFixture reads a snapshot from a YAML or JSON file
func LoadFixture(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes fixture bytes; JSON is accepted since it is valid YAML
func ParseFixture(data []byte) (Snapshot, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse fixture: %w", err)
	}

	snapshot := Snapshot{
		Market:         make([]Record, 0, len(file.Market)),
		FundingRates:   FundingRates(file.FundingRates),
		PortfolioValue: file.PortfolioValue,
	}
	for i, raw := range file.Market {
		rec, err := RecordFromMap(raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("market record %d: %w", i, err)
		}
		snapshot.Market = append(snapshot.Market, rec)
	}
	for symbol, rate := range snapshot.FundingRates {
		if _, ok := ToFloat(rate); !ok {
			return Snapshot{}, fmt.Errorf("funding rate for %s is not finite", symbol)
		}
	}
	if _, ok := ToFloat(snapshot.PortfolioValue); !ok {
		return Snapshot{}, fmt.Errorf("portfolio_value is not finite")
	}
	if snapshot.FundingRates == nil {
		snapshot.FundingRates = FundingRates{}
	}
	return snapshot, nil
}

// Sample is a small built-in snapshot for dry runs and demos
func Sample() Snapshot {
	return Snapshot{
		Market: []Record{
			{Symbol: "BTC", Price: 50000, Volatility: 4.2, PriceChange24h: 2.5, Extra: map[string]any{
				"volume24h": 1000000000.0, "rsi14": 72.5, "macd": 1.2, "bollingerBandWidth": 5.3,
				"additionalInfo": "High volatility expected",
			}},
			{Symbol: "ETH", Price: 3000, Volatility: 5.1, PriceChange24h: -1.2, Extra: map[string]any{
				"volume24h": 500000000.0, "rsi14": 45.2, "macd": -0.5, "bollingerBandWidth": 4.8,
				"additionalInfo": "Recent network upgrade",
			}},
			{Symbol: "SOL", Price: 120, Volatility: 7.2, PriceChange24h: 8.7, Extra: map[string]any{
				"volume24h": 150000000.0, "rsi14": 82.1, "macd": 2.4, "bollingerBandWidth": 6.5,
				"additionalInfo": "Overbought condition",
			}},
			{Symbol: "DOGE", Price: 0.15, Volatility: 9.8, PriceChange24h: 12.3, Extra: map[string]any{
				"volume24h": 80000000.0, "rsi14": 88.5, "macd": 0.012, "bollingerBandWidth": 15.2,
				"additionalInfo": "Social media driven rally",
			}},
			{Symbol: "AVAX", Price: 35, Volatility: 6.1, PriceChange24h: 4.5, Extra: map[string]any{
				"volume24h": 70000000.0, "rsi14": 65.5, "macd": 0.8, "bollingerBandWidth": 5.0,
				"additionalInfo": "Recent resistance at $36",
			}},
			{Symbol: "USDT", Price: 1.0, Volatility: 0.2, PriceChange24h: 0.01, Extra: map[string]any{
				"volume24h": 50000000000.0, "rsi14": 50.1, "macd": 0.001, "bollingerBandWidth": 0.2,
				"additionalInfo": "Stable coin with high liquidity",
			}},
			{Symbol: "USDC", Price: 1.0, Volatility: 0.15, PriceChange24h: 0.02, Extra: map[string]any{
				"volume24h": 30000000000.0, "rsi14": 50.2, "macd": 0.001, "bollingerBandWidth": 0.15,
				"additionalInfo": "Regulated stable coin",
			}},
		},
		FundingRates: FundingRates{
			"BTC":  0.01,
			"ETH":  0.008,
			"SOL":  0.015,
			"DOGE": 0.025,
			"AVAX": 0.012,
			"USDT": 0.001,
			"USDC": 0.001,
		},
		PortfolioValue: 100000,
	}
}
