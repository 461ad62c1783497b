// Package market holds the normalized per-asset records and funding rates
// the scorer and advisory adapter consume.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Record is one asset's market snapshot. Fields the scorer does not read
// (rsi14, macd, volume24h, ...) are kept in Extra and passed through.
type Record struct {
	Symbol         string
	Price          float64
	Volatility     float64
	PriceChange24h float64
	Extra          map[string]any
}

// FundingRates maps symbol to a fractional funding rate (0.01 = 1%)
type FundingRates map[string]float64

// Snapshot bundles everything one cycle reads from upstream
type Snapshot struct {
	Market         []Record     `json:"market"`
	FundingRates   FundingRates `json:"funding_rates"`
	PortfolioValue float64      `json:"portfolio_value"`
}

// Source supplies market data, funding rates and portfolio value
type Source interface {
	MarketData(ctx context.Context) ([]Record, error)
	FundingRates(ctx context.Context) (FundingRates, error)
	PortfolioValue(ctx context.Context) (float64, error)
}

var coreKeys = map[string]bool{
	"symbol":         true,
	"price":          true,
	"volatility":     true,
	"priceChange24h": true,
}

// MarshalJSON flattens Extra alongside the core fields
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		if !coreKeys[k] {
			out[k] = v
		}
	}
	out["symbol"] = r.Symbol
	out["price"] = r.Price
	out["volatility"] = r.Volatility
	out["priceChange24h"] = r.PriceChange24h
	return json.Marshal(out)
}

// UnmarshalJSON reads the core fields and keeps everything else in Extra
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec, err := RecordFromMap(raw)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// RecordFromMap builds a Record from a decoded JSON/YAML object. Missing
// numeric fields are zero; a non-numeric value for a core field is an error.
func RecordFromMap(raw map[string]any) (Record, error) {
	var rec Record

	if sym, ok := raw["symbol"]; ok {
		s, ok := sym.(string)
		if !ok {
			return rec, fmt.Errorf("symbol must be a string, got %T", sym)
		}
		rec.Symbol = s
	}

	var err error
	if rec.Price, err = numberField(raw, "price"); err != nil {
		return rec, err
	}
	if rec.Volatility, err = numberField(raw, "volatility"); err != nil {
		return rec, err
	}
	if rec.PriceChange24h, err = numberField(raw, "priceChange24h"); err != nil {
		return rec, err
	}

	for k, v := range raw {
		if coreKeys[k] {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[k] = v
	}
	return rec, nil
}

func numberField(raw map[string]any, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s must be numeric, got %T", key, v)
	}
	return f, nil
}

// ToFloat converts decoded JSON/YAML scalars (including numeric strings) to
// float64. NaN and infinities are rejected.
func ToFloat(v any) (float64, bool) {
	var (
		f  float64
		ok bool
	)
	switch n := v.(type) {
	case float64:
		f, ok = n, true
	case float32:
		f, ok = float64(n), true
	case int:
		f, ok = float64(n), true
	case int64:
		f, ok = float64(n), true
	case uint64:
		f, ok = float64(n), true
	case json.Number:
		var err error
		f, err = n.Float64()
		ok = err == nil
	case string:
		var err error
		f, err = strconv.ParseFloat(n, 64)
		ok = err == nil
	}
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
