package market

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_JSONPassesExtraThrough(t *testing.T) {
	in := []byte(`{"symbol":"SOL","price":120,"volatility":7.2,"priceChange24h":8.7,"rsi14":82.1,"macd":2.4}`)

	var rec Record
	require.NoError(t, json.Unmarshal(in, &rec))

	assert.Equal(t, "SOL", rec.Symbol)
	assert.Equal(t, 120.0, rec.Price)
	assert.Equal(t, 7.2, rec.Volatility)
	assert.Equal(t, 8.7, rec.PriceChange24h)
	assert.Equal(t, 82.1, rec.Extra["rsi14"])

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestRecordFromMap_RejectsNonNumericCoreField(t *testing.T) {
	_, err := RecordFromMap(map[string]any{"symbol": "BTC", "price": "cheap"})
	assert.Error(t, err)

	_, err = RecordFromMap(map[string]any{"symbol": 42})
	assert.Error(t, err)
}

func TestRecordFromMap_RejectsNonFiniteNumbers(t *testing.T) {
	for _, raw := range []map[string]any{
		{"symbol": "XRP", "price": 0.5, "volatility": "NaN"},
		{"symbol": "XRP", "price": "Inf", "volatility": 3},
		{"symbol": "XRP", "price": 0.5, "priceChange24h": "-Infinity"},
		{"symbol": "XRP", "price": 0.5, "volatility": math.NaN()},
	} {
		_, err := RecordFromMap(raw)
		assert.Error(t, err, "%v", raw)
	}
}

func TestToFloat_NonFinite(t *testing.T) {
	for _, v := range []any{"NaN", "inf", "+Infinity", math.Inf(-1), json.Number("NaN")} {
		_, ok := ToFloat(v)
		assert.False(t, ok, "%v", v)
	}
	f, ok := ToFloat("1e3")
	assert.True(t, ok)
	assert.Equal(t, 1000.0, f)
}

func TestRecordFromMap_AcceptsNumericStrings(t *testing.T) {
	rec, err := RecordFromMap(map[string]any{"symbol": "BTC", "price": "50000.5", "volatility": 3})
	require.NoError(t, err)
	assert.Equal(t, 50000.5, rec.Price)
	assert.Equal(t, 3.0, rec.Volatility)
	assert.Nil(t, rec.Extra)
}

func TestParseFixture_YAML(t *testing.T) {
	data := []byte(`
market:
  - symbol: BTC
    price: 50000
    volatility: 4.2
    priceChange24h: 2.5
    rsi14: 72.5
  - symbol: ETH
    price: 3000
    volatility: 5.1
    priceChange24h: -1.2
funding_rates:
  BTC: 0.01
  ETH: 0.008
portfolio_value: 100000
`)

	snap, err := ParseFixture(data)
	require.NoError(t, err)

	require.Len(t, snap.Market, 2)
	assert.Equal(t, "BTC", snap.Market[0].Symbol)
	assert.Equal(t, 50000.0, snap.Market[0].Price)
	assert.Equal(t, 72.5, snap.Market[0].Extra["rsi14"])
	assert.Equal(t, -1.2, snap.Market[1].PriceChange24h)
	assert.Equal(t, 0.008, snap.FundingRates["ETH"])
	assert.Equal(t, 100000.0, snap.PortfolioValue)
}

func TestParseFixture_RejectsNonFiniteValues(t *testing.T) {
	_, err := ParseFixture([]byte("market:\n  - {symbol: XRP, price: 0.5, volatility: .nan}\nfunding_rates: {XRP: 0.01}\n"))
	assert.Error(t, err)

	_, err = ParseFixture([]byte("market:\n  - {symbol: XRP, price: 0.5, volatility: 3}\nfunding_rates: {XRP: .inf}\n"))
	assert.Error(t, err)

	_, err = ParseFixture([]byte("funding_rates: {XRP: 0.01}\nportfolio_value: .nan\n"))
	assert.Error(t, err)
}

func TestLoadFixture_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	body := `{"market":[{"symbol":"DOGE","price":0.15,"volatility":9.8,"priceChange24h":12.3}],"funding_rates":{"DOGE":0.025},"portfolio_value":2500}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	snap, err := LoadFixture(path)
	require.NoError(t, err)
	assert.Equal(t, "DOGE", snap.Market[0].Symbol)
	assert.Equal(t, 2500.0, snap.PortfolioValue)
}

func TestLoadFixture_MissingFile(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestStaticSource_ReturnsCopies(t *testing.T) {
	src := NewStaticSource(Sample())
	ctx := context.Background()

	rates, err := src.FundingRates(ctx)
	require.NoError(t, err)
	rates["BTC"] = 99

	again, err := src.FundingRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.01, again["BTC"])

	records, err := src.MarketData(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 7)

	value, err := src.PortfolioValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, value)
}

func TestStaticSource_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStaticSource(Sample()).MarketData(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
