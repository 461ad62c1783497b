package advisory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SystemPrompt frames the decision service's role
const SystemPrompt = "You are a professional crypto shorting agent. Analyze the market data and funding rates " +
	"to identify coins likely to decline in value. Provide optimal shorting actions in JSON format."

const responseShape = `{
  "actions": [
    {
      "symbol": "BTC",
      "action_type": "borrow",
      "amount": 0.5,
      "current_price": 50000,
      "target_price": 45000,
      "funding_rate": 0.01,
      "expected_decline": 10.0,
      "reason": "overbought near resistance, pullback expected"
    }
  ],
  "market_analysis": "overall market view and shorting rationale",
  "risk_assessment": "current shorting risk",
  "timestamp": "%s"
}`

// renderPrompt builds the user prompt text from a populated request
func renderPrompt(req Request) (string, error) {
	marketJSON, err := json.MarshalIndent(req.MarketData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode market data: %w", err)
	}
	fundingJSON, err := json.MarshalIndent(req.FundingRates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode funding rates: %w", err)
	}
	positionsJSON, err := json.MarshalIndent(map[string]any{"shorts": req.Positions}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode positions: %w", err)
	}
	ts := req.Timestamp.Format(time.RFC3339)

	var b strings.Builder
	b.WriteString("Analyze the following crypto market data, funding rates and current short positions, ")
	b.WriteString("and choose the assets best suited for shorting.\n\n")
	fmt.Fprintf(&b, "Market data:\n%s\n\n", marketJSON)
	fmt.Fprintf(&b, "Funding rates:\n%s\n\n", fundingJSON)
	fmt.Fprintf(&b, "Current positions:\n%s\n\n", positionsJSON)
	fmt.Fprintf(&b, "Portfolio value: $%.2f\n", req.PortfolioValue)
	fmt.Fprintf(&b, "Risk tolerance: %s\n\n", req.RiskTolerance)
	b.WriteString("Respond with a single valid JSON object of this shape:\n\n")
	fmt.Fprintf(&b, responseShape, ts)
	b.WriteString("\n\naction_type is \"borrow\" to open a short or \"repay_borrow\" to close one.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString("1. Focus on assets with low funding rates and an expected price decline.\n")
	b.WriteString("2. Weigh volatility and trend; be more conservative on highly volatile assets.\n")
	b.WriteString("3. Avoid concentrating exposure in a single asset.\n")
	fmt.Fprintf(&b, "4. Total short exposure must not exceed %.1f%% of portfolio value.\n", req.MaxShortPercentage)
	b.WriteString("5. Give a short reason for every action and a realistic buy-back target price.\n")
	b.WriteString("6. Avoid shorting assets in a strong uptrend; look for overbought readings and bearish divergence.\n")
	b.WriteString("7. Include market_analysis, risk_assessment and the current timestamp.\n\n")
	b.WriteString("Return only the JSON object, with no extra text.")
	return b.String(), nil
}
