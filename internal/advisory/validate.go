package advisory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/market"
)

var errNotJSONObject = errors.New("response is not a JSON object")

// rawResponse is the decision service payload before validation
type rawResponse struct {
	Actions        []map[string]json.RawMessage
	Timestamp      string
	MarketAnalysis string
	RiskAssessment string
}

// parseResponse decodes the service content. Anything that is not a JSON
// object, or whose actions is not a list of objects, is an error.
func parseResponse(content string) (rawResponse, error) {
	var resp rawResponse

	body := stripCodeFence(content)
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return resp, fmt.Errorf("%w: %v", errNotJSONObject, err)
	}
	if top == nil {
		return resp, errNotJSONObject
	}

	if raw, ok := top["actions"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &resp.Actions); err != nil {
			return resp, fmt.Errorf("actions must be a list of objects: %w", err)
		}
	}
	resp.Timestamp = textField(top["timestamp"])
	resp.MarketAnalysis = textField(top["market_analysis"])
	resp.RiskAssessment = textField(top["risk_assessment"])
	return resp, nil
}

var requiredFields = []string{"symbol", "action_type", "amount", "current_price", "target_price", "reason"}

// normalizeAction fills missing required fields with defaults and coerces
// the action type. It never rejects an action.
func normalizeAction(raw map[string]json.RawMessage, index int) (ledger.Action, []string) {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf("action %d: ", index)+fmt.Sprintf(format, args...))
	}

	for _, field := range requiredFields {
		if v, ok := raw[field]; !ok || isNull(v) {
			warn("missing required field: %s", field)
		}
	}

	action := ledger.Action{
		Symbol: stringOr(raw["symbol"], "unknown"),
		Reason: stringOr(raw["reason"], ""),
	}

	typeName := stringOr(raw["action_type"], "")
	actionType, ok := ParseActionType(typeName)
	if !ok {
		warn("invalid action type: %q, defaulting to %q", typeName, ledger.ActionOpen)
		actionType = ledger.ActionOpen
	}
	action.Type = actionType

	numbers := []struct {
		name string
		dst  *float64
	}{
		{"amount", &action.Amount},
		{"current_price", &action.CurrentPrice},
		{"target_price", &action.TargetPrice},
		{"funding_rate", &action.FundingRate},
		{"expected_decline", &action.ExpectedDecline},
	}
	for _, n := range numbers {
		v, ok := raw[n.name]
		if !ok || isNull(v) {
			continue
		}
		f, err := numberValue(v)
		if err != nil {
			warn("field %s is not numeric, using 0", n.name)
			continue
		}
		*n.dst = f
	}

	return action, warnings
}

// ParseActionType maps both vocabularies (open/close and
// borrow/repay_borrow) onto ledger action types
func ParseActionType(name string) (ledger.ActionType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "open", "borrow":
		return ledger.ActionOpen, true
	case "close", "repay_borrow":
		return ledger.ActionClose, true
	default:
		return "", false
	}
}

func numberValue(raw json.RawMessage) (float64, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	f, ok := market.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return f, nil
}

func stringOr(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 || isNull(raw) {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// textField returns string values as-is and any other JSON as compact text
func textField(raw json.RawMessage) string {
	return stringOr(raw, "")
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// stripCodeFence removes a ```json ... ``` wrapper some models add
func stripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
