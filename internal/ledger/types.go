package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNoPosition is returned when a close targets a symbol with no open short.
	ErrNoPosition = errors.New("no open short position")
	// ErrInvalidAction is returned for actions the ledger cannot account for.
	ErrInvalidAction = errors.New("invalid action")
	// ErrInvalidConfig is returned by New for out-of-range configuration.
	ErrInvalidConfig = errors.New("invalid ledger config")
)

// RiskTolerance is advisory only; the ledger passes it through but never enforces it.
type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

// Valid reports whether r is one of the known tolerances
func (r RiskTolerance) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// ActionType distinguishes opening (borrow) from closing (repay_borrow) a short
type ActionType string

const (
	ActionOpen  ActionType = "open"
	ActionClose ActionType = "close"
)

// Config is fixed for the lifetime of a ledger
type Config struct {
	MaxShortPercentage float64       `yaml:"max_short_percentage" json:"max_short_percentage"` // 0-100
	RiskTolerance      RiskTolerance `yaml:"risk_tolerance" json:"risk_tolerance"`
}

// DefaultConfig mirrors the production agent defaults
func DefaultConfig() Config {
	return Config{
		MaxShortPercentage: 50.0,
		RiskTolerance:      RiskMedium,
	}
}

// Validate checks the percentage range and the tolerance
func (c Config) Validate() error {
	if math.IsNaN(c.MaxShortPercentage) || c.MaxShortPercentage < 0 || c.MaxShortPercentage > 100 {
		return fmt.Errorf("%w: max_short_percentage %.2f outside 0-100", ErrInvalidConfig, c.MaxShortPercentage)
	}
	if !c.RiskTolerance.Valid() {
		return fmt.Errorf("%w: risk_tolerance %q must be low, medium or high", ErrInvalidConfig, c.RiskTolerance)
	}
	return nil
}

// Position is one open short, keyed by symbol
type Position struct {
	Symbol      string    `json:"symbol"`
	Amount      float64   `json:"amount"`
	EntryPrice  float64   `json:"entry_price"`  // amount-weighted average
	TargetPrice float64   `json:"target_price"` // lowest buy-back target seen
	FundingRate float64   `json:"funding_rate"` // latest observed
	OpenedAt    time.Time `json:"timestamp"`    // last mutation
}

// Notional returns amount * entry price
func (p Position) Notional() float64 {
	return p.Amount * p.EntryPrice
}

// Action is a single proposed ledger mutation
type Action struct {
	Symbol          string     `json:"symbol"`
	Type            ActionType `json:"action_type"`
	Amount          float64    `json:"amount"`
	CurrentPrice    float64    `json:"current_price"`
	TargetPrice     float64    `json:"target_price"`
	FundingRate     float64    `json:"funding_rate"`
	ExpectedDecline float64    `json:"expected_decline"`
	Reason          string     `json:"reason"`
}

// Close describes the outcome of a close against an existing position
type Close struct {
	Symbol      string  `json:"symbol"`
	Closed      float64 `json:"closed"`
	Remaining   float64 `json:"remaining"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price"`
	RealizedPnL float64 `json:"realized_pnl"`
	FullyClosed bool    `json:"fully_closed"`
	Clamped     bool    `json:"clamped"` // requested more than was open
}

// WarningKind classifies non-fatal ledger events
type WarningKind string

const (
	WarnNoPosition       WarningKind = "no_position"
	WarnInvalidAction    WarningKind = "invalid_action"
	WarnExposureExceeded WarningKind = "exposure_exceeded"
)

// Warning is a non-fatal event the caller should surface
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Symbol  string      `json:"symbol,omitempty"`
	Message string      `json:"message"`
}

// Report summarizes one ApplyActions call
type Report struct {
	Opened             int       `json:"opened"`
	Closes             []Close   `json:"closes,omitempty"`
	Warnings           []Warning `json:"warnings,omitempty"`
	TotalShortNotional float64   `json:"total_short_notional"`
	ExposureLimit      float64   `json:"exposure_limit"`
	ExposureExceeded   bool      `json:"exposure_exceeded"`
	RealizedPnL        float64   `json:"realized_pnl"`
}
