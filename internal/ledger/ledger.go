// Package ledger keeps the set of open short positions and applies
// open/close actions with weighted-average cost accounting.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Ledger maps symbol to open short position. Safe for concurrent use; a
// whole ApplyActions sequence runs under one write lock.
type Ledger struct {
	mu        sync.RWMutex
	config    Config
	positions map[string]*Position
	now       func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the timestamp source for OpenedAt
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates an empty ledger. Out-of-range configuration is fatal.
func New(config Config, opts ...Option) (*Ledger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Ledger{
		config:    config,
		positions: make(map[string]*Position),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the immutable ledger configuration
func (l *Ledger) Config() Config {
	return l.config
}

// ApplyOpen opens or adds to a short position
func (l *Ledger) ApplyOpen(symbol string, amount, currentPrice, targetPrice, fundingRate float64) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.applyOpen(symbol, amount, currentPrice, targetPrice, fundingRate)
	if err != nil {
		logWarning(warningFor(symbol, err))
	}
	return pos, err
}

// ApplyClose buys back up to amount of an open short. Closing more than is
// open is clamped to a full close.
func (l *Ledger) ApplyClose(symbol string, amount, currentPrice float64) (Close, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	closed, err := l.applyClose(symbol, amount, currentPrice)
	if err != nil {
		logWarning(warningFor(symbol, err))
	}
	return closed, err
}

// ApplyActions applies actions in order and then checks total short notional
// against the exposure cap. Failures and a cap breach are reported as
// warnings; nothing is rolled back.
func (l *Ledger) ApplyActions(actions []Action, portfolioValue float64) Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	var report Report
	for _, action := range actions {
		switch action.Type {
		case ActionOpen:
			if _, err := l.applyOpen(action.Symbol, action.Amount, action.CurrentPrice, action.TargetPrice, action.FundingRate); err != nil {
				report.addWarning(warningFor(action.Symbol, err))
				continue
			}
			report.Opened++
		case ActionClose:
			closed, err := l.applyClose(action.Symbol, action.Amount, action.CurrentPrice)
			if err != nil {
				report.addWarning(warningFor(action.Symbol, err))
				continue
			}
			report.Closes = append(report.Closes, closed)
			report.RealizedPnL += closed.RealizedPnL
		default:
			err := fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, action.Type)
			report.addWarning(warningFor(action.Symbol, err))
		}
	}

	report.TotalShortNotional = l.totalShortNotional()
	report.ExposureLimit = portfolioValue * l.config.MaxShortPercentage / 100
	if report.TotalShortNotional > report.ExposureLimit {
		report.ExposureExceeded = true
		msg := fmt.Sprintf("total short notional %.2f exceeds %.1f%% of portfolio value (%.2f)",
			report.TotalShortNotional, l.config.MaxShortPercentage, report.ExposureLimit)
		report.Warnings = append(report.Warnings, Warning{Kind: WarnExposureExceeded, Message: msg})
		log.Warn().
			Float64("total_short_notional", report.TotalShortNotional).
			Float64("exposure_limit", report.ExposureLimit).
			Float64("max_short_pct", l.config.MaxShortPercentage).
			Msg("Total shorting exceeds maximum allowed percentage of portfolio value")
	}

	return report
}

// Snapshot returns a copy of every open position keyed by symbol
func (l *Ledger) Snapshot() map[string]Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := make(map[string]Position, len(l.positions))
	for symbol, pos := range l.positions {
		snapshot[symbol] = *pos
	}
	return snapshot
}

// Positions returns open positions ordered by symbol
func (l *Ledger) Positions() []Position {
	snapshot := l.Snapshot()
	positions := make([]Position, 0, len(snapshot))
	for _, pos := range snapshot {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions
}

// TotalShortNotional sums amount * entry price across open positions
func (l *Ledger) TotalShortNotional() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalShortNotional()
}

// Restore replaces the position map with previously persisted state.
// Entries that cannot be open shorts are dropped and counted.
func (l *Ledger) Restore(snapshot map[string]Position) (dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]*Position, len(snapshot))
	for symbol, pos := range snapshot {
		if !finitePositive(pos.Amount) || !finitePositive(pos.EntryPrice) {
			log.Warn().Str("symbol", symbol).Float64("amount", pos.Amount).
				Float64("entry_price", pos.EntryPrice).Msg("Dropping restored position")
			dropped++
			continue
		}
		p := pos
		p.Symbol = symbol
		l.positions[symbol] = &p
	}
	return dropped
}

func (l *Ledger) applyOpen(symbol string, amount, currentPrice, targetPrice, fundingRate float64) (Position, error) {
	if !finitePositive(amount) {
		return Position{}, fmt.Errorf("%w: open %s with amount %v", ErrInvalidAction, symbol, amount)
	}
	if !finitePositive(currentPrice) {
		return Position{}, fmt.Errorf("%w: open %s at price %v", ErrInvalidAction, symbol, currentPrice)
	}
	if math.IsNaN(targetPrice) || math.IsInf(targetPrice, 0) || math.IsNaN(fundingRate) || math.IsInf(fundingRate, 0) {
		return Position{}, fmt.Errorf("%w: open %s with non-finite target or funding", ErrInvalidAction, symbol)
	}

	existing, ok := l.positions[symbol]
	if !ok {
		pos := &Position{
			Symbol:      symbol,
			Amount:      amount,
			EntryPrice:  currentPrice,
			TargetPrice: targetPrice,
			FundingRate: fundingRate,
			OpenedAt:    l.now(),
		}
		l.positions[symbol] = pos
		log.Info().Str("symbol", symbol).Float64("amount", amount).
			Float64("entry_price", currentPrice).Float64("target_price", targetPrice).
			Msg("Opened short position")
		return *pos, nil
	}

	newAmount := existing.Amount + amount
	existing.EntryPrice = (existing.Amount*existing.EntryPrice + amount*currentPrice) / newAmount
	existing.Amount = newAmount
	existing.TargetPrice = math.Min(existing.TargetPrice, targetPrice)
	existing.FundingRate = fundingRate
	existing.OpenedAt = l.now()

	log.Info().Str("symbol", symbol).Float64("amount", existing.Amount).
		Float64("entry_price", existing.EntryPrice).Msg("Increased short position")
	return *existing, nil
}

// dustRatio is the remaining fraction of a position treated as fully closed
const dustRatio = 1e-9

func (l *Ledger) applyClose(symbol string, amount, currentPrice float64) (Close, error) {
	existing, ok := l.positions[symbol]
	if !ok {
		return Close{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if !finitePositive(amount) {
		return Close{}, fmt.Errorf("%w: close %s with amount %v", ErrInvalidAction, symbol, amount)
	}
	if math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) || currentPrice < 0 {
		return Close{}, fmt.Errorf("%w: close %s at price %v", ErrInvalidAction, symbol, currentPrice)
	}

	closedAmount := math.Min(amount, existing.Amount)
	// float residue from merged opens counts as a full close
	if existing.Amount-closedAmount <= existing.Amount*dustRatio {
		closedAmount = existing.Amount
	}
	result := Close{
		Symbol:      symbol,
		Closed:      closedAmount,
		Remaining:   existing.Amount - closedAmount,
		EntryPrice:  existing.EntryPrice,
		ExitPrice:   currentPrice,
		RealizedPnL: (existing.EntryPrice - currentPrice) * closedAmount,
		Clamped:     amount > existing.Amount,
	}

	if result.Remaining == 0 {
		result.FullyClosed = true
		delete(l.positions, symbol)
	} else {
		existing.Amount = result.Remaining
		existing.OpenedAt = l.now()
	}

	log.Info().Str("symbol", symbol).Float64("closed", closedAmount).
		Float64("remaining", result.Remaining).Float64("realized_pnl", result.RealizedPnL).
		Msg("Closed short position")
	return result, nil
}

func (l *Ledger) totalShortNotional() float64 {
	var total float64
	for _, pos := range l.positions {
		total += pos.Notional()
	}
	return total
}

func (r *Report) addWarning(w Warning) {
	logWarning(w)
	r.Warnings = append(r.Warnings, w)
}

func logWarning(w Warning) {
	log.Warn().Str("kind", string(w.Kind)).Str("symbol", w.Symbol).Msg(w.Message)
}

func warningFor(symbol string, err error) Warning {
	kind := WarnInvalidAction
	if errors.Is(err, ErrNoPosition) {
		kind = WarnNoPosition
	}
	return Warning{Kind: kind, Symbol: symbol, Message: err.Error()}
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
