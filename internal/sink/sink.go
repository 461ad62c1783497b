// Package sink records one decision record per advisory cycle.
package sink

import (
	"context"
	"errors"

	"github.com/sawpanic/shortrun/internal/advisory"
)

// Sink accepts decision records. Appends never rewrite earlier records.
type Sink interface {
	Append(ctx context.Context, result advisory.Result) error
}

// Multi fans each record out to every sink. All sinks are attempted.
type Multi []Sink

// Append writes to each sink and joins the failures
func (m Multi) Append(ctx context.Context, result advisory.Result) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
