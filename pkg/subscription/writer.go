package subscription

import (
	"context"
	"errors"
)

// FallbackWrite is a named two-step write policy: Primary is attempted first and
// Fallback runs only when Primary failed and ShouldFallback accepts the error.
type FallbackWrite struct {
	Name           string
	Primary        func(ctx context.Context) error
	Fallback       func(ctx context.Context) error
	ShouldFallback func(err error) bool // nil falls back on any error
}

// Run executes the policy. usedFallback reports whether the fallback step ran
// and succeeded. When both steps fail the errors are joined.
func (w FallbackWrite) Run(ctx context.Context) (usedFallback bool, err error) {
	primaryErr := w.Primary(ctx)
	if primaryErr == nil {
		return false, nil
	}
	if w.Fallback == nil || (w.ShouldFallback != nil && !w.ShouldFallback(primaryErr)) {
		return false, primaryErr
	}
	if err := w.Fallback(ctx); err != nil {
		return false, errors.Join(primaryErr, err)
	}
	return true, nil
}

// unlessManualConflict never falls back over an admin-managed row.
func unlessManualConflict(err error) bool {
	return !errors.Is(err, ErrManualOverrideConflict)
}
