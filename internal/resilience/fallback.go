package resilience

import (
	"context"
	"fmt"
	"strings"
)

// FallbackOption is one link in a FallbackChain: a named operation, with
// an optional availability precheck that lets a chain skip a link
// without spending an execute attempt on it.
type FallbackOption[T any] struct {
	Name        string
	Execute     func(ctx context.Context) (T, error)
	IsAvailable func(ctx context.Context) bool
}

// AllFallbacksFailed is returned when every option in a chain was either
// unavailable or failed.
type AllFallbacksFailed struct {
	Errors map[string]error
}

func (e *AllFallbacksFailed) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for name, err := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return fmt.Sprintf("resilience: all fallbacks failed: %s", strings.Join(parts, "; "))
}

// FallbackChain tries an ordered list of options and returns the first
// one that's available and succeeds (spec §4.13). Trial order is
// strictly sequential: a later option is never attempted concurrently
// with an earlier one, since trying option N+1 before knowing whether N
// succeeded would defeat "first available and successful."
func FallbackChain[T any](ctx context.Context, options []FallbackOption[T]) (T, error) {
	var zero T
	errs := make(map[string]error)

	for _, opt := range options {
		if opt.IsAvailable != nil && !opt.IsAvailable(ctx) {
			errs[opt.Name] = fmt.Errorf("not available")
			continue
		}
		result, err := opt.Execute(ctx)
		if err == nil {
			return result, nil
		}
		errs[opt.Name] = err
		if ctx.Err() != nil {
			errs[opt.Name] = ctx.Err()
			return zero, &AllFallbacksFailed{Errors: errs}
		}
	}

	return zero, &AllFallbacksFailed{Errors: errs}
}
