package resilience

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Policy bundles the guards applied to each upstream call. Nil fields are
// skipped.
type Policy struct {
	Backoff Backoff
	Breaker *Breaker
	Limiter *rate.Limiter
}

// Call runs fn under p: every attempt waits for the limiter and passes the
// breaker, and transient failures are retried per p.Backoff. A rejected
// breaker ends the call without further attempts.
func Call[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Retry(ctx, p.Backoff, op, func(ctx context.Context) (T, error) {
		var zero T
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return zero, eris.Wrapf(err, "resilience: %s rate limit", op)
			}
		}
		if p.Breaker != nil {
			if err := p.Breaker.Allow(); err != nil {
				return zero, err
			}
		}
		val, err := fn(ctx)
		if p.Breaker != nil {
			p.Breaker.Record(err)
		}
		return val, err
	})
}
