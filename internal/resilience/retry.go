package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff controls retries with exponential delay and jitter.
type Backoff struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// Jitter is the fraction of each delay randomized in both directions.
	Jitter float64
}

// DefaultBackoff is used for provider calls unless configured otherwise.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		Initial:     500 * time.Millisecond,
		Max:         30 * time.Second,
		Multiplier:  2,
		Jitter:      0.25,
	}
}

// BackoffFromConfig builds a Backoff from configured values; zero values
// keep the defaults.
func BackoffFromConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) Backoff {
	b := DefaultBackoff()
	if maxAttempts > 0 {
		b.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		b.Initial = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		b.Max = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return b
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	b.Jitter = math.Min(math.Max(b.Jitter, 0), 1)
	return b
}

// Delay returns the wait before retry number attempt (0-based). rnd returns
// a value in [0,1); nil means no jitter.
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	b = b.normalized()
	delay := math.Min(float64(b.Initial)*math.Pow(b.Multiplier, float64(attempt)), float64(b.Max))
	if b.Jitter > 0 && rnd != nil {
		delay += (rnd()*2 - 1) * delay * b.Jitter
	}
	return time.Duration(math.Max(delay, 0))
}

// Retry calls fn until it succeeds, returns a non-transient error, the
// attempts run out, or ctx is done. A Retry-After hint longer than the
// computed delay is honored up to b.Max.
func Retry[T any](ctx context.Context, b Backoff, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b = b.normalized()
	var zero T
	var lastErr error
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) || attempt == b.MaxAttempts-1 {
			break
		}

		delay := b.Delay(attempt, rand.Float64)
		if hint, ok := RetryAfter(err); ok && hint > delay {
			delay = min(hint, b.Max)
		}
		zap.L().Warn("resilience: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}
