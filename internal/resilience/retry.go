// Package resilience bounds how hard the resolver leans on flaky external
// sources: retry policies with jittered pauses and a circuit breaker that
// parks a source after repeated failures.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls how an operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Base is the pause before the first retry; Max caps later pauses.
	Base time.Duration
	Max  time.Duration
	// Factor grows the pause between retries. 1 keeps it flat.
	Factor float64
	// Jitter spreads each pause by up to ±Jitter of its length.
	Jitter float64

	// Retryable decides whether err is worth another try. Nil means
	// IsTransient.
	Retryable func(err error) bool
	// OnRetry runs before each pause.
	OnRetry func(attempt int, err error)
}

// BackoffPolicy suits API downloads: a few attempts with exponential
// backoff, retrying only transient failures.
func BackoffPolicy(attempts int) Policy {
	return Policy{
		Attempts: attempts,
		Base:     500 * time.Millisecond,
		Max:      30 * time.Second,
		Factor:   2,
		Jitter:   0.25,
	}
}

// PolitePolicy retries every error a fixed number of times with a flat,
// heavily jittered pause. Sites scraped through a browser dislike bursts.
func PolitePolicy(attempts int, pause time.Duration) Policy {
	return Policy{
		Attempts:  attempts,
		Base:      pause,
		Max:       pause,
		Factor:    1,
		Jitter:    0.5,
		Retryable: func(error) bool { return true },
	}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay is the pause after the given zero-based failed attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := math.Min(float64(p.Base)*math.Pow(p.Factor, float64(attempt)), float64(p.Max))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// DoVal calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends. The last error is returned.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	for attempt := 0; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt+1 >= p.Attempts {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		if Pause(ctx, p.delay(attempt)) != nil {
			return zero, err
		}
	}
}

// Pause sleeps for d or until ctx is done, whichever comes first.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry.
func RetryLogger(src, op string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("source", src),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
