package inference

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how long a single call keeps retrying transient errors.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	Multiplier      float64
	Jitter          float64
}

// DefaultRetryPolicy allows 7 attempts within 45 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     7,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsed:      45 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 1
	return p
}

func (p RetryPolicy) backOff(ctx context.Context, lastErr *error) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsed
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var bo backoff.BackOff = &retryAfterBackOff{BackOff: b, lastErr: lastErr, max: p.MaxInterval}
	bo = backoff.WithMaxRetries(bo, uint64(attempts-1))
	return backoff.WithContext(bo, ctx)
}

// retryAfterBackOff stretches the next wait to the service's Retry-After
// hint when it asks for longer than the exponential schedule.
type retryAfterBackOff struct {
	backoff.BackOff
	lastErr *error
	max     time.Duration
}

func (r *retryAfterBackOff) NextBackOff() time.Duration {
	next := r.BackOff.NextBackOff()
	if next == backoff.Stop || r.lastErr == nil || *r.lastErr == nil {
		return next
	}
	hint := retryAfter(*r.lastErr)
	if r.max > 0 && hint > r.max {
		hint = r.max
	}
	if hint > next {
		return hint
	}
	return next
}
