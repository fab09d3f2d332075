package resilience

import (
	"context"

	"github.com/usagebill/backend/internal/domain/billing"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimitConfig bounds the calls made to one backend
type LimitConfig struct {
	// RatePerSecond is the token refill rate; zero disables rate limiting
	RatePerSecond float64
	Burst         int
	// MaxInFlight caps concurrent calls; zero means unbounded
	MaxInFlight int64
}

// Limiter is a per-backend token bucket plus an in-flight cap
type Limiter struct {
	name    string
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewLimiter creates a limiter for the named backend
func NewLimiter(name string, cfg LimitConfig) *Limiter {
	l := &Limiter{name: name, limiter: rate.NewLimiter(rate.Inf, 0)}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if cfg.MaxInFlight > 0 {
		l.sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return l
}

// Name returns the backend the limiter guards
func (l *Limiter) Name() string {
	return l.name
}

// Acquire waits for a token and an in-flight slot. The returned func
// releases the slot. Waiting past the context deadline is a transient error.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, billing.NewTransientError(l.name+": rate limit", err)
	}
	if l.sem == nil {
		return func() {}, nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, billing.NewTransientError(l.name+": in-flight limit", err)
	}
	return func() { l.sem.Release(1) }, nil
}

// Do runs fn inside the limits
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
