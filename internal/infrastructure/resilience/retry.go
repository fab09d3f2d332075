// Package resilience wraps calls to the metering and pricing backends with
// bounded, deadline-aware retries and per-backend rate and concurrency limits.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/usagebill/backend/internal/domain/billing"
	"go.uber.org/zap"
)

// RetryConfig bounds the retry of transient failures
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns default retry bounds
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Retryer retries operations that fail with a transient error. Any other
// error is returned after the first attempt.
type Retryer struct {
	config RetryConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewRetryer creates a Retryer; zero fields of cfg take the defaults
func NewRetryer(cfg RetryConfig, logger *zap.Logger) *Retryer {
	d := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = d.InitialInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = max(d.MaxInterval, cfg.InitialInterval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{config: cfg, logger: logger, now: time.Now}
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts, or
// the next wait would overrun the context deadline. The last transient error
// is returned when retries stop.
func (r *Retryer) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.config.InitialInterval
	eb.MaxInterval = r.config.MaxInterval
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(r.config.MaxAttempts-1))
	b = &deadlineBackOff{BackOff: b, ctx: ctx, now: r.now}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !billing.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		last = err
		return err
	}, b, func(err error, wait time.Duration) {
		r.logger.Warn("Transient failure, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err == nil {
		return nil
	}
	if last != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return last
	}
	return err
}

// deadlineBackOff stops when the next wait would end after the context deadline
type deadlineBackOff struct {
	backoff.BackOff
	ctx context.Context
	now func() time.Time
}

func (d *deadlineBackOff) NextBackOff() time.Duration {
	next := d.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if deadline, ok := d.ctx.Deadline(); ok && d.now().Add(next).After(deadline) {
		return backoff.Stop
	}
	return next
}
