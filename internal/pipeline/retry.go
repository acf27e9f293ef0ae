package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/metrics"
)

// Policy bounds every index service call: a per-attempt timeout, a limited number of
// retries with jittered exponential backoff, and an optional client-side rate limit.
// Only transient errors are retried.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	Limiter    *rate.Limiter
}

// NewLimiter returns a limiter for rps requests per second, or nil when rps <= 0.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Option configures pipeline components.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records calls, retries and transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// caller runs index calls under a Policy and reports them.
type caller struct {
	policy Policy
	options
}

// do runs fn until it succeeds, fails permanently, or retries run out.
// It returns the number of attempts made.
func (c caller) do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	base := c.policy.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxRetries := c.policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := retry.WithMaxRetries(uint64(maxRetries), retry.WithJitterPercent(20, retry.NewExponential(base)))

	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			c.metrics.Retry(op)
		}
		if c.policy.Limiter != nil {
			if err := c.policy.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.policy.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
		}
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if isRetryable(ctx, err) {
			c.logger.Debug("index call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return err
	})
	c.metrics.IndexCall(op, err)
	return attempts, err
}

// isRetryable reports transient service errors and per-attempt timeouts. A done parent
// context is never retried.
func isRetryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return index.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}
