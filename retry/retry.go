package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/metrics"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type options struct {
	logger  logger.Logger
	metrics metrics.Recorder
	sleep   Sleeper
	rand    func() float64
	onRetry func(attempt int, err error, delay time.Duration)
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = metrics.OrNoop(r)
	}
}

// WithSleeper replaces the timer-based wait, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(o *options) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(o *options) {
		if fn != nil {
			o.rand = fn
		}
	}
}

// OnRetry registers a hook called before each backoff wait.
func OnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		sleep:   sleepContext,
		rand:    rand.Float64,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the wait after failed attempt n, jittered to
// [0.75*base, 1.25*base] when the policy asks for it. r must be in [0, 1).
func Delay(p Policy, attempt int, r float64) time.Duration {
	base := p.BaseDelay(attempt)
	if !p.Jitter {
		return base
	}
	return time.Duration(float64(base) * (0.75 + 0.5*r))
}

// Do calls op until it succeeds, the policy's predicate rejects the failure,
// or MaxAttempts is reached. The error returned is the last attempt's error.
// label only appears in logs.
func Do[T any](ctx context.Context, p Policy, label string, op func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	o := newOptions(opts)
	retryable := p.retryable()

	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				o.metrics.IncCounter("retry", map[string]string{"outcome": "recovered"})
				o.logger.Info("operation recovered after retry", map[string]any{
					"label":   label,
					"attempt": attempt,
				})
			}
			return v, nil
		}

		if !retryable(err) {
			o.metrics.IncCounter("retry", map[string]string{"outcome": "non_retryable"})
			return zero, err
		}

		if attempt >= p.MaxAttempts {
			o.metrics.IncCounter("retry", map[string]string{"outcome": "exhausted"})
			o.logger.Warn("retry attempts exhausted", map[string]any{
				"label":    label,
				"attempts": attempt,
				"error":    err,
			})
			return zero, err
		}

		delay := Delay(p, attempt, o.rand())
		kind, status := Classify(err)
		o.metrics.IncCounter("retry", map[string]string{"outcome": "retry"})
		o.logger.Warn("retrying operation", map[string]any{
			"label":   label,
			"attempt": attempt,
			"delay":   delay.String(),
			"kind":    kind.String(),
			"status":  status,
			"error":   err,
		})
		if o.onRetry != nil {
			o.onRetry(attempt, err, delay)
		}

		if serr := o.sleep(ctx, delay); serr != nil {
			return zero, errors.Join(err, serr)
		}
	}
}

// DoErr is Do for operations without a result.
func DoErr(ctx context.Context, p Policy, label string, op func(context.Context) error, opts ...Option) error {
	_, err := Do(ctx, p, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}
