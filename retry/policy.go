// Package retry runs operations under a bounded exponential-backoff policy
// with optional jitter and a data-driven classification of which failures
// are worth another attempt.
//
// The engine provides no compensation: a failed attempt may already have
// produced a partial external side effect, so wrapped operations must be
// safe to repeat.
package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Policy is an immutable retry configuration. Copy it to derive variants.
type Policy struct {
	// MaxAttempts counts the first call; 1 disables retries.
	MaxAttempts int
	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration
	// MaxDelay caps every computed wait.
	MaxDelay time.Duration
	// BackoffMultiplier grows the wait between consecutive attempts.
	BackoffMultiplier float64
	// Jitter perturbs each wait uniformly within ±25%.
	Jitter bool
	// Retryable decides whether a failure may be retried. nil means
	// DefaultTable.Retryable.
	Retryable func(error) bool
}

// Validate rejects configurations the engine cannot execute.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: maxAttempts must be >= 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	case p.InitialDelay <= 0:
		return fmt.Errorf("%w: initialDelay must be positive, got %s", ErrInvalidPolicy, p.InitialDelay)
	case p.MaxDelay <= 0:
		return fmt.Errorf("%w: maxDelay must be positive, got %s", ErrInvalidPolicy, p.MaxDelay)
	case p.InitialDelay > p.MaxDelay:
		return fmt.Errorf("%w: initialDelay %s exceeds maxDelay %s", ErrInvalidPolicy, p.InitialDelay, p.MaxDelay)
	case !(p.BackoffMultiplier > 1):
		return fmt.Errorf("%w: backoffMultiplier must be > 1, got %v", ErrInvalidPolicy, p.BackoffMultiplier)
	}
	return nil
}

// BaseDelay returns the un-jittered wait that follows failed attempt n
// (1-based): min(InitialDelay * BackoffMultiplier^(n-1), MaxDelay).
func (p Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// WithRetryable returns a copy of p using fn as its predicate.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) retryable() func(error) bool {
	if p.Retryable != nil {
		return p.Retryable
	}
	return DefaultTable.Retryable
}

// FastAPI suits quick JSON calls such as facilitator verification.
func FastAPI() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      250 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		Retryable:         DefaultTable.Retryable,
	}
}

// SlowGeneration suits image generation, where a single call can take tens
// of seconds and providers shed load with 429/503.
func SlowGeneration() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      2 * time.Second,
		MaxDelay:          20 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		Retryable:         DefaultTable.Retryable,
	}
}

// VendorOperation suits fulfillment API calls: 4xx is final except 408 and 429.
func VendorOperation() Policy {
	return Policy{
		MaxAttempts:       4,
		InitialDelay:      time.Second,
		MaxDelay:          15 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		Retryable:         VendorTable.Retryable,
	}
}

// Workflow wraps multi-step sequences: few attempts, long waits.
func Workflow() Policy {
	return Policy{
		MaxAttempts:       2,
		InitialDelay:      5 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 3,
		Jitter:            false,
		Retryable:         DefaultTable.Retryable,
	}
}
