// Package retry wraps transient store and archive operations in a bounded
// exponential backoff. Permanent failures (bad input, auth) are returned
// immediately instead of burning the attempt budget.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"docqueue/internal/domain"
)

// Policy bounds one retry loop. The delay before attempt n+1 is
// min(BaseDelay * Multiplier^n, MaxDelay).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// Permanent marks err as non-retryable regardless of its category.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, the policy is exhausted, or ctx ends.
// The returned error is the last one op produced.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy().BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPolicy().Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy().MaxDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // the attempt budget is the only cap

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if nonRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx))
}

func nonRetryable(err error) bool {
	return errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrPermissionDenied)
}
