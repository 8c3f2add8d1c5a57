package workflow

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// backoff builds the go-retry backoff for a policy. MaxRetries bounds the
// number of retries after the first attempt.
func (p RetryPolicy) backoff() retry.Backoff {
	var b retry.Backoff
	wait := time.Duration(p.BackoffMs) * time.Millisecond
	switch {
	case wait <= 0:
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	case p.Strategy == BackoffExponential:
		b = retry.NewExponential(wait)
	default:
		b = retry.NewConstant(wait)
	}
	return retry.WithMaxRetries(uint64(p.MaxRetries), b)
}

// Retry runs op until it succeeds, returns an error classify rejects, the
// policy is exhausted or ctx ends. op receives the 1-based attempt number.
// It returns the number of attempts made and the last error.
func Retry(ctx context.Context, policy RetryPolicy, classify func(error) bool,
	op func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error)) (int, error) {
	attempts := 0
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		err := op(ctx, attempts)
		if err == nil {
			return nil
		}
		if classify(err) && ctx.Err() == nil {
			if onRetry != nil && attempts <= policy.MaxRetries {
				onRetry(attempts, err)
			}
			return retry.RetryableError(err)
		}
		return err
	})
	return attempts, err
}
