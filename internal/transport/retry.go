package transport

import (
	"context"
	"time"

	"netcluster/internal/config"
)

// Retry calls dial until it succeeds, the policy's retries are spent or ctx
// ends. Waits double from BaseBackoff, plus jitter, capped at MaxBackoff.
// onRetry, if set, sees every failed attempt that will be retried.
func Retry[T any](
	ctx context.Context,
	policy config.RetryPolicy,
	dial func(context.Context) (T, error),
	onRetry func(attempt int, err error),
) (T, error) {
	var zero T
	backoff := policy.BaseBackoff

	for attempt := 1; ; attempt++ {
		v, err := dial(ctx)
		if err == nil {
			return v, nil
		}
		if attempt > policy.MaxRetries {
			return zero, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		wait := backoff
		if policy.JitterFn != nil {
			wait += policy.JitterFn(backoff)
		}
		wait = min(wait, policy.MaxBackoff)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
