package retry

import (
	"context"
	"time"
)

// sleepFunc waits for d or until ctx is done. Tests swap it out.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// linearBackoff is the wait before the given retry: multiplier*retries+1 units.
func linearBackoff(retries, multiplier int, unit time.Duration) time.Duration {
	return time.Duration(multiplier*retries+1) * unit
}

// BackoffAndSleep waits out the linear backoff of the given retry, returning early with
// the context error.
func BackoffAndSleep(ctx context.Context, retries int, backoffMultiplier int, durationType time.Duration) error {
	return sleepFunc(ctx, linearBackoff(retries, backoffMultiplier, durationType))
}

// CappedExponentialBackoff grows currentBackoff by backoffFactor up to maxBackoff.
func CappedExponentialBackoff(currentBackoff time.Duration, backoffFactor float64, maxBackoff time.Duration) time.Duration {
	return min(time.Duration(float64(currentBackoff)*backoffFactor), maxBackoff)
}
