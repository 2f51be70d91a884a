package retry

import (
	"context"
	"time"

	"github.com/goldcoin/popnode/ulogger"
)

type retryOptions struct {
	message            string
	retryCount         int
	backoffMultiplier  int
	backoffDuration    time.Duration
	exponentialBackoff bool
	backoffFactor      float64
	maxBackoff         time.Duration
	infiniteRetry      bool
	retryIf            func(error) bool
}

type Options func(*retryOptions)

func WithMessage(message string) Options {
	return func(o *retryOptions) {
		o.message = message
	}
}

func WithRetryCount(retryCount int) Options {
	return func(o *retryOptions) {
		o.retryCount = retryCount
	}
}

func WithBackoffMultiplier(backoffMultiplier int) Options {
	return func(o *retryOptions) {
		o.backoffMultiplier = backoffMultiplier
	}
}

func WithBackoffDurationType(backoffDuration time.Duration) Options {
	return func(o *retryOptions) {
		o.backoffDuration = backoffDuration
	}
}

// WithExponentialBackoff multiplies the backoff by the backoff factor after every attempt,
// capped at the max backoff.
func WithExponentialBackoff() Options {
	return func(o *retryOptions) {
		o.exponentialBackoff = true
	}
}

func WithBackoffFactor(factor float64) Options {
	return func(o *retryOptions) {
		o.backoffFactor = factor
	}
}

func WithMaxBackoff(maxBackoff time.Duration) Options {
	return func(o *retryOptions) {
		o.maxBackoff = maxBackoff
	}
}

// WithInfiniteRetry retries until f succeeds or the context is done.
func WithInfiniteRetry() Options {
	return func(o *retryOptions) {
		o.infiniteRetry = true
	}
}

// WithRetryIf stops retrying as soon as f returns an error the predicate rejects.
func WithRetryIf(retryIf func(error) bool) Options {
	return func(o *retryOptions) {
		o.retryIf = retryIf
	}
}

// Retry calls f until it succeeds, the retry count is exhausted or the context is done.
// The last error of f is returned when all attempts fail.
func Retry[T any](ctx context.Context, logger ulogger.Logger, f func() (T, error), opts ...Options) (T, error) {
	o := &retryOptions{
		message:           "retrying",
		retryCount:        3,
		backoffMultiplier: 2,
		backoffDuration:   time.Second,
		backoffFactor:     2.0,
		maxBackoff:        30 * time.Second,
	}

	for _, opt := range opts {
		opt(o)
	}

	var (
		result T
		err    error
	)

	backoff := o.backoffDuration

	for i := 0; o.infiniteRetry || i < o.retryCount; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		result, err = f()
		if err == nil {
			return result, nil
		}

		if o.retryIf != nil && !o.retryIf(err) {
			return result, err
		}

		if !o.infiniteRetry && i == o.retryCount-1 {
			break
		}

		logger.Warnf("[Retry] %s (attempt %d): %v", o.message, i+1, err)

		if o.exponentialBackoff {
			if err = sleepFunc(ctx, backoff); err != nil {
				return result, err
			}

			backoff = CappedExponentialBackoff(backoff, o.backoffFactor, o.maxBackoff)

			continue
		}

		if err = BackoffAndSleep(ctx, i, o.backoffMultiplier, o.backoffDuration); err != nil {
			return result, err
		}
	}

	return result, err
}
