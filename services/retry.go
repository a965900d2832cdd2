package services

import (
	"context"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 2 * time.Second
	DefaultAttemptTimeout  = 30 * time.Second
)

// RetryPolicy bounds and spaces the attempts of one channel call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// AttemptTimeout is applied to each attempt separately. A timed out attempt is transient.
	AttemptTimeout time.Duration
	// Retryable decides whether an error may be retried. Defaults to !utils.IsTerminal.
	Retryable func(error) bool
}

// OnRetry is called after a failed attempt that will be retried after wait.
type OnRetry func(attempt int, err error, wait time.Duration)

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		Multiplier:      2,
		MaxInterval:     time.Minute,
		AttemptTimeout:  DefaultAttemptTimeout,
	}
}

func (p *RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !utils.IsTerminal(err)
}

func (p *RetryPolicy) newBackOff(ctx context.Context) backoff.BackOffContext {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.RandomizationFactor = 0
	eb.Multiplier = p.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 2
	}
	eb.MaxInterval = p.MaxInterval
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	// attempts are bounded by WithMaxRetries, not by elapsed time
	eb.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxAttempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, or the attempts
// are used up. It returns the number of attempts made and the last error.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry OnRetry) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++

		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, p.newBackOff(ctx), notify)
	return attempts, err
}
