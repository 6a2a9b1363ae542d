package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/backend"
)

// RetryPolicy bounds how the dispatcher retries transient backend
// failures. Permanent errors and admission denials never reach it.
type RetryPolicy struct {
	MaxRetries      int           // retries after the first attempt
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	AttemptTimeout  time.Duration // per-attempt deadline, 0 disables
}

// DefaultRetryPolicy matches the backend SLA: up to three retries with
// exponential backoff and jitter, ten seconds per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		AttemptTimeout:  10 * time.Second,
	}
}

// Execute runs fn until it succeeds, fails permanently, or the retry
// budget is spent. It returns fn's result, the number of retries
// performed, and the final error. A timed-out attempt counts as
// transient; tokens already consumed for the request are not refunded.
func (p RetryPolicy) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, int, error) {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		bo.Multiplier = p.Multiplier
	}
	bo.MaxElapsedTime = 0

	var result any
	attempts := 0

	op := func() error {
		attempts++
		actx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		v, err := fn(actx)
		if err != nil {
			if backend.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = v
		return nil
	}

	retries := uint64(0)
	if p.MaxRetries > 0 {
		retries = uint64(p.MaxRetries)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
	return result, attempts - 1, err
}
