package gossip

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// retry runs op with exponential backoff, at most retries additional times,
// until it succeeds or ctx is done.
func retry(ctx context.Context, retries uint64, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := op()
		if err != nil && ctx.Err() != nil {
			return &backoff.PermanentError{Err: ctx.Err()}
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Retry is retry exported for the other network components.
func Retry(ctx context.Context, retries uint64, op func() error) error {
	return retry(ctx, retries, op)
}
