// Package retrypolicy wraps github.com/cenkalti/backoff/v5 with the mirror
// engine's retry rule (spec.md §4.5, §7): only condaerr.Transient-kind
// errors are retried; everything else is returned immediately. The teacher
// already carries backoff/v5 as a dependency (go.mod, indirect); this is its
// first direct, wired use.
package retrypolicy

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"github.com/babeloff/meso-forge-mirror/condaerr"
)

// Policy bounds retries by attempt count and exponential backoff, per
// spec.md §6's retry_attempts configuration field.
type Policy struct {
	MaxAttempts uint
}

// New builds a Policy from the configured retry_attempts.
func New(maxAttempts uint) Policy {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return Policy{MaxAttempts: maxAttempts}
}

// Do runs op, retrying with exponential backoff as long as op returns an
// error for which errors.Is(err, condaerr.Transient) holds, up to
// MaxAttempts total attempts. Any other error is returned on first
// occurrence without retrying, matching the fatal/non-retryable
// classification in spec.md §7.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err != nil && !errors.Is(err, condaerr.Transient) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(p.MaxAttempts),
	)
}

// DoVoid is Do for operations with no result value worth returning.
func DoVoid(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
