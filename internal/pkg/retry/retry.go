// Package retry retries ledger writes that lost the race for a user's lock.
// Only model.ErrConcurrency is retried; every other error is returned at once.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"greenloop/internal/config"
	"greenloop/internal/model"
)

func newBackOff(ctx context.Context, cfg config.RetryConfig) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.MaxElapsedTime = cfg.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

func classify(err error) error {
	if err == nil || errors.Is(err, model.ErrConcurrency) {
		return err
	}
	return backoff.Permanent(err)
}

func notify(err error, wait time.Duration) {
	log.Warn().Err(err).Dur("wait", wait).Msg("Ledger busy, retrying")
}

// OnConcurrency runs op until it succeeds, fails with a non-concurrency error,
// or the backoff budget in cfg is spent.
func OnConcurrency(ctx context.Context, cfg config.RetryConfig, op func() error) error {
	return backoff.RetryNotify(func() error {
		return classify(op())
	}, newBackOff(ctx, cfg), notify)
}

// Do is OnConcurrency for operations that return a value.
func Do[T any](ctx context.Context, cfg config.RetryConfig, op func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := op()
		return v, classify(err)
	}, newBackOff(ctx, cfg), notify)
}
