package investigation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/gateway"
	"github.com/mohammad-safakhou/autospook/internal/search"
	"github.com/mohammad-safakhou/autospook/internal/telemetry"
)

// RetryPolicy bounds attempts of one external call. MaxAttempts counts the first call.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, InitialBackoff: cfg.InitialBackoff, MaxBackoff: cfg.MaxBackoff}
}

// SearchPolicy derives the search retry policy from the search section.
func SearchPolicy(cfg config.SearchConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxRetries + 1, InitialBackoff: cfg.Backoff, MaxBackoff: 10 * cfg.Backoff}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	if p.InitialBackoff > 0 {
		exp.InitialInterval = p.InitialBackoff
	}
	exp.MaxInterval = 5 * time.Second
	if p.MaxBackoff > 0 {
		exp.MaxInterval = p.MaxBackoff
	}
	exp.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// retry runs fn until it succeeds, fails permanently, runs out of attempts, or ctx ends.
func retry(ctx context.Context, p RetryPolicy, op string, retryable func(error) bool, logger *log.Logger, fn func(context.Context) error) error {
	return backoff.RetryNotify(func() error {
		err := fn(ctx)
		if err != nil && (!retryable(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backoff(ctx), func(err error, wait time.Duration) {
		telemetry.RecordRetry(ctx, op)
		logger.Printf("%s failed, retrying in %s: %v", op, wait.Round(time.Millisecond), err)
	})
}

func searchRetryable(err error) bool {
	var serr *search.SearchError
	if errors.As(err, &serr) {
		return serr.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

var gatewayRetryable = gateway.Retryable
