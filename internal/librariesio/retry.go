package librariesio

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/metrics"
)

// Default backoffs.
const (
	DefaultRateLimitBackoff = 60 * time.Second
	DefaultOutageBackoff    = time.Hour
)

// RetryPolicy decides how long to wait after a failed attempt. Retries are
// unbounded; only context cancellation stops them.
type RetryPolicy struct {
	RateLimitBackoff time.Duration
	OutageBackoff    time.Duration
}

// DefaultRetryPolicy waits a minute on 429 and an hour on outages.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitBackoff: DefaultRateLimitBackoff,
		OutageBackoff:    DefaultOutageBackoff,
	}
}

// ShouldRetry reports whether outcome warrants another attempt.
func (p RetryPolicy) ShouldRetry(outcome Outcome) bool {
	switch outcome {
	case OutcomeRateLimited, OutcomeTransportError, OutcomeMalformed:
		return true
	default:
		return false
	}
}

// Backoff returns the wait before retrying after outcome.
func (p RetryPolicy) Backoff(outcome Outcome) time.Duration {
	if outcome == OutcomeRateLimited {
		return p.RateLimitBackoff
	}
	return p.OutageBackoff
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Retrier repeats an attempt until it yields a non-retryable outcome.
type Retrier struct {
	Policy  RetryPolicy
	Sleeper Sleeper
	Logger  *zap.Logger
}

// Do runs attempt until the policy stops retrying. It returns the final
// outcome and error, plus how many retries were made.
func (r *Retrier) Do(
	ctx context.Context,
	what string,
	attempt func(context.Context) (Outcome, error),
) (Outcome, int, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := 0
	for {
		outcome, err := attempt(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, retries, fmt.Errorf("%s: %w", what, ctxErr)
		}
		if !r.Policy.ShouldRetry(outcome) {
			return outcome, retries, err
		}
		wait := r.Policy.Backoff(outcome)
		logger.Warn("attempt failed, backing off",
			zap.String("target", what),
			zap.Stringer("outcome", outcome),
			zap.Duration("backoff", wait),
			zap.Int("retry", retries+1),
			zap.Error(err),
		)
		metrics.ObserveBackoff(outcome.String(), wait)
		if err := r.Sleeper.Sleep(ctx, wait); err != nil {
			return outcome, retries, fmt.Errorf("%s: %w", what, err)
		}
		retries++
	}
}
