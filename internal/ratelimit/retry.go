package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wallcrawler78/arenadocs/internal/errors"
)

// Policy configures the two retry tracks.
type Policy struct {
	// RateLimitWaits is the wait before each retry after a remote
	// rate-limit rejection. One more rejection after the last wait is terminal.
	// These retries do not count against MaxAttempts.
	RateLimitWaits []time.Duration

	// BaseDelay is the first general-track backoff; each retry doubles it.
	BaseDelay time.Duration

	// MaxAttempts bounds general-track attempts, including the first.
	MaxAttempts int

	// Sleep performs backoff waits. Defaults to Sleep.
	Sleep func(context.Context, time.Duration) error

	Logger *zap.Logger
}

// DefaultPolicy returns 5s/15s/30s rate-limit waits and 2s doubling backoff over 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		RateLimitWaits: []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second},
		BaseDelay:      2 * time.Second,
		MaxAttempts:    5,
	}
}

func (p Policy) sleep() func(context.Context, time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep
	}
	return Sleep
}

func (p Policy) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

// Do runs op under admission control and the retry tracks.
//
// The first attempt waits for local admission when l is non-nil; later
// attempts skip it because the backoff already throttles. Only a successful
// call is recorded in the window. RATE_LIMITED errors follow the rate-limit
// track, TRANSIENT errors follow the general track and every other error is
// returned immediately.
func Do[T any](ctx context.Context, l *Limiter, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.sleep()
	log := p.logger()

	if l != nil {
		if err := l.Admit(ctx); err != nil {
			return zero, err
		}
	}

	attempts := 0
	rateLimited := 0
	for {
		attempts++
		v, err := op(ctx)
		if err == nil {
			if l != nil {
				l.RecordSuccess(ctx)
			}
			return v, nil
		}

		var wait time.Duration
		switch {
		case errors.Is(err, errors.ErrRateLimited):
			// Not charged to the general budget.
			attempts--
			if rateLimited >= len(p.RateLimitWaits) {
				return zero, errors.NewRateLimitExhausted(rateLimited, err)
			}
			wait = p.RateLimitWaits[rateLimited]
			rateLimited++
			log.Warn("remote rate limit, backing off",
				zap.Int("retry", rateLimited), zap.Duration("wait", wait))

		case isRetryable(err):
			if attempts >= p.MaxAttempts {
				return zero, errors.NewRetriesExhausted(attempts, err)
			}
			wait = p.BaseDelay << (attempts - 1)
			log.Warn("transient failure, retrying",
				zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))

		default:
			return zero, err
		}

		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func isRetryable(err error) bool {
	appErr, ok := errors.As(err)
	return ok && appErr.Retryable()
}
