// Package ratelimit protects the quota-limited AI backend with a per-user
// sliding window and retries remote calls on two independent tracks.
package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/wallcrawler78/arenadocs/internal/store"
)

const (
	// TimestampsKey holds the window in user scope as a JSON array of ms timestamps.
	TimestampsKey = "ai_request_timestamps"

	DefaultLimit  = 15
	DefaultWindow = 60 * time.Second

	// MinWait is the floor on a computed admission wait.
	MinWait = time.Second
)

// Admission is the result of an admission check.
type Admission struct {
	CanProceed bool          `json:"can_proceed"`
	Wait       time.Duration `json:"-"`
	InWindow   int           `json:"in_window"`
}

// Limiter is a sliding-window admission controller. The window lives in the
// store, so every document a user opens shares it.
type Limiter struct {
	store  store.Store
	logger *zap.Logger
	limit  int
	window time.Duration
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimit sets the number of calls admitted per window. Values below 1
// are raised to 1.
func WithLimit(n int) Option {
	return func(l *Limiter) { l.limit = max(n, 1) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep overrides the blocking wait used by Admit.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// NewLimiter returns a limiter over the user scope of s.
func NewLimiter(s store.Store, logger *zap.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		store:  s,
		logger: logger.Named("ratelimit"),
		limit:  DefaultLimit,
		window: DefaultWindow,
		now:    time.Now,
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether a call may proceed now and, if not, how long to wait.
// Timestamps older than the window are ignored but not purged here.
func (l *Limiter) Check(ctx context.Context) Admission {
	now := l.now().UnixMilli()
	recent := l.inWindow(l.load(ctx), now)
	if len(recent) == 0 || len(recent) < l.limit {
		return Admission{CanProceed: true, InWindow: len(recent)}
	}

	oldest := recent[0]
	for _, ts := range recent[1:] {
		if ts < oldest {
			oldest = ts
		}
	}
	wait := l.window - time.Duration(now-oldest)*time.Millisecond
	if wait < MinWait {
		wait = MinWait
	}
	return Admission{CanProceed: false, Wait: wait, InWindow: len(recent)}
}

// Admit blocks until a call may proceed. It does not re-check after waking.
func (l *Limiter) Admit(ctx context.Context) error {
	a := l.Check(ctx)
	if a.CanProceed {
		return nil
	}
	l.logger.Info("local rate limit reached, waiting",
		zap.Int("in_window", a.InWindow), zap.Duration("wait", a.Wait))
	return l.sleep(ctx, a.Wait)
}

// RecordSuccess appends now to the window and drops stale timestamps.
// Persistence failures are logged; they only weaken throttling.
func (l *Limiter) RecordSuccess(ctx context.Context) {
	now := l.now().UnixMilli()
	recent := append(l.inWindow(l.load(ctx), now), now)
	data, err := json.Marshal(recent)
	if err != nil {
		return
	}
	if err := l.store.Set(ctx, store.ScopeUser, TimestampsKey, string(data)); err != nil {
		l.logger.Warn("failed to persist request window", zap.Error(err))
	}
}

// Reset clears the window.
func (l *Limiter) Reset(ctx context.Context) error {
	return l.store.Delete(ctx, store.ScopeUser, TimestampsKey)
}

func (l *Limiter) load(ctx context.Context) []int64 {
	raw, ok, err := l.store.Get(ctx, store.ScopeUser, TimestampsKey)
	if err != nil {
		l.logger.Warn("failed to read request window", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var ts []int64
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		l.logger.Warn("discarding corrupt request window", zap.Error(err))
		return nil
	}
	return ts
}

func (l *Limiter) inWindow(ts []int64, now int64) []int64 {
	cutoff := now - l.window.Milliseconds()
	out := make([]int64, 0, len(ts))
	for _, t := range ts {
		if t > cutoff {
			out = append(out, t)
		}
	}
	return out
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
