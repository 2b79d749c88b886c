package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTime struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeTime) Now() time.Time { return f.now }

func (f *fakeTime) Sleep(_ context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newTestLimiter(t *testing.T) (*Limiter, *store.Memory, *fakeTime) {
	t.Helper()
	s, user, _ := store.NewMemoryStore()
	ft := &fakeTime{now: time.UnixMilli(1_700_000_000_000)}
	l := NewLimiter(s, zaptest.NewLogger(t), WithClock(ft.Now), WithSleep(ft.Sleep))
	return l, user, ft
}

func storedWindow(t *testing.T, m *store.Memory) []int64 {
	t.Helper()
	raw, ok, err := m.Get(context.Background(), TimestampsKey)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	var ts []int64
	require.NoError(t, json.Unmarshal([]byte(raw), &ts))
	return ts
}

func TestCheck_FifteenAdmittedSixteenthWaits(t *testing.T) {
	ctx := context.Background()
	l, _, ft := newTestLimiter(t)
	first := ft.now.UnixMilli()

	for i := 0; i < DefaultLimit; i++ {
		a := l.Check(ctx)
		require.True(t, a.CanProceed, "check %d", i+1)
		require.Zero(t, a.Wait)
		l.RecordSuccess(ctx)
		ft.now = ft.now.Add(time.Second)
	}

	ft.now = ft.now.Add(5 * time.Second)
	a := l.Check(ctx)
	require.False(t, a.CanProceed)
	want := time.Duration(60_000-(ft.now.UnixMilli()-first)) * time.Millisecond
	require.Equal(t, want, a.Wait)
	require.Equal(t, 40*time.Second, a.Wait)
}

func TestCheck_WaitFlooredAtOneSecond(t *testing.T) {
	ctx := context.Background()
	l, user, ft := newTestLimiter(t)

	now := ft.now.UnixMilli()
	ts := make([]int64, DefaultLimit)
	for i := range ts {
		ts[i] = now - 59_900 // 100ms from leaving the window
	}
	data, _ := json.Marshal(ts)
	require.NoError(t, user.Set(ctx, TimestampsKey, string(data)))

	a := l.Check(ctx)
	require.False(t, a.CanProceed)
	require.Equal(t, MinWait, a.Wait)
}

func TestCheck_NonPositiveLimitAdmitsOne(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{0, -3} {
		s, _, _ := store.NewMemoryStore()
		ft := &fakeTime{now: time.UnixMilli(1_700_000_000_000)}
		l := NewLimiter(s, zaptest.NewLogger(t), WithLimit(n), WithClock(ft.Now), WithSleep(ft.Sleep))

		require.True(t, l.Check(ctx).CanProceed, "limit %d: empty window should admit", n)
		l.RecordSuccess(ctx)
		a := l.Check(ctx)
		require.False(t, a.CanProceed, "limit %d", n)
		require.Equal(t, DefaultWindow, a.Wait)
	}
}

func TestCheck_StaleTimestampsIgnored(t *testing.T) {
	ctx := context.Background()
	l, user, ft := newTestLimiter(t)

	now := ft.now.UnixMilli()
	ts := make([]int64, 30)
	for i := range ts {
		ts[i] = now - 60_000 - int64(i)
	}
	data, _ := json.Marshal(ts)
	require.NoError(t, user.Set(ctx, TimestampsKey, string(data)))

	a := l.Check(ctx)
	require.True(t, a.CanProceed)
	require.Zero(t, a.InWindow)

	l.RecordSuccess(ctx)
	require.Equal(t, []int64{now}, storedWindow(t, user), "record purges stale entries")
}

func TestCheck_CorruptWindowTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	l, user, _ := newTestLimiter(t)
	require.NoError(t, user.Set(ctx, TimestampsKey, "garbage"))

	require.True(t, l.Check(ctx).CanProceed)
}

func TestAdmit_SleepsComputedWait(t *testing.T) {
	ctx := context.Background()
	l, _, ft := newTestLimiter(t)

	for i := 0; i < DefaultLimit; i++ {
		l.RecordSuccess(ctx)
	}
	require.NoError(t, l.Admit(ctx))
	require.Equal(t, []time.Duration{DefaultWindow}, ft.sleeps)
}

func testPolicy(ft *fakeTime) Policy {
	p := DefaultPolicy()
	p.Sleep = ft.Sleep
	return p
}

func TestDo_RateLimitTrack(t *testing.T) {
	ctx := context.Background()
	l, user, ft := newTestLimiter(t)

	calls := 0
	_, err := Do(ctx, l, testPolicy(ft), func(context.Context) (string, error) {
		calls++
		return "", errors.NewRateLimited("quota exceeded")
	})

	require.True(t, errors.Is(err, errors.ErrRateLimited))
	appErr, _ := errors.As(err)
	require.Contains(t, appErr.Hint, "minutes")
	require.Equal(t, 4, calls)
	require.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}, ft.sleeps)
	require.Empty(t, storedWindow(t, user), "rejected calls are never recorded")
}

func TestDo_RateLimitThenSuccess(t *testing.T) {
	ctx := context.Background()
	l, user, ft := newTestLimiter(t)

	calls := 0
	v, err := Do(ctx, l, testPolicy(ft), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.NewRateLimited("quota")
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second}, ft.sleeps)
	require.Len(t, storedWindow(t, user), 1)
}

func TestDo_GeneralTrack(t *testing.T) {
	ctx := context.Background()
	l, user, ft := newTestLimiter(t)

	calls := 0
	_, err := Do(ctx, l, testPolicy(ft), func(context.Context) (int, error) {
		calls++
		return 0, errors.NewTransient("503 from backend", nil)
	})

	require.True(t, errors.Is(err, errors.ErrTransient))
	require.Equal(t, 5, calls)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, ft.sleeps)
	require.Empty(t, storedWindow(t, user))
}

func TestDo_RateLimitRetriesNotChargedToGeneralBudget(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTime{now: time.Now()}

	// 3 rate-limit rejections interleaved with 4 transient failures, then success.
	script := []error{
		errors.NewTransient("t1", nil),
		errors.NewRateLimited("r1"),
		errors.NewTransient("t2", nil),
		errors.NewRateLimited("r2"),
		errors.NewTransient("t3", nil),
		errors.NewRateLimited("r3"),
		errors.NewTransient("t4", nil),
		nil,
	}
	calls := 0
	v, err := Do(ctx, nil, testPolicy(ft), func(context.Context) (string, error) {
		e := script[calls]
		calls++
		if e != nil {
			return "", e
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, len(script), calls)
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	ctx := context.Background()

	tests := []error{
		errors.NewSessionExpired(),
		errors.NewInvalidCredential("bad key"),
		errors.NewInvalidRequest("bad prompt"),
		errors.NewNotFound("record", "1"),
		fmt.Errorf("plain"),
	}
	for _, want := range tests {
		ft := &fakeTime{now: time.Now()}
		calls := 0
		_, err := Do(ctx, nil, testPolicy(ft), func(context.Context) (int, error) {
			calls++
			return 0, want
		})
		require.Equal(t, want, err)
		require.Equal(t, 1, calls)
		require.Empty(t, ft.sleeps)
	}
}

func TestDo_RetriesSkipAdmission(t *testing.T) {
	ctx := context.Background()
	l, _, ft := newTestLimiter(t)

	// Fill the window so admission would block on every check.
	for i := 0; i < DefaultLimit; i++ {
		l.RecordSuccess(ctx)
	}

	calls := 0
	_, err := Do(ctx, l, testPolicy(ft), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.NewTransient("blip", nil)
		}
		return 1, nil
	})

	require.NoError(t, err)
	// One admission wait, then one backoff; no second admission wait.
	require.Equal(t, []time.Duration{DefaultWindow, 2 * time.Second}, ft.sleeps)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := DefaultPolicy() // real Sleep
	_, err := Do(ctx, nil, p, func(context.Context) (int, error) {
		return 0, errors.NewTransient("blip", nil)
	})
	require.ErrorIs(t, err, context.Canceled)
}
