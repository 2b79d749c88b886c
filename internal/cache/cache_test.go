package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/wallcrawler78/arenadocs/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *store.Memory, *clock) {
	t.Helper()
	s, user, _ := store.NewMemoryStore()
	clk := &clock{t: time.UnixMilli(1_700_000_000_000)}
	return New(s, zaptest.NewLogger(t), WithClock(clk.Now)), user, clk
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	require.True(t, c.Set(ctx, store.ScopeUser, "k", []string{"a", "b"}, time.Minute))

	var got []string
	require.True(t, c.Get(ctx, store.ScopeUser, "k", &got))
	require.Equal(t, []string{"a", "b"}, got)
}

func TestGet_ExpiredEntryIsRemovedOnRead(t *testing.T) {
	ctx := context.Background()
	c, user, clk := newTestCache(t)

	require.True(t, c.Set(ctx, store.ScopeUser, "k", "v", 10*time.Second))
	clk.Advance(9 * time.Second)
	_, ok := c.GetRaw(ctx, store.ScopeUser, "k")
	require.True(t, ok)

	clk.Advance(time.Second) // now == expiresAt
	_, ok = c.GetRaw(ctx, store.ScopeUser, "k")
	require.False(t, ok)
	require.Empty(t, user.Keys(), "expired entry must be removed by the read")
	require.Equal(t, int64(1), c.Stats().Expired)
}

func TestGet_CorruptEntryIsRemoved(t *testing.T) {
	ctx := context.Background()
	c, user, _ := newTestCache(t)

	require.NoError(t, user.Set(ctx, "k", "{not json"))
	_, ok := c.GetRaw(ctx, store.ScopeUser, "k")
	require.False(t, ok)
	require.Empty(t, user.Keys())

	require.NoError(t, user.Set(ctx, "k2", `{"value":1}`))
	_, ok = c.GetRaw(ctx, store.ScopeUser, "k2")
	require.False(t, ok, "entry without expiry is corrupt")
	require.Empty(t, user.Keys())
}

func TestSet_RejectsOversizedEntry(t *testing.T) {
	ctx := context.Background()
	c, user, _ := newTestCache(t)

	big := strings.Repeat("x", MaxEntryBytes)
	require.False(t, c.Set(ctx, store.ScopeUser, "big", big, time.Hour))
	require.Empty(t, user.Keys())

	_, ok := c.GetRaw(ctx, store.ScopeUser, "big")
	require.False(t, ok)
}

func TestSet_StoreFailureDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	c, user, _ := newTestCache(t)
	user.SetErr = errors.New("quota exceeded")

	require.False(t, c.Set(ctx, store.ScopeUser, "k", "v", time.Hour))
	_, ok := c.GetRaw(ctx, store.ScopeUser, "k")
	require.False(t, ok)
}

func TestScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	require.True(t, c.Set(ctx, store.ScopeUser, "k", "user", time.Hour))
	_, ok := c.GetRaw(ctx, store.ScopeDocument, "k")
	require.False(t, ok)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c, user, _ := newTestCache(t)

	require.True(t, c.Set(ctx, store.ScopeUser, KeyCategories, []int{1}, time.Hour))
	require.True(t, c.Set(ctx, store.ScopeUser, FieldsKey("C1"), []int{1}, time.Hour))
	require.True(t, c.Set(ctx, store.ScopeUser, "other", 1, time.Hour))

	c.Clear(ctx, store.ScopeUser, []string{KeyCategories, FieldsKey("C1"), FieldsKey("missing")})

	require.Equal(t, []string{"other"}, user.Keys())
}

func TestGetOrFetch_FetchesOnceWithinTTL(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	var calls int
	fetch := func(context.Context) ([]string, error) {
		calls++
		return []string{"Resistor", "Capacitor"}, nil
	}

	first, err := GetOrFetch(ctx, c, store.ScopeUser, KeyCategories, time.Hour, fetch)
	require.NoError(t, err)
	second, err := GetOrFetch(ctx, c, store.ScopeUser, KeyCategories, time.Hour, fetch)
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, first, second)
}

func TestGetOrFetch_RefetchesAfterExpiry(t *testing.T) {
	ctx := context.Background()
	c, _, clk := newTestCache(t)

	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := GetOrFetch(ctx, c, store.ScopeUser, "n", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	clk.Advance(time.Minute)
	v, err = GetOrFetch(ctx, c, store.ScopeUser, "n", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestGetOrFetch_EmptyResultNotCached(t *testing.T) {
	ctx := context.Background()
	c, user, _ := newTestCache(t)

	var calls int
	fetch := func(context.Context) ([]string, error) {
		calls++
		return nil, nil
	}

	for i := 0; i < 2; i++ {
		_, err := GetOrFetch(ctx, c, store.ScopeUser, "empty", time.Hour, fetch)
		require.NoError(t, err)
	}
	require.Equal(t, 2, calls)
	require.Empty(t, user.Keys())
}

func TestGetOrFetch_ErrorPropagatesUncached(t *testing.T) {
	ctx := context.Background()
	c, user, _ := newTestCache(t)

	boom := errors.New("remote down")
	_, err := GetOrFetch(ctx, c, store.ScopeUser, "k", time.Hour, func(context.Context) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, user.Keys())
}

func TestGetOrFetch_ConcurrentMissesShareFetch(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrFetch(ctx, c, store.ScopeUser, "shared", time.Hour, fetch)
			if err == nil {
				results[i] = v
			}
		}(i)
	}

	// Let the goroutines reach the fetch before releasing it.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		require.Equal(t, "v", r)
	}
	require.LessOrEqual(t, calls.Load(), int32(2))
}
