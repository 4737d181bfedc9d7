package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type harness struct {
	backend Backend
	advance func(time.Duration)
	// partialClear marks backends whose Clear reaches only part of the
	// keyspace, such as a Redis cluster client.
	partialClear bool
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// runBackendContract exercises the behaviour every Backend must share.
func runBackendContract(t *testing.T, newHarness func(t *testing.T) harness) {
	t.Helper()
	ctx := context.Background()

	t.Run("get absent", func(t *testing.T) {
		h := newHarness(t)
		v, found, err := h.backend.Get(ctx, "missing")
		require.NoError(t, err)
		require.False(t, found)
		require.Empty(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.Set(ctx, "k", "1", 10*time.Second))
		v, found, err := h.backend.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "1", v)
	})

	t.Run("set overwrites and expires", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.Set(ctx, "k", "a", 10*time.Second))
		require.NoError(t, h.backend.Set(ctx, "k", "b", 2*time.Second))
		v, _, err := h.backend.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "b", v)

		h.advance(3 * time.Second)
		_, found, err := h.backend.Get(ctx, "k")
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("inc treats absent as zero", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.Inc(ctx, "c", 1, 10*time.Second))
		require.NoError(t, h.backend.Inc(ctx, "c", 0, 10*time.Second))
		require.NoError(t, h.backend.Inc(ctx, "c", 5, 10*time.Second))
		v, found, err := h.backend.Get(ctx, "c")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "7", v)
	})

	t.Run("inc restarts ttl", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.Inc(ctx, "c", 1, 10*time.Second))
		h.advance(6 * time.Second)
		require.NoError(t, h.backend.Inc(ctx, "c", 1, 10*time.Second))
		h.advance(6 * time.Second)

		v, found, err := h.backend.Get(ctx, "c")
		require.NoError(t, err)
		require.True(t, found, "rolling window should keep the counter alive")
		require.Equal(t, "2", v)

		h.advance(5 * time.Second)
		_, found, err = h.backend.Get(ctx, "c")
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("inc on non-integer", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.Set(ctx, "c", "abc", 10*time.Second))
		err := h.backend.Inc(ctx, "c", 1, 10*time.Second)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrNotInteger), "got %v", err)
	})

	t.Run("sadd is idempotent", func(t *testing.T) {
		h := newHarness(t)
		for _, m := range []string{"main", "user_1", "main", "user_1", "login"} {
			require.NoError(t, h.backend.SAdd(ctx, "s", m, 10*time.Second))
		}
		members, err := h.backend.SMembers(ctx, "s")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"main", "user_1", "login"}, members)
	})

	t.Run("smembers missing is empty", func(t *testing.T) {
		h := newHarness(t)
		members, err := h.backend.SMembers(ctx, "nope")
		require.NoError(t, err)
		require.NotNil(t, members)
		require.Empty(t, members)
	})

	t.Run("set members expire", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.SAdd(ctx, "s", "main", 2*time.Second))
		h.advance(3 * time.Second)
		members, err := h.backend.SMembers(ctx, "s")
		require.NoError(t, err)
		require.Empty(t, members)
	})

	t.Run("wrong type", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.SAdd(ctx, "s", "main", 10*time.Second))
		_, _, err := h.backend.Get(ctx, "s")
		require.True(t, errors.Is(err, ErrWrongType), "got %v", err)
	})

	t.Run("del ignores missing keys", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.backend.Set(ctx, "a", "1", 10*time.Second))
		require.NoError(t, h.backend.Set(ctx, "b", "1", 10*time.Second))
		require.NoError(t, h.backend.Del(ctx, "a", "b", "ghost"))
		require.NoError(t, h.backend.Del(ctx))
		for _, k := range []string{"a", "b"} {
			_, found, err := h.backend.Get(ctx, k)
			require.NoError(t, err)
			require.False(t, found, k)
		}
	})

	t.Run("clear", func(t *testing.T) {
		h := newHarness(t)
		if h.partialClear {
			t.Skip("clear does not span the whole keyspace")
		}
		require.NoError(t, h.backend.Set(ctx, "a", "1", 10*time.Second))
		require.NoError(t, h.backend.Inc(ctx, "b", 1, 10*time.Second))
		require.NoError(t, h.backend.SAdd(ctx, "c", "x", 10*time.Second))
		require.NoError(t, h.backend.Clear(ctx))
		for _, k := range []string{"a", "b"} {
			_, found, err := h.backend.Get(ctx, k)
			require.NoError(t, err)
			require.False(t, found, k)
		}
		members, err := h.backend.SMembers(ctx, "c")
		require.NoError(t, err)
		require.Empty(t, members)
	})

	t.Run("default ttl", func(t *testing.T) {
		h := newHarness(t)
		h.backend.SetDefaultTTL(5 * time.Second)
		require.NoError(t, h.backend.Set(ctx, "k", "1", 0))
		require.NoError(t, h.backend.Inc(ctx, "c", 1, 0))
		h.advance(4 * time.Second)
		_, found, err := h.backend.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)

		h.advance(2 * time.Second)
		for _, k := range []string{"k", "c"} {
			_, found, err = h.backend.Get(ctx, k)
			require.NoError(t, err)
			require.False(t, found, k)
		}
	})
}
