package guard

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coach/internal/storage"
)

type fixResult struct {
	Fixed int `json:"fixed"`
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *storage.Store) {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, opts...), s
}

func TestWithWriteLock_RunsBodyAndReleases(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	ran := false
	outcome, err := c.WithWriteLock(ctx, "doctor", "trace-1", "", func(ctx context.Context) (any, error) {
		ran = true
		return fixResult{Fixed: 2}, nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, outcome.Cached)

	var res fixResult
	require.NoError(t, json.Unmarshal(outcome.Result, &res))
	assert.Equal(t, 2, res.Fixed)

	// Lock must be gone.
	_, found, err := c.lock(ctx, "doctor")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWithWriteLock_IdempotentReplay(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	calls := 0
	body := func(ctx context.Context) (any, error) {
		calls++
		return fixResult{Fixed: calls}, nil
	}

	first, err := c.WithWriteLock(ctx, "doctor", "trace-1", "k1", body)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Second call with the same key: cached result, body not re-executed
	// even though re-running it would return a different value.
	second, err := c.WithWriteLock(ctx, "doctor", "trace-2", "k1", body)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, calls, "body must not run again")

	var res fixResult
	require.NoError(t, json.Unmarshal(second.Result, &res))
	assert.Equal(t, 1, res.Fixed, "replayed result matches the first run")
}

func TestWithWriteLock_DifferentKeyReExecutes(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	calls := 0
	body := func(ctx context.Context) (any, error) {
		calls++
		return fixResult{Fixed: calls}, nil
	}

	_, err := c.WithWriteLock(ctx, "doctor", "trace-1", "k1", body)
	require.NoError(t, err)
	_, err = c.WithWriteLock(ctx, "doctor", "trace-2", "k2", body)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithWriteLock_Contention(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	innerErr := errors.New("unset")
	_, err := c.WithWriteLock(ctx, "sync", "trace-1", "", func(ctx context.Context) (any, error) {
		// A second invocation racing for the same resource while the
		// first holds the lock must observe contention.
		_, innerErr = c.WithWriteLock(ctx, "sync", "trace-2", "", func(ctx context.Context) (any, error) {
			t.Error("contended body must never run")
			return nil, nil
		})
		return "ok", nil
	})
	require.NoError(t, err)

	require.Error(t, innerErr)
	assert.True(t, IsLockContended(innerErr))

	var le *LockContendedError
	require.ErrorAs(t, innerErr, &le)
	assert.Equal(t, "sync", le.Resource)
	assert.Equal(t, "trace-1", le.Holder)
}

func TestWithWriteLock_DifferentResourcesDoNotContend(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.WithWriteLock(ctx, "sync", "trace-1", "", func(ctx context.Context) (any, error) {
		_, err := c.WithWriteLock(ctx, "doctor", "trace-2", "", func(ctx context.Context) (any, error) {
			return "inner", nil
		})
		return "outer", err
	})
	require.NoError(t, err)
}

func TestWithWriteLock_ExpiredLockSuperseded(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c, _ := newTestCoordinator(t, WithNow(func() time.Time { return now }), WithLockTTL(30*time.Second))
	ctx := context.Background()

	// Simulate a crash: acquire and never release.
	require.NoError(t, c.acquire(ctx, "sync", "trace-dead"))

	// Within TTL the lock is live.
	err := c.acquire(ctx, "sync", "trace-2")
	assert.True(t, IsLockContended(err))

	// Past expiry the stale record is superseded.
	now = now.Add(31 * time.Second)
	require.NoError(t, c.acquire(ctx, "sync", "trace-2"))

	lock, found, err := c.lock(ctx, "sync")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "trace-2", lock.HolderTraceID)
}

func TestWithWriteLock_BodyFailureReleasesWithoutCaching(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := c.WithWriteLock(ctx, "doctor", "trace-1", "k1", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// Lock released.
	_, found, err := c.lock(ctx, "doctor")
	require.NoError(t, err)
	assert.False(t, found)

	// No idempotency record stored: a retry with the same key re-runs.
	outcome, err := c.WithWriteLock(ctx, "doctor", "trace-1", "k1", func(ctx context.Context) (any, error) {
		return fixResult{Fixed: 7}, nil
	})
	require.NoError(t, err)
	assert.False(t, outcome.Cached)
}

func TestWithWriteLock_ResultStoredBeforeRelease(t *testing.T) {
	c, s := newTestCoordinator(t)
	ctx := context.Background()

	// Sabotage release by dropping its table inside the body. If the
	// result were cached only after a successful release, it would be
	// lost here and a retry would re-execute the body.
	_, err := c.WithWriteLock(ctx, "doctor", "trace-1", "k1", func(ctx context.Context) (any, error) {
		_, err := s.Execute(ctx, "DROP TABLE write_locks")
		return fixResult{Fixed: 3}, err
	})
	require.Error(t, err)

	snapshot, hit, err := c.lookupIdempotency(ctx, "doctor", "k1")
	require.NoError(t, err)
	require.True(t, hit, "record must be stored while the lock is still held")

	var res fixResult
	require.NoError(t, json.Unmarshal(snapshot, &res))
	assert.Equal(t, 3, res.Fixed)
}

func TestIdempotencyRecordExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c, _ := newTestCoordinator(t, WithNow(func() time.Time { return now }), WithIdempotencyTTL(time.Hour))
	ctx := context.Background()

	calls := 0
	body := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, err := c.WithWriteLock(ctx, "doctor", "trace-1", "k1", body)
	require.NoError(t, err)

	// Past the idempotency TTL the key no longer replays.
	now = now.Add(2 * time.Hour)
	outcome, err := c.WithWriteLock(ctx, "doctor", "trace-2", "k1", body)
	require.NoError(t, err)
	assert.False(t, outcome.Cached)
	assert.Equal(t, 2, calls)
}

func TestCleanupIdempotencyKeys(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c, _ := newTestCoordinator(t, WithNow(func() time.Time { return now }), WithIdempotencyTTL(time.Hour))
	ctx := context.Background()

	body := func(ctx context.Context) (any, error) { return "x", nil }
	_, err := c.WithWriteLock(ctx, "doctor", "t1", "k1", body)
	require.NoError(t, err)
	_, err = c.WithWriteLock(ctx, "doctor", "t2", "k2", body)
	require.NoError(t, err)

	removed, err := c.CleanupIdempotencyKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed, "unexpired records stay")

	now = now.Add(2 * time.Hour)
	removed, err = c.CleanupIdempotencyKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestStaleLocksAndClearAll(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c, _ := newTestCoordinator(t, WithNow(func() time.Time { return now }), WithLockTTL(30*time.Second))
	ctx := context.Background()

	require.NoError(t, c.acquire(ctx, "sync", "trace-1"))
	require.NoError(t, c.acquire(ctx, "plan", "trace-2"))

	stale, err := c.StaleLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale, "live locks are not stale")

	now = now.Add(time.Minute)
	stale, err = c.StaleLocks(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "plan", stale[0].ResourceName, "sorted by resource")
	assert.Equal(t, "sync", stale[1].ResourceName)

	removed, err := c.ClearAllLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}
