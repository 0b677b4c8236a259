package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/mailpulse/errors"
	mptest "github.com/tidemark/mailpulse/internal/testing"
	"github.com/tidemark/mailpulse/upstream"
)

// passthroughExecutor runs the producer inline with no retries, so tests
// observe exactly one call per compute.
type passthroughExecutor struct {
	calls int
}

func (p *passthroughExecutor) Do(ctx context.Context, op string, fn upstream.Func) (any, error) {
	p.calls++
	return fn(ctx)
}

type fakeGate struct {
	open bool
}

func (g *fakeGate) IsOpenNow() (bool, error) { return g.open, nil }
func (g *fakeGate) Reject() error            { return errors.ErrBreakerOpen }

type cacheFixture struct {
	cache *Cache
	exec  *passthroughExecutor
	gate  *fakeGate
	clock time.Time
}

func (f *cacheFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func testCache(t *testing.T, opts Options) *cacheFixture {
	t.Helper()
	db := mptest.CreateTestDB(t)

	f := &cacheFixture{
		exec:  &passthroughExecutor{},
		gate:  &fakeGate{},
		clock: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	store := NewSQLiteStore(db, 24*time.Hour)
	store.now = func() time.Time { return f.clock }

	f.cache = New("tenant-1", store, db, f.exec, f.gate, opts)
	f.cache.now = func() time.Time { return f.clock }
	return f
}

func TestSetAndGet(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	stored, err := f.cache.Set(ctx, "digest:today", []byte("morning digest"), time.Hour, "digest")
	require.NoError(t, err)
	assert.True(t, stored)

	result, err := f.cache.Get(ctx, "digest:today")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.False(t, result.Stale)
	assert.Equal(t, []byte("morning digest"), result.Value)
}

func TestGetMissingKey(t *testing.T) {
	f := testCache(t, Options{})

	result, err := f.cache.Get(context.Background(), "never-set")
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Nil(t, result.Value)
}

func TestOversizeSetDeclined(t *testing.T) {
	f := testCache(t, Options{MaxItemBytes: 16})
	ctx := context.Background()

	stored, err := f.cache.Set(ctx, "big", make([]byte, 17), time.Hour, "digest")
	require.NoError(t, err, "an oversize write is declined, not an error")
	assert.False(t, stored)

	result, err := f.cache.Get(ctx, "big")
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestEvictsOldestAtCeiling(t *testing.T) {
	f := testCache(t, Options{MaxItems: 3})
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		f.advance(time.Minute)
		stored, err := f.cache.Set(ctx, key, []byte(key), time.Hour, "summary")
		require.NoError(t, err)
		require.True(t, stored)
	}

	f.advance(time.Minute)
	stored, err := f.cache.Set(ctx, "d", []byte("d"), time.Hour, "summary")
	require.NoError(t, err)
	require.True(t, stored)

	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Items)

	oldest, err := f.cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, oldest.Found, "the oldest entry must be evicted")

	for _, key := range []string{"b", "c", "d"} {
		result, err := f.cache.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, result.Found, "entry %s must survive eviction", key)
	}
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	f := testCache(t, Options{MaxItems: 2})
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		f.advance(time.Minute)
		_, err := f.cache.Set(ctx, key, []byte(key), time.Hour, "summary")
		require.NoError(t, err)
	}

	// Rewriting an existing key at the ceiling must not evict anything.
	_, err := f.cache.Set(ctx, "a", []byte("a2"), time.Hour, "summary")
	require.NoError(t, err)

	for _, key := range []string{"a", "b"} {
		result, err := f.cache.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, result.Found)
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	produced := 0
	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		produced++
		return []byte("summary of " + key), nil
	}))

	opts := ComputeOptions{TTL: time.Hour, Kind: "summary"}
	result, err := f.cache.GetOrCompute(ctx, "thread-42", "summarize", opts)
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, []byte("summary of thread-42"), result.Value)

	result, err = f.cache.GetOrCompute(ctx, "thread-42", "summarize", opts)
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, 1, produced, "a fresh hit must not recompute")
}

func TestUnknownProducer(t *testing.T) {
	f := testCache(t, Options{})

	_, err := f.cache.GetOrCompute(context.Background(), "k", "nope", ComputeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no producer registered")
}

func TestStaleServeQueuesOneRevalidation(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	produced := 0
	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		produced++
		return []byte("fresh"), nil
	}))

	_, err := f.cache.Set(ctx, "k", []byte("old"), time.Hour, "summary")
	require.NoError(t, err)
	f.advance(2 * time.Hour)

	opts := ComputeOptions{AllowStale: true, Kind: "summary"}
	for i := 0; i < 3; i++ {
		result, err := f.cache.GetOrCompute(ctx, "k", "summarize", opts)
		require.NoError(t, err)
		assert.True(t, result.Found)
		assert.True(t, result.Stale)
		assert.Equal(t, []byte("old"), result.Value, "stale reads serve the retained value")
	}
	assert.Equal(t, 0, produced, "stale serves must not compute inline")

	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.QueueDepth, "repeat stale serves queue one revalidation")
}

func TestStaleWithoutAllowStaleRecomputes(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		return []byte("fresh"), nil
	}))

	_, err := f.cache.Set(ctx, "k", []byte("old"), time.Hour, "summary")
	require.NoError(t, err)
	f.advance(2 * time.Hour)

	result, err := f.cache.GetOrCompute(ctx, "k", "summarize", ComputeOptions{Kind: "summary"})
	require.NoError(t, err)
	assert.False(t, result.Stale)
	assert.Equal(t, []byte("fresh"), result.Value)
}

func TestComputeFailureDegradesToStale(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		return nil, errors.New("upstream is down")
	}))

	_, err := f.cache.Set(ctx, "k", []byte("old"), time.Hour, "summary")
	require.NoError(t, err)
	f.advance(2 * time.Hour)

	result, err := f.cache.GetOrCompute(ctx, "k", "summarize", ComputeOptions{Kind: "summary"})
	require.NoError(t, err, "a retained stale value absorbs the compute failure")
	assert.True(t, result.Stale)
	assert.Equal(t, []byte("old"), result.Value)
}

func TestComputeFailureWithoutStalePropagates(t *testing.T) {
	f := testCache(t, Options{})

	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		return nil, errors.New("upstream is down")
	}))

	_, err := f.cache.GetOrCompute(context.Background(), "missing", "summarize", ComputeOptions{})
	require.Error(t, err)
}

func TestBreakerOpenServesStaleOrRejects(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	produced := 0
	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		produced++
		return []byte("fresh"), nil
	}))

	_, err := f.cache.Set(ctx, "retained", []byte("old"), time.Hour, "summary")
	require.NoError(t, err)
	f.advance(2 * time.Hour)
	f.gate.open = true

	result, err := f.cache.GetOrCompute(ctx, "retained", "summarize", ComputeOptions{})
	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.Equal(t, []byte("old"), result.Value)

	_, err = f.cache.GetOrCompute(ctx, "absent", "summarize", ComputeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBreakerOpen))
	assert.Equal(t, 0, produced, "an open breaker blocks all inline computes")
}

func TestOversizeComputeStillReturned(t *testing.T) {
	f := testCache(t, Options{MaxItemBytes: 8})
	ctx := context.Background()

	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		return []byte("far too large for the cache"), nil
	}))

	result, err := f.cache.GetOrCompute(ctx, "k", "summarize", ComputeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("far too large for the cache"), result.Value)

	cached, err := f.cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, cached.Found, "oversize results are returned but not cached")
}

func TestRemove(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	_, err := f.cache.Set(ctx, "k", []byte("v"), time.Hour, "summary")
	require.NoError(t, err)
	require.NoError(t, f.cache.Remove(ctx, "k"))

	result, err := f.cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestMaintenanceDue(t *testing.T) {
	f := testCache(t, Options{MaxItems: 10, UtilizationThreshold: 0.8, MaintenanceCeiling: 6 * time.Hour})
	ctx := context.Background()

	// A fresh tenant has never run maintenance, so the ceiling trips.
	due, err := f.cache.MaintenanceDue(ctx)
	require.NoError(t, err)
	assert.True(t, due)

	_, err = f.cache.RunMaintenance(ctx)
	require.NoError(t, err)

	due, err = f.cache.MaintenanceDue(ctx)
	require.NoError(t, err)
	assert.False(t, due)

	for i := 0; i < 8; i++ {
		_, err := f.cache.Set(ctx, string(rune('a'+i)), []byte("v"), time.Hour, "summary")
		require.NoError(t, err)
	}
	due, err = f.cache.MaintenanceDue(ctx)
	require.NoError(t, err)
	assert.True(t, due, "utilization at threshold makes maintenance due")
}

func TestMaintenanceDrainsQueue(t *testing.T) {
	f := testCache(t, Options{RevalidationBatch: 2})
	ctx := context.Background()

	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		return []byte("fresh " + key), nil
	}))

	for _, key := range []string{"a", "b", "c"} {
		f.advance(time.Minute)
		_, err := f.cache.Set(ctx, key, []byte("old"), time.Hour, "summary")
		require.NoError(t, err)
	}
	f.advance(2 * time.Hour)

	opts := ComputeOptions{AllowStale: true}
	for _, key := range []string{"a", "b", "c"} {
		_, err := f.cache.GetOrCompute(ctx, key, "summarize", opts)
		require.NoError(t, err)
	}

	report, err := f.cache.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Drained, "the drain honors the batch limit")

	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.QueueDepth)

	// The two oldest queued keys were refreshed.
	result, err := f.cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, result.Stale)
	assert.Equal(t, []byte("fresh a"), result.Value)
}

func TestMaintenanceRemovesFailedDrainItems(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		return nil, errors.New("still down")
	}))

	_, err := f.cache.Set(ctx, "k", []byte("old"), time.Hour, "summary")
	require.NoError(t, err)
	f.advance(2 * time.Hour)

	_, err = f.cache.GetOrCompute(ctx, "k", "summarize", ComputeOptions{AllowStale: true})
	require.NoError(t, err)

	report, err := f.cache.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Drained)

	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.QueueDepth, "a failed recompute still leaves the queue")
}

func TestMaintenanceSkipsDrainWhenBreakerOpen(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.cache.RegisterProducer("summarize", func(ctx context.Context, key string) ([]byte, error) {
		return []byte("fresh"), nil
	}))

	_, err := f.cache.Set(ctx, "k", []byte("old"), time.Hour, "summary")
	require.NoError(t, err)
	f.advance(2 * time.Hour)

	_, err = f.cache.GetOrCompute(ctx, "k", "summarize", ComputeOptions{AllowStale: true})
	require.NoError(t, err)

	f.gate.open = true
	report, err := f.cache.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.True(t, report.DrainSkipped)
	assert.Equal(t, 0, report.Drained)

	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.QueueDepth, "queued items wait for the breaker to close")
}

func TestMaintenancePurgesAndSweeps(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	_, err := f.cache.Set(ctx, "k", []byte("v"), time.Hour, "summary")
	require.NoError(t, err)

	// Past expiry plus the 24h retention window.
	f.advance(26 * time.Hour)

	report, err := f.cache.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, 1, report.Swept)

	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Items)
}

func TestStats(t *testing.T) {
	f := testCache(t, Options{})
	ctx := context.Background()

	_, err := f.cache.Set(ctx, "d1", []byte("12345"), time.Hour, "digest")
	require.NoError(t, err)
	_, err = f.cache.Set(ctx, "s1", []byte("123"), time.Hour, "summary")
	require.NoError(t, err)
	_, err = f.cache.Set(ctx, "s2", []byte("12"), time.Hour, "summary")
	require.NoError(t, err)

	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Items)
	assert.Equal(t, 10, stats.TotalBytes)
	assert.Equal(t, map[string]int{"digest": 1, "summary": 2}, stats.ByKind)
}

func TestTenantIsolation(t *testing.T) {
	db := mptest.CreateTestDB(t)
	exec := &passthroughExecutor{}

	a := New("tenant-a", NewSQLiteStore(db, 24*time.Hour), db, exec, &fakeGate{}, Options{})
	b := New("tenant-b", NewSQLiteStore(db, 24*time.Hour), db, exec, &fakeGate{}, Options{})
	ctx := context.Background()

	_, err := a.Set(ctx, "k", []byte("for a"), time.Hour, "summary")
	require.NoError(t, err)

	result, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, result.Found, "tenants must not see each other's entries")
}
