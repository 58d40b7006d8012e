package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/models"
	badgerstore "github.com/crawlspace-dev/crawlspace/internal/storage/badger"
)

func newTestStore(t *testing.T) *badgerstore.CoordStore {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return badgerstore.NewCoordStore(db, logger)
}

func TestSemaphoreAcquireUnderLimit(t *testing.T) {
	store := newTestStore(t)
	sem := NewSemaphore(store, time.Minute, false, arbor.NewLogger())
	ctx := context.Background()

	granted, count, removed, err := sem.Acquire(ctx, "team-a", "job-1", 2)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, removed)

	granted, count, _, err = sem.Acquire(ctx, "team-a", "job-2", 2)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 2, count)

	granted, count, _, err = sem.Acquire(ctx, "team-a", "job-3", 2)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 2, count)

	// Tenants are isolated from one another.
	granted, _, _, err = sem.Acquire(ctx, "team-b", "job-4", 1)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestSemaphoreReclaimsExpiredLeases(t *testing.T) {
	store := newTestStore(t)
	sem := NewSemaphore(store, 50*time.Millisecond, false, arbor.NewLogger())
	ctx := context.Background()

	granted, _, _, err := sem.Acquire(ctx, "team-a", "stale", 1)
	require.NoError(t, err)
	require.True(t, granted)

	time.Sleep(80 * time.Millisecond)

	granted, count, removed, err := sem.Acquire(ctx, "team-a", "fresh", 1)
	require.NoError(t, err)
	assert.True(t, granted, "expired lease must not wedge the budget")
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, removed)

	// The reclaimed holder can no longer refresh its lease.
	ok, err := sem.Heartbeat(ctx, "team-a", "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sem.Heartbeat(ctx, "team-a", "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSemaphoreRelease(t *testing.T) {
	store := newTestStore(t)
	sem := NewSemaphore(store, time.Minute, false, arbor.NewLogger())
	ctx := context.Background()

	granted, _, _, err := sem.Acquire(ctx, "team-a", "job-1", 1)
	require.NoError(t, err)
	require.True(t, granted)

	require.NoError(t, sem.Release(ctx, "team-a", "job-1"))
	// Releasing twice is a no-op.
	require.NoError(t, sem.Release(ctx, "team-a", "job-1"))

	n, err := sem.ActiveCount(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	granted, _, _, err = sem.Acquire(ctx, "team-a", "job-2", 1)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestSemaphoreWith(t *testing.T) {
	store := newTestStore(t)
	sem := NewSemaphore(store, time.Minute, false, arbor.NewLogger())
	ctx := context.Background()

	t.Run("runs under a lease and releases after", func(t *testing.T) {
		ran := false
		err := sem.With(ctx, "team-a", "job-1", 1, time.Second, func(ctx context.Context, limited bool) error {
			ran = true
			assert.False(t, limited)
			n, err := sem.ActiveCount(ctx, "team-a")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)

		n, err := sem.ActiveCount(ctx, "team-a")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("times out when the budget stays full", func(t *testing.T) {
		granted, _, _, err := sem.Acquire(ctx, "team-b", "holder", 1)
		require.NoError(t, err)
		require.True(t, granted)
		defer sem.Release(ctx, "team-b", "holder")

		err = sem.With(ctx, "team-b", "job-2", 1, 150*time.Millisecond, func(ctx context.Context, limited bool) error {
			t.Fatal("must not run while the budget is full")
			return nil
		})
		assert.True(t, models.HasCode(err, models.ErrCodeScrapeTimeout))
	})

	t.Run("signals limited after waiting for a slot", func(t *testing.T) {
		granted, _, _, err := sem.Acquire(ctx, "team-c", "holder", 1)
		require.NoError(t, err)
		require.True(t, granted)

		go func() {
			time.Sleep(60 * time.Millisecond)
			_ = sem.Release(context.Background(), "team-c", "holder")
		}()

		sawLimited := false
		err = sem.With(ctx, "team-c", "job-3", 1, 2*time.Second, func(ctx context.Context, limited bool) error {
			sawLimited = limited
			return nil
		})
		require.NoError(t, err)
		assert.True(t, sawLimited)
	})

	t.Run("zero limit is denied outright", func(t *testing.T) {
		err := sem.With(ctx, "team-d", "job-4", 0, time.Second, func(ctx context.Context, limited bool) error {
			t.Fatal("must not run with no budget")
			return nil
		})
		assert.True(t, models.HasCode(err, models.ErrCodeCrawlDenial))
	})
}

func TestSemaphoreSelfHostedBypass(t *testing.T) {
	store := newTestStore(t)
	sem := NewSemaphore(store, time.Minute, true, arbor.NewLogger())

	ran := false
	err := sem.With(context.Background(), "team-a", "job-1", 0, time.Second, func(ctx context.Context, limited bool) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
