package crawl

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
	badgerstore "github.com/crawlspace-dev/crawlspace/internal/storage/badger"
)

func newTestTracker(t *testing.T) (*Tracker, *badgerstore.CoordStore) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := badgerstore.NewCoordStore(db, logger)
	return NewTracker(store, 24*time.Hour, logger), store
}

func newCrawl(id string, opts models.CrawlerOptions) *models.Crawl {
	return &models.Crawl{
		ID:               id,
		TenantID:         "team-a",
		OriginURL:        "https://example.com",
		CrawlerOptions:   opts,
		CreatedAtEpochMs: time.Now().UnixMilli(),
	}
}

func TestCreateAndGetCrawl(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{Limit: 10})
	require.NoError(t, tracker.Create(ctx, record, 0))

	got, err := tracker.GetCrawl(ctx, "crawl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://example.com", got.OriginURL)
	assert.Equal(t, 10, got.CrawlerOptions.Limit)

	ids, err := tracker.CrawlsByTenant(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"crawl-1"}, ids)

	missing, err := tracker.GetCrawl(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLockURLDeduplicates(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{Limit: 100})
	require.NoError(t, tracker.Create(ctx, record, 0))

	ok, err := tracker.LockURL(ctx, record, "https://example.com/page")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.LockURL(ctx, record, "https://example.com/page")
	require.NoError(t, err)
	assert.False(t, ok, "a locked URL is never admitted twice")

	// Fragments normalize away before the lock.
	ok, err = tracker.LockURL(ctx, record, "https://example.com/page#section")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tracker.LockURL(ctx, record, "https://example.com/other")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockURLSimilarVariants(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{
		Limit:                  100,
		DeduplicateSimilarURLs: true,
	})
	require.NoError(t, tracker.Create(ctx, record, 0))

	ok, err := tracker.LockURL(ctx, record, "http://example.com/page")
	require.NoError(t, err)
	assert.True(t, ok)

	// Every scheme/www/index permutation is already claimed.
	for _, variant := range []string{
		"https://example.com/page",
		"http://www.example.com/page/",
		"https://www.example.com/page/index.html",
		"http://example.com/page/index.php",
	} {
		ok, err = tracker.LockURL(ctx, record, variant)
		require.NoError(t, err)
		assert.False(t, ok, "variant %s must be deduplicated", variant)
	}
}

func TestLockURLEnforcesLimit(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{Limit: 2})
	require.NoError(t, tracker.Create(ctx, record, 0))

	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		ok, err := tracker.LockURL(ctx, record, u)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := tracker.LockURL(ctx, record, "https://example.com/c")
	require.NoError(t, err)
	assert.False(t, ok, "unique-URL limit reached")
}

func TestMarkDoneAndStatus(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{Limit: 10})
	require.NoError(t, tracker.Create(ctx, record, 0))
	require.NoError(t, tracker.AddJobsBatch(ctx, "crawl-1", []string{"job-1", "job-2", "job-3"}))

	status, err := tracker.Status(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, models.CrawlStatusScraping, status.Status)
	assert.Equal(t, 0, status.Completed)
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, int64(-1), status.CreditsUsed, "missing counter reads as unknown")

	require.NoError(t, tracker.MarkDone(ctx, "crawl-1", "job-1", true))
	_, err = tracker.AddCredits(ctx, "crawl-1", 1)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkDone(ctx, "crawl-1", "job-2", true))
	total, err := tracker.AddCredits(ctx, "crawl-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.NoError(t, tracker.MarkDone(ctx, "crawl-1", "job-3", false))

	status, err = tracker.Status(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, models.CrawlStatusScraping, status.Status, "not finished until kickoff completes")
	assert.Equal(t, 2, status.Completed, "failures do not count as completed pages")
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, int64(2), status.CreditsUsed)

	require.NoError(t, tracker.FinishKickoff(ctx, "crawl-1"))
	status, err = tracker.Status(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, models.CrawlStatusCompleted, status.Status)
}

func TestOrderedDonePreservesCompletionOrder(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{})
	require.NoError(t, tracker.Create(ctx, record, 0))
	require.NoError(t, tracker.AddJobsBatch(ctx, "crawl-1", []string{"a", "b", "c"}))

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, tracker.MarkDone(ctx, "crawl-1", id, true))
	}

	done, err := tracker.OrderedDone(ctx, "crawl-1", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, done)

	page, err := tracker.OrderedDone(ctx, "crawl-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, page)
}

func TestSealIgnoresLateCompletions(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{})
	require.NoError(t, tracker.Create(ctx, record, 0))
	require.NoError(t, tracker.AddJob(ctx, "crawl-1", "job-1"))
	require.NoError(t, tracker.MarkDone(ctx, "crawl-1", "job-1", true))
	require.NoError(t, tracker.FinishKickoff(ctx, "crawl-1"))

	require.NoError(t, tracker.Seal(ctx, "crawl-1", "team-a"))

	sealed, err := tracker.IsSealed(ctx, "crawl-1")
	require.NoError(t, err)
	assert.True(t, sealed)

	ids, err := tracker.CrawlsByTenant(ctx, "team-a")
	require.NoError(t, err)
	assert.Empty(t, ids, "sealed crawl leaves the tenant's active set")

	// The visited sets are dropped at seal.
	_, err = store.Get(ctx, "crawl:crawl-1:visited")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	require.NoError(t, tracker.MarkDone(ctx, "crawl-1", "job-late", true))
	done, err := tracker.OrderedDone(ctx, "crawl-1", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, done, "late completion ignored after seal")
}

func TestCancel(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{})
	require.NoError(t, tracker.Create(ctx, record, 0))

	require.NoError(t, tracker.Cancel(ctx, "crawl-1"))
	// Cancelling twice is a no-op.
	require.NoError(t, tracker.Cancel(ctx, "crawl-1"))

	status, err := tracker.Status(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, models.CrawlStatusCancelled, status.Status)

	err = tracker.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestRobotsBlocked(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.AddRobotsBlocked(ctx, "crawl-1", "https://example.com/private"))
	require.NoError(t, tracker.AddRobotsBlocked(ctx, "crawl-1", "https://example.com/admin"))
	require.NoError(t, tracker.AddRobotsBlocked(ctx, "crawl-1", "https://example.com/private"))

	blocked, err := tracker.RobotsBlocked(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/admin", "https://example.com/private"}, blocked)
}

func TestEventsPublishedOnProgress(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	record := newCrawl("crawl-1", models.CrawlerOptions{})
	require.NoError(t, tracker.Create(ctx, record, 0))
	require.NoError(t, tracker.AddJob(ctx, "crawl-1", "job-1"))

	events, cancel := store.Subscribe(EventsChannel("crawl-1"))
	defer cancel()

	require.NoError(t, tracker.MarkDone(ctx, "crawl-1", "job-1", true))

	select {
	case raw := <-events:
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(raw), &ev))
		assert.Equal(t, "job_done", ev.Type)
		assert.Equal(t, "job-1", ev.JobID)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
