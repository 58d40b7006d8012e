package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/crawl"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
	"github.com/crawlspace-dev/crawlspace/internal/queue"
	"github.com/crawlspace-dev/crawlspace/internal/services/mapper"
	"github.com/crawlspace-dev/crawlspace/internal/services/robots"
	"github.com/crawlspace-dev/crawlspace/internal/services/sitemap"
	badgerstore "github.com/crawlspace-dev/crawlspace/internal/storage/badger"
)

// fakeEngine serves a static site: Scrape answers from the page map, Fetch
// from the raw map (robots.txt, sitemaps), both keyed by URL.
type fakeEngine struct {
	mu      sync.Mutex
	pages   map[string]*models.Document
	raw     map[string]string
	scrapes map[string]int
}

func (f *fakeEngine) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	if body, ok := f.raw[url]; ok {
		return []byte(body), 200, nil
	}
	return []byte("not found"), 404, nil
}

func (f *fakeEngine) Scrape(ctx context.Context, req interfaces.EngineRequest) (*models.Document, error) {
	f.mu.Lock()
	if f.scrapes == nil {
		f.scrapes = make(map[string]int)
	}
	f.scrapes[req.URL]++
	f.mu.Unlock()

	if doc, ok := f.pages[req.URL]; ok {
		copied := *doc
		return &copied, nil
	}
	return &models.Document{URL: req.URL, StatusCode: 404, Success: false, Error: "upstream returned status 404"}, nil
}

func (f *fakeEngine) ResolveRedirects(ctx context.Context, url string) (string, error) {
	return url, nil
}

func (f *fakeEngine) scrapeCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scrapes[url]
}

func page(url string, links ...string) *models.Document {
	return &models.Document{
		URL:        url,
		StatusCode: 200,
		Success:    true,
		Title:      "Page " + url,
		Markdown:   "content of " + url,
		Links:      links,
	}
}

type fakeTenants struct {
	views map[string]*models.TenantView
}

func (f *fakeTenants) Lookup(ctx context.Context, tenantID string) (*models.TenantView, error) {
	view, ok := f.views[tenantID]
	if !ok {
		return nil, fmt.Errorf("unknown tenant %s", tenantID)
	}
	return view, nil
}

func newTestCoordinator(t *testing.T, engine *fakeEngine, tenants *fakeTenants) *Coordinator {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := badgerstore.NewCoordStore(db, logger)
	sem := queue.NewSemaphore(store, time.Minute, false, logger)
	tracker := crawl.NewTracker(store, 24*time.Hour, logger)
	waiting := queue.NewWaitingQueue(store, sem, tracker, 24*time.Hour, logger)
	ready := queue.NewReadyQueue(store, logger)
	robotsSvc := robots.NewService(engine, "crawlspace", logger)
	traverser := sitemap.NewTraverser(engine, 10*time.Second, logger)
	mapSvc := mapper.NewMapper(engine, robotsSvc, traverser, noSearch{}, nil, mapper.Options{}, logger)

	return New(store, sem, waiting, ready, tracker, engine, robotsSvc, traverser, mapSvc, nil, tenants,
		Options{Workers: 2, JobTimeout: 10 * time.Second, DefaultTimeout: 10 * time.Second}, logger)
}

type noSearch struct{}

func (noSearch) Search(ctx context.Context, query string, limit int) ([]models.MapResult, error) {
	return nil, nil
}

func defaultTenants() *fakeTenants {
	return &fakeTenants{views: map[string]*models.TenantView{
		"team-a": {TenantID: "team-a", ConcurrencyLimit: 5},
		"capped": {TenantID: "capped", ConcurrencyLimit: 0},
	}}
}

func TestScrapeReturnsDocument(t *testing.T) {
	engine := &fakeEngine{pages: map[string]*models.Document{
		"https://site.test/": page("https://site.test/"),
	}}
	coord := newTestCoordinator(t, engine, defaultTenants())

	doc, err := coord.Scrape(context.Background(), "team-a", ScrapeRequest{URL: "https://site.test/"})
	require.NoError(t, err)
	assert.True(t, doc.Success)
	assert.Equal(t, "Page https://site.test/", doc.Title)
}

func TestScrapeRejectsBadURL(t *testing.T) {
	coord := newTestCoordinator(t, &fakeEngine{}, defaultTenants())

	_, err := coord.Scrape(context.Background(), "team-a", ScrapeRequest{URL: "not a url"})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.ErrCodeBadRequest))
}

func TestScrapeUnknownTenant(t *testing.T) {
	coord := newTestCoordinator(t, &fakeEngine{}, defaultTenants())

	_, err := coord.Scrape(context.Background(), "ghost", ScrapeRequest{URL: "https://site.test/"})
	assert.Error(t, err)
}

func TestStartCrawlDeniedWithoutCapacity(t *testing.T) {
	coord := newTestCoordinator(t, &fakeEngine{}, defaultTenants())

	_, err := coord.StartCrawl(context.Background(), "capped", CrawlRequest{URL: "https://site.test/"})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.ErrCodeCrawlDenial))
}

func TestCrawlLifecycle(t *testing.T) {
	engine := &fakeEngine{pages: map[string]*models.Document{
		"https://site.test/":     page("https://site.test/", "https://site.test/a", "https://site.test/b", "https://external.test/"),
		"https://site.test/a":    page("https://site.test/a", "https://site.test/b"),
		"https://site.test/b":    page("https://site.test/b"),
		"https://external.test/": page("https://external.test/"),
	}}
	coord := newTestCoordinator(t, engine, defaultTenants())
	coord.Start()
	defer coord.Stop()
	ctx := context.Background()

	crawlID, err := coord.StartCrawl(ctx, "team-a", CrawlRequest{URL: "https://site.test/"})
	require.NoError(t, err)
	require.NotEmpty(t, crawlID)

	require.Eventually(t, func() bool {
		status, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
		return err == nil && status.Status == models.CrawlStatusCompleted
	}, 10*time.Second, 50*time.Millisecond, "crawl did not complete")

	status, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 3, status.Completed)
	assert.Equal(t, int64(3), status.CreditsUsed, "one credit per successful page")
	assert.Len(t, status.Data, 3)

	// Every page fetched exactly once; external links never admitted.
	for _, u := range []string{"https://site.test/", "https://site.test/a", "https://site.test/b"} {
		assert.Equal(t, 1, engine.scrapeCount(u), "url %s", u)
	}
	assert.Zero(t, engine.scrapeCount("https://external.test/"))
}

func TestCrawlHonorsRobots(t *testing.T) {
	engine := &fakeEngine{
		raw: map[string]string{
			"https://site.test/robots.txt": "User-agent: *\nDisallow: /private\n",
		},
		pages: map[string]*models.Document{
			"https://site.test/":        page("https://site.test/", "https://site.test/private", "https://site.test/open"),
			"https://site.test/private": page("https://site.test/private"),
			"https://site.test/open":    page("https://site.test/open"),
		},
	}
	coord := newTestCoordinator(t, engine, defaultTenants())
	coord.Start()
	defer coord.Stop()
	ctx := context.Background()

	crawlID, err := coord.StartCrawl(ctx, "team-a", CrawlRequest{URL: "https://site.test/"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
		return err == nil && status.Status == models.CrawlStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	status, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Completed, "the blocked URL is not a completed page")
	assert.Contains(t, status.Warning, "blocked by robots.txt")
	assert.Zero(t, engine.scrapeCount("https://site.test/private"))
}

func TestCrawlMaxDepth(t *testing.T) {
	engine := &fakeEngine{pages: map[string]*models.Document{
		"https://site.test/":      page("https://site.test/", "https://site.test/l1"),
		"https://site.test/l1":    page("https://site.test/l1", "https://site.test/l2"),
		"https://site.test/l2":    page("https://site.test/l2", "https://site.test/l3"),
		"https://site.test/l3":    page("https://site.test/l3"),
	}}
	coord := newTestCoordinator(t, engine, defaultTenants())
	coord.Start()
	defer coord.Stop()
	ctx := context.Background()

	crawlID, err := coord.StartCrawl(ctx, "team-a", CrawlRequest{
		URL:            "https://site.test/",
		CrawlerOptions: models.CrawlerOptions{MaxDepth: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
		return err == nil && status.Status == models.CrawlStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	status, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total, "depth 0 is the origin, depth 1 its links")
	assert.Zero(t, engine.scrapeCount("https://site.test/l2"))
}

func TestCancelCrawl(t *testing.T) {
	engine := &fakeEngine{pages: map[string]*models.Document{
		"https://site.test/": page("https://site.test/"),
	}}
	coord := newTestCoordinator(t, engine, defaultTenants())
	ctx := context.Background()

	// Workers are not running, so the origin job stays queued.
	crawlID, err := coord.StartCrawl(ctx, "team-a", CrawlRequest{URL: "https://site.test/"})
	require.NoError(t, err)

	require.NoError(t, coord.CancelCrawl(ctx, crawlID))

	status, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, models.CrawlStatusCancelled, status.Status)

	coord.Stop()
}

func TestGetCrawlStatusUnknownID(t *testing.T) {
	coord := newTestCoordinator(t, &fakeEngine{}, defaultTenants())

	_, err := coord.GetCrawlStatus(context.Background(), "missing", 0, 20)
	require.Error(t, err)
	terr, ok := models.AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, 404, terr.Status)
}

func TestGetCrawlStatusPagination(t *testing.T) {
	pages := map[string]*models.Document{}
	var links []string
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("https://site.test/p%d", i)
		links = append(links, u)
		pages[u] = page(u)
	}
	pages["https://site.test/"] = page("https://site.test/", links...)

	engine := &fakeEngine{pages: pages}
	coord := newTestCoordinator(t, engine, defaultTenants())
	coord.Start()
	defer coord.Stop()
	ctx := context.Background()

	crawlID, err := coord.StartCrawl(ctx, "team-a", CrawlRequest{URL: "https://site.test/"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
		return err == nil && status.Status == models.CrawlStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	first, err := coord.GetCrawlStatus(ctx, crawlID, 0, 4)
	require.NoError(t, err)
	assert.Len(t, first.Data, 4)
	assert.Contains(t, first.Next, "skip=4")

	second, err := coord.GetCrawlStatus(ctx, crawlID, 4, 4)
	require.NoError(t, err)
	assert.Len(t, second.Data, 2)
	assert.Empty(t, second.Next)
}

func TestMapThroughCoordinator(t *testing.T) {
	engine := &fakeEngine{raw: map[string]string{
		"https://site.test/sitemap.xml": `<?xml version="1.0"?><urlset>` +
			`<url><loc>https://site.test/a</loc></url>` +
			`<url><loc>https://site.test/b</loc></url></urlset>`,
	}}
	coord := newTestCoordinator(t, engine, defaultTenants())

	result, err := coord.Map(context.Background(), "team-a", mapper.Request{URL: "https://site.test"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://site.test/a", "https://site.test/b"}, result.Links)
}
