package searchprov

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
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

// newSearchServer serves deterministic paged results: page p holds pageSize
// entries until total runs out.
func newSearchServer(t *testing.T, total, pageSize int, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		type entry struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		var results []entry
		for i := page * pageSize; i < (page+1)*pageSize && i < total; i++ {
			results = append(results, entry{
				URL:   fmt.Sprintf("https://example.com/r%d", i),
				Title: fmt.Sprintf("Result %d", i),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
}

func TestSearchDisabledWithoutBaseURL(t *testing.T) {
	c := NewClient(newTestStore(t), Options{}, arbor.NewLogger())
	results, err := c.Search(context.Background(), "site:example.com", 10)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSearchPagesUntilLimit(t *testing.T) {
	var requests atomic.Int64
	srv := newSearchServer(t, 50, 20, &requests)
	defer srv.Close()

	c := NewClient(newTestStore(t), Options{
		BaseURL:       srv.URL,
		PageSize:      20,
		MaxPages:      5,
		RatePerSecond: 1000,
	}, arbor.NewLogger())

	results, err := c.Search(context.Background(), "site:example.com", 30)
	require.NoError(t, err)
	assert.Len(t, results, 30)
	assert.Equal(t, int64(2), requests.Load())
	assert.Equal(t, "https://example.com/r0", results[0].URL)
	assert.Equal(t, "Result 0", results[0].Title)
}

func TestSearchStopsOnShortPage(t *testing.T) {
	var requests atomic.Int64
	srv := newSearchServer(t, 7, 20, &requests)
	defer srv.Close()

	c := NewClient(newTestStore(t), Options{
		BaseURL:       srv.URL,
		PageSize:      20,
		MaxPages:      5,
		RatePerSecond: 1000,
	}, arbor.NewLogger())

	results, err := c.Search(context.Background(), "site:example.com", 100)
	require.NoError(t, err)
	assert.Len(t, results, 7)
	assert.Equal(t, int64(1), requests.Load(), "a short page ends the paging loop")
}

func TestSearchCachesResults(t *testing.T) {
	var requests atomic.Int64
	srv := newSearchServer(t, 5, 20, &requests)
	defer srv.Close()

	c := NewClient(newTestStore(t), Options{
		BaseURL:       srv.URL,
		PageSize:      20,
		MaxPages:      5,
		RatePerSecond: 1000,
	}, arbor.NewLogger())
	ctx := context.Background()

	first, err := c.Search(ctx, "site:example.com", 100)
	require.NoError(t, err)
	require.Len(t, first, 5)
	fetched := requests.Load()

	second, err := c.Search(ctx, "site:example.com", 100)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, fetched, requests.Load(), "cache hit skips the provider")

	// A different query misses the cache.
	_, err = c.Search(ctx, "site:other.org", 100)
	require.NoError(t, err)
	assert.Greater(t, requests.Load(), fetched)
}

func TestSearchCacheHitHonorsLimit(t *testing.T) {
	var requests atomic.Int64
	srv := newSearchServer(t, 10, 20, &requests)
	defer srv.Close()

	c := NewClient(newTestStore(t), Options{
		BaseURL:       srv.URL,
		PageSize:      20,
		MaxPages:      5,
		RatePerSecond: 1000,
	}, arbor.NewLogger())
	ctx := context.Background()

	_, err := c.Search(ctx, "site:example.com", 100)
	require.NoError(t, err)

	results, err := c.Search(ctx, "site:example.com", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(newTestStore(t), Options{
		BaseURL:       srv.URL,
		RatePerSecond: 1000,
	}, arbor.NewLogger())

	_, err := c.Search(context.Background(), "site:example.com", 10)
	assert.Error(t, err)
}

func TestSearchRateLimiterRespectsContext(t *testing.T) {
	var requests atomic.Int64
	srv := newSearchServer(t, 100, 20, &requests)
	defer srv.Close()

	c := NewClient(newTestStore(t), Options{
		BaseURL:       srv.URL,
		PageSize:      20,
		MaxPages:      5,
		RatePerSecond: 0.001,
	}, arbor.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, "site:example.com", 100)
	assert.Error(t, err)
}
