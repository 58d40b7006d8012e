package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Sample Page</title>
  <meta name="description" content="A page for testing extraction">
</head>
<body>
  <h1>Heading</h1>
  <p>Some <strong>content</strong> here.</p>
  <a href="/docs">Docs</a>
  <a href="https://example.com/absolute#frag">Absolute</a>
  <a href="/docs">Duplicate</a>
  <a href="#top">Anchor</a>
  <a href="javascript:void(0)">JS</a>
  <a href="mailto:team@example.com">Mail</a>
</body>
</html>`

func newTestEngine() *Engine {
	return New(Options{UserAgent: "crawlspace-test"}, arbor.NewLogger())
}

func TestScrapeExtractsDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crawlspace-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	e := newTestEngine()
	doc, err := e.Scrape(context.Background(), interfaces.EngineRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.True(t, doc.Success)
	assert.Equal(t, 200, doc.StatusCode)
	assert.Equal(t, "Sample Page", doc.Title)
	assert.Equal(t, "A page for testing extraction", doc.Description)
	assert.Equal(t, "en", doc.Language)
	assert.Contains(t, doc.Markdown, "# Heading")
	assert.Contains(t, doc.Markdown, "**content**")
	assert.Greater(t, doc.Duration, time.Duration(0))

	// Relative links resolve against the page URL, dedup by normalized form,
	// and skip anchors, javascript and mailto.
	assert.Equal(t, []string{
		srv.URL + "/docs",
		"https://example.com/absolute",
	}, doc.Links)
}

func TestScrapeHTTPFailureIsUnsuccessfulDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	e := newTestEngine()
	doc, err := e.Scrape(context.Background(), interfaces.EngineRequest{URL: srv.URL})
	require.NoError(t, err, "HTTP-level failures are not transport errors")

	assert.False(t, doc.Success)
	assert.Equal(t, 404, doc.StatusCode)
	assert.Contains(t, doc.Error, "404")
}

func TestScrapeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	e := newTestEngine()
	_, err := e.Scrape(context.Background(), interfaces.EngineRequest{
		URL:     srv.URL,
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.ErrCodeScrapeTimeout))
}

func TestScrapeDNSFailure(t *testing.T) {
	e := newTestEngine()
	_, err := e.Scrape(context.Background(), interfaces.EngineRequest{
		URL: "https://no-such-host.invalid/",
	})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.ErrCodeDNSResolution))
}

func TestFetchReturnsStatusWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("blocked"))
	}))
	defer srv.Close()

	e := newTestEngine()
	body, status, err := e.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 403, status)
	assert.Equal(t, "blocked", string(body))
}

func TestFetchCapsBodySize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1<<20))
	}))
	defer srv.Close()

	e := New(Options{MaxBodyBytes: 1024}, arbor.NewLogger())
	body, status, err := e.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Len(t, body, 1024)
}

func TestResolveRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/landing", http.StatusMovedPermanently)
	}))
	defer hop.Close()

	e := newTestEngine()
	resolved, err := e.ResolveRedirects(context.Background(), hop.URL)
	require.NoError(t, err)
	assert.Equal(t, final.URL+"/landing", resolved)
}

func TestResolveRedirectsFallsBackToGet(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	e := newTestEngine()
	resolved, err := e.ResolveRedirects(context.Background(), target.URL)
	require.NoError(t, err)
	assert.Equal(t, target.URL, resolved)
}

func TestDomainLimitersSpacingPerHost(t *testing.T) {
	limiters := newDomainLimiters(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiters.Wait(ctx, "https://a.example.com/1"))
	require.NoError(t, limiters.Wait(ctx, "https://b.example.com/1"))
	assert.Less(t, time.Since(start), 40*time.Millisecond, "different hosts do not share a limiter")

	start = time.Now()
	require.NoError(t, limiters.Wait(ctx, "https://a.example.com/2"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "same host waits out the delay")
}

func TestDomainLimitersZeroDelay(t *testing.T) {
	limiters := newDomainLimiters(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, limiters.Wait(context.Background(), "https://example.com/"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
