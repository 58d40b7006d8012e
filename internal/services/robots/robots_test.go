package robots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type fakeFetcher struct {
	body   []byte
	status int
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	return f.body, f.status, f.err
}

const sampleRobots = `User-agent: crawlspace
Disallow: /private/
Crawl-delay: 2

User-agent: *
Disallow: /admin/

Sitemap: https://example.com/sitemap.xml
`

func newTestService(fetcher *fakeFetcher) *Service {
	return NewService(fetcher, "crawlspace", arbor.NewLogger())
}

func TestForSiteParsesDirectives(t *testing.T) {
	svc := newTestService(&fakeFetcher{body: []byte(sampleRobots), status: 200})
	policy, err := svc.ForSite(context.Background(), "https://example.com/docs", false)
	require.NoError(t, err)

	assert.False(t, policy.IsAllowed("https://example.com/private/page"))
	assert.True(t, policy.IsAllowed("https://example.com/docs"))
	assert.Equal(t, 2*time.Second, policy.CrawlDelay())
	assert.Equal(t, []string{"https://example.com/sitemap.xml"}, policy.Sitemaps())
	assert.Equal(t, sampleRobots, policy.Raw())
}

func TestForSiteMatchesAlternateCasing(t *testing.T) {
	body := "User-agent: Crawlspace\nDisallow: /blocked/\n"
	svc := newTestService(&fakeFetcher{body: []byte(body), status: 200})
	policy, err := svc.ForSite(context.Background(), "https://example.com", false)
	require.NoError(t, err)

	// The site declared "Crawlspace"; our lowercase agent must still match.
	assert.False(t, policy.IsAllowed("https://example.com/blocked/x"))
	assert.True(t, policy.IsAllowed("https://example.com/open"))
}

func TestForSiteAllowsAllOnFetchFailure(t *testing.T) {
	svc := newTestService(&fakeFetcher{err: errors.New("connection refused")})
	policy, err := svc.ForSite(context.Background(), "https://example.com", false)
	require.NoError(t, err)

	assert.True(t, policy.IsAllowed("https://example.com/anything"))
	assert.Zero(t, policy.CrawlDelay())
	assert.Empty(t, policy.Raw())
}

func TestForSiteMissingRobotsAllowsAll(t *testing.T) {
	svc := newTestService(&fakeFetcher{body: []byte("not found"), status: 404})
	policy, err := svc.ForSite(context.Background(), "https://example.com", false)
	require.NoError(t, err)

	assert.True(t, policy.IsAllowed("https://example.com/private/page"))
}

func TestForSiteIgnoreSkipsFetch(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(sampleRobots), status: 200}
	svc := newTestService(fetcher)
	policy, err := svc.ForSite(context.Background(), "https://example.com", true)
	require.NoError(t, err)

	assert.True(t, policy.IsAllowed("https://example.com/private/page"))
	assert.Zero(t, policy.CrawlDelay())
}

func TestFromCached(t *testing.T) {
	svc := newTestService(&fakeFetcher{})

	policy := svc.FromCached("https://example.com", sampleRobots, false)
	assert.False(t, policy.IsAllowed("https://example.com/private/page"))
	assert.True(t, policy.IsAllowed("https://example.com/docs"))

	// An empty cached body means no policy was available at kickoff.
	policy = svc.FromCached("https://example.com", "", false)
	assert.True(t, policy.IsAllowed("https://example.com/private/page"))

	policy = svc.FromCached("https://example.com", sampleRobots, true)
	assert.True(t, policy.IsAllowed("https://example.com/private/page"))
}

func TestIsAllowedIncludesQuery(t *testing.T) {
	body := "User-agent: *\nDisallow: /search?*sort=\n"
	svc := newTestService(&fakeFetcher{body: []byte(body), status: 200})
	policy, err := svc.ForSite(context.Background(), "https://example.com", false)
	require.NoError(t, err)

	assert.False(t, policy.IsAllowed("https://example.com/search?q=a&sort=asc"))
	assert.True(t, policy.IsAllowed("https://example.com/search?q=a"))
}
