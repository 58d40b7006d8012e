package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
)

// maxSitemapHits bounds how many distinct sitemap documents one traversal
// may touch, which also breaks sitemap-index cycles.
const maxSitemapHits = 100

// URLHandler receives content URLs discovered in a sitemap and returns how
// many it accepted.
type URLHandler func(urls []string) int

// Traverser walks sitemap trees recursively: sitemap indexes fan out
// concurrently, url sets feed the handler. Bodies come through the scraping
// engine's fetcher, with gzip-encoded sitemaps decoded transparently.
type Traverser struct {
	fetcher interfaces.Fetcher
	logger  arbor.ILogger
	budget  time.Duration
}

func NewTraverser(fetcher interfaces.Fetcher, budget time.Duration, logger arbor.ILogger) *Traverser {
	if budget <= 0 {
		budget = 120 * time.Second
	}
	return &Traverser{fetcher: fetcher, logger: logger, budget: budget}
}

// hitSet tracks visited sitemap URLs up to the traversal bound.
type hitSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// admit returns false for revisits and once the bound is reached.
func (h *hitSet) admit(url string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[url]; ok {
		return false
	}
	if len(h.seen) >= maxSitemapHits {
		return false
	}
	h.seen[url] = struct{}{}
	return true
}

// TryGetSitemap discovers content URLs for an origin. Seeds come from
// robots-declared sitemaps when available, else {origin}/sitemap.xml. When
// the origin is a subdomain, the base domain's sitemap is also consulted
// with results filtered back to the origin hostname. Returns the number of
// URLs the handler accepted; a blown budget returns the partial count.
func (t *Traverser) TryGetSitemap(ctx context.Context, originURL string, declared []string, handler URLHandler) int {
	ctx, cancel := context.WithTimeout(ctx, t.budget)
	defer cancel()

	seeds := declared
	if len(seeds) == 0 {
		seeds = []string{strings.TrimRight(originURL, "/") + "/sitemap.xml"}
	}
	count := t.traverse(ctx, seeds, handler)

	host := common.Hostname(originURL)
	base, err := common.ExtractBaseDomain(originURL)
	if err == nil && base != "" && !strings.EqualFold(strings.TrimPrefix(host, "www."), base) {
		filtered := func(urls []string) int {
			kept := urls[:0:0]
			for _, u := range urls {
				if strings.EqualFold(common.Hostname(u), host) {
					kept = append(kept, u)
				}
			}
			if len(kept) == 0 {
				return 0
			}
			return handler(kept)
		}
		count += t.traverse(ctx, []string{"https://" + base + "/sitemap.xml"}, filtered)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.logger.Warn().
			Str("url", originURL).
			Int("count", count).
			Msg("Sitemap traversal hit its time budget, returning partial results")
	}
	return count
}

func (t *Traverser) traverse(ctx context.Context, seeds []string, handler URLHandler) int {
	hits := &hitSet{seen: make(map[string]struct{})}
	var count atomic.Int64

	// Concurrency is bounded by the hit set, so no SetLimit: a capped Go
	// call inside a running walker would deadlock the group.
	g, ctx := errgroup.WithContext(ctx)
	for _, seed := range seeds {
		t.walk(ctx, g, seed, hits, handler, &count)
	}
	g.Wait()
	return int(count.Load())
}

func (t *Traverser) walk(ctx context.Context, g *errgroup.Group, sitemapURL string, hits *hitSet, handler URLHandler, count *atomic.Int64) {
	if !hits.admit(sitemapURL) {
		return
	}
	g.Go(func() error {
		if ctx.Err() != nil {
			return nil
		}
		body, status, err := t.fetcher.Fetch(ctx, sitemapURL)
		if err != nil {
			t.logger.Debug().Err(err).Str("url", sitemapURL).Msg("Sitemap fetch failed")
			return nil
		}
		if status < 200 || status >= 300 {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(sitemapURL), ".gz") {
			body, err = gunzip(body)
			if err != nil {
				t.logger.Debug().Err(err).Str("url", sitemapURL).Msg("Sitemap gzip decode failed")
				return nil
			}
		}

		children, urls, err := parse(body)
		if err != nil {
			t.logger.Debug().Err(err).Str("url", sitemapURL).Msg("Sitemap parse failed")
			return nil
		}
		for _, child := range children {
			t.walk(ctx, g, child, hits, handler, count)
		}
		if len(urls) > 0 {
			count.Add(int64(handler(urls)))
		}
		return nil
	})
}

func gunzip(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type urlSet struct {
	URLs []sitemapEntry `xml:"url"`
}

// parse interprets a sitemap document, returning child sitemap URLs for an
// index and content URLs for a urlset.
func parse(body []byte) (children []string, urls []string, err error) {
	root, err := rootElement(body)
	if err != nil {
		return nil, nil, err
	}
	switch root {
	case "sitemapindex":
		var idx sitemapIndex
		if err := xml.Unmarshal(body, &idx); err != nil {
			return nil, nil, err
		}
		for _, s := range idx.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				children = append(children, loc)
			}
		}
	case "urlset":
		var set urlSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return nil, nil, err
		}
		for _, u := range set.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				urls = append(urls, loc)
			}
		}
	}
	return children, urls, nil
}

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}
