package mapper

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
	"github.com/crawlspace-dev/crawlspace/internal/services/robots"
	"github.com/crawlspace-dev/crawlspace/internal/services/sitemap"
)

// Sitemap modes for a map request.
const (
	SitemapInclude = "include"
	SitemapOnly    = "only"
	SitemapSkip    = "skip"
)

// Request describes one map invocation.
type Request struct {
	URL                string
	Search             string
	Limit              int
	Sitemap            string // include (default), only, skip
	IncludeSubdomains  bool
	AllowExternalLinks bool
	FilterByPath       bool
	UseIndex           bool
}

// Result is the ordered outcome of a map.
type Result struct {
	Links       []string           `json:"links"`
	MapResults  []models.MapResult `json:"map_results"`
	JobID       string             `json:"job_id"`
	TimeTakenMs int64              `json:"time_taken_ms"`
	Warning     string             `json:"warning,omitempty"`
}

// Options configures the pipeline from the [map] config section.
type Options struct {
	MaxLimit    int
	IndexWindow time.Duration
}

// Mapper fans a map request out over sitemap discovery, the external search
// provider, and the domain index, then merges, filters and ranks the union.
// Individual source failures degrade the result instead of failing the call.
type Mapper struct {
	engine   interfaces.ScrapeEngine
	robots   *robots.Service
	sitemaps *sitemap.Traverser
	search   interfaces.SearchProvider
	index    interfaces.DomainIndex
	logger   arbor.ILogger
	opts     Options
}

func NewMapper(
	engine interfaces.ScrapeEngine,
	robotsSvc *robots.Service,
	traverser *sitemap.Traverser,
	search interfaces.SearchProvider,
	index interfaces.DomainIndex,
	opts Options,
	logger arbor.ILogger,
) *Mapper {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 5000
	}
	if opts.IndexWindow <= 0 {
		opts.IndexWindow = 14 * 24 * time.Hour
	}
	return &Mapper{
		engine:   engine,
		robots:   robotsSvc,
		sitemaps: traverser,
		search:   search,
		index:    index,
		logger:   logger,
		opts:     opts,
	}
}

// Map executes the pipeline and returns the ordered, filtered link list.
func (m *Mapper) Map(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	jobID := common.NewJobID()

	limit := req.Limit
	if limit <= 0 || limit > m.opts.MaxLimit {
		limit = m.opts.MaxLimit
	}

	origin := m.resolveOrigin(ctx, req.URL)
	host := common.Hostname(origin)

	policy, err := m.robots.ForSite(ctx, origin, false)
	if err != nil {
		policy = m.robots.FromCached(origin, "", false)
	}

	var mu sync.Mutex
	var collected []models.MapResult
	add := func(results []models.MapResult) {
		mu.Lock()
		collected = append(collected, results...)
		mu.Unlock()
	}
	sitemapHandler := func(urls []string) int {
		results := make([]models.MapResult, 0, len(urls))
		for _, u := range urls {
			results = append(results, models.MapResult{URL: u})
		}
		add(results)
		return len(results)
	}

	if req.Sitemap == SitemapOnly {
		count := m.sitemaps.TryGetSitemap(ctx, origin, policy.Sitemaps(), sitemapHandler)
		if count == 0 && ctx.Err() != nil {
			return nil, models.ErrMapTimeout("map timed out before any sitemap results arrived")
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			results, err := m.search.Search(gctx, searchQuery(host, req.Search), limit)
			if err != nil {
				m.logger.Warn().Err(err).Str("host", host).Msg("Search source failed during map")
				return nil
			}
			add(results)
			return nil
		})
		if req.UseIndex && m.index != nil {
			g.Go(func() error {
				m.queryIndex(gctx, origin, host, limit, add)
				return nil
			})
		}
		if req.Sitemap != SitemapSkip {
			g.Go(func() error {
				m.sitemaps.TryGetSitemap(gctx, origin, policy.Sitemaps(), sitemapHandler)
				return nil
			})
		}
		g.Wait()
	}

	results := dedupe(collected)
	if len(results) > limit {
		results = results[:limit]
	}
	if req.Search != "" {
		rerank(results, strings.ToLower(req.Search))
	}
	results = m.filter(results, origin, req)
	results = dedupeVariants(results)

	out := &Result{
		MapResults:  results,
		JobID:       jobID,
		TimeTakenMs: time.Since(start).Milliseconds(),
	}
	for _, r := range results {
		out.Links = append(out.Links, r.URL)
	}
	if len(results) <= 1 && common.HasSignificantPath(origin) {
		if base, err := common.ExtractBaseDomain(origin); err == nil {
			out.Warning = "few results found, try mapping the base domain https://" + base
		}
	}
	return out, nil
}

// resolveOrigin follows redirects on the origin; a redirect to a different
// domain rewrites the hostname while keeping the requested path.
func (m *Mapper) resolveOrigin(ctx context.Context, rawURL string) string {
	resolved, err := m.engine.ResolveRedirects(ctx, rawURL)
	if err != nil || resolved == "" {
		return rawURL
	}
	if common.SameDomain(rawURL, resolved) {
		return rawURL
	}
	parsed, err1 := url.Parse(rawURL)
	target, err2 := url.Parse(resolved)
	if err1 != nil || err2 != nil || target.Host == "" {
		return rawURL
	}
	parsed.Scheme = target.Scheme
	parsed.Host = target.Host
	return parsed.String()
}

func (m *Mapper) queryIndex(ctx context.Context, origin, host string, limit int, add func([]models.MapResult)) {
	since := time.Now().Add(-m.opts.IndexWindow)
	byHost, err := m.index.QueryHost(ctx, host, since, limit)
	if err != nil {
		m.logger.Warn().Err(err).Str("host", host).Msg("Index host query failed during map")
	} else {
		add(byHost)
	}
	if parsed, err := url.Parse(origin); err == nil && common.HasSignificantPath(origin) {
		byPrefix, err := m.index.QueryPathPrefix(ctx, host, parsed.Path, since, limit)
		if err != nil {
			m.logger.Warn().Err(err).Str("host", host).Msg("Index path query failed during map")
		} else {
			add(byPrefix)
		}
	}
}

func searchQuery(host, search string) string {
	q := "site:" + host
	if search != "" {
		q = search + " " + q
	}
	return q
}

// dedupe collapses duplicates by URL, preferring the entry carrying a title.
func dedupe(results []models.MapResult) []models.MapResult {
	byURL := make(map[string]int, len(results))
	out := make([]models.MapResult, 0, len(results))
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		key, err := common.NormalizeURL(r.URL, false)
		if err != nil {
			continue
		}
		if i, ok := byURL[key]; ok {
			if out[i].Title == "" && r.Title != "" {
				out[i] = r
			}
			continue
		}
		byURL[key] = len(out)
		out = append(out, r)
	}
	return out
}

// rerank orders results by lexical similarity between the query and each
// result's url, title and description. Stable so source order breaks ties.
func rerank(results []models.MapResult, query string) {
	type scored struct {
		result models.MapResult
		score  float64
	}
	ranked := make([]scored, len(results))
	for i, r := range results {
		ranked[i] = scored{
			result: r,
			score:  cosineSimilarity(query, strings.ToLower(r.URL+" "+r.Title+" "+r.Description)),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	for i, s := range ranked {
		results[i] = s.result
	}
}

// filter applies the domain, subdomain, and path-prefix rules.
func (m *Mapper) filter(results []models.MapResult, origin string, req Request) []models.MapResult {
	originPath := ""
	if parsed, err := url.Parse(origin); err == nil {
		originPath = parsed.Path
	}
	requirePrefix := req.FilterByPath && !req.AllowExternalLinks && common.HasSignificantPath(origin)

	out := results[:0]
	for _, r := range results {
		if !req.AllowExternalLinks && !common.SameDomain(origin, r.URL) {
			continue
		}
		if !req.IncludeSubdomains && !common.SameSubdomain(origin, r.URL) {
			continue
		}
		if requirePrefix {
			parsed, err := url.Parse(r.URL)
			if err != nil || !strings.HasPrefix(parsed.Path, originPath) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// dedupeVariants removes http/https/www/index permutations of URLs already
// present earlier in the list.
func dedupeVariants(results []models.MapResult) []models.MapResult {
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		variants := common.URLPermutations(r.URL)
		dup := false
		for _, v := range variants {
			if _, ok := seen[v]; ok {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, v := range variants {
			seen[v] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}
