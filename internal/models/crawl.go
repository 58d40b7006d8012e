package models

import "encoding/json"

// Crawl status values. Transitions are monotonic: completed dominates once
// reached, cancelled is terminal.
const (
	CrawlStatusScraping  = "scraping"
	CrawlStatusCancelled = "cancelled"
	CrawlStatusCompleted = "completed"
)

// CrawlerOptions controls discovery and admission inside one crawl group.
type CrawlerOptions struct {
	Limit                  int      `json:"limit"`
	MaxDepth               int      `json:"max_depth,omitempty"`
	IncludePaths           []string `json:"include_paths,omitempty"`
	ExcludePaths           []string `json:"exclude_paths,omitempty"`
	Delay                  float64  `json:"delay,omitempty"` // seconds between fetches; >0 forces crawl concurrency of 1
	IgnoreQueryParameters  bool     `json:"ignore_query_parameters,omitempty"`
	DeduplicateSimilarURLs bool     `json:"deduplicate_similar_urls,omitempty"`
	IgnoreRobotsTxt        bool     `json:"ignore_robots_txt,omitempty"`
	AllowSubdomains        bool     `json:"allow_subdomains,omitempty"`
	IgnoreSitemap          bool     `json:"ignore_sitemap,omitempty"`
}

// Crawl is the group record for one recursive crawl. It is created at
// kickoff, mutated by any worker completing child jobs, and sealed once the
// kickoff fan-out finished and every child job reported done.
type Crawl struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	OriginURL         string          `json:"origin_url"`
	CrawlerOptions    CrawlerOptions  `json:"crawler_options"`
	ScrapeOptions     json.RawMessage `json:"scrape_options,omitempty"`
	CreatedAtEpochMs  int64           `json:"created_at_epoch_ms"`
	Cancelled         bool            `json:"cancelled,omitempty"`
	RobotsTxt         string          `json:"robots_txt,omitempty"`
	MaxConcurrency    int             `json:"max_concurrency,omitempty"` // 0 = unbounded
	ZeroDataRetention bool            `json:"zero_data_retention,omitempty"`
}

// EffectiveConcurrency returns the in-crawl admission cap. A configured
// delay forces sequential fetching regardless of MaxConcurrency.
func (c *Crawl) EffectiveConcurrency() int {
	if c.CrawlerOptions.Delay > 0 {
		return 1
	}
	return c.MaxConcurrency
}

// CrawlStatus is the rollup served by the status endpoint. CreditsUsed is -1
// when the done counter is unavailable; consumers treat negatives as unknown.
type CrawlStatus struct {
	Status      string `json:"status"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	CreditsUsed int64  `json:"credits_used"`
}
