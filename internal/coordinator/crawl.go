package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// CrawlRequest kicks off one recursive crawl.
type CrawlRequest struct {
	URL            string                `json:"url" validate:"required,url"`
	CrawlerOptions models.CrawlerOptions `json:"crawler_options"`
	ScrapeOptions  json.RawMessage       `json:"scrape_options,omitempty"`
	MaxConcurrency int                   `json:"max_concurrency,omitempty"`
}

// StartCrawl creates the crawl record, fetches robots, admits the origin
// URL, and hands sitemap fan-out to a background task. Returns the crawl id
// immediately.
func (c *Coordinator) StartCrawl(ctx context.Context, tenantID string, req CrawlRequest) (string, error) {
	tenant, err := c.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if tenant.ConcurrencyLimit <= 0 {
		return "", models.NewTransportError(models.ErrCodeCrawlDenial, http.StatusForbidden,
			"tenant has no crawl capacity")
	}

	origin, err := common.NormalizeURL(req.URL, req.CrawlerOptions.IgnoreQueryParameters)
	if err != nil {
		return "", models.NewTransportError(models.ErrCodeBadRequest, http.StatusBadRequest, err.Error())
	}

	opts := req.CrawlerOptions
	if opts.Limit <= 0 {
		opts.Limit = c.opts.DefaultCrawlLimit
	}
	ignoreRobots := opts.IgnoreRobotsTxt || tenant.IgnoreRobots()

	policy, err := c.robots.ForSite(ctx, origin, ignoreRobots)
	if err != nil {
		policy = c.robots.FromCached(origin, "", ignoreRobots)
	}

	record := &models.Crawl{
		ID:                common.NewCrawlID(),
		TenantID:          tenantID,
		OriginURL:         origin,
		CrawlerOptions:    opts,
		ScrapeOptions:     req.ScrapeOptions,
		CreatedAtEpochMs:  time.Now().UnixMilli(),
		RobotsTxt:         policy.Raw(),
		MaxConcurrency:    req.MaxConcurrency,
		ZeroDataRetention: tenant.ZeroDataRetention(),
	}
	ttl := c.opts.RecordTTL
	if tenant.IsPreview() {
		ttl = c.opts.PreviewRecordTTL
	}
	if err := c.tracker.Create(ctx, record, ttl); err != nil {
		return "", err
	}

	accepted, err := c.tracker.LockURL(ctx, record, origin)
	if err != nil {
		return "", err
	}
	if accepted {
		if err := c.enqueueChild(ctx, record, tenant, origin, 0); err != nil {
			return "", err
		}
	}

	c.wg.Add(1)
	go c.kickoff(record, tenant, policy.Sitemaps())
	return record.ID, nil
}

// kickoff runs the sitemap fan-out and marks the initial discovery phase
// finished. A crawl can only seal after this sets the kickoff marker.
func (c *Coordinator) kickoff(record *models.Crawl, tenant *models.TenantView, declaredSitemaps []string) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if !record.CrawlerOptions.IgnoreSitemap {
		handler := func(urls []string) int {
			added := 0
			for _, u := range urls {
				if ctx.Err() != nil {
					break
				}
				if c.admitChild(ctx, record, tenant, u, 0) {
					added++
				}
			}
			return added
		}
		c.sitemaps.TryGetSitemap(ctx, record.OriginURL, declaredSitemaps, handler)
	}

	if err := c.tracker.FinishKickoff(ctx, record.ID); err != nil {
		c.logger.Warn().Err(err).Str("crawl_id", record.ID).Msg("Failed to mark kickoff finished")
	}
	c.maybeSeal(ctx, record.ID, record.TenantID)
}

// admitChild filters, locks, and enqueues one discovered URL. Returns true
// when the URL entered the crawl.
func (c *Coordinator) admitChild(ctx context.Context, record *models.Crawl, tenant *models.TenantView, rawURL string, depth int) bool {
	if !c.linkAllowed(record, rawURL) {
		return false
	}
	accepted, err := c.tracker.LockURL(ctx, record, rawURL)
	if err != nil {
		c.logger.Warn().Err(err).Str("crawl_id", record.ID).Msg("URL lock failed")
		return false
	}
	if !accepted {
		return false
	}
	if err := c.enqueueChild(ctx, record, tenant, rawURL, depth); err != nil {
		c.logger.Warn().Err(err).Str("crawl_id", record.ID).Str("url", rawURL).Msg("Child enqueue failed")
		return false
	}
	return true
}

// linkAllowed applies the crawl's domain and path rules.
func (c *Coordinator) linkAllowed(record *models.Crawl, rawURL string) bool {
	if !common.SameDomain(record.OriginURL, rawURL) {
		return false
	}
	if !record.CrawlerOptions.AllowSubdomains && !common.SameSubdomain(record.OriginURL, rawURL) {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := parsed.Path
	if len(record.CrawlerOptions.IncludePaths) > 0 {
		matched := false
		for _, pattern := range record.CrawlerOptions.IncludePaths {
			if ok, err := regexp.MatchString(pattern, path); err == nil && ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pattern := range record.CrawlerOptions.ExcludePaths {
		if ok, err := regexp.MatchString(pattern, path); err == nil && ok {
			return false
		}
	}
	return true
}

// enqueueChild registers a child job on the crawl, parks it in the tenant
// waiting queue, and kicks promotion so free capacity picks it up at once.
func (c *Coordinator) enqueueChild(ctx context.Context, record *models.Crawl, tenant *models.TenantView, rawURL string, depth int) error {
	normalized, err := common.NormalizeURL(rawURL, record.CrawlerOptions.IgnoreQueryParameters)
	if err != nil {
		return err
	}

	job := models.ScrapeJob{
		JobID:         common.NewJobID(),
		TenantID:      record.TenantID,
		URL:           rawURL,
		NormalizedURL: normalized,
		CreatedAt:     time.Now(),
		Options:       record.ScrapeOptions,
		CrawlID:       record.ID,
		Depth:         depth,
		TimeoutMs:     c.opts.JobTimeout.Milliseconds(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	if err := c.tracker.AddJob(ctx, record.ID, job.JobID); err != nil {
		return err
	}
	queued := models.QueuedJob{
		JobID:      job.JobID,
		TenantID:   record.TenantID,
		Priority:   job.Priority,
		Payload:    payload,
		Listenable: true,
		CrawlID:    record.ID,
	}
	if err := c.waiting.Enqueue(ctx, queued, c.opts.RecordTTL); err != nil {
		return err
	}
	c.waiting.PromoteUpTo(ctx, record.TenantID, tenant.ConcurrencyLimit, c.insertReady)
	return nil
}

// CancelCrawl flips the crawl to cancelled. In-flight jobs finish; queued
// ones drain without dispatch.
func (c *Coordinator) CancelCrawl(ctx context.Context, crawlID string) error {
	return c.tracker.Cancel(ctx, crawlID)
}

// StatusPage is one page of crawl status.
type StatusPage struct {
	Status      string             `json:"status"`
	Completed   int                `json:"completed"`
	Total       int                `json:"total"`
	CreditsUsed int64              `json:"credits_used"`
	Next        string             `json:"next,omitempty"`
	Data        []*models.Document `json:"data"`
	Warning     string             `json:"warning,omitempty"`
}

// GetCrawlStatus returns the rollup plus a page of completed documents in
// completion order.
func (c *Coordinator) GetCrawlStatus(ctx context.Context, crawlID string, skip, limit int) (*StatusPage, error) {
	status, err := c.tracker.Status(ctx, crawlID)
	if err != nil {
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			return nil, models.NewTransportError(models.ErrCodeBadRequest, http.StatusNotFound, "Job not found")
		}
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	ids, err := c.tracker.OrderedDone(ctx, crawlID, skip, skip+limit-1)
	if err != nil {
		return nil, err
	}
	page := &StatusPage{
		Status:      status.Status,
		Completed:   status.Completed,
		Total:       status.Total,
		CreditsUsed: status.CreditsUsed,
		Data:        make([]*models.Document, 0, len(ids)),
	}
	for _, jobID := range ids {
		raw, err := c.store.Get(ctx, resultKey(jobID))
		if err != nil {
			continue
		}
		var doc models.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		page.Data = append(page.Data, &doc)
	}
	if skip+limit < status.Completed {
		page.Next = "/v1/crawl/" + crawlID + "?skip=" + strconv.Itoa(skip+limit) + "&limit=" + strconv.Itoa(limit)
	}

	if blocked, err := c.tracker.RobotsBlocked(ctx, crawlID); err == nil && len(blocked) > 0 {
		page.Warning = strconv.Itoa(len(blocked)) + " URLs were blocked by robots.txt"
	}
	return page, nil
}

// maybeSeal seals the crawl once every registered job reported done and the
// kickoff fan-out finished.
func (c *Coordinator) maybeSeal(ctx context.Context, crawlID, tenantID string) {
	finished, err := c.tracker.IsFinished(ctx, crawlID)
	if err != nil || !finished {
		return
	}
	sealed, err := c.tracker.IsSealed(ctx, crawlID)
	if err != nil || sealed {
		return
	}
	if err := c.tracker.Seal(ctx, crawlID, tenantID); err != nil {
		c.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Crawl seal failed")
	}
}
