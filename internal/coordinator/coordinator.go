package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/crawl"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
	"github.com/crawlspace-dev/crawlspace/internal/queue"
	"github.com/crawlspace-dev/crawlspace/internal/services/mapper"
	"github.com/crawlspace-dev/crawlspace/internal/services/robots"
	"github.com/crawlspace-dev/crawlspace/internal/services/sitemap"
)

func resultKey(jobID string) string { return "scrape_result:" + jobID }

// Options configures the lifecycle coordinator.
type Options struct {
	Workers           int
	JobTimeout        time.Duration
	RecordTTL         time.Duration
	PreviewRecordTTL  time.Duration
	DefaultCrawlLimit int
	DefaultTimeout    time.Duration
}

// Coordinator orchestrates admission, dispatch, and bookkeeping for scrape,
// crawl, and map requests. It is the only component that touches every
// other one; all cross-process state still flows through the gateway.
type Coordinator struct {
	store    interfaces.CoordStore
	sem      *queue.Semaphore
	waiting  *queue.WaitingQueue
	ready    *queue.ReadyQueue
	tracker  *crawl.Tracker
	engine   interfaces.ScrapeEngine
	robots   *robots.Service
	sitemaps *sitemap.Traverser
	mapper   *mapper.Mapper
	index    interfaces.DomainIndex
	tenants  interfaces.TenantSource
	logger   arbor.ILogger
	opts     Options

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(
	store interfaces.CoordStore,
	sem *queue.Semaphore,
	waiting *queue.WaitingQueue,
	ready *queue.ReadyQueue,
	tracker *crawl.Tracker,
	eng interfaces.ScrapeEngine,
	robotsSvc *robots.Service,
	traverser *sitemap.Traverser,
	mapSvc *mapper.Mapper,
	index interfaces.DomainIndex,
	tenants interfaces.TenantSource,
	opts Options,
	logger arbor.ILogger,
) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 60 * time.Second
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = 24 * time.Hour
	}
	if opts.PreviewRecordTTL <= 0 {
		opts.PreviewRecordTTL = time.Hour
	}
	if opts.DefaultCrawlLimit <= 0 {
		opts.DefaultCrawlLimit = 1000
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Coordinator{
		store:    store,
		sem:      sem,
		waiting:  waiting,
		ready:    ready,
		tracker:  tracker,
		engine:   eng,
		robots:   robotsSvc,
		sitemaps: traverser,
		mapper:   mapSvc,
		index:    index,
		tenants:  tenants,
		logger:   logger,
		opts:     opts,
	}
}

// ScrapeRequest is one synchronous scrape invocation.
type ScrapeRequest struct {
	URL     string          `json:"url" validate:"required,url"`
	Options json.RawMessage `json:"options,omitempty"`
	Timeout time.Duration   `json:"-"`
}

// Scrape admits the request against the tenant's concurrency budget and
// dispatches it to the engine. Two thirds of the request budget go to the
// fetch, leaving headroom for admission.
func (c *Coordinator) Scrape(ctx context.Context, tenantID string, req ScrapeRequest) (*models.Document, error) {
	tenant, err := c.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}

	normalized, err := common.NormalizeURL(req.URL, false)
	if err != nil {
		return nil, models.NewTransportError(models.ErrCodeBadRequest, http.StatusBadRequest, err.Error())
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	scrapeBudget := timeout * 2 / 3
	jobID := common.NewJobID()

	var doc *models.Document
	err = c.sem.With(ctx, tenantID, jobID, tenant.ConcurrencyLimit, timeout, func(ctx context.Context, limited bool) error {
		if limited {
			c.logger.Debug().Str("job_id", jobID).Str("tenant_id", tenantID).Msg("Scrape was briefly limited before admission")
		}
		d, err := c.engine.Scrape(ctx, interfaces.EngineRequest{
			URL:     normalized,
			Timeout: scrapeBudget,
		})
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !tenant.ZeroDataRetention() {
		go c.recordDocument(doc)
	}
	go c.logUsage(tenantID, jobID, doc)
	return doc, nil
}

// recordDocument feeds a successful scrape into the domain index. Runs as a
// fire-and-forget sidecar; failures are logged and never affect a response.
func (c *Coordinator) recordDocument(doc *models.Document) {
	if doc == nil || !doc.Success || c.index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	target := doc.ResolvedURL
	if target == "" {
		target = doc.URL
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return
	}
	entry := interfaces.IndexEntry{
		URL:         target,
		Domain:      parsed.Hostname(),
		Path:        parsed.Path,
		Title:       doc.Title,
		Description: doc.Description,
		LastSeen:    time.Now(),
	}
	if err := c.index.Record(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("url", target).Msg("Index record failed")
	}
}

func (c *Coordinator) logUsage(tenantID, jobID string, doc *models.Document) {
	event := map[string]interface{}{
		"tenant_id": tenantID,
		"job_id":    jobID,
		"at":        time.Now().UnixMilli(),
	}
	if doc != nil {
		event["status_code"] = doc.StatusCode
		event["success"] = doc.Success
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Publish(ctx, "billing_events", string(payload)); err != nil {
		c.logger.Debug().Err(err).Str("job_id", jobID).Msg("Billing event publish failed")
	}
}

// Map runs the map pipeline for a tenant.
func (c *Coordinator) Map(ctx context.Context, tenantID string, req mapper.Request) (*mapper.Result, error) {
	if _, err := c.tenants.Lookup(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}
	if _, err := common.NormalizeURL(req.URL, false); err != nil {
		return nil, models.NewTransportError(models.ErrCodeBadRequest, http.StatusBadRequest, err.Error())
	}
	result, err := c.mapper.Map(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, models.ErrMapTimeout("map request timed out")
		}
		return nil, err
	}
	return result, nil
}

// storeResult persists the outcome of a crawl child job for the status
// endpoint. Skipped entirely for zero-data-retention crawls.
func (c *Coordinator) storeResult(ctx context.Context, jobID string, doc *models.Document, ttl time.Duration) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, resultKey(jobID), string(payload), ttl); err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist scrape result")
	}
}

func (c *Coordinator) insertReady(ctx context.Context, job models.QueuedJob) (bool, error) {
	return c.ready.Insert(ctx, job)
}
