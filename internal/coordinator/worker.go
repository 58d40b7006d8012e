package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// Start launches the worker pool draining the ready queue. Workers survive
// until Stop.
func (c *Coordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, i)
	}
	c.logger.Info().Int("workers", c.opts.Workers).Msg("Worker pool started")
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) workerLoop(ctx context.Context, id int) {
	defer c.wg.Done()
	notify, cancelSub := c.ready.Notifications()
	defer cancelSub()

	for {
		job, err := c.ready.WaitPop(ctx, notify, 500*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Int("worker", id).Msg("Ready-queue pop failed")
			continue
		}
		c.process(ctx, job)
	}
}

// process runs one promoted crawl child: admission under the tenant
// semaphore, robots gate, engine dispatch, result bookkeeping, then the
// completion hook that backfills freed capacity.
func (c *Coordinator) process(ctx context.Context, queued *models.QueuedJob) {
	var job models.ScrapeJob
	if err := json.Unmarshal(queued.Payload, &job); err != nil {
		c.logger.Warn().Err(err).Str("job_id", queued.JobID).Msg("Dropping job with undecodable payload")
		return
	}

	record, err := c.tracker.GetCrawl(ctx, job.CrawlID)
	if err != nil || record == nil {
		c.logger.Warn().Err(err).Str("crawl_id", job.CrawlID).Str("job_id", job.JobID).
			Msg("Crawl record gone, dropping job")
		c.waiting.ReleaseCrawlLease(ctx, job.CrawlID, job.JobID)
		return
	}
	tenant, err := c.tenants.Lookup(ctx, job.TenantID)
	if err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", job.TenantID).Msg("Tenant lookup failed, dropping job")
		c.waiting.ReleaseCrawlLease(ctx, job.CrawlID, job.JobID)
		return
	}

	if record.Cancelled {
		c.finishJob(ctx, record, tenant, job, nil, false)
		return
	}

	var doc *models.Document
	blocked := false
	err = c.sem.With(ctx, job.TenantID, job.JobID, tenant.ConcurrencyLimit, c.opts.JobTimeout, func(ctx context.Context, limited bool) error {
		if delay := record.CrawlerOptions.Delay; delay > 0 {
			timer := time.NewTimer(time.Duration(delay * float64(time.Second)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		ignoreRobots := record.CrawlerOptions.IgnoreRobotsTxt || tenant.IgnoreRobots()
		policy := c.robots.FromCached(record.OriginURL, record.RobotsTxt, ignoreRobots)
		if !policy.IsAllowed(job.NormalizedURL) {
			blocked = true
			if err := c.tracker.AddRobotsBlocked(ctx, record.ID, job.NormalizedURL); err != nil {
				c.logger.Debug().Err(err).Str("crawl_id", record.ID).Msg("Failed to record robots block")
			}
			return nil
		}

		budget := time.Duration(job.TimeoutMs) * time.Millisecond * 2 / 3
		d, err := c.engine.Scrape(ctx, interfaces.EngineRequest{
			URL:     job.NormalizedURL,
			Timeout: budget,
		})
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).
			Str("job_id", job.JobID).
			Str("crawl_id", record.ID).
			Str("url", job.NormalizedURL).
			Msg("Crawl child failed")
		doc = failureDocument(job, err)
	}

	success := err == nil && !blocked && doc != nil && doc.Success
	if success {
		c.discoverLinks(ctx, record, tenant, job, doc)
	}
	c.finishJob(ctx, record, tenant, job, doc, success)
}

// finishJob persists the outcome, marks completion, releases leases, and
// backfills freed capacity from the waiting queue.
func (c *Coordinator) finishJob(ctx context.Context, record *models.Crawl, tenant *models.TenantView, job models.ScrapeJob, doc *models.Document, success bool) {
	if doc != nil && !record.ZeroDataRetention {
		c.storeResult(ctx, job.JobID, doc, c.opts.RecordTTL)
		if success {
			go c.recordDocument(doc)
		}
	}
	if success {
		if _, err := c.tracker.AddCredits(ctx, record.ID, 1); err != nil {
			c.logger.Debug().Err(err).Str("crawl_id", record.ID).Msg("Credit bump failed")
		}
	}
	if err := c.tracker.MarkDone(ctx, record.ID, job.JobID, success); err != nil {
		c.logger.Warn().Err(err).Str("crawl_id", record.ID).Str("job_id", job.JobID).Msg("Mark done failed")
	}
	c.waiting.OnJobDone(ctx, job.TenantID, job.JobID, record.ID, tenant.ConcurrencyLimit, c.insertReady)
	c.maybeSeal(ctx, record.ID, record.TenantID)
}

// discoverLinks feeds a successful child's outbound links back into the
// crawl, bounded by depth.
func (c *Coordinator) discoverLinks(ctx context.Context, record *models.Crawl, tenant *models.TenantView, job models.ScrapeJob, doc *models.Document) {
	maxDepth := record.CrawlerOptions.MaxDepth
	if maxDepth > 0 && job.Depth >= maxDepth {
		return
	}
	for _, link := range doc.Links {
		if ctx.Err() != nil {
			return
		}
		c.admitChild(ctx, record, tenant, link, job.Depth+1)
	}
}

func failureDocument(job models.ScrapeJob, err error) *models.Document {
	doc := &models.Document{
		URL:       job.NormalizedURL,
		Success:   false,
		FetchedAt: time.Now(),
	}
	if terr, ok := models.AsTransportError(err); ok {
		doc.Error = string(terr.Code)
		doc.StatusCode = terr.Status
	} else {
		doc.Error = err.Error()
	}
	return doc
}
