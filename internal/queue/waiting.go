package queue

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

const (
	tenantsWithQueuesKey = "tenants_with_queues"

	promoteWarnIterations = 15
	promoteMaxIterations  = 100
	promoteScanCount      = 20
	promoteBackoffMax     = 300 * time.Millisecond
)

// QueueKey returns the waiting-queue sorted-set key for a tenant.
func QueueKey(tenantID string) string { return "queue:" + tenantID }

// CrawlSource resolves crawl records during promotion. A missing crawl
// (record expired mid-flight) is reported as nil with no error.
type CrawlSource interface {
	GetCrawl(ctx context.Context, crawlID string) (*models.Crawl, error)
}

// WaitingQueue holds jobs that failed admission, ordered by deadline, and
// promotes them as tenant capacity frees. Promotion applies the in-crawl
// sub-concurrency cap before a candidate may leave the queue.
type WaitingQueue struct {
	store     interfaces.CoordStore
	sem       *Semaphore
	crawls    CrawlSource
	logger    arbor.ILogger
	recordTTL time.Duration
}

// NewWaitingQueue creates the waiting queue over the coordination gateway.
func NewWaitingQueue(store interfaces.CoordStore, sem *Semaphore, crawls CrawlSource, recordTTL time.Duration, logger arbor.ILogger) *WaitingQueue {
	return &WaitingQueue{
		store:     store,
		sem:       sem,
		crawls:    crawls,
		logger:    logger,
		recordTTL: recordTTL,
	}
}

// Enqueue appends a job to its tenant's waiting queue with the given
// admission deadline and registers the tenant in the global queue set.
func (w *WaitingQueue) Enqueue(ctx context.Context, job models.QueuedJob, timeout time.Duration) error {
	if job.DeadlineEpochMs == 0 {
		job.DeadlineEpochMs = time.Now().Add(timeout).UnixMilli()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	key := QueueKey(job.TenantID)
	if _, err := w.store.ZAdd(ctx, key, job.DeadlineEpochMs, string(payload)); err != nil {
		return err
	}
	if _, err := w.store.SetAdd(ctx, tenantsWithQueuesKey, job.TenantID); err != nil {
		return err
	}
	return w.store.Expire(ctx, key, w.recordTTL)
}

// PromoteNext scans a tenant's waiting queue for the first candidate that
// clears its crawl sub-cap and atomically removes it. Losing the ZRem race
// to another promoter restarts the scan with randomized backoff; the loop
// warns after 15 iterations and bails after 100.
func (w *WaitingQueue) PromoteNext(ctx context.Context, tenantID string) (*models.QueuedJob, error) {
	key := QueueKey(tenantID)
	now := time.Now().UnixMilli()

	for iteration := 1; ; iteration++ {
		if iteration == promoteWarnIterations {
			w.logger.Warn().
				Str("tenant_id", tenantID).
				Int("iteration", iteration).
				Msg("Queue promotion contending for candidates")
		}
		if iteration > promoteMaxIterations {
			w.logger.Warn().
				Str("tenant_id", tenantID).
				Msg("Queue promotion exhausted retries, bailing")
			return nil, nil
		}

		raced := false
		var cursor uint64
		for {
			next, entries, err := w.store.ZScan(ctx, key, cursor, promoteScanCount)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				var job models.QueuedJob
				if err := json.Unmarshal([]byte(entry.Member), &job); err != nil {
					w.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Dropping undecodable queue entry")
					w.store.ZRem(ctx, key, entry.Member)
					continue
				}
				if entry.Score < now {
					// Stale entry past its admission deadline.
					w.store.ZRem(ctx, key, entry.Member)
					continue
				}
				if job.CrawlID != "" {
					ok, err := w.crawlHasCapacity(ctx, job.CrawlID)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
				}

				removed, err := w.store.ZRem(ctx, key, entry.Member)
				if err != nil {
					return nil, err
				}
				if removed == 0 {
					// Another promoter won this entry.
					raced = true
					continue
				}
				if job.CrawlID != "" {
					if err := w.takeCrawlLease(ctx, job.CrawlID, job.JobID); err != nil {
						w.logger.Warn().Err(err).Str("crawl_id", job.CrawlID).Msg("Failed to record crawl lease")
					}
				}
				promotedJobs.Inc()
				return &job, nil
			}
			if next == 0 {
				break
			}
			cursor = next
		}

		if !raced {
			return nil, nil
		}

		timer := time.NewTimer(time.Duration(rand.Int63n(int64(promoteBackoffMax))))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// crawlHasCapacity applies the sub-concurrency rule: a crawl with a delay
// runs one-at-a-time, one with MaxConcurrency honors it, anything else is
// uncapped. A crawl whose record has expired is treated as uncapped so its
// stragglers can drain.
func (w *WaitingQueue) crawlHasCapacity(ctx context.Context, crawlID string) (bool, error) {
	crawl, err := w.crawls.GetCrawl(ctx, crawlID)
	if err != nil {
		return false, err
	}
	if crawl == nil {
		return true, nil
	}
	cap := crawl.EffectiveConcurrency()
	if cap <= 0 {
		return true, nil
	}

	key := CrawlSemKey(crawlID)
	now := time.Now().UnixMilli()
	if _, err := w.store.ZRemRangeByScore(ctx, key, 0, now-1); err != nil {
		return false, err
	}
	count, err := w.store.ZCard(ctx, key)
	if err != nil {
		return false, err
	}
	return count < cap, nil
}

func (w *WaitingQueue) takeCrawlLease(ctx context.Context, crawlID, jobID string) error {
	key := CrawlSemKey(crawlID)
	expiry := time.Now().Add(w.sem.TTL()).UnixMilli()
	if _, err := w.store.ZAdd(ctx, key, expiry, jobID); err != nil {
		return err
	}
	return w.store.Expire(ctx, key, w.recordTTL)
}

// ReleaseCrawlLease drops a crawl-scoped lease.
func (w *WaitingQueue) ReleaseCrawlLease(ctx context.Context, crawlID, jobID string) error {
	_, err := w.store.ZRem(ctx, CrawlSemKey(crawlID), jobID)
	return err
}

// OnJobDone releases the tenant lease (and crawl lease, when the job
// belonged to a crawl) and backfills freed capacity by promoting waiting
// jobs into the ready queue, up to ten per completion.
func (w *WaitingQueue) OnJobDone(ctx context.Context, tenantID, holderID, crawlID string, limit int, insert func(context.Context, models.QueuedJob) (bool, error)) {
	if err := w.sem.Release(ctx, tenantID, holderID); err != nil {
		w.logger.Warn().Err(err).Str("holder_id", holderID).Msg("Lease release failed in onJobDone")
	}
	if crawlID != "" {
		if err := w.ReleaseCrawlLease(ctx, crawlID, holderID); err != nil {
			w.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Crawl lease release failed")
		}
	}

	w.PromoteUpTo(ctx, tenantID, limit, insert)
}

// PromoteUpTo promotes waiting jobs into the ready queue while the tenant
// has free capacity, at most ten per call. Also used to kick a tenant's
// queue after a burst of enqueues.
func (w *WaitingQueue) PromoteUpTo(ctx context.Context, tenantID string, limit int, insert func(context.Context, models.QueuedJob) (bool, error)) {
	for attempt := 0; attempt < 10; attempt++ {
		active, err := w.sem.ActiveCount(ctx, tenantID)
		if err != nil {
			w.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Active count failed during promotion")
			return
		}
		if active >= limit {
			return
		}

		job, err := w.PromoteNext(ctx, tenantID)
		if err != nil {
			w.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Promotion failed")
			return
		}
		if job == nil {
			return
		}

		inserted, err := insert(ctx, *job)
		if err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Ready-queue insert failed")
			return
		}
		if !inserted {
			w.logger.Warn().
				Str("job_id", job.JobID).
				Str("tenant_id", tenantID).
				Msg("Promoted job already present in ready queue")
			continue
		}
	}
}

// GCExpired drops waiting-queue entries past their deadline for every tenant
// registered in the global queue set, unregistering tenants whose queues
// emptied. Run periodically by maintenance.
func (w *WaitingQueue) GCExpired(ctx context.Context) error {
	tenants, err := w.store.SetMembers(ctx, tenantsWithQueuesKey)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, tenantID := range tenants {
		key := QueueKey(tenantID)
		removed, err := w.store.ZRemRangeByScore(ctx, key, 0, now-1)
		if err != nil {
			return err
		}
		card, err := w.store.ZCard(ctx, key)
		if err != nil {
			return err
		}
		if card == 0 {
			if _, err := w.store.SetRem(ctx, tenantsWithQueuesKey, tenantID); err != nil {
				return err
			}
		}
		if removed > 0 {
			w.logger.Debug().
				Str("tenant_id", tenantID).
				Int("removed", removed).
				Msg("Collected expired waiting-queue entries")
		}
	}
	return nil
}
