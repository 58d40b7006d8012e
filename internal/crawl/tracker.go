package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

const (
	scriptLockURL    = "crawl_lock_url"
	scriptAddCredits = "crawl_add_credits"

	kickoffFinishValue = "yes"
	finishValue        = "yes"
)

func crawlKey(id string) string          { return "crawl:" + id }
func jobsKey(id string) string           { return "crawl:" + id + ":jobs" }
func jobsDoneKey(id string) string       { return "crawl:" + id + ":jobs_done" }
func orderedDoneKey(id string) string    { return "crawl:" + id + ":jobs_done_ordered" }
func visitedKey(id string) string        { return "crawl:" + id + ":visited" }
func visitedUniqueKey(id string) string  { return "crawl:" + id + ":visited_unique" }
func kickoffFinishKey(id string) string  { return "crawl:" + id + ":kickoff:finish" }
func finishKey(id string) string         { return "crawl:" + id + ":finish" }
func robotsBlockedKey(id string) string  { return "crawl:" + id + ":robots_blocked" }
func creditsKey(id string) string        { return "crawl:" + id + ":credits_used" }
func tenantCrawlsKey(tenant string) string { return "crawls_by_team_id:" + tenant }

// EventsChannel is the pub/sub channel carrying per-crawl progress events.
func EventsChannel(id string) string { return "crawl:" + id + ":events" }

// Event is one progress notification published as a crawl advances.
type Event struct {
	CrawlID string `json:"crawl_id"`
	JobID   string `json:"job_id,omitempty"`
	Type    string `json:"type"` // job_done, job_failed, cancelled, completed
}

// Tracker maintains the shared state of a crawl group: the crawl record,
// child job membership, completion sets, the visited dedup sets, and the
// sealed/kickoff markers. Any worker may mutate a crawl through it.
type Tracker struct {
	store     interfaces.CoordStore
	logger    arbor.ILogger
	recordTTL time.Duration
}

// NewTracker creates the tracker and registers its atomic scripts.
func NewTracker(store interfaces.CoordStore, recordTTL time.Duration, logger arbor.ILogger) *Tracker {
	t := &Tracker{store: store, logger: logger, recordTTL: recordTTL}
	store.RegisterScript(scriptLockURL, lockURLScript)
	store.RegisterScript(scriptAddCredits, addCreditsScript)
	return t
}

// lockURLScript admits one URL into a crawl. It enforces the unique-URL
// limit, marks every supplied variant visited, and accepts only when all
// variants were previously unseen.
//
// keys: visited, visited_unique
// args: limit, canonicalURL, ttlSeconds, variant...
func lockURLScript(tx interfaces.ScriptTx, nowMs int64, keys, args []string) ([]string, error) {
	limit, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid limit %q: %w", args[0], err)
	}
	canonical := args[1]
	ttlSecs, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ttl %q: %w", args[2], err)
	}
	ttl := time.Duration(ttlSecs) * time.Second

	unique, err := tx.SetMembers(keys[1])
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(unique) >= limit {
		return []string{"0"}, nil
	}

	visited, err := tx.SetMembers(keys[0])
	if err != nil {
		return nil, err
	}
	allNew := true
	for _, variant := range args[3:] {
		if _, seen := visited[variant]; seen {
			allNew = false
		}
		visited[variant] = struct{}{}
	}
	if err := tx.PutSetMembers(keys[0], visited, ttl); err != nil {
		return nil, err
	}
	if !allNew {
		return []string{"0"}, nil
	}

	unique[canonical] = struct{}{}
	if err := tx.PutSetMembers(keys[1], unique, ttl); err != nil {
		return nil, err
	}
	return []string{"1"}, nil
}

// addCreditsScript increments the crawl's credit counter.
//
// keys: credits_used; args: delta, ttlSeconds
func addCreditsScript(tx interfaces.ScriptTx, nowMs int64, keys, args []string) ([]string, error) {
	delta, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid delta %q: %w", args[0], err)
	}
	ttlSecs, _ := strconv.ParseInt(args[1], 10, 64)

	var current int64
	if raw, found, err := tx.Get(keys[0]); err != nil {
		return nil, err
	} else if found {
		current, _ = strconv.ParseInt(raw, 10, 64)
	}
	next := current + delta
	if err := tx.Set(keys[0], strconv.FormatInt(next, 10), time.Duration(ttlSecs)*time.Second); err != nil {
		return nil, err
	}
	return []string{strconv.FormatInt(next, 10)}, nil
}

// Create persists a new crawl record and registers it for its tenant. The
// ttl governs the whole key family; preview tenants get a shortened one.
func (t *Tracker) Create(ctx context.Context, crawl *models.Crawl, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = t.recordTTL
	}
	payload, err := json.Marshal(crawl)
	if err != nil {
		return fmt.Errorf("failed to serialize crawl: %w", err)
	}
	if err := t.store.Set(ctx, crawlKey(crawl.ID), string(payload), ttl); err != nil {
		return fmt.Errorf("failed to store crawl record: %w", err)
	}
	if _, err := t.store.SetAdd(ctx, tenantCrawlsKey(crawl.TenantID), crawl.ID); err != nil {
		return err
	}
	return t.store.Expire(ctx, tenantCrawlsKey(crawl.TenantID), ttl)
}

// GetCrawl loads a crawl record and refreshes its TTL. A missing or expired
// record returns nil with no error.
func (t *Tracker) GetCrawl(ctx context.Context, crawlID string) (*models.Crawl, error) {
	raw, err := t.store.Get(ctx, crawlKey(crawlID))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var crawl models.Crawl
	if err := json.Unmarshal([]byte(raw), &crawl); err != nil {
		return nil, fmt.Errorf("failed to decode crawl record: %w", err)
	}
	if err := t.store.Expire(ctx, crawlKey(crawlID), t.recordTTL); err != nil {
		t.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Failed to refresh crawl record TTL")
	}
	return &crawl, nil
}

func (t *Tracker) saveCrawl(ctx context.Context, crawl *models.Crawl) error {
	payload, err := json.Marshal(crawl)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, crawlKey(crawl.ID), string(payload), t.recordTTL)
}

// LockURL admits a URL into the crawl's visited sets. The URL is
// canonicalized first; with similar-URL deduplication enabled, every
// scheme/www/index variant must be unseen for the URL to be accepted.
func (t *Tracker) LockURL(ctx context.Context, crawl *models.Crawl, rawURL string) (bool, error) {
	canonical, err := common.NormalizeURL(rawURL, crawl.CrawlerOptions.IgnoreQueryParameters)
	if err != nil {
		return false, err
	}

	variants := []string{canonical}
	if crawl.CrawlerOptions.DeduplicateSimilarURLs {
		variants = common.URLPermutations(canonical)
	}

	args := make([]string, 0, len(variants)+3)
	args = append(args,
		strconv.Itoa(crawl.CrawlerOptions.Limit),
		canonical,
		strconv.FormatInt(int64(t.recordTTL.Seconds()), 10),
	)
	args = append(args, variants...)

	out, err := t.store.RunScript(ctx, scriptLockURL,
		[]string{visitedKey(crawl.ID), visitedUniqueKey(crawl.ID)}, args)
	if err != nil {
		return false, err
	}
	return len(out) > 0 && out[0] == "1", nil
}

// AddJob registers one child job in the crawl group.
func (t *Tracker) AddJob(ctx context.Context, crawlID, jobID string) error {
	return t.AddJobsBatch(ctx, crawlID, []string{jobID})
}

// AddJobsBatch registers child jobs in one write.
func (t *Tracker) AddJobsBatch(ctx context.Context, crawlID string, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	if _, err := t.store.SetAdd(ctx, jobsKey(crawlID), jobIDs...); err != nil {
		return fmt.Errorf("failed to register crawl jobs: %w", err)
	}
	return t.store.Expire(ctx, jobsKey(crawlID), t.recordTTL)
}

// MarkDone records a job completion. Successful jobs keep their completion
// order in the ordered list; failures evict any stale ordered entry. A
// sealed crawl ignores late completions.
func (t *Tracker) MarkDone(ctx context.Context, crawlID, jobID string, success bool) error {
	sealed, err := t.IsSealed(ctx, crawlID)
	if err != nil {
		return err
	}
	if sealed {
		t.logger.Warn().
			Str("crawl_id", crawlID).
			Str("job_id", jobID).
			Msg("Ignoring job completion on sealed crawl")
		return nil
	}

	if _, err := t.store.SetAdd(ctx, jobsDoneKey(crawlID), jobID); err != nil {
		return fmt.Errorf("failed to record job completion: %w", err)
	}
	if success {
		if err := t.store.ListPush(ctx, orderedDoneKey(crawlID), jobID); err != nil {
			return err
		}
	} else {
		if _, err := t.store.ListRem(ctx, orderedDoneKey(crawlID), jobID); err != nil {
			return err
		}
	}

	pipe := t.store.Pipeline()
	for _, key := range []string{
		crawlKey(crawlID), jobsKey(crawlID), jobsDoneKey(crawlID),
		orderedDoneKey(crawlID), visitedKey(crawlID), visitedUniqueKey(crawlID),
	} {
		pipe.Expire(key, t.recordTTL)
	}
	if err := pipe.Exec(ctx); err != nil {
		t.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Failed to refresh crawl TTLs")
	}

	eventType := "job_done"
	if !success {
		eventType = "job_failed"
	}
	t.publish(ctx, Event{CrawlID: crawlID, JobID: jobID, Type: eventType})
	return nil
}

// AddCredits bumps the crawl's credit counter and returns the new total.
func (t *Tracker) AddCredits(ctx context.Context, crawlID string, delta int64) (int64, error) {
	out, err := t.store.RunScript(ctx, scriptAddCredits,
		[]string{creditsKey(crawlID)},
		[]string{strconv.FormatInt(delta, 10), strconv.FormatInt(int64(t.recordTTL.Seconds()), 10)})
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(out[0], 10, 64)
}

// FinishKickoff marks the initial fan-out as complete. Until this is set a
// crawl can never be considered finished, whatever its job counts say.
func (t *Tracker) FinishKickoff(ctx context.Context, crawlID string) error {
	return t.store.Set(ctx, kickoffFinishKey(crawlID), kickoffFinishValue, t.recordTTL)
}

// IsFinished reports whether the kickoff completed and every registered job
// has reported done.
func (t *Tracker) IsFinished(ctx context.Context, crawlID string) (bool, error) {
	_, err := t.store.Get(ctx, kickoffFinishKey(crawlID))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	total, err := t.store.SetCard(ctx, jobsKey(crawlID))
	if err != nil {
		return false, err
	}
	done, err := t.store.SetCard(ctx, jobsDoneKey(crawlID))
	if err != nil {
		return false, err
	}
	return done >= total, nil
}

// IsSealed reports whether the crawl's finish marker is present.
func (t *Tracker) IsSealed(ctx context.Context, crawlID string) (bool, error) {
	_, err := t.store.Get(ctx, finishKey(crawlID))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Seal marks the crawl complete, unregisters it from its tenant, and drops
// the visited sets, which are the bulk of a crawl's footprint.
func (t *Tracker) Seal(ctx context.Context, crawlID, tenantID string) error {
	if err := t.store.Set(ctx, finishKey(crawlID), finishValue, t.recordTTL); err != nil {
		return fmt.Errorf("failed to seal crawl: %w", err)
	}
	if _, err := t.store.SetRem(ctx, tenantCrawlsKey(tenantID), crawlID); err != nil {
		t.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Failed to unregister sealed crawl")
	}
	if err := t.store.Del(ctx, visitedKey(crawlID), visitedUniqueKey(crawlID)); err != nil {
		t.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Failed to drop visited sets")
	}
	t.publish(ctx, Event{CrawlID: crawlID, Type: "completed"})
	return nil
}

// Cancel flips the crawl's cancelled flag. Workers consult it before
// dispatching and between child enqueues.
func (t *Tracker) Cancel(ctx context.Context, crawlID string) error {
	crawl, err := t.GetCrawl(ctx, crawlID)
	if err != nil {
		return err
	}
	if crawl == nil {
		return interfaces.ErrKeyNotFound
	}
	if crawl.Cancelled {
		return nil
	}
	crawl.Cancelled = true
	if err := t.saveCrawl(ctx, crawl); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}
	t.publish(ctx, Event{CrawlID: crawlID, Type: "cancelled"})
	return nil
}

// AddRobotsBlocked records a URL denied by robots policy so clients can see
// why parts of a site were skipped.
func (t *Tracker) AddRobotsBlocked(ctx context.Context, crawlID, url string) error {
	if _, err := t.store.SetAdd(ctx, robotsBlockedKey(crawlID), url); err != nil {
		return err
	}
	return t.store.Expire(ctx, robotsBlockedKey(crawlID), t.recordTTL)
}

// RobotsBlocked lists URLs denied by robots policy.
func (t *Tracker) RobotsBlocked(ctx context.Context, crawlID string) ([]string, error) {
	return t.store.SetMembers(ctx, robotsBlockedKey(crawlID))
}

// OrderedDone returns a page of successfully completed jobIds in completion
// order, redis-style inclusive range.
func (t *Tracker) OrderedDone(ctx context.Context, crawlID string, start, stop int) ([]string, error) {
	return t.store.ListRange(ctx, orderedDoneKey(crawlID), start, stop)
}

// CrawlsByTenant lists a tenant's active crawl ids.
func (t *Tracker) CrawlsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	return t.store.SetMembers(ctx, tenantCrawlsKey(tenantID))
}

// Status aggregates the crawl's counters into the rollup the status endpoint
// serves. A missing credit counter is reported as -1 rather than zero.
func (t *Tracker) Status(ctx context.Context, crawlID string) (*models.CrawlStatus, error) {
	crawl, err := t.GetCrawl(ctx, crawlID)
	if err != nil {
		return nil, err
	}
	if crawl == nil {
		return nil, interfaces.ErrKeyNotFound
	}

	completed, err := t.store.ListLen(ctx, orderedDoneKey(crawlID))
	if err != nil {
		return nil, err
	}
	total, err := t.store.SetCard(ctx, jobsKey(crawlID))
	if err != nil {
		return nil, err
	}

	credits := int64(-1)
	if raw, err := t.store.Get(ctx, creditsKey(crawlID)); err == nil {
		if parsed, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			credits = parsed
		}
	}

	status := models.CrawlStatusScraping
	switch {
	case crawl.Cancelled:
		status = models.CrawlStatusCancelled
	default:
		sealed, err := t.IsSealed(ctx, crawlID)
		if err != nil {
			return nil, err
		}
		if sealed {
			status = models.CrawlStatusCompleted
		} else if finished, err := t.IsFinished(ctx, crawlID); err == nil && finished && total > 0 {
			status = models.CrawlStatusCompleted
		}
	}

	return &models.CrawlStatus{
		Status:      status,
		Completed:   completed,
		Total:       total,
		CreditsUsed: credits,
	}, nil
}

func (t *Tracker) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := t.store.Publish(ctx, EventsChannel(ev.CrawlID), string(payload)); err != nil {
		t.logger.Debug().Err(err).Str("crawl_id", ev.CrawlID).Msg("Event publish failed")
	}
}
