package queue

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

const (
	scriptSemAcquire   = "sem_acquire"
	scriptSemHeartbeat = "sem_heartbeat"

	acquireBackoffBase = 25 * time.Millisecond
	acquireBackoffMax  = 250 * time.Millisecond
)

// SemKey returns the lease sorted-set key for a tenant.
func SemKey(tenantID string) string { return "sem:" + tenantID }

// CrawlSemKey returns the lease sorted-set key bounding in-crawl concurrency.
func CrawlSemKey(crawlID string) string { return "sem:crawl:" + crawlID }

// Semaphore is the distributed per-tenant concurrency gate. Leases live in a
// sorted set scored by expiry; acquisition, heartbeat and reclaim run as
// atomic scripts so no client ever observes a partially applied step.
type Semaphore struct {
	store      interfaces.CoordStore
	logger     arbor.ILogger
	ttl        time.Duration
	selfHosted bool
}

// NewSemaphore creates the semaphore and registers its scripts.
func NewSemaphore(store interfaces.CoordStore, ttl time.Duration, selfHosted bool, logger arbor.ILogger) *Semaphore {
	s := &Semaphore{
		store:      store,
		logger:     logger,
		ttl:        ttl,
		selfHosted: selfHosted,
	}
	store.RegisterScript(scriptSemAcquire, acquireScript)
	store.RegisterScript(scriptSemHeartbeat, heartbeatScript)
	return s
}

// acquireScript: keys=[semKey], args=[holderID, limit, ttlMs].
// Returns [granted, count, removed]. Expired leases are reclaimed first so a
// crashed holder never wedges a tenant's budget.
func acquireScript(tx interfaces.ScriptTx, nowMs int64, keys, args []string) ([]string, error) {
	key := keys[0]
	holder := args[0]
	limit, _ := strconv.Atoi(args[1])
	ttlMs, _ := strconv.ParseInt(args[2], 10, 64)

	z, err := tx.ZGet(key)
	if err != nil {
		return nil, err
	}

	removed := 0
	for member, expiry := range z {
		if expiry < nowMs {
			delete(z, member)
			removed++
		}
	}

	if len(z) >= limit {
		if removed > 0 {
			if err := tx.ZPut(key, z, 0); err != nil {
				return nil, err
			}
		}
		return []string{"0", strconv.Itoa(len(z)), strconv.Itoa(removed)}, nil
	}

	z[holder] = nowMs + ttlMs
	if err := tx.ZPut(key, z, 0); err != nil {
		return nil, err
	}
	return []string{"1", strconv.Itoa(len(z)), strconv.Itoa(removed)}, nil
}

// heartbeatScript: keys=[semKey], args=[holderID, ttlMs]. Only refreshes a
// lease that is still present; a reclaimed holder gets "0" and must abort.
func heartbeatScript(tx interfaces.ScriptTx, nowMs int64, keys, args []string) ([]string, error) {
	key := keys[0]
	holder := args[0]
	ttlMs, _ := strconv.ParseInt(args[1], 10, 64)

	z, err := tx.ZGet(key)
	if err != nil {
		return nil, err
	}
	expiry, ok := z[holder]
	if !ok || expiry < nowMs {
		return []string{"0"}, nil
	}
	z[holder] = nowMs + ttlMs
	if err := tx.ZPut(key, z, 0); err != nil {
		return nil, err
	}
	return []string{"1"}, nil
}

// Acquire attempts to take one lease. Returns whether it was granted, the
// lease count after the call, and how many expired leases were reclaimed.
func (s *Semaphore) Acquire(ctx context.Context, tenantID, holderID string, limit int) (granted bool, count, removed int, err error) {
	result, err := s.store.RunScript(ctx, scriptSemAcquire,
		[]string{SemKey(tenantID)},
		[]string{holderID, strconv.Itoa(limit), strconv.FormatInt(s.ttl.Milliseconds(), 10)})
	if err != nil {
		return false, 0, 0, err
	}
	granted = result[0] == "1"
	count, _ = strconv.Atoi(result[1])
	removed, _ = strconv.Atoi(result[2])
	if removed > 0 {
		expiredLeases.Add(float64(removed))
	}
	return granted, count, removed, nil
}

// Heartbeat refreshes a held lease. A false return means the lease expired
// and was reclaimed; the holder no longer owns its slot.
func (s *Semaphore) Heartbeat(ctx context.Context, tenantID, holderID string) (bool, error) {
	result, err := s.store.RunScript(ctx, scriptSemHeartbeat,
		[]string{SemKey(tenantID)},
		[]string{holderID, strconv.FormatInt(s.ttl.Milliseconds(), 10)})
	if err != nil {
		return false, err
	}
	return result[0] == "1", nil
}

// Release drops a lease. Best-effort: releasing an already-reclaimed lease
// is not an error.
func (s *Semaphore) Release(ctx context.Context, tenantID, holderID string) error {
	_, err := s.store.ZRem(ctx, SemKey(tenantID), holderID)
	return err
}

// ActiveCount prunes expired leases and returns the live lease count.
func (s *Semaphore) ActiveCount(ctx context.Context, tenantID string) (int, error) {
	now := time.Now().UnixMilli()
	if _, err := s.store.ZRemRangeByScore(ctx, SemKey(tenantID), 0, now-1); err != nil {
		return 0, err
	}
	return s.store.ZCard(ctx, SemKey(tenantID))
}

// TTL exposes the lease TTL so callers can align crawl-lease scoring.
func (s *Semaphore) TTL() time.Duration { return s.ttl }

// With runs fn under a tenant lease: blocking acquire with jittered backoff
// until timeout, heartbeat at TTL/2 while fn runs, guaranteed release on
// every path. fn receives limited=true when any acquire attempt was refused
// before the grant. In self-hosted mode the gate is bypassed entirely.
func (s *Semaphore) With(ctx context.Context, tenantID, holderID string, limit int, timeout time.Duration, fn func(ctx context.Context, limited bool) error) error {
	if s.selfHosted {
		return fn(ctx, false)
	}
	if limit <= 0 {
		return models.NewTransportError(models.ErrCodeCrawlDenial, http.StatusForbidden,
			"tenant has no concurrency budget")
	}

	started := time.Now()
	deadline := started.Add(timeout)
	limited := false
	backoff := acquireBackoffBase

	for {
		granted, _, _, err := s.Acquire(ctx, tenantID, holderID, limit)
		if err != nil {
			// Fail fast rather than hang when the store is unreachable.
			s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Semaphore acquire failed")
			return models.ErrScrapeTimeout("concurrency gate unavailable")
		}
		if granted {
			break
		}
		limited = true

		now := time.Now()
		if now.After(deadline) {
			return models.ErrScrapeTimeout("timed out waiting for concurrency slot")
		}

		// +-25% jitter around the current backoff, capped at the max.
		sleep := backoff + time.Duration((rand.Float64()-0.5)*0.5*float64(backoff))
		if remaining := deadline.Sub(now); sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.ErrScrapeTimeout("request cancelled while waiting for concurrency slot")
		case <-timer.C:
		}
		if backoff *= 2; backoff > acquireBackoffMax {
			backoff = acquireBackoffMax
		}
	}

	acquireDuration.Observe(time.Since(started).Seconds())
	activeLeases.WithLabelValues(tenantID).Inc()
	heldAt := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatLost := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(s.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				ok, err := s.Heartbeat(runCtx, tenantID, holderID)
				if err != nil {
					if runCtx.Err() != nil {
						return
					}
					s.logger.Warn().Err(err).Str("holder_id", holderID).Msg("Semaphore heartbeat error")
					continue
				}
				if !ok {
					s.logger.Warn().
						Str("tenant_id", tenantID).
						Str("holder_id", holderID).
						Msg("Semaphore lease reclaimed, aborting holder")
					close(heartbeatLost)
					cancel()
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		<-heartbeatDone
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if err := s.Release(releaseCtx, tenantID, holderID); err != nil {
			s.logger.Warn().Err(err).Str("holder_id", holderID).Msg("Semaphore release failed")
		}
		activeLeases.WithLabelValues(tenantID).Dec()
		holdDuration.Observe(time.Since(heldAt).Seconds())
	}()

	err := fn(runCtx, limited)

	select {
	case <-heartbeatLost:
		return models.ErrScrapeTimeout("lease lost during execution")
	default:
	}
	if err != nil && runCtx.Err() != nil && ctx.Err() != nil {
		// The caller's deadline fired while fn was in flight.
		return models.ErrScrapeTimeout("request deadline exceeded")
	}
	return err
}
