package queue

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

const (
	readyQueueKey  = "jobs_ready"
	scriptReadyPop = "ready_pop"

	readyNotifyChannel = "jobs_ready_notify"
)

// ReadyQueue holds admitted jobs awaiting a worker, ordered by priority.
// Jobs with equal priority drain in id order, which is time order for the
// v7 ids the service mints.
type ReadyQueue struct {
	store  interfaces.CoordStore
	logger arbor.ILogger
}

// NewReadyQueue creates the ready queue and registers its pop script.
func NewReadyQueue(store interfaces.CoordStore, logger arbor.ILogger) *ReadyQueue {
	r := &ReadyQueue{store: store, logger: logger}
	store.RegisterScript(scriptReadyPop, popScript)
	return r
}

// popScript atomically removes and returns the highest-priority member so
// two workers can never drain the same job.
func popScript(tx interfaces.ScriptTx, nowMs int64, keys, args []string) ([]string, error) {
	entries, err := tx.ZGet(keys[0])
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []string{}, nil
	}

	members := make([]string, 0, len(entries))
	for member := range entries {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		if entries[members[i]] != entries[members[j]] {
			return entries[members[i]] < entries[members[j]]
		}
		return members[i] < members[j]
	})

	head := members[0]
	delete(entries, head)
	if err := tx.ZPut(keys[0], entries, 0); err != nil {
		return nil, err
	}
	return []string{head}, nil
}

// Insert adds a job keyed by priority. Returns false when the exact job is
// already queued.
func (r *ReadyQueue) Insert(ctx context.Context, job models.QueuedJob) (bool, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	added, err := r.store.ZAdd(ctx, readyQueueKey, int64(job.Priority), string(payload))
	if err != nil {
		return false, err
	}
	if added == 1 {
		r.store.Publish(ctx, readyNotifyChannel, job.JobID)
	}
	return added == 1, nil
}

// Pop removes and returns the next job, or nil when the queue is empty.
func (r *ReadyQueue) Pop(ctx context.Context) (*models.QueuedJob, error) {
	out, err := r.store.RunScript(ctx, scriptReadyPop, []string{readyQueueKey}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	var job models.QueuedJob
	if err := json.Unmarshal([]byte(out[0]), &job); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping undecodable ready-queue entry")
		return nil, nil
	}
	return &job, nil
}

// Len reports the number of queued jobs.
func (r *ReadyQueue) Len(ctx context.Context) (int, error) {
	return r.store.ZCard(ctx, readyQueueKey)
}

// Notifications subscribes to insert events so idle workers wake without
// polling. The returned cancel must be called on shutdown.
func (r *ReadyQueue) Notifications() (<-chan string, func()) {
	return r.store.Subscribe(readyNotifyChannel)
}

// WaitPop blocks until a job is available, polling as a fallback in case a
// notification was dropped for a slow consumer.
func (r *ReadyQueue) WaitPop(ctx context.Context, notify <-chan string, pollEvery time.Duration) (*models.QueuedJob, error) {
	for {
		job, err := r.Pop(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		timer := time.NewTimer(pollEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}
