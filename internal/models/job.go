package models

import (
	"encoding/json"
	"time"
)

// ScrapeJob is an immutable descriptor for one unit of scraping work.
// JobID is a v7 UUID so ids sort by submission time.
type ScrapeJob struct {
	JobID         string          `json:"job_id"`
	TenantID      string          `json:"tenant_id"`
	URL           string          `json:"url"`
	NormalizedURL string          `json:"normalized_url"`
	Priority      int             `json:"priority"`
	CreatedAt     time.Time       `json:"created_at"`
	Options       json.RawMessage `json:"options,omitempty"`
	CrawlID       string          `json:"crawl_id,omitempty"`
	Depth         int             `json:"depth,omitempty"`
	TimeoutMs     int64           `json:"timeout_ms"`
}

// QueuedJob is the serialized form held in a tenant waiting queue. The score
// of the entry is DeadlineEpochMs; entries past their deadline are garbage.
type QueuedJob struct {
	JobID           string          `json:"job_id"`
	TenantID        string          `json:"tenant_id"`
	Priority        int             `json:"priority"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	DeadlineEpochMs int64           `json:"deadline_epoch_ms"`
	Listenable      bool            `json:"listenable"`
	CrawlID         string          `json:"crawl_id,omitempty"`
}

// Expired reports whether the queued entry is past its deadline.
func (q *QueuedJob) Expired(now time.Time) bool {
	return q.DeadlineEpochMs < now.UnixMilli()
}
