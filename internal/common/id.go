package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a time-ordered v7 UUID for a job. Job ids double as
// semaphore holder ids, so time ordering keeps lease sets scan-friendly.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.New().String()
	}
	return id.String()
}

// NewCrawlID generates an id for a crawl group.
func NewCrawlID() string {
	return NewJobID()
}
