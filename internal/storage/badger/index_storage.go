package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// IndexStorage implements the domain index on badgerhold: every
// successfully scraped URL is recorded and map queries read it back at the
// hostname and path-prefix split levels.
type IndexStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewIndexStorage creates a new IndexStorage instance
func NewIndexStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DomainIndex {
	return &IndexStorage{
		db:     db,
		logger: logger,
	}
}

// Record upserts an index entry keyed by URL.
func (s *IndexStorage) Record(ctx context.Context, entry interfaces.IndexEntry) error {
	if entry.URL == "" {
		return fmt.Errorf("index entry missing url")
	}
	if entry.LastSeen.IsZero() {
		entry.LastSeen = time.Now()
	}
	if err := s.db.Store().Upsert(entry.URL, &entry); err != nil {
		return fmt.Errorf("failed to record index entry: %w", err)
	}
	return nil
}

// QueryHost returns entries for one hostname seen since the given time.
func (s *IndexStorage) QueryHost(ctx context.Context, host string, since time.Time, limit int) ([]models.MapResult, error) {
	var entries []interfaces.IndexEntry
	query := badgerhold.Where("Domain").Eq(strings.ToLower(host)).
		And("LastSeen").Ge(since)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to query index by host: %w", err)
	}
	return toMapResults(entries), nil
}

// QueryPathPrefix returns entries for one hostname whose path sits under
// the given prefix, seen since the given time.
func (s *IndexStorage) QueryPathPrefix(ctx context.Context, host, prefix string, since time.Time, limit int) ([]models.MapResult, error) {
	var entries []interfaces.IndexEntry
	query := badgerhold.Where("Domain").Eq(strings.ToLower(host)).
		And("LastSeen").Ge(since).
		And("Path").MatchFunc(func(ra *badgerhold.RecordAccess) (bool, error) {
			path, ok := ra.Field().(string)
			if !ok {
				return false, nil
			}
			return strings.HasPrefix(path, prefix), nil
		})
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to query index by path prefix: %w", err)
	}
	return toMapResults(entries), nil
}

func toMapResults(entries []interfaces.IndexEntry) []models.MapResult {
	results := make([]models.MapResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, models.MapResult{
			URL:         e.URL,
			Title:       e.Title,
			Description: e.Description,
		})
	}
	return results
}
