package maintenance

import (
	"context"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/queue"
)

// Service runs the periodic housekeeping sweeps: waiting-queue garbage
// collection and badger value-log compaction.
type Service struct {
	cron    *cron.Cron
	waiting *queue.WaitingQueue
	db      *badgerdb.DB
	logger  arbor.ILogger
}

func NewService(waiting *queue.WaitingQueue, db *badgerdb.DB, logger arbor.ILogger) *Service {
	return &Service{
		cron:    cron.New(),
		waiting: waiting,
		db:      db,
		logger:  logger,
	}
}

// Start schedules the sweep on the given cron expression.
func (s *Service) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Msg("Maintenance sweeps scheduled")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.waiting.GCExpired(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Waiting-queue sweep failed")
	}

	if s.db != nil {
		// Value-log GC returns ErrNoRewrite when there is nothing to do.
		if err := s.db.RunValueLogGC(0.5); err != nil && err != badgerdb.ErrNoRewrite {
			s.logger.Warn().Err(err).Msg("Badger value-log GC failed")
		}
	}
}
