package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/config"
)

type Queue interface {
	PendingCount(ctx context.Context) (int64, error)
	FailedCount(ctx context.Context) (int64, error)
	PurgeFailed(ctx context.Context) (int, error)
}

type Gauges interface {
	SetQueueDepth(pending, failed int64)
}

const jobTimeout = 30 * time.Second

type Scheduler struct {
	cron   *cron.Cron
	queue  Queue
	gauges Gauges
	cfg    config.JobsConfig
	log    zerolog.Logger
}

func NewScheduler(queue Queue, gauges Gauges, cfg config.JobsConfig, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:   c,
		queue:  queue,
		gauges: gauges,
		cfg:    cfg,
		log:    log.With().Str("component", "jobs").Logger(),
	}
}

// Start registers the configured jobs. An empty spec disables a job.
func (s *Scheduler) Start() error {
	if s.queue == nil {
		return nil
	}

	if s.cfg.PurgeFailedSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.PurgeFailedSpec, s.purgeFailed); err != nil {
			return fmt.Errorf("schedule purge: %w", err)
		}
	}
	if s.cfg.QueueStatsSpec != "" && s.gauges != nil {
		if _, err := s.cron.AddFunc(s.cfg.QueueStatsSpec, s.recordQueueDepth); err != nil {
			return fmt.Errorf("schedule queue stats: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) purgeFailed() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.queue.PurgeFailed(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("purge failed tasks")
		return
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("purged failed tasks")
	}
}

func (s *Scheduler) recordQueueDepth() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	pending, err := s.queue.PendingCount(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("count pending tasks")
		return
	}
	failed, err := s.queue.FailedCount(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("count failed tasks")
		return
	}
	s.gauges.SetQueueDepth(pending, failed)
}
