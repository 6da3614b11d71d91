package jobs

import (
	"context"
	"time"

	"github.com/opsboard/opsboard-backend/pkg/config"
	"github.com/opsboard/opsboard-backend/pkg/logger"
)

// Worker polls the job queue and runs handlers. One worker processes its
// batch sequentially; horizontal scale comes from running more instances, and
// the optimistic claim keeps them from doubling up on a job.
type Worker struct {
	repo     *Repository
	handlers *Handlers
	config   config.WorkerConfig
	logger   *logger.Logger
}

// NewWorker creates a job worker.
func NewWorker(repo *Repository, handlers *Handlers, cfg config.WorkerConfig, log *logger.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	return &Worker{
		repo:     repo,
		handlers: handlers,
		config:   cfg,
		logger:   log.WithComponent("job-worker"),
	}
}

// Start runs the polling loop until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int("batch_size", w.config.BatchSize).
		Msg("job worker started")

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("job worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick runs one poll cycle: reclaim lapsed leases, then work through a batch.
func (w *Worker) tick(ctx context.Context) {
	reclaimed, err := w.repo.ReclaimExpired(ctx)
	if err != nil {
		w.logger.WithError(err).Error().Msg("failed to reclaim expired leases")
	} else if reclaimed > 0 {
		w.logger.Warn().Int64("count", reclaimed).Msg("reclaimed jobs with expired leases")
	}

	jobs, err := w.repo.FetchPending(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.WithError(err).Error().Msg("failed to fetch pending jobs")
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	claimed, err := w.repo.Claim(ctx, job.ID, w.config.LeaseDuration)
	if err != nil {
		w.logger.WithError(err).WithJobID(job.ID).Error().Msg("failed to claim job")
		return
	}
	if !claimed {
		// Another worker got there first.
		return
	}

	log := w.logger.WithJobID(job.ID).WithTenantID(job.TenantID)
	log.Info().Str("type", job.Type).Int("retries", job.Retries).Msg("processing job")

	result, err := w.handlers.Handle(ctx, job)
	if err != nil {
		log.WithError(err).Warn().Msg("job failed")
		if markErr := w.repo.MarkFailure(ctx, job, err, w.config.MaxRetries); markErr != nil {
			log.WithError(markErr).Error().Msg("failed to record job failure")
		}
		return
	}

	if err := w.repo.Complete(ctx, job.ID, result); err != nil {
		log.WithError(err).Error().Msg("failed to mark job completed")
		return
	}
	log.Info().Str("type", job.Type).Msg("job completed")
}
