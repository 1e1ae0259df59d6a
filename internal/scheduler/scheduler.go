// Package scheduler runs the recurring background jobs: watchlist cache
// warmup and cache stats persistence.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// runTimeout bounds a single job run. Warmup walks the whole watchlist
// over the network, so the bound is generous.
const runTimeout = 5 * time.Minute

// Job is a named unit of recurring work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler manages background jobs on standard 5-field cron expressions.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a new scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to drain, at most
// until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn().Msg("Scheduler stop timed out with jobs still running")
		return ctx.Err()
	}
}

// AddJob registers a job with a cron schedule.
// Schedule examples:
//   - "*/15 * * * *"  - Every 15 minutes
//   - "* * * * *"     - Every minute
//   - "@hourly"       - Every hour
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runJob(job)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule).
func (s *Scheduler) RunNow(job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	return job.Run(ctx)
}

func (s *Scheduler) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("job", job.Name()).
				Msg("Job panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	s.log.Debug().Str("job", job.Name()).Msg("Running job")
	started := time.Now()

	if err := job.Run(ctx); err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("elapsed", time.Since(started)).
			Msg("Job failed")
		return
	}

	s.log.Debug().
		Str("job", job.Name()).
		Dur("elapsed", time.Since(started)).
		Msg("Job completed")
}
