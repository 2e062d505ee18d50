package cron

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is any batch entry point the scheduler can trigger.
type Job interface {
	Run(ctx context.Context)
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context)

func (f JobFunc) Run(ctx context.Context) { f(ctx) }

// Scheduler triggers a job once a fixed delay after startup (to cover runs
// missed while the process was down) and then once a day at a fixed UTC
// hour. Scheduling policy lives here; the job itself knows nothing about
// timing.
type Scheduler struct {
	job          Job
	hourUTC      int
	startupDelay time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// New creates a Scheduler for the given job.
func New(job Job, hourUTC int, startupDelay time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		job:          job,
		hourUTC:      hourUTC,
		startupDelay: startupDelay,
		logger:       logger.With().Str("component", "Scheduler").Logger(),
		now:          time.Now,
	}
}

// Start launches the trigger goroutines. It returns immediately; triggers
// stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Int("hour_utc", s.hourUTC).
		Dur("startup_delay", s.startupDelay).
		Msg("Starting scheduler")

	go s.runAfterStartup(ctx)
	go s.runDaily(ctx)
}

func (s *Scheduler) runAfterStartup(ctx context.Context) {
	timer := time.NewTimer(s.startupDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		s.logger.Info().Msg("Startup trigger firing")
		s.job.Run(ctx)
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	for {
		wait := time.Until(s.nextRun(s.now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.logger.Info().Msg("Daily trigger firing")
			s.job.Run(ctx)
		}
	}
}

// nextRun returns the next occurrence of the configured UTC hour strictly
// after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
