package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextRun(t *testing.T) {
	s := &Scheduler{hourUTC: 2}

	cases := []struct {
		now  time.Time
		want time.Time
	}{
		// Before today's run hour: fires later today.
		{
			time.Date(2026, 9, 15, 1, 30, 0, 0, time.UTC),
			time.Date(2026, 9, 15, 2, 0, 0, 0, time.UTC),
		},
		// Exactly at the run hour: strictly after now, so tomorrow.
		{
			time.Date(2026, 9, 15, 2, 0, 0, 0, time.UTC),
			time.Date(2026, 9, 16, 2, 0, 0, 0, time.UTC),
		},
		// After the run hour: tomorrow.
		{
			time.Date(2026, 9, 15, 23, 0, 0, 0, time.UTC),
			time.Date(2026, 9, 16, 2, 0, 0, 0, time.UTC),
		},
		// Month rollover.
		{
			time.Date(2026, 9, 30, 3, 0, 0, 0, time.UTC),
			time.Date(2026, 10, 1, 2, 0, 0, 0, time.UTC),
		},
		// Non-UTC input normalizes to the UTC hour.
		{
			time.Date(2026, 9, 15, 3, 0, 0, 0, time.FixedZone("UTC+2", 2*3600)),
			time.Date(2026, 9, 15, 2, 0, 0, 0, time.UTC),
		},
	}
	for _, c := range cases {
		if got := s.nextRun(c.now); !got.Equal(c.want) {
			t.Errorf("nextRun(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}

type countingJob struct {
	runs atomic.Int32
}

func (j *countingJob) Run(ctx context.Context) { j.runs.Add(1) }

func TestStartupTrigger(t *testing.T) {
	job := &countingJob{}
	s := New(job, 2, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for job.runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("startup trigger never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartupTriggerStopsOnCancel(t *testing.T) {
	job := &countingJob{}
	s := New(job, 2, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)
	cancel()

	time.Sleep(20 * time.Millisecond)
	if job.runs.Load() != 0 {
		t.Fatal("job ran after context cancellation")
	}
}
