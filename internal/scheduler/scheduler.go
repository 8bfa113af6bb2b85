// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/aicoder/internal/state"
	"github.com/user/aicoder/internal/status"
)

// Job is a named maintenance task run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	jobs   []Job
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler for jobs. Nothing runs until Start.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers every job and starts the cron ticker. An invalid schedule
// fails Start before any job is started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		_, err := s.cron.AddFunc(job.Schedule, func() {
			start := time.Now()
			if err := job.Run(s.ctx); err != nil {
				slog.Error("maintenance job failed", "job", job.Name, "error", err)
				return
			}
			slog.Debug("maintenance job finished", "job", job.Name, "duration", time.Since(start))
		})
		if err != nil {
			s.cancel()
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

// EvictJob forgets finished runs older than retention from hub.
func EvictJob(hub *status.Hub, retention time.Duration) Job {
	return Job{
		Name:     "evict-status",
		Schedule: "@every 1m",
		Run: func(context.Context) error {
			if n := hub.Evict(retention); n > 0 {
				slog.Info("evicted finished runs", "count", n)
			}
			return nil
		},
	}
}

// PruneJob removes run directories under dir untouched for retention.
func PruneJob(name, dir string, retention time.Duration) Job {
	return Job{
		Name:     name,
		Schedule: "@every 10m",
		Run: func(context.Context) error {
			n, err := state.PruneDirs(dir, time.Now().Add(-retention))
			if n > 0 {
				slog.Info("pruned run directories", "dir", dir, "count", n)
			}
			return err
		},
	}
}
