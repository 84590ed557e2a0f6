package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/telemetry"
)

// Job is server maintenance run on a fixed interval while the server is up.
type Job struct {
	Name     string
	Schedule string
	Func     func(ctx context.Context) error
}

type Scheduler struct {
	mu   sync.Mutex
	jobs []*entry
	tick time.Duration
	wg   sync.WaitGroup
}

type entry struct {
	job      Job
	interval time.Duration
	next     time.Time
	running  bool
}

func New() *Scheduler {
	return &Scheduler{tick: time.Second}
}

func (s *Scheduler) Add(job Job) error {
	interval, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &entry{
		job:      job,
		interval: interval,
		next:     time.Now().Add(interval),
	})
	return nil
}

// Run fires due jobs until ctx is done, then waits for running jobs to
// return. A job is never started again while its previous run is active.
func (s *Scheduler) Run(ctx context.Context) {
	logger := telemetry.FromContext(ctx)

	s.mu.Lock()
	logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	s.mu.Unlock()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case now := <-ticker.C:
			s.fire(ctx, now, logger)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, now time.Time, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.jobs {
		if e.running || now.Before(e.next) {
			continue
		}
		e.next = now.Add(e.interval)
		e.running = true

		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			result := "ok"
			if err := e.job.Func(ctx); err != nil {
				result = "error"
				logger.Error("scheduler: job failed",
					slog.String("job", e.job.Name),
					slog.String("err", err.Error()),
				)
			}
			telemetry.Metrics.JobRunsTotal.WithLabelValues(e.job.Name, result).Inc()

			s.mu.Lock()
			e.running = false
			s.mu.Unlock()
		}(e)
	}
}

// ParseSchedule accepts @hourly, @daily, @weekly, "@every <duration>" and
// bare Go durations.
func ParseSchedule(s string) (time.Duration, error) {
	switch s {
	case "@hourly":
		return time.Hour, nil
	case "@daily":
		return 24 * time.Hour, nil
	case "@weekly":
		return 7 * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(strings.TrimPrefix(s, "@every "))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	return d, nil
}

// Pruner deletes tasks last updated before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PruneJob drops tasks older than maxAge on every run.
func PruneJob(p Pruner, schedule string, maxAge time.Duration) Job {
	return Job{
		Name:     "prune_tasks",
		Schedule: schedule,
		Func: func(ctx context.Context) error {
			n, err := p.Prune(ctx, time.Now().Add(-maxAge))
			if err != nil {
				return fmt.Errorf("pruning tasks: %w", err)
			}
			if n > 0 {
				telemetry.FromContext(ctx).Info("pruned expired tasks",
					slog.Int64("count", n),
					slog.Duration("max_age", maxAge),
				)
			}
			return nil
		},
	}
}
