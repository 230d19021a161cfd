// Package scheduler runs the process's periodic jobs: strategy evaluation and
// the notification broadcast tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
}

// Scheduler owns a set of fixed-interval jobs. Each job runs in its own
// goroutine; a run that overruns its interval causes ticks to be dropped, never
// queued, and each run is bounded by a timeout equal to its interval.
type Scheduler struct {
	logger *slog.Logger
	jobs   []job
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Every registers fn to run every interval once Run is called.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	if fn == nil {
		return fmt.Errorf("job %s: func is required", name)
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: fn})
	return nil
}

// Run blocks until ctx is cancelled, then waits for in-flight runs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler job started", "job", j.name, "interval", j.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler job stopped", "job", j.name)
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j job) {
	runCtx, cancel := context.WithTimeout(ctx, j.interval)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler job panicked", "job", j.name, "panic", r)
		}
	}()
	j.run(runCtx)
}
