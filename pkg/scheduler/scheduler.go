// Package scheduler runs named background jobs on cron schedules. Each job
// carries a single-flight guard: a tick that fires while the previous tick
// of the same job is still running is skipped, not queued, so a slow scan
// can never overlap itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/maybeizen/fluxo-sub000/pkg/observability"
)

// Handler is a single scheduled tick. A returned error is logged and the
// tick is abandoned; the next scheduled firing is the retry mechanism.
type Handler func(ctx context.Context) error

type job struct {
	name    string
	handler Handler
	running atomic.Bool
}

// Scheduler registers and drives named jobs on a shared cron runner
type Scheduler struct {
	cron    *cron.Cron
	logger  *observability.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a new Scheduler
func New(logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		metrics: metrics,
		jobs:    make(map[string]*job),
	}
}

// Register adds a job under a unique name. The spec takes standard cron
// syntax or an @every descriptor.
func (s *Scheduler) Register(name, spec string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{name: name, handler: handler}
	if _, err := s.cron.AddFunc(spec, func() {
		s.runJob(context.Background(), j)
	}); err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}

	s.jobs[name] = j
	s.logger.WithField("job", name).WithField("schedule", spec).Info("job registered")
	return nil
}

// runJob executes one tick of a job with the single-flight guard, panic
// recovery, and timing around it
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.WithField("job", j.name).Warn("previous tick still running, skipping")
		if s.metrics != nil {
			s.metrics.WorkerSkipsTotal.WithLabelValues(j.name).Inc()
		}
		return
	}
	defer j.running.Store(false)
	defer observability.RecoverPanic(s.logger, fmt.Sprintf("job %s", j.name))

	start := time.Now()
	err := j.handler(ctx)
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveWorkerRun(j.name, err, duration)
	}

	logger := s.logger.WithField("job", j.name).WithField("duration", duration.String())
	if err != nil {
		logger.WithError(err).Error("job tick failed")
		return
	}
	logger.Debug("job tick complete")
}

// RunOnce triggers a single named job immediately, outside its schedule.
// Used by the scheduler binary's run-once mode.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.runJob(ctx, j)
	return nil
}

// Names returns the registered job names
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Start begins firing schedules
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts scheduling and waits for in-flight ticks to drain, up to the
// context deadline
func (s *Scheduler) Stop(ctx context.Context) error {
	drained := s.cron.Stop()
	select {
	case <-drained.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler drain timed out: %w", ctx.Err())
	}
}
