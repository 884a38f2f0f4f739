// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"automatosx/internal/errs"
)

// Job is one maintenance task. Run reports how many items it removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Scheduler executes registered jobs on a shared cron schedule. Overlapping
// runs of the same job are skipped.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []Job
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	executing sync.Map // job name -> start time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds a single job run. Default is 5 minutes.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a scheduler for the given jobs.
func New(logger zerolog.Logger, jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.Local)),
		jobs:    jobs,
		timeout: 5 * time.Minute,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the jobs under the schedule and starts the cron loop.
// The schedule accepts both standard 5-field and seconds-first 6-field
// expressions.
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errs.New(errs.CodeInvalidInput, "scheduler already running")
	}

	spec := normalizeSchedule(schedule)
	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(spec, func() { s.execute(job) }); err != nil {
			return errs.Wrap(errs.CodeConfigInvalid, "invalid maintenance schedule: "+schedule, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", schedule).Int("jobs", len(s.jobs)).Msg("maintenance scheduler started")
	return nil
}

// Stop halts scheduling and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cron.Stop()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("maintenance scheduler stopped")
}

// RunAll executes every job once, immediately. Used by the CLI cleanup
// command; errors are aggregated per job in the result map.
func (s *Scheduler) RunAll(ctx context.Context) map[string]Result {
	out := make(map[string]Result, len(s.jobs))
	for _, job := range s.jobs {
		removed, err := job.Run(ctx)
		out[job.Name] = Result{Removed: removed, Err: err}
	}
	return out
}

// Result is the outcome of one job run.
type Result struct {
	Removed int
	Err     error
}

func (s *Scheduler) execute(job Job) {
	if _, loaded := s.executing.LoadOrStore(job.Name, time.Now()); loaded {
		s.logger.Warn().Str("job", job.Name).Msg("skipping overlapping run")
		return
	}
	defer s.executing.Delete(job.Name)

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	removed, err := job.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Msg("maintenance job failed")
		return
	}
	s.logger.Info().
		Str("job", job.Name).
		Int("removed", removed).
		Dur("elapsed", time.Since(start)).
		Msg("maintenance job completed")
}

// normalizeSchedule accepts standard 5-field cron specs by prefixing a
// seconds field, since the underlying parser runs with seconds enabled.
func normalizeSchedule(schedule string) string {
	if len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}
