// Package scheduler runs named jobs on cron schedules. Each invocation is
// bounded by a timeout, retried when the job is marked retryable, and
// shielded from panics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hoanghai1803/autopulse/internal/metrics"
	"github.com/hoanghai1803/autopulse/internal/retry"
)

var (
	// ErrUnknownJob is returned by RunNow for a name that was never added.
	ErrUnknownJob = errors.New("unknown job")
	// ErrTimeout means the job was abandoned after exceeding its timeout.
	ErrTimeout = errors.New("job timed out")
	// ErrAlreadyRunning means an earlier invocation of the job, possibly an
	// abandoned one, has not returned yet.
	ErrAlreadyRunning = errors.New("job already running")
)

// Job is one named unit of periodic work.
type Job struct {
	Name string
	// Spec is a standard five-field cron expression or a descriptor such as
	// "@every 2m". An empty spec registers the job for RunNow only.
	Spec    string
	Timeout time.Duration
	// Retryable jobs are safe to run again after a failure.
	Retryable bool
	Run       func(ctx context.Context) error
}

// Status is the observable state of one job.
type Status struct {
	Name         string     `json:"name"`
	Spec         string     `json:"spec"`
	Running      bool       `json:"running"`
	Runs         int        `json:"runs"`
	Failures     int        `json:"failures"`
	LastStarted  *time.Time `json:"last_started,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// Config controls retries of retryable jobs.
type Config struct {
	Retries    int
	RetryDelay time.Duration
}

type entry struct {
	job    Job
	cronID cron.EntryID
	// running is held by invoke; inFlight by the goroutine of the current
	// attempt, which may outlive invoke after a timeout.
	running  bool
	inFlight bool
	status   Status
}

// Scheduler owns a cron runner and the status of its jobs. Instances are
// independent of each other.
type Scheduler struct {
	cfg  Config
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*entry
	started bool
}

// New creates a stopped Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	return &Scheduler{
		cfg:  cfg,
		cron: cron.New(),
		jobs: make(map[string]*entry),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	e := &entry{job: job, status: Status{Name: job.Name, Spec: job.Spec}}
	if job.Spec != "" {
		id, err := s.cron.AddFunc(job.Spec, func() { s.invoke(context.Background(), e) })
		if err != nil {
			return fmt.Errorf("scheduling job %q: %w", job.Name, err)
		}
		e.cronID = id
	}
	s.jobs[job.Name] = e
	return nil
}

// Start begins running scheduled jobs. Starting a running scheduler logs a
// warning and does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		slog.Warn("scheduler already running")
		return
	}
	s.started = true
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop prevents new invocations and waits for running ones to return or for
// ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("scheduler stopped")
	case <-ctx.Done():
		slog.Warn("scheduler stop timed out, abandoning running jobs")
	}
}

// RunNow runs a job immediately in the caller's goroutine and returns its
// error. Invocations of a job never overlap: while an earlier invocation,
// including one abandoned after its timeout, is still running, RunNow
// returns ErrAlreadyRunning.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownJob)
	}
	return s.invoke(ctx, e)
}

// Statuses returns every job's status, sorted by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := e.status
		st.Running = e.running || e.inFlight
		if e.cronID != 0 && s.started {
			if next := s.cron.Entry(e.cronID).Next; !next.IsZero() {
				st.NextRun = &next
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) invoke(ctx context.Context, e *entry) error {
	s.mu.Lock()
	if e.running || e.inFlight {
		s.mu.Unlock()
		slog.Warn("job still running, skipping invocation", "job", e.job.Name)
		return fmt.Errorf("%q: %w", e.job.Name, ErrAlreadyRunning)
	}
	e.running = true
	started := time.Now().UTC()
	e.status.LastStarted = &started
	s.mu.Unlock()

	slog.Info("job started", "job", e.job.Name)

	attempts := 1
	if e.job.Retryable {
		attempts += s.cfg.Retries
	}
	policy := retry.Policy{MaxAttempts: attempts, Delay: s.cfg.RetryDelay}
	n, err := retry.Do(ctx, policy, retryable, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			slog.Info("retrying job", "job", e.job.Name, "attempt", attempt)
		}
		return s.runOnce(ctx, e)
	})
	elapsed := time.Since(started)

	s.mu.Lock()
	e.running = false
	e.status.Runs++
	e.status.LastDuration = elapsed.Round(time.Millisecond).String()
	e.status.LastError = ""
	if err != nil {
		e.status.Failures++
		e.status.LastError = err.Error()
	}
	s.mu.Unlock()

	metrics.RecordJob(e.job.Name, err, elapsed)
	if err != nil {
		slog.Error("job failed", "job", e.job.Name, "attempts", n, "duration", elapsed, "error", err)
		return err
	}
	slog.Info("job finished", "job", e.job.Name, "attempts", n, "duration", elapsed)
	return nil
}

// runOnce runs a single attempt. On timeout the attempt is abandoned: the
// scheduler stops waiting, but the job keeps its context and runs to
// completion. Until it returns the job counts as running.
func (s *Scheduler) runOnce(ctx context.Context, e *entry) error {
	job := e.job

	s.mu.Lock()
	e.inFlight = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := safeRun(ctx, job)
		s.mu.Lock()
		e.inFlight = false
		s.mu.Unlock()
		done <- err
	}()

	var timeout <-chan time.Time
	if job.Timeout > 0 {
		timer := time.NewTimer(job.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return err
	case <-timeout:
		slog.Warn("job exceeded timeout, abandoning", "job", job.Name, "timeout", job.Timeout)
		return fmt.Errorf("%w after %s", ErrTimeout, job.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// safeRun converts a panic in the job into an error.
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job", job.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %q panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

// retryable retries any failure except cancellation and timeouts. An
// abandoned attempt may still be running, so the next tick runs it again.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrTimeout)
}
