package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/services"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrJobBusy          = errors.New("job is already running")
	ErrUnknownJob       = errors.New("unknown job")
	ErrSchedulerStopped = errors.New("scheduler is stopped")
)

const DefaultJobLockTTL = 10 * time.Minute

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

type JobStatus struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Running      bool          `json:"running"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	Skips        int64         `json:"skips"`
	LastRunAt    *time.Time    `json:"lastRunAt,omitempty"`
	LastSuccess  *time.Time    `json:"lastSuccessAt,omitempty"`
	LastDuration time.Duration `json:"lastDuration"`
	LastError    string        `json:"lastError,omitempty"`
	NextRunAt    *time.Time    `json:"nextRunAt,omitempty"`
}

type job struct {
	name    string
	spec    string
	fn      JobFunc
	entryID cron.EntryID
	running atomic.Bool

	mu     sync.Mutex
	status JobStatus
}

// Scheduler runs named jobs on cron schedules. A job never overlaps with
// itself: a tick that finds the previous run still going is skipped.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	locker   services.Locker
	lockTTL  time.Duration
	metrics  *services.Metrics
	now      func() time.Time
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

// WithCron injects a preconfigured cron instance, mostly for tests.
func WithCron(c *cron.Cron) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLocker shares the busy guard with other processes through locker.
func WithLocker(locker services.Locker, ttl time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithSchedulerMetrics(m *services.Metrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		location: time.Local,
		lockTTL:  DefaultJobLockTTL,
		now:      time.Now,
		log:      logrus.WithField("component", "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(
			cron.WithLocation(s.location),
			cron.WithLogger(cron.PrintfLogger(logrus.StandardLogger())),
		)
	}
	return s
}

// Register adds a job. Jobs registered after Init are scheduled right away.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	if name == "" || fn == nil {
		return errors.New("job name and function are required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s is already registered", name)
	}

	j := &job{name: name, spec: spec, fn: fn}
	j.status.Name, j.status.Schedule = name, spec
	if s.started {
		if err := s.schedule(j); err != nil {
			return err
		}
	}
	s.jobs[name] = j
	s.order = append(s.order, name)
	return nil
}

// Init schedules every registered job and starts the cron loop. Calling it
// again is a no-op.
func (s *Scheduler) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return nil
	}

	for _, name := range s.order {
		if err := s.schedule(s.jobs[name]); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.started = true

	s.log.WithField("jobs", len(s.order)).Info("Scheduler started")
	return nil
}

func (s *Scheduler) schedule(j *job) error {
	id, err := s.cron.AddFunc(j.spec, func() {
		// the run records its own outcome
		_ = s.execute(s.ctx, j)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", j.name, err)
	}
	j.entryID = id
	return nil
}

// Stop prevents further ticks and waits for running jobs. If ctx ends first
// the running jobs are cancelled and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warn("Scheduler stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

// RunNow runs a job synchronously, subject to the same busy guard as ticks.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.order))
	entries := make([]cron.EntryID, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
		entries = append(entries, s.jobs[name].entryID)
	}
	started := s.started && !s.stopped
	s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jobs))
	for i, j := range jobs {
		j.mu.Lock()
		status := j.status
		j.mu.Unlock()

		status.Running = j.running.Load()
		if started && entries[i] != 0 {
			if next := s.cron.Entry(entries[i]).Next; !next.IsZero() {
				status.NextRunAt = &next
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	logger := s.log.WithField("job", j.name)

	if !j.running.CompareAndSwap(false, true) {
		s.skip(j, "previous run still in progress")
		return ErrJobBusy
	}
	defer j.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, "job:"+j.name, s.lockTTL)
		if err != nil {
			err = fmt.Errorf("failed to acquire lock for job %s: %w", j.name, err)
			s.finish(j, s.now(), 0, "error", err)
			return err
		}
		if !ok {
			s.skip(j, "held by another instance")
			return ErrJobBusy
		}
		defer release()
	}

	startedAt := s.now()
	started := time.Now()
	logger.Debug("Job started")

	panicked, err := runJob(ctx, j.fn)
	duration := time.Since(started)

	result := "success"
	switch {
	case panicked:
		result = "panic"
	case err != nil:
		result = "error"
	}
	s.finish(j, startedAt, duration, result, err)

	fields := logrus.Fields{"duration": duration, "result": result}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Job failed")
	} else {
		logger.WithFields(fields).Info("Job finished")
	}
	return err
}

func runJob(ctx context.Context, fn JobFunc) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return false, fn(ctx)
}

func (s *Scheduler) skip(j *job, reason string) {
	j.mu.Lock()
	j.status.Skips++
	j.mu.Unlock()

	s.metrics.ObserveJob(j.name, "skipped", 0)
	s.log.WithFields(logrus.Fields{"job": j.name, "reason": reason}).Warn("Job run skipped")
}

func (s *Scheduler) finish(j *job, startedAt time.Time, duration time.Duration, result string, err error) {
	j.mu.Lock()
	j.status.Runs++
	j.status.LastRunAt = &startedAt
	j.status.LastDuration = duration
	if err != nil {
		j.status.Failures++
		j.status.LastError = err.Error()
	} else {
		j.status.LastError = ""
		j.status.LastSuccess = &startedAt
	}
	j.mu.Unlock()

	s.metrics.ObserveJob(j.name, result, duration)
}
