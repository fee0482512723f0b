package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueFull is reported when a due job cannot be queued.
var ErrQueueFull = errors.New("job queue full")

// Scheduler holds jobs until their NotBefore time and then hands them to a
// fixed pool of workers. Jobs live in memory only; a restart loses them.
type Scheduler struct {
	handler Handler
	logger  *slog.Logger
	workers int

	queue chan RegenerationJob

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool

	inFlight  atomic.Int32
	scheduled atomic.Int64
	dropped   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// SchedulerConfig configures a new scheduler.
type SchedulerConfig struct {
	Handler   Handler
	Logger    *slog.Logger
	Workers   int // Worker goroutines (default 4)
	QueueSize int // Due-job buffer (default 1000)
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &Scheduler{
		handler: cfg.Handler,
		logger:  logger,
		workers: workers,
		queue:   make(chan RegenerationJob, queueSize),
		timers:  make(map[*time.Timer]struct{}),
	}
}

// Dispatch queues job once its NotBefore time has passed.
func (s *Scheduler) Dispatch(job RegenerationJob) {
	s.ScheduleAfter(job, time.Until(job.NotBefore))
}

// ScheduleAfter queues job after delay. A full queue drops the job with a
// warning; delivery is best effort.
func (s *Scheduler) ScheduleAfter(job RegenerationJob, delay time.Duration) {
	s.scheduled.Add(1)
	if delay <= 0 {
		s.enqueue(job)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.drop(job, "scheduler stopped")
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.enqueue(job)
	})
	s.timers[t] = struct{}{}
}

func (s *Scheduler) enqueue(job RegenerationJob) {
	select {
	case s.queue <- job:
		s.logger.Debug("job queued", "job", job.ID())
	default:
		s.drop(job, ErrQueueFull.Error())
	}
}

func (s *Scheduler) drop(job RegenerationJob, reason string) {
	s.dropped.Add(1)
	s.logger.Warn("dropping regeneration job", "job", job.ID(), "reason", reason)
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker has returned. Pending timers are stopped on the way out.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("scheduler has no handler")
	}
	s.logger.Info("starting worker pool", "count", s.workers)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			s.workerLoop(ctx, workerNum)
		}(i)
	}

	<-ctx.Done()
	s.stopTimers()
	wg.Wait()
	s.logger.Info("all workers stopped")
	return nil
}

func (s *Scheduler) workerLoop(ctx context.Context, workerNum int) {
	logger := s.logger.With("worker_num", workerNum)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		case job := <-s.queue:
			s.process(ctx, logger, job)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, logger *slog.Logger, job RegenerationJob) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			logger.Error("job panicked", "job", job.ID(), "panic", r)
		}
	}()

	if err := s.handler.Handle(ctx, job); err != nil {
		s.failed.Add(1)
		logger.Warn("job failed", "job", job.ID(), "error", err)
		return
	}
	s.completed.Add(1)
}

func (s *Scheduler) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	if n := len(s.timers); n > 0 {
		s.logger.Info("discarding delayed jobs", "count", n)
	}
	s.timers = make(map[*time.Timer]struct{})
}

// Status reports a scheduler's current state.
type Status struct {
	Workers   int   `json:"workers"`
	InFlight  int   `json:"in_flight"`
	Queued    int   `json:"queued"`
	Delayed   int   `json:"delayed"`
	Scheduled int64 `json:"scheduled"`
	Dropped   int64 `json:"dropped"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Status returns a point-in-time snapshot of the scheduler's counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	delayed := len(s.timers)
	s.mu.Unlock()

	return Status{
		Workers:   s.workers,
		InFlight:  int(s.inFlight.Load()),
		Queued:    len(s.queue),
		Delayed:   delayed,
		Scheduled: s.scheduled.Load(),
		Dropped:   s.dropped.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}

var _ Dispatcher = (*Scheduler)(nil)
