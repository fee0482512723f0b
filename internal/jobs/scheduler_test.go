package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder collects handled jobs.
type recorder struct {
	mu   sync.Mutex
	jobs []RegenerationJob
	at   []time.Time
	err  error
}

func (r *recorder) Handle(_ context.Context, job RegenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	r.at = append(r.at, time.Now())
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func startScheduler(t *testing.T, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	s := NewScheduler(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestScheduler_RunsImmediateJobs(t *testing.T) {
	rec := &recorder{}
	s := startScheduler(t, SchedulerConfig{Handler: rec, Workers: 2})

	for i := 0; i < 5; i++ {
		s.ScheduleAfter(RegenerationJob{BookID: "b", PageIndex: i, Version: 1}, 0)
	}
	waitFor(t, 2*time.Second, func() bool { return rec.count() == 5 })

	waitFor(t, time.Second, func() bool { return s.Status().Completed == 5 })
	st := s.Status()
	if st.Scheduled != 5 || st.Dropped != 0 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestScheduler_HonoursDelay(t *testing.T) {
	rec := &recorder{}
	s := startScheduler(t, SchedulerConfig{Handler: rec})

	start := time.Now()
	s.ScheduleAfter(RegenerationJob{BookID: "b"}, 100*time.Millisecond)

	if got := s.Status().Delayed; got != 1 {
		t.Errorf("Delayed = %d, want 1", got)
	}
	waitFor(t, 2*time.Second, func() bool { return rec.count() == 1 })

	rec.mu.Lock()
	elapsed := rec.at[0].Sub(start)
	rec.mu.Unlock()
	if elapsed < 100*time.Millisecond {
		t.Errorf("job ran after %v, before its delay", elapsed)
	}
	if got := s.Status().Delayed; got != 0 {
		t.Errorf("Delayed = %d after firing, want 0", got)
	}
}

func TestScheduler_DispatchUsesNotBefore(t *testing.T) {
	rec := &recorder{}
	s := startScheduler(t, SchedulerConfig{Handler: rec})

	s.Dispatch(RegenerationJob{BookID: "b", NotBefore: time.Now().Add(-time.Second)})
	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
}

func TestScheduler_DropsWhenQueueFull(t *testing.T) {
	// No workers are running, so the queue never drains.
	s := NewScheduler(SchedulerConfig{Handler: &recorder{}, QueueSize: 2})

	for i := 0; i < 5; i++ {
		s.ScheduleAfter(RegenerationJob{BookID: "b", PageIndex: i}, 0)
	}
	st := s.Status()
	if st.Queued != 2 {
		t.Errorf("Queued = %d, want 2", st.Queued)
	}
	if st.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", st.Dropped)
	}
}

func TestScheduler_CountsFailures(t *testing.T) {
	rec := &recorder{err: errors.New("boom")}
	s := startScheduler(t, SchedulerConfig{Handler: rec})

	s.ScheduleAfter(RegenerationJob{BookID: "b"}, 0)
	waitFor(t, time.Second, func() bool { return s.Status().Failed == 1 })
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	var calls atomic.Int32
	s := startScheduler(t, SchedulerConfig{
		Workers: 1,
		Handler: HandlerFunc(func(ctx context.Context, job RegenerationJob) error {
			if calls.Add(1) == 1 {
				panic("first job explodes")
			}
			return nil
		}),
	})

	s.ScheduleAfter(RegenerationJob{PageIndex: 0}, 0)
	s.ScheduleAfter(RegenerationJob{PageIndex: 1}, 0)
	waitFor(t, time.Second, func() bool { return s.Status().Completed == 1 })
	if s.Status().Failed != 1 {
		t.Errorf("Failed = %d, want 1", s.Status().Failed)
	}
}

func TestScheduler_StopDiscardsDelayedJobs(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(SchedulerConfig{Handler: rec})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.ScheduleAfter(RegenerationJob{BookID: "b"}, 50*time.Millisecond)
	cancel()
	<-done

	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Error("delayed job ran after shutdown")
	}

	s.ScheduleAfter(RegenerationJob{BookID: "late"}, time.Millisecond)
	if s.Status().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", s.Status().Dropped)
	}
}

func TestScheduler_RunWithoutHandler(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	if err := s.Run(context.Background()); err == nil {
		t.Error("Run() without handler should fail")
	}
}

func TestRegenerationJob_ID(t *testing.T) {
	j := RegenerationJob{BookID: "abc", PageIndex: 2, Version: 7}
	if got := j.ID(); got != "abc/2@v7" {
		t.Errorf("ID() = %q", got)
	}
}
