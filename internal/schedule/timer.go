package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is the work a TimerScheduler runs on each trigger.
type Job func(ctx context.Context, name string)

type timerEntry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TimerScheduler runs Job in-process on every registered trigger.
// Runs of one registration never overlap: a trigger that fires while the
// previous run is still going is skipped.
type TimerScheduler struct {
	job    Job
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*timerEntry
	closed  bool
}

var _ Scheduler = (*TimerScheduler)(nil)

// NewTimerScheduler returns a scheduler running job.
func NewTimerScheduler(job Job, logger *zap.Logger) *TimerScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerScheduler{
		job:     job,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*timerEntry),
	}
}

// RegisterPeriodic starts running the job at start, or immediately if start
// has passed, then every interval.
func (s *TimerScheduler) RegisterPeriodic(name string, every time.Duration, start time.Time) error {
	if err := validate(name, every); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	if old, ok := s.entries[name]; ok {
		old.cancel()
		<-old.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &timerEntry{cancel: cancel, done: make(chan struct{})}
	s.entries[name] = entry
	go s.loop(ctx, entry, name, every, start)

	s.logger.Info("job registered",
		zap.String("job", name),
		zap.Duration("every", every),
		zap.Time("start", start),
	)
	return nil
}

// Deregister stops a registration, waiting for a running job to return.
func (s *TimerScheduler) Deregister(name string) error {
	s.mu.Lock()
	entry, ok := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()

	if !ok {
		return ErrNotRegistered
	}
	entry.cancel()
	<-entry.done
	s.logger.Info("job deregistered", zap.String("job", name))
	return nil
}

// Registered lists active registrations by name.
func (s *TimerScheduler) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops every registration and waits for running jobs.
func (s *TimerScheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	entries := s.entries
	s.entries = make(map[string]*timerEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.cancel()
	}
	for _, entry := range entries {
		<-entry.done
	}
	return nil
}

func (s *TimerScheduler) loop(ctx context.Context, entry *timerEntry, name string, every time.Duration, start time.Time) {
	defer close(entry.done)

	next := start
	if now := s.now(); next.Before(now) {
		next = now
	}
	timer := time.NewTimer(next.Sub(s.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.job(ctx, name)

		// Skip triggers missed while the job ran.
		now := s.now()
		next = next.Add(every)
		for !next.After(now) {
			next = next.Add(every)
		}
		timer.Reset(next.Sub(now))
	}
}
