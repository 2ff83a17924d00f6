package dsync

import (
	"sync"
	"time"
)

// Scheduler invokes a sweep function on a fixed interval. The engine itself
// is scheduler-agnostic: anything that calls SyncAll periodically works, and
// tests drive sweeps directly without timers.
type Scheduler struct {
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewScheduler creates a scheduler that calls fn every interval once started.
func NewScheduler(interval time.Duration, fn func()) *Scheduler {
	return &Scheduler{interval: interval, fn: fn}
}

// Start begins periodic invocation. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.run(s.stop, s.done)
}

func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fn()
		case <-stop:
			return
		}
	}
}

// Stop halts periodic invocation and waits for an in-progress tick to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop, done := s.stop, s.done
	s.running = false
	s.mu.Unlock()

	close(stop)
	<-done
}
