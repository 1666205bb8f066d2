package sync

import (
	stdsync "sync"
	"time"

	"cliniccore/internal/logging"
)

// Scheduler kicks off an incremental sync at a fixed interval. Failures are
// silent here; the manager posts the terminal events and the next tick
// retries. Ticks while a sync is in flight coalesce onto it.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	log      logging.Logger

	mu   stdsync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewScheduler builds a scheduler. It does not run until Start is called.
func NewScheduler(m *Manager, interval time.Duration, log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{manager: m, interval: interval, log: log}
}

// Start begins the periodic loop. Calling Start on a running scheduler is
// a no-op. Safe for concurrent use with Stop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	s.log.Info("sync scheduler started", "interval", s.interval)
}

// Stop halts the loop and waits for it to exit. An in-flight sync is not
// canceled; use the manager for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
	s.log.Info("sync scheduler stopped")
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			id := s.manager.Sync()
			s.log.Debug("scheduled sync tick", "sync_id", id)
		case <-stop:
			return
		}
	}
}
