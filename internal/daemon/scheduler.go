package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the daemon's polling cycles at a fixed interval. An
// initial cycle runs immediately on start; TriggerNow requests an extra
// cycle out of schedule.
type Scheduler struct {
	daemon   *Daemon
	interval time.Duration
	log      *zap.Logger

	triggerCh chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewScheduler creates a scheduler for the given daemon.
func NewScheduler(d *Daemon, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	return &Scheduler{
		daemon:    d,
		interval:  interval,
		log:       log,
		triggerCh: make(chan struct{}, 1),
	}
}

// Start launches the polling goroutine. Calling Start on a running
// scheduler is a no-op; a stopped scheduler can be started again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.log.Info("polling started", zap.Duration("interval", s.interval))
	s.wg.Add(1)
	go s.loop(ctx, stopCh)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.daemon.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.daemon.RunCycle(ctx)
		case <-s.triggerCh:
			s.daemon.RunCycle(ctx)
		}
	}
}

// TriggerNow requests an immediate cycle without blocking. A request
// while one is already queued is dropped.
func (s *Scheduler) TriggerNow() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Stop halts the polling goroutine and waits for a cycle in progress
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	s.wg.Wait()
	s.log.Info("polling stopped")
}
