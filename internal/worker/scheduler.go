// Package worker runs the periodic ingestion schedule.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-ledger/internal/logging"
)

// Syncer is the slice of the sync service the scheduler drives.
type Syncer interface {
	SyncAll(ctx context.Context) error
}

// Scheduler triggers a full sync of every account on a fixed interval. One
// run happens immediately on start so a fresh deployment does not wait a
// whole interval for data.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration

	mu      sync.Mutex
	running bool
	lastRun time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Syncer   Syncer
	Interval time.Duration
}

// NewScheduler creates a scheduler. The interval defaults to 30 minutes.
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Minute
	}
	if interval < time.Minute {
		return nil, fmt.Errorf("sync interval must be at least one minute, got %v", interval)
	}

	return &Scheduler{
		syncer:   cfg.Syncer,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the schedule loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	logging.FromContext(ctx).WithField("interval", s.interval.String()).Info("Starting sync scheduler")

	go s.loop(ctx)
	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight run.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	s.lastRun = time.Now().UTC()
	s.mu.Unlock()

	if err := s.syncer.SyncAll(ctx); err != nil && ctx.Err() == nil {
		logging.FromContext(ctx).WithError(err).Error("Scheduled sync failed")
	}
}

// Status reports whether the loop is running and when it last fired.
func (s *Scheduler) Status() (running bool, lastRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.lastRun
}
