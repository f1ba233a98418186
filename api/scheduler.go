/*
scheduler.go - Background sweep scheduler

PURPOSE:
  Periodically expires reservations whose pickup window has closed and
  auto-denies forgiveness requests left unanswered past their deadline.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Each sweep is idempotent: re-running it finds nothing to do
  - Per-row lifecycle transitions, so a customer picking up at the same
    instant the sweep fires wins the race cleanly

USAGE:
  scheduler := NewSweepScheduler(handler, interval, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepScheduler drives the periodic expiry and forgiveness sweeps.
type SweepScheduler struct {
	Handler  *Handler
	Interval time.Duration
	Log      *zap.Logger

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a scheduler; Start must be called.
func NewSweepScheduler(h *Handler, interval time.Duration, log *zap.Logger) *SweepScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepScheduler{
		Handler:  h,
		Interval: interval,
		Log:      log,
		stop:     make(chan bool),
	}
}

// Start begins the background sweep loop.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.Log.Info("sweep scheduler started", zap.Duration("interval", s.Interval))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Log.Info("sweep scheduler stopped")
	}
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start.
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx := context.Background()

	expired, err := s.Handler.Reservations.ExpireDue(ctx)
	if err != nil {
		s.Log.Error("expiry sweep failed", zap.Error(err))
	} else if expired > 0 {
		s.Handler.Metrics.ReservationsExpired.Add(float64(expired))
		s.Log.Info("expired overdue reservations", zap.Int("count", expired))
	}

	denied, err := s.Handler.Forgiveness.AutoDenyExpired(ctx)
	if err != nil {
		s.Log.Error("forgiveness sweep failed", zap.Error(err))
	} else if denied > 0 {
		s.Log.Info("auto-denied stale forgiveness requests", zap.Int("count", denied))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *SweepScheduler) RunNow() {
	s.sweep()
}
