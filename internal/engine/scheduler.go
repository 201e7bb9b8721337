package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler invokes the engine on a fixed interval. At most one run is in
// flight at a time: a tick arriving while the previous run is still going is
// skipped, not queued.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	running  atomic.Bool
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewScheduler creates a scheduler for the engine.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is cancelled. It blocks; call it from
// a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	slog.Info("scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Wait blocks until the tick loop has exited and any in-flight run has
// finished.
func (s *Scheduler) Wait() {
	<-s.done
	s.wg.Wait()
}

// tick starts an engine pass in its own goroutine so the loop keeps
// observing ticks. A tick that arrives while a pass is still running is
// skipped.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		slog.Warn("previous engine run still in flight, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.engine.Run(ctx)
	}()
}
