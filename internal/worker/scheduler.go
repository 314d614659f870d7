// Package worker is the evaluation execution plane: a polling scheduler that
// claims queued runs from storage and an executor that fans each run out over
// its item x model grid.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"evalcore/internal/core"
)

// Scheduler polls storage for claimable runs and hands them to the executor,
// one run at a time per scheduler instance. Horizontal scale comes from
// running more instances; the dequeue claim keeps them from colliding.
type Scheduler struct {
	store        core.Storage
	executor     *Executor
	logger       *slog.Logger
	pollInterval time.Duration
	staleAfter   time.Duration // 0 disables stale-run reclaim

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler. staleAfter is how long a run may sit
// in running before another worker may reclaim it; zero disables reclaiming.
func NewScheduler(store core.Storage, executor *Executor, pollInterval, staleAfter time.Duration, logger *slog.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        store,
		executor:     executor,
		logger:       logger,
		pollInterval: pollInterval,
		staleAfter:   staleAfter,
	}
}

// Start launches the polling loop. It is an error-free no-op if already
// started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts polling and waits for an in-flight run to finish, bounded by
// ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		// Drain eagerly: keep claiming until the queue is empty, then wait
		// one interval.
		for s.processOne(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processOne claims and executes at most one run. It reports whether a run
// was claimed, so the loop can keep draining a backlog without sleeping.
func (s *Scheduler) processOne(ctx context.Context) bool {
	var staleBefore *time.Time
	if s.staleAfter > 0 {
		t := time.Now().UTC().Add(-s.staleAfter)
		staleBefore = &t
	}
	run, ok, err := s.store.DequeueRun(ctx, staleBefore)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("dequeue failed", "error", err)
		}
		return false
	}
	if !ok {
		return false
	}
	s.logger.Info("claimed run", "run_id", run.ID, "models", len(run.Models))
	if err := s.executor.Execute(ctx, run); err != nil {
		s.logger.Error("execute run failed", "run_id", run.ID, "error", err)
	}
	return true
}
