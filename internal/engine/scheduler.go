package engine

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// scheduler runs an adapter's periodic tasks. Each task has its own
// goroutine and ticker, so a slow task never delays another. The first run
// happens one period after Every is called.
type scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newScheduler(logger *slog.Logger) *scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{ctx: ctx, cancel: cancel, logger: logger}
}

// Every runs fn at a fixed rate until Stop is called. Ticks that arrive
// while fn is still running are dropped.
func (s *scheduler) Every(name string, period time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.run(name, fn)
			}
		}
	}()
}

// run executes one tick. A cancelled scheduler does not cancel work that
// has already started.
func (s *scheduler) run(name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if s.ctx.Err() != nil {
		return
	}
	fn(context.WithoutCancel(s.ctx))
}

// Stop cancels future ticks. It does not wait for running ticks.
func (s *scheduler) Stop() {
	s.cancel()
}

// Wait blocks until every task goroutine has returned.
func (s *scheduler) Wait() {
	s.wg.Wait()
}
