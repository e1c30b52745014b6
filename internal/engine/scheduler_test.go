package engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsAtFixedRate(t *testing.T) {
	s := newScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var runs atomic.Int32
	s.Every("count", 10*time.Millisecond, func(context.Context) { runs.Add(1) })

	if runs.Load() != 0 {
		t.Fatal("first run must wait one period")
	}
	waitFor(t, "three runs", func() bool { return runs.Load() >= 3 })
	s.Stop()
	s.Wait()
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Errorf("task kept running after Stop: %d -> %d", after, runs.Load())
	}
}

func TestScheduler_SurvivesPanics(t *testing.T) {
	s := newScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var runs atomic.Int32
	s.Every("boom", 5*time.Millisecond, func(context.Context) {
		runs.Add(1)
		panic("task failure")
	})
	waitFor(t, "task to keep ticking after a panic", func() bool { return runs.Load() >= 2 })
	s.Stop()
	s.Wait()
}

func TestScheduler_WorkOutlivesStop(t *testing.T) {
	s := newScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	started := make(chan struct{})
	finished := make(chan error, 1)
	s.Every("slow", 5*time.Millisecond, func(ctx context.Context) {
		select {
		case <-started:
			return
		default:
			close(started)
		}
		time.Sleep(20 * time.Millisecond)
		finished <- ctx.Err()
	})
	<-started
	s.Stop()
	s.Wait()
	if err := <-finished; err != nil {
		t.Errorf("in-flight work saw cancellation: %v", err)
	}
}
