package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/flowd/internal/store/memory"
)

// mockDestination records calls to Write.
type mockDestination struct {
	name   string
	err    error
	writes atomic.Int64
	last   atomic.Value // []byte
}

func (d *mockDestination) Name() string { return d.name }

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiverStartStop(t *testing.T) {
	dest := &mockDestination{name: "mock"}
	a := New(seed(t), []Destination{dest}, 50*time.Millisecond, discard())
	a.Start()

	// Wait for at least the initial export + one tick.
	time.Sleep(120 * time.Millisecond)
	a.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}
	data, ok := dest.last.Load().([]byte)
	if !ok || len(data) == 0 {
		t.Fatal("expected non-empty data")
	}
	if lines := nonEmptyLines(string(data)); len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
}

func TestArchiverStop_NoStart(t *testing.T) {
	a := New(memory.New(), nil, time.Minute, discard())
	// Stop without Start should not panic.
	a.Stop()
}

func TestArchiverRun_DestinationFailure(t *testing.T) {
	broken := &mockDestination{name: "broken", err: errors.New("disk full")}
	healthy := &mockDestination{name: "healthy"}
	a := New(memory.New(), []Destination{broken, healthy}, time.Minute, discard())

	err := a.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failing destination to be reported")
	}
	if healthy.writes.Load() != 1 {
		t.Fatal("a failing destination must not stop the others")
	}
}
