// Package archive periodically exports completed flow events and the graph
// catalogue as JSONL to durable destinations.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Destination receives each export.
type Destination interface {
	Name() string
	Write(ctx context.Context, data []byte) error
}

// Archiver exports from a source to its destinations on an interval.
type Archiver struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:       src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start runs an export immediately and then on every tick until Stop.
func (a *Archiver) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop(ctx)
	}()
}

// Stop cancels the loop and waits for an export in progress.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Archiver) loop(ctx context.Context) {
	a.runLogged(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Archiver) runLogged(ctx context.Context) {
	if err := a.Run(ctx); err != nil {
		a.logger.Error("archive failed", "err", err)
	}
}

// Run performs one export. Every destination is attempted; their failures
// are joined.
func (a *Archiver) Run(ctx context.Context) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, a.source, &buf); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	data := buf.Bytes()

	var errs []error
	for _, dest := range a.destinations {
		if err := dest.Write(ctx, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dest.Name(), err))
		}
	}
	a.logger.Info("archive completed", "destinations", len(a.destinations), "failed", len(errs), "bytes", len(data))
	return errors.Join(errs...)
}
