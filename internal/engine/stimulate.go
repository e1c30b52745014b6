package engine

import (
	"context"

	"github.com/alfredjeanlab/flowd/internal/gate"
)

// stimulate injects a synthetic payload built from the adapter's input
// schema.
func (a *Adapter) stimulate(ctx context.Context) {
	payload, err := gate.Stimulus(a.target)
	if err != nil {
		a.logger.Error("generating stimulus", "err", err)
		return
	}
	ev, err := a.Ingest(ctx, payload, nil)
	if err != nil {
		a.logger.Warn("stimulus not delivered", "err", err)
		return
	}
	a.logger.Debug("stimulus injected", "flow_event", ev.ID, "batch", ev.BatchID)
}
